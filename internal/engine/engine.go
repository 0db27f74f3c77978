package engine

import (
	"github.com/user/yesman/internal/detector"
	"github.com/user/yesman/internal/learner"
	"github.com/user/yesman/internal/pattern"
)

const (
	defaultAutoThreshold = 0.85
	defaultEscalateFloor = 0.5
)

// Decision is the engine's verdict on a detected prompt. Auto means the
// token is injected immediately; otherwise the prompt is surfaced to a human
// and no keystrokes are sent.
type Decision struct {
	Token      string
	Auto       bool
	Confidence float64
}

// Engine combines the detector's raw confidence with the learned weight
// table. It holds no mutable state: the weight table snapshot is passed in
// per decision so concurrent sessions never contend.
type Engine struct {
	autoThreshold float64
	escalateFloor float64
	defaults      map[pattern.PromptType]string
}

// New creates an engine with the given thresholds. defaults maps a prompt
// type to the token used when a pattern rule captured none; it may be nil.
func New(autoThreshold, escalateFloor float64, defaults map[pattern.PromptType]string) *Engine {
	if autoThreshold <= 0 || autoThreshold > 1 {
		autoThreshold = defaultAutoThreshold
	}
	if escalateFloor <= 0 || escalateFloor >= autoThreshold {
		escalateFloor = defaultEscalateFloor
	}
	return &Engine{
		autoThreshold: autoThreshold,
		escalateFloor: escalateFloor,
		defaults:      defaults,
	}
}

// Decide computes the final confidence for a prompt. The second return is
// false when the combined confidence falls below the escalation band: the
// prompt is then treated exactly as if the detector had found nothing.
func (e *Engine) Decide(p *detector.DetectedPrompt, weights *learner.Table) (Decision, bool) {
	if p == nil {
		return Decision{}, false
	}

	token := p.CandidateResponse
	if token == "" {
		token = e.defaults[p.Type]
	}
	if token == "" {
		// Nothing sensible to answer with; surface it.
		return Decision{Token: "", Auto: false, Confidence: p.RawConfidence}, p.RawConfidence >= e.escalateFloor
	}

	confidence := clamp01(p.RawConfidence * weights.Weight(p.Type, token))

	switch {
	case confidence >= e.autoThreshold:
		return Decision{Token: token, Auto: true, Confidence: confidence}, true
	case confidence >= e.escalateFloor:
		return Decision{Token: token, Auto: false, Confidence: confidence}, true
	default:
		return Decision{}, false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
