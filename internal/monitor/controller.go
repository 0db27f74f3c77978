package monitor

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/user/yesman/internal/collector"
	"github.com/user/yesman/internal/detector"
	"github.com/user/yesman/internal/engine"
	"github.com/user/yesman/internal/learner"
	"github.com/user/yesman/internal/pattern"
	"github.com/user/yesman/internal/store"
	"github.com/user/yesman/internal/term"
)

const (
	defaultPollInterval  = 1 * time.Second
	defaultResponseDelay = 500 * time.Millisecond
	defaultCooldown      = 10 * time.Second
	defaultCallTimeout   = 5 * time.Second
	defaultRestartBudget = 3
	defaultMaxErrors     = 5
	restartBackoffBase   = 1 * time.Second
	restartReadyTimeout  = 30 * time.Second
)

// RecordStore persists decision records. *store.RecordRepo satisfies it.
type RecordStore interface {
	Create(ctx context.Context, rec *store.ResponseRecord) error
}

// Observer receives decision outcomes and serves the current weight
// table. *learner.Learner satisfies it.
type Observer interface {
	Table() *learner.Table
	ObserveDecision(promptType pattern.PromptType, token string)
}

// Notifier pushes monitor events to connected clients.
type Notifier interface {
	DecisionApplied(rec *store.ResponseRecord)
	PromptEscalated(rec *store.ResponseRecord)
	MonitorStatus(sessionID string, state State)
}

// Config wires one Controller.
type Config struct {
	SessionID string

	// PaneFilter restricts monitoring to a single pane. Empty means
	// every pane the transport lists for the session.
	PaneFilter string

	Transport  term.Transport
	Relauncher term.Relauncher
	Collector  *collector.Collector
	Detector   *detector.Detector
	Engine     *engine.Engine
	Learner    Observer
	Records    RecordStore
	Notifier   Notifier
	Logger     *slog.Logger

	PollInterval  time.Duration
	ResponseDelay time.Duration
	Cooldown      time.Duration
	// CallTimeout bounds each individual transport call so a hung read
	// or keystroke abandons the cycle instead of stalling the loop.
	CallTimeout time.Duration

	// RestartCommand relaunches the agent after its pane dies. Empty
	// disables restarts.
	RestartCommand string
	RestartBudget  int
	RestartBackoff time.Duration
	// ReadyPattern, when set, must match pane output before polling
	// resumes after a restart.
	ReadyPattern *regexp.Regexp

	MaxConsecutiveErrors int
}

// answered remembers the last prompt text handled on a pane, for
// cooldown suppression.
type answered struct {
	text string
	at   time.Time
}

// Controller drives the poll cycle for a single session: enumerate
// panes, collect output, detect prompts, decide, inject or escalate.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	state State

	lastAnswered map[string]answered

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func NewController(cfg Config) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ResponseDelay <= 0 {
		cfg.ResponseDelay = defaultResponseDelay
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.RestartBudget <= 0 {
		cfg.RestartBudget = defaultRestartBudget
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = restartBackoffBase
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = defaultMaxErrors
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", cfg.SessionID)

	state := State{
		SessionID: cfg.SessionID,
		Status:    StatusIdle,
		StartedAt: time.Now().UTC(),
	}
	if cfg.PaneFilter != "" {
		state.PaneIDs = []string{cfg.PaneFilter}
	}

	return &Controller{
		cfg:          cfg,
		logger:       logger,
		state:        state,
		lastAnswered: make(map[string]answered),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state := c.state
	state.PaneIDs = append([]string(nil), c.state.PaneIDs...)
	return state
}

// Run polls the session until ctx is cancelled or the monitor stops
// itself. Blocks; callers run it in a goroutine.
func (c *Controller) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer close(c.done)
	defer cancel()

	// Stop signals through the quit channel so it never races the
	// cancel func being installed.
	go func() {
		select {
		case <-c.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	c.setStatus(StatusPolling, "")
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.setStatus(StatusStopped, StopUserRequested)
			return
		case <-ticker.C:
			if stop := c.tick(ctx); stop {
				return
			}
		}
	}
}

// Stop cancels the run loop and waits for it to exit.
func (c *Controller) Stop() {
	c.quitOnce.Do(func() { close(c.quit) })
	<-c.done
}

// callContext bounds a single transport call.
func (c *Controller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// tick runs one poll cycle over every monitored pane, in order.
// Returns true when the monitor should stop.
func (c *Controller) tick(ctx context.Context) bool {
	panes, err := c.listPanes(ctx)
	switch {
	case errors.Is(err, term.ErrSessionNotFound):
		c.logger.Warn("session gone", "error", err)
		c.setStatus(StatusStopped, StopSessionClosed)
		return true
	case err != nil:
		if ctx.Err() != nil {
			c.setStatus(StatusStopped, StopUserRequested)
			return true
		}
		return c.countError(err)
	}
	if len(panes) == 0 {
		c.logger.Warn("session has no panes left")
		c.setStatus(StatusStopped, StopSessionClosed)
		return true
	}
	c.setPanes(panes)

	for _, paneID := range panes {
		if stop := c.pollPane(ctx, paneID); stop {
			return true
		}
	}
	return false
}

// listPanes resolves the pane set for this cycle: the explicit filter
// when one is configured, the transport's enumeration otherwise.
func (c *Controller) listPanes(ctx context.Context) ([]string, error) {
	if c.cfg.PaneFilter != "" {
		return []string{c.cfg.PaneFilter}, nil
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	panes, err := c.cfg.Transport.ListPanes(callCtx, c.cfg.SessionID)
	if err != nil {
		return nil, err
	}
	sort.Strings(panes)
	return panes, nil
}

// pollPane runs collect, detect and decide for one pane.
func (c *Controller) pollPane(ctx context.Context, paneID string) bool {
	collectCtx, cancel := c.callContext(ctx)
	delta, err := c.cfg.Collector.Collect(collectCtx, paneID)
	cancel()
	switch {
	case errors.Is(err, collector.ErrNoChange):
		c.resetErrors()
		return false
	case errors.Is(err, collector.ErrPaneGone):
		return c.paneGone(ctx, paneID)
	case err != nil:
		if ctx.Err() != nil {
			c.setStatus(StatusStopped, StopUserRequested)
			return true
		}
		return c.countError(err)
	}
	c.resetErrors()
	c.touch()

	prompt := c.cfg.Detector.Detect(delta)
	if prompt == nil {
		return false
	}

	if c.onCooldown(paneID, prompt.MatchedText) {
		return false
	}
	c.bumpDetected()

	decision, actionable := c.cfg.Engine.Decide(prompt, c.cfg.Learner.Table())
	if !actionable {
		c.logger.Debug("prompt below confidence floor",
			"pane", paneID, "type", prompt.Type, "confidence", decision.Confidence)
		return false
	}

	if decision.Auto {
		return c.autoRespond(ctx, paneID, prompt, decision)
	}
	c.escalate(ctx, paneID, prompt, decision)
	return false
}

// paneGone handles a pane that vanished mid-poll. With a restart
// command configured the pane is respawned; a single-pane monitor
// without one stops, and a session-wide monitor just drops the pane
// from the set.
func (c *Controller) paneGone(ctx context.Context, paneID string) bool {
	if c.cfg.Relauncher != nil && c.cfg.RestartCommand != "" {
		return c.recoverPane(ctx, paneID)
	}
	if c.cfg.PaneFilter != "" {
		c.logger.Warn("pane closed and restarts disabled", "pane", paneID)
		c.setStatus(StatusStopped, StopSessionClosed)
		return true
	}
	c.logger.Info("pane closed, dropping from the monitored set", "pane", paneID)
	c.cfg.Collector.Forget(paneID)
	return false
}

// autoRespond waits out the response delay, confirms the prompt is
// still on screen, then injects the token and records the decision.
func (c *Controller) autoRespond(ctx context.Context, paneID string, prompt *detector.DetectedPrompt, decision engine.Decision) bool {
	select {
	case <-ctx.Done():
		c.setStatus(StatusStopped, StopUserRequested)
		return true
	case <-time.After(c.cfg.ResponseDelay):
	}

	if !c.promptStillPresent(ctx, paneID) {
		c.logger.Debug("prompt vanished during response delay", "pane", paneID, "type", prompt.Type)
		return false
	}

	sendCtx, cancel := c.callContext(ctx)
	err := c.cfg.Transport.SendKeys(sendCtx, paneID, decision.Token+"\n")
	cancel()
	if err != nil {
		if errors.Is(err, term.ErrPaneNotFound) {
			return c.paneGone(ctx, paneID)
		}
		return c.countError(err)
	}
	c.markAnswered(paneID, prompt.MatchedText)

	rec := &store.ResponseRecord{
		SessionID:      c.cfg.SessionID,
		PaneID:         paneID,
		PromptType:     string(prompt.Type),
		MatchedText:    prompt.MatchedText,
		ChosenResponse: decision.Token,
		Confidence:     decision.Confidence,
		AutoApplied:    true,
	}
	if err := c.cfg.Records.Create(ctx, rec); err != nil {
		c.logger.Error("failed to record auto response", "error", err)
	}
	c.cfg.Learner.ObserveDecision(prompt.Type, decision.Token)
	c.bumpAuto()

	c.logger.Info("auto response applied",
		"pane", paneID, "type", prompt.Type, "response", decision.Token, "confidence", decision.Confidence)
	if c.cfg.Notifier != nil {
		c.cfg.Notifier.DecisionApplied(rec)
	}
	return false
}

// escalate records the prompt without answering it and notifies
// clients so a human can respond.
func (c *Controller) escalate(ctx context.Context, paneID string, prompt *detector.DetectedPrompt, decision engine.Decision) {
	c.markAnswered(paneID, prompt.MatchedText)

	rec := &store.ResponseRecord{
		SessionID:      c.cfg.SessionID,
		PaneID:         paneID,
		PromptType:     string(prompt.Type),
		MatchedText:    prompt.MatchedText,
		ChosenResponse: decision.Token,
		Confidence:     decision.Confidence,
		AutoApplied:    false,
	}
	if err := c.cfg.Records.Create(ctx, rec); err != nil {
		c.logger.Error("failed to record escalation", "error", err)
	}
	c.bumpEscalated()

	c.logger.Info("prompt escalated",
		"pane", paneID, "type", prompt.Type, "suggested", decision.Token, "confidence", decision.Confidence)
	if c.cfg.Notifier != nil {
		c.cfg.Notifier.PromptEscalated(rec)
	}
}

// promptStillPresent re-reads the pane and checks the content has not
// moved past the detected prompt.
func (c *Controller) promptStillPresent(ctx context.Context, paneID string) bool {
	peekCtx, cancel := c.callContext(ctx)
	defer cancel()
	hash, err := c.cfg.Collector.Peek(peekCtx, paneID)
	if err != nil {
		return false
	}
	snap, ok := c.cfg.Collector.Snapshot(paneID)
	if !ok {
		return false
	}
	return hash == snap.TextHash
}

// recoverPane relaunches the agent with exponential backoff, within
// the restart budget. Returns true when the monitor must stop.
func (c *Controller) recoverPane(ctx context.Context, paneID string) bool {
	c.setStatus(StatusRestarting, "")
	backoff := c.cfg.RestartBackoff

	for attempt := 1; attempt <= c.cfg.RestartBudget; attempt++ {
		select {
		case <-ctx.Done():
			c.setStatus(StatusStopped, StopUserRequested)
			return true
		case <-time.After(backoff):
		}
		backoff *= 2

		relaunchCtx, cancel := c.callContext(ctx)
		err := c.cfg.Relauncher.RelaunchPane(relaunchCtx, paneID, c.cfg.RestartCommand)
		cancel()
		if err != nil {
			c.logger.Warn("relaunch failed", "pane", paneID, "attempt", attempt, "error", err)
			continue
		}

		c.cfg.Collector.Forget(paneID)
		if !c.awaitReady(ctx, paneID) {
			c.logger.Warn("relaunched pane never became ready", "pane", paneID, "attempt", attempt)
			continue
		}

		c.bumpRestarts()
		c.logger.Info("pane relaunched", "pane", paneID, "attempt", attempt)
		c.setStatus(StatusPolling, "")
		return false
	}

	c.logger.Error("restart budget exhausted", "pane", paneID, "budget", c.cfg.RestartBudget)
	c.setStatus(StatusStopped, StopRestartsExhaust)
	return true
}

// awaitReady waits until the relaunched pane produces output, and the
// ready pattern if one is configured.
func (c *Controller) awaitReady(ctx context.Context, paneID string) bool {
	deadline := time.Now().Add(restartReadyTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.cfg.PollInterval):
		}

		readCtx, cancel := c.callContext(ctx)
		raw, err := c.cfg.Transport.ReadPane(readCtx, paneID)
		cancel()
		if err != nil {
			continue
		}
		if c.cfg.ReadyPattern == nil {
			return raw != ""
		}
		if c.cfg.ReadyPattern.MatchString(raw) {
			return true
		}
	}
	return false
}

func (c *Controller) countError(err error) bool {
	c.mu.Lock()
	c.state.ConsecutiveErrors++
	n := c.state.ConsecutiveErrors
	c.mu.Unlock()

	c.logger.Warn("poll cycle error", "error", err, "consecutive", n)
	if n >= c.cfg.MaxConsecutiveErrors {
		c.logger.Error("too many consecutive errors, stopping monitor")
		c.setStatus(StatusStopped, StopFatalErrors)
		return true
	}
	return false
}

func (c *Controller) resetErrors() {
	c.mu.Lock()
	c.state.ConsecutiveErrors = 0
	c.mu.Unlock()
}

// onCooldown suppresses re-answering the same prompt text shortly
// after it was handled on the same pane; covers redraws that shift the
// content hash without changing the prompt.
func (c *Controller) onCooldown(paneID, matchedText string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	last, ok := c.lastAnswered[paneID]
	return ok && last.text == matchedText && time.Since(last.at) < c.cfg.Cooldown
}

func (c *Controller) markAnswered(paneID, matchedText string) {
	c.mu.Lock()
	c.lastAnswered[paneID] = answered{text: matchedText, at: time.Now()}
	c.mu.Unlock()
}

func (c *Controller) setPanes(panes []string) {
	c.mu.Lock()
	c.state.PaneIDs = append(c.state.PaneIDs[:0], panes...)
	c.mu.Unlock()
}

func (c *Controller) touch() {
	c.mu.Lock()
	c.state.LastActivity = time.Now().UTC()
	c.mu.Unlock()
}

func (c *Controller) bumpDetected() {
	c.mu.Lock()
	c.state.PromptsDetected++
	c.mu.Unlock()
}

func (c *Controller) bumpAuto() {
	c.mu.Lock()
	c.state.AutoResponses++
	c.mu.Unlock()
}

func (c *Controller) bumpEscalated() {
	c.mu.Lock()
	c.state.Escalations++
	c.mu.Unlock()
}

func (c *Controller) bumpRestarts() {
	c.mu.Lock()
	c.state.Restarts++
	c.mu.Unlock()
}

func (c *Controller) setStatus(status Status, reason StopReason) {
	c.mu.Lock()
	c.state.Status = status
	c.state.StopReason = reason
	snapshot := c.state
	snapshot.PaneIDs = append([]string(nil), c.state.PaneIDs...)
	c.mu.Unlock()

	if c.cfg.Notifier != nil {
		c.cfg.Notifier.MonitorStatus(c.cfg.SessionID, snapshot)
	}
}
