package detector

import (
	"strings"
	"testing"

	"github.com/user/yesman/internal/collector"
	"github.com/user/yesman/internal/pattern"
)

func testRegistry(t *testing.T) *pattern.Registry {
	t.Helper()
	reg, err := pattern.NewRegistry(
		&pattern.Set{
			Type:           pattern.TypeTrustConfirm,
			BaseConfidence: 0.95,
			Rules: []pattern.Rule{
				{Pattern: `(?i)do you trust the files in this (folder|directory)\?`, Response: "1"},
			},
		},
		&pattern.Set{
			Type:           pattern.TypeYesNo,
			BaseConfidence: 0.9,
			Rules: []pattern.Rule{
				{Pattern: `(?i)\(y/n\)`, Response: "y"},
				{Pattern: `\[Y/n\]`, Response: "y"},
			},
		},
		&pattern.Set{
			Type:           pattern.TypeBinaryChoice,
			BaseConfidence: 0.8,
			Rules: []pattern.Rule{
				{Pattern: `\[1/2\]`, Response: "1"},
			},
		},
		&pattern.Set{
			Type:           pattern.TypeNumberedChoice,
			BaseConfidence: 0.85,
			Rules: []pattern.Rule{
				{Pattern: `(?:^|\n)\s*❯?\s*1[\.\)]\s+[^\n]+\n\s*❯?\s*2[\.\)]\s+[^\n]+`, Response: "1"},
			},
		},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func delta(text string) *collector.ContentDelta {
	return &collector.ContentDelta{PaneID: "%1", NewText: text, FullText: text}
}

func TestDetectYesNoPromptAtTail(t *testing.T) {
	d := New(testRegistry(t), 0)

	p := d.Detect(delta("building project...\nDo you want to proceed? (y/n)"))
	if p == nil {
		t.Fatal("Detect() = nil, want yes_no prompt")
	}
	if p.Type != pattern.TypeYesNo {
		t.Errorf("Type = %q, want yes_no", p.Type)
	}
	if p.CandidateResponse != "y" {
		t.Errorf("CandidateResponse = %q, want y", p.CandidateResponse)
	}
	if p.RawConfidence != 0.9 {
		t.Errorf("RawConfidence = %v, want 0.9 (end-anchored)", p.RawConfidence)
	}
}

func TestDetectNumberedChoice(t *testing.T) {
	d := New(testRegistry(t), 0)

	p := d.Detect(delta("Select the action:\n❯ 1. Apply the edit\n  2. Skip this file"))
	if p == nil {
		t.Fatal("Detect() = nil, want numbered_choice prompt")
	}
	if p.Type != pattern.TypeNumberedChoice {
		t.Errorf("Type = %q, want numbered_choice", p.Type)
	}
	if p.CandidateResponse != "1" {
		t.Errorf("CandidateResponse = %q, want 1", p.CandidateResponse)
	}
}

func TestDetectTrustOutranksYesNoOnOverlap(t *testing.T) {
	d := New(testRegistry(t), 0)

	// Both the trust rule and the yes/no rule match; trust has both the
	// higher base confidence and the higher tie-break priority.
	p := d.Detect(delta("Do you trust the files in this folder? (y/n)"))
	if p == nil {
		t.Fatal("Detect() = nil, want trust_confirm prompt")
	}
	if p.Type != pattern.TypeTrustConfirm {
		t.Errorf("Type = %q, want trust_confirm", p.Type)
	}
}

func TestDetectTiePriorityOrder(t *testing.T) {
	reg, err := pattern.NewRegistry(
		&pattern.Set{
			Type:           pattern.TypeYesNo,
			BaseConfidence: 0.8,
			Rules:          []pattern.Rule{{Pattern: `confirm\?`, Response: "y"}},
		},
		&pattern.Set{
			Type:           pattern.TypeBinaryChoice,
			BaseConfidence: 0.8,
			Rules:          []pattern.Rule{{Pattern: `confirm\?`, Response: "1"}},
		},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	d := New(reg, 0)

	p := d.Detect(delta("confirm?"))
	if p == nil {
		t.Fatal("Detect() = nil")
	}
	if p.Type != pattern.TypeYesNo {
		t.Errorf("exact tie broke to %q, want yes_no", p.Type)
	}
}

func TestDetectConfidenceFloorSuppressesDeepMatches(t *testing.T) {
	d := New(testRegistry(t), 0.75)

	// A (y/n) buried far up in the scrollback should not clear the floor.
	text := "Do you want to proceed? (y/n)\n" + strings.Repeat("log line of filler output here\n", 200) + "done."
	if p := d.Detect(delta(text)); p != nil {
		t.Fatalf("Detect() = %+v, want nil for deep scrollback match", p)
	}
}

func TestDetectFallsBackToFullBufferTail(t *testing.T) {
	d := New(testRegistry(t), 0)

	// The redraw produced a delta without the prompt, but the prompt is
	// still on screen at the tail of the full buffer.
	dl := &collector.ContentDelta{
		PaneID:   "%1",
		NewText:  "spinner frame",
		FullText: "earlier output\nDo you want to proceed? (y/n)",
	}
	p := d.Detect(dl)
	if p == nil {
		t.Fatal("Detect() = nil, want prompt from full-buffer tail")
	}
	if p.Type != pattern.TypeYesNo {
		t.Errorf("Type = %q, want yes_no", p.Type)
	}
	if p.PaneID != "%1" {
		t.Errorf("PaneID = %q", p.PaneID)
	}
}

func TestDetectNoMatchReturnsNil(t *testing.T) {
	d := New(testRegistry(t), 0)

	if p := d.Detect(delta("compiling 34 packages...")); p != nil {
		t.Fatalf("Detect() = %+v, want nil", p)
	}
	if p := d.Detect(delta("   ")); p != nil {
		t.Fatalf("Detect() on blank text = %+v, want nil", p)
	}
	if p := d.Detect(nil); p != nil {
		t.Fatalf("Detect(nil) = %+v, want nil", p)
	}
}

func TestMatchQuality(t *testing.T) {
	text := strings.Repeat("a", 1000)

	if q := matchQuality(text, len(text)); q != 1.0 {
		t.Errorf("quality at tail = %v, want 1.0", q)
	}
	if q := matchQuality(text, len(text)-endAnchorSlack); q != 1.0 {
		t.Errorf("quality within slack = %v, want 1.0", q)
	}
	mid := matchQuality(text, 500)
	if mid >= 1.0 || mid < minMatchQuality {
		t.Errorf("quality mid-buffer = %v, want within [%v, 1.0)", mid, minMatchQuality)
	}
	if q := matchQuality(text, 0); q != minMatchQuality {
		t.Errorf("quality at head = %v, want clamped to %v", q, minMatchQuality)
	}
}
