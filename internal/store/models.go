package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResponseWeight is one row of the learned weight table: how reliable a
// response token has been for a prompt type. Weight stays in [0,1];
// SampleCount only grows.
type ResponseWeight struct {
	PromptType    string    `json:"prompt_type"`
	ResponseToken string    `json:"response_token"`
	Weight        float64   `json:"weight"`
	Successes     int       `json:"successes"`
	SampleCount   int       `json:"sample_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ResponseRecord is one append-only entry of the decision log. Everything is
// immutable after creation except HumanOverride/OverriddenAt, settable once
// and only within the override grace window.
type ResponseRecord struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	PaneID         string    `json:"pane_id"`
	PromptType     string    `json:"prompt_type"`
	MatchedText    string    `json:"matched_text"`
	ChosenResponse string    `json:"chosen_response"`
	Confidence     float64   `json:"confidence"`
	AutoApplied    bool      `json:"auto_applied"`
	HumanOverride  string    `json:"human_override,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	OverriddenAt   time.Time `json:"overridden_at,omitempty"`
}

func NewID() string {
	return uuid.NewString()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
