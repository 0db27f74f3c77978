package monitor

import "time"

// Status is the lifecycle state of a monitored session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPolling    Status = "polling"
	StatusRestarting Status = "restarting"
	StatusStopped    Status = "stopped"
)

// StopReason explains why a monitor reached StatusStopped.
type StopReason string

const (
	StopUserRequested   StopReason = "user_requested"
	StopRestartsExhaust StopReason = "restart_budget_exhausted"
	StopFatalErrors     StopReason = "fatal_errors"
	StopSessionClosed   StopReason = "session_closed"
)

// State is a point-in-time snapshot of one monitored session.
type State struct {
	SessionID         string     `json:"session_id"`
	PaneIDs           []string   `json:"pane_ids"`
	Status            Status     `json:"status"`
	StopReason        StopReason `json:"stop_reason,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	LastActivity      time.Time  `json:"last_activity"`
	PromptsDetected   int        `json:"prompts_detected"`
	AutoResponses     int        `json:"auto_responses"`
	Escalations       int        `json:"escalations"`
	Restarts          int        `json:"restarts"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
}
