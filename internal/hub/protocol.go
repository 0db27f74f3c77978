package hub

import (
	"github.com/user/yesman/internal/monitor"
	"github.com/user/yesman/internal/store"
)

// Server -> client messages. Every message carries a type tag so
// clients can dispatch without inspecting the payload.

type DecisionMessage struct {
	Type   string                `json:"type"` // "decision"
	Record *store.ResponseRecord `json:"record"`
}

type EscalationMessage struct {
	Type   string                `json:"type"` // "escalation"
	Record *store.ResponseRecord `json:"record"`
}

type MonitorMessage struct {
	Type  string        `json:"type"` // "monitor_status"
	State monitor.State `json:"state"`
}

type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// ClientMessage is the envelope for everything a client sends.
// RecordID ties a respond message back to the escalation record it
// answers, so the learner can credit the human's choice.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	PaneID    string `json:"pane_id,omitempty"`
	Keys      string `json:"keys,omitempty"`
	RecordID  string `json:"record_id,omitempty"`
}
