package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/user/yesman/internal/monitor"
)

// startMonitorRequest's pane_id is optional: empty monitors every
// pane in the session.
type startMonitorRequest struct {
	PaneID         string `json:"pane_id,omitempty"`
	RestartCommand string `json:"restart_command,omitempty"`
	ReadyPattern   string `json:"ready_pattern,omitempty"`
}

func (h *handler) startMonitor(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req startMonitorRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := h.monitors.Start(r.Context(), sessionID, monitor.StartOptions{
		PaneID:         req.PaneID,
		RestartCommand: req.RestartCommand,
		ReadyPattern:   req.ReadyPattern,
	})
	if errors.Is(err, monitor.ErrAlreadyMonitored) {
		// Starting an already monitored session is a no-op.
		state, statusErr := h.monitors.Status(sessionID)
		if statusErr != nil {
			jsonError(w, http.StatusInternalServerError, statusErr.Error())
			return
		}
		jsonResponse(w, http.StatusOK, state)
		return
	}
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := h.monitors.Status(sessionID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusCreated, state)
}

func (h *handler) stopMonitor(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	err := h.monitors.Stop(sessionID)
	if err != nil && !errors.Is(err, monitor.ErrNotMonitored) {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Stopping an unmonitored session is a no-op.
	jsonResponse(w, http.StatusNoContent, nil)
}

func (h *handler) monitorStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	state, err := h.monitors.Status(sessionID)
	if errors.Is(err, monitor.ErrNotMonitored) {
		jsonError(w, http.StatusNotFound, "session not monitored")
		return
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, state)
}
