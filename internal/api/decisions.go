package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/user/yesman/internal/pattern"
	"github.com/user/yesman/internal/store"
)

type overrideRequest struct {
	Response string `json:"response"`
}

func (h *handler) listDecisions(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			jsonError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.records.ListRecent(r.Context(), sessionID, limit)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []*store.ResponseRecord{}
	}
	jsonResponse(w, http.StatusOK, records)
}

func (h *handler) overrideDecision(w http.ResponseWriter, r *http.Request) {
	recordID := r.PathValue("id")

	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Response == "" {
		jsonError(w, http.StatusBadRequest, "response is required")
		return
	}

	rec, err := h.records.Override(r.Context(), recordID, req.Response, h.graceWindow)
	if err != nil {
		status, msg := mapOverrideError(err)
		jsonError(w, status, msg)
		return
	}

	if h.observer != nil {
		h.observer.ObserveOverride(pattern.PromptType(rec.PromptType), rec.ChosenResponse, rec.HumanOverride)
	}
	jsonResponse(w, http.StatusOK, rec)
}

func mapOverrideError(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrRecordNotFound):
		return http.StatusNotFound, "decision record not found"
	case errors.Is(err, store.ErrAlreadyOverridden):
		return http.StatusConflict, "decision already overridden"
	case errors.Is(err, store.ErrOverrideWindowClosed):
		return http.StatusGone, "override window closed"
	case errors.Is(err, store.ErrNotAutoApplied):
		return http.StatusConflict, "decision was not auto-applied"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
