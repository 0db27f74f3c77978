// Package api exposes the REST surface: monitor lifecycle, decision
// history, overrides, and weight telemetry.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/yesman/internal/monitor"
	"github.com/user/yesman/internal/pattern"
	"github.com/user/yesman/internal/store"
)

// Monitors is the monitor manager surface the handlers need.
// *monitor.Manager satisfies it.
type Monitors interface {
	Start(ctx context.Context, sessionID string, opts monitor.StartOptions) error
	Stop(sessionID string) error
	Status(sessionID string) (monitor.State, error)
}

// Records is the decision-record surface. *store.RecordRepo satisfies it.
type Records interface {
	ListRecent(ctx context.Context, sessionID string, limit int) ([]*store.ResponseRecord, error)
	Override(ctx context.Context, id, token string, graceWindow time.Duration) (*store.ResponseRecord, error)
}

// Weights lists the persisted weight table. *store.WeightRepo satisfies it.
type Weights interface {
	ListWeights(ctx context.Context) ([]*store.ResponseWeight, error)
}

// OverrideObserver feeds human overrides back into learning.
// *learner.Learner satisfies it.
type OverrideObserver interface {
	ObserveOverride(promptType pattern.PromptType, autoToken, humanToken string)
}

type handler struct {
	monitors    Monitors
	records     Records
	weights     Weights
	observer    OverrideObserver
	graceWindow time.Duration
}

func NewRouter(monitors Monitors, records Records, weights Weights, observer OverrideObserver, graceWindow time.Duration, token string) http.Handler {
	h := &handler{
		monitors:    monitors,
		records:     records,
		weights:     weights,
		observer:    observer,
		graceWindow: graceWindow,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions/{id}/monitor", h.startMonitor)
	mux.HandleFunc("DELETE /api/sessions/{id}/monitor", h.stopMonitor)
	mux.HandleFunc("GET /api/sessions/{id}/status", h.monitorStatus)
	mux.HandleFunc("GET /api/sessions/{id}/decisions", h.listDecisions)
	mux.HandleFunc("POST /api/decisions/{id}/override", h.overrideDecision)
	mux.HandleFunc("GET /api/weights", h.listWeights)

	return authMiddleware(token)(jsonMiddleware(corsMiddleware(mux)))
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if strings.TrimSpace(authHeader[7:]) == token {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.URL.Query().Get("token") == token {
				next.ServeHTTP(w, r)
				return
			}

			jsonError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}
