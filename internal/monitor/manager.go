package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/user/yesman/internal/collector"
	"github.com/user/yesman/internal/detector"
	"github.com/user/yesman/internal/engine"
	"github.com/user/yesman/internal/term"
)

var (
	ErrAlreadyMonitored = errors.New("monitor: session already monitored")
	ErrNotMonitored     = errors.New("monitor: session not monitored")
)

// StartOptions carries the per-session knobs a caller may set when
// starting a monitor. PaneID restricts monitoring to one pane; empty
// monitors every pane in the session.
type StartOptions struct {
	PaneID         string
	RestartCommand string
	ReadyPattern   string
}

// Deps are the shared components every controller uses.
type Deps struct {
	Transport  term.Transport
	Relauncher term.Relauncher
	Collector  *collector.Collector
	Detector   *detector.Detector
	Engine     *engine.Engine
	Learner    Observer
	Records    RecordStore
	Notifier   Notifier
	Logger     *slog.Logger

	PollInterval         time.Duration
	ResponseDelay        time.Duration
	Cooldown             time.Duration
	CallTimeout          time.Duration
	RestartBudget        int
	MaxConsecutiveErrors int
}

type running struct {
	controller *Controller
	cancel     context.CancelFunc
}

// Manager owns the set of controllers, one per session. Stopped
// monitors stay registered so their terminal state remains queryable
// until a new Start replaces them.
type Manager struct {
	base   context.Context
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*running
}

// NewManager creates a manager whose monitors live until base is
// cancelled. Start's own context only bounds the start call itself.
func NewManager(base context.Context, deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		base:     base,
		deps:     deps,
		logger:   logger,
		sessions: make(map[string]*running),
	}
}

// Start launches a monitor for the session. Starting an already
// monitored session returns ErrAlreadyMonitored; a stopped monitor is
// replaced.
func (m *Manager) Start(_ context.Context, sessionID string, opts StartOptions) error {
	if sessionID == "" {
		return fmt.Errorf("monitor: session ID required")
	}

	var ready *regexp.Regexp
	if opts.ReadyPattern != "" {
		var err error
		ready, err = regexp.Compile(opts.ReadyPattern)
		if err != nil {
			return fmt.Errorf("monitor: invalid ready pattern: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[sessionID]; ok {
		if existing.controller.State().Status != StatusStopped {
			return ErrAlreadyMonitored
		}
		delete(m.sessions, sessionID)
	}

	controller := NewController(Config{
		SessionID:            sessionID,
		PaneFilter:           opts.PaneID,
		Transport:            m.deps.Transport,
		Relauncher:           m.deps.Relauncher,
		Collector:            m.deps.Collector,
		Detector:             m.deps.Detector,
		Engine:               m.deps.Engine,
		Learner:              m.deps.Learner,
		Records:              m.deps.Records,
		Notifier:             m.deps.Notifier,
		Logger:               m.logger,
		PollInterval:         m.deps.PollInterval,
		ResponseDelay:        m.deps.ResponseDelay,
		Cooldown:             m.deps.Cooldown,
		CallTimeout:          m.deps.CallTimeout,
		RestartCommand:       opts.RestartCommand,
		RestartBudget:        m.deps.RestartBudget,
		ReadyPattern:         ready,
		MaxConsecutiveErrors: m.deps.MaxConsecutiveErrors,
	})

	// The monitor outlives the start request: its context parents the
	// manager's base, never the caller's.
	runCtx, cancel := context.WithCancel(m.base)
	m.sessions[sessionID] = &running{controller: controller, cancel: cancel}
	go controller.Run(runCtx)

	m.logger.Info("monitor started", "session", sessionID, "pane", opts.PaneID)
	return nil
}

// Stop cancels the session's monitor and waits for it to exit. The
// terminal state stays queryable via Status. Stopping an already
// stopped monitor is a no-op.
func (m *Manager) Stop(sessionID string) error {
	m.mu.Lock()
	r, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok {
		return ErrNotMonitored
	}
	r.cancel()
	r.controller.Stop()
	m.logger.Info("monitor stopped", "session", sessionID)
	return nil
}

// Status returns the state of one monitored session.
func (m *Manager) Status(sessionID string) (State, error) {
	m.mu.Lock()
	r, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return State{}, ErrNotMonitored
	}
	return r.controller.State(), nil
}

// States returns snapshots of all monitors, ordered by session ID.
func (m *Manager) States() []State {
	m.mu.Lock()
	states := make([]State, 0, len(m.sessions))
	for _, r := range m.sessions {
		states = append(states, r.controller.State())
	}
	m.mu.Unlock()

	sort.Slice(states, func(i, j int) bool {
		return states[i].SessionID < states[j].SessionID
	})
	return states
}

// Shutdown stops every monitor.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	rs := make([]*running, 0, len(m.sessions))
	for id, r := range m.sessions {
		rs = append(rs, r)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, r := range rs {
		r.cancel()
		r.controller.Stop()
	}
}
