package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/yesman/internal/collector"
	"github.com/user/yesman/internal/detector"
	"github.com/user/yesman/internal/engine"
)

func testManager(t *testing.T) (*Manager, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	transport.setText("%1", "$ ")
	m := NewManager(context.Background(), Deps{
		Transport:    transport,
		Relauncher:   transport,
		Collector:    collector.New(transport, 100),
		Detector:     detector.New(testRegistry(t), 0),
		Engine:       engine.New(0.85, 0.5, nil),
		Learner:      &fakeObserver{},
		Records:      &fakeRecords{},
		Notifier:     &fakeNotifier{},
		PollInterval: time.Millisecond,
	})
	t.Cleanup(m.Shutdown)
	return m, transport
}

func TestManagerStartIsExclusive(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	if err := m.Start(ctx, "sess-1", StartOptions{PaneID: "%1"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(ctx, "sess-1", StartOptions{PaneID: "%1"}); !errors.Is(err, ErrAlreadyMonitored) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyMonitored", err)
	}
	if err := m.Start(ctx, "sess-2", StartOptions{PaneID: "%2"}); err != nil {
		t.Fatalf("Start() for second session error = %v", err)
	}
}

func TestManagerStartValidation(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	if err := m.Start(ctx, "", StartOptions{PaneID: "%1"}); err == nil {
		t.Error("Start() accepted empty session ID")
	}
	if err := m.Start(ctx, "sess-1", StartOptions{PaneID: "%1", ReadyPattern: "("}); err == nil {
		t.Error("Start() accepted invalid ready pattern")
	}
}

func TestManagerStartWithoutPaneMonitorsWholeSession(t *testing.T) {
	m, transport := testManager(t)
	transport.setPanes("%1", "%2")
	transport.setText("%2", "$ ")

	if err := m.Start(context.Background(), "sess-1", StartOptions{}); err != nil {
		t.Fatalf("Start() without pane error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state, err := m.Status("sess-1")
		if err == nil && len(state.PaneIDs) == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	state, _ := m.Status("sess-1")
	t.Fatalf("monitor never picked up the session's panes: %+v", state)
}

// A monitor started from a short-lived request context must keep
// running after that context is cancelled.
func TestManagerStartOutlivesCallerContext(t *testing.T) {
	m, _ := testManager(t)

	reqCtx, cancel := context.WithCancel(context.Background())
	if err := m.Start(reqCtx, "sess-1", StartOptions{PaneID: "%1"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	time.Sleep(50 * time.Millisecond)
	state, err := m.Status("sess-1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if state.Status == StatusStopped {
		t.Fatalf("monitor died with the request context: %+v", state)
	}
}

func TestManagerStopAndStatus(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	if err := m.Start(ctx, "sess-1", StartOptions{PaneID: "%1"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	state, err := m.Status("sess-1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if state.SessionID != "sess-1" || len(state.PaneIDs) != 1 || state.PaneIDs[0] != "%1" {
		t.Errorf("state = %+v", state)
	}

	if err := m.Stop("sess-1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// The terminal state stays queryable, with the stop attributed to
	// the user.
	state, err = m.Status("sess-1")
	if err != nil {
		t.Fatalf("Status() after stop error = %v", err)
	}
	if state.Status != StatusStopped || state.StopReason != StopUserRequested {
		t.Errorf("state after stop = %+v, want stopped/user_requested", state)
	}

	if err := m.Stop("sess-1"); err != nil {
		t.Errorf("second Stop() error = %v, want nil", err)
	}
	if err := m.Stop("sess-9"); !errors.Is(err, ErrNotMonitored) {
		t.Errorf("Stop() of unknown session error = %v, want ErrNotMonitored", err)
	}
}

func TestManagerStatesSorted(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if err := m.Start(ctx, id, StartOptions{PaneID: "%1"}); err != nil {
			t.Fatalf("Start(%s) error = %v", id, err)
		}
	}

	states := m.States()
	if len(states) != 3 {
		t.Fatalf("States() = %d entries, want 3", len(states))
	}
	want := []string{"alpha", "bravo", "charlie"}
	for i, id := range want {
		if states[i].SessionID != id {
			t.Errorf("states[%d] = %s, want %s", i, states[i].SessionID, id)
		}
	}
}

func TestManagerReplacesStoppedMonitor(t *testing.T) {
	m, transport := testManager(t)
	ctx := context.Background()

	transport.setReadErr(errors.New("wedged"))
	deps := m.deps
	deps.MaxConsecutiveErrors = 1
	m.deps = deps

	if err := m.Start(ctx, "sess-1", StartOptions{PaneID: "%1"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state, err := m.Status("sess-1")
		if err == nil && state.Status == StatusStopped {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	state, err := m.Status("sess-1")
	if err != nil || state.Status != StatusStopped {
		t.Fatalf("monitor never stopped: state=%+v err=%v", state, err)
	}

	transport.setReadErr(nil)
	if err := m.Start(ctx, "sess-1", StartOptions{PaneID: "%1"}); err != nil {
		t.Fatalf("Start() over stopped monitor error = %v", err)
	}
}
