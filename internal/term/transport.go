package term

import (
	"context"
	"errors"
)

// ErrPaneNotFound indicates the target pane no longer exists. Callers treat
// this as a state transition (the monitored process exited), not a failure.
var ErrPaneNotFound = errors.New("term: pane not found")

// ErrSessionNotFound indicates the enclosing session itself is gone.
var ErrSessionNotFound = errors.New("term: session not found")

// Transport abstracts the terminal runtime (tmux or a direct PTY).
type Transport interface {
	// ReadPane returns the visible contents of a pane, bounded to the
	// transport's capture window. Returns ErrPaneNotFound if the pane is gone.
	ReadPane(ctx context.Context, paneID string) (string, error)

	// SendKeys injects literal keystrokes into a pane. Fire-and-forget: there
	// is no acknowledgement that the downstream process consumed them.
	SendKeys(ctx context.Context, paneID string, keys string) error

	// ListPanes enumerates pane IDs belonging to a session. Returns
	// ErrSessionNotFound if the session is gone.
	ListPanes(ctx context.Context, sessionID string) ([]string, error)
}

// Relauncher restarts the monitored command inside an existing pane slot.
// Transports that can respawn a dead pane implement this in addition to
// Transport.
type Relauncher interface {
	RelaunchPane(ctx context.Context, paneID string, command string) error
}
