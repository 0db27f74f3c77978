package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/user/yesman/internal/term"
)

var paneIDRe = regexp.MustCompile(`^%\d+$`)

// runFunc executes a tmux command and returns its stdout. Swappable in
// tests.
type runFunc func(ctx context.Context, args ...string) ([]byte, error)

func execTmux(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			return nil, fmt.Errorf("tmux binary not found. Please install tmux")
		}
		return nil, &commandError{args: args, stderr: strings.TrimSpace(stderr.String()), err: err}
	}
	return stdout.Bytes(), nil
}

type commandError struct {
	args   []string
	stderr string
	err    error
}

func (e *commandError) Error() string {
	if e.stderr != "" {
		return fmt.Sprintf("tmux %s: %s", strings.Join(e.args, " "), e.stderr)
	}
	return fmt.Sprintf("tmux %s: %v", strings.Join(e.args, " "), e.err)
}

func (e *commandError) Unwrap() error { return e.err }

// Client talks to a running tmux server one command at a time. It
// implements term.Transport and term.Relauncher.
type Client struct {
	captureLines int
	run          runFunc
}

// NewClient creates a client that captures up to captureLines of pane
// history per read.
func NewClient(captureLines int) *Client {
	if captureLines <= 0 {
		captureLines = 500
	}
	return &Client{captureLines: captureLines, run: execTmux}
}

// SessionExists reports whether a tmux session with the given name is
// running.
func (c *Client) SessionExists(ctx context.Context, session string) error {
	_, err := c.run(ctx, "has-session", "-t", session)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: tmux session %q not found. Create it with: tmux new-session -s %s", term.ErrSessionNotFound, session, session)
		}
		return fmt.Errorf("failed to check tmux session: %w", err)
	}
	return nil
}

// ReadPane captures the pane's visible content plus scrollback up to
// the configured line budget.
func (c *Client) ReadPane(ctx context.Context, paneID string) (string, error) {
	if !paneIDRe.MatchString(paneID) {
		return "", fmt.Errorf("invalid pane ID format: %s", paneID)
	}
	out, err := c.run(ctx, "capture-pane", "-p", "-t", paneID, "-S", fmt.Sprintf("-%d", c.captureLines))
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: %s", term.ErrPaneNotFound, paneID)
		}
		return "", fmt.Errorf("failed to capture pane %s: %w", paneID, err)
	}
	return string(out), nil
}

// SendKeys injects keys into a pane. A trailing newline in keys is
// sent as the Enter key so prompts submit.
func (c *Client) SendKeys(ctx context.Context, paneID string, keys string) error {
	if !paneIDRe.MatchString(paneID) {
		return fmt.Errorf("invalid pane ID format: %s", paneID)
	}

	literal := strings.TrimSuffix(keys, "\n")
	enter := literal != keys || literal == ""

	if literal != "" {
		if _, err := c.run(ctx, "send-keys", "-t", paneID, "-l", literal); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: %s", term.ErrPaneNotFound, paneID)
			}
			return fmt.Errorf("failed to send keys to pane %s: %w", paneID, err)
		}
	}
	if enter {
		if _, err := c.run(ctx, "send-keys", "-t", paneID, "Enter"); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: %s", term.ErrPaneNotFound, paneID)
			}
			return fmt.Errorf("failed to send Enter to pane %s: %w", paneID, err)
		}
	}
	return nil
}

// ListPanes returns the pane IDs of all panes in a session.
func (c *Client) ListPanes(ctx context.Context, session string) ([]string, error) {
	out, err := c.run(ctx, "list-panes", "-s", "-t", session, "-F", "#{pane_id}")
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", term.ErrSessionNotFound, session)
		}
		return nil, fmt.Errorf("failed to list panes for session %s: %w", session, err)
	}

	var panes []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if paneIDRe.MatchString(line) {
			panes = append(panes, line)
		}
	}
	return panes, nil
}

// RelaunchPane kills whatever runs in the pane and restarts it with
// the given command, keeping the same pane ID.
func (c *Client) RelaunchPane(ctx context.Context, paneID string, command string) error {
	if !paneIDRe.MatchString(paneID) {
		return fmt.Errorf("invalid pane ID format: %s", paneID)
	}
	args := []string{"respawn-pane", "-k", "-t", paneID}
	if command != "" {
		args = append(args, command)
	}
	if _, err := c.run(ctx, args...); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", term.ErrPaneNotFound, paneID)
		}
		return fmt.Errorf("failed to respawn pane %s: %w", paneID, err)
	}
	return nil
}

// isNotFound matches the stderr tmux emits for missing panes, windows
// and sessions across versions ("can't find pane %7", "no such
// session", "session not found").
func isNotFound(err error) bool {
	cmdErr, ok := err.(*commandError)
	if !ok {
		return false
	}
	msg := strings.ToLower(cmdErr.stderr)
	return strings.Contains(msg, "can't find") ||
		strings.Contains(msg, "no such") ||
		strings.Contains(msg, "not found")
}
