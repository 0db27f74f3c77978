// Package pty runs agent processes directly inside pseudo-terminals,
// for operating without a tmux server. Each spawned process is exposed
// through the same transport surface a tmux pane would be.
package pty

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	creackpty "github.com/creack/pty"
	"github.com/kballard/go-shellquote"

	"github.com/user/yesman/internal/term"
)

const (
	defaultCols = 120
	defaultRows = 30

	// outputRingSize bounds how much trailing output each process
	// retains for reads. Prompts appear at the tail, so a modest
	// window is enough.
	outputRingSize = 256 * 1024
)

// proc is one child process running inside a PTY.
type proc struct {
	paneID  string
	command string
	cmd     *exec.Cmd
	ptmx    *os.File

	mu     sync.Mutex
	ring   []byte
	closed bool

	closeOnce sync.Once
}

// Runner spawns and tracks PTY-backed processes. It implements
// term.Transport and term.Relauncher, so monitors treat a spawned
// process exactly like a tmux pane.
type Runner struct {
	mu    sync.Mutex
	procs map[string]*proc
	next  int
}

// NewRunner creates an empty runner.
func NewRunner() *Runner {
	return &Runner{procs: make(map[string]*proc)}
}

// Spawn starts command inside a new PTY and returns the pane ID
// assigned to it. The command is split with shell quoting rules.
func (r *Runner) Spawn(command string, workDir string) (string, error) {
	argv, err := shellquote.Split(command)
	if err != nil {
		return "", fmt.Errorf("failed to parse command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command")
	}

	r.mu.Lock()
	paneID := fmt.Sprintf("%%%d", r.next)
	r.next++
	r.mu.Unlock()

	p, err := startProc(paneID, command, argv, workDir)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.procs[paneID] = p
	r.mu.Unlock()
	return paneID, nil
}

func startProc(paneID, command string, argv []string, workDir string) (*proc, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workDir

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Cols: defaultCols,
		Rows: defaultRows,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %q in pty: %w", argv[0], err)
	}

	p := &proc{
		paneID:  paneID,
		command: command,
		cmd:     cmd,
		ptmx:    ptmx,
	}
	go p.readPump()
	go p.waitExit()
	return p, nil
}

// readPump drains the PTY into the ring buffer until the fd closes.
func (p *proc) readPump() {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			p.append(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (p *proc) append(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ring = append(p.ring, data...)
	if over := len(p.ring) - outputRingSize; over > 0 {
		p.ring = p.ring[over:]
	}
}

func (p *proc) waitExit() {
	_ = p.cmd.Wait()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *proc) tail() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.ring), p.closed
}

func (p *proc) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return term.ErrPaneNotFound
	}
	_, err := p.ptmx.Write(data)
	return err
}

func (p *proc) close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
		}
		_ = p.ptmx.Close()
	})
}

// ReadPane returns the retained output of the process. A process that
// has exited reports term.ErrPaneNotFound so the monitor's restart
// path engages.
func (r *Runner) ReadPane(_ context.Context, paneID string) (string, error) {
	p, ok := r.lookup(paneID)
	if !ok {
		return "", fmt.Errorf("%w: %s", term.ErrPaneNotFound, paneID)
	}
	out, closed := p.tail()
	if closed {
		return "", fmt.Errorf("%w: %s exited", term.ErrPaneNotFound, paneID)
	}
	return out, nil
}

// SendKeys writes keys to the process's stdin via the PTY.
func (r *Runner) SendKeys(_ context.Context, paneID string, keys string) error {
	p, ok := r.lookup(paneID)
	if !ok {
		return fmt.Errorf("%w: %s", term.ErrPaneNotFound, paneID)
	}
	if err := p.write([]byte(keys)); err != nil {
		return fmt.Errorf("failed to write to pane %s: %w", paneID, err)
	}
	return nil
}

// ListPanes returns all live pane IDs; the session argument is ignored
// because a runner hosts a single logical session.
func (r *Runner) ListPanes(context.Context, string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var panes []string
	for id, p := range r.procs {
		if _, closed := p.tail(); !closed {
			panes = append(panes, id)
		}
	}
	return panes, nil
}

// RelaunchPane restarts the pane's original command (or the given one)
// under the same pane ID, discarding retained output.
func (r *Runner) RelaunchPane(_ context.Context, paneID string, command string) error {
	p, ok := r.lookup(paneID)
	if !ok {
		return fmt.Errorf("%w: %s", term.ErrPaneNotFound, paneID)
	}
	p.close()

	if command == "" {
		command = p.command
	}
	argv, err := shellquote.Split(command)
	if err != nil {
		return fmt.Errorf("failed to parse command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}

	fresh, err := startProc(paneID, command, argv, p.cmd.Dir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.procs[paneID] = fresh
	r.mu.Unlock()
	return nil
}

// Close terminates every tracked process.
func (r *Runner) Close() {
	r.mu.Lock()
	procs := make([]*proc, 0, len(r.procs))
	for _, p := range r.procs {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	for _, p := range procs {
		p.close()
	}
}

func (r *Runner) lookup(paneID string) (*proc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[paneID]
	return p, ok
}
