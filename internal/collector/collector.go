package collector

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/user/yesman/internal/term"
)

const defaultCaptureLines = 500

// ErrNoChange signals that the pane buffer is byte-for-byte (after
// normalization) identical to the previous poll. No downstream work happens.
var ErrNoChange = errors.New("collector: no change")

// ErrPaneGone signals that the pane no longer exists. The monitor loop
// treats this as a state transition, not a crash.
var ErrPaneGone = errors.New("collector: pane gone")

// Collector polls panes through a transport, diffs each capture against the
// previous snapshot, and emits only newly-appeared text.
type Collector struct {
	transport term.Transport
	lines     int

	mu        sync.Mutex
	snapshots map[string]PaneSnapshot
}

// New creates a collector capturing up to lines of visible buffer per poll.
func New(transport term.Transport, lines int) *Collector {
	if lines <= 0 {
		lines = defaultCaptureLines
	}
	return &Collector{
		transport: transport,
		lines:     lines,
		snapshots: make(map[string]PaneSnapshot),
	}
}

// Collect reads the pane's visible buffer and returns the delta since the
// previous poll. Returns ErrNoChange when the normalized content hash is
// unchanged, and ErrPaneGone when the pane has disappeared.
func (c *Collector) Collect(ctx context.Context, paneID string) (*ContentDelta, error) {
	raw, err := c.transport.ReadPane(ctx, paneID)
	if err != nil {
		if errors.Is(err, term.ErrPaneNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPaneGone, paneID)
		}
		return nil, fmt.Errorf("read pane %q: %w", paneID, err)
	}

	text := Normalize(raw, c.lines)
	hash := hashText(text)

	c.mu.Lock()
	prev, hadPrev := c.snapshots[paneID]
	if hadPrev && prev.TextHash == hash {
		c.mu.Unlock()
		return nil, ErrNoChange
	}
	c.snapshots[paneID] = PaneSnapshot{
		PaneID:     paneID,
		CapturedAt: time.Now().UTC(),
		Text:       text,
		TextHash:   hash,
	}
	c.mu.Unlock()

	newText := text
	if hadPrev {
		if overlap := suffixPrefixOverlap(prev.Text, text); overlap > 0 {
			newText = text[overlap:]
		}
		// overlap == 0 on a full redraw or screen clear: the entire
		// buffer counts as new.
	}

	return &ContentDelta{
		PaneID:       paneID,
		NewText:      newText,
		FullText:     text,
		PreviousHash: prev.TextHash,
		CurrentHash:  hash,
	}, nil
}

// Peek returns the pane's current normalized content hash without
// recording a snapshot, so a later Collect still reports the delta.
func (c *Collector) Peek(ctx context.Context, paneID string) (uint64, error) {
	raw, err := c.transport.ReadPane(ctx, paneID)
	if err != nil {
		if errors.Is(err, term.ErrPaneNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrPaneGone, paneID)
		}
		return 0, fmt.Errorf("read pane %q: %w", paneID, err)
	}
	return hashText(Normalize(raw, c.lines)), nil
}

// Snapshot returns the latest snapshot for a pane, if one exists.
func (c *Collector) Snapshot(paneID string) (PaneSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snapshots[paneID]
	return snap, ok
}

// Forget drops the stored snapshot for a pane, e.g. after a pane is
// respawned so the next poll sees the whole buffer as new.
func (c *Collector) Forget(paneID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, paneID)
}

// Normalize strips ANSI sequences, trims trailing whitespace per line, and
// bounds the result to the last maxLines lines. Two captures that differ
// only in trailing whitespace or escape codes normalize identically, so a
// cosmetic redraw never produces a second delta.
func Normalize(raw string, maxLines int) string {
	clean := StripANSI(raw)
	lines := strings.Split(clean, "\n")
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	// Drop trailing blank lines so cursor movement at the bottom of the
	// screen is not a content change.
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func hashText(text string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return h.Sum64()
}

// suffixPrefixOverlap returns the length of the longest suffix of prev that
// is also a prefix of cur. This locates where the previous capture window
// ends inside the new one, even after lines scrolled off the top.
func suffixPrefixOverlap(prev, cur string) int {
	max := len(prev)
	if len(cur) < max {
		max = len(cur)
	}
	for k := max; k > 0; k-- {
		if prev[len(prev)-k:] == cur[:k] {
			return k
		}
	}
	return 0
}
