package collector

import "time"

// PaneSnapshot is the latest captured state of one pane. Snapshots are
// immutable values: each poll cycle supersedes the previous snapshot rather
// than editing it, so there is exactly one active snapshot per pane.
type PaneSnapshot struct {
	PaneID     string
	CapturedAt time.Time
	Text       string
	TextHash   uint64
}

// ContentDelta carries the text that appeared since the previous snapshot.
// It is ephemeral: consumed once by the detector and discarded.
type ContentDelta struct {
	PaneID       string
	NewText      string
	FullText     string
	PreviousHash uint64
	CurrentHash  uint64
}
