package learner

import "github.com/user/yesman/internal/pattern"

// neutralWeight is applied to prompt/response pairs with no observed
// history, leaving the detector's raw confidence in the escalation band
// until enough samples accumulate.
const neutralWeight = 0.5

// Key identifies a learned weight: one prompt type paired with one
// response token.
type Key struct {
	Type  pattern.PromptType
	Token string
}

// Stat holds the learned weight for a key together with the sample
// count it was computed from.
type Stat struct {
	Weight  float64
	Samples int
}

// Table is an immutable snapshot of learned weights. Monitors read a
// table concurrently without locking; the learner publishes a fresh
// table after each recompute.
type Table struct {
	stats map[Key]Stat
}

// NewTable builds a table from the given stats. The map is copied so
// callers cannot mutate the snapshot afterwards.
func NewTable(stats map[Key]Stat) *Table {
	copied := make(map[Key]Stat, len(stats))
	for k, v := range stats {
		copied[k] = v
	}
	return &Table{stats: copied}
}

// Weight returns the learned weight for the prompt type/response pair,
// or the neutral weight when the pair has no history. Safe on a nil
// table.
func (t *Table) Weight(promptType pattern.PromptType, token string) float64 {
	if t == nil {
		return neutralWeight
	}
	stat, ok := t.stats[Key{Type: promptType, Token: token}]
	if !ok {
		return neutralWeight
	}
	return stat.Weight
}

// Stat returns the full stat for a key and whether it exists.
func (t *Table) Stat(promptType pattern.PromptType, token string) (Stat, bool) {
	if t == nil {
		return Stat{}, false
	}
	stat, ok := t.stats[Key{Type: promptType, Token: token}]
	return stat, ok
}

// Len reports how many keys the snapshot holds.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.stats)
}
