package learner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/yesman/internal/pattern"
	"github.com/user/yesman/internal/store"
)

const (
	// smoothingPrior is the Laplace-style prior applied when turning
	// success tallies into weights: (successes + prior) / (total + 2*prior).
	smoothingPrior = 1.0

	defaultRecomputeEvery    = 25
	defaultRecomputeInterval = 5 * time.Minute
)

// WeightStore persists weight snapshots across restarts.
// *store.WeightRepo satisfies it.
type WeightStore interface {
	ReplaceWeights(ctx context.Context, weights []*store.ResponseWeight) error
	ListWeights(ctx context.Context) ([]*store.ResponseWeight, error)
}

type tally struct {
	successes int
	total     int
}

// Learner accumulates decision outcomes and periodically recomputes a
// weight table from them. Observations are cheap (a mutex-guarded
// counter bump); the published table is swapped atomically so readers
// never block on a recompute.
type Learner struct {
	storage        WeightStore
	logger         *slog.Logger
	recomputeEvery int
	interval       time.Duration

	mu           sync.Mutex
	tallies      map[Key]tally
	pendingSince int

	table atomic.Pointer[Table]
	kick  chan struct{}
}

// Option configures a Learner.
type Option func(*Learner)

// WithRecomputeEvery sets how many new observations trigger an early
// recompute ahead of the periodic interval.
func WithRecomputeEvery(n int) Option {
	return func(l *Learner) {
		if n > 0 {
			l.recomputeEvery = n
		}
	}
}

// WithInterval sets the periodic recompute cadence.
func WithInterval(d time.Duration) Option {
	return func(l *Learner) {
		if d > 0 {
			l.interval = d
		}
	}
}

// New creates a learner backed by the given weight store.
func New(storage WeightStore, logger *slog.Logger, opts ...Option) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Learner{
		storage:        storage,
		logger:         logger,
		recomputeEvery: defaultRecomputeEvery,
		interval:       defaultRecomputeInterval,
		tallies:        make(map[Key]tally),
		kick:           make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.table.Store(NewTable(nil))
	return l
}

// LoadSnapshot restores persisted weights and tallies, so learned
// behavior survives restarts. Call once before Run.
func (l *Learner) LoadSnapshot(ctx context.Context) error {
	rows, err := l.storage.ListWeights(ctx)
	if err != nil {
		return fmt.Errorf("failed to load weight snapshot: %w", err)
	}

	stats := make(map[Key]Stat, len(rows))
	l.mu.Lock()
	for _, row := range rows {
		key := Key{Type: pattern.PromptType(row.PromptType), Token: row.ResponseToken}
		stats[key] = Stat{Weight: row.Weight, Samples: row.SampleCount}
		l.tallies[key] = tally{successes: row.Successes, total: row.SampleCount}
	}
	l.mu.Unlock()

	l.table.Store(NewTable(stats))
	l.logger.Info("loaded weight snapshot", "keys", len(rows))
	return nil
}

// Table returns the current weight snapshot. Never nil.
func (l *Learner) Table() *Table {
	return l.table.Load()
}

// ObserveDecision records an auto-applied response that was not
// overridden within its grace window, counting it as a success for the
// chosen token.
func (l *Learner) ObserveDecision(promptType pattern.PromptType, token string) {
	l.observe(func() {
		key := Key{Type: promptType, Token: token}
		t := l.tallies[key]
		t.successes++
		t.total++
		l.tallies[key] = t
	})
}

// ObserveOverride records that a human replaced an auto-applied
// response. The original token loses the success it was credited on
// decision, and the human's token gains one.
func (l *Learner) ObserveOverride(promptType pattern.PromptType, autoToken, humanToken string) {
	l.observe(func() {
		autoKey := Key{Type: promptType, Token: autoToken}
		t := l.tallies[autoKey]
		if t.successes > 0 {
			t.successes--
		}
		l.tallies[autoKey] = t

		humanKey := Key{Type: promptType, Token: humanToken}
		h := l.tallies[humanKey]
		h.successes++
		h.total++
		l.tallies[humanKey] = h
	})
}

// ObserveEscalation records a prompt the engine refused to answer that
// a human then resolved, crediting the human's token.
func (l *Learner) ObserveEscalation(promptType pattern.PromptType, humanToken string) {
	l.observe(func() {
		key := Key{Type: promptType, Token: humanToken}
		t := l.tallies[key]
		t.successes++
		t.total++
		l.tallies[key] = t
	})
}

func (l *Learner) observe(apply func()) {
	l.mu.Lock()
	apply()
	l.pendingSince++
	trigger := l.pendingSince >= l.recomputeEvery
	l.mu.Unlock()

	if trigger {
		select {
		case l.kick <- struct{}{}:
		default:
		}
	}
}

// Recompute turns the current tallies into a fresh weight table,
// publishes it, and persists the snapshot. A persistence failure is
// logged and left for the next cadence; the in-memory table still
// advances.
func (l *Learner) Recompute(ctx context.Context) {
	l.mu.Lock()
	stats := make(map[Key]Stat, len(l.tallies))
	rows := make([]*store.ResponseWeight, 0, len(l.tallies))
	for key, t := range l.tallies {
		weight := clampUnit((float64(t.successes) + smoothingPrior) / (float64(t.total) + 2*smoothingPrior))
		stats[key] = Stat{Weight: weight, Samples: t.total}
		rows = append(rows, &store.ResponseWeight{
			PromptType:    string(key.Type),
			ResponseToken: key.Token,
			Weight:        weight,
			Successes:     t.successes,
			SampleCount:   t.total,
		})
	}
	l.pendingSince = 0
	l.mu.Unlock()

	l.table.Store(NewTable(stats))

	if err := l.storage.ReplaceWeights(ctx, rows); err != nil {
		l.logger.Error("failed to persist weight snapshot", "error", err)
		return
	}
	l.logger.Debug("recomputed response weights", "keys", len(rows))
}

// Run recomputes on the periodic interval and whenever enough new
// observations accumulate. Blocks until ctx is cancelled; a final
// recompute flushes outstanding tallies on the way out.
func (l *Learner) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			l.Recompute(flushCtx)
			cancel()
			return
		case <-ticker.C:
			l.Recompute(ctx)
		case <-l.kick:
			l.Recompute(ctx)
		}
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
