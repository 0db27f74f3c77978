package learner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/user/yesman/internal/pattern"
	"github.com/user/yesman/internal/store"
)

type fakeWeightStore struct {
	mu       sync.Mutex
	saved    []*store.ResponseWeight
	loaded   []*store.ResponseWeight
	saveErr  error
	replaces int
}

func (f *fakeWeightStore) ReplaceWeights(_ context.Context, weights []*store.ResponseWeight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = weights
	f.replaces++
	return nil
}

func (f *fakeWeightStore) ListWeights(context.Context) ([]*store.ResponseWeight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded, nil
}

func TestTableNeutralDefault(t *testing.T) {
	var nilTable *Table
	if got := nilTable.Weight(pattern.TypeYesNo, "y"); got != neutralWeight {
		t.Errorf("nil table Weight() = %v, want %v", got, neutralWeight)
	}

	table := NewTable(map[Key]Stat{
		{Type: pattern.TypeYesNo, Token: "y"}: {Weight: 0.8, Samples: 4},
	})
	if got := table.Weight(pattern.TypeYesNo, "y"); got != 0.8 {
		t.Errorf("Weight() = %v, want 0.8", got)
	}
	if got := table.Weight(pattern.TypeYesNo, "n"); got != neutralWeight {
		t.Errorf("unseen token Weight() = %v, want %v", got, neutralWeight)
	}
	if got := table.Weight(pattern.TypeTrustConfirm, "y"); got != neutralWeight {
		t.Errorf("unseen type Weight() = %v, want %v", got, neutralWeight)
	}
}

func TestRecomputeSmoothing(t *testing.T) {
	storage := &fakeWeightStore{}
	l := New(storage, nil)
	ctx := context.Background()

	// 3 successes out of 3 -> (3+1)/(3+2) = 0.8.
	for i := 0; i < 3; i++ {
		l.ObserveDecision(pattern.TypeYesNo, "y")
	}
	l.Recompute(ctx)

	if got := l.Table().Weight(pattern.TypeYesNo, "y"); got != 0.8 {
		t.Errorf("Weight() after 3/3 = %v, want 0.8", got)
	}

	stat, ok := l.Table().Stat(pattern.TypeYesNo, "y")
	if !ok || stat.Samples != 3 {
		t.Errorf("Stat() = %+v ok=%v, want 3 samples", stat, ok)
	}
}

func TestRecomputeWeightStaysInUnitRange(t *testing.T) {
	storage := &fakeWeightStore{}
	l := New(storage, nil)
	ctx := context.Background()

	// Many overrides against a token drive successes to 0 while the
	// total keeps growing: weight must stay positive and below 1.
	for i := 0; i < 20; i++ {
		l.ObserveDecision(pattern.TypeYesNo, "y")
		l.ObserveOverride(pattern.TypeYesNo, "y", "n")
	}
	l.Recompute(ctx)

	w := l.Table().Weight(pattern.TypeYesNo, "y")
	if w <= 0 || w >= 1 {
		t.Errorf("overridden token Weight() = %v, want within (0, 1)", w)
	}
	hw := l.Table().Weight(pattern.TypeYesNo, "n")
	if hw <= w {
		t.Errorf("human token weight %v should exceed overridden token weight %v", hw, w)
	}
}

func TestOverrideRevokesCredit(t *testing.T) {
	storage := &fakeWeightStore{}
	l := New(storage, nil)
	ctx := context.Background()

	l.ObserveDecision(pattern.TypeTrustConfirm, "1")
	l.ObserveOverride(pattern.TypeTrustConfirm, "1", "2")
	l.Recompute(ctx)

	// Auto token: 0 successes of 1 total -> (0+1)/(1+2) = 1/3.
	got := l.Table().Weight(pattern.TypeTrustConfirm, "1")
	want := 1.0 / 3.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("auto token Weight() = %v, want %v", got, want)
	}
	// Human token: 1 of 1 -> 2/3.
	got = l.Table().Weight(pattern.TypeTrustConfirm, "2")
	want = 2.0 / 3.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("human token Weight() = %v, want %v", got, want)
	}
}

func TestOverrideNeverGoesNegative(t *testing.T) {
	storage := &fakeWeightStore{}
	l := New(storage, nil)

	// Override with no prior decision: successes clamp at zero.
	l.ObserveOverride(pattern.TypeYesNo, "y", "n")
	l.Recompute(context.Background())

	stat, ok := l.Table().Stat(pattern.TypeYesNo, "y")
	if !ok {
		t.Fatal("auto token has no stat after override")
	}
	if stat.Weight <= 0 {
		t.Errorf("Weight() = %v, want > 0 from smoothing prior", stat.Weight)
	}
}

func TestObserveEscalationCreditsHumanToken(t *testing.T) {
	storage := &fakeWeightStore{}
	l := New(storage, nil)
	ctx := context.Background()

	// Two escalations the human answered "n": (2+1)/(2+2) = 0.75.
	l.ObserveEscalation(pattern.TypeYesNo, "n")
	l.ObserveEscalation(pattern.TypeYesNo, "n")
	l.Recompute(ctx)

	if got := l.Table().Weight(pattern.TypeYesNo, "n"); got != 0.75 {
		t.Errorf("Weight() after two escalation answers = %v, want 0.75", got)
	}
	if got := l.Table().Weight(pattern.TypeYesNo, "y"); got != neutralWeight {
		t.Errorf("unanswered token Weight() = %v, want neutral", got)
	}
}

func TestRecomputePersistsSnapshot(t *testing.T) {
	storage := &fakeWeightStore{}
	l := New(storage, nil)
	ctx := context.Background()

	l.ObserveDecision(pattern.TypeYesNo, "y")
	l.Recompute(ctx)

	storage.mu.Lock()
	defer storage.mu.Unlock()
	if len(storage.saved) != 1 {
		t.Fatalf("persisted %d rows, want 1", len(storage.saved))
	}
	row := storage.saved[0]
	if row.PromptType != "yes_no" || row.ResponseToken != "y" || row.Successes != 1 || row.SampleCount != 1 {
		t.Errorf("persisted row = %+v", row)
	}
}

func TestRecomputeSurvivesPersistFailure(t *testing.T) {
	storage := &fakeWeightStore{saveErr: errors.New("disk full")}
	l := New(storage, nil)
	ctx := context.Background()

	l.ObserveDecision(pattern.TypeYesNo, "y")
	l.Recompute(ctx)

	// In-memory table advances even when persistence fails.
	if got := l.Table().Weight(pattern.TypeYesNo, "y"); got == neutralWeight {
		t.Error("table did not advance past neutral after failed persist")
	}
}

func TestLoadSnapshotRestoresTallies(t *testing.T) {
	storage := &fakeWeightStore{loaded: []*store.ResponseWeight{
		{PromptType: "yes_no", ResponseToken: "y", Weight: 0.9, Successes: 8, SampleCount: 9},
	}}
	l := New(storage, nil)
	ctx := context.Background()

	if err := l.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if got := l.Table().Weight(pattern.TypeYesNo, "y"); got != 0.9 {
		t.Errorf("Weight() after load = %v, want 0.9", got)
	}

	// One more success on top of the restored tally: (9+1)/(10+2).
	l.ObserveDecision(pattern.TypeYesNo, "y")
	l.Recompute(ctx)
	got := l.Table().Weight(pattern.TypeYesNo, "y")
	want := 10.0 / 12.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Weight() after restored tally = %v, want %v", got, want)
	}
}

func TestObserveKicksEarlyRecompute(t *testing.T) {
	storage := &fakeWeightStore{}
	l := New(storage, nil, WithRecomputeEvery(2))

	l.ObserveDecision(pattern.TypeYesNo, "y")
	select {
	case <-l.kick:
		t.Fatal("kick fired before threshold")
	default:
	}

	l.ObserveDecision(pattern.TypeYesNo, "y")
	select {
	case <-l.kick:
	default:
		t.Fatal("kick did not fire at threshold")
	}
}
