package track

import (
	"context"
	"errors"
	"testing"
	"time"

	"timecard/attendance/internal/model"
	"timecard/attendance/internal/store"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestLegal(t *testing.T) {
	cases := []struct {
		from    model.Status
		action  model.Action
		allowed bool
	}{
		{model.StatusOffline, model.ActionStartWork, true},
		{model.StatusOffline, model.ActionStartBreak, false},
		{model.StatusOffline, model.ActionEndBreak, false},
		{model.StatusOffline, model.ActionEndWork, false},
		{model.StatusWorking, model.ActionStartWork, false},
		{model.StatusWorking, model.ActionStartBreak, true},
		{model.StatusWorking, model.ActionEndBreak, false},
		{model.StatusWorking, model.ActionEndWork, true},
		{model.StatusBreak, model.ActionStartWork, false},
		{model.StatusBreak, model.ActionStartBreak, true},
		{model.StatusBreak, model.ActionEndBreak, true},
		{model.StatusBreak, model.ActionEndWork, true},
	}
	for _, tc := range cases {
		if got := Legal(tc.from, tc.action); got != tc.allowed {
			t.Errorf("Legal(%s, %s) = %v, want %v", tc.from, tc.action, got, tc.allowed)
		}
	}
}

func TestTransitionIllegalLeavesIdentityUntouched(t *testing.T) {
	st := store.NewMemory()
	machine := NewMachine(st, nil, nil)
	id := model.Identity{ID: "u1", Name: "A", Email: "a@example.com", Role: model.RoleUser, Status: model.StatusOffline}

	err := machine.Transition(context.Background(), &id, model.ActionStartBreak, nil)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if id.Status != model.StatusOffline || id.BreakStartAt != nil {
		t.Fatalf("identity mutated on illegal transition: %+v", id)
	}
	if st.Len() != 0 {
		t.Fatalf("expected no persisted keys, got %d", st.Len())
	}
}

func TestBreakClockIsCumulativeAcrossIntervals(t *testing.T) {
	st := store.NewMemory()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	now := base
	machine := NewMachine(st, nil, func() time.Time { return now })
	ctx := context.Background()

	id := model.Identity{ID: "u1", Status: model.StatusOffline}
	if err := machine.Transition(ctx, &id, model.ActionStartWork, nil); err != nil {
		t.Fatalf("start_work: %v", err)
	}
	if err := machine.Transition(ctx, &id, model.ActionStartBreak, nil); err != nil {
		t.Fatalf("start_break: %v", err)
	}
	if id.BreakStartAt == nil || !id.BreakStartAt.Equal(base) {
		t.Fatalf("break start = %v, want %v", id.BreakStartAt, base)
	}

	now = base.Add(10 * time.Minute)
	if err := machine.Transition(ctx, &id, model.ActionEndBreak, nil); err != nil {
		t.Fatalf("end_break: %v", err)
	}
	if id.Status != model.StatusWorking {
		t.Fatalf("status after end_break = %s", id.Status)
	}
	if id.BreakStartAt == nil {
		t.Fatal("break start cleared on end_break, daily total lost")
	}

	// A second break the same day resumes the daily clock from the first start.
	now = base.Add(30 * time.Minute)
	if err := machine.Transition(ctx, &id, model.ActionStartBreak, nil); err != nil {
		t.Fatalf("second start_break: %v", err)
	}
	if !id.BreakStartAt.Equal(base) {
		t.Fatalf("second break start = %v, want original %v", id.BreakStartAt, base)
	}

	now = base.Add(40 * time.Minute)
	if got := machine.CumulativeBreakSeconds(ctx, &id); got != 2400 {
		t.Fatalf("cumulative break = %d seconds, want 2400", got)
	}
}

func TestEndWorkKeepsBreakStart(t *testing.T) {
	st := store.NewMemory()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	machine := NewMachine(st, nil, fixedClock(base))
	ctx := context.Background()

	id := model.Identity{ID: "u1", Status: model.StatusBreak, BreakStartAt: &base}
	if err := machine.Transition(ctx, &id, model.ActionEndWork, nil); err != nil {
		t.Fatalf("end_work: %v", err)
	}
	if id.Status != model.StatusOffline {
		t.Fatalf("status = %s, want offline", id.Status)
	}
	if id.BreakStartAt == nil {
		t.Fatal("end_work must not clear the break start, the sweep does")
	}
}

func TestSweepResetsAtDayBoundary(t *testing.T) {
	st := store.NewMemory()
	day1 := time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)
	now := day1
	machine := NewMachine(st, nil, func() time.Time { return now })
	ctx := context.Background()

	id := model.Identity{ID: "u1", Status: model.StatusWorking}
	if err := machine.Transition(ctx, &id, model.ActionStartBreak, nil); err != nil {
		t.Fatalf("start_break: %v", err)
	}
	if err := st.Set(ctx, store.KeySweepLastCheck, store.Day(day1)); err != nil {
		t.Fatal(err)
	}

	now = day1.Add(20 * time.Minute) // past midnight
	changed, err := machine.Sweep(ctx, &id)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !changed {
		t.Fatal("sweep did not report a change to the active identity")
	}
	if id.Status != model.StatusOffline || id.BreakStartAt != nil {
		t.Fatalf("identity after sweep: %+v", id)
	}
	if keys, _ := st.KeysWithPrefix(ctx, store.BreakStartPrefix); len(keys) != 0 {
		t.Fatalf("break markers survived the sweep: %v", keys)
	}

	// Second run the same day is a no-op.
	changed, err = machine.Sweep(ctx, &id)
	if err != nil || changed {
		t.Fatalf("repeat sweep changed=%v err=%v", changed, err)
	}
}

func TestSweepSameDayIsNoop(t *testing.T) {
	st := store.NewMemory()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	machine := NewMachine(st, nil, fixedClock(base))
	ctx := context.Background()

	if err := st.Set(ctx, store.KeySweepLastCheck, store.Day(base)); err != nil {
		t.Fatal(err)
	}
	start := base.Add(-time.Hour)
	if err := st.Set(ctx, store.BreakStartKey("u1", store.Day(base)), start.Format(time.RFC3339Nano)); err != nil {
		t.Fatal(err)
	}

	id := model.Identity{ID: "u1", Status: model.StatusBreak, BreakStartAt: &start}
	changed, err := machine.Sweep(ctx, &id)
	if err != nil || changed {
		t.Fatalf("same-day sweep changed=%v err=%v", changed, err)
	}
	if id.Status != model.StatusBreak {
		t.Fatalf("status = %s, want break", id.Status)
	}
}

type failingStore struct {
	store.Store
	failSet bool
}

func (f *failingStore) Set(ctx context.Context, key, value string) error {
	if f.failSet {
		return errors.New("disk full")
	}
	return f.Store.Set(ctx, key, value)
}

func TestTransitionSurvivesMarkerWriteFailure(t *testing.T) {
	st := &failingStore{Store: store.NewMemory(), failSet: true}
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	machine := NewMachine(st, nil, fixedClock(base))

	id := model.Identity{ID: "u1", Status: model.StatusWorking}
	err := machine.Transition(context.Background(), &id, model.ActionStartBreak, nil)
	if !IsWarning(err) {
		t.Fatalf("expected persistence warning, got %v", err)
	}
	if id.Status != model.StatusBreak || id.BreakStartAt == nil {
		t.Fatalf("in-memory change must stand despite the warning: %+v", id)
	}
}
