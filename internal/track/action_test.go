package track

import (
	"context"
	"errors"
	"testing"
	"time"

	"timecard/attendance/internal/model"
	"timecard/attendance/internal/store"
)

type fakeLogService struct {
	entries []model.TimeLogEntry
	fail    bool
}

func (f *fakeLogService) Append(_ context.Context, entry model.TimeLogEntry) error {
	if f.fail {
		return errors.New("log service down")
	}
	f.entries = append(f.entries, entry)
	return nil
}

type fakeNotifier struct {
	lateness      []LatenessEvent
	breakExceeded []BreakExceededEvent
	fail          bool
}

func (f *fakeNotifier) NotifyLateness(_ context.Context, event LatenessEvent) error {
	if f.fail {
		return errors.New("webhook down")
	}
	f.lateness = append(f.lateness, event)
	return nil
}

func (f *fakeNotifier) NotifyBreakExceeded(_ context.Context, event BreakExceededEvent) error {
	if f.fail {
		return errors.New("webhook down")
	}
	f.breakExceeded = append(f.breakExceeded, event)
	return nil
}

type syncerFixture struct {
	syncer   *Syncer
	sessions *Manager
	logs     *fakeLogService
	notifier *fakeNotifier
	store    *store.Memory
	now      *time.Time
}

func newSyncerFixture(t *testing.T, cfg SyncerConfig, at time.Time) *syncerFixture {
	t.Helper()
	st := store.NewMemory()
	now := at
	clock := func() time.Time { return now }
	sessions := NewManager(st, &fakeDirectory{}, nil)
	machine := NewMachine(st, nil, clock)
	logs := &fakeLogService{}
	notifier := &fakeNotifier{}
	syncer := NewSyncer(sessions, machine, logs, notifier, nil, st, nil, nil, cfg, clock)
	return &syncerFixture{syncer: syncer, sessions: sessions, logs: logs, notifier: notifier, store: st, now: &now}
}

func TestPerformAppendsBeforeTransition(t *testing.T) {
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	f := newSyncerFixture(t, SyncerConfig{}, base)
	ctx := context.Background()
	if err := f.sessions.Login(ctx, userIdentity(), "tok"); err != nil {
		t.Fatalf("login: %v", err)
	}

	updated, err := f.syncer.Perform(ctx, model.ActionStartWork)
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if updated.Status != model.StatusWorking {
		t.Fatalf("status = %s, want working", updated.Status)
	}
	if len(f.logs.entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(f.logs.entries))
	}
	entry := f.logs.entries[0]
	if entry.UserID != "u1" || entry.Action != model.ActionStartWork || entry.ID == "" {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.BreakDurationSeconds != nil {
		t.Fatal("start_work must not carry a break duration")
	}
}

func TestPerformAppendFailureLeavesStateUnchanged(t *testing.T) {
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	f := newSyncerFixture(t, SyncerConfig{}, base)
	f.logs.fail = true
	ctx := context.Background()
	if err := f.sessions.Login(ctx, userIdentity(), "tok"); err != nil {
		t.Fatalf("login: %v", err)
	}

	_, err := f.syncer.Perform(ctx, model.ActionStartWork)
	if !errors.Is(err, ErrRemoteAppend) {
		t.Fatalf("expected ErrRemoteAppend, got %v", err)
	}
	active, _ := f.sessions.Active()
	if active.Status != model.StatusOffline {
		t.Fatalf("status mutated despite append failure: %s", active.Status)
	}
}

func TestPerformIllegalActionSkipsAppend(t *testing.T) {
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	f := newSyncerFixture(t, SyncerConfig{}, base)
	ctx := context.Background()
	if err := f.sessions.Login(ctx, userIdentity(), "tok"); err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := f.syncer.Perform(ctx, model.ActionEndBreak); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if len(f.logs.entries) != 0 {
		t.Fatal("illegal action must not reach the log service")
	}
}

func TestEndBreakEntryCarriesCumulativeDuration(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncerFixture(t, SyncerConfig{}, base)
	ctx := context.Background()
	if err := f.sessions.Login(ctx, userIdentity(), "tok"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := f.syncer.Perform(ctx, model.ActionStartWork); err != nil {
		t.Fatalf("start_work: %v", err)
	}
	if _, err := f.syncer.Perform(ctx, model.ActionStartBreak); err != nil {
		t.Fatalf("start_break: %v", err)
	}

	*f.now = base.Add(25 * time.Minute)
	if _, err := f.syncer.Perform(ctx, model.ActionEndBreak); err != nil {
		t.Fatalf("end_break: %v", err)
	}

	last := f.logs.entries[len(f.logs.entries)-1]
	if last.Action != model.ActionEndBreak {
		t.Fatalf("last entry = %+v", last)
	}
	if last.BreakDurationSeconds == nil || *last.BreakDurationSeconds != 1500 {
		t.Fatalf("break duration = %v, want 1500", last.BreakDurationSeconds)
	}
}

func TestLatenessNotification(t *testing.T) {
	// Start at 09:05 with a 09:00 cutoff.
	base := time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC)
	cfg := SyncerConfig{CutoffEnabled: true, CutoffHour: 9, CutoffMinute: 0}
	f := newSyncerFixture(t, cfg, base)
	ctx := context.Background()
	if err := f.sessions.Login(ctx, userIdentity(), "tok"); err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := f.syncer.Perform(ctx, model.ActionStartWork); err != nil {
		t.Fatalf("perform: %v", err)
	}
	if len(f.notifier.lateness) != 1 {
		t.Fatalf("lateness notifications = %d, want 1", len(f.notifier.lateness))
	}
	if got := f.notifier.lateness[0].LateMinutes; got != 5 {
		t.Fatalf("late minutes = %d, want 5", got)
	}
}

func TestOnTimeStartDoesNotNotify(t *testing.T) {
	base := time.Date(2026, 3, 10, 8, 55, 0, 0, time.UTC)
	cfg := SyncerConfig{CutoffEnabled: true, CutoffHour: 9, CutoffMinute: 0}
	f := newSyncerFixture(t, cfg, base)
	ctx := context.Background()
	if err := f.sessions.Login(ctx, userIdentity(), "tok"); err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := f.syncer.Perform(ctx, model.ActionStartWork); err != nil {
		t.Fatalf("perform: %v", err)
	}
	if len(f.notifier.lateness) != 0 {
		t.Fatalf("unexpected lateness notification: %+v", f.notifier.lateness)
	}
}

func TestNotifierFailureDoesNotAffectTransition(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	cfg := SyncerConfig{CutoffEnabled: true, CutoffHour: 9, CutoffMinute: 0}
	f := newSyncerFixture(t, cfg, base)
	f.notifier.fail = true
	ctx := context.Background()
	if err := f.sessions.Login(ctx, userIdentity(), "tok"); err != nil {
		t.Fatalf("login: %v", err)
	}

	updated, err := f.syncer.Perform(ctx, model.ActionStartWork)
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if updated.Status != model.StatusWorking {
		t.Fatalf("status = %s, want working", updated.Status)
	}
}

func TestCheckBreakExceededFiresOncePerDay(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncerFixture(t, SyncerConfig{BreakLimit: time.Hour}, base)
	ctx := context.Background()
	if err := f.sessions.Login(ctx, userIdentity(), "tok"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := f.syncer.Perform(ctx, model.ActionStartWork); err != nil {
		t.Fatalf("start_work: %v", err)
	}
	if _, err := f.syncer.Perform(ctx, model.ActionStartBreak); err != nil {
		t.Fatalf("start_break: %v", err)
	}

	// Inside the limit: nothing fires.
	*f.now = base.Add(30 * time.Minute)
	if err := f.syncer.CheckBreakExceeded(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(f.notifier.breakExceeded) != 0 {
		t.Fatal("notification fired inside the limit")
	}

	*f.now = base.Add(90 * time.Minute)
	if err := f.syncer.CheckBreakExceeded(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(f.notifier.breakExceeded) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notifier.breakExceeded))
	}
	if got := f.notifier.breakExceeded[0].BreakDurationMinutes; got != 90 {
		t.Fatalf("break minutes = %d, want 90", got)
	}

	// Deduplicated for the rest of the day.
	*f.now = base.Add(2 * time.Hour)
	if err := f.syncer.CheckBreakExceeded(ctx); err != nil {
		t.Fatalf("repeat check: %v", err)
	}
	if len(f.notifier.breakExceeded) != 1 {
		t.Fatalf("notification deduplication failed, got %d", len(f.notifier.breakExceeded))
	}
}

func TestCheckBreakExceededRetriesAfterNotifierFailure(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncerFixture(t, SyncerConfig{BreakLimit: time.Hour}, base)
	ctx := context.Background()
	if err := f.sessions.Login(ctx, userIdentity(), "tok"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := f.syncer.Perform(ctx, model.ActionStartWork); err != nil {
		t.Fatalf("start_work: %v", err)
	}
	if _, err := f.syncer.Perform(ctx, model.ActionStartBreak); err != nil {
		t.Fatalf("start_break: %v", err)
	}

	*f.now = base.Add(90 * time.Minute)
	f.notifier.fail = true
	if err := f.syncer.CheckBreakExceeded(ctx); err != nil {
		t.Fatalf("check with failing notifier: %v", err)
	}

	// Delivery failed, so the marker is absent and the next tick retries.
	f.notifier.fail = false
	if err := f.syncer.CheckBreakExceeded(ctx); err != nil {
		t.Fatalf("retry check: %v", err)
	}
	if len(f.notifier.breakExceeded) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notifier.breakExceeded))
	}
}

func TestBreakDurationZeroWhenNotOnBreak(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncerFixture(t, SyncerConfig{}, base)
	ctx := context.Background()
	if err := f.sessions.Login(ctx, userIdentity(), "tok"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := f.syncer.BreakDuration(ctx); got != 0 {
		t.Fatalf("break duration = %v, want 0", got)
	}
}
