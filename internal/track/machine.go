package track

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"timecard/attendance/internal/model"
	"timecard/attendance/internal/store"
)

// Machine owns a single identity's work/break/offline status and the break
// timestamp bookkeeping. Transitions are synchronous; the only writes go to
// the persistence adapter and failures there are soft warnings.
type Machine struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

func NewMachine(st store.Store, log *slog.Logger, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Machine{store: st, log: log, now: now}
}

// Legal reports whether action is valid from the given status. Re-entering
// break while on break is allowed and idempotent for the status itself.
func Legal(from model.Status, action model.Action) bool {
	switch action {
	case model.ActionStartWork:
		return from == model.StatusOffline
	case model.ActionStartBreak:
		return from == model.StatusWorking || from == model.StatusBreak
	case model.ActionEndBreak:
		return from == model.StatusBreak
	case model.ActionEndWork:
		return from == model.StatusWorking || from == model.StatusBreak
	default:
		return false
	}
}

// Transition applies action to id in place. It returns ErrIllegalTransition
// before touching anything, or a wrapped ErrPersistence warning when the
// in-memory change stood but a marker write failed.
func (m *Machine) Transition(ctx context.Context, id *model.Identity, action model.Action, explicitStart *time.Time) error {
	if id == nil {
		return fmt.Errorf("%w: no identity", ErrIllegalTransition)
	}
	if !Legal(id.Status, action) {
		return fmt.Errorf("%w: %s while %s", ErrIllegalTransition, action, id.Status)
	}

	var warn error
	switch action {
	case model.ActionStartWork:
		id.Status = model.StatusWorking
	case model.ActionStartBreak:
		start, err := m.resolveBreakStart(ctx, id, explicitStart)
		if err != nil {
			warn = err
		}
		id.Status = model.StatusBreak
		id.BreakStartAt = &start
		if err := m.persistBreakStart(ctx, id.ID, start); err != nil {
			warn = err
		}
	case model.ActionEndBreak:
		// The break start is retained so a later break the same day keeps
		// accumulating on the daily total.
		id.Status = model.StatusWorking
		if id.BreakStartAt != nil {
			if err := m.persistBreakStart(ctx, id.ID, *id.BreakStartAt); err != nil {
				warn = err
			}
		}
	case model.ActionEndWork:
		// BreakStartAt is left as-is; only the day sweep clears it.
		id.Status = model.StatusOffline
	}
	if warn != nil {
		m.log.Warn("break marker write failed", "user_id", id.ID, "action", string(action), "err", warn)
	}
	return warn
}

// resolveBreakStart picks the break start for a (re-)entered break: an
// explicit caller timestamp wins, then a stored same-day marker, then a
// same-day in-memory value, otherwise now.
func (m *Machine) resolveBreakStart(ctx context.Context, id *model.Identity, explicit *time.Time) (time.Time, error) {
	if explicit != nil {
		return *explicit, nil
	}
	now := m.now()
	day := store.Day(now)
	value, ok, err := m.store.Get(ctx, store.BreakStartKey(id.ID, day))
	if err != nil {
		return now, fmt.Errorf("%w: read break marker: %v", ErrPersistence, err)
	}
	if ok {
		if stored, parseErr := time.Parse(time.RFC3339Nano, value); parseErr == nil {
			return stored, nil
		}
	}
	if id.BreakStartAt != nil && sameDay(*id.BreakStartAt, now) {
		return *id.BreakStartAt, nil
	}
	return now, nil
}

func (m *Machine) persistBreakStart(ctx context.Context, userID string, start time.Time) error {
	key := store.BreakStartKey(userID, store.Day(m.now()))
	if err := m.store.Set(ctx, key, start.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("%w: write break marker: %v", ErrPersistence, err)
	}
	return nil
}

// CumulativeBreakSeconds is the running daily break total for id, measured
// from the stored same-day marker (falling back to the in-memory value).
func (m *Machine) CumulativeBreakSeconds(ctx context.Context, id *model.Identity) int64 {
	if id == nil {
		return 0
	}
	now := m.now()
	start := time.Time{}
	value, ok, err := m.store.Get(ctx, store.BreakStartKey(id.ID, store.Day(now)))
	if err == nil && ok {
		if stored, parseErr := time.Parse(time.RFC3339Nano, value); parseErr == nil {
			start = stored
		}
	}
	if start.IsZero() {
		if id.BreakStartAt == nil || !sameDay(*id.BreakStartAt, now) {
			return 0
		}
		start = *id.BreakStartAt
	}
	seconds := int64(now.Sub(start) / time.Second)
	if seconds < 0 {
		return 0
	}
	return seconds
}

// Sweep runs the day-boundary check. On a date change it erases all stored
// break markers, clears the active identity's break state (forcing offline)
// and records today as checked. Reports whether the active identity changed.
// The caller holds the session lock so the sweep is atomic with respect to
// concurrent transitions.
func (m *Machine) Sweep(ctx context.Context, active *model.Identity) (bool, error) {
	today := store.Day(m.now())
	last, ok, err := m.store.Get(ctx, store.KeySweepLastCheck)
	if err != nil {
		return false, fmt.Errorf("%w: read sweep marker: %v", ErrPersistence, err)
	}
	if ok && last == today {
		return false, nil
	}

	var warn error
	if err := store.DeleteWithPrefix(ctx, m.store, store.BreakStartPrefix); err != nil {
		warn = fmt.Errorf("%w: clear break markers: %v", ErrPersistence, err)
	}
	if err := store.DeleteWithPrefix(ctx, m.store, store.BreakNotifiedPrefix); err != nil && warn == nil {
		warn = fmt.Errorf("%w: clear notified markers: %v", ErrPersistence, err)
	}

	changed := false
	if active != nil && active.BreakStartAt != nil {
		active.BreakStartAt = nil
		active.Status = model.StatusOffline
		changed = true
	}

	if err := m.store.Set(ctx, store.KeySweepLastCheck, today); err != nil && warn == nil {
		warn = fmt.Errorf("%w: write sweep marker: %v", ErrPersistence, err)
	}
	if warn != nil {
		m.log.Warn("day sweep finished with warning", "err", warn)
	}
	return changed, warn
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
