package track

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"timecard/attendance/internal/metrics"
	"timecard/attendance/internal/model"
	"timecard/attendance/internal/store"
)

// LogService is the external append-only attendance log.
type LogService interface {
	Append(ctx context.Context, entry model.TimeLogEntry) error
}

// Notifier delivers best-effort secondary notifications. Failures are
// logged and never affect the transition they accompany.
type Notifier interface {
	NotifyLateness(ctx context.Context, event LatenessEvent) error
	NotifyBreakExceeded(ctx context.Context, event BreakExceededEvent) error
}

type LatenessEvent struct {
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	UserEmail   string    `json:"user_email"`
	StartTime   time.Time `json:"start_time"`
	LateMinutes int64     `json:"late_minutes"`
}

type BreakExceededEvent struct {
	UserID               string `json:"user_id"`
	UserName             string `json:"user_name"`
	UserEmail            string `json:"user_email"`
	BreakDurationMinutes int64  `json:"break_duration_minutes"`
}

// StatusSink receives the durable copy of a user's status after a
// transition, so directory listings stay current. Best-effort.
type StatusSink interface {
	SaveStatus(ctx context.Context, userID string, status model.Status, breakStart *time.Time) error
}

type SyncerConfig struct {
	RemoteTimeout time.Duration
	CutoffEnabled bool
	CutoffHour    int
	CutoffMinute  int
	BreakLimit    time.Duration
}

// Syncer translates time actions into attendance log entries and applies the
// matching state transition only after the log service acknowledges the
// append. There is no optimistic local update and no rollback path.
type Syncer struct {
	sessions *Manager
	machine  *Machine
	logs     LogService
	notifier Notifier
	sink     StatusSink
	store    store.Store
	rec      metrics.Recorder
	log      *slog.Logger
	cfg      SyncerConfig
	now      func() time.Time
}

func NewSyncer(sessions *Manager, machine *Machine, logs LogService, notifier Notifier, sink StatusSink, st store.Store, rec metrics.Recorder, log *slog.Logger, cfg SyncerConfig, now func() time.Time) *Syncer {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 30 * time.Second
	}
	return &Syncer{
		sessions: sessions,
		machine:  machine,
		logs:     logs,
		notifier: notifier,
		sink:     sink,
		store:    st,
		rec:      rec,
		log:      log,
		cfg:      cfg,
		now:      now,
	}
}

// Perform validates, appends one log entry and then transitions. A remote
// append failure leaves all local state unchanged and is surfaced for retry.
// A returned persistence warning accompanies a transition that did happen.
func (s *Syncer) Perform(ctx context.Context, action model.Action) (model.Identity, error) {
	if !action.Valid() {
		return model.Identity{}, fmt.Errorf("%w: unknown action %q", ErrIllegalTransition, action)
	}
	id, ok := s.sessions.Active()
	if !ok {
		return model.Identity{}, fmt.Errorf("%w: no active session", ErrPermissionDenied)
	}
	if !Legal(id.Status, action) {
		s.rec.RecordTimeAction(string(action), "illegal")
		return model.Identity{}, fmt.Errorf("%w: %s while %s", ErrIllegalTransition, action, id.Status)
	}

	entry := model.TimeLogEntry{
		ID:     uuid.NewString(),
		UserID: id.ID,
		Action: action,
		At:     s.now().UTC(),
	}
	if action == model.ActionEndBreak {
		seconds := s.machine.CumulativeBreakSeconds(ctx, &id)
		entry.BreakDurationSeconds = &seconds
	}

	appendCtx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	err := s.logs.Append(appendCtx, entry)
	cancel()
	if err != nil {
		s.rec.RecordTimeAction(string(action), "append_failed")
		s.rec.RecordAppendFailure()
		return model.Identity{}, fmt.Errorf("%w: %v", ErrRemoteAppend, err)
	}

	updated, warn := s.sessions.Mutate(ctx, func(cur *model.Identity) error {
		return s.machine.Transition(ctx, cur, action, nil)
	})
	if warn != nil && !IsWarning(warn) {
		s.rec.RecordTimeAction(string(action), "failed")
		return model.Identity{}, warn
	}
	s.rec.RecordTimeAction(string(action), "ok")

	if s.sink != nil {
		if err := s.sink.SaveStatus(ctx, updated.ID, updated.Status, updated.BreakStartAt); err != nil {
			s.log.Warn("status write-back failed", "user_id", updated.ID, "err", err)
		}
	}
	if action == model.ActionStartWork {
		s.maybeNotifyLateness(ctx, updated, entry.At)
	}
	return updated, warn
}

// BreakDuration is the live cumulative break clock for the active identity.
func (s *Syncer) BreakDuration(ctx context.Context) time.Duration {
	id, ok := s.sessions.Active()
	if !ok || id.Status != model.StatusBreak {
		return 0
	}
	return time.Duration(s.machine.CumulativeBreakSeconds(ctx, &id)) * time.Second
}

// CheckBreakExceeded emits the break-exceeded notification when the active
// identity's open break has run past the configured limit, at most once per
// day (the cumulative clock makes any later interval exceed instantly).
func (s *Syncer) CheckBreakExceeded(ctx context.Context) error {
	if s.cfg.BreakLimit <= 0 {
		return nil
	}
	id, ok := s.sessions.Active()
	if !ok || id.Status != model.StatusBreak {
		return nil
	}
	seconds := s.machine.CumulativeBreakSeconds(ctx, &id)
	if time.Duration(seconds)*time.Second <= s.cfg.BreakLimit {
		return nil
	}

	key := store.BreakNotifiedKey(id.ID, store.Day(s.now()))
	if _, done, err := s.store.Get(ctx, key); err != nil {
		return fmt.Errorf("%w: read notified marker: %v", ErrPersistence, err)
	} else if done {
		return nil
	}

	event := BreakExceededEvent{
		UserID:               id.ID,
		UserName:             id.Name,
		UserEmail:            id.Email,
		BreakDurationMinutes: seconds / 60,
	}
	notifyCtx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	err := s.notifier.NotifyBreakExceeded(notifyCtx, event)
	cancel()
	if err != nil {
		s.log.Warn("break exceeded notification failed", "user_id", id.ID, "err", err)
		return nil
	}
	s.rec.RecordNotification("break_exceeded")
	if err := s.store.Set(ctx, key, "1"); err != nil {
		return fmt.Errorf("%w: write notified marker: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Syncer) maybeNotifyLateness(ctx context.Context, id model.Identity, startedAt time.Time) {
	if !s.cfg.CutoffEnabled {
		return
	}
	local := startedAt.In(s.now().Location())
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), s.cfg.CutoffHour, s.cfg.CutoffMinute, 0, 0, local.Location())
	late := local.Sub(cutoff)
	if late <= 0 {
		return
	}
	event := LatenessEvent{
		UserID:      id.ID,
		UserName:    id.Name,
		UserEmail:   id.Email,
		StartTime:   startedAt,
		LateMinutes: int64(late / time.Minute),
	}
	notifyCtx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	err := s.notifier.NotifyLateness(notifyCtx, event)
	cancel()
	if err != nil {
		s.log.Warn("lateness notification failed", "user_id", id.ID, "err", err)
		return
	}
	s.rec.RecordNotification("lateness")
}
