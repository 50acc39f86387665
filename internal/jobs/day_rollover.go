package jobs

import (
	"context"
	"log/slog"
	"time"

	"timecard/attendance/internal/metrics"
	"timecard/attendance/internal/track"
)

// StartDayRollover runs the day-boundary sweep once immediately and then on
// every tick, so a break never silently spans midnight.
func StartDayRollover(ctx context.Context, sessions *track.Manager, machine *track.Machine, rec metrics.Recorder, log *slog.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	run := func() {
		tickCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		changed, err := sessions.RunSweep(tickCtx, machine)
		if err != nil && !track.IsWarning(err) {
			log.Error("day sweep failed", "err", err)
			return
		}
		rec.RecordSweep(changed)
		if changed {
			log.Info("day sweep reset active break")
		}
	}

	run()
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

// StartBreakMonitor checks the open break against the configured limit.
func StartBreakMonitor(ctx context.Context, syncer *track.Syncer, log *slog.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				if err := syncer.CheckBreakExceeded(tickCtx); err != nil {
					log.Warn("break monitor check failed", "err", err)
				}
				cancel()
			}
		}
	}()
}
