package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"timecard/attendance/internal/config"
	"timecard/attendance/internal/db"
	"timecard/attendance/internal/directory"
	internalhttp "timecard/attendance/internal/http"
	"timecard/attendance/internal/jobs"
	"timecard/attendance/internal/logger"
	"timecard/attendance/internal/metrics"
	"timecard/attendance/internal/notify"
	"timecard/attendance/internal/store"
	"timecard/attendance/internal/timelog"
	"timecard/attendance/internal/track"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	dbStore := db.NewStore(pool)

	var sessionStore store.Store
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Error("redis ping failed", "error", err)
			os.Exit(1)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Warn("redis close error", "error", err)
			}
		}()
		sessionStore = store.NewRedis(redisClient, "timecard")
	} else {
		log.Warn("no redis configured, session state is process local")
		sessionStore = store.NewMemory()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(registry)

	dir := directory.New(dbStore)
	logs := timelog.New(dbStore)

	var notifier track.Notifier = notify.Noop{}
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhook(cfg.NotifyWebhookURL, cfg.RemoteTimeout)
	}

	cutoffHour, cutoffMinute, err := config.ParseClock(cfg.LatenessCutoff)
	cutoffEnabled := err == nil
	if err != nil {
		log.Warn("lateness cutoff disabled", "value", cfg.LatenessCutoff, "error", err)
	}

	sessions := track.NewManager(sessionStore, dir, log)
	machine := track.NewMachine(sessionStore, log, time.Now)
	syncer := track.NewSyncer(sessions, machine, logs, notifier, dir, sessionStore, recorder, log, track.SyncerConfig{
		RemoteTimeout: cfg.RemoteTimeout,
		CutoffEnabled: cutoffEnabled,
		CutoffHour:    cutoffHour,
		CutoffMinute:  cutoffMinute,
		BreakLimit:    cfg.BreakLimit,
	}, time.Now)

	restoreCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := sessions.Restore(restoreCtx); err != nil {
		log.Warn("session restore failed", "error", err)
	}
	cancel()

	jobs.StartDayRollover(ctx, sessions, machine, recorder, log, cfg.SweepInterval)
	jobs.StartBreakMonitor(ctx, syncer, log, cfg.SweepInterval)

	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	server := internalhttp.NewServer(cfg, sessions, machine, syncer, dir, logs, metricsHandler, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("attendance http listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", "error", err)
	}
}
