package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/gyaneshwarpardhi/vigil/internal/alert"
	"github.com/gyaneshwarpardhi/vigil/internal/api"
	"github.com/gyaneshwarpardhi/vigil/internal/channel"
	"github.com/gyaneshwarpardhi/vigil/internal/config"
	"github.com/gyaneshwarpardhi/vigil/internal/delivery"
	"github.com/gyaneshwarpardhi/vigil/internal/engine"
	"github.com/gyaneshwarpardhi/vigil/internal/escalation"
	"github.com/gyaneshwarpardhi/vigil/internal/event"
	"github.com/gyaneshwarpardhi/vigil/internal/incident"
	"github.com/gyaneshwarpardhi/vigil/internal/queue"
	"github.com/gyaneshwarpardhi/vigil/internal/rules"
	"github.com/gyaneshwarpardhi/vigil/internal/store/memory"
	"github.com/gyaneshwarpardhi/vigil/internal/store/postgres"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	cfgPath := flag.String("config", "configs/rules.yaml", "Path to rules YAML config")
	pgDSN := flag.String("postgres-dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (empty: in-memory stores)")
	redisAddr := flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "Redis address for the wake-up queue (empty: in-memory queue)")
	smtpAddr := flag.String("smtp-addr", "localhost:25", "SMTP relay address")
	smtpFrom := flag.String("smtp-from", "vigil@localhost", "Email sender address")
	telephonyURL := flag.String("telephony-url", os.Getenv("TELEPHONY_URL"), "Telephony provider endpoint")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}

	// ── Build initial ruleset ─────────────────────────────────────────────────
	rs, err := rules.Build(cfg)
	if err != nil {
		slog.Error("failed to build ruleset", "err", err)
		os.Exit(1)
	}
	slog.Info("ruleset built", "version", cfg.Version, "categories", len(cfg.Categories))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Stores ────────────────────────────────────────────────────────────────
	var (
		eventStore event.Store
		alertStore alert.Store
		incStore   incident.Store
		stepStore  escalation.StepStore
		directory  channel.Directory
	)
	if *pgDSN != "" {
		pool, err := postgres.Connect(ctx, *pgDSN)
		if err != nil {
			slog.Error("postgres connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		eventStore = postgres.NewEventStore(pool)
		alertStore = postgres.NewAlertStore(pool)
		incStore = postgres.NewIncidentStore(pool)
		stepStore = postgres.NewStepStore(pool)
		directory = postgres.NewDirectory(pool)
		slog.Info("using postgres stores")
	} else {
		eventStore = memory.NewEventStore()
		alertStore = memory.NewAlertStore()
		incStore = memory.NewIncidentStore()
		stepStore = memory.NewStepStore()
		directory = &channel.StaticDirectory{}
		slog.Warn("no postgres DSN, using in-memory stores (data is lost on restart)")
	}

	// ── Wake-up queue ─────────────────────────────────────────────────────────
	var wakeQueue queue.Queue
	if *redisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := rc.Ping(ctx).Err(); err != nil {
			slog.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer rc.Close()
		wakeQueue = queue.NewRedis(rc, "vigil:escalation:due")
		slog.Info("using redis wake-up queue", "addr", *redisAddr)
	} else {
		wakeQueue = queue.NewMemory()
		slog.Warn("no redis address, using in-memory wake-up queue")
	}

	// ── Channels ──────────────────────────────────────────────────────────────
	sendTimeout := time.Duration(cfg.Delivery.SendTimeoutMs) * time.Millisecond
	email := channel.NewSMTP(*smtpAddr, *smtpFrom, sendTimeout)
	provider := channel.NewHTTPProvider(*telephonyURL, &http.Client{Timeout: sendTimeout})
	caller := channel.NewCaller(provider, channel.CallerConfig{
		CriticalWindow: time.Duration(cfg.Call.CriticalWindowSeconds) * time.Second,
		MaxPerEvent:    cfg.Call.MaxPerEvent,
	})
	caller.StartSweeper(ctx, time.Duration(cfg.Call.SweepIntervalMinutes)*time.Minute, 24*time.Hour)

	// ── Escalation scheduler and state machine ────────────────────────────────
	ladder := make([]escalation.Level, 0, len(cfg.Escalation.Levels))
	for _, lv := range cfg.Escalation.Levels {
		ladder = append(ladder, escalation.Level{
			Delay:  time.Duration(lv.DelayMinutes) * time.Minute,
			Method: lv.Method,
		})
	}
	sched := escalation.NewScheduler(stepStore, wakeQueue, ladder)
	machine := incident.NewMachine(incStore, sched)

	// ── Engine ────────────────────────────────────────────────────────────────
	ruleEngine := rules.NewEngine(alertStore, incStore, time.Duration(cfg.Engine.MinLeadSeconds)*time.Second)
	eng := engine.New(ctx, rs, eventStore, ruleEngine, cfg.Engine)

	// ── Workers ───────────────────────────────────────────────────────────────
	deliveryWorker := delivery.New(alertStore, eventStore, email, caller, directory, eng.Ruleset, delivery.Config{
		PollInterval: time.Duration(cfg.Delivery.PollIntervalMs) * time.Millisecond,
		BatchSize:    cfg.Delivery.BatchSize,
		SendTimeout:  sendTimeout,
	})
	go deliveryWorker.Start(ctx)

	escalationWorker := escalation.NewWorker(stepStore, incStore, eventStore, sched, wakeQueue, email, caller, directory, escalation.WorkerConfig{
		PollInterval:      time.Duration(cfg.Escalation.PollIntervalMs) * time.Millisecond,
		ReconcileInterval: time.Duration(cfg.Escalation.ReconcileIntervalMs) * time.Millisecond,
	})
	go escalationWorker.Start(ctx)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.RuleConfig) {
		if err := config.Validate(newCfg); err != nil {
			slog.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		newRules, err := rules.Build(newCfg)
		if err != nil {
			slog.Warn("hot-reload skipped: ruleset build failed", "err", err)
			return
		}
		eng.SwapRuleset(newRules)
		slog.Info("ruleset hot-reloaded", "version", newCfg.Version, "categories", len(newCfg.Categories))
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(eng, loader, eventStore, incStore, machine)
	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel() // stop workers and pools
	eng.Shutdown()
	slog.Info("goodbye")
}
