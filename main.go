package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/runbox-dev/runbox/internal/audit"
	"github.com/runbox-dev/runbox/internal/config"
	"github.com/runbox-dev/runbox/internal/database"
	"github.com/runbox-dev/runbox/internal/events"
	"github.com/runbox-dev/runbox/internal/executor"
	"github.com/runbox-dev/runbox/internal/handlers"
	"github.com/runbox-dev/runbox/internal/logging"
	"github.com/runbox-dev/runbox/internal/policy"
	"github.com/runbox-dev/runbox/internal/session"
)

func main() {
	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	pol, err := policy.LoadFile(config.Cfg.PolicyPath)
	if err != nil {
		log.Fatalf("Policy load: %v", err)
	}
	log.Printf("Command policy: %d allowed, %d dangerous, %d blocked, %d block patterns",
		len(pol.AllowedCommands()), len(pol.DangerousCommands()),
		len(pol.BlockedCommands()), len(pol.BlockPatterns()))

	auditor := audit.NewRecorder(database.DB, config.Cfg.AuditRetentionDays)
	broadcaster := events.NewBroadcaster(config.Cfg.EventBufferSize)
	runner := executor.NewRunner(
		time.Duration(config.Cfg.DefaultCommandTimeoutMs)*time.Millisecond,
		time.Duration(config.Cfg.MaxCommandTimeoutMs)*time.Millisecond,
	)

	idleTimeout, err := time.ParseDuration(config.Cfg.SessionIdleTimeout)
	if err != nil {
		idleTimeout = 30 * time.Minute
	}
	manager := session.NewManager(session.Config{
		MaxSessions: config.Cfg.MaxSessions,
		IdleTimeout: idleTimeout,
		OutputCap:   config.Cfg.OutputBufferSize,
		Policy:      pol,
		Runner:      runner,
		Events:      broadcaster,
		Audit:       auditor,
	})
	log.Printf("Session manager initialized (max_sessions=%d, idle_timeout=%s, output_cap=%d)",
		config.Cfg.MaxSessions, idleTimeout, config.Cfg.OutputBufferSize)

	handlers.Sessions = manager
	handlers.Events = broadcaster
	handlers.Audit = auditor
	handlers.Policy = pol
	handlers.Runner = runner

	// Scheduled audit retention purge
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(config.Cfg.AuditPurgeSchedule, func() {
		purgeExpiredExecutions(auditor)
	}); err != nil {
		log.Printf("WARNING: invalid audit purge schedule %q: %v", config.Cfg.AuditPurgeSchedule, err)
	} else {
		scheduler.Start()
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health
	r.Get("/health", handlers.HealthCheck)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Sessions
		r.Get("/sessions", handlers.ListSessions)
		r.Post("/sessions", handlers.CreateSession)
		r.Get("/sessions/{id}", handlers.GetSession)
		r.Delete("/sessions/{id}", handlers.DeleteSession)
		r.Post("/sessions/{id}/execute", handlers.ExecuteCommand)
		r.Get("/sessions/{id}/output", handlers.GetSessionOutput)

		// Event feed (SSE and WebSocket)
		r.Get("/events", handlers.StreamEvents)
		r.Get("/events/ws", handlers.EventsWS)

		// Introspection
		r.Get("/commands", handlers.ListCommands)
		r.Get("/status", handlers.GetStatus)

		// Execution history
		r.Get("/executions", handlers.GetExecutions)
		r.Post("/executions/purge", handlers.PurgeExecutions)

		// Service logs
		r.Get("/service/logs", handlers.GetServerLogs)
		r.Delete("/service/logs", handlers.ClearServerLogs)
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	scheduler.Stop()

	// Destroy sessions first so child processes die, then close the feed
	// so streaming handlers drain and let Shutdown finish.
	manager.Stop()
	broadcaster.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
