package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"radarss/internal/cache"
	"radarss/internal/config"
	"radarss/internal/radarr"
	"radarss/internal/rss"
	"radarss/internal/scheduler"
	"radarss/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.ErrorContext(ctx, "Failed to load configuration",
			"error", err)

		return
	}
	log.InfoContext(ctx, "Configuration is loaded",
		"radarrURL", cfg.RadarrURL,
		"refreshFrequency", cfg.RefreshFrequency.String(),
		"cacheTTL", cfg.CacheTTL.String())

	store, err := cache.New(ctx, cfg.DBPath, cfg.CacheTTL, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize cache store",
			"error", err,
			"dbPath", cfg.DBPath)

		return
	}
	defer func() {
		if err = store.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close cache store",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()

	materializer, err := rss.New(cfg.FeedDir, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize feed directory",
			"error", err,
			"feedDir", cfg.FeedDir)

		return
	}

	client := radarr.New(cfg.RadarrURL, cfg.RadarrAPIKey, log)

	sched := scheduler.New(ctx, store, client, materializer, scheduler.Config{
		Frequency:           cfg.RefreshFrequency,
		CalendarDaysAhead:   cfg.CalendarDaysAhead,
		CalendarUnmonitored: cfg.CalendarUnmonitored,
		QueuePageSize:       cfg.QueuePageSize,
		QueueIncludeUnknown: cfg.QueueIncludeUnknown,
	}, log)

	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"interval", sched.Interval().String())

		return
	}
	defer sched.Stop()

	app := server.New(&server.Config{
		Refresher: sched,
		Cache:     store,
		Artifacts: materializer,
		Log:       log,
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		log.InfoContext(ctx, "HTTP server is starting",
			"addr", addr)

		if listenErr := app.Listen(addr); listenErr != nil {
			log.ErrorContext(ctx, "HTTP server stopped",
				"error", listenErr,
				"addr", addr)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.InfoContext(ctx, "Shutdown signal is received",
		"signal", sig.String())
	cancel()

	if err = app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.ErrorContext(ctx, "Failed to shut down HTTP server",
			"error", err)
	}

	log.InfoContext(ctx, "Exiting...",
		"signal", sig.String(),
		"uptimeSeconds", time.Since(start).Seconds())
}
