// Package server exposes the feed artifacts and the manual control
// surface over HTTP. It is thin plumbing around the scheduler, the
// cache store, and the artifact reader.
package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"radarss/internal/domain"
	"radarss/internal/rss"
	"radarss/internal/scheduler"
)

type Refresher interface {
	RunCycle(ctx context.Context, kind string) error
	Status(ctx context.Context) *scheduler.Status
}

type CacheClearer interface {
	Clear(ctx context.Context, kind domain.FeedKind) error
	ClearAll(ctx context.Context) error
}

type ArtifactReader interface {
	Read(kind domain.FeedKind) ([]byte, bool, error)
}

type Config struct {
	Refresher Refresher
	Cache     CacheClearer
	Artifacts ArtifactReader
	Log       *slog.Logger
}

func New(cfg *Config) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	log := cfg.Log
	started := time.Now()

	// Request latency middleware.
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		log.Info("Request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latencyMs", time.Since(start).Milliseconds())

		return err
	})

	app.Use(requestid.New())
	app.Use(compress.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":        "ok",
			"uptimeSeconds": int64(time.Since(started).Seconds()),
		})
	})

	app.Get("/feeds/:kind", func(c *fiber.Ctx) error {
		kind, err := parseKindParam(c.Params("kind"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}

		body, ok, err := cfg.Artifacts.Read(kind)
		if err != nil {
			log.Error("Failed to read artifact",
				"error", err,
				"kind", string(kind))

			return fiber.NewError(fiber.StatusInternalServerError, "failed to read feed")
		}
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "feed not materialized yet")
		}

		c.Set(fiber.HeaderContentType, rss.ContentType)

		return c.Send(body)
	})

	refresh := func(c *fiber.Ctx, kind string) error {
		if err := cfg.Refresher.RunCycle(c.Context(), kind); err != nil {
			return feedError(c, err)
		}

		return c.JSON(fiber.Map{"refreshed": kindOrAll(kind)})
	}

	app.Post("/api/refresh", func(c *fiber.Ctx) error {
		return refresh(c, "")
	})

	app.Post("/api/refresh/:kind", func(c *fiber.Ctx) error {
		return refresh(c, c.Params("kind"))
	})

	app.Delete("/api/cache", func(c *fiber.Ctx) error {
		if err := cfg.Cache.ClearAll(c.Context()); err != nil {
			return feedError(c, err)
		}

		return c.JSON(fiber.Map{"cleared": "all"})
	})

	app.Delete("/api/cache/:kind", func(c *fiber.Ctx) error {
		kind, err := domain.ParseKind(c.Params("kind"))
		if err != nil {
			return feedError(c, err)
		}

		if err = cfg.Cache.Clear(c.Context(), kind); err != nil {
			return feedError(c, err)
		}

		return c.JSON(fiber.Map{"cleared": string(kind)})
	})

	app.Get("/api/status", func(c *fiber.Ctx) error {
		return c.JSON(cfg.Refresher.Status(c.Context()))
	})

	return app
}

func parseKindParam(param string) (domain.FeedKind, error) {
	return domain.ParseKind(strings.TrimSuffix(param, ".xml"))
}

func kindOrAll(kind string) string {
	if kind == "" {
		return "all"
	}

	return kind
}

func feedError(c *fiber.Ctx, err error) error {
	var (
		unknownKind *domain.UnknownFeedKindError
		upstream    *domain.UpstreamError
		storage     *domain.StorageError
	)

	switch {
	case errors.As(err, &unknownKind):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.As(err, &upstream):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	case errors.As(err, &storage):
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
