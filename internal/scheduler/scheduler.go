// Package scheduler drives periodic and on-demand refresh cycles: it
// decides cache-or-fetch per feed kind, materializes artifacts, and
// records the outcome of every attempt.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"radarss/internal/domain"
	"radarss/internal/radarr"
	"radarss/internal/rss"
)

// CacheStore is the slice of the cache the scheduler needs.
type CacheStore interface {
	Get(ctx context.Context, kind domain.FeedKind) ([]byte, bool, error)
	Put(ctx context.Context, kind domain.FeedKind, payload []byte) error
	RecordStatus(ctx context.Context, status domain.FeedStatus) error
	Statistics(ctx context.Context) (*domain.Statistics, error)
}

// Fetcher is the remote data source client, one method per feed kind.
type Fetcher interface {
	FetchCalendar(ctx context.Context, params radarr.CalendarParams) (json.RawMessage, error)
	FetchNotifications(ctx context.Context) (json.RawMessage, error)
	FetchQueue(ctx context.Context, params radarr.QueueParams) (json.RawMessage, error)
}

// Materializer renders and persists the servable artifact for a kind.
type Materializer interface {
	Materialize(kind domain.FeedKind, payload []byte) (*rss.Document, error)
	Write(kind domain.FeedKind, doc *rss.Document) error
}

type Config struct {
	Frequency           time.Duration
	CalendarDaysAhead   int
	CalendarUnmonitored bool
	QueuePageSize       int
	QueueIncludeUnknown bool
}

type Scheduler struct {
	ctx     context.Context
	cron    *cron.Cron
	store   CacheStore
	fetcher Fetcher
	mat     Materializer
	cfg     Config
	log     *slog.Logger

	mu      sync.Mutex
	running bool
	entryID cron.EntryID

	kindMu map[domain.FeedKind]*sync.Mutex
}

func New(
	ctx context.Context,
	store CacheStore,
	fetcher Fetcher,
	mat Materializer,
	cfg Config,
	log *slog.Logger,
) *Scheduler {
	kindMu := make(map[domain.FeedKind]*sync.Mutex, len(domain.AllKinds()))
	for _, kind := range domain.AllKinds() {
		kindMu[kind] = &sync.Mutex{}
	}

	return &Scheduler{
		ctx:     ctx,
		cron:    cron.New(),
		store:   store,
		fetcher: fetcher,
		mat:     mat,
		cfg:     cfg,
		log:     log,
		kindMu:  kindMu,
	}
}

// Start registers the recurring refresh job and kicks off one immediate
// cycle. Calling Start while already running is a no-op: exactly one
// scheduled job exists at a time.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Warn("Scheduler already running, ignoring start",
			"interval", s.Interval().String())

		return nil
	}

	interval := s.Interval()
	spec := "@every " + interval.String()

	entryID, err := s.cron.AddFunc(spec, s.scheduledCycle)
	if err != nil {
		return fmt.Errorf("register refresh job: %w", err)
	}

	s.entryID = entryID
	s.running = true
	s.cron.Start()

	s.log.Info("Scheduler is started",
		"spec", spec,
		"configuredFrequency", s.cfg.Frequency.String())

	// First refresh happens now rather than one interval from now.
	go s.scheduledCycle()

	return nil
}

// Stop cancels the recurring job. Safe to call when already stopped.
// In-flight cycles are not cancelled; only future ones are prevented.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cron.Remove(s.entryID)
	s.cron.Stop()
	s.running = false

	s.log.Info("Scheduler is stopped")
}

// Interval is the effective recurrence interval: the configured
// frequency ceiled to whole minutes, never below one minute.
func (s *Scheduler) Interval() time.Duration {
	d := s.cfg.Frequency
	if d <= time.Minute {
		return time.Minute
	}
	if rem := d % time.Minute; rem != 0 {
		d += time.Minute - rem
	}

	return d
}

func (s *Scheduler) scheduledCycle() {
	if err := s.RunCycle(s.ctx, ""); err != nil {
		s.log.Error("Refresh cycle finished with errors",
			"error", err)
	}
}

// RunCycle refreshes one kind, or all three concurrently when kind is
// empty. Kinds fail independently: one kind's failure never aborts or
// delays the others. An unknown kind is rejected before any I/O.
func (s *Scheduler) RunCycle(ctx context.Context, kind string) error {
	if kind != "" {
		parsed, err := domain.ParseKind(kind)
		if err != nil {
			return err
		}

		return s.refreshKind(ctx, parsed)
	}

	kinds := domain.AllKinds()

	var wg sync.WaitGroup
	errs := make([]error, len(kinds))

	for i, k := range kinds {
		wg.Add(1)

		go func(i int, k domain.FeedKind) {
			defer wg.Done()
			errs[i] = s.refreshKind(ctx, k)
		}(i, k)
	}

	wg.Wait()

	return errors.Join(errs...)
}

// refreshKind is the per-kind cache-or-fetch algorithm. A fresh cache
// entry suppresses the upstream call entirely. Every attempt ends in
// exactly one status write, success or error.
func (s *Scheduler) refreshKind(ctx context.Context, kind domain.FeedKind) error {
	mu := s.kindMu[kind]
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()

	payload, hit, err := s.store.Get(ctx, kind)
	if err != nil {
		s.recordFailure(ctx, kind, err)
		return fmt.Errorf("read cache for %s: %w", kind, err)
	}

	if hit {
		s.log.Debug("Cache hit, skipping upstream fetch",
			"kind", string(kind))
	} else {
		payload, err = s.fetch(ctx, kind)
		if err != nil {
			s.recordFailure(ctx, kind, err)
			return fmt.Errorf("fetch %s: %w", kind, err)
		}

		if err = s.store.Put(ctx, kind, payload); err != nil {
			s.recordFailure(ctx, kind, err)
			return fmt.Errorf("cache %s: %w", kind, err)
		}
	}

	doc, err := s.mat.Materialize(kind, payload)
	if err != nil {
		s.recordFailure(ctx, kind, err)
		return fmt.Errorf("materialize %s: %w", kind, err)
	}

	if err = s.mat.Write(kind, doc); err != nil {
		s.recordFailure(ctx, kind, err)
		return fmt.Errorf("persist %s artifact: %w", kind, err)
	}

	now := time.Now()
	status := domain.FeedStatus{
		Kind:      kind,
		LastFetch: &now,
		ItemCount: doc.ItemCount,
		State:     domain.StateSuccess,
	}
	if err = s.store.RecordStatus(ctx, status); err != nil {
		return fmt.Errorf("record %s status: %w", kind, err)
	}

	s.log.Info("Feed refreshed",
		"kind", string(kind),
		"cacheHit", hit,
		"itemCount", doc.ItemCount,
		"durationMs", time.Since(start).Milliseconds())

	return nil
}

func (s *Scheduler) fetch(ctx context.Context, kind domain.FeedKind) (json.RawMessage, error) {
	switch kind {
	case domain.KindCalendar:
		now := time.Now().UTC()
		return s.fetcher.FetchCalendar(ctx, radarr.CalendarParams{
			Start:       now,
			End:         now.AddDate(0, 0, s.cfg.CalendarDaysAhead),
			Unmonitored: s.cfg.CalendarUnmonitored,
		})
	case domain.KindNotification:
		return s.fetcher.FetchNotifications(ctx)
	case domain.KindQueue:
		return s.fetcher.FetchQueue(ctx, radarr.QueueParams{
			PageSize:                 s.cfg.QueuePageSize,
			IncludeUnknownMovieItems: s.cfg.QueueIncludeUnknown,
		})
	}

	return nil, &domain.UnknownFeedKindError{Kind: string(kind)}
}

// recordFailure writes the error status for a failed attempt. Failing
// to write the status must not mask the primary failure, so it is only
// logged. The prior artifact, if any, stays untouched and servable.
func (s *Scheduler) recordFailure(ctx context.Context, kind domain.FeedKind, cause error) {
	status := domain.FeedStatus{
		Kind:  kind,
		State: domain.StateError,
		Error: cause.Error(),
	}

	if err := s.store.RecordStatus(ctx, status); err != nil {
		s.log.Error("Failed to record error status",
			"error", err,
			"kind", string(kind),
			"cause", cause)
	}
}

// Status reports the scheduler and store state. A store failure
// degrades to an error string instead of failing the call.
type Status struct {
	Running         bool                  `json:"running"`
	Frequency       string                `json:"frequency"`
	Interval        string                `json:"interval"`
	ActiveJobs      []string              `json:"activeJobs"`
	LastFetchByKind map[string]*time.Time `json:"lastFetchByKind"`
	Store           *domain.Statistics    `json:"storeStatistics,omitempty"`
	StoreError      string                `json:"storeError,omitempty"`
}

func (s *Scheduler) Status(ctx context.Context) *Status {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	status := &Status{
		Running:         running,
		Frequency:       s.cfg.Frequency.String(),
		Interval:        s.Interval().String(),
		ActiveJobs:      []string{},
		LastFetchByKind: make(map[string]*time.Time, len(domain.AllKinds())),
	}

	if running {
		status.ActiveJobs = append(status.ActiveJobs, "refresh-cycle")
	}

	for _, kind := range domain.AllKinds() {
		status.LastFetchByKind[string(kind)] = nil
	}

	stats, err := s.store.Statistics(ctx)
	if err != nil {
		status.StoreError = err.Error()
		return status
	}

	status.Store = stats
	for _, feedStatus := range stats.Statuses {
		status.LastFetchByKind[string(feedStatus.Kind)] = feedStatus.LastFetch
	}

	return status
}
