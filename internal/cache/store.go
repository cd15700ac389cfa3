package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // Required by the library implementation.

	"radarss/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the durable cache keyed by feed kind. Freshness is decided
// against the configured TTL on read; stale rows stay in place until
// overwritten or cleared, they are just never returned as hits.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
	log *slog.Logger
}

func New(ctx context.Context, dbPath string, ttl time.Duration, log *slog.Logger) (*Store, error) {
	dbFile, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open DB file: %w", err)
	}

	dbInstance, err := sqlite3.WithInstance(dbFile, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("create DB instance: %w", err)
	}

	srcInstance, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("create source instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcInstance, "sqlite3", dbInstance)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	log.InfoContext(ctx, "Cache store is migrated",
		"dbPath", dbPath,
		"ttl", ttl.String())

	return &Store{
		db:  dbFile,
		ttl: ttl,
		now: time.Now,
		log: log,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached payload for kind, or ok=false when the entry
// is missing or its age has reached the TTL. Stale and missing are
// indistinguishable to the caller.
func (s *Store) Get(ctx context.Context, kind domain.FeedKind) ([]byte, bool, error) {
	query := "select payload, updated_at from cache_entries where feed_kind = ?"

	var (
		payload    []byte
		updatedRaw string
	)

	err := s.db.QueryRowContext(ctx, query, string(kind)).Scan(&payload, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &domain.StorageError{Op: "get", Err: err}
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, updatedRaw)
	if err != nil {
		return nil, false, &domain.StorageError{Op: "get", Err: fmt.Errorf("parse updated_at: %w", err)}
	}

	if s.now().Sub(updatedAt) >= s.ttl {
		return nil, false, nil
	}

	return payload, true, nil
}

// Put upserts the entry for kind. created_at is set only on first
// insert; updated_at is reset to now on every write.
func (s *Store) Put(ctx context.Context, kind domain.FeedKind, payload []byte) error {
	now := s.now().UTC().Format(time.RFC3339Nano)

	query := `insert into cache_entries (feed_kind, payload, created_at, updated_at)
	values (?, ?, ?, ?)
	on conflict (feed_kind) do update
	set payload = excluded.payload, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, string(kind), payload, now, now); err != nil {
		return &domain.StorageError{Op: "put", Err: err}
	}

	return nil
}

// Clear deletes one entry. Clearing an absent entry is not an error.
func (s *Store) Clear(ctx context.Context, kind domain.FeedKind) error {
	query := "delete from cache_entries where feed_kind = ?"

	if _, err := s.db.ExecContext(ctx, query, string(kind)); err != nil {
		return &domain.StorageError{Op: "clear", Err: err}
	}

	return nil
}

// ClearAll deletes every entry.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "delete from cache_entries"); err != nil {
		return &domain.StorageError{Op: "clear-all", Err: err}
	}

	return nil
}

// RecordStatus upserts the per-kind refresh status. Every refresh
// attempt, successful or not, ends with exactly one such write.
func (s *Store) RecordStatus(ctx context.Context, status domain.FeedStatus) error {
	var lastFetch any
	if status.LastFetch != nil {
		lastFetch = status.LastFetch.UTC().Format(time.RFC3339Nano)
	}

	var errorMessage any
	if status.Error != "" {
		errorMessage = status.Error
	}

	query := `insert into feed_statuses (feed_kind, last_fetch, item_count, state, error_message)
	values (?, ?, ?, ?, ?)
	on conflict (feed_kind) do update
	set last_fetch = excluded.last_fetch,
		item_count = excluded.item_count,
		state = excluded.state,
		error_message = excluded.error_message`

	_, err := s.db.ExecContext(ctx, query,
		string(status.Kind), lastFetch, status.ItemCount, string(status.State), errorMessage)
	if err != nil {
		return &domain.StorageError{Op: "record-status", Err: err}
	}

	return nil
}

// Statistics returns the observability aggregate. An empty store yields
// empty collections, not an error.
func (s *Store) Statistics(ctx context.Context) (*domain.Statistics, error) {
	statuses, err := s.feedStatuses(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := s.entrySummaries(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.Statistics{
		Statuses:     statuses,
		Entries:      entries,
		TotalEntries: len(entries),
	}, nil
}

func (s *Store) feedStatuses(ctx context.Context) ([]domain.FeedStatus, error) {
	query := `select feed_kind, last_fetch, item_count, state, error_message
	from feed_statuses
	order by feed_kind`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &domain.StorageError{Op: "statistics", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			s.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", "feedStatuses")
		}
	}()

	statuses := []domain.FeedStatus{}
	for rows.Next() {
		var (
			status       domain.FeedStatus
			kind         string
			state        string
			lastFetchRaw sql.NullString
			errorMessage sql.NullString
		)

		if err = rows.Scan(&kind, &lastFetchRaw, &status.ItemCount, &state, &errorMessage); err != nil {
			return nil, &domain.StorageError{Op: "statistics", Err: fmt.Errorf("scan row: %w", err)}
		}

		status.Kind = domain.FeedKind(kind)
		status.State = domain.FeedState(state)
		status.Error = errorMessage.String

		if lastFetchRaw.Valid {
			lastFetch, parseErr := time.Parse(time.RFC3339Nano, lastFetchRaw.String)
			if parseErr != nil {
				return nil, &domain.StorageError{Op: "statistics", Err: fmt.Errorf("parse last_fetch: %w", parseErr)}
			}
			status.LastFetch = &lastFetch
		}

		statuses = append(statuses, status)
	}

	if err = rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "statistics", Err: fmt.Errorf("iterate rows: %w", err)}
	}

	return statuses, nil
}

func (s *Store) entrySummaries(ctx context.Context) ([]domain.EntrySummary, error) {
	query := `select feed_kind, created_at, updated_at, length(payload)
	from cache_entries
	order by feed_kind`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &domain.StorageError{Op: "statistics", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			s.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", "entrySummaries")
		}
	}()

	entries := []domain.EntrySummary{}
	for rows.Next() {
		var (
			entry      domain.EntrySummary
			kind       string
			createdRaw string
			updatedRaw string
		)

		if err = rows.Scan(&kind, &createdRaw, &updatedRaw, &entry.Size); err != nil {
			return nil, &domain.StorageError{Op: "statistics", Err: fmt.Errorf("scan row: %w", err)}
		}

		entry.Kind = domain.FeedKind(kind)

		if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdRaw); err != nil {
			return nil, &domain.StorageError{Op: "statistics", Err: fmt.Errorf("parse created_at: %w", err)}
		}
		if entry.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedRaw); err != nil {
			return nil, &domain.StorageError{Op: "statistics", Err: fmt.Errorf("parse updated_at: %w", err)}
		}

		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "statistics", Err: fmt.Errorf("iterate rows: %w", err)}
	}

	return entries, nil
}
