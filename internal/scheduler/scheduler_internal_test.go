package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"radarss/internal/domain"
	"radarss/internal/radarr"
	"radarss/internal/rss"
)

type stubStore struct {
	mu       sync.Mutex
	entries  map[domain.FeedKind][]byte
	statuses map[domain.FeedKind]domain.FeedStatus

	getCalls    int
	putCalls    int
	statsErr    error
	recordCalls int
}

func newStubStore() *stubStore {
	return &stubStore{
		entries:  make(map[domain.FeedKind][]byte),
		statuses: make(map[domain.FeedKind]domain.FeedStatus),
	}
}

func (s *stubStore) Get(_ context.Context, kind domain.FeedKind) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++

	payload, ok := s.entries[kind]

	return payload, ok, nil
}

func (s *stubStore) Put(_ context.Context, kind domain.FeedKind, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	s.entries[kind] = payload

	return nil
}

func (s *stubStore) RecordStatus(_ context.Context, status domain.FeedStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordCalls++
	s.statuses[status.Kind] = status

	return nil
}

func (s *stubStore) Statistics(context.Context) (*domain.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.statsErr != nil {
		return nil, s.statsErr
	}

	stats := &domain.Statistics{Statuses: []domain.FeedStatus{}, Entries: []domain.EntrySummary{}}
	for _, status := range s.statuses {
		stats.Statuses = append(stats.Statuses, status)
	}

	return stats, nil
}

func (s *stubStore) status(kind domain.FeedKind) (domain.FeedStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.statuses[kind]

	return status, ok
}

type stubFetcher struct {
	mu       sync.Mutex
	payloads map[domain.FeedKind]json.RawMessage
	errs     map[domain.FeedKind]error
	calls    map[domain.FeedKind]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		payloads: map[domain.FeedKind]json.RawMessage{
			domain.KindCalendar:     json.RawMessage(`[]`),
			domain.KindNotification: json.RawMessage(`[]`),
			domain.KindQueue:        json.RawMessage(`[]`),
		},
		errs:  make(map[domain.FeedKind]error),
		calls: make(map[domain.FeedKind]int),
	}
}

func (f *stubFetcher) fetch(kind domain.FeedKind) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[kind]++

	if err := f.errs[kind]; err != nil {
		return nil, err
	}

	return f.payloads[kind], nil
}

func (f *stubFetcher) FetchCalendar(context.Context, radarr.CalendarParams) (json.RawMessage, error) {
	return f.fetch(domain.KindCalendar)
}

func (f *stubFetcher) FetchNotifications(context.Context) (json.RawMessage, error) {
	return f.fetch(domain.KindNotification)
}

func (f *stubFetcher) FetchQueue(context.Context, radarr.QueueParams) (json.RawMessage, error) {
	return f.fetch(domain.KindQueue)
}

func (f *stubFetcher) callCount(kind domain.FeedKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[kind]
}

type stubMaterializer struct {
	mu         sync.Mutex
	writes     map[domain.FeedKind]int
	writeErr   error
	materErr   error
	lastCounts map[domain.FeedKind]int
}

func newStubMaterializer() *stubMaterializer {
	return &stubMaterializer{
		writes:     make(map[domain.FeedKind]int),
		lastCounts: make(map[domain.FeedKind]int),
	}
}

func (m *stubMaterializer) Materialize(kind domain.FeedKind, payload []byte) (*rss.Document, error) {
	if m.materErr != nil {
		return nil, m.materErr
	}

	var list []json.RawMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &list); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.lastCounts[kind] = len(list)
	m.mu.Unlock()

	return &rss.Document{Bytes: []byte("<rss/>"), ItemCount: len(list)}, nil
}

func (m *stubMaterializer) Write(kind domain.FeedKind, _ *rss.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes[kind]++

	return nil
}

func (m *stubMaterializer) writeCount(kind domain.FeedKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.writes[kind]
}

func newTestScheduler(store *stubStore, fetcher *stubFetcher, mat *stubMaterializer) *Scheduler {
	return New(context.Background(), store, fetcher, mat, Config{
		Frequency:           30 * time.Minute,
		CalendarDaysAhead:   90,
		CalendarUnmonitored: true,
		QueuePageSize:       100,
		QueueIncludeUnknown: true,
	}, slog.Default())
}

func TestRunCycleRejectsUnknownKindBeforeIO(t *testing.T) {
	store := newStubStore()
	fetcher := newStubFetcher()
	sched := newTestScheduler(store, fetcher, newStubMaterializer())

	err := sched.RunCycle(context.Background(), "bogus")
	if err == nil {
		t.Fatalf("expected error for unknown kind")
	}

	var unknownKind *domain.UnknownFeedKindError
	if !errors.As(err, &unknownKind) {
		t.Fatalf("expected UnknownFeedKindError, got %T: %v", err, err)
	}

	if store.getCalls != 0 || store.putCalls != 0 || store.recordCalls != 0 {
		t.Fatalf("expected no store I/O, got get=%d put=%d record=%d",
			store.getCalls, store.putCalls, store.recordCalls)
	}

	for _, kind := range domain.AllKinds() {
		if fetcher.callCount(kind) != 0 {
			t.Fatalf("expected no upstream calls, %s was fetched", kind)
		}
	}
}

func TestRunCycleCacheHitSkipsUpstream(t *testing.T) {
	store := newStubStore()
	store.entries[domain.KindCalendar] = []byte(`[{"id": 1}]`)
	fetcher := newStubFetcher()
	mat := newStubMaterializer()
	sched := newTestScheduler(store, fetcher, mat)

	if err := sched.RunCycle(context.Background(), "calendar"); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if got := fetcher.callCount(domain.KindCalendar); got != 0 {
		t.Fatalf("expected cached payload to suppress upstream call, got %d calls", got)
	}

	if mat.writeCount(domain.KindCalendar) != 1 {
		t.Fatalf("expected artifact write on cache hit")
	}

	status, ok := store.status(domain.KindCalendar)
	if !ok {
		t.Fatalf("expected status to be recorded")
	}
	if status.State != domain.StateSuccess || status.ItemCount != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestRunCycleFetchesAndCachesOnMiss(t *testing.T) {
	store := newStubStore()
	fetcher := newStubFetcher()
	fetcher.payloads[domain.KindQueue] = json.RawMessage(`[{"id": 1}, {"id": 2}]`)
	mat := newStubMaterializer()
	sched := newTestScheduler(store, fetcher, mat)

	if err := sched.RunCycle(context.Background(), "queue"); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if got := fetcher.callCount(domain.KindQueue); got != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", got)
	}

	if string(store.entries[domain.KindQueue]) != `[{"id": 1}, {"id": 2}]` {
		t.Fatalf("expected fetched payload to be cached, got %s", store.entries[domain.KindQueue])
	}

	status, _ := store.status(domain.KindQueue)
	if status.State != domain.StateSuccess || status.ItemCount != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.LastFetch == nil {
		t.Fatalf("expected last fetch timestamp on success")
	}
}

func TestRunCycleIsolatesKindFailures(t *testing.T) {
	store := newStubStore()
	fetcher := newStubFetcher()
	fetcher.errs[domain.KindQueue] = &domain.UpstreamError{StatusCode: 503, Message: "down"}
	mat := newStubMaterializer()
	sched := newTestScheduler(store, fetcher, mat)

	err := sched.RunCycle(context.Background(), "")
	if err == nil {
		t.Fatalf("expected joined error for failing kind")
	}
	if !strings.Contains(err.Error(), "queue") {
		t.Fatalf("expected error to name the failing kind, got %v", err)
	}

	for _, kind := range []domain.FeedKind{domain.KindCalendar, domain.KindNotification} {
		status, ok := store.status(kind)
		if !ok || status.State != domain.StateSuccess {
			t.Fatalf("expected %s to succeed despite queue failure, got %+v", kind, status)
		}

		if mat.writeCount(kind) != 1 {
			t.Fatalf("expected %s artifact to be written", kind)
		}
	}

	queueStatus, ok := store.status(domain.KindQueue)
	if !ok {
		t.Fatalf("expected failed attempt to record a status")
	}
	if queueStatus.State != domain.StateError {
		t.Fatalf("expected error state, got %q", queueStatus.State)
	}
	if !strings.Contains(queueStatus.Error, "503") {
		t.Fatalf("expected status to carry the upstream message, got %q", queueStatus.Error)
	}

	if mat.writeCount(domain.KindQueue) != 0 {
		t.Fatalf("expected no artifact write for the failed kind")
	}
}

func TestRunCycleRecordsExactlyOneStatusPerKind(t *testing.T) {
	store := newStubStore()
	sched := newTestScheduler(store, newStubFetcher(), newStubMaterializer())

	if err := sched.RunCycle(context.Background(), ""); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if store.recordCalls != len(domain.AllKinds()) {
		t.Fatalf("expected one status write per kind, got %d", store.recordCalls)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	sched := newTestScheduler(newStubStore(), newStubFetcher(), newStubMaterializer())
	defer sched.Stop()

	if err := sched.Start(); err != nil {
		t.Fatalf("first start failed: %v", err)
	}

	if err := sched.Start(); err != nil {
		t.Fatalf("second start should no-op, got error: %v", err)
	}

	if entries := sched.cron.Entries(); len(entries) != 1 {
		t.Fatalf("expected exactly one scheduled job, got %d", len(entries))
	}
}

func TestStopIsSafeWhenStopped(t *testing.T) {
	sched := newTestScheduler(newStubStore(), newStubFetcher(), newStubMaterializer())

	sched.Stop()

	if err := sched.Start(); err != nil {
		t.Fatalf("start after no-op stop failed: %v", err)
	}

	sched.Stop()
	sched.Stop()

	if len(sched.cron.Entries()) != 0 {
		t.Fatalf("expected no scheduled jobs after stop")
	}
}

func TestIntervalCeilsToWholeMinutes(t *testing.T) {
	cases := []struct {
		frequency time.Duration
		want      time.Duration
	}{
		{10 * time.Second, time.Minute},
		{time.Minute, time.Minute},
		{90 * time.Second, 2 * time.Minute},
		{30 * time.Minute, 30 * time.Minute},
	}

	for _, tc := range cases {
		sched := New(context.Background(), newStubStore(), newStubFetcher(), newStubMaterializer(),
			Config{Frequency: tc.frequency}, slog.Default())

		if got := sched.Interval(); got != tc.want {
			t.Fatalf("frequency %s: expected interval %s, got %s", tc.frequency, tc.want, got)
		}
	}
}

func TestStatusDegradesWhenStoreUnavailable(t *testing.T) {
	store := newStubStore()
	store.statsErr = errors.New("database is locked")
	sched := newTestScheduler(store, newStubFetcher(), newStubMaterializer())

	status := sched.Status(context.Background())
	if status.StoreError == "" {
		t.Fatalf("expected store error to be reported")
	}
	if status.Store != nil {
		t.Fatalf("expected no statistics when the store fails")
	}
	if status.Running {
		t.Fatalf("expected stopped scheduler to report running=false")
	}
}

func TestStatusReportsLastFetchByKind(t *testing.T) {
	store := newStubStore()
	fetched := time.Now().UTC()
	store.statuses[domain.KindCalendar] = domain.FeedStatus{
		Kind:      domain.KindCalendar,
		LastFetch: &fetched,
		State:     domain.StateSuccess,
	}
	sched := newTestScheduler(store, newStubFetcher(), newStubMaterializer())

	status := sched.Status(context.Background())

	if got := status.LastFetchByKind["calendar"]; got == nil || !got.Equal(fetched) {
		t.Fatalf("expected calendar last fetch %v, got %v", fetched, got)
	}
	if got := status.LastFetchByKind["queue"]; got != nil {
		t.Fatalf("expected nil last fetch for unfetched kind, got %v", got)
	}
}
