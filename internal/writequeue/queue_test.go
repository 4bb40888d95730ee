package writequeue

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/clock"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/database"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/utils"
)

type logEntry struct {
	level   logger.Level
	message string
	fields  map[string]any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (r *recordingLogger) Log(level logger.Level, message string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, logEntry{level, message, fields})
}

func (r *recordingLogger) count(level logger.Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

type fixture struct {
	q     *Queue
	store *database.MemoryStore
	clock *clock.Manual
	log   *recordingLogger
}

func scenarioOptions() Options {
	opts := DefaultOptions()
	opts.Namespace = "test"
	opts.MaxSize = 2
	opts.BaseBackoff = time.Second
	opts.BackoffFactor = 2
	opts.MaxBackoff = 300 * time.Second
	return opts
}

func newFixture(t *testing.T, opts Options, extra ...Option) fixture {
	t.Helper()
	f := fixture{
		store: database.NewMemoryStore(),
		clock: clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		log:   &recordingLogger{},
	}
	options := append([]Option{WithClock(f.clock), WithErrorLogger(f.log)}, extra...)
	q, err := New(f.store, opts, options...)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	f.q = q
	return f
}

func (f fixture) enqueue(t *testing.T, url string, priority Priority) Item {
	t.Helper()
	item, err := f.q.Enqueue(context.Background(), Request{URL: url, Method: MethodPost, Priority: priority})
	if err != nil {
		t.Fatalf("enqueue %s: %v", url, err)
	}
	return item
}

func urls(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.URL
	}
	return out
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func failFor(urls ...string) SenderFunc {
	return func(_ context.Context, item Item) error {
		for _, u := range urls {
			if item.URL == u {
				return errors.New("backend unavailable")
			}
		}
		return nil
	}
}

func TestEnqueueAssignsFields(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	item, err := f.q.Enqueue(context.Background(), Request{
		URL:     "/api/tasks",
		Method:  "patch",
		Body:    []byte(`{"done":true}`),
		TraceID: "trace-1",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	now := utils.UnixMilli(f.clock.Now())
	if item.ID == "" || item.Method != MethodPatch || item.Priority != PriorityNormal {
		t.Fatalf("unexpected item %+v", item)
	}
	if item.CreatedAt != now || item.NextAttemptAt != now || item.Attempts != 0 || item.MaxAttempts != 5 {
		t.Fatalf("unexpected bookkeeping %+v", item)
	}
	persisted, _ := f.q.Items(context.Background())
	if len(persisted) != 1 || persisted[0].ID != item.ID || persisted[0].TraceID != "trace-1" {
		t.Fatalf("item not persisted: %+v", persisted)
	}
}

func TestEnqueueRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"read method", Request{URL: "/a", Method: "GET"}, ErrInvalidMethod},
		{"unknown priority", Request{URL: "/a", Method: MethodPost, Priority: "urgent"}, ErrInvalidPriority},
		{"missing url", Request{Method: MethodPut}, ErrInvalidRequest},
		{"bad body", Request{URL: "/a", Method: MethodPost, Body: []byte("{")}, ErrInvalidRequest},
	}
	for _, tt := range tests {
		tt := tt // per-iteration copy (go 1.21 loop semantics)
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.q.Enqueue(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if n, _ := f.q.PendingCount(context.Background()); n != 0 {
		t.Fatalf("rejected requests must not be persisted, got %d", n)
	}
}

func TestEnqueueEvictsOldestCreated(t *testing.T) {
	for _, step := range []time.Duration{0, time.Millisecond} {
		f := newFixture(t, scenarioOptions())
		for _, u := range []string{"A", "B", "C"} {
			f.enqueue(t, u, PriorityNormal)
			f.clock.Advance(step)
		}
		items, _ := f.q.Items(context.Background())
		if got := urls(items); !sameStrings(got, []string{"B", "C"}) {
			t.Fatalf("step %s: expected [B C], got %v", step, got)
		}
		if f.q.Stats().Evicted != 1 {
			t.Fatalf("expected one eviction, got %d", f.q.Stats().Evicted)
		}
	}
}

func TestEvictionIgnoresPriority(t *testing.T) {
	f := newFixture(t, scenarioOptions())
	f.enqueue(t, "old-critical", PriorityCritical)
	f.clock.Advance(time.Millisecond)
	f.enqueue(t, "low", PriorityLow)
	f.clock.Advance(time.Millisecond)
	f.enqueue(t, "normal", PriorityNormal)

	items, _ := f.q.Items(context.Background())
	if got := urls(items); !sameStrings(got, []string{"low", "normal"}) {
		t.Fatalf("expected oldest item to be evicted regardless of priority, got %v", got)
	}
}

func TestFlushBackoffScenario(t *testing.T) {
	tests := []struct {
		name string
		rand float64
		want time.Duration
	}{
		{"lower bound", 0, 750 * time.Millisecond},
		{"centre", 0.5, time.Second},
		{"upper bound", 0.999, 1249 * time.Millisecond},
	}
	for _, tt := range tests {
		tt := tt // per-iteration copy (go 1.21 loop semantics)
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, scenarioOptions(), WithRand(func() float64 { return tt.rand }))
			for _, u := range []string{"A", "B", "C"} {
				f.enqueue(t, u, PriorityNormal)
			}
			now := utils.UnixMilli(f.clock.Now())

			result, err := f.q.Flush(context.Background(), failFor("C"))
			if err != nil {
				t.Fatalf("flush: %v", err)
			}
			if result.Attempted != 2 || result.Succeeded != 1 || result.Retried != 1 {
				t.Fatalf("unexpected result %+v", result)
			}
			items, _ := f.q.Items(context.Background())
			if len(items) != 1 || items[0].URL != "C" {
				t.Fatalf("expected only C to remain, got %v", urls(items))
			}
			c := items[0]
			if c.Attempts != 1 || c.LastError == "" {
				t.Fatalf("unexpected C %+v", c)
			}
			delay := time.Duration(c.NextAttemptAt-now) * time.Millisecond
			if delay <= 0 || delay < 750*time.Millisecond || delay > 1250*time.Millisecond {
				t.Fatalf("next attempt %s outside ±25%% of 1s", delay)
			}
			if delay != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, delay)
			}
		})
	}
}

func TestFlushBackoffGrowsAndIsCapped(t *testing.T) {
	opts := scenarioOptions()
	opts.MaxAttempts = 10
	opts.MaxBackoff = 3 * time.Second
	opts.JitterFraction = 0
	f := newFixture(t, opts)
	f.enqueue(t, "flaky", PriorityNormal)

	var delays []time.Duration
	for i := 0; i < 4; i++ {
		now := utils.UnixMilli(f.clock.Now())
		if _, err := f.q.Flush(context.Background(), failFor("flaky")); err != nil {
			t.Fatalf("flush %d: %v", i, err)
		}
		items, _ := f.q.Items(context.Background())
		delay := time.Duration(items[0].NextAttemptAt-now) * time.Millisecond
		delays = append(delays, delay)
		f.clock.Advance(delay)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delays %v, want %v", delays, want)
		}
	}
}

func TestFlushPriorityThenCreationOrder(t *testing.T) {
	opts := DefaultOptions()
	f := newFixture(t, opts)
	f.enqueue(t, "low-1", PriorityLow)
	f.clock.Advance(time.Millisecond)
	f.enqueue(t, "normal-1", PriorityNormal)
	f.clock.Advance(time.Millisecond)
	f.enqueue(t, "critical-1", PriorityCritical)
	f.clock.Advance(time.Millisecond)
	f.enqueue(t, "high-1", PriorityHigh)
	f.clock.Advance(time.Millisecond)
	f.enqueue(t, "normal-2", PriorityNormal)
	f.clock.Advance(time.Millisecond)
	f.enqueue(t, "critical-2", PriorityCritical)

	var sent []string
	_, err := f.q.Flush(context.Background(), SenderFunc(func(_ context.Context, item Item) error {
		sent = append(sent, item.URL)
		return nil
	}))
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	want := []string{"critical-1", "critical-2", "high-1", "normal-1", "normal-2", "low-1"}
	if !sameStrings(sent, want) {
		t.Fatalf("sent %v, want %v", sent, want)
	}
	if n, _ := f.q.PendingCount(context.Background()); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
	if summary, _ := f.q.Summary(context.Background()); summary.LastSyncAt.IsZero() {
		t.Fatal("expected last sync time after a successful flush")
	}
}

func TestFlushSkipsItemsNotDue(t *testing.T) {
	f := newFixture(t, scenarioOptions())
	f.enqueue(t, "A", PriorityNormal)
	if _, err := f.q.Flush(context.Background(), failFor("A")); err != nil {
		t.Fatalf("flush: %v", err)
	}

	calls := 0
	result, err := f.q.Flush(context.Background(), SenderFunc(func(context.Context, Item) error {
		calls++
		return nil
	}))
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if calls != 0 || result.Deferred != 1 {
		t.Fatalf("item in backoff must not be attempted: calls=%d result=%+v", calls, result)
	}

	f.clock.Advance(2 * time.Second)
	result, _ = f.q.Flush(context.Background(), SenderFunc(func(context.Context, Item) error {
		calls++
		return nil
	}))
	if calls != 1 || result.Succeeded != 1 {
		t.Fatalf("expected retry after backoff, calls=%d result=%+v", calls, result)
	}
}

func TestFlushDropsExhaustedItems(t *testing.T) {
	opts := scenarioOptions()
	opts.MaxAttempts = 1
	f := newFixture(t, opts)
	f.enqueue(t, "doomed", PriorityNormal)
	f.enqueue(t, "fine", PriorityNormal)

	if _, err := f.q.Flush(context.Background(), failFor("doomed")); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	f.clock.Advance(10 * time.Second)
	result, err := f.q.Flush(context.Background(), failFor("doomed"))
	if err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if result.Dropped != 1 {
		t.Fatalf("expected a dropped item, got %+v", result)
	}
	if n, _ := f.q.PendingCount(context.Background()); n != 0 {
		t.Fatalf("exhausted item must be removed, %d pending", n)
	}

	failed, err := f.q.FailedRequests(context.Background())
	if err != nil || len(failed) != 1 {
		t.Fatalf("expected one failed request, got %v, %v", failed, err)
	}
	if failed[0].Item.URL != "doomed" || failed[0].Item.Attempts != 2 || failed[0].Reason != ReasonAttemptsExhausted {
		t.Fatalf("unexpected failed request %+v", failed[0])
	}
	if f.log.count(logger.LevelErrorName) != 1 || f.log.count(logger.LevelWarnName) != 1 {
		t.Fatalf("expected one warn and one error log, got %+v", f.log.entries)
	}

	if err := f.q.ClearFailed(context.Background()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if failed, _ := f.q.FailedRequests(context.Background()); len(failed) != 0 {
		t.Fatalf("expected empty ledger, got %d", len(failed))
	}
}

func TestFlushRejectsConcurrentPass(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.enqueue(t, "slow", PriorityNormal)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := f.q.Flush(context.Background(), SenderFunc(func(context.Context, Item) error {
			close(entered)
			<-release
			return nil
		}))
		done <- err
	}()
	<-entered

	if _, err := f.q.Flush(context.Background(), failFor()); !errors.Is(err, ErrFlushInProgress) {
		t.Fatalf("expected ErrFlushInProgress, got %v", err)
	}
	if summary, _ := f.q.Summary(context.Background()); !summary.Syncing {
		t.Fatal("expected summary to report syncing")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first flush: %v", err)
	}
}

func TestFlushMergesWithConcurrentChanges(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	first := f.enqueue(t, "first", PriorityCritical)
	second := f.enqueue(t, "second", PriorityNormal)

	var added Item
	_, err := f.q.Flush(context.Background(), SenderFunc(func(ctx context.Context, item Item) error {
		if item.ID == first.ID {
			if _, err := f.q.Remove(ctx, second.ID); err != nil {
				t.Errorf("remove: %v", err)
			}
			added, _ = f.q.Enqueue(ctx, Request{URL: "late", Method: MethodDelete})
			return nil
		}
		return errors.New("should stay removed")
	}))
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	items, _ := f.q.Items(context.Background())
	if len(items) != 1 || items[0].ID != added.ID {
		t.Fatalf("expected only the late item, got %v", urls(items))
	}
}

func TestReadSideDoesNotMutate(t *testing.T) {
	f := newFixture(t, scenarioOptions())
	f.enqueue(t, "A", PriorityHigh)
	f.enqueue(t, "B", PriorityLow)
	ctx := context.Background()
	before, _ := f.store.Get(ctx, "test:items")

	summary, err := f.q.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Size != 2 || summary.ByPriority[PriorityHigh] != 1 || summary.ByPriority[PriorityLow] != 1 || summary.ByPriority[PriorityCritical] != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	_, _ = f.q.PendingCount(ctx)
	_, _ = f.q.FailedRequests(ctx)
	_, _ = f.q.Items(ctx)

	after, _ := f.store.Get(ctx, "test:items")
	if !bytes.Equal(before, after) {
		t.Fatal("read-side calls changed persisted data")
	}
	if _, err := f.store.Get(ctx, "test:failed"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("read-side calls must not create the failed ledger, got %v", err)
	}
}

func TestRemoveAndClear(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	a := f.enqueue(t, "A", PriorityNormal)
	f.enqueue(t, "B", PriorityNormal)
	ctx := context.Background()

	if ok, err := f.q.Remove(ctx, a.ID); !ok || err != nil {
		t.Fatalf("remove: %v, %v", ok, err)
	}
	if ok, _ := f.q.Remove(ctx, a.ID); ok {
		t.Fatal("removing twice must report false")
	}
	if err := f.q.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := f.q.PendingCount(ctx); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
}

func TestCorruptDataIsReported(t *testing.T) {
	f := newFixture(t, scenarioOptions())
	_ = f.store.Put(context.Background(), "test:items", []byte("not json"))
	if _, err := f.q.Items(context.Background()); !errors.Is(err, ErrCorruptQueue) {
		t.Fatalf("expected ErrCorruptQueue, got %v", err)
	}
}

func TestOptionsValidate(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxSize = 0
	opts.BackoffFactor = 0.5
	if _, err := New(database.NewMemoryStore(), opts); err == nil {
		t.Fatal("expected invalid options to be rejected")
	}
}
