package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/clock"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/transport"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/wire"
)

type fakeConn struct {
	in        chan []byte
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	autoPong bool

	// writeGate 非空时第一次写入会先通知 writeStarted，再阻塞到 writeGate 关闭
	writeGate    chan struct{}
	writeStarted chan struct{}
	gateOnce     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan []byte, 16),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case err := <-c.errs:
		return nil, err
	case <-c.done:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	if c.writeGate != nil {
		c.gateOnce.Do(func() {
			c.writeStarted <- struct{}{}
			<-c.writeGate
		})
	}
	c.mu.Lock()
	c.written = append(c.written, append([]byte(nil), data...))
	autoPong := c.autoPong
	c.mu.Unlock()

	if autoPong {
		if frame, err := wire.Decode(data); err == nil {
			if ping, ok := frame.(*wire.PingFrame); ok {
				reply, _ := wire.Encode(wire.NewPong(ping, time.Now()))
				c.in <- reply
			}
		}
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeConn) frames() []wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Frame, 0, len(c.written))
	for _, data := range c.written {
		frame, err := wire.Decode(data)
		if err == nil {
			out = append(out, frame)
		}
	}
	return out
}

func (c *fakeConn) push(t *testing.T, frame wire.Frame) {
	t.Helper()
	data, err := wire.Encode(frame)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	c.in <- data
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	failures int // 接下来失败的次数，-1 表示一直失败
	gate     chan struct{}
	autoPong bool
	conns    []*fakeConn

	writeGate    chan struct{}
	writeStarted chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, _ http.Header) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	fail := d.failures != 0
	if d.failures > 0 {
		d.failures--
	}
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.mu.Lock()
	conn.autoPong = d.autoPong
	conn.writeGate = d.writeGate
	conn.writeStarted = d.writeStarted
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) setFailures(n int) {
	d.mu.Lock()
	d.failures = n
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func testOptions() Options {
	opts := DefaultOptions("ws://example.test/ws/events")
	opts.MaxReconnectAttempts = 3
	return opts
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *fakeDialer, *clock.Manual) {
	t.Helper()
	dialer := &fakeDialer{}
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	e, err := New(opts, dialer, clk)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e, dialer, clk
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func statusIs(e *Engine, status Status) func() bool {
	return func() bool { return e.State().Status == status }
}

func TestConnectTransitions(t *testing.T) {
	e, _, _ := newTestEngine(t, testOptions())
	var mu sync.Mutex
	var seen []Status
	e.OnStateChange(func(c StateChange) {
		mu.Lock()
		seen = append(seen, c.To)
		mu.Unlock()
	})

	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	state := e.State()
	if !state.IsConnected || state.Status != StatusConnected || state.ReconnectAttempts != 0 {
		t.Fatalf("unexpected state %+v", state)
	}
	if !e.Health().IsHealthy {
		t.Fatal("expected healthy connection after open")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != StatusConnecting || seen[1] != StatusConnected {
		t.Fatalf("unexpected transitions %v", seen)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	e, dialer, _ := newTestEngine(t, testOptions())
	dialer.gate = make(chan struct{})

	results := make(chan error, 2)
	go func() { results <- e.Connect(context.Background()) }()
	waitFor(t, "first dial", func() bool { return dialer.dialCount() == 1 })
	go func() { results <- e.Connect(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	close(dialer.gate)

	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
	}
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect while connected: %v", err)
	}
	if dialer.dialCount() != 1 {
		t.Fatalf("expected a single dial, got %d", dialer.dialCount())
	}
}

func TestReconnectBackoffThenFailed(t *testing.T) {
	e, dialer, clk := newTestEngine(t, testOptions())
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	dialer.setFailures(-1)
	dialer.last().errs <- io.ErrUnexpectedEOF
	waitFor(t, "reconnecting", statusIs(e, StatusReconnecting))

	var delays []time.Duration
	delays = append(delays, e.LastReconnectDelay())
	clk.Advance(time.Second)
	delays = append(delays, e.LastReconnectDelay())
	clk.Advance(2 * time.Second)
	delays = append(delays, e.LastReconnectDelay())

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay %d: want %s, got %s", i, want[i], delays[i])
		}
	}
	if got := e.State().ReconnectAttempts; got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}

	clk.Advance(4 * time.Second)
	state := e.State()
	if state.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", state.Status)
	}
	if state.LastError == nil {
		t.Fatal("expected last error to be recorded")
	}
	if clk.Pending() != 0 {
		t.Fatalf("expected no scheduled timers, got %v", clk.PendingDelays())
	}
	if dialer.dialCount() != 4 {
		t.Fatalf("expected 4 dials, got %d", dialer.dialCount())
	}
}

func TestConnectAfterFailedRestartsRetries(t *testing.T) {
	opts := testOptions()
	opts.MaxReconnectAttempts = 1
	e, dialer, clk := newTestEngine(t, opts)
	dialer.setFailures(-1)
	if err := e.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	clk.Advance(time.Second)
	if state := e.State(); state.Status != StatusFailed || state.ReconnectAttempts != 1 {
		t.Fatalf("expected retries exhausted, got %+v", state)
	}

	if err := e.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	state := e.State()
	if state.Status != StatusReconnecting || state.ReconnectAttempts != 1 || clk.Pending() != 1 {
		t.Fatalf("explicit connect should schedule retries again, got %+v pending=%d", state, clk.Pending())
	}

	dialer.setFailures(0)
	clk.Advance(time.Second)
	if !e.State().IsConnected {
		t.Fatalf("expected scheduled retry to connect, got %s", e.State().Status)
	}
}

func TestReconnectSuccessResetsAttempts(t *testing.T) {
	e, dialer, clk := newTestEngine(t, testOptions())
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	dialer.setFailures(1)
	dialer.last().errs <- io.ErrUnexpectedEOF
	waitFor(t, "reconnecting", statusIs(e, StatusReconnecting))

	clk.Advance(time.Second)
	if got := e.State().ReconnectAttempts; got != 2 {
		t.Fatalf("expected second attempt scheduled, got %d", got)
	}
	clk.Advance(2 * time.Second)

	state := e.State()
	if state.Status != StatusConnected || state.ReconnectAttempts != 0 {
		t.Fatalf("unexpected state after reconnect %+v", state)
	}
	if e.Health().TotalReconnects != 1 {
		t.Fatalf("expected 1 reconnect, got %d", e.Health().TotalReconnects)
	}
}

func TestDisconnectCancelsScheduledReconnect(t *testing.T) {
	e, dialer, clk := newTestEngine(t, testOptions())
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := dialer.last()
	conn.errs <- io.ErrUnexpectedEOF
	waitFor(t, "reconnecting", statusIs(e, StatusReconnecting))

	e.Disconnect()
	if e.State().Status != StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", e.State().Status)
	}
	if clk.Pending() != 0 {
		t.Fatalf("expected no timers after disconnect, got %v", clk.PendingDelays())
	}
	clk.Advance(time.Hour)
	if dialer.dialCount() != 1 {
		t.Fatalf("unexpected redial after disconnect: %d dials", dialer.dialCount())
	}
}

func TestDisconnectWhileConnected(t *testing.T) {
	e, dialer, clk := newTestEngine(t, testOptions())
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	e.Disconnect()
	if !dialer.last().isClosed() {
		t.Fatal("expected transport to be closed")
	}
	if clk.Pending() != 0 {
		t.Fatalf("expected heartbeat timers to be cancelled, got %v", clk.PendingDelays())
	}
	if e.State().LastDisconnectedAt.IsZero() {
		t.Fatal("expected disconnect time to be recorded")
	}
}

func TestCloseCodeClassification(t *testing.T) {
	tests := []struct {
		name string
		code int
		want Status
	}{
		{"normal", transport.CloseNormalClosure, StatusDisconnected},
		{"going away", transport.CloseGoingAway, StatusDisconnected},
		{"policy violation", transport.ClosePolicyViolation, StatusFailed},
		{"application fatal", 4001, StatusFailed},
		{"internal error", transport.CloseInternalError, StatusReconnecting},
	}
	for _, tt := range tests {
		tt := tt // per-iteration copy (go 1.21 loop semantics)
		t.Run(tt.name, func(t *testing.T) {
			e, dialer, _ := newTestEngine(t, testOptions())
			if err := e.Connect(context.Background()); err != nil {
				t.Fatalf("connect: %v", err)
			}
			dialer.last().errs <- &transport.CloseError{Code: tt.code}
			waitFor(t, tt.want.String(), statusIs(e, tt.want))
		})
	}
}

func TestPingTimeoutKeepsConnection(t *testing.T) {
	opts := testOptions()
	opts.PingInterval = time.Minute
	e, dialer, clk := newTestEngine(t, opts)
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := e.Ping(context.Background())
		result <- err
	}()
	waitFor(t, "ping written", func() bool { return len(dialer.last().frames()) == 1 })
	if _, err := e.Ping(context.Background()); !errors.Is(err, ErrPingInFlight) {
		t.Fatalf("expected ErrPingInFlight, got %v", err)
	}

	clk.Advance(opts.PingTimeout)
	if err := <-result; !errors.Is(err, ErrPingTimeout) {
		t.Fatalf("expected ErrPingTimeout, got %v", err)
	}
	if got := e.Health().ConsecutiveFailures; got != 1 {
		t.Fatalf("expected exactly one failure, got %d", got)
	}
	if e.State().Status != StatusConnected {
		t.Fatalf("ping timeout must not disconnect, got %s", e.State().Status)
	}
}

func TestPingMeasuresLatency(t *testing.T) {
	e, dialer, _ := newTestEngine(t, testOptions())
	dialer.autoPong = true
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := e.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	health := e.Health()
	if health.Latency == nil || health.LastPongAt.IsZero() || health.ConsecutiveFailures != 0 {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestHealthGoesStaleWithoutTraffic(t *testing.T) {
	opts := testOptions()
	opts.PingInterval = 10 * time.Second
	opts.PingTimeout = 5 * time.Second
	opts.HealthCheckInterval = 5 * time.Second
	e, _, clk := newTestEngine(t, opts)
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	clk.Advance(20 * time.Second)
	if !e.Health().IsHealthy {
		t.Fatal("expected healthy within two ping intervals")
	}
	clk.Advance(5 * time.Second)
	if e.Health().IsHealthy {
		t.Fatal("expected unhealthy after two silent ping intervals")
	}
	if e.State().Status != StatusConnected {
		t.Fatalf("stale connection must stay connected, got %s", e.State().Status)
	}
}

func TestMalformedFrameIsDropped(t *testing.T) {
	logs := captureLogs(t)
	e, dialer, _ := newTestEngine(t, testOptions())
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	received := make(chan string, 1)
	e.On(wire.Notification, func(f wire.Frame) {
		received <- f.(*wire.NotificationFrame).Title
	})

	conn := dialer.last()
	conn.in <- []byte("{not json")
	conn.push(t, &wire.NotificationFrame{Title: "still alive"})

	select {
	case title := <-received:
		if title != "still alive" {
			t.Fatalf("unexpected title %q", title)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called after malformed frame")
	}
	health := e.Health()
	if health.ConsecutiveFailures != 1 || health.MessagesReceived != 2 {
		t.Fatalf("unexpected health %+v", health)
	}
	if levels := logs.levelsContaining("malformed frame"); len(levels) != 1 || levels[0] != slog.LevelDebug {
		t.Fatalf("expected one debug log for the malformed frame, got %v", levels)
	}
}

type recordedLog struct {
	level   slog.Level
	message string
}

type captureHandler struct {
	mu      sync.Mutex
	records []recordedLog
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, recordedLog{level: r.Level, message: r.Message})
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) levelsContaining(substr string) []slog.Level {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []slog.Level
	for _, r := range h.records {
		if strings.Contains(r.message, substr) {
			out = append(out, r.level)
		}
	}
	return out
}

func captureLogs(t *testing.T) *captureHandler {
	t.Helper()
	h := &captureHandler{}
	previous := slog.Default()
	slog.SetDefault(slog.New(h))
	t.Cleanup(func() { slog.SetDefault(previous) })
	return h
}

func TestDispatchOrderAndPanicRecovery(t *testing.T) {
	e, dialer, _ := newTestEngine(t, testOptions())
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	var mu sync.Mutex
	var calls []string
	record := func(s string) {
		mu.Lock()
		calls = append(calls, s)
		mu.Unlock()
	}
	e.On(wire.StatusUpdate, func(wire.Frame) { panic("boom") })
	e.On(wire.StatusUpdate, func(wire.Frame) { record("typed") })
	e.OnMessage(func(f wire.Frame) { record("wildcard:" + string(f.Type())) })
	removed := e.On(wire.StatusUpdate, func(wire.Frame) { record("removed") })
	if !e.Off(removed) {
		t.Fatal("expected handler to be removed")
	}

	conn := dialer.last()
	conn.push(t, &wire.StatusUpdateFrame{Resource: "task", Status: "done"})
	conn.in <- []byte(`{"event_type":"brand_new","payload":1}`)

	waitFor(t, "dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 3
	})
	want := []string{"typed", "wildcard:status_update", "wildcard:brand_new"}
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("unexpected dispatch order %v", calls)
		}
	}
}

func TestServerErrorFrameRecorded(t *testing.T) {
	e, dialer, _ := newTestEngine(t, testOptions())
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	dialer.last().push(t, &wire.ErrorFrame{Code: "rate_limited", Message: "slow down"})
	waitFor(t, "last error", func() bool { return e.State().LastError != nil })

	var serverErr *ServerError
	if !errors.As(e.State().LastError, &serverErr) || serverErr.Code != "rate_limited" {
		t.Fatalf("unexpected last error %v", e.State().LastError)
	}
	if e.State().Status != StatusConnected {
		t.Fatalf("error frame must not change status, got %s", e.State().Status)
	}
}

func TestSendSpoolsWhileDisconnected(t *testing.T) {
	e, dialer, _ := newTestEngine(t, testOptions())
	result, err := e.Send(wire.NewUserMessage("hello"))
	if err != nil || !result.Queued || result.Sent || result.MessageID == "" {
		t.Fatalf("unexpected send result %+v, %v", result, err)
	}
	if e.SpoolLen() != 1 {
		t.Fatalf("expected 1 spooled frame, got %d", e.SpoolLen())
	}

	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	frames := dialer.last().frames()
	if len(frames) != 1 {
		t.Fatalf("expected spooled frame to be flushed, got %d frames", len(frames))
	}
	msg, ok := frames[0].(*wire.UserMessageFrame)
	if !ok || msg.Content != "hello" || msg.Timestamp.IsZero() {
		t.Fatalf("unexpected flushed frame %#v", frames[0])
	}
	if e.SpoolLen() != 0 {
		t.Fatalf("expected empty spool, got %d", e.SpoolLen())
	}

	result, err = e.Send(wire.NewUserMessage("direct"))
	if err != nil || !result.Sent {
		t.Fatalf("expected direct send, got %+v, %v", result, err)
	}
	if e.Health().MessagesSent != 2 {
		t.Fatalf("expected 2 sent frames, got %d", e.Health().MessagesSent)
	}
}

func userContents(frames []wire.Frame) []string {
	var out []string
	for _, f := range frames {
		if msg, ok := f.(*wire.UserMessageFrame); ok {
			out = append(out, msg.Content)
		}
	}
	return out
}

func TestSendDuringSpoolDrainKeepsOrder(t *testing.T) {
	e, dialer, _ := newTestEngine(t, testOptions())
	dialer.writeGate = make(chan struct{})
	dialer.writeStarted = make(chan struct{}, 1)
	for _, content := range []string{"a", "b"} {
		if _, err := e.Send(wire.NewUserMessage(content)); err != nil {
			t.Fatalf("send %s: %v", content, err)
		}
	}

	connected := make(chan error, 1)
	go func() { connected <- e.Connect(context.Background()) }()
	select {
	case <-dialer.writeStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("spool drain did not start")
	}

	result, err := e.Send(wire.NewUserMessage("c"))
	if err != nil || !result.Queued || result.Sent {
		t.Fatalf("send during drain must queue behind earlier frames, got %+v, %v", result, err)
	}
	close(dialer.writeGate)
	if err := <-connected; err != nil {
		t.Fatalf("connect: %v", err)
	}

	got := userContents(dialer.last().frames())
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("wire order %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("wire order %v, want %v", got, want)
		}
	}
	if e.SpoolLen() != 0 {
		t.Fatalf("expected empty spool, got %d", e.SpoolLen())
	}
	if result, err := e.Send(wire.NewUserMessage("d")); err != nil || !result.Sent {
		t.Fatalf("expected direct send after drain, got %+v, %v", result, err)
	}
}

func TestSendWithoutSpoolFails(t *testing.T) {
	opts := testOptions()
	opts.MessageQueueEnabled = false
	e, _, _ := newTestEngine(t, opts)
	if _, err := e.Send(wire.NewUserMessage("hello")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSubscriptionsRestoredAfterReconnect(t *testing.T) {
	e, dialer, clk := newTestEngine(t, testOptions())
	if err := e.Subscribe(wire.Notification, wire.StatusUpdate, wire.Notification); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := dialer.last()
	sub, ok := first.frames()[0].(*wire.SubscribeFrame)
	if !ok || len(sub.EventTypes) != 2 {
		t.Fatalf("expected subscribe frame with 2 types, got %#v", first.frames())
	}

	first.errs <- io.ErrUnexpectedEOF
	waitFor(t, "reconnecting", statusIs(e, StatusReconnecting))
	clk.Advance(time.Second)
	if e.State().Status != StatusConnected {
		t.Fatalf("expected reconnect, got %s", e.State().Status)
	}
	second := dialer.last()
	if second == first {
		t.Fatal("expected a new transport")
	}
	if _, ok := second.frames()[0].(*wire.SubscribeFrame); !ok {
		t.Fatalf("subscriptions not restored: %#v", second.frames())
	}

	if err := e.Unsubscribe(wire.StatusUpdate); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if got := e.Subscriptions(); len(got) != 1 || got[0] != wire.Notification {
		t.Fatalf("unexpected subscriptions %v", got)
	}
}

func TestConnectTimeout(t *testing.T) {
	opts := testOptions()
	opts.ConnectionTimeout = 20 * time.Millisecond
	e, dialer, clk := newTestEngine(t, opts)
	dialer.gate = make(chan struct{})
	defer close(dialer.gate)

	err := e.Connect(context.Background())
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("expected ErrConnectTimeout, got %v", err)
	}
	if e.State().Status != StatusReconnecting {
		t.Fatalf("expected a retry to be scheduled, got %s", e.State().Status)
	}
	if delays := clk.PendingDelays(); len(delays) != 1 || delays[0] != time.Second {
		t.Fatalf("unexpected pending timers %v", delays)
	}
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	e, _, _ := newTestEngine(t, testOptions())
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if e.State().Status != StatusClosed {
		t.Fatalf("expected closed, got %s", e.State().Status)
	}
	if err := e.Connect(context.Background()); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
	if _, err := e.Send(wire.NewUserMessage("x")); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
}

func TestOptionsValidate(t *testing.T) {
	opts := testOptions()
	opts.ReconnectBackoffFactor = 0.5
	opts.PingTimeout = 0
	if err := opts.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := New(opts, &fakeDialer{}, nil); err == nil {
		t.Fatal("expected New to reject invalid options")
	}
}
