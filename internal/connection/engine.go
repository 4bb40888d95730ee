package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/clock"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/event"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/spool"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/transport"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/wire"
)

// connectAttempt 让并发的 Connect 调用共享同一次建连结果
type connectAttempt struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newConnectAttempt() *connectAttempt {
	return &connectAttempt{done: make(chan struct{})}
}

func (a *connectAttempt) resolve(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

// Engine 管理一条到事件端点的长连接。
// 所有可变状态由 mu 保护；generation 在每次建连、断开和关闭时递增，
// 携带旧 generation 的读循环和定时器回调会被直接忽略。
type Engine struct {
	opts   Options
	dialer transport.Dialer
	clock  clock.Clock
	spool  *spool.Spool

	mu              sync.Mutex
	state           ConnectionState
	health          ConnectionHealth
	lastActivityAt  time.Time
	conn            transport.Conn
	generation      uint64
	attempt         *connectAttempt
	shouldReconnect bool
	everConnected   bool
	closed          bool
	lastDelay       time.Duration
	subscriptions   []wire.EventType
	pending         *pendingPing
	// draining 在建连后清空出站缓冲区期间置位，此时 Send 继续入队以保持顺序
	draining bool

	reconnectTimer clock.Timer
	heartbeatTimer clock.Timer
	healthTimer    clock.Timer

	handlers     *handlerRegistry
	stateChanges *event.Bus[StateChange]

	emitMu sync.Mutex
	events []StateChange
}

// New 创建处于 disconnected 状态的引擎，不会自动建连
func New(opts Options, dialer transport.Dialer, clk clock.Clock) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection options: %w", err)
	}
	if dialer == nil {
		return nil, errors.New("connection engine requires a dialer")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	e := &Engine{
		opts:         opts,
		dialer:       dialer,
		clock:        clk,
		handlers:     newHandlerRegistry(),
		stateChanges: event.NewBus[StateChange]("connection-state"),
	}
	e.state.MaxReconnectAttempts = opts.MaxReconnectAttempts
	if opts.MessageQueueEnabled {
		e.spool = spool.New(opts.MaxQueuedMessages, opts.MessageRetryLimit, clk.Now)
	}
	return e, nil
}

func (e *Engine) Options() Options {
	return e.opts
}

// State 返回连接状态的副本
func (e *Engine) State() ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Health 返回健康遥测数据的副本
func (e *Engine) Health() ConnectionHealth {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health.clone()
}

// SpoolLen 返回出站缓冲区中等待发送的帧数
func (e *Engine) SpoolLen() int {
	if e.spool == nil {
		return 0
	}
	return e.spool.Len()
}

// LastReconnectDelay 返回最近一次安排重连时使用的延迟
func (e *Engine) LastReconnectDelay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastDelay
}

// OnStateChange 注册状态变更监听器，监听器按注册顺序在触发转换的 goroutine 中同步调用
func (e *Engine) OnStateChange(fn func(StateChange)) event.ListenerID {
	return e.stateChanges.Subscribe(fn)
}

func (e *Engine) OffStateChange(id event.ListenerID) bool {
	return e.stateChanges.Unsubscribe(id)
}

// Connect 建立连接。已连接时立即返回 nil；已有建连尝试时等待同一个结果。
// 失败后若允许自动重连，会按退避策略安排后续尝试。
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if e.state.Status == StatusConnected {
		e.mu.Unlock()
		return nil
	}
	e.shouldReconnect = e.opts.AutoReconnect
	if attempt := e.attempt; attempt != nil {
		e.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if e.state.Status == StatusFailed {
		e.state.ReconnectAttempts = 0
	}
	stopTimer(&e.reconnectTimer)
	attempt, gen := e.beginAttemptLocked()
	e.mu.Unlock()
	e.emitPending()

	e.runAttempt(ctx, gen, attempt)
	<-attempt.done
	return attempt.err
}

// Disconnect 主动断开连接并取消所有定时器，不会触发自动重连
func (e *Engine) Disconnect() {
	e.mu.Lock()
	cleanup := e.teardownLocked()
	e.shouldReconnect = false
	if e.state.Status != StatusClosed {
		e.transitionLocked(StatusDisconnected, nil)
	}
	e.mu.Unlock()

	cleanup(ErrDisconnected)
	e.emitPending()
}

// Reconnect 断开后重置重连计数并立即建连
func (e *Engine) Reconnect(ctx context.Context) error {
	e.Disconnect()
	e.mu.Lock()
	e.state.ReconnectAttempts = 0
	e.mu.Unlock()
	return e.Connect(ctx)
}

// Close 释放引擎。之后的 Connect 和 Send 都会返回 ErrEngineClosed
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	cleanup := e.teardownLocked()
	e.shouldReconnect = false
	e.closed = true
	e.transitionLocked(StatusDisconnected, nil)
	e.transitionLocked(StatusClosed, nil)
	e.mu.Unlock()

	cleanup(ErrEngineClosed)
	e.emitPending()
	if e.spool != nil {
		if n := e.spool.Clear(); n > 0 {
			logger.WarnF("[engine] Discarded %d unsent frames on close", n)
		}
	}
	return nil
}

// beginAttemptLocked 递增 generation 并进入 connecting 状态
func (e *Engine) beginAttemptLocked() (*connectAttempt, uint64) {
	e.generation++
	attempt := newConnectAttempt()
	e.attempt = attempt
	e.transitionLocked(StatusConnecting, nil)
	return attempt, e.generation
}

func (e *Engine) runAttempt(ctx context.Context, gen uint64, attempt *connectAttempt) {
	dialCtx, cancel := context.WithTimeout(ctx, e.opts.ConnectionTimeout)
	logger.InfoF("[engine] Connecting to %s", e.opts.URL)
	conn, err := e.dialer.Dial(dialCtx, e.opts.URL, e.opts.Header)
	if err != nil && errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", ErrConnectTimeout, e.opts.ConnectionTimeout, err)
	}
	cancel()

	e.mu.Lock()
	if gen != e.generation {
		// 建连过程中被 Disconnect 或 Close 取代
		e.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	e.attempt = nil

	if err != nil {
		logger.ErrorF("[engine] Failed to connect to %s: %v", e.opts.URL, err)
		e.state.LastError = err
		e.transitionLocked(StatusFailed, err)
		e.scheduleReconnectLocked(err)
		e.mu.Unlock()
		attempt.resolve(err)
		e.emitPending()
		return
	}

	now := e.clock.Now()
	e.conn = conn
	if e.everConnected {
		e.health.TotalReconnects++
	}
	e.everConnected = true
	e.lastActivityAt = now
	e.health.IsHealthy = true
	e.state.LastError = nil
	e.transitionLocked(StatusConnected, nil)
	e.startTimersLocked(gen)
	subs := append([]wire.EventType(nil), e.subscriptions...)
	e.draining = e.spool != nil && e.spool.Len() > 0
	draining := e.draining
	e.mu.Unlock()

	logger.InfoF("[engine] Connected to %s", e.opts.URL)
	go e.readLoop(gen, conn)

	if draining {
		e.drainSpool(gen)
	}
	if len(subs) > 0 {
		if err := e.write(gen, wire.NewSubscribe(subs...)); err != nil {
			logger.WarnF("[engine] Failed to restore %d subscriptions: %v", len(subs), err)
		}
	}

	attempt.resolve(nil)
	e.emitPending()
}

// drainSpool 按入队顺序发送缓冲区中的帧，直到缓冲区为空、发送失败或连接被取代。
// 入队与清除 draining 都在 mu 内进行，不会有帧滞留在缓冲区中。
func (e *Engine) drainSpool(gen uint64) {
	for {
		result := e.spool.Drain(func(frame wire.Frame) error {
			return e.write(gen, frame)
		})
		logger.InfoF("[engine] Flushed outbound spool: %d sent, %d dropped, %d remaining", result.Sent, result.Dropped, result.Remaining)

		e.mu.Lock()
		if result.Halted || gen != e.generation || e.spool.Len() == 0 {
			if gen == e.generation {
				e.draining = false
			}
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()
	}
}

// scheduleReconnectLocked 在允许时安排下一次重连，返回是否已安排
func (e *Engine) scheduleReconnectLocked(cause error) bool {
	if !e.shouldReconnect || !e.opts.AutoReconnect || e.closed {
		return false
	}
	if e.state.ReconnectAttempts >= e.opts.MaxReconnectAttempts {
		logger.ErrorF("[engine] Giving up after %d reconnect attempts", e.state.ReconnectAttempts)
		return false
	}
	e.state.ReconnectAttempts++
	delay := e.opts.Backoff().Delay(e.state.ReconnectAttempts)
	e.lastDelay = delay
	e.transitionLocked(StatusReconnecting, cause)

	gen := e.generation
	stopTimer(&e.reconnectTimer)
	e.reconnectTimer = e.clock.AfterFunc(delay, func() { e.reconnectFired(gen) })
	logger.WarnF("[engine] Reconnecting in %s (attempt %d/%d)", delay, e.state.ReconnectAttempts, e.opts.MaxReconnectAttempts)
	return true
}

func (e *Engine) reconnectFired(gen uint64) {
	e.mu.Lock()
	if gen != e.generation || e.closed || !e.shouldReconnect || e.state.Status != StatusReconnecting {
		e.mu.Unlock()
		return
	}
	e.reconnectTimer = nil
	attempt, next := e.beginAttemptLocked()
	e.mu.Unlock()
	e.emitPending()

	e.runAttempt(context.Background(), next, attempt)
}

// teardownLocked 使当前连接、定时器和建连尝试全部失效，返回需要在锁外执行的清理函数
func (e *Engine) teardownLocked() func(error) {
	e.generation++
	stopTimer(&e.reconnectTimer)
	e.stopConnectionTimersLocked()
	e.health.IsHealthy = false
	e.draining = false

	conn := e.conn
	e.conn = nil
	attempt := e.attempt
	e.attempt = nil
	pending := e.pending
	e.pending = nil
	if pending != nil {
		stopTimer(&pending.timer)
	}

	return func(reason error) {
		if conn != nil {
			if err := conn.Close(); err != nil {
				logger.DebugF("[engine] Error while closing transport: %v", err)
			}
		}
		if attempt != nil {
			attempt.resolve(reason)
		}
		if pending != nil {
			pending.finish(pingResult{err: reason})
		}
	}
}

// handleClose 处理读循环退出，按关闭码决定断开、失败或重连
func (e *Engine) handleClose(gen uint64, err error) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	cleanup := e.teardownLocked()

	kind := transport.ClassifyClose(err)
	logReadError(kind, err)
	switch kind {
	case transport.CloseClean:
		e.transitionLocked(StatusDisconnected, nil)
	case transport.CloseFatal:
		e.state.LastError = err
		e.transitionLocked(StatusFailed, err)
	default:
		e.state.LastError = err
		if !e.scheduleReconnectLocked(err) {
			e.transitionLocked(StatusFailed, err)
		}
	}
	e.mu.Unlock()

	cleanup(ErrNotConnected)
	e.emitPending()
}

// transitionLocked 是唯一修改 state.Status 的地方
func (e *Engine) transitionLocked(to Status, cause error) {
	from := e.state.Status
	now := e.clock.Now()
	e.state.Status = to
	e.state.IsConnected = to == StatusConnected
	switch {
	case to == StatusConnected:
		e.state.ReconnectAttempts = 0
		e.state.LastConnectedAt = now
	case from == StatusConnected:
		e.state.LastDisconnectedAt = now
		e.health.IsHealthy = false
	}
	if from == to {
		return
	}
	logger.DebugF("[engine] State %s -> %s", from, to)
	e.events = append(e.events, StateChange{From: from, To: to, Err: cause, At: now, State: e.state})
}

// emitPending 在锁外按转换顺序投递状态事件。
// 监听器内再次触发的转换由当前投递循环一并处理。
func (e *Engine) emitPending() {
	for {
		if !e.emitMu.TryLock() {
			return
		}
		for {
			e.mu.Lock()
			events := e.events
			e.events = nil
			e.mu.Unlock()
			if len(events) == 0 {
				break
			}
			for _, ev := range events {
				e.stateChanges.Emit(ev)
			}
		}
		e.emitMu.Unlock()

		e.mu.Lock()
		more := len(e.events) > 0
		e.mu.Unlock()
		if !more {
			return
		}
	}
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
