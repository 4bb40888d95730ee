// Package session 把连接引擎、写队列和缓存失效组合成一个进程内唯一的会话
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/clock"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/connection"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/event"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/wire"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/writequeue"
)

var (
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrSessionClosed      = errors.New("session closed")
	ErrMissingDependency  = errors.New("missing session dependency")
)

// active 保证同一进程内最多存在一个未关闭的会话
var active atomic.Bool

// Invalidator 按标签失效本地缓存
type Invalidator interface {
	InvalidateByTag(ctx context.Context, tag string) error
}

// Connection 是会话对连接引擎的依赖，*connection.Engine 实现了它
type Connection interface {
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Close() error
	Send(frame wire.Frame) (connection.SendResult, error)
	State() connection.ConnectionState
	Health() connection.ConnectionHealth
	OnStateChange(fn func(connection.StateChange)) event.ListenerID
	OffStateChange(id event.ListenerID) bool
	OnMessage(fn connection.Handler) connection.HandlerID
	Off(id connection.HandlerID) bool
}

type Dependencies struct {
	Connection Connection
	Queue      *writequeue.Queue
	Sender     writequeue.Sender
	// Invalidator 为空时不做缓存失效
	Invalidator Invalidator
	Tags        TagDeriver
	Clock       clock.Clock
	// Probe 非空时启动在线探测，恢复在线后立即 flush
	Probe               writequeue.Probe
	OnlineCheckInterval time.Duration
}

// Snapshot 是供界面展示的会话快照
type Snapshot struct {
	Connection connection.ConnectionState
	Health     connection.ConnectionHealth
	Queue      writequeue.Summary
	Online     bool
	TakenAt    time.Time
}

type Session struct {
	conn        Connection
	queue       *writequeue.Queue
	sender      writequeue.Sender
	invalidator Invalidator
	tags        TagDeriver
	clock       clock.Clock
	monitor     *writequeue.OnlineMonitor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	started   bool
	closed    bool
	listener  event.ListenerID
	handlerID connection.HandlerID

	invalidations      atomic.Uint64
	invalidationErrors atomic.Uint64
}

func New(deps Dependencies) (*Session, error) {
	var errs []error
	if deps.Connection == nil {
		errs = append(errs, fmt.Errorf("%w: connection", ErrMissingDependency))
	}
	if deps.Queue == nil {
		errs = append(errs, fmt.Errorf("%w: write queue", ErrMissingDependency))
	}
	if deps.Sender == nil {
		errs = append(errs, fmt.Errorf("%w: sender", ErrMissingDependency))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if !active.CompareAndSwap(false, true) {
		logger.WarnF("[session] A session is already running in this process, refusing to create another one")
		return nil, ErrAlreadyInitialized
	}

	s := &Session{
		conn:        deps.Connection,
		queue:       deps.Queue,
		sender:      deps.Sender,
		invalidator: deps.Invalidator,
		tags:        deps.Tags,
		clock:       deps.Clock,
	}
	if s.tags == nil {
		s.tags = DefaultTags
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if deps.Probe != nil {
		interval := deps.OnlineCheckInterval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		s.monitor = writequeue.NewOnlineMonitor(deps.Probe, interval, s.clock, func(context.Context) {
			s.flushAsync("online")
		})
	}
	return s, nil
}

// Start 订阅连接事件并发起连接，重复调用不会产生副作用。
// 连接失败时引擎会按配置自动重连，错误仍然返回给调用方。
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		logger.InfoF("[session] Session already started, ignoring Start")
		return nil
	}
	s.started = true
	s.listener = s.conn.OnStateChange(s.onStateChange)
	s.handlerID = s.conn.OnMessage(s.onFrame)
	s.mu.Unlock()

	if s.monitor != nil {
		s.monitor.Start(s.ctx)
	}
	logger.InfoF("[session] Session started")
	if err := s.conn.Connect(ctx); err != nil {
		logger.WarnF("[session] Initial connect failed: %v", err)
		return err
	}
	return nil
}

func (s *Session) onStateChange(change connection.StateChange) {
	if change.To == connection.StatusConnected {
		s.flushAsync("connected")
	}
}

func (s *Session) onFrame(frame wire.Frame) {
	if s.invalidator == nil {
		return
	}
	for _, tag := range s.tags(frame) {
		if err := s.invalidator.InvalidateByTag(s.ctx, tag); err != nil {
			s.invalidationErrors.Add(1)
			logger.WarnF("[session] Failed to invalidate cache tag %q: %v", tag, err)
			continue
		}
		s.invalidations.Add(1)
	}
}

// flushAsync 在后台 flush 写队列，已有 flush 在进行时静默跳过
func (s *Session) flushAsync(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		result, err := s.queue.Flush(s.ctx, s.sender)
		switch {
		case errors.Is(err, writequeue.ErrFlushInProgress):
			logger.DebugF("[session] Flush on %s skipped, another flush is running", reason)
		case err != nil:
			logger.WarnF("[session] Flush on %s failed: %v", reason, err)
		case result.Attempted > 0:
			logger.InfoF("[session] Flush on %s: %d sent, %d retried, %d dropped",
				reason, result.Succeeded, result.Retried, result.Dropped)
		}
	}()
}

func (s *Session) Flush(ctx context.Context) (writequeue.FlushResult, error) {
	return s.queue.Flush(ctx, s.sender)
}

func (s *Session) Enqueue(ctx context.Context, req writequeue.Request) (writequeue.Item, error) {
	return s.queue.Enqueue(ctx, req)
}

func (s *Session) Send(frame wire.Frame) (connection.SendResult, error) {
	return s.conn.Send(frame)
}

func (s *Session) Reconnect(ctx context.Context) error {
	return s.conn.Reconnect(ctx)
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	summary, err := s.queue.Summary(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot := Snapshot{
		Connection: s.conn.State(),
		Health:     s.conn.Health(),
		Queue:      summary,
		Online:     s.conn.State().IsConnected,
		TakenAt:    s.clock.Now(),
	}
	if s.monitor != nil {
		snapshot.Online = s.monitor.Online()
	}
	return snapshot, nil
}

// InvalidationStats 返回成功和失败的失效次数
func (s *Session) InvalidationStats() (ok, failed uint64) {
	return s.invalidations.Load(), s.invalidationErrors.Load()
}

// Close 停止后台任务并关闭连接，之后可以重新创建会话
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.started {
		s.conn.OffStateChange(s.listener)
		s.conn.Off(s.handlerID)
	}
	s.mu.Unlock()

	if s.monitor != nil {
		s.monitor.Stop()
	}
	s.cancel()
	err := s.conn.Close()
	s.wg.Wait()
	active.Store(false)
	logger.InfoF("[session] Session closed")
	return err
}

func (s *Session) Invoke(_ context.Context) error {
	return s.Close()
}
