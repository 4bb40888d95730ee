package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/clock"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/wire"
)

type pingResult struct {
	latency time.Duration
	err     error
}

// pendingPing 是尚未收到 pong 的 ping，同一时刻最多存在一个
type pendingPing struct {
	key    int64
	sentAt time.Time
	timer  clock.Timer
	result chan pingResult
	once   sync.Once
}

func (p *pendingPing) finish(r pingResult) {
	p.once.Do(func() {
		p.result <- r
		close(p.result)
	})
}

// Ping 发送一次 ping 并等待对应的 pong，返回往返延迟。
// 超时只增加 ConsecutiveFailures，不会断开连接。
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	p, err := e.sendPing()
	if err != nil {
		return 0, err
	}
	select {
	case r := <-p.result:
		return r.latency, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (e *Engine) sendPing() (*pendingPing, error) {
	e.mu.Lock()
	if e.state.Status != StatusConnected {
		e.mu.Unlock()
		return nil, ErrNotConnected
	}
	if e.pending != nil {
		e.mu.Unlock()
		return nil, ErrPingInFlight
	}
	now := e.clock.Now()
	ping := wire.NewPing(now)
	p := &pendingPing{key: ping.ClientTimestamp, sentAt: now, result: make(chan pingResult, 1)}
	gen := e.generation
	p.timer = e.clock.AfterFunc(e.opts.PingTimeout, func() { e.pingTimedOut(gen, p) })
	e.pending = p
	e.health.LastPingAt = now
	e.mu.Unlock()

	if err := e.write(gen, ping); err != nil {
		e.mu.Lock()
		if e.pending == p {
			e.pending = nil
			stopTimer(&p.timer)
			e.health.ConsecutiveFailures++
		}
		e.mu.Unlock()
		p.finish(pingResult{err: err})
		return nil, err
	}
	return p, nil
}

func (e *Engine) pingTimedOut(gen uint64, p *pendingPing) {
	e.mu.Lock()
	if gen != e.generation || e.pending != p {
		e.mu.Unlock()
		return
	}
	e.pending = nil
	e.health.ConsecutiveFailures++
	failures := e.health.ConsecutiveFailures
	e.mu.Unlock()

	logger.WarnF("[engine] Ping timed out after %s (%d consecutive failures)", e.opts.PingTimeout, failures)
	p.finish(pingResult{err: ErrPingTimeout})
}

func (e *Engine) handlePong(pong *wire.PongFrame) {
	e.mu.Lock()
	p := e.pending
	if p == nil || p.key != pong.ClientTimestamp {
		e.mu.Unlock()
		logger.DebugF("[engine] Ignoring unmatched pong for %d", pong.ClientTimestamp)
		return
	}
	e.pending = nil
	stopTimer(&p.timer)
	now := e.clock.Now()
	latency := now.Sub(p.sentAt)
	e.health.Latency = &latency
	e.health.LastPongAt = now
	e.health.ConsecutiveFailures = 0
	e.mu.Unlock()

	logger.DebugF("[engine] Pong received, latency %s", latency)
	p.finish(pingResult{latency: latency})
}

func (e *Engine) startTimersLocked(gen uint64) {
	e.stopConnectionTimersLocked()
	e.heartbeatTimer = e.clock.AfterFunc(e.opts.PingInterval, func() { e.heartbeatTick(gen) })
	e.healthTimer = e.clock.AfterFunc(e.opts.HealthCheckInterval, func() { e.healthTick(gen) })
}

func (e *Engine) stopConnectionTimersLocked() {
	stopTimer(&e.heartbeatTimer)
	stopTimer(&e.healthTimer)
}

func (e *Engine) heartbeatTick(gen uint64) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	e.heartbeatTimer = e.clock.AfterFunc(e.opts.PingInterval, func() { e.heartbeatTick(gen) })
	e.mu.Unlock()

	if _, err := e.sendPing(); err != nil && !errors.Is(err, ErrPingInFlight) {
		logger.WarnF("[engine] Heartbeat ping failed: %v", err)
	}
}

func (e *Engine) healthTick(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return
	}
	e.healthTimer = e.clock.AfterFunc(e.opts.HealthCheckInterval, func() { e.healthTick(gen) })

	was := e.health.IsHealthy
	e.health.IsHealthy = e.computeHealthyLocked(e.clock.Now())
	if was && !e.health.IsHealthy {
		logger.WarnF("[engine] Connection looks stale: no traffic for over %s", 2*e.opts.PingInterval)
	} else if !was && e.health.IsHealthy {
		logger.InfoF("[engine] Connection healthy again")
	}
}

// computeHealthyLocked 判断最近一次 pong、入站帧或建连是否在两个心跳周期之内
func (e *Engine) computeHealthyLocked(now time.Time) bool {
	if e.state.Status != StatusConnected {
		return false
	}
	last := e.state.LastConnectedAt
	if e.health.LastPongAt.After(last) {
		last = e.health.LastPongAt
	}
	if e.lastActivityAt.After(last) {
		last = e.lastActivityAt
	}
	return now.Sub(last) <= 2*e.opts.PingInterval
}
