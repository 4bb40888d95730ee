package writequeue

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/clock"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
)

// Probe 检查后端是否可达，返回 nil 表示在线
type Probe func(ctx context.Context) error

// TCPProbe 尝试与 rawURL 对应的主机建立 TCP 连接
func TCPProbe(rawURL string, timeout time.Duration) (Probe, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid probe url %q", rawURL)
	}
	addr := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" || u.Scheme == "wss" {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	dialer := &net.Dialer{Timeout: timeout}
	return func(ctx context.Context) error {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}, nil
}

// OnlineMonitor 周期性探测后端，从离线变为在线时调用 onOnline
type OnlineMonitor struct {
	probe    Probe
	interval time.Duration
	clock    clock.Clock
	onOnline func(ctx context.Context)

	mu      sync.Mutex
	known   bool
	online  bool
	running bool
	timer   clock.Timer
	ctx     context.Context
}

func NewOnlineMonitor(probe Probe, interval time.Duration, clk clock.Clock, onOnline func(ctx context.Context)) *OnlineMonitor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &OnlineMonitor{probe: probe, interval: interval, clock: clk, onOnline: onOnline}
}

// Start 立即探测一次，之后按间隔探测，直到 Stop 或 ctx 结束
func (m *OnlineMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.ctx = ctx
	m.mu.Unlock()

	m.tick()
}

func (m *OnlineMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *OnlineMonitor) tick() {
	m.mu.Lock()
	if !m.running || m.ctx.Err() != nil {
		m.running = false
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.mu.Unlock()

	m.Check(ctx)

	m.mu.Lock()
	if m.running {
		m.timer = m.clock.AfterFunc(m.interval, m.tick)
	}
	m.mu.Unlock()
}

// Check 探测一次并处理状态跳变，返回当前是否在线
func (m *OnlineMonitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	err := m.probe(probeCtx)
	cancel()
	online := err == nil

	m.mu.Lock()
	cameOnline := m.known && !m.online && online
	wentOffline := m.known && m.online && !online
	m.known = true
	m.online = online
	m.mu.Unlock()

	switch {
	case cameOnline:
		logger.InfoF("[online-monitor] Backend reachable again")
		if m.onOnline != nil {
			m.onOnline(ctx)
		}
	case wentOffline:
		logger.WarnF("[online-monitor] Backend unreachable: %v", err)
	}
	return online
}

func (m *OnlineMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}
