package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual 是可手动推进的时钟，定时器在 Advance 的调用方 goroutine 中同步触发
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	clock   *Manual
	at      time.Time
	seq     uint64
	f       func()
	stopped bool
	fired   bool
}

// NewManual 创建从 start 开始的手动时钟
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc 注册定时器；d <= 0 的定时器在下一次 Advance 时触发
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d < 0 {
		d = 0
	}
	m.seq++
	timer := &manualTimer{clock: m, at: m.now.Add(d), seq: m.seq, f: f}
	m.timers = append(m.timers, timer)
	return timer
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.clock.removeLocked(t)
	return true
}

func (m *Manual) removeLocked(target *manualTimer) {
	remaining := m.timers[:0]
	for _, timer := range m.timers {
		if timer != target {
			remaining = append(remaining, timer)
		}
	}
	m.timers = remaining
}

// Advance 把时间推进 d，并按到期时间顺序触发所有到期的定时器。
// 回调中新注册且同样到期的定时器也会在本次调用中触发。
func (m *Manual) Advance(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return target
		}
		if next.at.After(m.now) {
			m.now = next.at
		}
		next.fired = true
		m.removeLocked(next)
		m.mu.Unlock()
		next.f()
	}
}

func (m *Manual) nextDueLocked(target time.Time) *manualTimer {
	due := make([]*manualTimer, 0, len(m.timers))
	for _, timer := range m.timers {
		if !timer.at.After(target) {
			due = append(due, timer)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

// Pending 返回尚未触发的定时器数量
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// PendingDelays 返回每个未触发定时器距当前时间的剩余时长，按到期顺序排列
func (m *Manual) PendingDelays() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	timers := append([]*manualTimer(nil), m.timers...)
	sort.Slice(timers, func(i, j int) bool { return timers[i].at.Before(timers[j].at) })
	delays := make([]time.Duration, len(timers))
	for i, timer := range timers {
		delays[i] = timer.at.Sub(m.now)
	}
	return delays
}
