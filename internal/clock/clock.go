// Package clock 抽象了时间相关的操作，便于在测试中精确控制定时器
package clock

import "time"

// Clock 是引擎和队列使用的时间来源
type Clock interface {
	Now() time.Time
	// AfterFunc 在 d 之后于独立的 goroutine 中调用 f
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer 是可取消的一次性定时器
type Timer interface {
	// Stop 取消定时器，若定时器已触发或已取消则返回 false
	Stop() bool
}

// Real 使用标准库实现 Clock
type Real struct{}

// Now 返回当前 UTC 时间
func (Real) Now() time.Time {
	return time.Now().UTC()
}

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
