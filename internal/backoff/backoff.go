// Package backoff 计算重连与重试使用的指数退避时长
package backoff

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// Exponential 描述 min(Base × Factor^(n-1), Max) 形式的退避策略
type Exponential struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

var (
	ErrInvalidBase   = errors.New("backoff base delay must be positive")
	ErrInvalidFactor = errors.New("backoff factor must be >= 1")
	ErrInvalidMax    = errors.New("backoff max delay must be >= base delay")
)

func (e Exponential) Validate() error {
	var errs []error
	if e.Base <= 0 {
		errs = append(errs, ErrInvalidBase)
	}
	if e.Factor < 1 || math.IsNaN(e.Factor) || math.IsInf(e.Factor, 0) {
		errs = append(errs, ErrInvalidFactor)
	}
	if e.Max < e.Base {
		errs = append(errs, ErrInvalidMax)
	}
	return errors.Join(errs...)
}

// Delay 返回第 attempt 次重试（从 1 开始）的等待时长
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(e.Base) * math.Pow(e.Factor, float64(attempt-1))
	if math.IsInf(delay, 0) || delay >= float64(e.Max) {
		return e.Max
	}
	return time.Duration(delay)
}

// Jitter 对 d 施加 ±fraction 的均匀随机扰动，结果至少为 1ms
type Jitter struct {
	Fraction float64
	// Rand 返回 [0,1) 的随机数，为空时使用 math/rand/v2
	Rand func() float64
}

func (j Jitter) Apply(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Millisecond
	}
	r := rand.Float64
	if j.Rand != nil {
		r = j.Rand
	}
	offset := (r()*2 - 1) * j.Fraction * float64(d)
	jittered := time.Duration(float64(d) + offset)
	if jittered < time.Millisecond {
		return time.Millisecond
	}
	return jittered
}

// Bounds 返回 Apply 对 d 可能产生的最小和最大值
func (j Jitter) Bounds(d time.Duration) (time.Duration, time.Duration) {
	span := time.Duration(j.Fraction * float64(d))
	low := d - span
	if low < time.Millisecond {
		low = time.Millisecond
	}
	return low, d + span
}
