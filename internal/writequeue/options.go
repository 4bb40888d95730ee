package writequeue

import (
	"errors"
	"fmt"
	"time"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/backoff"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/clock"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
)

var (
	ErrInvalidMethod   = errors.New("method must be one of POST, PUT, PATCH, DELETE")
	ErrInvalidPriority = errors.New("unknown priority")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrFlushInProgress = errors.New("a flush is already in progress")
	ErrCorruptQueue    = errors.New("persisted queue data is corrupt")
)

type Options struct {
	Namespace      string
	MaxSize        int
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	JitterFraction float64
	// FlushLockTTL 是跨进程 flush 锁的有效期，只在存储支持 database.Locker 时使用
	FlushLockTTL time.Duration
}

func DefaultOptions() Options {
	return Options{
		Namespace:      "offline-queue",
		MaxSize:        500,
		MaxAttempts:    5,
		BaseBackoff:    time.Second,
		MaxBackoff:     5 * time.Minute,
		BackoffFactor:  2,
		JitterFraction: 0.25,
		FlushLockTTL:   time.Minute,
	}
}

func OptionsFromConfig(c config.WriteQueueConfig) (Options, error) {
	timing, err := c.Timing()
	if err != nil {
		return Options{}, err
	}
	opts := DefaultOptions()
	opts.Namespace = c.Namespace
	opts.MaxSize = c.MaxSize
	opts.MaxAttempts = c.MaxAttempts
	opts.BaseBackoff = timing.BaseBackoff
	opts.MaxBackoff = timing.MaxBackoff
	opts.BackoffFactor = c.BackoffFactor
	return opts, opts.Validate()
}

func (o Options) Backoff() backoff.Exponential {
	return backoff.Exponential{Base: o.BaseBackoff, Factor: o.BackoffFactor, Max: o.MaxBackoff}
}

func (o Options) Validate() error {
	var errs []error
	if o.Namespace == "" {
		errs = append(errs, errors.New("write queue namespace must not be empty"))
	}
	if o.MaxSize < 1 {
		errs = append(errs, errors.New("write queue max size must be >= 1"))
	}
	if o.MaxAttempts < 0 {
		errs = append(errs, errors.New("write queue max attempts must be >= 0"))
	}
	if err := o.Backoff().Validate(); err != nil {
		errs = append(errs, err)
	}
	if o.JitterFraction < 0 || o.JitterFraction >= 1 {
		errs = append(errs, fmt.Errorf("jitter fraction must be in [0, 1), got %v", o.JitterFraction))
	}
	return errors.Join(errs...)
}

type Option func(*Queue)

func WithClock(clk clock.Clock) Option {
	return func(q *Queue) { q.clock = clk }
}

// WithErrorLogger 设置记录单条请求失败的日志接收方
func WithErrorLogger(l logger.ErrorLogger) Option {
	return func(q *Queue) { q.errLog = l }
}

// WithRand 替换抖动使用的随机源，返回值须在 [0,1) 之间
func WithRand(r func() float64) Option {
	return func(q *Queue) { q.jitter.Rand = r }
}
