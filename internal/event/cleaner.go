package event

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
)

type Callable interface {
	Invoke(ctx context.Context) error
}

// CallableFunc 把普通函数适配为 Callable
type CallableFunc func(ctx context.Context) error

func (f CallableFunc) Invoke(ctx context.Context) error {
	return f(ctx)
}

// Cleaner 在进程退出前按注册的逆序执行清理回调
type Cleaner struct {
	cleaners       []Callable
	mu             sync.Mutex
	once           sync.Once
	cleaning       bool
	loggerShutdown Callable
	timeout        time.Duration
	done           chan struct{}
}

func NewCleaner(loggerShutdown Callable) *Cleaner {
	return &Cleaner{
		loggerShutdown: loggerShutdown,
		timeout:        10 * time.Second,
		done:           make(chan struct{}),
	}
}

func (c *Cleaner) Add(callable Callable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaning {
		logger.Debug("Cleaner is already shutting down, ignoring new cleaner")
		return
	}
	c.cleaners = append(c.cleaners, callable)
}

// WaitForSignal 返回一个在收到 SIGINT/SIGTERM 或 parent 结束时取消的 context，
// 取消后自动执行清理。
func (c *Cleaner) WaitForSignal(parent context.Context) context.Context {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
		logger.Info("Received shutdown signal, cleaning up")
		_ = c.Clean()
	}()
	return ctx
}

// Done 在清理完成后关闭
func (c *Cleaner) Done() <-chan struct{} {
	return c.done
}

// Clean 只会执行一次，返回所有回调错误的合并结果
func (c *Cleaner) Clean() error {
	var result error
	c.once.Do(func() {
		defer close(c.done)

		c.mu.Lock()
		c.cleaning = true
		cleanersCopy := make([]Callable, len(c.cleaners))
		copy(cleanersCopy, c.cleaners)
		c.mu.Unlock()

		logger.DebugF("Starting cleanup of %d registered functions", len(cleanersCopy))

		var errs []error
		for i := len(cleanersCopy) - 1; i >= 0; i-- {
			func(idx int, callable Callable) {
				logger.DebugF("Invoking cleaner #%d (%T)", idx+1, callable)
				timeoutCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
				defer cancel()
				if err := callable.Invoke(timeoutCtx); err != nil {
					logger.ErrorF("Cleaner #%d (%T) failed: %v", idx+1, callable, err)
					errs = append(errs, err)
				}
			}(i, cleanersCopy[i])
		}

		if len(errs) > 0 {
			logger.ErrorF("%d errors occurred during cleanup", len(errs))
			result = errors.Join(errs...)
		} else {
			logger.Debug("All cleaners executed successfully")
		}
		logger.Info("Cleanup finished")

		if c.loggerShutdown != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := c.loggerShutdown.Invoke(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "LOGGER SHUTDOWN ERROR: %v\n", err)
			}
		}
	})
	return result
}
