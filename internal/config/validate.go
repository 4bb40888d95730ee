package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/utils"
)

// ConnectionTiming 是 ConnectionConfig 中时间字段解析后的结果
type ConnectionTiming struct {
	ReconnectBaseDelay  time.Duration
	MaxReconnectDelay   time.Duration
	ConnectionTimeout   time.Duration
	PingInterval        time.Duration
	PingTimeout         time.Duration
	HealthCheckInterval time.Duration
}

type WriteQueueTiming struct {
	BaseBackoff         time.Duration
	MaxBackoff          time.Duration
	RequestTimeout      time.Duration
	OnlineCheckInterval time.Duration
}

type durationField struct {
	name  string
	value string
	dst   *time.Duration
}

func parseDurations(fields []durationField) error {
	var errs []error
	for _, f := range fields {
		d, err := utils.ParseStringTime(f.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		*f.dst = d
	}
	return errors.Join(errs...)
}

func (c ConnectionConfig) Timing() (ConnectionTiming, error) {
	var t ConnectionTiming
	err := parseDurations([]durationField{
		{"connection.reconnect_base_delay", c.ReconnectBaseDelay, &t.ReconnectBaseDelay},
		{"connection.max_reconnect_delay", c.MaxReconnectDelay, &t.MaxReconnectDelay},
		{"connection.connection_timeout", c.ConnectionTimeout, &t.ConnectionTimeout},
		{"connection.ping_interval", c.PingInterval, &t.PingInterval},
		{"connection.ping_timeout", c.PingTimeout, &t.PingTimeout},
		{"connection.health_check_interval", c.HealthCheckInterval, &t.HealthCheckInterval},
	})
	return t, err
}

func (c WriteQueueConfig) Timing() (WriteQueueTiming, error) {
	var t WriteQueueTiming
	err := parseDurations([]durationField{
		{"write_queue.base_backoff", c.BaseBackoff, &t.BaseBackoff},
		{"write_queue.max_backoff", c.MaxBackoff, &t.MaxBackoff},
		{"write_queue.request_timeout", c.RequestTimeout, &t.RequestTimeout},
		{"write_queue.online_check_interval", c.OnlineCheckInterval, &t.OnlineCheckInterval},
	})
	return t, err
}

func (c MongoConfig) OperationTimeoutDuration() time.Duration {
	d, err := utils.ParseStringTime(c.OperationTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

func (c MetricsConfig) ReportIntervalDuration() (time.Duration, error) {
	return utils.ParseStringTime(c.ReportInterval)
}

// Validate 在构造阶段拒绝非法的数值边界
func (c Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.Connection.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("connection.url must be a ws:// or wss:// URL, got %q", c.Connection.URL))
	}
	if c.Connection.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("connection.max_reconnect_attempts must be >= 0"))
	}
	if c.Connection.ReconnectBackoffFactor < 1 {
		errs = append(errs, errors.New("connection.reconnect_backoff_factor must be >= 1"))
	}
	if c.Connection.MaxQueuedMessages < 1 {
		errs = append(errs, errors.New("connection.max_queued_messages must be >= 1"))
	}
	if c.Connection.MessageRetryLimit < 0 {
		errs = append(errs, errors.New("connection.message_retry_limit must be >= 0"))
	}
	if timing, err := c.Connection.Timing(); err != nil {
		errs = append(errs, err)
	} else {
		if timing.ReconnectBaseDelay <= 0 || timing.ConnectionTimeout <= 0 || timing.PingInterval <= 0 ||
			timing.PingTimeout <= 0 || timing.HealthCheckInterval <= 0 {
			errs = append(errs, errors.New("connection delays, timeouts and intervals must be positive"))
		}
		if timing.MaxReconnectDelay < timing.ReconnectBaseDelay {
			errs = append(errs, errors.New("connection.max_reconnect_delay must be >= connection.reconnect_base_delay"))
		}
	}

	if c.WriteQueue.MaxSize < 1 {
		errs = append(errs, errors.New("write_queue.max_size must be >= 1"))
	}
	if c.WriteQueue.MaxAttempts < 0 {
		errs = append(errs, errors.New("write_queue.max_attempts must be >= 0"))
	}
	if c.WriteQueue.BackoffFactor < 1 {
		errs = append(errs, errors.New("write_queue.backoff_factor must be >= 1"))
	}
	if timing, err := c.WriteQueue.Timing(); err != nil {
		errs = append(errs, err)
	} else if timing.BaseBackoff <= 0 || timing.MaxBackoff < timing.BaseBackoff {
		errs = append(errs, errors.New("write_queue backoff must satisfy 0 < base_backoff <= max_backoff"))
	}

	switch c.Store.Backend {
	case "memory", "file", "mongo", "redis":
	default:
		errs = append(errs, fmt.Errorf("store.backend must be one of memory, file, mongo, redis, got %q", c.Store.Backend))
	}

	if d, err := c.Metrics.ReportIntervalDuration(); err != nil {
		errs = append(errs, fmt.Errorf("metrics.report_interval: %w", err))
	} else if d <= 0 {
		errs = append(errs, errors.New("metrics.report_interval must be positive"))
	}

	return errors.Join(errs...)
}
