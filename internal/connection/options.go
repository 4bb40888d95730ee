package connection

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/backoff"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/config"
)

type Options struct {
	URL                    string
	Header                 http.Header
	AutoReconnect          bool
	MaxReconnectAttempts   int
	ReconnectBaseDelay     time.Duration
	MaxReconnectDelay      time.Duration
	ReconnectBackoffFactor float64
	ConnectionTimeout      time.Duration
	PingInterval           time.Duration
	PingTimeout            time.Duration
	HealthCheckInterval    time.Duration
	MessageQueueEnabled    bool
	MaxQueuedMessages      int
	MessageRetryLimit      int
}

func DefaultOptions(url string) Options {
	return Options{
		URL:                    url,
		AutoReconnect:          true,
		MaxReconnectAttempts:   10,
		ReconnectBaseDelay:     time.Second,
		MaxReconnectDelay:      30 * time.Second,
		ReconnectBackoffFactor: 2,
		ConnectionTimeout:      10 * time.Second,
		PingInterval:           30 * time.Second,
		PingTimeout:            5 * time.Second,
		HealthCheckInterval:    10 * time.Second,
		MessageQueueEnabled:    true,
		MaxQueuedMessages:      100,
		MessageRetryLimit:      3,
	}
}

func OptionsFromConfig(c config.ConnectionConfig) (Options, error) {
	timing, err := c.Timing()
	if err != nil {
		return Options{}, err
	}
	header := http.Header{}
	for k, v := range c.Headers {
		header.Set(k, v)
	}
	opts := Options{
		URL:                    c.URL,
		Header:                 header,
		AutoReconnect:          c.AutoReconnect,
		MaxReconnectAttempts:   c.MaxReconnectAttempts,
		ReconnectBaseDelay:     timing.ReconnectBaseDelay,
		MaxReconnectDelay:      timing.MaxReconnectDelay,
		ReconnectBackoffFactor: c.ReconnectBackoffFactor,
		ConnectionTimeout:      timing.ConnectionTimeout,
		PingInterval:           timing.PingInterval,
		PingTimeout:            timing.PingTimeout,
		HealthCheckInterval:    timing.HealthCheckInterval,
		MessageQueueEnabled:    c.MessageQueueEnabled,
		MaxQueuedMessages:      c.MaxQueuedMessages,
		MessageRetryLimit:      c.MessageRetryLimit,
	}
	return opts, opts.Validate()
}

func (o Options) Backoff() backoff.Exponential {
	return backoff.Exponential{
		Base:   o.ReconnectBaseDelay,
		Factor: o.ReconnectBackoffFactor,
		Max:    o.MaxReconnectDelay,
	}
}

func (o Options) Validate() error {
	var errs []error
	if u, err := url.Parse(o.URL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid connection url %q", o.URL))
	}
	if o.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("max reconnect attempts must be >= 0"))
	}
	if err := o.Backoff().Validate(); err != nil {
		errs = append(errs, err)
	}
	if o.ConnectionTimeout <= 0 {
		errs = append(errs, errors.New("connection timeout must be positive"))
	}
	if o.PingInterval <= 0 || o.PingTimeout <= 0 {
		errs = append(errs, errors.New("ping interval and timeout must be positive"))
	}
	if o.HealthCheckInterval <= 0 {
		errs = append(errs, errors.New("health check interval must be positive"))
	}
	if o.MessageQueueEnabled && o.MaxQueuedMessages < 1 {
		errs = append(errs, errors.New("max queued messages must be >= 1 when queuing is enabled"))
	}
	if o.MessageRetryLimit < 0 {
		errs = append(errs, errors.New("message retry limit must be >= 0"))
	}
	return errors.Join(errs...)
}
