// Package metrics 把连接引擎和写队列的状态暴露为 Prometheus 指标，并定期输出到日志
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/connection"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/writequeue"
)

const (
	namespace      = "assistant"
	summaryTimeout = 2 * time.Second
)

// EngineSource 由 *connection.Engine 实现
type EngineSource interface {
	State() connection.ConnectionState
	Health() connection.ConnectionHealth
	SpoolLen() int
}

// QueueSource 由 *writequeue.Queue 实现
type QueueSource interface {
	Stats() writequeue.Stats
	Summary(ctx context.Context) (writequeue.Summary, error)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func queueSize(queue QueueSource) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()
	summary, err := queue.Summary(ctx)
	if err != nil {
		return -1
	}
	return float64(summary.Size)
}

// NewRegistry 创建独立的注册表，指标在抓取时从数据源实时读取。
// engine 或 queue 为空时跳过对应的指标。
func NewRegistry(engine EngineSource, queue QueueSource) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if engine != nil {
		gauge := func(subsystem, name, help string, fn func() float64) prometheus.Collector {
			return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}, fn)
		}
		counter := func(name, help string, fn func() float64) prometheus.Collector {
			return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Subsystem: "connection", Name: name, Help: help}, fn)
		}
		registry.MustRegister(
			gauge("connection", "connected", "1 when the realtime connection is open.", func() float64 {
				return boolValue(engine.State().IsConnected)
			}),
			gauge("connection", "status", "Connection status index: 0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed, 5 closed.", func() float64 {
				return float64(engine.State().Status)
			}),
			gauge("connection", "healthy", "1 when the connection saw recent activity.", func() float64 {
				return boolValue(engine.Health().IsHealthy)
			}),
			gauge("connection", "reconnect_attempts", "Reconnect attempts since the last successful connect.", func() float64 {
				return float64(engine.State().ReconnectAttempts)
			}),
			gauge("connection", "consecutive_failures", "Consecutive ping or decode failures.", func() float64 {
				return float64(engine.Health().ConsecutiveFailures)
			}),
			gauge("connection", "latency_seconds", "Last measured ping round trip, -1 when unknown.", func() float64 {
				if latency := engine.Health().Latency; latency != nil {
					return latency.Seconds()
				}
				return -1
			}),
			gauge("spool", "length", "Outbound frames waiting for a connection.", func() float64 {
				return float64(engine.SpoolLen())
			}),
			counter("reconnects_total", "Successful reconnects.", func() float64 {
				return float64(engine.Health().TotalReconnects)
			}),
			counter("messages_sent_total", "Frames written to the connection.", func() float64 {
				return float64(engine.Health().MessagesSent)
			}),
			counter("messages_received_total", "Frames read from the connection.", func() float64 {
				return float64(engine.Health().MessagesReceived)
			}),
		)
	}

	if queue != nil {
		counter := func(name, help string, fn func(writequeue.Stats) uint64) prometheus.Collector {
			return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Subsystem: "writequeue", Name: name, Help: help}, func() float64 {
				return float64(fn(queue.Stats()))
			})
		}
		registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: "writequeue", Name: "size",
				Help: "Persisted write requests waiting to be sent, -1 when the store is unreadable.",
			}, func() float64 { return queueSize(queue) }),
			counter("enqueued_total", "Requests accepted into the queue.", func(s writequeue.Stats) uint64 { return s.Enqueued }),
			counter("evicted_total", "Requests evicted by the size cap.", func(s writequeue.Stats) uint64 { return s.Evicted }),
			counter("succeeded_total", "Requests delivered.", func(s writequeue.Stats) uint64 { return s.Succeeded }),
			counter("retried_total", "Failed deliveries scheduled for retry.", func(s writequeue.Stats) uint64 { return s.Retried }),
			counter("dropped_total", "Requests dropped after exhausting attempts.", func(s writequeue.Stats) uint64 { return s.Dropped }),
			counter("flushes_total", "Completed flush runs.", func(s writequeue.Stats) uint64 { return s.Flushes }),
		)
	}
	return registry
}
