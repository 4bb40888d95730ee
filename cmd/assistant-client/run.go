package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/cache"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/clock"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/connection"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/session"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/transport"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/wire"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/writequeue"
)

const (
	cacheSize = 1024
	cacheTTL  = 10 * time.Minute
)

func newRunCommand(a *app) *cobra.Command {
	var subscribe []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the event endpoint and keep the session alive until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), subscribe)
		},
	}
	cmd.Flags().StringSliceVar(&subscribe, "subscribe", nil, "event types to subscribe to after connecting")
	return cmd
}

func (a *app) run(parent context.Context, subscribe []string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx := a.cleaner.WaitForSignal(parent)
	clk := clock.Real{}

	queue, err := a.openQueue(ctx)
	if err != nil {
		_ = a.cleaner.Clean()
		return err
	}
	sender, err := a.newSender()
	if err != nil {
		_ = a.cleaner.Clean()
		return err
	}

	opts, err := connection.OptionsFromConfig(a.config.Connection)
	if err != nil {
		_ = a.cleaner.Clean()
		return fmt.Errorf("invalid connection options: %w", err)
	}
	engine, err := connection.New(opts, transport.NewWebsocketDialer(), clk)
	if err != nil {
		_ = a.cleaner.Clean()
		return err
	}
	engine.OnStateChange(func(change connection.StateChange) {
		if change.Err != nil {
			logger.InfoF("[client] Connection %s -> %s: %v", change.From, change.To, change.Err)
			return
		}
		logger.InfoF("[client] Connection %s -> %s", change.From, change.To)
	})
	if len(subscribe) > 0 {
		types := make([]wire.EventType, 0, len(subscribe))
		for _, s := range subscribe {
			types = append(types, wire.EventType(s))
		}
		if err := engine.Subscribe(types...); err != nil {
			logger.WarnF("[client] Subscription deferred: %v", err)
		}
	}

	timing, err := a.config.WriteQueue.Timing()
	if err != nil {
		_ = a.cleaner.Clean()
		return err
	}
	probe, err := writequeue.TCPProbe(a.config.WriteQueue.APIBaseURL, timing.RequestTimeout)
	if err != nil {
		_ = a.cleaner.Clean()
		return err
	}

	tagCache := cache.NewTagCache[[]byte](cacheSize, cacheTTL)
	sess, err := session.New(session.Dependencies{
		Connection:          engine,
		Queue:               queue,
		Sender:              sender,
		Invalidator:         tagCache,
		Clock:               clk,
		Probe:               probe,
		OnlineCheckInterval: timing.OnlineCheckInterval,
	})
	if err != nil {
		_ = a.cleaner.Clean()
		return err
	}
	a.cleaner.Add(sess)

	if err := a.startMetrics(ctx, engine, queue, clk); err != nil {
		_ = a.cleaner.Clean()
		return err
	}

	if err := sess.Start(ctx); err != nil {
		logger.WarnF("[client] Connection not established yet, retrying in background: %v", err)
	}
	<-a.cleaner.Done()
	return nil
}

func (a *app) startMetrics(ctx context.Context, engine *connection.Engine, queue *writequeue.Queue, clk clock.Clock) error {
	interval, err := a.config.Metrics.ReportIntervalDuration()
	if err != nil {
		return err
	}
	reporter := metrics.NewReporter(engine, queue, interval, clk)
	reporter.Start(ctx)
	a.cleaner.Add(reporter)

	if a.config.Metrics.Listen == "" {
		return nil
	}
	srv, err := metrics.Serve(a.config.Metrics.Listen, metrics.NewRegistry(engine, queue))
	if err != nil {
		return err
	}
	a.cleaner.Add(srv)
	return nil
}
