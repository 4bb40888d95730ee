package metrics

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/clock"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
)

// Report 是一次周期报告的内容
type Report struct {
	Status     string
	Connected  bool
	Latency    time.Duration
	Sent       uint64
	Received   uint64
	Reconnects uint64
	Spool      int
	Queue      int
	Failed     int
	RSS        uint64
	CPUPercent float64
}

// Reporter 按固定间隔把运行状态写入日志
type Reporter struct {
	engine   EngineSource
	queue    QueueSource
	interval time.Duration
	clock    clock.Clock
	proc     *process.Process

	mu      sync.Mutex
	running bool
	timer   clock.Timer
	ctx     context.Context
}

func NewReporter(engine EngineSource, queue QueueSource, interval time.Duration, clk clock.Clock) *Reporter {
	if clk == nil {
		clk = clock.Real{}
	}
	r := &Reporter{engine: engine, queue: queue, interval: interval, clock: clk}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.WarnF("[metrics] Process statistics unavailable: %v", err)
	} else {
		r.proc = proc
	}
	return r
}

// Collect 读取一次当前状态
func (r *Reporter) Collect(ctx context.Context) Report {
	var report Report
	if r.engine != nil {
		state := r.engine.State()
		health := r.engine.Health()
		report.Status = state.Status.String()
		report.Connected = state.IsConnected
		if health.Latency != nil {
			report.Latency = *health.Latency
		}
		report.Sent = health.MessagesSent
		report.Received = health.MessagesReceived
		report.Reconnects = uint64(health.TotalReconnects)
		report.Spool = r.engine.SpoolLen()
	}
	if r.queue != nil {
		if summary, err := r.queue.Summary(ctx); err == nil {
			report.Queue = summary.Size
			report.Failed = summary.FailedCount
		}
	}
	if r.proc != nil {
		if mem, err := r.proc.MemoryInfoWithContext(ctx); err == nil {
			report.RSS = mem.RSS
		}
		if cpu, err := r.proc.CPUPercentWithContext(ctx); err == nil {
			report.CPUPercent = cpu
		}
	}
	return report
}

func (r *Reporter) Report(ctx context.Context) Report {
	report := r.Collect(ctx)
	logger.InfoF("[metrics] status=%s latency=%s sent=%s received=%s reconnects=%d spool=%d queue=%d failed=%d rss=%s cpu=%.1f%%",
		report.Status, report.Latency, humanize.Comma(int64(report.Sent)), humanize.Comma(int64(report.Received)),
		report.Reconnects, report.Spool, report.Queue, report.Failed, humanize.Bytes(report.RSS), report.CPUPercent)
	return report
}

// Start 按间隔输出报告，直到 Stop 或 ctx 结束
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.interval <= 0 {
		return
	}
	r.running = true
	r.ctx = ctx
	r.timer = r.clock.AfterFunc(r.interval, r.tick)
}

func (r *Reporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Reporter) tick() {
	r.mu.Lock()
	if !r.running || r.ctx.Err() != nil {
		r.running = false
		r.mu.Unlock()
		return
	}
	ctx := r.ctx
	r.mu.Unlock()

	r.Report(ctx)

	r.mu.Lock()
	if r.running {
		r.timer = r.clock.AfterFunc(r.interval, r.tick)
	}
	r.mu.Unlock()
}

func (r *Reporter) Invoke(_ context.Context) error {
	r.Stop()
	return nil
}
