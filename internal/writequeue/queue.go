package writequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/backoff"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/clock"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/database"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/utils"
)

const (
	failedLedgerLimit       = 100
	ReasonAttemptsExhausted = "attempts_exhausted"
)

// Summary 是按需计算的队列概况，不会被持久化
type Summary struct {
	Size        int
	ByPriority  map[Priority]int
	Syncing     bool
	LastSyncAt  time.Time
	LastError   string
	FailedCount int
	// NextAttemptAt 是最早可重试条目的时间，队列为空时为零值
	NextAttemptAt time.Time
}

// FlushResult 汇总一次 flush 的结果
type FlushResult struct {
	Attempted int
	Succeeded int
	Retried   int
	Dropped   int
	// Deferred 是因退避尚未结束而跳过的条目数
	Deferred int
}

// Stats 是进程启动以来的累计计数
type Stats struct {
	Enqueued  uint64
	Evicted   uint64
	Succeeded uint64
	Retried   uint64
	Dropped   uint64
	Flushes   uint64
}

type outcomeKind int

const (
	outcomeSucceeded outcomeKind = iota
	outcomeRetry
	outcomeDropped
)

type outcome struct {
	kind outcomeKind
	item Item
}

// Queue 是持久化的写请求队列。
// 所有对持久化列表的读-改-写都在 mu 内完成，flush 中的网络调用在锁外进行，
// 结束后按 id 合并到重新读取的列表中。
type Queue struct {
	store   database.Store
	opts    Options
	backoff backoff.Exponential
	jitter  backoff.Jitter
	clock   clock.Clock
	errLog  logger.ErrorLogger

	mu      sync.Mutex
	syncing atomic.Bool

	statusMu   sync.Mutex
	lastSyncAt time.Time
	lastError  string

	enqueued  atomic.Uint64
	evicted   atomic.Uint64
	succeeded atomic.Uint64
	retried   atomic.Uint64
	dropped   atomic.Uint64
	flushes   atomic.Uint64
}

func New(store database.Store, opts Options, options ...Option) (*Queue, error) {
	if store == nil {
		return nil, errors.New("write queue requires a store")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid write queue options: %w", err)
	}
	q := &Queue{
		store:   store,
		opts:    opts,
		backoff: opts.Backoff(),
		jitter:  backoff.Jitter{Fraction: opts.JitterFraction},
		clock:   clock.Real{},
		errLog:  logger.NewSlogErrorLogger("write-queue"),
	}
	for _, option := range options {
		option(q)
	}
	return q, nil
}

func (q *Queue) Options() Options {
	return q.opts
}

func (q *Queue) itemsKey() string {
	return q.opts.Namespace + ":items"
}

func (q *Queue) failedKey() string {
	return q.opts.Namespace + ":failed"
}

func (q *Queue) lockKey() string {
	return q.opts.Namespace + ":flush"
}

func loadJSON[T any](ctx context.Context, store database.Store, key string) ([]T, error) {
	data, err := store.Get(ctx, key)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error occured while loading %s: %w", key, err)
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w (%s): %v", ErrCorruptQueue, key, err)
	}
	return out, nil
}

func saveJSON[T any](ctx context.Context, store database.Store, key string, values []T) error {
	if len(values) == 0 {
		return store.Delete(ctx, key)
	}
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("error occured while encoding %s: %w", key, err)
	}
	if err := store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("error occured while saving %s: %w", key, err)
	}
	return nil
}

// Enqueue 持久化一条新请求，随后按容量上限淘汰最早创建的条目
func (q *Queue) Enqueue(ctx context.Context, req Request) (Item, error) {
	req, err := req.normalize()
	if err != nil {
		return Item{}, err
	}
	nowMs := utils.UnixMilli(q.clock.Now())
	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = q.opts.MaxAttempts
	}
	item := Item{
		ID:            uuid.NewString(),
		URL:           req.URL,
		Method:        req.Method,
		Body:          req.Body,
		Headers:       req.Headers,
		Priority:      req.Priority,
		CreatedAt:     nowMs,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: nowMs,
		TenantID:      req.TenantID,
		TraceID:       req.TraceID,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	items, err := loadJSON[Item](ctx, q.store, q.itemsKey())
	if err != nil {
		return Item{}, err
	}
	items = append(items, item)
	if err := saveJSON(ctx, q.store, q.itemsKey(), items); err != nil {
		return Item{}, err
	}
	q.enqueued.Add(1)
	logger.DebugF("[write-queue] Enqueued %s %s as %s (%s)", item.Method, item.URL, item.ID, item.Priority)

	if _, err := q.enforceLimitLocked(ctx); err != nil {
		return item, err
	}
	return item, nil
}

// EnforceLimit 在条目数超过上限时淘汰最早创建的条目，返回淘汰数量
func (q *Queue) EnforceLimit(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enforceLimitLocked(ctx)
}

func (q *Queue) enforceLimitLocked(ctx context.Context) (int, error) {
	items, err := loadJSON[Item](ctx, q.store, q.itemsKey())
	if err != nil {
		return 0, err
	}
	excess := len(items) - q.opts.MaxSize
	if excess <= 0 {
		return 0, nil
	}

	// 同一毫秒创建的条目按入队顺序淘汰
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return items[order[a]].CreatedAt < items[order[b]].CreatedAt
	})
	evict := make(map[int]struct{}, excess)
	for _, idx := range order[:excess] {
		evict[idx] = struct{}{}
	}

	kept := make([]Item, 0, q.opts.MaxSize)
	for i, it := range items {
		if _, ok := evict[i]; ok {
			q.errLog.Log(logger.LevelWarnName, "write queue full, evicted oldest request", map[string]any{
				"id": it.ID, "url": it.URL, "method": string(it.Method), "max_size": q.opts.MaxSize,
			})
			continue
		}
		kept = append(kept, it)
	}
	if err := saveJSON(ctx, q.store, q.itemsKey(), kept); err != nil {
		return 0, err
	}
	q.evicted.Add(uint64(excess))
	return excess, nil
}

// flushOrder 按优先级从高到低、同优先级按创建时间从早到晚排序
func flushOrder(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if ri, rj := items[i].Priority.Rank(), items[j].Priority.Rank(); ri != rj {
			return ri > rj
		}
		return items[i].CreatedAt < items[j].CreatedAt
	})
}

// Flush 依次发送所有到期的条目。单条失败只影响该条目的退避，不会中断本轮；
// 同一时刻只允许一个 flush，重复调用返回 ErrFlushInProgress。
func (q *Queue) Flush(ctx context.Context, sender Sender) (FlushResult, error) {
	var result FlushResult
	if sender == nil {
		return result, errors.New("flush requires a sender")
	}
	if !q.syncing.CompareAndSwap(false, true) {
		return result, ErrFlushInProgress
	}
	defer q.syncing.Store(false)

	if locker, ok := q.store.(database.Locker); ok {
		release, err := locker.Lock(ctx, q.lockKey(), q.opts.FlushLockTTL)
		if errors.Is(err, database.ErrLockNotHeld) {
			return result, ErrFlushInProgress
		}
		if err != nil {
			return result, err
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				logger.WarnF("[write-queue] Failed to release flush lock: %v", err)
			}
		}()
	}
	q.flushes.Add(1)

	q.mu.Lock()
	items, err := loadJSON[Item](ctx, q.store, q.itemsKey())
	q.mu.Unlock()
	if err != nil {
		return result, err
	}

	nowMs := utils.UnixMilli(q.clock.Now())
	due := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Due(nowMs) {
			due = append(due, it)
		} else {
			result.Deferred++
		}
	}
	flushOrder(due)

	outcomes := make(map[string]outcome, len(due))
	var dropped []FailedRequest
	var lastErr string
	var ctxErr error
	for _, it := range due {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}
		result.Attempted++
		err := sender.Send(ctx, it)
		if err == nil {
			result.Succeeded++
			outcomes[it.ID] = outcome{kind: outcomeSucceeded}
			continue
		}

		failedAt := q.clock.Now()
		it.Attempts++
		it.LastError = err.Error()
		lastErr = it.LastError
		fields := map[string]any{
			"id": it.ID, "url": it.URL, "method": string(it.Method),
			"attempts": it.Attempts, "max_attempts": it.MaxAttempts, "error": it.LastError,
		}
		if it.TraceID != "" {
			fields["trace_id"] = it.TraceID
		}

		if it.Attempts > it.MaxAttempts {
			result.Dropped++
			outcomes[it.ID] = outcome{kind: outcomeDropped}
			dropped = append(dropped, FailedRequest{Item: it, DroppedAt: utils.UnixMilli(failedAt), Reason: ReasonAttemptsExhausted})
			q.errLog.Log(logger.LevelErrorName, "write queue request dropped after exhausting attempts", fields)
			continue
		}

		delay := q.jitter.Apply(q.backoff.Delay(it.Attempts))
		it.NextAttemptAt = utils.UnixMilli(failedAt) + max(delay.Milliseconds(), 1)
		fields["retry_in"] = delay.String()
		result.Retried++
		outcomes[it.ID] = outcome{kind: outcomeRetry, item: it}
		q.errLog.Log(logger.LevelWarnName, "write queue request failed", fields)
	}

	if err := q.commit(ctx, outcomes, dropped); err != nil {
		return result, err
	}

	q.succeeded.Add(uint64(result.Succeeded))
	q.retried.Add(uint64(result.Retried))
	q.dropped.Add(uint64(result.Dropped))
	q.statusMu.Lock()
	if result.Succeeded > 0 {
		q.lastSyncAt = q.clock.Now()
	}
	if result.Attempted > 0 {
		q.lastError = lastErr
	}
	q.statusMu.Unlock()

	if result.Attempted > 0 {
		logger.InfoF("[write-queue] Flush finished: %d attempted, %d succeeded, %d retried, %d dropped, %d deferred",
			result.Attempted, result.Succeeded, result.Retried, result.Dropped, result.Deferred)
	}
	if ctxErr != nil {
		return result, fmt.Errorf("flush interrupted: %w", ctxErr)
	}
	return result, nil
}

// commit 把本轮结果合并到最新的持久化列表，期间被删除的条目保持删除状态
func (q *Queue) commit(ctx context.Context, outcomes map[string]outcome, dropped []FailedRequest) error {
	if len(outcomes) == 0 {
		return nil
	}
	// 网络调用可能已经耗尽调用方的 ctx，持久化不应因此丢失结果
	ctx = context.WithoutCancel(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	fresh, err := loadJSON[Item](ctx, q.store, q.itemsKey())
	if err != nil {
		return err
	}
	kept := make([]Item, 0, len(fresh))
	for _, it := range fresh {
		o, ok := outcomes[it.ID]
		switch {
		case !ok:
			kept = append(kept, it)
		case o.kind == outcomeRetry:
			kept = append(kept, o.item)
		}
	}
	if err := saveJSON(ctx, q.store, q.itemsKey(), kept); err != nil {
		return err
	}

	if len(dropped) == 0 {
		return nil
	}
	failed, err := loadJSON[FailedRequest](ctx, q.store, q.failedKey())
	if err != nil {
		logger.WarnF("[write-queue] Resetting unreadable failed-request ledger: %v", err)
		failed = nil
	}
	failed = append(failed, dropped...)
	if len(failed) > failedLedgerLimit {
		failed = failed[len(failed)-failedLedgerLimit:]
	}
	return saveJSON(ctx, q.store, q.failedKey(), failed)
}

// Items 返回持久化列表的副本，按入队顺序排列
func (q *Queue) Items(ctx context.Context) ([]Item, error) {
	return loadJSON[Item](ctx, q.store, q.itemsKey())
}

func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	items, err := q.Items(ctx)
	return len(items), err
}

func (q *Queue) FailedRequests(ctx context.Context) ([]FailedRequest, error) {
	return loadJSON[FailedRequest](ctx, q.store, q.failedKey())
}

func (q *Queue) Summary(ctx context.Context) (Summary, error) {
	summary := Summary{ByPriority: make(map[Priority]int, len(Priorities))}
	for _, p := range Priorities {
		summary.ByPriority[p] = 0
	}
	items, err := q.Items(ctx)
	if err != nil {
		return summary, err
	}
	failed, err := q.FailedRequests(ctx)
	if err != nil {
		return summary, err
	}

	summary.Size = len(items)
	summary.FailedCount = len(failed)
	var earliest int64
	for _, it := range items {
		summary.ByPriority[it.Priority]++
		if earliest == 0 || it.NextAttemptAt < earliest {
			earliest = it.NextAttemptAt
		}
	}
	summary.NextAttemptAt = utils.FromUnixMilli(earliest)
	summary.Syncing = q.syncing.Load()

	q.statusMu.Lock()
	summary.LastSyncAt = q.lastSyncAt
	summary.LastError = q.lastError
	q.statusMu.Unlock()
	return summary, nil
}

func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Evicted:   q.evicted.Load(),
		Succeeded: q.succeeded.Load(),
		Retried:   q.retried.Load(),
		Dropped:   q.dropped.Load(),
		Flushes:   q.flushes.Load(),
	}
}

// Remove 删除指定条目，返回条目是否存在
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items, err := loadJSON[Item](ctx, q.store, q.itemsKey())
	if err != nil {
		return false, err
	}
	for i, it := range items {
		if it.ID == id {
			items = append(items[:i:i], items[i+1:]...)
			return true, saveJSON(ctx, q.store, q.itemsKey(), items)
		}
	}
	return false, nil
}

func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Delete(ctx, q.itemsKey())
}

func (q *Queue) ClearFailed(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Delete(ctx, q.failedKey())
}
