// Package spool 缓存连接断开期间无法立即发送的出站帧
package spool

import (
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/wire"
)

type QueuedMessage struct {
	ID         string
	Frame      wire.Frame
	EnqueuedAt time.Time
	Retries    int
	MaxRetries int
}

// DrainResult 汇总一次 Drain 的结果
type DrainResult struct {
	Sent      int
	Dropped   int
	Remaining int
	// Halted 表示因为某条消息发送失败而提前停止
	Halted bool
}

// Spool 是有界的 FIFO 缓冲区，满时淘汰最早入队的消息。
// 内容只存在于内存中，进程重启即丢失。
type Spool struct {
	mu         sync.Mutex
	messages   []*QueuedMessage
	maxSize    int
	maxRetries int
	now        func() time.Time
	evicted    uint64
}

func New(maxSize, maxRetries int, now func() time.Time) *Spool {
	if maxSize < 1 {
		maxSize = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if now == nil {
		now = time.Now
	}
	return &Spool{maxSize: maxSize, maxRetries: maxRetries, now: now}
}

func (s *Spool) Enqueue(frame wire.Frame) QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(s.maxSize - 1)

	msg := &QueuedMessage{
		ID:         xid.New().String(),
		Frame:      frame,
		EnqueuedAt: s.now(),
		MaxRetries: s.maxRetries,
	}
	s.messages = append(s.messages, msg)
	return *msg
}

// evictLocked 淘汰最早入队的消息，直到长度不超过 limit
func (s *Spool) evictLocked(limit int) {
	for len(s.messages) > limit {
		oldest := s.messages[0]
		s.messages[0] = nil
		s.messages = s.messages[1:]
		s.evicted++
		logger.WarnF("[spool] Queue full (%d), evicted oldest message %s (%s)", s.maxSize, oldest.ID, oldest.Frame.Type())
	}
}

// Drain 按入队顺序发送消息。发送失败时消息回到队首并停止本轮，
// 重试次数耗尽的消息被丢弃并继续处理后续消息。
func (s *Spool) Drain(send func(wire.Frame) error) DrainResult {
	var result DrainResult
	for {
		s.mu.Lock()
		if len(s.messages) == 0 {
			s.mu.Unlock()
			break
		}
		msg := s.messages[0]
		s.messages[0] = nil
		s.messages = s.messages[1:]
		s.mu.Unlock()

		err := send(msg.Frame)
		if err == nil {
			result.Sent++
			continue
		}

		msg.Retries++
		if msg.Retries < msg.MaxRetries {
			s.mu.Lock()
			s.messages = append([]*QueuedMessage{msg}, s.messages...)
			// 发送期间可能有新消息入队
			s.evictLocked(s.maxSize)
			s.mu.Unlock()
			logger.WarnF("[spool] Failed to send message %s (retry %d/%d), halting drain: %v", msg.ID, msg.Retries, msg.MaxRetries, err)
			result.Halted = true
			break
		}
		result.Dropped++
		logger.ErrorF("[spool] Dropping message %s after %d retries: %v", msg.ID, msg.Retries, err)
	}
	result.Remaining = s.Len()
	return result
}

func (s *Spool) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Evicted 返回因容量限制被淘汰的消息总数
func (s *Spool) Evicted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

func (s *Spool) Snapshot() []QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QueuedMessage, len(s.messages))
	for i, msg := range s.messages {
		out[i] = *msg
	}
	return out
}

func (s *Spool) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.messages)
	s.messages = nil
	return n
}
