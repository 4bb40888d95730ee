package event

import (
	"sync"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
)

// ListenerID 标识一次订阅，用于取消订阅
type ListenerID uint64

type listener[T any] struct {
	id ListenerID
	fn func(T)
}

// Bus 是同步、按注册顺序投递的事件总线。
// Emit 在调用方 goroutine 中依次调用监听器，监听器的 panic 会被记录并吞掉。
type Bus[T any] struct {
	name      string
	mu        sync.Mutex
	nextID    ListenerID
	listeners []listener[T]
}

func NewBus[T any](name string) *Bus[T] {
	return &Bus[T]{name: name}
}

func (b *Bus[T]) Subscribe(fn func(T)) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.listeners = append(b.listeners, listener[T]{id: b.nextID, fn: fn})
	return b.nextID
}

// Unsubscribe 返回监听器是否存在
func (b *Bus[T]) Unsubscribe(id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Bus[T]) Emit(value T) {
	b.mu.Lock()
	snapshot := make([]listener[T], len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, l := range snapshot {
		b.invoke(l, value)
	}
}

func (b *Bus[T]) invoke(l listener[T], value T) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorF("[%s] Listener #%d panicked: %v", b.name, l.id, r)
		}
	}()
	l.fn(value)
}

func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
