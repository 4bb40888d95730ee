package connection

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/xid"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/transport"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/wire"
)

// Handler 处理一帧入站数据，在读循环 goroutine 中同步调用
type Handler func(wire.Frame)

// HandlerID 标识一次处理器注册
type HandlerID uint64

type handlerEntry struct {
	id       HandlerID
	tag      wire.EventType
	wildcard bool
	fn       Handler
}

type handlerRegistry struct {
	mu      sync.Mutex
	nextID  HandlerID
	entries []handlerEntry
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{}
}

func (r *handlerRegistry) add(tag wire.EventType, wildcard bool, fn Handler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.entries = append(r.entries, handlerEntry{id: r.nextID, tag: tag, wildcard: wildcard, fn: fn})
	return r.nextID
}

func (r *handlerRegistry) remove(id HandlerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, entry := range r.entries {
		if entry.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// dispatch 先调用匹配标签的处理器，再调用通配处理器
func (r *handlerRegistry) dispatch(frame wire.Frame) {
	r.mu.Lock()
	snapshot := make([]handlerEntry, len(r.entries))
	copy(snapshot, r.entries)
	r.mu.Unlock()

	for _, entry := range snapshot {
		if !entry.wildcard && entry.tag == frame.Type() {
			invoke(entry, frame)
		}
	}
	for _, entry := range snapshot {
		if entry.wildcard {
			invoke(entry, frame)
		}
	}
}

func invoke(entry handlerEntry, frame wire.Frame) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorF("[engine] Handler #%d for %s panicked: %v", entry.id, frame.Type(), r)
		}
	}()
	entry.fn(frame)
}

// On 注册指定事件类型的处理器
func (e *Engine) On(tag wire.EventType, fn Handler) HandlerID {
	return e.handlers.add(tag, false, fn)
}

// OnMessage 注册接收所有入站帧的通配处理器
func (e *Engine) OnMessage(fn Handler) HandlerID {
	return e.handlers.add("", true, fn)
}

func (e *Engine) Off(id HandlerID) bool {
	return e.handlers.remove(id)
}

func (e *Engine) readLoop(gen uint64, conn transport.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			e.handleClose(gen, err)
			return
		}
		if !e.handleFrame(gen, data) {
			return
		}
	}
}

// handleFrame 返回 false 表示连接已被取代，读循环应退出
func (e *Engine) handleFrame(gen uint64, data []byte) bool {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return false
	}
	e.health.MessagesReceived++
	e.lastActivityAt = e.clock.Now()
	e.mu.Unlock()

	frame, err := wire.Decode(data)
	if err != nil {
		e.mu.Lock()
		e.health.ConsecutiveFailures++
		e.mu.Unlock()
		logger.DebugF("[engine] Dropping malformed frame (%d bytes): %v", len(data), err)
		return true
	}

	switch f := frame.(type) {
	case *wire.PongFrame:
		e.handlePong(f)
	case *wire.ErrorFrame:
		serverErr := &ServerError{Code: f.Code, Message: f.Message, Recoverable: f.Recoverable}
		e.mu.Lock()
		e.state.LastError = serverErr
		e.mu.Unlock()
		logger.WarnF("[engine] %v", serverErr)
	case *wire.ConnectionEstablishedFrame:
		logger.InfoF("[engine] Server acknowledged connection (session %s)", f.SessionID)
	case *wire.UnknownFrame:
		logger.DebugF("[engine] Received frame with unknown event type %q", f.EventType)
	}
	e.handlers.dispatch(frame)
	return true
}

// write 在指定 generation 的连接上发送一帧
func (e *Engine) write(gen uint64, frame wire.Frame) error {
	e.mu.Lock()
	if gen != e.generation || e.conn == nil {
		e.mu.Unlock()
		return ErrNotConnected
	}
	conn := e.conn
	now := e.clock.Now()
	e.mu.Unlock()

	wire.Stamp(frame, now)
	if meta := frame.Meta(); meta.RequestID == "" {
		meta.RequestID = xid.New().String()
	}
	data, err := wire.Encode(frame)
	if err != nil {
		return err
	}
	if err := sendData(conn, data, frame.Type()); err != nil {
		return err
	}

	e.mu.Lock()
	e.health.MessagesSent++
	e.mu.Unlock()
	return nil
}

// Subscribe 订阅服务端事件类型。订阅集合在重连后自动恢复
func (e *Engine) Subscribe(types ...wire.EventType) error {
	e.mu.Lock()
	added := make([]wire.EventType, 0, len(types))
	for _, t := range types {
		if !containsType(e.subscriptions, t) {
			e.subscriptions = append(e.subscriptions, t)
			added = append(added, t)
		}
	}
	connected := e.state.Status == StatusConnected
	gen := e.generation
	e.mu.Unlock()

	if !connected || len(added) == 0 {
		return nil
	}
	return e.write(gen, wire.NewSubscribe(added...))
}

func (e *Engine) Unsubscribe(types ...wire.EventType) error {
	e.mu.Lock()
	removed := make([]wire.EventType, 0, len(types))
	for _, t := range types {
		for i, s := range e.subscriptions {
			if s == t {
				e.subscriptions = append(e.subscriptions[:i:i], e.subscriptions[i+1:]...)
				removed = append(removed, t)
				break
			}
		}
	}
	connected := e.state.Status == StatusConnected
	gen := e.generation
	e.mu.Unlock()

	if !connected || len(removed) == 0 {
		return nil
	}
	return e.write(gen, wire.NewUnsubscribe(removed...))
}

func (e *Engine) Subscriptions() []wire.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]wire.EventType(nil), e.subscriptions...)
}

func containsType(list []wire.EventType, t wire.EventType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func isNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Timeout()
}

func logReadError(kind transport.CloseKind, err error) {
	switch {
	case kind == transport.CloseClean:
		logger.InfoF("[engine] Server closed connection: %v", err)
	case kind == transport.CloseFatal:
		logger.ErrorF("[engine] Server rejected connection: %v", err)
	case errors.Is(err, io.EOF) || isNetClosedError(err):
		logger.WarnF("[engine] Connection lost: %v", err)
	default:
		logger.ErrorF("[engine] Error occured while reading frame, details: %v", err)
	}
}
