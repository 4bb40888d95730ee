package connection

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/transport"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/wire"
)

// MessageSender 是上层发送出站帧使用的接口
type MessageSender interface {
	Send(frame wire.Frame) (SendResult, error)
}

var _ MessageSender = (*Engine)(nil)

// Send 在已连接时立即发送；未连接或建连后缓冲区尚未清空时，若启用了出站缓冲则入队，
// 否则返回 ErrNotConnected。入队在 mu 内完成，保证缓冲区按入队顺序发送。
func (e *Engine) Send(frame wire.Frame) (SendResult, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return SendResult{}, ErrEngineClosed
	}
	if e.state.Status == StatusConnected && !e.draining {
		gen := e.generation
		e.mu.Unlock()
		if err := e.write(gen, frame); err != nil {
			return SendResult{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
		return SendResult{Sent: true, MessageID: frame.Meta().RequestID}, nil
	}
	if e.spool == nil {
		e.mu.Unlock()
		return SendResult{}, ErrNotConnected
	}
	msg := e.spool.Enqueue(frame)
	draining := e.draining
	e.mu.Unlock()

	if draining {
		logger.DebugF("[engine] Spool still draining, queued %s frame as %s", frame.Type(), msg.ID)
	} else {
		logger.DebugF("[engine] Not connected, spooled %s frame as %s", frame.Type(), msg.ID)
	}
	return SendResult{Queued: true, MessageID: msg.ID}, nil
}

// SendUserMessage 发送一条用户消息
func SendUserMessage(sender MessageSender, content string) (SendResult, error) {
	return sender.Send(wire.NewUserMessage(content))
}

func sendData(conn transport.Conn, data []byte, tag wire.EventType) error {
	if err := conn.WriteMessage(data); err != nil {
		logger.ErrorF("[engine] Fail to send %s frame, details: %v", tag, err)
		return err
	}
	logger.DebugF("[engine] Sent %s frame (%d bytes)", tag, len(data))
	return nil
}
