package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyFrame       = errors.New("empty frame")
	ErrMissingEventType = errors.New("frame has no event_type")
)

func newFrame(eventType EventType) Frame {
	switch eventType {
	case ConnectionEstablished:
		return &ConnectionEstablishedFrame{}
	case AgentResponse:
		return &AgentResponseFrame{}
	case AgentResponseChunk:
		return &AgentResponseChunkFrame{}
	case StatusUpdate:
		return &StatusUpdateFrame{}
	case FunctionCall:
		return &FunctionCallFrame{}
	case FunctionResult:
		return &FunctionResultFrame{}
	case Notification:
		return &NotificationFrame{}
	case Pong:
		return &PongFrame{}
	case Error:
		return &ErrorFrame{}
	case Ping:
		return &PingFrame{}
	case UserMessage:
		return &UserMessageFrame{}
	case FunctionResponse:
		return &FunctionResponseFrame{}
	case Subscribe:
		return &SubscribeFrame{}
	case Unsubscribe:
		return &UnsubscribeFrame{}
	default:
		return nil
	}
}

// Decode 解析一帧数据；未知标签返回 *UnknownFrame 而不是错误
func Decode(data []byte) (Frame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("invalid frame envelope: %w", err)
	}
	if envelope.EventType == "" {
		return nil, ErrMissingEventType
	}

	frame := newFrame(envelope.EventType)
	if frame == nil {
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return &UnknownFrame{Envelope: envelope, Raw: raw}, nil
	}
	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("invalid %s frame: %w", envelope.EventType, err)
	}
	return frame, nil
}

// Encode 序列化帧，并以帧的具体类型覆盖信封中的标签
func Encode(frame Frame) ([]byte, error) {
	if frame == nil {
		return nil, ErrEmptyFrame
	}
	if unknown, ok := frame.(*UnknownFrame); ok {
		if len(unknown.Raw) == 0 {
			return json.Marshal(unknown.Envelope)
		}
		return unknown.Raw, nil
	}
	frame.Meta().EventType = frame.Type()
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", frame.Type(), err)
	}
	return data, nil
}

// Stamp 为尚未设置时间戳的帧补充发送时间
func Stamp(frame Frame, now time.Time) {
	if meta := frame.Meta(); meta.Timestamp.IsZero() {
		meta.Timestamp = now.UTC()
	}
}
