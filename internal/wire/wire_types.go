// Package wire 定义了与后端事件端点交换的帧格式
package wire

import (
	"encoding/json"
	"time"
)

// EventType 是帧信封中的判别标签
type EventType string

// 入站事件
const (
	ConnectionEstablished EventType = "connection_established" // 服务端确认连接
	AgentResponse         EventType = "agent_response"         // 完整的助手回复
	AgentResponseChunk    EventType = "agent_response_chunk"   // 流式回复片段
	StatusUpdate          EventType = "status_update"          // 资源状态变化
	FunctionCall          EventType = "function_call"          // 后端请求客户端执行函数
	FunctionResult        EventType = "function_result"        // 函数执行结果
	Notification          EventType = "notification"           // 推送通知
	Pong                  EventType = "pong"                   // 心跳响应
	Error                 EventType = "error"                  // 服务端错误
)

// 出站事件
const (
	Ping             EventType = "ping"
	UserMessage      EventType = "user_message"
	FunctionResponse EventType = "function_response"
	Subscribe        EventType = "subscribe"
	Unsubscribe      EventType = "unsubscribe"
)

// EventTypeMap 列出所有已知标签，未列出的标签解码为 UnknownFrame
var EventTypeMap = map[EventType]bool{
	ConnectionEstablished: true,
	AgentResponse:         true,
	AgentResponseChunk:    true,
	StatusUpdate:          true,
	FunctionCall:          true,
	FunctionResult:        true,
	Notification:          true,
	Pong:                  true,
	Error:                 true,
	Ping:                  true,
	UserMessage:           true,
	FunctionResponse:      true,
	Subscribe:             true,
	Unsubscribe:           true,
}

func (eventType EventType) String() string {
	return string(eventType)
}

// Known 判断标签是否属于已知集合
func (eventType EventType) Known() bool {
	return EventTypeMap[eventType]
}

// Envelope 是所有帧共有的信封字段
type Envelope struct {
	EventType     EventType `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	SessionID     string    `json:"session_id,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (e *Envelope) Meta() *Envelope { return e }

func (*Envelope) sealed() {}

// Frame 是封闭的帧类型集合，只能由本包中的类型实现
type Frame interface {
	Type() EventType
	Meta() *Envelope
	sealed()
}

type ConnectionEstablishedFrame struct {
	Envelope
	ServerVersion       string `json:"server_version,omitempty"`
	HeartbeatIntervalMs int64  `json:"heartbeat_interval_ms,omitempty"`
}

type AgentResponseFrame struct {
	Envelope
	AgentID  string         `json:"agent_id,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type AgentResponseChunkFrame struct {
	Envelope
	Content string `json:"content"`
	Index   int    `json:"index"`
	Done    bool   `json:"done"`
}

type StatusUpdateFrame struct {
	Envelope
	Resource string `json:"resource,omitempty"`
	Status   string `json:"status"`
	UserID   string `json:"user_id,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type FunctionCallFrame struct {
	Envelope
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type FunctionResultFrame struct {
	Envelope
	CallID string          `json:"call_id"`
	Name   string          `json:"name,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type NotificationFrame struct {
	Envelope
	UserID string `json:"user_id,omitempty"`
	Title  string `json:"title"`
	Body   string `json:"body,omitempty"`
	Level  string `json:"level,omitempty"`
}

// PongFrame 回显 PingFrame 的 ClientTimestamp 作为关联键
type PongFrame struct {
	Envelope
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp,omitempty"`
}

type ErrorFrame struct {
	Envelope
	Code        string `json:"code,omitempty"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

// PingFrame 携带客户端发送时间（毫秒时间戳）
type PingFrame struct {
	Envelope
	ClientTimestamp int64 `json:"client_timestamp"`
}

type UserMessageFrame struct {
	Envelope
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type FunctionResponseFrame struct {
	Envelope
	CallID string          `json:"call_id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type SubscribeFrame struct {
	Envelope
	EventTypes []EventType `json:"event_types"`
}

type UnsubscribeFrame struct {
	Envelope
	EventTypes []EventType `json:"event_types"`
}

// UnknownFrame 保存未知标签帧的原始内容
type UnknownFrame struct {
	Envelope
	Raw json.RawMessage `json:"-"`
}

func (*ConnectionEstablishedFrame) Type() EventType { return ConnectionEstablished }
func (*AgentResponseFrame) Type() EventType         { return AgentResponse }
func (*AgentResponseChunkFrame) Type() EventType    { return AgentResponseChunk }
func (*StatusUpdateFrame) Type() EventType          { return StatusUpdate }
func (*FunctionCallFrame) Type() EventType          { return FunctionCall }
func (*FunctionResultFrame) Type() EventType        { return FunctionResult }
func (*NotificationFrame) Type() EventType          { return Notification }
func (*PongFrame) Type() EventType                  { return Pong }
func (*ErrorFrame) Type() EventType                 { return Error }
func (*PingFrame) Type() EventType                  { return Ping }
func (*UserMessageFrame) Type() EventType           { return UserMessage }
func (*FunctionResponseFrame) Type() EventType      { return FunctionResponse }
func (*SubscribeFrame) Type() EventType             { return Subscribe }
func (*UnsubscribeFrame) Type() EventType           { return Unsubscribe }
func (f *UnknownFrame) Type() EventType             { return f.EventType }
