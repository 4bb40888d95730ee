// Package connection 实现了到后端事件端点的长连接引擎，
// 负责状态机、自动重连、心跳与健康检查以及入站帧分发。
package connection

import "time"

// Status 是连接状态机的状态
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusFailed
	StatusClosed
)

var StatusMap = map[Status]string{
	StatusDisconnected: "disconnected",
	StatusConnecting:   "connecting",
	StatusConnected:    "connected",
	StatusReconnecting: "reconnecting",
	StatusFailed:       "failed",
	StatusClosed:       "closed",
}

func (s Status) String() string {
	if name, ok := StatusMap[s]; ok {
		return name
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectionState 只由 Engine 的状态转换函数修改，对外只提供副本。
// 不变式：IsConnected 当且仅当 Status == StatusConnected。
type ConnectionState struct {
	Status               Status    `json:"status"`
	IsConnected          bool      `json:"is_connected"`
	LastConnectedAt      time.Time `json:"last_connected_at"`
	LastDisconnectedAt   time.Time `json:"last_disconnected_at"`
	ReconnectAttempts    int       `json:"reconnect_attempts"`
	MaxReconnectAttempts int       `json:"max_reconnect_attempts"`
	LastError            error     `json:"-"`
}

// ConnectionHealth 是周期性重新计算的健康遥测数据
type ConnectionHealth struct {
	IsHealthy           bool           `json:"is_healthy"`
	Latency             *time.Duration `json:"latency,omitempty"`
	LastPingAt          time.Time      `json:"last_ping_at"`
	LastPongAt          time.Time      `json:"last_pong_at"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	TotalReconnects     int            `json:"total_reconnects"`
	MessagesSent        uint64         `json:"messages_sent"`
	MessagesReceived    uint64         `json:"messages_received"`
}

func (h ConnectionHealth) clone() ConnectionHealth {
	if h.Latency != nil {
		latency := *h.Latency
		h.Latency = &latency
	}
	return h
}

// StateChange 描述一次状态转换
type StateChange struct {
	From  Status
	To    Status
	Err   error
	At    time.Time
	State ConnectionState
}

// SendResult 描述 Send 的结果：直接发送或进入出站缓冲区
type SendResult struct {
	Sent      bool
	Queued    bool
	MessageID string
}
