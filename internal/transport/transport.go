// Package transport 抽象了连接引擎使用的双向消息通道
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Dialer 建立新的传输会话，返回时会话已处于 open 状态
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Conn 是一条已打开的消息通道。ReadMessage 只能由单个 goroutine 调用；
// WriteMessage 与 Close 可以并发调用。
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	// Close 发送正常关闭帧后关闭底层连接
	Close() error
}

// 关闭码，与 RFC 6455 保持一致，4000-4099 为应用自定义的不可恢复错误
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseAbnormalClosure = 1006
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
	CloseUnrecoverableLo = 4000
	CloseUnrecoverableHi = 4099
)

// CloseError 表示对端发送了关闭帧
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed with code %d: %s", e.Code, e.Reason)
}

// Clean 表示正常关闭，不应触发重连
func (e *CloseError) Clean() bool {
	return e.Code == CloseNormalClosure || e.Code == CloseGoingAway
}

// Unrecoverable 表示服务端拒绝继续服务，重连没有意义
func (e *CloseError) Unrecoverable() bool {
	return e.Code == ClosePolicyViolation || (e.Code >= CloseUnrecoverableLo && e.Code <= CloseUnrecoverableHi)
}

// CloseKind 对读错误进行分类
type CloseKind int

const (
	CloseUnclean CloseKind = iota
	CloseClean
	CloseFatal
)

func (k CloseKind) String() string {
	switch k {
	case CloseClean:
		return "clean"
	case CloseFatal:
		return "fatal"
	default:
		return "unclean"
	}
}

func ClassifyClose(err error) CloseKind {
	var closeErr *CloseError
	if !errors.As(err, &closeErr) {
		return CloseUnclean
	}
	switch {
	case closeErr.Clean():
		return CloseClean
	case closeErr.Unrecoverable():
		return CloseFatal
	default:
		return CloseUnclean
	}
}
