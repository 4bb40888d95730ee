package connection

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected   = errors.New("connection is not open")
	ErrConnectTimeout = errors.New("connection timed out")
	ErrDisconnected   = errors.New("connection was closed by disconnect")
	ErrEngineClosed   = errors.New("connection engine is closed")
	ErrPingTimeout    = errors.New("ping timed out")
	ErrPingInFlight   = errors.New("a ping is already outstanding")
	ErrSendFailed     = errors.New("failed to send frame")
)

// ServerError 是后端通过 error 帧报告的错误
type ServerError struct {
	Code        string
	Message     string
	Recoverable bool
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server error: %s", e.Message)
	}
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}
