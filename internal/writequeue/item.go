// Package writequeue 持久化保存离线期间产生的 REST 写请求，并在恢复连接后按优先级顺序重试
package writequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/utils"
)

type Method string

const (
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// Priority 是全局统一的优先级，顺序为 critical > high > normal > low
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

var priorityRank = map[Priority]int{
	PriorityCritical: 3,
	PriorityHigh:     2,
	PriorityNormal:   1,
	PriorityLow:      0,
}

// Rank 越大越先处理，未知优先级按 normal 处理
func (p Priority) Rank() int {
	if rank, ok := priorityRank[p]; ok {
		return rank
	}
	return priorityRank[PriorityNormal]
}

func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PriorityNormal, nil
	}
	if _, ok := priorityRank[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
	return p, nil
}

// Item 是持久化的队列条目，时间字段均为毫秒时间戳
type Item struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Method        Method            `json:"method"`
	Body          json.RawMessage   `json:"body,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Priority      Priority          `json:"priority"`
	CreatedAt     int64             `json:"createdAt"`
	Attempts      int               `json:"attempts"`
	MaxAttempts   int               `json:"maxAttempts"`
	NextAttemptAt int64             `json:"nextAttemptAt"`
	LastError     string            `json:"lastError,omitempty"`
	TenantID      string            `json:"tenantId,omitempty"`
	TraceID       string            `json:"traceId,omitempty"`
}

func (it Item) Created() time.Time {
	return utils.FromUnixMilli(it.CreatedAt)
}

func (it Item) NextAttempt() time.Time {
	return utils.FromUnixMilli(it.NextAttemptAt)
}

// Due 判断条目在 nowMs 时是否可以尝试发送
func (it Item) Due(nowMs int64) bool {
	return it.NextAttemptAt <= nowMs
}

// FailedRequest 是因重试次数耗尽而被移出队列的请求
type FailedRequest struct {
	Item      Item   `json:"item"`
	DroppedAt int64  `json:"droppedAt"`
	Reason    string `json:"reason"`
}

// Request 是调用方提交的写请求
type Request struct {
	URL         string            `json:"url" validate:"required"`
	Method      Method            `json:"method" validate:"required,oneof=POST PUT PATCH DELETE"`
	Body        json.RawMessage   `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Priority    Priority          `json:"priority" validate:"omitempty,oneof=critical high normal low"`
	MaxAttempts int               `json:"maxAttempts" validate:"gte=0"`
	TenantID    string            `json:"tenantId,omitempty"`
	TraceID     string            `json:"traceId,omitempty"`
}

var validate = validator.New()

// normalize 统一大小写并校验请求
func (r Request) normalize() (Request, error) {
	r.Method = Method(strings.ToUpper(strings.TrimSpace(string(r.Method))))
	r.Priority = Priority(strings.ToLower(strings.TrimSpace(string(r.Priority))))
	if len(r.Body) > 0 && !json.Valid(r.Body) {
		return r, fmt.Errorf("%w: body is not valid JSON", ErrInvalidRequest)
	}

	err := validate.Struct(r)
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		if err != nil {
			return r, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if r.Priority == "" {
			r.Priority = PriorityNormal
		}
		return r, nil
	}

	errs := make([]error, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		switch fe.Field() {
		case "Method":
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidMethod, r.Method))
		case "Priority":
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidPriority, r.Priority))
		default:
			errs = append(errs, fmt.Errorf("%w: %s failed on %s", ErrInvalidRequest, fe.Field(), fe.Tag()))
		}
	}
	return r, errors.Join(errs...)
}

// JSONBody 把任意值编码为请求体
func JSONBody(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return data, nil
}
