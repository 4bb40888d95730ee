package writequeue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
)

// Sender 把一个条目发送到后端，返回 nil 表示成功
type Sender interface {
	Send(ctx context.Context, item Item) error
}

// SenderFunc 把普通函数适配为 Sender
type SenderFunc func(ctx context.Context, item Item) error

func (f SenderFunc) Send(ctx context.Context, item Item) error {
	return f(ctx, item)
}

const (
	HeaderTraceID  = "X-Trace-Id"
	HeaderTenantID = "X-Tenant-Id"

	maxErrorBody = 512
)

// StatusError 表示后端返回了非 2xx 状态码
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("unexpected status %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// HTTPSender 以 HTTP 请求的形式重放条目，相对 URL 基于 baseURL 解析
type HTTPSender struct {
	baseURL *url.URL
	client  *http.Client
}

func NewHTTPSender(baseURL string, timeout time.Duration) (*HTTPSender, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", baseURL)
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &HTTPSender{baseURL: base, client: client}, nil
}

// NewHTTPSenderWithClient 使用调用方提供的 http.Client，主要用于测试
func NewHTTPSenderWithClient(baseURL string, client *http.Client) (*HTTPSender, error) {
	sender, err := NewHTTPSender(baseURL, 0)
	if err != nil {
		return nil, err
	}
	sender.client = client
	return sender, nil
}

func (s *HTTPSender) resolve(raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid request url %q: %w", raw, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base := *s.baseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	ref.Path = strings.TrimPrefix(ref.Path, "/")
	return base.ResolveReference(ref).String(), nil
}

func (s *HTTPSender) Send(ctx context.Context, item Item) error {
	target, err := s.resolve(item.URL)
	if err != nil {
		return err
	}
	var body io.Reader
	if len(item.Body) > 0 {
		body = bytes.NewReader(item.Body)
	}
	req, err := http.NewRequestWithContext(ctx, string(item.Method), target, body)
	if err != nil {
		return fmt.Errorf("error occured while building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range item.Headers {
		req.Header.Set(k, v)
	}
	if item.TraceID != "" {
		req.Header.Set(HeaderTraceID, item.TraceID)
	}
	if item.TenantID != "" {
		req.Header.Set(HeaderTenantID, item.TenantID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	logger.DebugF("[write-queue] %s %s -> %d", item.Method, target, resp.StatusCode)
	return nil
}
