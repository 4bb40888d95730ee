package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
)

// Server 在 /metrics 上暴露注册表
type Server struct {
	srv *http.Server
	ln  net.Listener
}

func Serve(addr string, registry *prometheus.Registry) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WarnF("[metrics] Metrics server stopped: %v", err)
		}
	}()
	logger.InfoF("[metrics] Serving metrics on %s/metrics", ln.Addr())
	return s, nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Invoke(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
