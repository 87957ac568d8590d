package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/radbridge/cadence"
	"github.com/arloliu/radbridge/logger"
)

// DefaultHealthMaxAge is how old the last heartbeat may be for /healthz to pass.
const DefaultHealthMaxAge = 60 * time.Second

// Server serves /metrics and /healthz.
type Server struct {
	addr         string
	src          Sources
	handler      http.Handler
	healthMaxAge time.Duration
	logger       logger.Logger
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, src Sources, healthMaxAge time.Duration, l logger.Logger) (*Server, error) {
	reg, err := NewRegistry(src)
	if err != nil {
		return nil, fmt.Errorf("metrics: register collectors: %w", err)
	}
	if healthMaxAge <= 0 {
		healthMaxAge = DefaultHealthMaxAge
	}
	if l == nil {
		l = logger.GetLogger()
	}

	s := &Server{
		addr:         addr,
		src:          src,
		healthMaxAge: healthMaxAge,
		logger:       l.With("component", "metrics"),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/healthz", s.healthz)
	s.handler = mux

	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	if s.src.Cadence == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))

		return
	}

	last, ok := s.src.Cadence.LastPublished(cadence.Heartbeat)
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("starting"))

		return
	}

	age := s.src.now().Now().Sub(last)
	if age > s.healthMaxAge {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "heartbeat %s old", age.Truncate(time.Second))

		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Serve listens on the configured address until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics: listen %s: %w", s.addr, err)
	}

	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("metrics server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("metrics: serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Debug("metrics server shutdown failed", "error", err)
		}

		return nil
	}
}
