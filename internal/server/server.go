// Package server exposes the agent graph to the WhatsApp bridge over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinic-agent/server/internal/agent/graph"
	logx "github.com/clinic-agent/server/pkg/logger"
)

const ServiceName = "clinic-agent"

// InvokeChatID is the chat used by /invoke when the caller does not name one.
const InvokeChatID = "521234567890@c.us"

type Config struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8000"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	RatePerChat     int           `envconfig:"RATE_LIMIT_PER_CHAT" default:"20"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

// Check probes one dependency for /health. A nil Check is reported as not configured.
type Check func(ctx context.Context) error

type Health struct {
	Database Check
	Redis    Check
}

type Server struct {
	runner  graph.Runner
	health  Health
	cfg     Config
	loc     *time.Location
	limiter *chatLimiter
	now     func() time.Time
	handler http.Handler
}

type Option func(*Server)

// WithClock overrides the time source used for timestamps and rate limiting.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(runner graph.Runner, health Health, cfg Config, loc *time.Location, opts ...Option) *Server {
	if loc == nil {
		loc = time.UTC
	}
	s := &Server{runner: runner, health: health, cfg: cfg, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = newChatLimiter(cfg.RatePerChat, s.now)
	s.handler = Chain(s.routes(),
		Recovery(),
		RequestLogger(),
		Timeout(cfg.RequestTimeout),
		Metrics(),
	)
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/whatsapp-agent/message", s.handleMessage)
	mux.HandleFunc("POST /invoke", s.handleInvoke)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logx.Info().Msg("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
