// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package http serves the message, storage and online log APIs.
package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yumoh/sse-queue/filecache"
	"github.com/yumoh/sse-queue/queue"
	"github.com/yumoh/sse-queue/ratelimit"
	serverotel "github.com/yumoh/sse-queue/server/otel"
	"github.com/yumoh/sse-queue/server/websocket"
	"github.com/yumoh/sse-queue/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/net/netutil"
)

const tracerName = "github.com/yumoh/sse-queue/server/http"

// Config holds the HTTP server configuration.
type Config struct {
	Addresses         []string
	Prefix            string
	TLSConfig         *tls.Config
	MaxConnections    int
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Token             string
	PublicDir         string
	MaxMessageSize    int64
	MaxUploadSize     int64
	MaxWait           time.Duration
	Version           string
}

// Server is the client-facing HTTP server.
type Server struct {
	config  Config
	broker  *queue.Broker
	files   *filecache.Cache
	store   *storage.Store
	limiter *ratelimit.Manager
	metrics *serverotel.Metrics
	ws      *websocket.Handler
	tracer  trace.Tracer
	logger  *slog.Logger
	token   atomic.Pointer[string]
	handler http.Handler
	server  *http.Server

	// streams is cancelled on shutdown so long-lived listeners let the
	// graceful drain finish.
	streams     context.Context
	stopStreams context.CancelFunc

	mu        sync.Mutex
	listeners []net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records request and queue metrics.
func WithMetrics(m *serverotel.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithRateLimiter rejects requests over the per-IP budget with 429.
func WithRateLimiter(m *ratelimit.Manager) Option {
	return func(s *Server) {
		s.limiter = m
	}
}

// WithTracerProvider sets where request spans go. Defaults to the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates a server. Nothing listens until Listen is called.
func New(cfg Config, b *queue.Broker, files *filecache.Cache, store *storage.Store, opts ...Option) *Server {
	s := &Server{
		config: cfg,
		broker: b,
		files:  files,
		store:  store,
		tracer: otel.GetTracerProvider().Tracer(tracerName),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.streams, s.stopStreams = context.WithCancel(context.Background())
	s.config.Prefix = normalizePrefix(cfg.Prefix)
	s.SetToken(cfg.Token)
	s.ws = websocket.New(b, s.metrics, s.logger)
	s.handler = s.routes()

	handler := s.handler
	if cfg.TLSConfig == nil {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}
	s.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		TLSConfig:         cfg.TLSConfig,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.server.RegisterOnShutdown(s.stopStreams)

	return s
}

// Handler returns the routed handler with its middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetToken replaces the shared secret. An empty token disables auth.
func (s *Server) SetToken(token string) {
	s.token.Store(&token)
}

func (s *Server) currentToken() string {
	return *s.token.Load()
}

// Addrs returns the bound listener addresses.
func (s *Server) Addrs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]string, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr().String())
	}
	return addrs
}

// Listen binds every configured address and serves until ctx is done.
func (s *Server) Listen(ctx context.Context) error {
	if len(s.config.Addresses) == 0 {
		return errors.New("no listen address configured")
	}

	listeners := make([]net.Listener, 0, len(s.config.Addresses))
	for _, addr := range s.config.Addresses {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		if s.config.MaxConnections > 0 {
			l = netutil.LimitListener(l, s.config.MaxConnections)
		}
		listeners = append(listeners, l)
	}

	s.mu.Lock()
	s.listeners = listeners
	s.mu.Unlock()

	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		s.logger.Info("http_server_starting",
			slog.String("address", l.Addr().String()),
			slog.Bool("tls", s.config.TLSConfig != nil),
			slog.String("prefix", s.config.Prefix))

		go func(l net.Listener) {
			var err error
			if s.config.TLSConfig != nil {
				err = s.server.ServeTLS(l, "", "")
			} else {
				err = s.server.Serve(l)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(l)
	}

	select {
	case err := <-errCh:
		s.stopStreams()
		s.server.Close()
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("http_server_shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http_server_shutdown_error", slog.String("error", err.Error()))
			return err
		}

		s.logger.Info("http_server_stopped")
		return nil
	}
}

// streamContext derives a request context that also ends on shutdown.
func (s *Server) streamContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(s.streams, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func normalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
