package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sambeau/stitch/config"
	"github.com/sambeau/stitch/mail"
	"github.com/sambeau/stitch/pkg/stitch/value"
	"github.com/sambeau/stitch/store/cache"
)

// Server is the stitch HTTP API.
type Server struct {
	config   *config.Config
	backend  *Backend
	entities *cache.Cache[value.Record]
	proofer  *mail.Proofer
	limiter  *rateLimiter
	log      *zap.Logger
	mux      *http.ServeMux
	server   *http.Server
	maxBody  int64
	compress func(http.Handler) http.Handler

	renders  atomic.Int64
	failures atomic.Int64
	proofs   atomic.Int64
}

// New creates a server around an opened backend. proofer may be nil, in
// which case /proof answers 503.
func New(cfg *config.Config, backend *Backend, proofer *mail.Proofer, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	maxBody, err := config.ParseSize(cfg.Server.MaxBodySize)
	if err != nil {
		return nil, fmt.Errorf("server.max_body_size: %w", err)
	}
	compress, err := newCompressor(cfg.Compression)
	if err != nil {
		return nil, err
	}
	s := &Server{
		config:   cfg,
		compress: compress,
		backend:  backend,
		proofer:  proofer,
		limiter:  newRateLimiter(cfg.Proof.RateLimit, cfg.Proof.RateWindow),
		log:      log,
		mux:      http.NewServeMux(),
		maxBody:  maxBody,
	}
	if cfg.Cache.EntityTTL > 0 {
		s.entities = cache.New[value.Record](cfg.Cache.MaxEntries)
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /render", s.handleRender)
	s.mux.HandleFunc("POST /scan", s.handleScan)
	s.mux.HandleFunc("POST /proof", s.handleProof)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.mux
	handler = s.compress(handler)
	if !s.config.Logging.Quiet {
		handler = newRequestLogger(handler, s.log.Named("http"))
	}
	return handler
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.backend.Start(ctx); err != nil {
		s.log.Warn("failed to start fragment watcher", zap.Error(err))
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.Server.ReadTimeout,
		WriteTimeout:      s.config.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting stitch", zap.String("addr", ln.Addr().String()))
		errCh <- s.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutting down gracefully")
		timeout := s.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// listenAddr returns the address to listen on based on configuration.
func (s *Server) listenAddr() string {
	return net.JoinHostPort(s.config.Server.Host, fmt.Sprint(s.config.Server.Port))
}
