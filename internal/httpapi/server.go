// Package httpapi exposes a Runtime over HTTP for hosts that are not linked
// into the same process.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/utkarsh5026/offload/pool"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	maxBodySize       = 16 << 20
	maxAwait          = time.Minute
)

// Runtime is the part of *pool.Runtime the server drives.
type Runtime interface {
	Submit(payload []byte, priority int) (string, error)
	GetResult(id string) (pool.Outcome, error)
	Await(ctx context.Context, id string) (pool.Outcome, error)
	Stats() pool.Stats
	ClearAll()
}

// Options configures a Server.
type Options struct {
	Addr        string
	MetricsPath string
	Registry    *prometheus.Registry
	Logger      *zap.Logger
}

// Server wraps the chi router and the runtime it serves.
type Server struct {
	router  *chi.Mux
	rt      Runtime
	log     *zap.Logger
	addr    string
	metrics *httpMetrics
}

// NewServer creates the router and registers HTTP metrics with
// opts.Registry when one is given.
func NewServer(rt Runtime, opts Options) (*Server, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		router: chi.NewRouter(),
		rt:     rt,
		log:    log,
		addr:   opts.Addr,
	}

	if opts.Registry != nil {
		m, err := newHTTPMetrics(opts.Registry)
		if err != nil {
			return nil, fmt.Errorf("register http metrics: %w", err)
		}
		s.metrics = m
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)
	if s.metrics != nil {
		s.router.Use(s.metrics.middleware)
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	s.routes(opts)
	return s, nil
}

func (s *Server) routes(opts Options) {
	s.router.Get("/healthz", s.handleHealthz)
	if opts.Registry != nil && opts.MetricsPath != "" {
		s.router.Handle(opts.MetricsPath, promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}

	s.router.Get("/v1/stats", s.handleStats)
	s.router.Route("/v1/tasks", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Delete("/", s.handleClearAll)
		r.Get("/{id}", s.handleGetResult)
		r.Get("/{id}/wait", s.handleAwait)
	})
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves until ctx is cancelled, then shuts the listener down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", zap.String("addr", s.addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutting down http server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
