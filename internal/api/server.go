// Package api exposes the settlement engine over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"liquidation_go/internal/domain"
	"liquidation_go/internal/engine"
	"liquidation_go/internal/event"
	"liquidation_go/internal/infra"
	"liquidation_go/internal/infra/storage"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
)

// Submitter runs commands through the sequencer.
type Submitter interface {
	Submit(ctx context.Context, cmd engine.Command) error
}

// Store is the read side used by query endpoints.
type Store interface {
	Marker(ctx context.Context) (uint64, error)
	Vault(ctx context.Context, id *uint256.Int) (domain.Vault, error)
	ConsumedAt(ctx context.Context, key domain.SignatureKey) (storage.Consumption, bool, error)
	Settlements(ctx context.Context, vaultID *uint256.Int, limit int) ([]storage.Settlement, error)
	EventsAfter(ctx context.Context, after uint64, limit int) ([]event.Envelope, error)
}

// Options configures the HTTP server.
type Options struct {
	ListenAddr string
	RateLimit  float64
	RateBurst  int
}

// Server is the HTTP front of the settlement engine.
type Server struct {
	submitter Submitter
	store     Store
	hub       *event.Hub
	auth      *Authenticator
	limiter   *CallerRateLimiter
	metrics   *infra.Metrics
	http      *http.Server

	done     chan struct{}
	doneOnce sync.Once
	logger   *slog.Logger
}

// NewServer wires the routes.
func NewServer(opts Options, submitter Submitter, store Store, hub *event.Hub, auth *Authenticator, metrics *infra.Metrics) *Server {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	s := &Server{
		submitter: submitter,
		store:     store,
		hub:       hub,
		auth:      auth,
		limiter:   NewCallerRateLimiter(opts.RateLimit, opts.RateBurst),
		metrics:   metrics,
		done:      make(chan struct{}),
		logger:    slog.Default().With("module", "api"),
	}
	s.http = &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Use(s.limiter.Middleware)

		r.Get("/metrics", s.handleMetrics)
		r.Post("/v1/settle", s.handleSettle)
		r.Post("/v1/receive", s.handleReceive)
		r.Get("/v1/authorizations/{signature}", s.handleAuthorization)
		r.Get("/v1/vaults/{id}", s.handleVault)
		r.Get("/v1/settlements", s.handleSettlements)
		r.Get("/v1/events", s.handleEvents)
		r.Get("/v1/stream", s.handleStream)
	})
	return r
}

// Handler returns the root handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go s.limiter.Cleanup(ctx)

	s.logger.Info("HTTP server listening", slog.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and closes open streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.doneOnce.Do(func() { close(s.done) })
	return s.http.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
