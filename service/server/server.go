package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solflow/service/db"
	"github.com/brojonat/solflow/service/ledger"
	"github.com/brojonat/solflow/service/metrics"
	"github.com/brojonat/solflow/service/temporal"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// QueryStore is the read side of the ledger database. It is implemented by db.Store.
type QueryStore interface {
	GetWalletAggregates(ctx context.Context, wallet string) (*db.StoredAggregates, error)
	ListBalanceChangesByOwner(ctx context.Context, owner string, limit int) ([]ledger.BalanceChange, error)
	GetTokenPrice(ctx context.Context, mint string) (*ledger.TokenPrice, error)
	ListTokenPrices(ctx context.Context) ([]ledger.TokenPrice, error)
}

// BackfillStarter starts processing workflows. It is implemented by temporal.Client.
type BackfillStarter interface {
	StartProcessSlots(ctx context.Context, input temporal.ProcessSlotsInput) (workflowID, runID string, err error)
}

var (
	_ QueryStore      = (*db.Store)(nil)
	_ BackfillStarter = (*temporal.Client)(nil)
)

// Server represents the HTTP server for the ledger query API.
type Server struct {
	addr     string
	store    QueryStore
	backfill BackfillStarter
	hub      *StreamHub
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The backfill starter is optional - if nil, the backfill endpoint won't be available.
// The hub is optional - if nil, streaming endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, store QueryStore, backfill BackfillStarter, hub *StreamHub, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		store:    store,
		backfill: backfill,
		hub:      hub,
		metrics:  m,
		logger:   logger.With("component", "server"),
	}
}

// Handler builds the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Wallet routes
	route("GET /api/v1/wallets/{address}/aggregates", "/api/v1/wallets/aggregates", handleGetAggregates(s.store, s.logger))
	route("GET /api/v1/wallets/{address}/balance-changes", "/api/v1/wallets/balance-changes", handleListBalanceChanges(s.store, s.logger))

	// Price routes
	route("GET /api/v1/prices", "/api/v1/prices", handleListPrices(s.store, s.logger))
	route("GET /api/v1/prices/{mint}", "/api/v1/prices/mint", handleGetPrice(s.store, s.logger))

	if s.backfill != nil {
		route("POST /api/v1/backfill", "/api/v1/backfill", handleBackfill(s.backfill, s.logger))
	} else {
		s.logger.Warn("temporal client not configured, backfill endpoint disabled")
	}

	// Streaming endpoints (if the stream hub is configured)
	if s.hub != nil {
		route("GET /api/v1/stream/wallets/{address}", "/api/v1/stream/wallets", handleStreamWallet(s.hub, s.metrics, s.logger))
		route("GET /api/v1/ws/wallets/{address}", "/api/v1/ws/wallets", handleWebsocketWallet(s.hub, s.metrics, s.logger))
		s.logger.Info("streaming endpoints enabled")
	} else {
		s.logger.Warn("stream hub not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return requestIDMiddleware(corsMiddleware(mux))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the hub first (disconnects all stream clients)
	if s.hub != nil {
		s.hub.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type requestIDKey struct{}

// requestIDMiddleware tags each request with an ID, reusing X-Request-ID when the caller sent one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// requestLogger returns logger tagged with the request's ID.
func requestLogger(r *http.Request, logger *slog.Logger) *slog.Logger {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return logger.With("request_id", id)
	}
	return logger
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

