// Package api serves the engine operations over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"keen-oracle/internal/oracle"
	"keen-oracle/internal/service"
	"keen-oracle/internal/wallet"
)

// WalletHeader carries the caller's address.
const WalletHeader = "X-Wallet-Address"

// Engine is the operation set the HTTP layer exposes.
type Engine interface {
	Register(ctx context.Context, stake decimal.Decimal) (service.TxID, oracle.OracleRecord, error)
	SubmitPrice(ctx context.Context, pair string, price decimal.Decimal) (service.TxID, oracle.Submission, error)
	GetOracleInfo(addr oracle.Address) service.OracleSummary
	GetOracleStats(addr oracle.Address) service.Stats
	WithdrawRewards(ctx context.Context) (service.TxID, decimal.Decimal, error)
	GetCurrentSubmissions(pair string) []service.SubmissionView
	GetAggregatedPrice(pair string) (oracle.AggregationResult, bool)
	TriggerAggregation(ctx context.Context, pair string) (service.TxID, oracle.AggregationResult, error)
	SubmitDispute(ctx context.Context, epochRef, reason string, bond decimal.Decimal) (service.TxID, oracle.DisputeRecord, error)
	ListOracles() []oracle.OracleRecord
	ListAggregations() []oracle.AggregationResult
	ListDisputes() []oracle.DisputeRecord
	SubmissionsByOracle(addr oracle.Address) []oracle.Submission
	ResolveShort(short string) (oracle.Address, bool)
	EpochStatus() service.EpochStatus
}

// Options configure the HTTP server.
type Options struct {
	Listen          string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	Gatherer        prometheus.Gatherer
}

// Server exposes an Engine over HTTP.
type Server struct {
	engine     Engine
	opts       Options
	handler    http.Handler
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer builds the router and wraps it with CORS.
func NewServer(engine Engine, opts Options, logger zerolog.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		engine: engine,
		opts:   opts,
		logger: logger.With().Str("component", "api").Logger(),
	}

	router := mux.NewRouter()
	s.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.Use(s.identityMiddleware, s.logMiddleware)

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", WalletHeader},
	})
	s.handler = c.Handler(router)

	s.httpServer = &http.Server{
		Addr:              opts.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.opts.Listen).Msg("http api listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http api stopped")
	return ctx.Err()
}

func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get(WalletHeader); raw != "" {
			if addr := wallet.Normalize(raw); addr != "" {
				r = r.WithContext(wallet.WithIdentity(r.Context(), addr))
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(started)).
			Msg("request served")
	})
}
