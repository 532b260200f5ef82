// Package httpapi exposes the duel engine over REST.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"duel-settlement/internal/duel"
	"duel-settlement/internal/pricing"
	"duel-settlement/internal/settlement"
	"duel-settlement/internal/storage"
)

// Settler is the settlement surface the API needs.
type Settler interface {
	Settle(ctx context.Context, id uuid.UUID, claim *settlement.Claim) (settlement.Result, error)
	Join(ctx context.Context, id uuid.UUID, joiner string, joinTxHash *string) (*duel.Duel, error)
	Cancel(ctx context.Context, id uuid.UUID, caller string) (*duel.Duel, error)
}

// PriceSource mirrors the oracle read path.
type PriceSource interface {
	GetPrice(ctx context.Context, asset string) (pricing.Quote, error)
}

// Options tune the HTTP server.
type Options struct {
	ListenAddr     string
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// Server wires the engine's components behind a chi router.
type Server struct {
	store   storage.DuelStore
	stats   storage.StatStore
	settler Settler
	prices  PriceSource
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time
}

func NewServer(store storage.DuelStore, stats storage.StatStore, settler Settler, prices PriceSource, opts Options, logger zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Server{
		store:   store,
		stats:   stats,
		settler: settler,
		prices:  prices,
		opts:    opts,
		logger:  logger.With().Str("component", "httpapi").Logger(),
		now:     time.Now,
	}
}

// Router assembles middleware and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(s.opts.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/duels", func(r chi.Router) {
		r.Get("/", s.handleListDuels)
		r.Post("/", s.handleCreateDuel)
		r.Get("/price/{assetID}", s.handleGetPrice)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/stats/{agentID}", s.handleAgentStats)
		r.Get("/{duelID}", s.handleGetDuel)
		r.Post("/{duelID}/join", s.handleJoin)
		r.Post("/{duelID}/cancel", s.handleCancel)
		r.Post("/{duelID}/settle", s.handleSettle)
	})

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.ListenAddr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.opts.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.ListenAddr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return srv.Close()
		}
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("request")
	})
}
