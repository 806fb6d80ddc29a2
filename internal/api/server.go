package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Snapshots exposes persisted settlement state for the API layer.
type Snapshots interface {
	Accounts(ctx context.Context) ([]model.BankrollAccount, error)
	ExpertAccounts(ctx context.Context, expertID string) ([]model.BankrollAccount, error)
	ExpertBets(ctx context.Context, expertID string, limit int) ([]model.Bet, error)
	Records(ctx context.Context, expertID string, limit int) ([]model.LearningUpdateRecord, error)
}

// Server is a read-only HTTP API over bankroll and learning snapshots.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	snaps      Snapshots
	gatherer   prometheus.Gatherer
	log        zerolog.Logger
	startedAt  time.Time
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l.With().Str("component", "api").Logger() }
}

// WithGatherer serves the gatherer's metrics on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a new API server bound to addr.
func NewServer(addr string, snaps Snapshots, opts ...Option) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		snaps:     snaps,
		log:       zerolog.Nop(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/bankrolls", s.handleBankrolls).Methods(http.MethodGet)
	api.HandleFunc("/bankrolls/{expert}", s.handleExpertBankroll).Methods(http.MethodGet)
	api.HandleFunc("/learning/{expert}", s.handleLearning).Methods(http.MethodGet)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("api server listening")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("api server")
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
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

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Str("request_id", w.Header().Get("X-Request-ID")).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

// GET /api/health: liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

// GET /api/bankrolls: every account with a count per risk level.
func (s *Server) handleBankrolls(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.snaps.Accounts(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("load accounts")
		s.writeError(w, http.StatusInternalServerError, "failed to load accounts")
		return
	}
	byRisk := make(map[model.RiskLevel]int)
	for _, a := range accounts {
		byRisk[a.RiskLevel]++
	}
	if accounts == nil {
		accounts = []model.BankrollAccount{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(accounts),
		"by_risk":  byRisk,
		"accounts": accounts,
	})
}

// GET /api/bankrolls/{expert}: one expert's accounts and recent bets.
func (s *Server) handleExpertBankroll(w http.ResponseWriter, r *http.Request) {
	expert := mux.Vars(r)["expert"]
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	accounts, err := s.snaps.ExpertAccounts(r.Context(), expert)
	if err != nil {
		s.log.Error().Err(err).Str("expert_id", expert).Msg("load expert accounts")
		s.writeError(w, http.StatusInternalServerError, "failed to load accounts")
		return
	}
	if len(accounts) == 0 {
		s.writeError(w, http.StatusNotFound, "unknown expert")
		return
	}
	bets, err := s.snaps.ExpertBets(r.Context(), expert, limit)
	if err != nil {
		s.log.Error().Err(err).Str("expert_id", expert).Msg("load expert bets")
		s.writeError(w, http.StatusInternalServerError, "failed to load bets")
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"expert_id":   expert,
		"accounts":    accounts,
		"recent_bets": bets,
	})
}

// GET /api/learning/{expert}: newest learning update records first.
func (s *Server) handleLearning(w http.ResponseWriter, r *http.Request) {
	expert := mux.Vars(r)["expert"]
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.snaps.Records(r.Context(), expert, limit)
	if err != nil {
		s.log.Error().Err(err).Str("expert_id", expert).Msg("load learning records")
		s.writeError(w, http.StatusInternalServerError, "failed to load learning records")
		return
	}
	if records == nil {
		records = []model.LearningUpdateRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"expert_id": expert,
		"count":     len(records),
		"records":   records,
	})
}
