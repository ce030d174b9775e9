// Package dashboard serves a small JSON API over the bot's runtime
// state for monitoring tools and the operator's curl habit.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/pvandam/mtfbot/internal/broker"
	"github.com/pvandam/mtfbot/internal/engine"
	"github.com/pvandam/mtfbot/internal/risk"
	"github.com/pvandam/mtfbot/internal/storage"
)

// Config holds the HTTP surface settings.
type Config struct {
	ListenAddr string
	AuthToken  string
}

// Server exposes engine, risk, and journal state read-only.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	engines   []*engine.Engine
	risk      *risk.Manager
	storage   storage.Interface
	broker    broker.Broker
	logger    *logrus.Logger
	addr      string
	authToken string
	started   time.Time
}

func NewServer(cfg Config, engines []*engine.Engine, riskMgr *risk.Manager, store storage.Interface, b broker.Broker, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		engines:   engines,
		risk:      riskMgr,
		storage:   store,
		broker:    b,
		logger:    logger,
		addr:      cfg.ListenAddr,
		authToken: cfg.AuthToken,
		started:   time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/trades", s.handleTrades)
	s.router.Get("/api/stats", s.handleStats)
	s.router.Get("/api/positions", s.handlePositions)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on %s", s.addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"timestamp":      time.Now().Unix(),
	}
	s.writeJSON(w, health)
}

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	Paper     bool            `json:"paper"`
	Connected bool            `json:"connected"`
	Engines   []engine.Status `json:"engines"`
	Risk      risk.DailyStats `json:"risk"`
	Account   *AccountView    `json:"account,omitempty"`
}

// AccountView is the subset of account state the dashboard shows.
type AccountView struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Paper:     s.broker.IsPaper(),
		Connected: s.broker.IsConnected(),
		Risk:      s.risk.GetDailyStats(),
	}
	for _, e := range s.engines {
		resp.Engines = append(resp.Engines, e.Snapshot())
	}

	if account, err := s.broker.GetAccount(r.Context()); err != nil {
		s.logger.WithError(err).Warn("dashboard: account fetch failed")
	} else {
		resp.Account = &AccountView{
			Equity:      account.Equity,
			Cash:        account.Cash,
			BuyingPower: account.BuyingPower,
		}
	}

	s.writeJSON(w, resp)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	trades, err := s.storage.TradeHistory(limit)
	if err != nil {
		s.logger.WithError(err).Error("dashboard: trade history query failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, trades)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.TradeStats()
	if err != nil {
		s.logger.WithError(err).Error("dashboard: stats query failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.broker.GetPositions(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("dashboard: positions fetch failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, positions)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("dashboard: response encode failed")
	}
}
