package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fvg-trade-bot-go/internal/journal"
)

// APIServer provides an HTTP interface for the trading engine: status,
// health, recent trades and Prometheus metrics.
type APIServer struct {
	server  *http.Server
	engine  *Engine
	journal *journal.Journal
	logger  *zap.Logger
}

// NewAPIServer creates a new APIServer.
func NewAPIServer(engine *Engine, jnl *journal.Journal, port int, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine:  engine,
		journal: jnl,
		logger:  logger.Named("api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/trades", s.tradesHandler)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	inst := s.engine.Instance()

	status := struct {
		Symbol         string          `json:"symbol"`
		DryRun         bool            `json:"dry_run"`
		Balance        float64         `json:"balance"`
		Halted         bool            `json:"halted"`
		ActiveZones    int             `json:"active_zones"`
		TriggeredZones int             `json:"triggered_zones"`
		PendingSetup   bool            `json:"pending_setup"`
		OpenPosition   bool            `json:"open_position"`
		TradesClosed   int             `json:"trades_closed"`
		StartTime      string          `json:"start_time"`
		Uptime         string          `json:"uptime"`
		Summary        journal.Summary `json:"summary"`
	}{
		Symbol:         s.engine.cfg.Strategy.Symbol,
		DryRun:         s.engine.cfg.Strategy.DryRun,
		Balance:        inst.Balance(),
		Halted:         inst.Halted(),
		ActiveZones:    inst.ActiveZoneCount(),
		TriggeredZones: inst.TriggeredZoneCount(),
		PendingSetup:   inst.PendingSetup() != nil,
		OpenPosition:   inst.OpenPosition() != nil,
		TradesClosed:   inst.TradesClosed(),
		StartTime:      s.engine.StartTime.Format(time.RFC3339),
		Uptime:         time.Since(s.engine.StartTime).String(),
	}

	if s.journal != nil {
		if summary, err := s.journal.Summarize(); err == nil {
			status.Summary = summary
		} else {
			s.logger.Error("Failed to summarize trades", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to write status response", zap.Error(err))
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

func (s *APIServer) tradesHandler(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	trades, err := s.journal.Trades(100)
	if err != nil {
		s.logger.Error("Failed to load trades", zap.Error(err))
		http.Error(w, "Failed to load trades", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(trades); err != nil {
		s.logger.Error("Failed to write trades response", zap.Error(err))
	}
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
