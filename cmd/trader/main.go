package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"fvg-trade-bot-go/internal/binance"
	"fvg-trade-bot-go/internal/config"
	"fvg-trade-bot-go/internal/database"
	"fvg-trade-bot-go/internal/journal"
	"fvg-trade-bot-go/internal/logger"
	"fvg-trade-bot-go/internal/metrics"
	"fvg-trade-bot-go/internal/strategy"
	"fvg-trade-bot-go/internal/trader"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded", zap.String("symbol", cfg.Strategy.Symbol))

	// Initialize database
	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize Binance REST client
	restClient := binance.NewRestClient(&cfg.Binance, log)
	if _, err := restClient.GetServerTime(); err != nil {
		log.Fatal("Failed to connect to Binance API", zap.Error(err))
	}
	log.Info("Successfully connected to Binance API.")

	// Observers: trade journal and Prometheus metrics
	jnl := journal.NewJournal(db, log, cfg.Strategy.Symbol, cfg.Strategy.DryRun)
	collector := metrics.NewCollector(prometheus.DefaultRegisterer, cfg.Strategy.Symbol)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Initialize the trading engine
	tradeEngine, err := trader.NewEngine(log, &cfg, restClient, db,
		strategy.MultiObserver(jnl, collector))
	if err != nil {
		log.Fatal("Failed to initialize trading engine", zap.Error(err))
	}
	collector.SetEquity(tradeEngine.Instance().Balance())

	// Status/metrics HTTP server
	api := trader.NewAPIServer(tradeEngine, jnl, cfg.Server.Port, log)
	api.Start()

	tradeEngine.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}
