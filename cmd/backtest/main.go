package main

import (
	"flag"
	"fmt"

	"go.uber.org/zap"

	"fvg-trade-bot-go/internal/backtest"
	"fvg-trade-bot-go/internal/config"
	"fvg-trade-bot-go/internal/database"
	"fvg-trade-bot-go/internal/journal"
	"fvg-trade-bot-go/internal/logger"
	"fvg-trade-bot-go/internal/market"
	"fvg-trade-bot-go/internal/strategy"
)

func main() {
	var (
		configPath = flag.String("config", "./configs", "directory containing config.yml")
		htfFile    = flag.String("htf", "", "CSV file with higher-timeframe candles")
		ltfFile    = flag.String("ltf", "", "CSV file with lower-timeframe candles")
		balance    = flag.Float64("balance", 0, "starting balance (defaults to risk.paper_balance)")
		useJournal = flag.Bool("journal", false, "record trades and events to the database")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if *htfFile == "" || *ltfFile == "" {
		log.Fatal("Both -htf and -ltf candle files are required")
	}

	htf, err := backtest.LoadCSV(*htfFile, market.Timeframe(cfg.Strategy.HTF))
	if err != nil {
		log.Fatal("Failed to load HTF candles", zap.Error(err))
	}
	ltf, err := backtest.LoadCSV(*ltfFile, market.Timeframe(cfg.Strategy.LTF))
	if err != nil {
		log.Fatal("Failed to load LTF candles", zap.Error(err))
	}
	log.Info("Candle history loaded",
		zap.Int("htf_candles", len(htf)),
		zap.Int("ltf_candles", len(ltf)))

	start := cfg.Risk.PaperBalance
	if *balance > 0 {
		start = *balance
	}

	var obs strategy.Observer
	if *useJournal {
		db, err := database.NewDatabase(&cfg)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		obs = journal.NewJournal(db, log, cfg.Strategy.Symbol, true)
	}

	runner := backtest.NewRunner(cfg.InstanceConfig(), cfg.RiskSizer(), start, obs, log)
	result, err := runner.Run(htf, ltf)
	if err != nil {
		log.Fatal("Backtest failed", zap.Error(err))
	}
	runner.Log(result)
}
