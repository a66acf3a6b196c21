package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance  Binance  `mapstructure:"binance"`
	Strategy Strategy `mapstructure:"strategy"`
	Risk     Risk     `mapstructure:"risk"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Binance holds the configuration for the Binance API.
type Binance struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	UseWebsocket   bool    `mapstructure:"use_websocket"`
}

// Server holds the configuration for the status/metrics HTTP server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// TargetTier is one staged take-profit step: close Fraction of the
// original size once price reaches RR times the stop distance.
type TargetTier struct {
	RR       float64 `mapstructure:"rr"`
	Fraction float64 `mapstructure:"fraction"`
}

// Strategy holds the pattern and trade-construction knobs of one bot
// variant. The string-typed fields are parsed into closed enums at
// startup; invalid values are rejected by Validate.
type Strategy struct {
	Symbol     string `mapstructure:"symbol"`
	QuoteAsset string `mapstructure:"quote_asset"` // funds trades and measures PnL
	HTF        string `mapstructure:"htf"`
	LTF        string `mapstructure:"ltf"`

	ZoneKind     string `mapstructure:"zone_kind"`     // fvg | orderblock
	TriggerMode  string `mapstructure:"trigger_mode"`  // rejected | held
	EntryMethod  string `mapstructure:"entry_method"`  // htf_close | ltf_zone | ltf_breakout
	TargetMethod string `mapstructure:"target_method"` // fixed_rr | liquidity

	SwingWing    int  `mapstructure:"swing_wing"`
	UseWickRange bool `mapstructure:"use_wick_range"`

	LTFLookback         int          `mapstructure:"ltf_lookback"`
	StopBufferPct       float64      `mapstructure:"stop_buffer_pct"`
	BreakoutPct         float64      `mapstructure:"breakout_pct"`
	MinStopPct          float64      `mapstructure:"min_stop_pct"`
	MaxStopPct          float64      `mapstructure:"max_stop_pct"`
	MinRR               float64      `mapstructure:"min_rr"`
	MaxRR               float64      `mapstructure:"max_rr"`
	Tiers               []TargetTier `mapstructure:"tiers"`
	MaxEntryDistancePct float64      `mapstructure:"max_entry_distance_pct"`

	ExpiryCandles     int  `mapstructure:"expiry_candles"`
	CooldownCandles   int  `mapstructure:"cooldown_candles"`
	CooldownAfterStop bool `mapstructure:"cooldown_after_stop"`

	HTFHistory      int `mapstructure:"htf_history"`
	LTFHistory      int `mapstructure:"ltf_history"`
	MaxTrackedZones int `mapstructure:"max_tracked_zones"`

	TickInterval int  `mapstructure:"tick_interval"` // seconds between live polls
	DryRun       bool `mapstructure:"dry_run"`
}

// Risk holds sizing, fees and emergency guard rails.
type Risk struct {
	RiskFraction         float64 `mapstructure:"risk_fraction"`
	PaperBalance         float64 `mapstructure:"paper_balance"` // starting balance for dry runs and backtests
	MakerFee             float64 `mapstructure:"maker_fee"`
	TakerFee             float64 `mapstructure:"taker_fee"`
	MinNotional          float64 `mapstructure:"min_notional"`
	LotStep              float64 `mapstructure:"lot_step"`
	MinQty               float64 `mapstructure:"min_qty"`
	MaxDrawdownPct       float64 `mapstructure:"max_drawdown_pct"`
	MaxDailyLossPct      float64 `mapstructure:"max_daily_loss_pct"`
	MaxConsecutiveLosses int     `mapstructure:"max_consecutive_losses"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("binance.rate_limit", 20)      // requests per second
	viper.SetDefault("binance.rate_limit_burst", 5) // burst size
	viper.SetDefault("strategy.quote_asset", "USDT")
	viper.SetDefault("strategy.htf", "4h")
	viper.SetDefault("strategy.ltf", "15m")
	viper.SetDefault("strategy.zone_kind", "fvg")
	viper.SetDefault("strategy.trigger_mode", "rejected")
	viper.SetDefault("strategy.entry_method", "ltf_zone")
	viper.SetDefault("strategy.target_method", "fixed_rr")
	viper.SetDefault("strategy.swing_wing", 2)
	viper.SetDefault("strategy.ltf_lookback", 10)
	viper.SetDefault("strategy.stop_buffer_pct", 0.002)
	viper.SetDefault("strategy.breakout_pct", 0.001)
	viper.SetDefault("strategy.min_stop_pct", 0.003)
	viper.SetDefault("strategy.max_stop_pct", 0.05)
	viper.SetDefault("strategy.min_rr", 2.0)
	viper.SetDefault("strategy.max_rr", 10.0)
	viper.SetDefault("strategy.max_entry_distance_pct", 0.05)
	viper.SetDefault("strategy.expiry_candles", 16)
	viper.SetDefault("strategy.cooldown_candles", 16)
	viper.SetDefault("strategy.htf_history", 500)
	viper.SetDefault("strategy.ltf_history", 2000)
	viper.SetDefault("strategy.max_tracked_zones", 100)
	viper.SetDefault("strategy.tick_interval", 30)
	viper.SetDefault("risk.risk_fraction", 0.02)
	viper.SetDefault("risk.paper_balance", 10000.0)
	viper.SetDefault("risk.maker_fee", 0.00018)
	viper.SetDefault("risk.taker_fee", 0.00045)
	viper.SetDefault("risk.min_notional", 10.0)
	viper.SetDefault("risk.max_drawdown_pct", 15.0)
	viper.SetDefault("risk.max_consecutive_losses", 5)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}
	err = config.Validate()
	return
}

// Validate range-checks every strategy and risk parameter. A bad value
// is a startup error, never something discovered mid-trade.
func (c *Config) Validate() error {
	s := &c.Strategy
	r := &c.Risk

	if s.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if !oneOf(s.ZoneKind, "fvg", "orderblock") {
		return fmt.Errorf("strategy.zone_kind %q must be fvg or orderblock", s.ZoneKind)
	}
	if !oneOf(s.TriggerMode, "rejected", "held") {
		return fmt.Errorf("strategy.trigger_mode %q must be rejected or held", s.TriggerMode)
	}
	if !oneOf(s.EntryMethod, "htf_close", "ltf_zone", "ltf_breakout") {
		return fmt.Errorf("strategy.entry_method %q must be htf_close, ltf_zone or ltf_breakout", s.EntryMethod)
	}
	if !oneOf(s.TargetMethod, "fixed_rr", "liquidity") {
		return fmt.Errorf("strategy.target_method %q must be fixed_rr or liquidity", s.TargetMethod)
	}
	if s.DryRun && r.PaperBalance <= 0 {
		return fmt.Errorf("risk.paper_balance must be positive for dry runs")
	}
	if r.RiskFraction <= 0 || r.RiskFraction >= 0.1 {
		return fmt.Errorf("risk.risk_fraction %.4f must be in (0, 0.1)", r.RiskFraction)
	}
	if r.MakerFee < 0 || r.TakerFee < 0 || r.MakerFee > 0.01 || r.TakerFee > 0.01 {
		return fmt.Errorf("fee rates must be in [0, 0.01]")
	}
	if s.MinRR < 1 {
		return fmt.Errorf("strategy.min_rr %.2f must be >= 1", s.MinRR)
	}
	if s.MaxRR != 0 && s.MaxRR < s.MinRR {
		return fmt.Errorf("strategy.max_rr %.2f below min_rr %.2f", s.MaxRR, s.MinRR)
	}
	if s.StopBufferPct < 0 || s.StopBufferPct >= 0.1 {
		return fmt.Errorf("strategy.stop_buffer_pct %.4f must be in [0, 0.1)", s.StopBufferPct)
	}
	if s.MinStopPct <= 0 || s.MinStopPct >= 1 {
		return fmt.Errorf("strategy.min_stop_pct %.4f must be in (0, 1)", s.MinStopPct)
	}
	if s.MaxStopPct != 0 && s.MaxStopPct < s.MinStopPct {
		return fmt.Errorf("strategy.max_stop_pct %.4f below min_stop_pct %.4f", s.MaxStopPct, s.MinStopPct)
	}
	if s.SwingWing < 1 {
		return fmt.Errorf("strategy.swing_wing must be at least 1")
	}
	if s.ExpiryCandles <= 0 {
		return fmt.Errorf("strategy.expiry_candles must be positive")
	}
	if s.CooldownCandles < 0 {
		return fmt.Errorf("strategy.cooldown_candles must not be negative")
	}
	if r.MaxDrawdownPct < 0 || r.MaxDrawdownPct > 100 {
		return fmt.Errorf("risk.max_drawdown_pct %.2f must be in [0, 100]", r.MaxDrawdownPct)
	}
	if r.MaxDailyLossPct < 0 || r.MaxDailyLossPct > 100 {
		return fmt.Errorf("risk.max_daily_loss_pct %.2f must be in [0, 100]", r.MaxDailyLossPct)
	}
	if s.TargetMethod == "fixed_rr" {
		if len(s.Tiers) == 0 {
			return fmt.Errorf("strategy.tiers is required for fixed_rr targets")
		}
		var total, lastRR float64
		for i, t := range s.Tiers {
			if t.Fraction <= 0 || t.Fraction > 1 {
				return fmt.Errorf("strategy.tiers[%d].fraction %.2f must be in (0, 1]", i, t.Fraction)
			}
			if t.RR <= lastRR {
				return fmt.Errorf("strategy.tiers must have strictly increasing rr")
			}
			lastRR = t.RR
			total += t.Fraction
		}
		if total > 1.0+1e-9 {
			return fmt.Errorf("strategy.tiers fractions sum %.2f exceeds 1.0", total)
		}
	}
	if err := checkTimeframePair(s.HTF, s.LTF); err != nil {
		return err
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// checkTimeframePair ensures the HTF is a whole multiple of the LTF so
// candle boundaries line up.
func checkTimeframePair(htf, ltf string) error {
	h, err := parseTimeframeMinutes(htf)
	if err != nil {
		return fmt.Errorf("strategy.htf: %w", err)
	}
	l, err := parseTimeframeMinutes(ltf)
	if err != nil {
		return fmt.Errorf("strategy.ltf: %w", err)
	}
	if l >= h || h%l != 0 {
		return fmt.Errorf("strategy.htf %s must be a whole multiple of ltf %s", htf, ltf)
	}
	return nil
}

func parseTimeframeMinutes(tf string) (int, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	var n int
	if _, err := fmt.Sscanf(tf[:len(tf)-1], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	switch tf[len(tf)-1] {
	case 'm':
		return n, nil
	case 'h':
		return n * 60, nil
	case 'd':
		return n * 60 * 24, nil
	}
	return 0, fmt.Errorf("invalid timeframe unit in %q", tf)
}
