package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/cap0y/kiumauto-sub000/internal/strategy"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode     string `yaml:"mode"` // DRY_RUN or LIVE
	Account  string `yaml:"account"`
	Timezone string `yaml:"timezone"`

	Broker struct {
		BaseURL        string `yaml:"base_url"`
		FeedURL        string `yaml:"feed_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"broker"`

	Screener struct {
		BaseURL      string   `yaml:"base_url"`
		ConditionIDs []string `yaml:"condition_ids"`
	} `yaml:"screener"`

	Cycle struct {
		PollSeconds        int `yaml:"poll_seconds"`
		ExitMonitorSeconds int `yaml:"exit_monitor_seconds"`
		SnapshotSeconds    int `yaml:"snapshot_seconds"`
		PersistMinutes     int `yaml:"persist_minutes"`
	} `yaml:"cycle"`

	Trading struct {
		WindowFrom            string   `yaml:"window_from"`
		WindowTo              string   `yaml:"window_to"`
		CutoffTime            string   `yaml:"cutoff_time"`
		InvestmentPerSymbol   float64  `yaml:"investment_per_symbol"`
		FeeRate               float64  `yaml:"fee_rate"`
		MaxConcurrentHoldings int      `yaml:"max_concurrent_holdings"`
		MaxTradesPerSymbol    int      `yaml:"max_trades_per_symbol"`
		MaxDailySymbols       int      `yaml:"max_daily_symbols"`
		CooldownSeconds       int      `yaml:"cooldown_seconds"`
		ExcludeNamePatterns   []string `yaml:"exclude_name_patterns"`
	} `yaml:"trading"`

	Risk struct {
		StopLossPct     float64 `yaml:"stop_loss_pct"`     // negative, e.g. -2.0
		ProfitTargetPct float64 `yaml:"profit_target_pct"` // e.g. 3.0
		TrailingArmPct  float64 `yaml:"trailing_arm_pct"`  // peak that arms the trail
		TrailingDropPct float64 `yaml:"trailing_drop_pct"` // give-back that fires it
	} `yaml:"risk"`

	Strategies strategy.Config `yaml:"strategies"`

	StatePath string `yaml:"state_path"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.Account == "" {
		return errors.New("account cannot be empty")
	}
	if c.Trading.InvestmentPerSymbol <= 0 {
		return fmt.Errorf("trading.investment_per_symbol must be positive, got %.0f", c.Trading.InvestmentPerSymbol)
	}
	if c.Trading.FeeRate < 0 || c.Trading.FeeRate >= 1 {
		return fmt.Errorf("trading.fee_rate must be in [0,1), got %f", c.Trading.FeeRate)
	}
	if c.Risk.StopLossPct >= 0 {
		return fmt.Errorf("risk.stop_loss_pct must be negative, got %f", c.Risk.StopLossPct)
	}
	if c.Risk.ProfitTargetPct <= 0 {
		return fmt.Errorf("risk.profit_target_pct must be positive, got %f", c.Risk.ProfitTargetPct)
	}
	if c.Trading.MaxConcurrentHoldings <= 0 {
		return errors.New("trading.max_concurrent_holdings must be positive")
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Timezone == "" {
		c.Timezone = "Asia/Seoul"
	}
	if c.Cycle.PollSeconds == 0 {
		c.Cycle.PollSeconds = 30
	}
	if c.Cycle.ExitMonitorSeconds == 0 {
		c.Cycle.ExitMonitorSeconds = 2
	}
	if c.Cycle.SnapshotSeconds == 0 {
		c.Cycle.SnapshotSeconds = 10
	}
	if c.Cycle.PersistMinutes == 0 {
		c.Cycle.PersistMinutes = 5
	}
	if c.Trading.CooldownSeconds == 0 {
		c.Trading.CooldownSeconds = 5
	}
	if c.Trading.WindowFrom == "" {
		c.Trading.WindowFrom = "09:00"
	}
	if c.Trading.WindowTo == "" {
		c.Trading.WindowTo = "15:20"
	}
	if c.Trading.CutoffTime == "" {
		c.Trading.CutoffTime = "15:10"
	}
	if len(c.Trading.ExcludeNamePatterns) == 0 {
		c.Trading.ExcludeNamePatterns = []string{"레버리지", "인버스", "선물", "ETN"}
	}
	if c.Broker.TimeoutSeconds == 0 {
		c.Broker.TimeoutSeconds = 10
	}
	if c.StatePath == "" {
		c.StatePath = "kiumauto.db"
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
