// Package config loads the engine's tunable parameters via viper: a
// mapstructure-tagged struct, defaults set before the file is read,
// environment override, loaded once behind a sync.Once.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/ust-mm/internal/errors"
)

// InstrumentCount is the number of Treasury instrument types the engine
// tracks: a closed enum of six on-the-run Treasury types.
const InstrumentCount = 6

// Config is the complete set of parameters the engine exposes as
// configurable without code changes.
type Config struct {
	Decision struct {
		BaseSpreadBps            float64       `mapstructure:"base_spread_bps"`
		InventoryPenaltyBps      float64       `mapstructure:"inventory_penalty_bps"`
		InventoryScale           float64       `mapstructure:"inventory_scale"`
		BaseSizeUSD              float64       `mapstructure:"base_size_usd"`
		ImbalanceCoefficient     float64       `mapstructure:"imbalance_coefficient"`
		MomentumCoefficient      float64       `mapstructure:"momentum_coefficient"`
		FairValueCoefficient     float64       `mapstructure:"fair_value_coefficient"`
		SessionLength            time.Duration `mapstructure:"session_length"`
		PriceChangeThreshold32nd float64       `mapstructure:"price_update_threshold_32nds"`
		SizeChangeThreshold      float64       `mapstructure:"size_update_threshold"`
		Phase1BudgetNs           int64         `mapstructure:"phase1_budget_ns"`
		Phase2BudgetNs           int64         `mapstructure:"phase2_budget_ns"`
		Phase3BudgetNs           int64         `mapstructure:"phase3_budget_ns"`
	} `mapstructure:"decision"`

	Risk struct {
		PositionCap    float64                    `mapstructure:"position_cap"`
		DailyLossCap   float64                     `mapstructure:"daily_loss_cap"`
		OrderRateCap   int64                       `mapstructure:"order_rate_cap"`
		DV01Cap        float64                     `mapstructure:"dv01_cap"`
		PerMillionDV01 [InstrumentCount]float64    `mapstructure:"per_million_dv01"`
		RiskRefresh    time.Duration               `mapstructure:"risk_refresh_interval"`
		VaRConfidence  float64                     `mapstructure:"var_confidence"`
	} `mapstructure:"risk"`

	Quote struct {
		MinQuoteSize       float64       `mapstructure:"min_quote_size"`
		MaxQuoteSize       float64       `mapstructure:"max_quote_size"`
		MinSpread32nds     float64       `mapstructure:"min_spread_32nds"`
		RateLimitInterval  time.Duration `mapstructure:"quote_rate_limit_ns"`
	} `mapstructure:"quote"`

	Monitoring struct {
		LogLevel       string `mapstructure:"log_level"`
		PrometheusPort int    `mapstructure:"prometheus_port"`
	} `mapstructure:"monitoring"`

	Pools struct {
		OrderCapacity int `mapstructure:"order_capacity"`
		LevelCapacity int `mapstructure:"level_capacity"`
	} `mapstructure:"pools"`

	RingBuffer struct {
		Capacity       int `mapstructure:"capacity"`
		PublishEveryK  int `mapstructure:"publish_every_k"`
	} `mapstructure:"ring_buffer"`

	Aux struct {
		PoolSize               int           `mapstructure:"pool_size"`
		FillQueueCapacity      int           `mapstructure:"fill_queue_capacity"`
		FairCurveFlushInterval time.Duration `mapstructure:"fair_curve_flush_interval"`
		BreakerMaxRequests     uint32        `mapstructure:"breaker_max_requests"`
		BreakerInterval        time.Duration `mapstructure:"breaker_interval"`
		BreakerTimeout         time.Duration `mapstructure:"breaker_timeout"`
	} `mapstructure:"aux"`
}

var (
	cfg  *Config
	once sync.Once
)

// Load reads configuration from configPath (directory) plus the USTMM_
// environment prefix, applying defaults first. Safe to call repeatedly;
// only the first call does the work.
func Load(configPath string) (*Config, error) {
	var err error

	once.Do(func() {
		cfg = &Config{}
		setDefaults(cfg)

		v := viper.New()
		v.SetConfigName("ustmm")
		v.SetConfigType("yaml")

		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/ustmm")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("USTMM")

		if rerr := v.ReadInConfig(); rerr != nil {
			if _, ok := rerr.(viper.ConfigFileNotFoundError); !ok {
				err = errors.Wrap(rerr, errors.ErrConfigNotFound, "failed to read config file").
					WithDetail("config_path", configPath)
				return
			}
		}

		if uerr := v.Unmarshal(cfg); uerr != nil {
			err = errors.Wrap(uerr, errors.ErrInvalidConfig, "failed to unmarshal config")
			return
		}

		if verr := validate(cfg); verr != nil {
			err = verr
			return
		}
	})

	return cfg, err
}

// validate rejects capacities that would make a fixed-capacity pool or
// ring buffer unusable; these can only come from operator
// misconfiguration, since setDefaults never produces them.
func validate(c *Config) error {
	switch {
	case c.Pools.OrderCapacity <= 0:
		return errors.New(errors.ErrInvalidCapacity, "pools.order_capacity must be positive").
			WithDetail("order_capacity", c.Pools.OrderCapacity)
	case c.Pools.LevelCapacity <= 0:
		return errors.New(errors.ErrInvalidCapacity, "pools.level_capacity must be positive").
			WithDetail("level_capacity", c.Pools.LevelCapacity)
	case c.RingBuffer.Capacity <= 0:
		return errors.New(errors.ErrInvalidCapacity, "ring_buffer.capacity must be positive").
			WithDetail("ring_buffer_capacity", c.RingBuffer.Capacity)
	case c.RingBuffer.PublishEveryK < 1:
		return errors.New(errors.ErrInvalidCapacity, "ring_buffer.publish_every_k must be at least 1").
			WithDetail("publish_every_k", c.RingBuffer.PublishEveryK)
	}
	return nil
}

// Get returns the process-wide configuration, loading defaults if Load
// was never called.
func Get() *Config {
	if cfg == nil {
		if _, err := Load(""); err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	}
	return cfg
}

func setDefaults(c *Config) {
	c.Decision.BaseSpreadBps = 2.0
	c.Decision.InventoryPenaltyBps = 0.5
	c.Decision.InventoryScale = 10_000_000
	c.Decision.BaseSizeUSD = 1_000_000
	c.Decision.ImbalanceCoefficient = 0.01
	c.Decision.MomentumCoefficient = 0.05
	c.Decision.FairValueCoefficient = -0.1
	c.Decision.SessionLength = 6 * time.Hour
	c.Decision.PriceChangeThreshold32nd = 0.5
	c.Decision.SizeChangeThreshold = 0.1
	c.Decision.Phase1BudgetNs = 400
	c.Decision.Phase2BudgetNs = 600
	c.Decision.Phase3BudgetNs = 200

	c.Risk.PositionCap = 50_000_000
	c.Risk.DailyLossCap = 500_000
	c.Risk.OrderRateCap = 10_000
	c.Risk.DV01Cap = 250_000
	c.Risk.PerMillionDV01 = [InstrumentCount]float64{2, 5, 90, 220, 430, 780}
	c.Risk.RiskRefresh = 1 * time.Millisecond
	c.Risk.VaRConfidence = 0.95

	c.Quote.MinQuoteSize = 100_000
	c.Quote.MaxQuoteSize = 50_000_000
	c.Quote.MinSpread32nds = 1.0
	c.Quote.RateLimitInterval = 100 * time.Millisecond

	c.Monitoring.LogLevel = "info"
	c.Monitoring.PrometheusPort = 9090

	c.Pools.OrderCapacity = 1 << 16
	c.Pools.LevelCapacity = 1 << 12

	c.RingBuffer.Capacity = 1 << 16
	c.RingBuffer.PublishEveryK = 1

	c.Aux.PoolSize = 8
	c.Aux.FillQueueCapacity = 4096
	c.Aux.FairCurveFlushInterval = 500 * time.Millisecond
	c.Aux.BreakerMaxRequests = 5
	c.Aux.BreakerInterval = 30 * time.Second
	c.Aux.BreakerTimeout = 60 * time.Second
}

// InitLogger builds a zap.Logger from the monitoring configuration.
func InitLogger(c *Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	switch c.Monitoring.LogLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidConfig, "failed to initialize logger")
	}
	return logger, nil
}
