package portfolio

import (
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/quantarc/portsim/internal/types"
	"github.com/quantarc/portsim/pkg/errors"
)

// allocationSumTolerance absorbs float noise when checking that percentage
// allocations total 100.
const allocationSumTolerance = 1e-9

// FeeSchedule is the simulated transaction cost model: a flat amount plus a
// percentage of position size, charged per transaction.
type FeeSchedule struct {
	Flat       float64 `yaml:"flat" validate:"gte=0"`
	Percentage float64 `yaml:"percentage" validate:"gte=0"`
}

// AssetClassUniverse names one asset class and its symbols. Universe order is
// the engine's iteration order, so it is a slice, not a map.
type AssetClassUniverse struct {
	Name    string   `yaml:"name" validate:"required"`
	Symbols []string `yaml:"symbols" validate:"required,min=1"`
}

// ClassAllocation is the configured capital slice for one asset class: its
// percentage of total equity and the percentage split across strategies
// within the class.
type ClassAllocation struct {
	Allocation float64            `yaml:"allocation" validate:"gt=0,lte=100"`
	Strategies map[string]float64 `yaml:"strategy_allocations" validate:"required,min=1"`
}

// Config is the portfolio configuration surface. It is consumed, not owned,
// by the core: the CLI or an embedding application supplies it.
type Config struct {
	Name     string `yaml:"name" validate:"required"`
	Currency string `yaml:"currency" validate:"required"`

	StartEquity float64     `yaml:"start_equity" validate:"required,gt=0"`
	Fees        FeeSchedule `yaml:"fees"`

	MaxSimultaneousPositions int     `yaml:"max_simultaneous_positions" validate:"required,gt=0"`
	CorrelationThreshold     float64 `yaml:"correlation_threshold" validate:"gte=-1,lte=1"`
	DrawdownLimitPercentage  float64 `yaml:"drawdown_limit_percentage" validate:"required,gt=0"`

	UseKelly                 bool    `yaml:"use_kelly"`
	MaxRiskPerTradePct       float64 `yaml:"max_risk_per_trade_percentage" validate:"required,gt=0"`
	DefaultTargetRMultiple   float64 `yaml:"default_target_r_multiple" validate:"gte=0"`

	// Timeframes is limited to a single entry: the simulation runs one
	// timeframe across all strategies.
	Timeframes []types.Timeframe `yaml:"timeframes" validate:"required,len=1"`

	Universe    []AssetClassUniverse       `yaml:"universe" validate:"required,min=1,dive"`
	Allocations map[string]ClassAllocation `yaml:"allocations" validate:"required,min=1"`
	Strategies  []string                   `yaml:"strategies" validate:"required,min=1"`
}

// Timeframe returns the single configured timeframe.
func (c *Config) Timeframe() types.Timeframe {
	return c.Timeframes[0]
}

// Validate checks structural constraints and the cross-field allocation
// invariants. Any violation is a fatal configuration error; nothing is
// clamped or repaired.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid portfolio configuration", err)
	}

	if _, err := c.Timeframe().Duration(); err != nil {
		return err
	}

	strategyNames := make(map[string]bool, len(c.Strategies))
	for _, name := range c.Strategies {
		strategyNames[name] = true
	}

	classSum := 0.0

	for _, class := range c.Universe {
		alloc, ok := c.Allocations[class.Name]
		if !ok {
			return errors.Newf(errors.ErrCodeInvalidAllocation, "asset class %q has no allocation", class.Name)
		}

		classSum += alloc.Allocation

		strategySum := 0.0

		for name, pct := range alloc.Strategies {
			if !strategyNames[name] {
				return errors.Newf(errors.ErrCodeInvalidAllocation,
					"asset class %q allocates to unknown strategy %q", class.Name, name)
			}

			strategySum += pct
		}

		if math.Abs(strategySum-100) > allocationSumTolerance {
			return errors.Newf(errors.ErrCodeInvalidAllocation,
				"strategy allocations for asset class %q total %.4f, must total 100", class.Name, strategySum)
		}
	}

	if math.Abs(classSum-100) > allocationSumTolerance {
		return errors.Newf(errors.ErrCodeInvalidAllocation,
			"asset class allocations total %.4f, must total 100", classSum)
	}

	if c.CorrelationThreshold < -1 || c.CorrelationThreshold > 1 {
		return errors.Newf(errors.ErrCodeInvalidCorrelationBound,
			"correlation threshold %.4f outside [-1, 1]", c.CorrelationThreshold)
	}

	return nil
}

// SymbolsFlattened returns every symbol across all asset classes in universe
// order.
func (c *Config) SymbolsFlattened() []string {
	var symbols []string
	for _, class := range c.Universe {
		symbols = append(symbols, class.Symbols...)
	}

	return symbols
}

// AssetClassOf returns the asset class a symbol belongs to.
func (c *Config) AssetClassOf(symbol string) (string, error) {
	for _, class := range c.Universe {
		for _, s := range class.Symbols {
			if s == symbol {
				return class.Name, nil
			}
		}
	}

	return "", errors.Newf(errors.ErrCodeUnknownAsset, "symbol %q not in universe", symbol)
}
