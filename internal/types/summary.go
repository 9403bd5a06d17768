package types

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantarc/portsim/pkg/errors"
)

// PortfolioSummary is the portfolio-level result row produced by the metrics
// aggregator after a run.
type PortfolioSummary struct {
	RunID    string    `yaml:"run_id"`
	Name     string    `yaml:"name"`
	Currency string    `yaml:"currency"`
	Start    time.Time `yaml:"start"`
	Finish   time.Time `yaml:"finish"`

	StartEquity    float64 `yaml:"start_equity"`
	RealizedEquity float64 `yaml:"realized_equity"`
	OpenEquity     float64 `yaml:"open_equity"`
	FinalEquity    float64 `yaml:"final_equity"`
	ROI            float64 `yaml:"roi"`

	HighWatermark     float64 `yaml:"high_watermark"`
	DrawdownWatermark float64 `yaml:"drawdown_watermark"`
	MaxDrawdown       float64 `yaml:"max_drawdown"`

	TotalFees   float64 `yaml:"total_fees"`
	GrossProfit float64 `yaml:"gross_profit"`
	GrossLoss   float64 `yaml:"gross_loss"`
	NetProfit   float64 `yaml:"net_profit"`

	OpenTrades   int     `yaml:"open_trades"`
	ClosedTrades int     `yaml:"closed_trades"`
	Winners      int     `yaml:"winning_trades"`
	Losers       int     `yaml:"losing_trades"`
	WinRate      float64 `yaml:"win_rate"`

	LargestWinner float64 `yaml:"largest_winner"`
	LargestLoser  float64 `yaml:"largest_loser"`
	AvgSizeWinner float64 `yaml:"avg_size_winner"`
	AvgSizeLoser  float64 `yaml:"avg_size_loser"`

	AvgRWinner float64 `yaml:"avg_r_winner"`
	AvgRLoser  float64 `yaml:"avg_r_loser"`
	AvgR       float64 `yaml:"avg_r"`

	Expectancy     float64 `yaml:"expectancy"`
	ExpectedReturn float64 `yaml:"expected_return"`
	Sharpe         float64 `yaml:"sharpe"`
	Sortino        float64 `yaml:"sortino"`

	AvgHold        time.Duration `yaml:"avg_hold"`
	AvgHoldWinners time.Duration `yaml:"avg_hold_winners"`
	AvgHoldLosers  time.Duration `yaml:"avg_hold_losers"`
}

// StrategySummary is a per-(strategy, symbol, timeframe) result row.
type StrategySummary struct {
	Strategy   string    `yaml:"strategy"`
	Symbol     string    `yaml:"symbol"`
	Timeframe  Timeframe `yaml:"timeframe"`
	AssetClass string    `yaml:"asset_class"`

	Trades  int     `yaml:"trades"`
	Winners int     `yaml:"winning_trades"`
	Losers  int     `yaml:"losing_trades"`
	WinRate float64 `yaml:"win_rate"`

	NetPnL        float64 `yaml:"net_pnl"`
	LargestWinner float64 `yaml:"largest_winner"`
	LargestLoser  float64 `yaml:"largest_loser"`
	AvgSizeWinner float64 `yaml:"avg_size_winner"`
	AvgSizeLoser  float64 `yaml:"avg_size_loser"`

	AvgR           float64 `yaml:"avg_r"`
	Expectancy     float64 `yaml:"expectancy"`
	ExpectedReturn float64 `yaml:"expected_return"`
	Sharpe         float64 `yaml:"sharpe"`
	Sortino        float64 `yaml:"sortino"`

	AvgHold        time.Duration `yaml:"avg_hold"`
	AvgHoldWinners time.Duration `yaml:"avg_hold_winners"`
	AvgHoldLosers  time.Duration `yaml:"avg_hold_losers"`
}

// RunResult bundles everything a persistence collaborator needs: the full
// trade log plus the portfolio and per-group summary rows.
type RunResult struct {
	Portfolio PortfolioSummary  `yaml:"portfolio"`
	Groups    []StrategySummary `yaml:"groups"`
	Trades    []TradeRecord     `yaml:"-"`
}

// WriteSummary writes the portfolio and group summaries to a YAML file.
func WriteSummary(path string, result RunResult) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to marshal summary", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to write summary file", err)
	}

	return nil
}
