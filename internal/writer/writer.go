// Package writer persists finished run results to DuckDB and exports them as
// Parquet files alongside a YAML summary.
package writer

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/quantarc/portsim/internal/logger"
	"github.com/quantarc/portsim/internal/types"
	"github.com/quantarc/portsim/pkg/errors"
)

// ResultWriter stages run results in an in-memory DuckDB database and copies
// them out to Parquet on demand.
type ResultWriter struct {
	db  *sql.DB
	log *logger.Logger
	sq  squirrel.StatementBuilderType
}

func NewResultWriter(log *logger.Logger) (*ResultWriter, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to open database", err)
	}

	w := &ResultWriter{
		db:  db,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := w.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return w, nil
}

func (w *ResultWriter) initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			trade_id TEXT PRIMARY KEY,
			run_id TEXT,
			symbol TEXT,
			asset_class TEXT,
			strategy TEXT,
			timeframe TEXT,
			side TEXT,
			exit_mode TEXT,
			entry DOUBLE,
			exit DOUBLE,
			size DOUBLE,
			delta DOUBLE,
			stop_delta DOUBLE,
			target_delta DOUBLE,
			r_multiple DOUBLE,
			fees DOUBLE,
			net_pnl DOUBLE,
			opened_at TIMESTAMP,
			closed_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS portfolio_summaries (
			run_id TEXT PRIMARY KEY,
			name TEXT,
			currency TEXT,
			start_time TIMESTAMP,
			finish_time TIMESTAMP,
			start_equity DOUBLE,
			realized_equity DOUBLE,
			open_equity DOUBLE,
			final_equity DOUBLE,
			roi DOUBLE,
			high_watermark DOUBLE,
			drawdown_watermark DOUBLE,
			max_drawdown DOUBLE,
			total_fees DOUBLE,
			gross_profit DOUBLE,
			gross_loss DOUBLE,
			net_profit DOUBLE,
			open_trades INTEGER,
			closed_trades INTEGER,
			winning_trades INTEGER,
			losing_trades INTEGER,
			win_rate DOUBLE,
			largest_winner DOUBLE,
			largest_loser DOUBLE,
			avg_size_winner DOUBLE,
			avg_size_loser DOUBLE,
			avg_r DOUBLE,
			expectancy DOUBLE,
			expected_return DOUBLE,
			sharpe DOUBLE,
			sortino DOUBLE,
			avg_hold_seconds DOUBLE
		)`,
		`CREATE TABLE IF NOT EXISTS strategy_summaries (
			run_id TEXT,
			strategy TEXT,
			symbol TEXT,
			timeframe TEXT,
			asset_class TEXT,
			trades INTEGER,
			winning_trades INTEGER,
			losing_trades INTEGER,
			win_rate DOUBLE,
			net_pnl DOUBLE,
			largest_winner DOUBLE,
			largest_loser DOUBLE,
			avg_size_winner DOUBLE,
			avg_size_loser DOUBLE,
			avg_r DOUBLE,
			expectancy DOUBLE,
			expected_return DOUBLE,
			sharpe DOUBLE,
			sortino DOUBLE,
			avg_hold_seconds DOUBLE
		)`,
	}

	for _, statement := range statements {
		if _, err := w.db.Exec(statement); err != nil {
			return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to create result tables", err)
		}
	}

	return nil
}

// RecordRun inserts the trade log and both summary levels in one transaction.
func (w *ResultWriter) RecordRun(result types.RunResult) error {
	tx, err := w.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to begin transaction", err)
	}

	runID := result.Portfolio.RunID

	for _, trade := range result.Trades {
		insert := w.sq.
			Insert("trades").
			Columns(
				"trade_id", "run_id", "symbol", "asset_class", "strategy", "timeframe",
				"side", "exit_mode", "entry", "exit", "size", "delta", "stop_delta",
				"target_delta", "r_multiple", "fees", "net_pnl", "opened_at", "closed_at",
			).
			Values(
				trade.ID, runID, trade.Symbol, trade.AssetClass, trade.Strategy,
				string(trade.Timeframe), string(trade.Side), string(trade.ExitMode),
				trade.Entry, trade.Exit, trade.Size, trade.Delta, trade.StopDelta,
				trade.TargetDelta, trade.RMultiple, trade.Fees, trade.NetPnL,
				trade.OpenedAt, trade.ClosedAt,
			).
			RunWith(tx)

		if _, err := insert.Exec(); err != nil {
			tx.Rollback()

			return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to insert trade", err)
		}
	}

	summary := result.Portfolio
	portfolioInsert := w.sq.
		Insert("portfolio_summaries").
		Columns(
			"run_id", "name", "currency", "start_time", "finish_time",
			"start_equity", "realized_equity", "open_equity", "final_equity", "roi",
			"high_watermark", "drawdown_watermark", "max_drawdown",
			"total_fees", "gross_profit", "gross_loss", "net_profit",
			"open_trades", "closed_trades", "winning_trades", "losing_trades", "win_rate",
			"largest_winner", "largest_loser", "avg_size_winner", "avg_size_loser",
			"avg_r", "expectancy", "expected_return", "sharpe", "sortino",
			"avg_hold_seconds",
		).
		Values(
			summary.RunID, summary.Name, summary.Currency, summary.Start, summary.Finish,
			summary.StartEquity, summary.RealizedEquity, summary.OpenEquity, summary.FinalEquity, summary.ROI,
			summary.HighWatermark, summary.DrawdownWatermark, summary.MaxDrawdown,
			summary.TotalFees, summary.GrossProfit, summary.GrossLoss, summary.NetProfit,
			summary.OpenTrades, summary.ClosedTrades, summary.Winners, summary.Losers, summary.WinRate,
			summary.LargestWinner, summary.LargestLoser, summary.AvgSizeWinner, summary.AvgSizeLoser,
			summary.AvgR, summary.Expectancy, summary.ExpectedReturn, summary.Sharpe, summary.Sortino,
			summary.AvgHold.Seconds(),
		).
		RunWith(tx)

	if _, err := portfolioInsert.Exec(); err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to insert portfolio summary", err)
	}

	for _, group := range result.Groups {
		insert := w.sq.
			Insert("strategy_summaries").
			Columns(
				"run_id", "strategy", "symbol", "timeframe", "asset_class",
				"trades", "winning_trades", "losing_trades", "win_rate",
				"net_pnl", "largest_winner", "largest_loser", "avg_size_winner", "avg_size_loser",
				"avg_r", "expectancy", "expected_return", "sharpe", "sortino",
				"avg_hold_seconds",
			).
			Values(
				runID, group.Strategy, group.Symbol, string(group.Timeframe), group.AssetClass,
				group.Trades, group.Winners, group.Losers, group.WinRate,
				group.NetPnL, group.LargestWinner, group.LargestLoser, group.AvgSizeWinner, group.AvgSizeLoser,
				group.AvgR, group.Expectancy, group.ExpectedReturn, group.Sharpe, group.Sortino,
				group.AvgHold.Seconds(),
			).
			RunWith(tx)

		if _, err := insert.Exec(); err != nil {
			tx.Rollback()

			return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to insert strategy summary", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to commit results", err)
	}

	return nil
}

// Write exports the staged tables to Parquet files and the summaries to YAML
// in the given folder.
func (w *ResultWriter) Write(folder string, result types.RunResult) error {
	if err := os.MkdirAll(folder, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to create results folder", err)
	}

	// raw SQL because squirrel has no COPY support
	exports := map[string]string{
		"trades":              filepath.Join(folder, "trades.parquet"),
		"portfolio_summaries": filepath.Join(folder, "portfolio.parquet"),
		"strategy_summaries":  filepath.Join(folder, "strategies.parquet"),
	}

	for table, path := range exports {
		statement := fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET)`, table, path)
		if _, err := w.db.Exec(statement); err != nil {
			return errors.Wrapf(errors.ErrCodeResultWriteFailed, err, "failed to export %s", table)
		}
	}

	summaryPath := filepath.Join(folder, "summary.yaml")
	if err := types.WriteSummary(summaryPath, result); err != nil {
		return err
	}

	w.log.Info("run results written",
		zap.String("folder", folder),
		zap.Int("trades", len(result.Trades)),
	)

	return nil
}

// TradeCount reports how many trade rows are staged for a run.
func (w *ResultWriter) TradeCount(runID string) (int, error) {
	query := w.sq.
		Select("COUNT(*)").
		From("trades").
		Where(squirrel.Eq{"run_id": runID}).
		RunWith(w.db)

	var count int
	if err := query.QueryRow().Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to count trades", err)
	}

	return count, nil
}

func (w *ResultWriter) Close() error {
	return w.db.Close()
}
