package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	baseengine "github.com/quantarc/portsim/internal/backtest/engine"
	"github.com/quantarc/portsim/internal/strategy"
	"github.com/quantarc/portsim/internal/types"
	"github.com/quantarc/portsim/pkg/errors"
)

type BacktestEngineV1TestSuite struct {
	suite.Suite
	dataDir    string
	resultsDir string
}

func TestBacktestEngineV1TestSuite(t *testing.T) {
	suite.Run(t, new(BacktestEngineV1TestSuite))
}

func (suite *BacktestEngineV1TestSuite) SetupTest() {
	suite.dataDir = suite.T().TempDir()
	suite.resultsDir = filepath.Join(suite.T().TempDir(), "results")
}

// closes that force exactly one cross up at index 5 and one cross down at
// index 8 for a 2/4 EMA pair
var testCloses = []float64{20, 18, 16, 14, 12, 30, 30, 30, 12, 10, 10, 10}

func (suite *BacktestEngineV1TestSuite) writeData(symbols ...string) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, symbol := range symbols {
		content := "timestamp,open,high,low,close,volume\n"

		for i, close := range testCloses {
			day := start.AddDate(0, 0, i)
			content += fmt.Sprintf("%s,%g,%g,%g,%g,1000\n",
				day.Format("2006-01-02"), close, close+1, close-1, close)
		}

		path := filepath.Join(suite.dataDir, fmt.Sprintf("%s_1d_test.csv", symbol))
		suite.Require().NoError(os.WriteFile(path, []byte(content), 0644))
	}
}

// writeFlatData writes a series with a constant close, which can never
// produce a cross under strict-inequality detection.
func (suite *BacktestEngineV1TestSuite) writeFlatData(symbol string) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	content := "timestamp,open,high,low,close,volume\n"

	for i := range testCloses {
		day := start.AddDate(0, 0, i)
		content += fmt.Sprintf("%s,100,101,99,100,1000\n", day.Format("2006-01-02"))
	}

	path := filepath.Join(suite.dataDir, fmt.Sprintf("%s_1d_test.csv", symbol))
	suite.Require().NoError(os.WriteFile(path, []byte(content), 0644))
}

func (suite *BacktestEngineV1TestSuite) newEngine() baseengine.Engine {
	e := NewBacktestEngineV1()
	suite.Require().NoError(e.Initialize(sampleConfigYAML))
	suite.Require().NoError(e.SetDataPath(filepath.Join(suite.dataDir, "*.csv")))
	suite.Require().NoError(e.SetResultsFolder(suite.resultsDir))
	suite.Require().NoError(e.LoadStrategy(strategy.NewEMACross(2, 4, types.Timeframe1d)))

	return e
}

func (suite *BacktestEngineV1TestSuite) TestEndToEndRun() {
	suite.writeData("GOOGL", "BTC-USD")
	e := suite.newEngine()

	result, err := e.Run(context.Background(), optional.None[baseengine.OnProcessDataCallback]())
	suite.Require().NoError(err)

	// each symbol: one long at 30 (stop 27, size 12500), signal-closed at 12
	summary := result.Portfolio
	suite.Equal(2, summary.ClosedTrades)
	suite.Equal(0, summary.OpenTrades)
	suite.Equal(0, summary.Winners)
	suite.Equal(2, summary.Losers)
	suite.InDelta(985_000, summary.FinalEquity, 1e-9)
	suite.InDelta(32.5, summary.TotalFees, 1e-9)

	suite.Require().Len(result.Trades, 2)

	for _, trade := range result.Trades {
		suite.Equal(types.DirectionBuy, trade.Side)
		suite.Equal(types.ExitModeSignal, trade.ExitMode)
		suite.InDelta(30, trade.Entry, 1e-9)
		suite.InDelta(12, trade.Exit, 1e-9)
		suite.InDelta(-7500, trade.NetPnL, 1e-9)
		suite.InDelta(-6, trade.RMultiple, 1e-9)
	}

	suite.Require().Len(result.Groups, 2)
	suite.Equal("EMACross24", result.Groups[0].Strategy)

	if v1, ok := e.(*BacktestEngineV1); suite.True(ok) {
		suite.Equal(RunStateRunning, v1.State())
	}

	for _, name := range []string{"trades.parquet", "portfolio.parquet", "strategies.parquet", "summary.yaml"} {
		_, statErr := os.Stat(filepath.Join(suite.resultsDir, name))
		suite.NoError(statErr, name)
	}
}

func (suite *BacktestEngineV1TestSuite) TestSingleTradingAssetScenario() {
	suite.writeData("GOOGL")
	suite.writeFlatData("BTC-USD")
	e := suite.newEngine()

	result, err := e.Run(context.Background(), optional.None[baseengine.OnProcessDataCallback]())
	suite.Require().NoError(err)

	// one cross pair on GOOGL, nothing on the flat series: exactly one
	// open and one close, with pnl computable by hand
	suite.Require().Len(result.Trades, 1)
	trade := result.Trades[0]

	suite.Equal("GOOGL", trade.Symbol)
	suite.InDelta(30, trade.Entry, 1e-9)
	suite.InDelta(12, trade.Exit, 1e-9)
	suite.InDelta(12500, trade.Size, 1e-9)
	suite.InDelta(-7500, trade.NetPnL, 1e-9)

	suite.Equal(1, result.Portfolio.ClosedTrades)
	suite.InDelta(992_500, result.Portfolio.FinalEquity, 1e-9)
}

func (suite *BacktestEngineV1TestSuite) TestRunsAreDeterministic() {
	suite.writeData("GOOGL", "BTC-USD")

	run := func() types.RunResult {
		e := suite.newEngine()
		result, err := e.Run(context.Background(), optional.None[baseengine.OnProcessDataCallback]())
		suite.Require().NoError(err)

		return result
	}

	first := run()
	second := run()

	// trade ids are content-derived, so the full logs must match
	suite.Equal(first.Trades, second.Trades)
	suite.Equal(first.Groups, second.Groups)
	suite.Equal(first.Portfolio.FinalEquity, second.Portfolio.FinalEquity)
}

func (suite *BacktestEngineV1TestSuite) TestProcessDataCallback() {
	suite.writeData("GOOGL", "BTC-USD")
	e := suite.newEngine()

	var calls, lastTotal int

	callback := baseengine.OnProcessDataCallback(func(current, total int) {
		calls++
		lastTotal = total
	})

	_, err := e.Run(context.Background(), optional.Some(callback))
	suite.Require().NoError(err)

	// 12 bars simulate indexes 0..10
	suite.Equal(11, calls)
	suite.Equal(11, lastTotal)
}

func (suite *BacktestEngineV1TestSuite) TestRunHonorsCancellation() {
	suite.writeData("GOOGL", "BTC-USD")
	e := suite.newEngine()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, optional.None[baseengine.OnProcessDataCallback]())
	suite.Error(err)
}

func (suite *BacktestEngineV1TestSuite) TestRunRequiresStrategies() {
	suite.writeData("GOOGL", "BTC-USD")

	e := NewBacktestEngineV1()
	suite.Require().NoError(e.Initialize(sampleConfigYAML))
	suite.Require().NoError(e.SetDataPath(filepath.Join(suite.dataDir, "*.csv")))
	suite.Require().NoError(e.SetResultsFolder(suite.resultsDir))

	_, err := e.Run(context.Background(), optional.None[baseengine.OnProcessDataCallback]())
	suite.True(errors.HasCode(err, errors.ErrCodeBacktestNoStrategies))
}

func (suite *BacktestEngineV1TestSuite) TestRunRequiresDataForEverySymbol() {
	suite.writeData("GOOGL")
	e := suite.newEngine()

	_, err := e.Run(context.Background(), optional.None[baseengine.OnProcessDataCallback]())
	suite.True(errors.HasCode(err, errors.ErrCodeDataNotFound))
}

func (suite *BacktestEngineV1TestSuite) TestLoadStrategyRejectsTimeframeMismatch() {
	e := NewBacktestEngineV1()
	suite.Require().NoError(e.Initialize(sampleConfigYAML))

	err := e.LoadStrategy(strategy.NewEMACross(2, 4, types.Timeframe4h))
	suite.True(errors.HasCode(err, errors.ErrCodeBacktestConfigError))
}

func (suite *BacktestEngineV1TestSuite) TestMethodsRequireInitialize() {
	e := NewBacktestEngineV1()

	err := e.SetDataPath("*.csv")
	suite.True(errors.HasCode(err, errors.ErrCodeBacktestNotPrepared))
}

func (suite *BacktestEngineV1TestSuite) TestGetConfigSchema() {
	e := NewBacktestEngineV1()
	suite.Require().NoError(e.Initialize(sampleConfigYAML))

	schema, err := e.GetConfigSchema()
	suite.Require().NoError(err)
	suite.Contains(schema, "risk_free_rate")
}
