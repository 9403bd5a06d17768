package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/quantarc/portsim/internal/logger"
	"github.com/quantarc/portsim/internal/stats"
	"github.com/quantarc/portsim/internal/types"
	"github.com/quantarc/portsim/pkg/errors"
)

type PortfolioTestSuite struct {
	suite.Suite
	log *logger.Logger
}

func TestPortfolioTestSuite(t *testing.T) {
	suite.Run(t, new(PortfolioTestSuite))
}

func (suite *PortfolioTestSuite) SetupSuite() {
	log, err := logger.NewDevelopmentLogger()
	suite.Require().NoError(err)
	suite.log = log
}

func testConfig() Config {
	return Config{
		Name:                     "Test Portfolio",
		Currency:                 "USD",
		StartEquity:              1_000_000,
		Fees:                     FeeSchedule{Flat: 5, Percentage: 0.025},
		MaxSimultaneousPositions: 10,
		CorrelationThreshold:     1,
		DrawdownLimitPercentage:  15,
		UseKelly:                 true,
		MaxRiskPerTradePct:       2.5,
		DefaultTargetRMultiple:   2,
		Timeframes:               []types.Timeframe{types.Timeframe1d},
		Universe: []AssetClassUniverse{
			{Name: "EQUITIES", Symbols: []string{"GOOGL", "AMZN"}},
			{Name: "CRYPTO", Symbols: []string{"BTC-USD"}},
		},
		Allocations: map[string]ClassAllocation{
			"EQUITIES": {Allocation: 50, Strategies: map[string]float64{"EMACross50200": 100}},
			"CRYPTO":   {Allocation: 50, Strategies: map[string]float64{"EMACross50200": 100}},
		},
		Strategies: []string{"EMACross50200"},
	}
}

func buySignal() types.Signal {
	return types.Signal{
		Timestamp:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Direction:  types.DirectionBuy,
		Entry:      100,
		Stop:       95,
		Symbol:     "GOOGL",
		AssetClass: "EQUITIES",
		Strategy:   "EMACross50200",
		Timeframe:  types.Timeframe1d,
		Mode:       types.ExitModeSignal,
	}
}

func (suite *PortfolioTestSuite) newPortfolio(store stats.Store) *Portfolio {
	p, err := New(testConfig(), store, suite.log)
	suite.Require().NoError(err)

	return p
}

func (suite *PortfolioTestSuite) TestConfigValidation() {
	cfg := testConfig()
	cfg.Allocations["EQUITIES"] = ClassAllocation{Allocation: 30, Strategies: map[string]float64{"EMACross50200": 100}}

	_, err := New(cfg, nil, suite.log)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidAllocation))
}

func (suite *PortfolioTestSuite) TestConfigValidationStrategySplit() {
	cfg := testConfig()
	cfg.Allocations["CRYPTO"] = ClassAllocation{Allocation: 50, Strategies: map[string]float64{"EMACross50200": 60}}

	_, err := New(cfg, nil, suite.log)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidAllocation))
}

func (suite *PortfolioTestSuite) TestConfigValidationCorrelation() {
	cfg := testConfig()
	cfg.CorrelationThreshold = 1.5

	_, err := New(cfg, nil, suite.log)
	suite.Error(err)
}

func (suite *PortfolioTestSuite) TestCalculateFees() {
	p := suite.newPortfolio(nil)
	// flat 5 plus 0.025% of size
	suite.InDelta(5+0.00025*25000, p.CalculateFees(25000), 1e-9)
}

func (suite *PortfolioTestSuite) TestFixedFractionalSize() {
	p := suite.newPortfolio(nil)

	// deployable = 1,000,000 x (100-50)/100 x (100-0)/100 = 500,000
	// risked = 500,000/1000 x 2.5 = 1250; stop fraction = -0.05
	size := p.CalculatePositionSize(buySignal())
	suite.InDelta(25000, size, 1e-9)
}

func (suite *PortfolioTestSuite) TestKellySizeWhenHistoryPresent() {
	store := stats.NewMemoryStore()
	store.Set("EMACross50200", "GOOGL", types.Timeframe1d, stats.TradeStats{PWin: 0.6, AvgR: 2})
	p := suite.newPortfolio(store)

	// f_lost = 0.05, f_won = |100*2 - 100|/100 = 1
	// size = 0.6/0.05 - 0.4/1 = 11.6
	size := p.CalculatePositionSize(buySignal())
	suite.InDelta(11.6, size, 1e-9)
}

func (suite *PortfolioTestSuite) TestSizingSelectionByAvailability() {
	store := stats.NewMemoryStore()
	store.Set("EMACross50200", "BTC-USD", types.Timeframe1d, stats.TradeStats{PWin: 0.6, AvgR: 2})
	p := suite.newPortfolio(store)

	// GOOGL has no history: fixed fractional path
	suite.InDelta(25000, p.CalculatePositionSize(buySignal()), 1e-9)

	btc := buySignal()
	btc.Symbol = "BTC-USD"
	btc.AssetClass = "CRYPTO"
	suite.InDelta(11.6, p.CalculatePositionSize(btc), 1e-9)
}

func (suite *PortfolioTestSuite) TestKellyDisabledByFlag() {
	store := stats.NewMemoryStore()
	store.Set("EMACross50200", "GOOGL", types.Timeframe1d, stats.TradeStats{PWin: 0.6, AvgR: 2})

	cfg := testConfig()
	cfg.UseKelly = false
	p, err := New(cfg, store, suite.log)
	suite.Require().NoError(err)

	suite.InDelta(25000, p.CalculatePositionSize(buySignal()), 1e-9)
}

func (suite *PortfolioTestSuite) TestOpenConsumesFullAllocationSlice() {
	p := suite.newPortfolio(nil)

	suite.Equal(0.0, p.AllocationInUse("EQUITIES", "EMACross50200"))

	p.OpenPosition(buySignal())

	suite.Equal(1, p.PositionCount())
	suite.Equal(100.0, p.AllocationInUse("EQUITIES", "EMACross50200"))
	suite.Len(p.Transactions("GOOGL", "EMACross50200"), 1)

	exit := buySignal()
	exit.Direction = types.DirectionSell
	exit.Entry = 110
	p.ClosePosition(exit, types.ExitModeSignal)

	suite.Equal(0, p.PositionCount())
	suite.Equal(0.0, p.AllocationInUse("EQUITIES", "EMACross50200"))
	suite.Len(p.Transactions("GOOGL", "EMACross50200"), 2)
}

func (suite *PortfolioTestSuite) TestDegenerateSignalIsDiscarded() {
	p := suite.newPortfolio(nil)

	sig := buySignal()
	sig.Stop = sig.Entry
	p.OpenPosition(sig)

	suite.Equal(0, p.PositionCount())
	suite.Equal(0.0, p.AllocationInUse("EQUITIES", "EMACross50200"))
	suite.Empty(p.Transactions("GOOGL", "EMACross50200"))
}

func (suite *PortfolioTestSuite) TestWinningTradePnL() {
	p := suite.newPortfolio(nil)
	p.OpenPosition(buySignal())

	// size 25000, fee 11.25
	exit := buySignal()
	exit.Direction = types.DirectionSell
	exit.Entry = 110
	p.ClosePosition(exit, types.ExitModeSignal)

	// delta 10%, gross 2500, fees 22.5, net 2477.5
	history := p.TradeHistory()
	suite.Require().Len(history, 1)
	trade := history[0]

	suite.InDelta(2477.5, trade.NetPnL, 1e-9)
	suite.InDelta(10, trade.Delta, 1e-9)
	suite.InDelta(22.5, trade.Fees, 1e-9)
	suite.Equal(types.DirectionBuy, trade.Side)
	suite.Equal(types.ExitModeSignal, trade.ExitMode)
	suite.InDelta(1_002_477.5, p.CurrentEquity(), 1e-9)
	suite.InDelta(1_002_477.5, p.HighWatermark(), 1e-9)
	suite.Equal(1, p.TotalWinners())

	// R = 10% move against a 5% stop distance
	suite.InDelta(2, trade.RMultiple, 1e-9)
	suite.InDelta(10, trade.TargetDelta, 1e-9)
}

func (suite *PortfolioTestSuite) TestLosingTradeNotFeeAdjusted() {
	p := suite.newPortfolio(nil)
	p.OpenPosition(buySignal())

	exit := buySignal()
	exit.Direction = types.DirectionSell
	exit.Entry = 95
	p.ClosePosition(exit, types.ExitModeSignal)

	history := p.TradeHistory()
	suite.Require().Len(history, 1)
	trade := history[0]

	// loss charged at full gross: 25000/100 * 5 = 1250, no fee offset
	suite.InDelta(-1250, trade.NetPnL, 1e-9)
	suite.InDelta(22.5, trade.Fees, 1e-9)
	suite.InDelta(998_750, p.CurrentEquity(), 1e-9)
	suite.InDelta(998_750, p.DrawdownWatermark(), 1e-9)
	suite.Equal(1, p.TotalLosers())
	// fees still accumulate portfolio-wide
	suite.InDelta(22.5, p.TotalFees(), 1e-9)

	suite.InDelta(-1, trade.RMultiple, 1e-9)
	// no targets: default R multiple of the stop delta
	suite.InDelta(10, trade.TargetDelta, 1e-9)
}

func (suite *PortfolioTestSuite) TestFavorableMoveSmallerThanFeesIsALoss() {
	p := suite.newPortfolio(nil)
	p.OpenPosition(buySignal())

	// exit above entry, but gross 2.5 never covers the 22.5 round-trip fees
	exit := buySignal()
	exit.Direction = types.DirectionSell
	exit.Entry = 100.01
	p.ClosePosition(exit, types.ExitModeSignal)

	history := p.TradeHistory()
	suite.Require().Len(history, 1)
	trade := history[0]

	suite.InDelta(-20, trade.NetPnL, 1e-9)
	suite.False(trade.Won())
	suite.Equal(0, p.TotalWinners())
	suite.Equal(1, p.TotalLosers())
	suite.InDelta(2.5, p.GrossLoss(), 1e-9)
	suite.InDelta(0, p.GrossProfit(), 1e-9)
	suite.InDelta(999_980, p.CurrentEquity(), 1e-9)
	suite.Less(trade.RMultiple, 0.0)
}

func (suite *PortfolioTestSuite) TestSellSidePnLSigns() {
	p := suite.newPortfolio(nil)

	sell := buySignal()
	sell.Direction = types.DirectionSell
	sell.Stop = 105
	p.OpenPosition(sell)

	exit := buySignal()
	exit.Direction = types.DirectionBuy
	exit.Entry = 90
	p.ClosePosition(exit, types.ExitModeSignal)

	history := p.TradeHistory()
	suite.Require().Len(history, 1)
	suite.True(history[0].NetPnL > 0)
	suite.Equal(types.DirectionSell, history[0].Side)
}

func (suite *PortfolioTestSuite) TestStopTriggerClosesBuyPosition() {
	p := suite.newPortfolio(nil)
	p.OpenPosition(buySignal())

	bar := types.Bar{
		Timestamp: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Open:      98, High: 99, Low: 94, Close: 96,
	}
	result := p.UpdatePrice("GOOGL", bar, "EMACross50200")
	suite.True(result.IsNone())

	suite.Equal(0, p.PositionCount())

	history := p.TradeHistory()
	suite.Require().Len(history, 1)
	suite.Equal(types.ExitModeStop, history[0].ExitMode)
	// stop assumed filled at trigger price
	suite.InDelta(95, history[0].Exit, 1e-9)
	suite.InDelta(-1250, history[0].NetPnL, 1e-9)
}

func (suite *PortfolioTestSuite) TestStopNotTouchedIsNoOp() {
	p := suite.newPortfolio(nil)
	p.OpenPosition(buySignal())

	bar := types.Bar{High: 102, Low: 96, Close: 101}
	p.UpdatePrice("GOOGL", bar, "EMACross50200")

	suite.Equal(1, p.PositionCount())
	suite.Empty(p.TradeHistory())
}

func (suite *PortfolioTestSuite) TestUpdatePriceWithoutPosition() {
	p := suite.newPortfolio(nil)

	bar := types.Bar{High: 102, Low: 96}
	suite.True(p.UpdatePrice("GOOGL", bar, "EMACross50200").IsNone())
	suite.Equal(0, p.PositionCount())
}

func (suite *PortfolioTestSuite) TestWithinLimitsMaxPositions() {
	cfg := testConfig()
	cfg.MaxSimultaneousPositions = 2
	p, err := New(cfg, nil, suite.log)
	suite.Require().NoError(err)

	suite.True(p.WithinLimits(buySignal()))

	// one open position: count+1 reaches the cap, regardless of headroom on
	// other slices
	p.OpenPosition(buySignal())

	other := buySignal()
	other.Symbol = "BTC-USD"
	other.AssetClass = "CRYPTO"
	suite.False(p.WithinLimits(other))
}

func (suite *PortfolioTestSuite) TestWithinLimitsAllocationHeadroom() {
	p := suite.newPortfolio(nil)
	p.OpenPosition(buySignal())

	// same slice fully in use
	amzn := buySignal()
	amzn.Symbol = "AMZN"
	suite.False(p.WithinLimits(amzn))

	// a different class still has headroom
	btc := buySignal()
	btc.Symbol = "BTC-USD"
	btc.AssetClass = "CRYPTO"
	suite.True(p.WithinLimits(btc))
}

func (suite *PortfolioTestSuite) TestDrawdownHaltLatches() {
	p := suite.newPortfolio(nil)

	// force a 25% drawdown from the high-water mark
	p.highWatermark = 1_000_000
	p.currentEquity = 800_000

	suite.False(p.WithinLimits(buySignal()))
	suite.True(p.Halted())

	// recovery does not unlatch
	p.currentEquity = 1_000_000
	suite.False(p.WithinLimits(buySignal()))
}

func (suite *PortfolioTestSuite) TestMarkOpenPosition() {
	p := suite.newPortfolio(nil)
	p.OpenPosition(buySignal())

	ts := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	p.MarkOpenPosition("GOOGL", "EMACross50200", 104, ts)

	// delta 4%, gross 1000, entry fee only: net 988.75
	suite.InDelta(988.75, p.OpenEquity(), 1e-9)
	suite.InDelta(1_000_988.75, p.TrueEquity(), 1e-9)

	// position remains open but is in the trade log for metrics
	suite.Equal(1, p.PositionCount())
	history := p.TradeHistory()
	suite.Require().Len(history, 1)
	suite.Equal(types.ExitModeSignal, history[0].ExitMode)
	suite.InDelta(988.75, history[0].NetPnL, 1e-9)

	pos := p.Position("GOOGL", "EMACross50200")
	suite.Require().True(pos.IsSome())
	suite.InDelta(988.75, pos.Unwrap().UnrealizedPnL, 1e-9)
}

func (suite *PortfolioTestSuite) TestMarkOpenPositionNoPosition() {
	p := suite.newPortfolio(nil)
	p.MarkOpenPosition("GOOGL", "EMACross50200", 104, time.Now())
	suite.Empty(p.TradeHistory())
}
