// Package metrics turns a finished run's trade log into portfolio and
// per-group summary rows in a single pass.
package metrics

import (
	"math"
	"time"

	"github.com/quantarc/portsim/internal/portfolio"
	"github.com/quantarc/portsim/internal/types"
)

type groupKey struct {
	strategy  string
	symbol    string
	timeframe types.Timeframe
}

// accumulator gathers the running sums for one trade population. Size sums
// track the notional deployed, split by outcome.
type accumulator struct {
	trades  int
	winners int
	losers  int

	netSum      float64
	winSizeSum  float64
	lossSizeSum float64

	largestWin  float64
	largestLoss float64

	rSum     float64
	rWinSum  float64
	rLossSum float64

	targetDeltaSum float64
	stopDeltaSum   float64

	holdSum     time.Duration
	holdWinSum  time.Duration
	holdLossSum time.Duration

	returns     []float64
	lossReturns []float64
}

// add folds one trade into the accumulator. normalized is the trade's pnl
// expressed as a fraction of the capital allocated to its asset class.
func (a *accumulator) add(trade types.TradeRecord, normalized float64) {
	a.trades++
	a.netSum += trade.NetPnL
	a.rSum += trade.RMultiple
	a.targetDeltaSum += trade.TargetDelta
	a.stopDeltaSum += trade.StopDelta

	hold := trade.HoldDuration()
	a.holdSum += hold
	a.returns = append(a.returns, normalized)

	if trade.Won() {
		a.winners++
		a.winSizeSum += trade.Size
		a.rWinSum += trade.RMultiple
		a.holdWinSum += hold
		a.largestWin = math.Max(a.largestWin, trade.Size)

		return
	}

	a.losers++
	a.lossSizeSum += trade.Size
	a.rLossSum += trade.RMultiple
	a.holdLossSum += hold
	a.largestLoss = math.Max(a.largestLoss, trade.Size)
	a.lossReturns = append(a.lossReturns, normalized)
}

func (a *accumulator) winRate() float64 {
	if a.trades == 0 {
		return 0
	}

	return float64(a.winners) / float64(a.trades)
}

func (a *accumulator) avgSizeWinner() float64 { return safeDiv(a.winSizeSum, a.winners) }
func (a *accumulator) avgSizeLoser() float64  { return safeDiv(a.lossSizeSum, a.losers) }
func (a *accumulator) avgR() float64          { return safeDiv(a.rSum, a.trades) }

// expectancy is the hit-rate-weighted blend of average winning and losing
// notional, per the avg-size definitions above.
func (a *accumulator) expectancy() float64 {
	pWin := a.winRate()

	return pWin*a.avgSizeWinner() - (1-pWin)*a.avgSizeLoser()
}

// expectedReturn is the probability-weighted blend of the average distance to
// target against the average distance to stop, in percent of entry.
func (a *accumulator) expectedReturn() float64 {
	pWin := a.winRate()
	avgTarget := safeDiv(a.targetDeltaSum, a.trades)
	avgStop := safeDiv(a.stopDeltaSum, a.trades)

	return pWin*avgTarget - (1-pWin)*avgStop
}

func (a *accumulator) sharpe(riskFreeRate float64) float64 {
	mean := meanOf(a.returns)
	stdev := stdevOf(a.returns, mean)

	if stdev == 0 {
		return 0
	}

	return (mean - riskFreeRate) / stdev
}

// sortino penalizes only the downside: the denominator is the dispersion of
// losing-trade returns.
func (a *accumulator) sortino(riskFreeRate float64) float64 {
	downside := stdevOf(a.lossReturns, meanOf(a.lossReturns))

	if downside == 0 {
		return 0
	}

	return (meanOf(a.returns) - riskFreeRate) / downside
}

func (a *accumulator) avgHold() time.Duration        { return divDuration(a.holdSum, a.trades) }
func (a *accumulator) avgHoldWinners() time.Duration { return divDuration(a.holdWinSum, a.winners) }
func (a *accumulator) avgHoldLosers() time.Duration  { return divDuration(a.holdLossSum, a.losers) }

// Aggregate walks the trade log once and produces the portfolio summary plus
// one group row per (strategy, symbol, timeframe) seen, in first-seen order.
func Aggregate(p *portfolio.Portfolio, runID string, start, finish time.Time, riskFreeRate float64) types.RunResult {
	config := p.Config()
	trades := p.TradeHistory()

	total := &accumulator{}
	groups := make(map[groupKey]*accumulator)
	groupClass := make(map[groupKey]string)

	var order []groupKey

	for _, trade := range trades {
		normalized := normalizedReturn(trade, config)

		total.add(trade, normalized)

		key := groupKey{strategy: trade.Strategy, symbol: trade.Symbol, timeframe: trade.Timeframe}

		group, ok := groups[key]
		if !ok {
			group = &accumulator{}
			groups[key] = group
			groupClass[key] = trade.AssetClass
			order = append(order, key)
		}

		group.add(trade, normalized)
	}

	summary := types.PortfolioSummary{
		RunID:    runID,
		Name:     config.Name,
		Currency: config.Currency,
		Start:    start,
		Finish:   finish,

		StartEquity:    config.StartEquity,
		RealizedEquity: p.CurrentEquity(),
		OpenEquity:     p.OpenEquity(),
		FinalEquity:    p.TrueEquity(),
		ROI:            roi(config.StartEquity, p.TrueEquity()),

		HighWatermark:     p.HighWatermark(),
		DrawdownWatermark: p.DrawdownWatermark(),
		MaxDrawdown:       maxDrawdown(p.HighWatermark(), p.DrawdownWatermark()),

		TotalFees:   p.TotalFees(),
		GrossProfit: p.GrossProfit(),
		GrossLoss:   p.GrossLoss(),
		NetProfit:   p.TrueEquity() - config.StartEquity,

		OpenTrades:   p.PositionCount(),
		ClosedTrades: p.TotalTrades(),
		Winners:      total.winners,
		Losers:       total.losers,
		WinRate:      total.winRate(),

		LargestWinner: total.largestWin,
		LargestLoser:  total.largestLoss,
		AvgSizeWinner: total.avgSizeWinner(),
		AvgSizeLoser:  total.avgSizeLoser(),

		AvgRWinner: safeDiv(total.rWinSum, total.winners),
		AvgRLoser:  safeDiv(total.rLossSum, total.losers),
		AvgR:       total.avgR(),

		Expectancy:     total.expectancy(),
		ExpectedReturn: total.expectedReturn(),
		Sharpe:         total.sharpe(riskFreeRate),
		Sortino:        total.sortino(riskFreeRate),

		AvgHold:        total.avgHold(),
		AvgHoldWinners: total.avgHoldWinners(),
		AvgHoldLosers:  total.avgHoldLosers(),
	}

	rows := make([]types.StrategySummary, 0, len(order))

	for _, key := range order {
		group := groups[key]

		rows = append(rows, types.StrategySummary{
			Strategy:   key.strategy,
			Symbol:     key.symbol,
			Timeframe:  key.timeframe,
			AssetClass: groupClass[key],

			Trades:  group.trades,
			Winners: group.winners,
			Losers:  group.losers,
			WinRate: group.winRate(),

			NetPnL:        group.netSum,
			LargestWinner: group.largestWin,
			LargestLoser:  group.largestLoss,
			AvgSizeWinner: group.avgSizeWinner(),
			AvgSizeLoser:  group.avgSizeLoser(),

			AvgR:           group.avgR(),
			Expectancy:     group.expectancy(),
			ExpectedReturn: group.expectedReturn(),
			Sharpe:         group.sharpe(riskFreeRate),
			Sortino:        group.sortino(riskFreeRate),

			AvgHold:        group.avgHold(),
			AvgHoldWinners: group.avgHoldWinners(),
			AvgHoldLosers:  group.avgHoldLosers(),
		})
	}

	return types.RunResult{Portfolio: summary, Groups: rows, Trades: trades}
}

// normalizedReturn divides the pnl by the capital slice the trade's asset
// class was allowed to deploy, so classes of different sizes compare fairly.
func normalizedReturn(trade types.TradeRecord, config portfolio.Config) float64 {
	allocated := config.StartEquity

	if class, ok := config.Allocations[trade.AssetClass]; ok && class.Allocation > 0 {
		allocated = config.StartEquity * class.Allocation / 100
	}

	if allocated == 0 {
		return 0
	}

	return trade.NetPnL / allocated
}

func roi(startEquity, finalEquity float64) float64 {
	if startEquity == 0 {
		return 0
	}

	return (finalEquity - startEquity) / startEquity * 100
}

func maxDrawdown(highWatermark, drawdownWatermark float64) float64 {
	if highWatermark == 0 {
		return 0
	}

	return (highWatermark - drawdownWatermark) / highWatermark * 100
}

func safeDiv(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}

	return sum / float64(n)
}

func divDuration(sum time.Duration, n int) time.Duration {
	if n == 0 {
		return 0
	}

	return sum / time.Duration(n)
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

func stdevOf(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += (v - mean) * (v - mean)
	}

	return math.Sqrt(sum / float64(len(values)))
}
