// Package portfolio implements the position and allocation ledger: open
// positions, per-class/per-strategy capital-in-use, realized and unrealized
// equity, and the risk and sizing policy that admits trades.
//
// The ledger is exclusively owned and mutated by the engine's single control
// thread; it is not safe for concurrent use and does not try to be.
package portfolio

import (
	"math"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/quantarc/portsim/internal/logger"
	"github.com/quantarc/portsim/internal/stats"
	"github.com/quantarc/portsim/internal/types"
)

// PositionKey identifies an open position: one strategy holds at most one
// position per symbol.
type PositionKey struct {
	Symbol   string
	Strategy string
}

type strategyAllocation struct {
	allocation float64
	inUse      float64
}

type classAllocation struct {
	allocation float64
	strategies map[string]*strategyAllocation
}

// Portfolio is the ledger. All mutation goes through its methods.
type Portfolio struct {
	config Config
	log    *logger.Logger
	stats  stats.Store

	currentEquity float64
	openEquity    float64

	highWatermark     float64
	drawdownWatermark float64
	halted            bool

	positions     map[PositionKey]*types.Position
	positionCount int

	allocations  map[string]*classAllocation
	transactions map[PositionKey][]types.Transaction
	tradeHistory []types.TradeRecord

	totalTrades  int
	totalWinners int
	totalLosers  int
	totalFees    float64
	grossProfit  float64
	grossLoss    float64
}

// New validates the configuration and builds a ledger. A nil stats store is
// replaced with an empty one, which makes every sizing decision
// fixed-fractional.
func New(config Config, statsStore stats.Store, log *logger.Logger) (*Portfolio, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if statsStore == nil {
		statsStore = stats.NewMemoryStore()
	}

	allocations := make(map[string]*classAllocation, len(config.Allocations))

	for className, class := range config.Allocations {
		strategies := make(map[string]*strategyAllocation, len(class.Strategies))
		for name, pct := range class.Strategies {
			strategies[name] = &strategyAllocation{allocation: pct, inUse: 0}
		}

		allocations[className] = &classAllocation{
			allocation: class.Allocation,
			strategies: strategies,
		}
	}

	return &Portfolio{
		config:            config,
		log:               log,
		stats:             statsStore,
		currentEquity:     config.StartEquity,
		openEquity:        0,
		highWatermark:     config.StartEquity,
		drawdownWatermark: config.StartEquity,
		positions:         make(map[PositionKey]*types.Position),
		allocations:       allocations,
		transactions:      make(map[PositionKey][]types.Transaction),
	}, nil
}

// Config returns the portfolio configuration.
func (p *Portfolio) Config() Config {
	return p.config
}

// CalculateFees returns the simulated transaction cost for a position size.
func (p *Portfolio) CalculateFees(size float64) float64 {
	return p.config.Fees.Flat + (p.config.Fees.Percentage/100)*size
}

// CalculatePositionSize sizes a prospective trade in dollar notional.
//
// Two mutually exclusive algorithms, selected by data availability: when the
// portfolio uses Kelly sizing and the stats store has history for the
// (strategy, symbol, timeframe) triple, the Kelly fraction is used; a lookup
// miss is the designed fallback to fixed-fractional risk, not an error.
func (p *Portfolio) CalculatePositionSize(sig types.Signal) float64 {
	class, strat, ok := p.allocationFor(sig.AssetClass, sig.Strategy)
	if !ok {
		return 0
	}

	allocClassRemaining := 100 - class.allocation
	allocStrategyRemaining := 100 - strat.inUse
	deployable := p.currentEquity / (100 / allocClassRemaining) / (100 / allocStrategyRemaining)

	if p.config.UseKelly {
		if hit := p.stats.Lookup(sig.Strategy, sig.Symbol, sig.Timeframe); hit.IsSome() {
			return kellySize(sig, hit.Unwrap())
		}
	}

	riskedAmount := (deployable / 1000) * p.config.MaxRiskPerTradePct
	stopFraction := (sig.Stop - sig.Entry) / sig.Entry

	return math.Abs(math.Floor(riskedAmount / stopFraction))
}

// kellySize computes the Kelly-fraction size from recorded win probability
// and average R-multiple. The target used for the win fraction is the entry
// scaled by the average R, negated for shorts.
func kellySize(sig types.Signal, history stats.TradeStats) float64 {
	rAdjustedTarget := sig.Entry * history.AvgR
	if sig.Direction == types.DirectionSell {
		rAdjustedTarget = sig.Entry * -history.AvgR
	}

	pWin := history.PWin
	pLose := 1 - pWin
	fLost := math.Abs((sig.Stop - sig.Entry) / sig.Entry)
	fWon := math.Abs((rAdjustedTarget - sig.Entry) / sig.Entry)

	return pWin/fLost - pLose/fWon
}

// WithinLimits reports whether a signal is admissible under portfolio rules:
// the strategy's allocation slice has headroom, one more position stays under
// the simultaneous-position cap, and the portfolio has not halted on
// drawdown. The correlation threshold is a declared rule with no check yet;
// it is validated at construction and consulted nowhere else.
func (p *Portfolio) WithinLimits(sig types.Signal) bool {
	if p.halted {
		return false
	}

	_, strat, ok := p.allocationFor(sig.AssetClass, sig.Strategy)
	if !ok {
		return false
	}

	shouldTrade := false

	if 100-strat.inUse > 0 {
		shouldTrade = true
	}

	if p.positionCount+1 >= p.config.MaxSimultaneousPositions {
		shouldTrade = false
	}

	if p.drawdownBreached() {
		shouldTrade = false
		p.halted = true

		p.log.Warn("drawdown limit breached, no further positions will be opened",
			zap.Float64("high_watermark", p.highWatermark),
			zap.Float64("current_equity", p.currentEquity),
			zap.Float64("limit_pct", p.config.DrawdownLimitPercentage),
		)
	}

	return shouldTrade
}

func (p *Portfolio) drawdownBreached() bool {
	if p.currentEquity <= 0 {
		return true
	}

	drawdown := (p.highWatermark - p.currentEquity) / p.currentEquity * 100

	return drawdown >= p.config.DrawdownLimitPercentage
}

// OpenPosition opens a position for the signal. Degenerate signals where
// entry equals stop are discarded without touching any state. Opening
// consumes the strategy's entire allocation slice for the class, not a
// per-trade proportional amount. Equity is not altered until close.
func (p *Portfolio) OpenPosition(sig types.Signal) {
	if sig.Degenerate() {
		p.log.Debug("discarding degenerate signal",
			zap.String("symbol", sig.Symbol),
			zap.String("strategy", sig.Strategy),
			zap.Float64("entry", sig.Entry),
		)

		return
	}

	_, strat, ok := p.allocationFor(sig.AssetClass, sig.Strategy)
	if !ok {
		p.log.Warn("signal references unconfigured allocation",
			zap.String("asset_class", sig.AssetClass),
			zap.String("strategy", sig.Strategy),
		)

		return
	}

	size := p.CalculatePositionSize(sig)
	entryFee := p.CalculateFees(size)

	key := PositionKey{Symbol: sig.Symbol, Strategy: sig.Strategy}
	p.positions[key] = &types.Position{
		Symbol:     sig.Symbol,
		AssetClass: sig.AssetClass,
		Strategy:   sig.Strategy,
		Timeframe:  sig.Timeframe,
		Direction:  sig.Direction,
		Entry:      sig.Entry,
		Stop:       sig.Stop,
		Targets:    sig.Targets,
		Size:       size,
		EntryFee:   entryFee,
		OpenedAt:   sig.Timestamp,
	}
	p.positionCount++

	p.transactions[key] = append(p.transactions[key], types.Transaction{
		Qty:       size,
		Price:     sig.Entry,
		Direction: sig.Direction,
		Fees:      entryFee,
		Timestamp: sig.Timestamp,
	})

	strat.inUse = strat.allocation

	p.log.Debug("opened position",
		zap.String("symbol", sig.Symbol),
		zap.String("strategy", sig.Strategy),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("size", size),
		zap.Float64("entry", sig.Entry),
		zap.Float64("stop", sig.Stop),
	)
}

// ClosePosition closes the position addressed by the signal, realizing pnl
// and releasing the allocation slice. The signal's entry price is the exit
// fill. Closing a position that does not exist is a no-op.
func (p *Portfolio) ClosePosition(sig types.Signal, mode types.ExitMode) {
	key := PositionKey{Symbol: sig.Symbol, Strategy: sig.Strategy}

	pos, exists := p.positions[key]
	if !exists {
		p.log.Warn("close requested for unknown position",
			zap.String("symbol", sig.Symbol),
			zap.String("strategy", sig.Strategy),
		)

		return
	}

	p.transactions[key] = append(p.transactions[key], types.Transaction{
		Qty:       pos.Size,
		Price:     sig.Entry,
		Direction: sig.Direction,
		Fees:      p.CalculateFees(pos.Size),
		Timestamp: sig.Timestamp,
	})

	if _, strat, ok := p.allocationFor(sig.AssetClass, sig.Strategy); ok {
		strat.inUse -= strat.allocation
	}

	p.realizePnL(pos, sig.Entry, sig.Timestamp, mode)

	delete(p.positions, key)
	p.positionCount--
	p.totalTrades++

	p.log.Debug("closed position",
		zap.String("symbol", sig.Symbol),
		zap.String("strategy", sig.Strategy),
		zap.String("mode", string(mode)),
		zap.Float64("exit", sig.Entry),
	)
}

// UpdatePrice performs stop-loss monitoring for one (symbol, strategy)
// against a bar. A touched stop synthesizes a closing signal and closes the
// position directly: an involuntary exit never routes through the generic
// signal-processing path. No open position is a no-op.
//
// The return value carries a signal only for resting-entry-order scenarios,
// which no current strategy uses; stop exits return None.
func (p *Portfolio) UpdatePrice(symbol string, bar types.Bar, strategyName string) optional.Option[types.Signal] {
	pos, exists := p.positions[PositionKey{Symbol: symbol, Strategy: strategyName}]
	if !exists {
		return optional.None[types.Signal]()
	}

	stopExit := types.Signal{
		Timestamp:  bar.Timestamp,
		Entry:      pos.Stop,
		Symbol:     symbol,
		AssetClass: pos.AssetClass,
		Strategy:   strategyName,
		Timeframe:  pos.Timeframe,
		Mode:       types.ExitModeStop,
	}

	switch pos.Direction {
	case types.DirectionBuy:
		if bar.Low <= pos.Stop {
			stopExit.Direction = types.DirectionSell
			p.ClosePosition(stopExit, types.ExitModeStop)
		}
	case types.DirectionSell:
		if bar.High >= pos.Stop {
			stopExit.Direction = types.DirectionBuy
			p.ClosePosition(stopExit, types.ExitModeStop)
		}
	}

	return optional.None[types.Signal]()
}

// Position returns the open position for (symbol, strategy), if any.
func (p *Portfolio) Position(symbol, strategyName string) optional.Option[types.Position] {
	pos, exists := p.positions[PositionKey{Symbol: symbol, Strategy: strategyName}]
	if !exists {
		return optional.None[types.Position]()
	}

	return optional.Some(*pos)
}

// AllocationInUse returns the in-use percentage for a (class, strategy) slice.
func (p *Portfolio) AllocationInUse(assetClass, strategyName string) float64 {
	_, strat, ok := p.allocationFor(assetClass, strategyName)
	if !ok {
		return 0
	}

	return strat.inUse
}

// Transactions returns the fill history for a (symbol, strategy) pair.
func (p *Portfolio) Transactions(symbol, strategyName string) []types.Transaction {
	txs := p.transactions[PositionKey{Symbol: symbol, Strategy: strategyName}]
	out := make([]types.Transaction, len(txs))
	copy(out, txs)

	return out
}

// TradeHistory returns a copy of the append-only trade log.
func (p *Portfolio) TradeHistory() []types.TradeRecord {
	out := make([]types.TradeRecord, len(p.tradeHistory))
	copy(out, p.tradeHistory)

	return out
}

// PositionCount returns the number of open positions.
func (p *Portfolio) PositionCount() int { return p.positionCount }

// TotalTrades returns the number of closed trades.
func (p *Portfolio) TotalTrades() int { return p.totalTrades }

// TotalWinners returns the number of winning realizations.
func (p *Portfolio) TotalWinners() int { return p.totalWinners }

// TotalLosers returns the number of losing realizations.
func (p *Portfolio) TotalLosers() int { return p.totalLosers }

// TotalFees returns the cumulative fees charged.
func (p *Portfolio) TotalFees() float64 { return p.totalFees }

// GrossProfit returns cumulative gross profit before fees.
func (p *Portfolio) GrossProfit() float64 { return p.grossProfit }

// GrossLoss returns cumulative gross loss before fees.
func (p *Portfolio) GrossLoss() float64 { return p.grossLoss }

// CurrentEquity returns realized equity.
func (p *Portfolio) CurrentEquity() float64 { return p.currentEquity }

// OpenEquity returns the marked unrealized equity.
func (p *Portfolio) OpenEquity() float64 { return p.openEquity }

// TrueEquity returns realized plus unrealized equity.
func (p *Portfolio) TrueEquity() float64 { return p.currentEquity + p.openEquity }

// HighWatermark returns the running equity maximum.
func (p *Portfolio) HighWatermark() float64 { return p.highWatermark }

// DrawdownWatermark returns the lowest equity reached.
func (p *Portfolio) DrawdownWatermark() float64 { return p.drawdownWatermark }

// Halted reports whether the drawdown limit has latched.
func (p *Portfolio) Halted() bool { return p.halted }

func (p *Portfolio) allocationFor(assetClass, strategyName string) (*classAllocation, *strategyAllocation, bool) {
	class, ok := p.allocations[assetClass]
	if !ok {
		return nil, nil, false
	}

	strat, ok := class.strategies[strategyName]
	if !ok {
		return nil, nil, false
	}

	return class, strat, true
}
