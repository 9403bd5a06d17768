package portfolio

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantarc/portsim/internal/types"
)

// pnlBreakdown is the realized arithmetic for one exit fill.
type pnlBreakdown struct {
	delta float64
	gross float64
	net   float64
	won   bool
}

// computePnL derives the realized pnl for a position exiting at the given
// price. delta is the absolute entry-to-exit percentage move; gross is the
// unfee'd dollar move on the notional. A direction-agreeing exit nets gross
// minus fees; a disagreeing one is charged the full gross with no fee offset.
// The loss-side asymmetry is
// deliberate and must not be "fixed": fees are still accumulated into the
// portfolio's fee counter for both outcomes.
func computePnL(pos *types.Position, exit, fees float64) pnlBreakdown {
	entry := decimal.NewFromFloat(pos.Entry)
	exitDec := decimal.NewFromFloat(exit)
	size := decimal.NewFromFloat(pos.Size)
	hundred := decimal.NewFromInt(100)

	delta := entry.Sub(exitDec).Div(entry).Abs().Mul(hundred)
	gross := size.Div(hundred).Mul(delta).Abs()

	var agrees bool

	switch pos.Direction {
	case types.DirectionBuy:
		agrees = exit > pos.Entry
	case types.DirectionSell:
		agrees = exit < pos.Entry
	}

	grossF, _ := gross.Float64()
	deltaF, _ := delta.Float64()

	net := grossF - fees
	if !agrees {
		net = -grossF
	}

	// A winner is a trade whose net is positive, not merely one whose exit
	// moved the right way: a favorable move smaller than the round-trip fees
	// counts as a loss, matching the trade-log classification.
	won := net > 0

	return pnlBreakdown{
		delta: deltaF,
		gross: grossF,
		net:   net,
		won:   won,
	}
}

// realizePnL applies a close fill to equity, watermarks and counters, and
// appends the immutable trade record. Fees are charged at 2x the entry fee,
// entry and exit assumed symmetric.
func (p *Portfolio) realizePnL(pos *types.Position, exit float64, closedAt time.Time, mode types.ExitMode) {
	fees := pos.EntryFee * 2
	breakdown := computePnL(pos, exit, fees)

	p.totalFees += fees

	if breakdown.won {
		p.totalWinners++
		p.grossProfit += breakdown.gross
	} else {
		p.totalLosers++
		p.grossLoss += breakdown.gross
	}

	p.currentEquity += breakdown.net
	p.updateWatermarks(p.currentEquity)

	pos.RMultiple = p.appendTradeRecord(pos, exit, fees, closedAt, mode, breakdown)
}

// MarkOpenPosition computes unrealized pnl for a still-open position against
// a price, adds it to open equity, and appends the position to the trade log
// as if closed, so metrics can account for it. Only the entry fee is charged:
// the position has not paid an exit. Watermarks track true equity here.
// No open position for the pair is a no-op.
func (p *Portfolio) MarkOpenPosition(symbol, strategyName string, price float64, ts time.Time) {
	pos, exists := p.positions[PositionKey{Symbol: symbol, Strategy: strategyName}]
	if !exists {
		return
	}

	fees := pos.EntryFee
	breakdown := computePnL(pos, price, fees)

	p.totalFees += fees

	if breakdown.won {
		p.totalWinners++
		p.grossProfit += breakdown.gross
	} else {
		p.totalLosers++
		p.grossLoss += breakdown.gross
	}

	p.openEquity += breakdown.net
	pos.UnrealizedPnL = breakdown.net
	p.updateWatermarks(p.TrueEquity())

	p.appendTradeRecord(pos, price, fees, ts, types.ExitModeSignal, breakdown)

	p.log.Debug("marked open position",
		zap.String("symbol", symbol),
		zap.String("strategy", strategyName),
		zap.Float64("unrealized_pnl", breakdown.net),
	)
}

// appendTradeRecord builds and appends the trade-log snapshot, returning the
// realized R-multiple. R is computed here, at append time, so the log never
// needs a post-hoc backfill pass.
func (p *Portfolio) appendTradeRecord(pos *types.Position, exit, fees float64, closedAt time.Time, mode types.ExitMode, breakdown pnlBreakdown) float64 {
	stopDelta := math.Abs(pos.Entry-pos.Stop) / pos.Entry * 100

	var r float64
	if stopDelta > 0 {
		r = breakdown.delta / stopDelta
		if !breakdown.won {
			r = -r
		}
	}

	targetDelta := breakdown.delta
	if !breakdown.won {
		if len(pos.Targets) > 0 {
			final := pos.Targets[len(pos.Targets)-1]
			targetDelta = math.Abs(pos.Entry-final.Price) / pos.Entry * 100
		} else {
			targetDelta = p.config.DefaultTargetRMultiple * stopDelta
		}
	}

	// Trade IDs are content-derived so identical runs produce identical logs.
	seed := fmt.Sprintf("%s|%s|%s|%d", pos.Symbol, pos.Strategy, closedAt.UTC().Format(time.RFC3339), len(p.tradeHistory))

	p.tradeHistory = append(p.tradeHistory, types.TradeRecord{
		ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String(),
		NetPnL:      breakdown.net,
		Side:        pos.Direction,
		Entry:       pos.Entry,
		Exit:        exit,
		Delta:       breakdown.delta,
		Size:        pos.Size,
		Fees:        fees,
		StopDelta:   stopDelta,
		TargetDelta: targetDelta,
		RMultiple:   r,
		Strategy:    pos.Strategy,
		Symbol:      pos.Symbol,
		AssetClass:  pos.AssetClass,
		Timeframe:   pos.Timeframe,
		ExitMode:    mode,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    closedAt,
	})

	return r
}

func (p *Portfolio) updateWatermarks(equity float64) {
	if equity < p.drawdownWatermark {
		p.drawdownWatermark = equity
	}

	if equity > p.highWatermark {
		p.highWatermark = equity
	}
}
