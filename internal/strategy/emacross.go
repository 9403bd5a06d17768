package strategy

import (
	"fmt"
	"math"

	"github.com/moznion/go-optional"

	"github.com/quantarc/portsim/internal/indicator"
	"github.com/quantarc/portsim/internal/series"
	"github.com/quantarc/portsim/internal/types"
)

// stopRangeMultiplier scales the bar range into the stop distance: the stop
// sits 150% of the bar's high-low range away from the close.
const stopRangeMultiplier = 1.5

// EMACross signals when a fast EMA crosses a slow EMA. It sets no take-profit
// targets; exits come from the opposite cross or the stop.
type EMACross struct {
	fast      int
	slow      int
	timeframe types.Timeframe
}

// NewEMACross creates an EMA crossover strategy with the given spans.
func NewEMACross(fast, slow int, timeframe types.Timeframe) *EMACross {
	return &EMACross{
		fast:      fast,
		slow:      slow,
		timeframe: timeframe,
	}
}

// NewEMACross50200 is the classic golden/death cross on daily bars.
func NewEMACross50200() *EMACross {
	return NewEMACross(50, 200, types.Timeframe1d)
}

// NewEMACross1020 is a faster variant for shorter-horizon portfolios.
func NewEMACross1020() *EMACross {
	return NewEMACross(10, 20, types.Timeframe1d)
}

// Name implements Strategy.
func (e *EMACross) Name() string {
	return fmt.Sprintf("EMACross%d%d", e.fast, e.slow)
}

// Timeframe implements Strategy.
func (e *EMACross) Timeframe() types.Timeframe {
	return e.timeframe
}

func (e *EMACross) fastColumn() string {
	return fmt.Sprintf("%dEMA", e.fast)
}

func (e *EMACross) slowColumn() string {
	return fmt.Sprintf("%dEMA", e.slow)
}

// FeatureData implements Strategy. It produces the two EMA columns and the
// cross column. Crossing compares exactly the preceding and the current bar,
// so there is no look-ahead.
func (e *EMACross) FeatureData(s *series.Series) ([]series.Column, []types.Direction, error) {
	closes := s.Closes()

	fastEMA, err := indicator.EMASeries(closes, e.fast)
	if err != nil {
		return nil, nil, err
	}

	slowEMA, err := indicator.EMASeries(closes, e.slow)
	if err != nil {
		return nil, nil, err
	}

	cross := make([]types.Direction, s.Len())
	for i := range cross {
		cross[i] = indicator.DetectCross(fastEMA, slowEMA, i)
	}

	cols := []series.Column{
		{Name: e.fastColumn(), Values: fastEMA},
		{Name: e.slowColumn(), Values: slowEMA},
	}

	return cols, cross, nil
}

// CheckForSignal implements Strategy. A signal presents only on a BUY or SELL
// cross value; the stop is placed 150% of the bar range away from the close,
// below for longs and above for shorts.
func (e *EMACross) CheckForSignal(view series.BarView) optional.Option[types.Signal] {
	if view.Cross != types.DirectionBuy && view.Cross != types.DirectionSell {
		return optional.None[types.Signal]()
	}

	// Calendar-fill rows carry no market information.
	if view.Bar.Synthetic {
		return optional.None[types.Signal]()
	}

	stopDist := math.Abs(view.Bar.High-view.Bar.Low) * stopRangeMultiplier

	stop := view.Bar.Close - stopDist
	if view.Cross == types.DirectionSell {
		stop = view.Bar.Close + stopDist
	}

	return optional.Some(types.Signal{
		Timestamp: view.Bar.Timestamp,
		Direction: view.Cross,
		Entry:     view.Bar.Close,
		Stop:      stop,
		Targets:   nil,
	})
}
