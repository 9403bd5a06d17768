// Package indicator implements the column math strategies build their
// features from.
package indicator

import (
	"github.com/quantarc/portsim/internal/types"
	"github.com/quantarc/portsim/pkg/errors"
)

// EMASeries computes an exponential moving average over the whole input with
// smoothing alpha = 2/(span+1), seeded with the first value. This matches the
// conventional recursive (non-adjusted) EMA definition.
func EMASeries(values []float64, span int) ([]float64, error) {
	if span <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "ema span must be positive, got %d", span)
	}

	if len(values) == 0 {
		return nil, errors.New(errors.ErrCodeEmptySeries, "ema over empty series")
	}

	alpha := 2.0 / (float64(span) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]

	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}

	return out, nil
}

// DetectCross reports whether the fast average crossed the slow average at
// index i, comparing exactly the two consecutive bars i-1 and i. A BUY cross
// is fast moving from below to above slow; SELL is the opposite. Index 0 has
// no preceding bar and never crosses.
func DetectCross(fast, slow []float64, i int) types.Direction {
	if i <= 0 || i >= len(fast) || i >= len(slow) {
		return ""
	}

	prevFast, prevSlow := fast[i-1], slow[i-1]
	curFast, curSlow := fast[i], slow[i]

	if prevSlow > prevFast && curFast > curSlow {
		return types.DirectionBuy
	}

	if prevSlow < prevFast && curFast < curSlow {
		return types.DirectionSell
	}

	return ""
}
