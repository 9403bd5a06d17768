// Package strategy defines the trading-strategy capability and its concrete
// implementations. A strategy does exactly two things: compute derived
// feature columns for a series, and evaluate a single bar for an entry
// signal. Strategies hold no shared mutable state, so feature computation is
// safe to run in parallel across independent series.
package strategy

import (
	"github.com/moznion/go-optional"

	"github.com/quantarc/portsim/internal/series"
	"github.com/quantarc/portsim/internal/types"
)

// Strategy is the capability the engine is polymorphic over. New strategies
// are added by implementing this interface and registering them; the engine
// never changes.
type Strategy interface {
	// Name identifies the strategy in configs, allocations and results.
	Name() string

	// Timeframe is the single bar granularity this strategy evaluates.
	Timeframe() types.Timeframe

	// FeatureData computes the derived columns for a series: the named float
	// columns and the categorical cross column. It is pure; the input series
	// is never mutated.
	FeatureData(s *series.Series) ([]series.Column, []types.Direction, error)

	// CheckForSignal evaluates one bar, which must already carry the feature
	// columns, and returns an entry signal only when one presents. The
	// returned signal carries prices and direction; the engine stamps the
	// identity fields before routing it.
	CheckForSignal(view series.BarView) optional.Option[types.Signal]
}
