package engine

import (
	"context"

	"github.com/moznion/go-optional"

	"github.com/quantarc/portsim/internal/strategy"
	"github.com/quantarc/portsim/internal/types"
)

// OnProcessDataCallback is called after each simulated bar with the number of
// bars processed so far and the total.
type OnProcessDataCallback func(current int, total int)

// Engine drives a full simulation: data loading, feature precompute, the bar
// loop, and result persistence.
type Engine interface {
	// Initialize parses the engine configuration from YAML content.
	Initialize(config string) error
	// SetDataPath points the engine at market data files. Accepts a glob
	// pattern, e.g. "data/*.csv". File names carry symbol and timeframe.
	SetDataPath(path string) error
	// SetResultsFolder sets the output directory for run results.
	SetResultsFolder(folder string) error
	// SetStatsPath optionally loads prior trade statistics used for Kelly
	// sizing. An empty path means no history.
	SetStatsPath(path string) error
	// LoadStrategy registers a strategy. Call once per strategy before Run.
	LoadStrategy(s strategy.Strategy) error
	// Run executes the simulation. The context cancels a run between bars.
	Run(ctx context.Context, onProcessData optional.Option[OnProcessDataCallback]) (types.RunResult, error)
	// GetConfigSchema returns the JSON schema of the engine configuration.
	GetConfigSchema() (string, error)
}
