package types

import "time"

// Target is one take-profit level: a price and the fraction of the position
// to close when it is reached. An empty target list means the strategy relies
// on exit signals (or the stop) alone.
type Target struct {
	Price         float64 `yaml:"price"`
	CloseFraction float64 `yaml:"close_fraction"`
}

// Signal is an instruction candidate produced by a strategy evaluating one bar.
// A strategy fills the price fields only; the engine stamps the identity fields
// (Symbol, AssetClass, Strategy, Timeframe, Mode) before routing.
type Signal struct {
	Timestamp time.Time
	Direction Direction
	Entry     float64
	Stop      float64
	Targets   []Target

	Symbol     string
	AssetClass string
	Strategy   string
	Timeframe  Timeframe
	Mode       ExitMode
}

// Degenerate reports whether entry and stop coincide. Very low volatility
// bars can produce such signals and they are never actioned.
func (s Signal) Degenerate() bool {
	return s.Entry == s.Stop
}
