package types

import "time"

// TradeRecord is an immutable snapshot of a closed trade (or of an open
// position marked closed for metrics on the final bar). Records are appended
// to the trade log and never mutated afterwards.
type TradeRecord struct {
	ID string `yaml:"id"`

	NetPnL float64   `yaml:"net_pnl"`
	Side   Direction `yaml:"side"`
	Entry  float64   `yaml:"entry"`
	Exit   float64   `yaml:"exit"`
	// Delta is the absolute entry-to-exit move as a percentage of entry.
	Delta float64 `yaml:"delta"`
	Size  float64 `yaml:"size"`
	Fees  float64 `yaml:"fees"`

	// StopDelta is the entry-to-stop distance as a percentage of entry.
	StopDelta float64 `yaml:"stop_delta"`
	// TargetDelta feeds expected-return: the realized delta for winners,
	// otherwise the final take-profit delta, otherwise an R-scaled stop delta.
	TargetDelta float64 `yaml:"target_delta"`
	// RMultiple is |entry-exit| / |entry-stop|, signed by outcome.
	RMultiple float64 `yaml:"r_multiple"`

	Strategy   string    `yaml:"strategy"`
	Symbol     string    `yaml:"symbol"`
	AssetClass string    `yaml:"asset_class"`
	Timeframe  Timeframe `yaml:"timeframe"`
	ExitMode   ExitMode  `yaml:"exit_mode"`

	OpenedAt time.Time `yaml:"open_timestamp"`
	ClosedAt time.Time `yaml:"close_timestamp"`
}

// HoldDuration returns how long the trade was held.
func (t TradeRecord) HoldDuration() time.Duration {
	return t.ClosedAt.Sub(t.OpenedAt)
}

// Won reports whether the trade realized a profit.
func (t TradeRecord) Won() bool {
	return t.NetPnL > 0
}
