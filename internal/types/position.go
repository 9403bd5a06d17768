package types

import "time"

// Position is an open holding, owned exclusively by the portfolio ledger and
// keyed there by (symbol, strategy). Size is dollar notional, not units.
type Position struct {
	Symbol     string
	AssetClass string
	Strategy   string
	Timeframe  Timeframe
	Direction  Direction

	Entry   float64
	Stop    float64
	Targets []Target
	Size    float64
	// EntryFee is the fee charged when the position was opened. Close fees
	// are assumed symmetric, so realization charges 2x this value.
	EntryFee float64

	OpenedAt time.Time

	// UnrealizedPnL is set when the position is marked against the final bar.
	UnrealizedPnL float64
	// RMultiple is the realized R at close time, zero while running.
	RMultiple float64
}

// Transaction is one entry in the per-(symbol, strategy) transaction history:
// a fill-level record of an open or close.
type Transaction struct {
	Qty       float64
	Price     float64
	Direction Direction
	Fees      float64
	Timestamp time.Time
}
