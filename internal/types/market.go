package types

import (
	"time"

	"github.com/quantarc/portsim/pkg/errors"
)

// Timeframe identifies the bar granularity of a series, e.g. "1d" or "1h".
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1wk"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
	Timeframe1w:  7 * 24 * time.Hour,
}

// Duration returns the calendar step between two consecutive bars of this timeframe.
func (t Timeframe) Duration() (time.Duration, error) {
	d, ok := timeframeDurations[t]
	if !ok {
		return 0, errors.Newf(errors.ErrCodeInvalidTimeframe, "unknown timeframe %q", string(t))
	}

	return d, nil
}

// Direction is the side of a signal or position. The zero value means "no direction"
// and is what a cross column holds on bars without a crossover.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}

	return DirectionBuy
}

// ExitMode tags how a position was (or would be) closed.
type ExitMode string

const (
	// ExitModeSignal marks a strategy-signalled exit.
	ExitModeSignal ExitMode = "SIGNAL"
	// ExitModeStop marks an involuntary stop-loss exit.
	ExitModeStop ExitMode = "STOP"
)

// Bar is one OHLCV observation at a given timestamp and timeframe.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	// Synthetic is true for calendar-fill rows manufactured during alignment.
	// Strategies never signal on synthetic bars.
	Synthetic bool
}
