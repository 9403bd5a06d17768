// Package series holds the calendar-aligned bar series the engine iterates.
//
// A Series is constructed once per (symbol, timeframe) and is immutable after
// construction. Feature columns are attached by deriving an Augmented view
// rather than mutating the base series, so the loader and the engine never
// alias hidden state.
package series

import (
	"time"

	"github.com/quantarc/portsim/internal/types"
	"github.com/quantarc/portsim/pkg/errors"
)

// Column is one named feature column, aligned index-for-index with the series.
type Column struct {
	Name   string
	Values []float64
}

// Series is an ordered, gap-free sequence of bars for one (symbol, timeframe).
type Series struct {
	Symbol     string
	AssetClass string
	Timeframe  types.Timeframe

	bars []types.Bar
}

// New validates and calendar-aligns raw bars into a Series.
//
// Timestamps must be strictly increasing. Missing calendar steps between the
// first and last observation are forward-filled: the inserted bar repeats the
// prior close as a flat OHLC row with zero volume and is marked Synthetic.
// (The upstream behavior of reindexing with zero-filled rows corrupts
// indicator continuity on non-trading days, so flat fill is used instead.)
func New(symbol, assetClass string, timeframe types.Timeframe, bars []types.Bar) (*Series, error) {
	if len(bars) == 0 {
		return nil, errors.Newf(errors.ErrCodeEmptySeries, "no bars for %s %s", symbol, timeframe)
	}

	step, err := timeframe.Duration()
	if err != nil {
		return nil, err
	}

	aligned := make([]types.Bar, 0, len(bars))
	aligned = append(aligned, bars[0])

	for i := 1; i < len(bars); i++ {
		prev := aligned[len(aligned)-1]
		cur := bars[i]

		if !cur.Timestamp.After(prev.Timestamp) {
			return nil, errors.Newf(errors.ErrCodeNonMonotonicTimestamps,
				"%s %s: bar %d at %s does not advance past %s",
				symbol, timeframe, i, cur.Timestamp, prev.Timestamp)
		}

		for ts := prev.Timestamp.Add(step); ts.Before(cur.Timestamp); ts = ts.Add(step) {
			aligned = append(aligned, fillBar(ts, prev.Close))
		}

		aligned = append(aligned, cur)
	}

	return &Series{
		Symbol:     symbol,
		AssetClass: assetClass,
		Timeframe:  timeframe,
		bars:       aligned,
	}, nil
}

func fillBar(ts time.Time, close float64) types.Bar {
	return types.Bar{
		Timestamp: ts,
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    0,
		Synthetic: true,
	}
}

// Len returns the number of bars, including synthetic fill rows.
func (s *Series) Len() int {
	return len(s.bars)
}

// Bar returns the bar at index i.
func (s *Series) Bar(i int) types.Bar {
	return s.bars[i]
}

// First returns the earliest bar.
func (s *Series) First() types.Bar {
	return s.bars[0]
}

// Last returns the latest bar.
func (s *Series) Last() types.Bar {
	return s.bars[len(s.bars)-1]
}

// Closes returns the close column.
func (s *Series) Closes() []float64 {
	closes := make([]float64, len(s.bars))
	for i, b := range s.bars {
		closes[i] = b.Close
	}

	return closes
}

// Augmented is a Series plus strategy-computed feature columns and the
// categorical cross column.
type Augmented struct {
	*Series

	columns map[string][]float64
	order   []string
	cross   []types.Direction
}

// WithColumns derives an Augmented view from the series. Every column,
// including the cross column, must match the series length.
func (s *Series) WithColumns(cols []Column, cross []types.Direction) (*Augmented, error) {
	columns := make(map[string][]float64, len(cols))
	order := make([]string, 0, len(cols))

	for _, col := range cols {
		if len(col.Values) != s.Len() {
			return nil, errors.Newf(errors.ErrCodeFeatureDataFailed,
				"column %q has %d values, series has %d bars", col.Name, len(col.Values), s.Len())
		}

		columns[col.Name] = col.Values
		order = append(order, col.Name)
	}

	if len(cross) != s.Len() {
		return nil, errors.Newf(errors.ErrCodeFeatureDataFailed,
			"cross column has %d values, series has %d bars", len(cross), s.Len())
	}

	return &Augmented{
		Series:  s,
		columns: columns,
		order:   order,
		cross:   cross,
	}, nil
}

// Column returns a named feature column.
func (a *Augmented) Column(name string) ([]float64, error) {
	values, ok := a.columns[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnknownColumn, "no column %q", name)
	}

	return values, nil
}

// ColumnNames returns the feature column names in insertion order.
func (a *Augmented) ColumnNames() []string {
	return a.order
}

// Cross returns the cross column value at index i.
func (a *Augmented) Cross(i int) types.Direction {
	return a.cross[i]
}

// BarView is one bar together with its feature values, handed to a strategy
// for signal evaluation.
type BarView struct {
	Index    int
	Bar      types.Bar
	Features map[string]float64
	Cross    types.Direction
}

// View assembles the BarView at index i.
func (a *Augmented) View(i int) BarView {
	features := make(map[string]float64, len(a.columns))
	for name, values := range a.columns {
		features[name] = values[i]
	}

	return BarView{
		Index:    i,
		Bar:      a.bars[i],
		Features: features,
		Cross:    a.cross[i],
	}
}
