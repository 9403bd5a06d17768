// Package stats supplies historical per-strategy trade statistics to the
// sizing policy. The store is external, explicit state keyed by
// (strategy, symbol, timeframe): sizing looks a triple up and a miss simply
// selects fixed-fractional sizing, so lookups never error.
package stats

import (
	"os"

	"github.com/moznion/go-optional"
	"gopkg.in/yaml.v3"

	"github.com/quantarc/portsim/internal/types"
	"github.com/quantarc/portsim/pkg/errors"
)

// TradeStats is the recorded history for one (strategy, symbol, timeframe):
// win probability and average realized R-multiple.
type TradeStats struct {
	PWin float64 `yaml:"p_win"`
	AvgR float64 `yaml:"avg_r"`
}

// Key identifies one statistics entry.
type Key struct {
	Strategy  string
	Symbol    string
	Timeframe types.Timeframe
}

// Store is the lookup capability handed to the sizing policy.
type Store interface {
	// Lookup returns the stats for the triple, or None when no history has
	// been recorded. None is an expected condition, not a failure.
	Lookup(strategy, symbol string, timeframe types.Timeframe) optional.Option[TradeStats]
}

// MemoryStore is a plain in-memory Store.
type MemoryStore struct {
	entries map[Key]TradeStats
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[Key]TradeStats),
	}
}

// Set records stats for a triple, replacing any previous entry.
func (m *MemoryStore) Set(strategy, symbol string, timeframe types.Timeframe, s TradeStats) {
	m.entries[Key{Strategy: strategy, Symbol: symbol, Timeframe: timeframe}] = s
}

// Lookup implements Store.
func (m *MemoryStore) Lookup(strategy, symbol string, timeframe types.Timeframe) optional.Option[TradeStats] {
	s, ok := m.entries[Key{Strategy: strategy, Symbol: symbol, Timeframe: timeframe}]
	if !ok {
		return optional.None[TradeStats]()
	}

	return optional.Some(s)
}

// statsFile is the YAML shape of a stats file: a list of flat entries.
type statsFile struct {
	Entries []struct {
		Strategy  string          `yaml:"strategy"`
		Symbol    string          `yaml:"symbol"`
		Timeframe types.Timeframe `yaml:"timeframe"`
		PWin      float64         `yaml:"p_win"`
		AvgR      float64         `yaml:"avg_r"`
	} `yaml:"entries"`
}

// LoadFile reads a YAML stats file into a MemoryStore.
func LoadFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDataNotFound, err, "failed to read stats file %s", path)
	}

	var file statsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDataParseFailed, err, "failed to parse stats file %s", path)
	}

	store := NewMemoryStore()
	for _, e := range file.Entries {
		store.Set(e.Strategy, e.Symbol, e.Timeframe, TradeStats{PWin: e.PWin, AvgR: e.AvgR})
	}

	return store, nil
}
