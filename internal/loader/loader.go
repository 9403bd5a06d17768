// Package loader reads bar data from CSV files on disk and resolves which
// symbol and timeframe each file carries from its name.
package loader

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/quantarc/portsim/internal/types"
	"github.com/quantarc/portsim/pkg/errors"
)

// DataFile is one discovered market data file.
type DataFile struct {
	Path      string
	Symbol    string
	Timeframe types.Timeframe
}

// Discover expands the glob pattern and parses symbol and timeframe out of
// each matching file name. Expected name shape: SYMBOL_TIMEFRAME_anything.csv,
// e.g. GOOGL_1d_2015-2024.csv.
func Discover(pattern string) ([]DataFile, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDataNotFound, err, "bad data pattern %q", pattern)
	}

	if len(paths) == 0 {
		return nil, errors.Newf(errors.ErrCodeDataNotFound, "no data files match %q", pattern)
	}

	files := make([]DataFile, 0, len(paths))

	for _, path := range paths {
		symbol, timeframe, err := ParseFilename(path)
		if err != nil {
			return nil, err
		}

		files = append(files, DataFile{Path: path, Symbol: symbol, Timeframe: timeframe})
	}

	return files, nil
}

// ParseFilename extracts the symbol and timeframe from a data file name.
func ParseFilename(path string) (string, types.Timeframe, error) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	parts := strings.Split(base, "_")
	if len(parts) < 2 {
		return "", "", errors.Newf(errors.ErrCodeDataParseFailed,
			"data file name %q is not SYMBOL_TIMEFRAME_*", filepath.Base(path))
	}

	timeframe := types.Timeframe(parts[1])
	if _, err := timeframe.Duration(); err != nil {
		return "", "", err
	}

	return parts[0], timeframe, nil
}

// timestamp layouts accepted in the first CSV column, tried in order
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ReadBars parses a CSV file into bars. The file must have a header row with
// timestamp, open, high, low, close, volume columns in that order.
func ReadBars(path string) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDataNotFound, err, "failed to open %q", path)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 6

	// header
	if _, err := reader.Read(); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDataParseFailed, err, "failed to read header of %q", path)
	}

	var bars []types.Bar

	line := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeDataParseFailed, err, "failed to read %q line %d", path, line)
		}

		line++

		bar, err := parseBar(record)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeDataParseFailed, err, "bad row in %q line %d", path, line)
		}

		bars = append(bars, bar)
	}

	if len(bars) == 0 {
		return nil, errors.Newf(errors.ErrCodeEmptySeries, "no bars in %q", path)
	}

	return bars, nil
}

func parseBar(record []string) (types.Bar, error) {
	ts, err := parseTimestamp(record[0])
	if err != nil {
		return types.Bar{}, err
	}

	fields := make([]float64, 5)

	for i, raw := range record[1:6] {
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return types.Bar{}, errors.Wrapf(errors.ErrCodeDataParseFailed, err, "bad numeric field %q", raw)
		}

		fields[i] = value
	}

	return types.Bar{
		Timestamp: ts,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)

	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}

	return time.Time{}, errors.Newf(errors.ErrCodeDataParseFailed, "unrecognized timestamp %q", raw)
}
