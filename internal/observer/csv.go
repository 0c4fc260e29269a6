package observer

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/types"
)

// columns maps tick fields to record indexes. -1 means absent.
type columns struct {
	time, open, high, low, close, volume, symbol int
}

// defaultColumns is the headerless layout: timestamp,open,high,low,close,volume.
var defaultColumns = columns{time: 0, open: 1, high: 2, low: 3, close: 4, volume: 5, symbol: -1}

var headerAliases = map[string]string{
	"timestamp": "time",
	"datetime":  "time",
	"date":      "time",
	"time":      "time",
	"open":      "open",
	"o":         "open",
	"high":      "high",
	"h":         "high",
	"low":       "low",
	"l":         "low",
	"close":     "close",
	"c":         "close",
	"adj_close": "close",
	"volume":    "volume",
	"vol":       "volume",
	"v":         "volume",
	"symbol":    "symbol",
	"ticker":    "symbol",
}

// CSVFeed reads ticks lazily from CSV.
//
// A header row, when present, maps columns by name. Without one the layout
// is timestamp,open,high,low,close,volume. Only time and close are required;
// missing open, high and low default to close.
type CSVFeed struct {
	name   string
	symbol string
	closer io.Closer
	reader *csv.Reader
	cols   columns
	line   int
	primed bool
}

// OpenCSV opens path as a CSV feed. symbol overrides any symbol column.
func OpenCSV(path, symbol string) (*CSVFeed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	f := NewCSVFeed(file, filepath.Base(path), symbol)
	f.closer = file
	return f, nil
}

// NewCSVFeed creates a feed reading from r.
func NewCSVFeed(r io.Reader, name, symbol string) *CSVFeed {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	return &CSVFeed{
		name:   name,
		symbol: symbol,
		reader: reader,
		cols:   defaultColumns,
	}
}

// Name returns the feed identifier.
func (f *CSVFeed) Name() string {
	return f.name
}

// Close releases the underlying file, if any.
func (f *CSVFeed) Close() error {
	if f.closer == nil {
		return nil
	}
	err := f.closer.Close()
	f.closer = nil
	return err
}

// Next returns the next tick.
func (f *CSVFeed) Next(ctx context.Context) (types.Tick, error) {
	if err := ctx.Err(); err != nil {
		return types.Tick{}, err
	}

	for {
		record, err := f.reader.Read()
		if err == io.EOF {
			return types.Tick{}, io.EOF
		}
		f.line++

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return types.Tick{}, fmt.Errorf("%w: line %d: %v", types.ErrInvalidData, f.line, err)
		}
		if err != nil {
			return types.Tick{}, fmt.Errorf("read csv: %w", err)
		}

		if !f.primed {
			f.primed = true
			if cols, ok := parseHeader(record); ok {
				f.cols = cols
				continue
			}
		}

		if isBlank(record) {
			continue
		}

		tick, err := f.parseRecord(record)
		if err != nil {
			return types.Tick{}, fmt.Errorf("%w: line %d: %v", types.ErrInvalidData, f.line, err)
		}
		return tick, nil
	}
}

// parseRecord parses a single CSV record into a Tick.
func (f *CSVFeed) parseRecord(record []string) (types.Tick, error) {
	var tick types.Tick

	field := func(i int) (string, bool) {
		if i < 0 || i >= len(record) {
			return "", false
		}
		s := strings.TrimSpace(record[i])
		return s, s != ""
	}

	raw, ok := field(f.cols.time)
	if !ok {
		return tick, errors.New("missing timestamp")
	}
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return tick, err
	}
	tick.Time = ts

	raw, ok = field(f.cols.close)
	if !ok {
		return tick, errors.New("missing close")
	}
	tick.Close, err = decimal.NewFromString(raw)
	if err != nil {
		return tick, fmt.Errorf("parse close: %w", err)
	}

	prices := []struct {
		name string
		idx  int
		dst  *decimal.Decimal
	}{
		{"open", f.cols.open, &tick.Open},
		{"high", f.cols.high, &tick.High},
		{"low", f.cols.low, &tick.Low},
	}
	for _, p := range prices {
		raw, ok := field(p.idx)
		if !ok {
			*p.dst = tick.Close
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return tick, fmt.Errorf("parse %s: %w", p.name, err)
		}
		*p.dst = v
	}

	if raw, ok := field(f.cols.volume); ok {
		vol, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return tick, fmt.Errorf("parse volume: %w", err)
		}
		tick.Volume = int64(vol)
	}

	tick.Symbol = f.symbol
	if tick.Symbol == "" {
		tick.Symbol, _ = field(f.cols.symbol)
	}

	if err := validate(tick); err != nil {
		return tick, err
	}
	return tick, nil
}

// validate checks price sanity.
func validate(tick types.Tick) error {
	if tick.Close.IsNegative() || tick.Open.IsNegative() || tick.Low.IsNegative() {
		return errors.New("negative price")
	}
	if tick.High.LessThan(tick.Low) {
		return fmt.Errorf("high %s below low %s", tick.High, tick.Low)
	}
	if tick.Volume < 0 {
		return errors.New("negative volume")
	}
	return nil
}

// parseHeader maps a header row to columns. ok is false if record is data.
func parseHeader(record []string) (columns, bool) {
	cols := columns{time: -1, open: -1, high: -1, low: -1, close: -1, volume: -1, symbol: -1}
	found := false

	for i, name := range record {
		key, ok := headerAliases[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			continue
		}
		found = true
		switch key {
		case "time":
			cols.time = i
		case "open":
			cols.open = i
		case "high":
			cols.high = i
		case "low":
			cols.low = i
		case "close":
			if cols.close < 0 {
				cols.close = i
			}
		case "volume":
			cols.volume = i
		case "symbol":
			cols.symbol = i
		}
	}

	return cols, found
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

var timestampFormats = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// ParseTimestamp tries unix seconds, unix milliseconds and common layouts.
// Layouts without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Values this large are milliseconds.
		if unix > 1e11 || unix < -1e11 {
			return time.UnixMilli(unix).UTC(), nil
		}
		return time.Unix(unix, 0).UTC(), nil
	}

	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unknown timestamp format: %s", s)
}
