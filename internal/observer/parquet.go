package observer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/types"
)

// TickRecord is the Parquet schema for tick data.
type TickRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// ToTick converts the record to a tick.
func (r TickRecord) ToTick() types.Tick {
	return types.Tick{
		Symbol: r.Symbol,
		Time:   time.UnixMilli(r.Timestamp).UTC(),
		Open:   decimal.NewFromFloat(r.Open),
		High:   decimal.NewFromFloat(r.High),
		Low:    decimal.NewFromFloat(r.Low),
		Close:  decimal.NewFromFloat(r.Close),
		Volume: r.Volume,
	}
}

// NewTickRecord converts a tick to its Parquet form.
func NewTickRecord(t types.Tick) TickRecord {
	return TickRecord{
		Symbol:    t.Symbol,
		Timestamp: t.Time.UnixMilli(),
		Open:      t.Open.InexactFloat64(),
		High:      t.High.InexactFloat64(),
		Low:       t.Low.InexactFloat64(),
		Close:     t.Close.InexactFloat64(),
		Volume:    t.Volume,
	}
}

// parquetBatch is the number of rows decoded per read.
const parquetBatch = 1024

// ParquetFeed reads ticks lazily from a Parquet file in batches.
type ParquetFeed struct {
	name   string
	symbol string
	file   *os.File
	reader *parquet.GenericReader[TickRecord]
	buf    []TickRecord
	pos    int
	n      int
	done   bool
}

// OpenParquet opens path as a Parquet feed. A non-empty symbol overrides
// the symbol column and filters out other rows.
func OpenParquet(path, symbol string) (*ParquetFeed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat parquet: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: open parquet %s: %v", types.ErrInvalidData, path, err)
	}

	return &ParquetFeed{
		name:   filepath.Base(path),
		symbol: symbol,
		file:   file,
		reader: parquet.NewGenericReader[TickRecord](pf),
		buf:    make([]TickRecord, parquetBatch),
	}, nil
}

// Name returns the feed identifier.
func (f *ParquetFeed) Name() string {
	return f.name
}

// Rows returns the number of rows in the file.
func (f *ParquetFeed) Rows() int64 {
	return f.reader.NumRows()
}

// Next returns the next tick.
func (f *ParquetFeed) Next(ctx context.Context) (types.Tick, error) {
	for {
		if err := ctx.Err(); err != nil {
			return types.Tick{}, err
		}

		if f.pos >= f.n {
			if f.done {
				return types.Tick{}, io.EOF
			}
			if err := f.fill(); err != nil {
				return types.Tick{}, err
			}
			continue
		}

		rec := f.buf[f.pos]
		f.pos++

		if f.symbol != "" && rec.Symbol != "" && rec.Symbol != f.symbol {
			continue
		}

		tick := rec.ToTick()
		if f.symbol != "" {
			tick.Symbol = f.symbol
		}
		if err := validate(tick); err != nil {
			return types.Tick{}, fmt.Errorf("%w: row at %s: %v", types.ErrInvalidData, tick.Time.Format(time.RFC3339), err)
		}
		return tick, nil
	}
}

func (f *ParquetFeed) fill() error {
	n, err := f.reader.Read(f.buf)
	f.pos, f.n = 0, n
	if errors.Is(err, io.EOF) {
		f.done = true
		return nil
	}
	if err != nil {
		f.done = true
		return fmt.Errorf("read parquet: %w", err)
	}
	if n == 0 {
		f.done = true
	}
	return nil
}

// Close releases the reader and file.
func (f *ParquetFeed) Close() error {
	if f.file == nil {
		return nil
	}
	rerr := f.reader.Close()
	ferr := f.file.Close()
	f.file = nil
	return errors.Join(rerr, ferr)
}

// WriteParquetTicks writes ticks to path, creating parent directories.
func WriteParquetTicks(path string, ticks []types.Tick) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	records := make([]TickRecord, len(ticks))
	for i, t := range ticks {
		records[i] = NewTickRecord(t)
	}
	return parquet.WriteFile(path, records)
}
