package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"fvg-trade-bot-go/internal/market"
)

// LoadCSV reads candles from a CSV file in the common kline-export
// layout: open_time_ms,open,high,low,close,volume. A header row is
// skipped when the first field is not numeric. Close times are derived
// from the timeframe; rows must be sorted ascending.
func LoadCSV(path string, tf market.Timeframe) ([]market.Candle, error) {
	d, err := tf.Duration()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candle file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // exports often carry trailing columns

	var candles []market.Candle
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read candle file: %w", err)
		}
		line++
		if len(record) < 6 {
			return nil, fmt.Errorf("line %d: need at least 6 fields, got %d", line, len(record))
		}

		openMs, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			if line == 1 {
				continue // header row
			}
			return nil, fmt.Errorf("line %d: invalid open time %q", line, record[0])
		}

		var vals [5]float64
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid value %q", line, record[i+1])
			}
			vals[i] = v
		}

		openTime := time.UnixMilli(openMs).UTC()
		c := market.Candle{
			OpenTime:  openTime,
			CloseTime: openTime.Add(d),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		candles = append(candles, c)
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles in %s", path)
	}
	return candles, nil
}
