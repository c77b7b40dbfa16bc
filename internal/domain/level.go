package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single price+size entry on one side of a book. A zero size
// in an update means the level is removed.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// ParseLevels converts venue [price, size] string pairs into PriceLevels.
func ParseLevels(rows [][]string) ([]PriceLevel, error) {
	levels := make([]PriceLevel, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("%w: level %d has %d fields", ErrMalformed, i, len(row))
		}
		price, err := decimal.NewFromString(row[0])
		if err != nil {
			return nil, fmt.Errorf("%w: level %d price %q: %v", ErrMalformed, i, row[0], err)
		}
		size, err := decimal.NewFromString(row[1])
		if err != nil {
			return nil, fmt.Errorf("%w: level %d size %q: %v", ErrMalformed, i, row[1], err)
		}
		if size.IsNegative() {
			return nil, fmt.Errorf("%w: level %d negative size %s", ErrMalformed, i, row[1])
		}
		levels = append(levels, PriceLevel{Price: price, Size: size})
	}
	return levels, nil
}

// Level is a convenience constructor used by tests and replays.
func Level(price, size float64) PriceLevel {
	return PriceLevel{Price: decimal.NewFromFloat(price), Size: decimal.NewFromFloat(size)}
}
