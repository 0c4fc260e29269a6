package strategy

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/types"
)

// Params holds strategy parameters as decoded from YAML.
type Params map[string]any

// String returns the string at key, or def.
func (p Params) String(key, def string) (string, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", paramError(key, v)
	}
	return s, nil
}

// Int returns the integer at key, or def.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, paramError(key, v)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, paramError(key, v)
		}
		return i, nil
	default:
		return 0, paramError(key, v)
	}
}

// Decimal returns the number at key, or def. Strings are parsed exactly.
func (p Params) Decimal(key string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, paramError(key, v)
		}
		return d, nil
	default:
		return decimal.Zero, paramError(key, v)
	}
}

func paramError(key string, v any) error {
	return fmt.Errorf("%w: parameter %s has invalid value %v", types.ErrInvalidConfig, key, v)
}

// common reads the symbol and quantity shared by every strategy.
func (p Params) common() (string, decimal.Decimal, error) {
	symbol, err := p.String("symbol", "")
	if err != nil {
		return "", decimal.Zero, err
	}
	qty, err := p.Decimal("quantity", decimal.NewFromInt(1))
	if err != nil {
		return "", decimal.Zero, err
	}
	if symbol == "" {
		return "", decimal.Zero, fmt.Errorf("%w: parameter symbol is required", types.ErrInvalidConfig)
	}
	if qty.IsNegative() {
		return "", decimal.Zero, fmt.Errorf("%w: parameter quantity must not be negative", types.ErrInvalidConfig)
	}
	return symbol, qty, nil
}
