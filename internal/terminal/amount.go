package terminal

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorToDecimal renders minor units as a fixed two-place decimal string
// ("199" -> "1.99") for vendors whose wire format wants major units.
func MinorToDecimal(amountMinorUnits int64) string {
	return decimal.New(amountMinorUnits, -2).StringFixed(2)
}

// DecimalToMinor parses a vendor decimal amount back into minor units. More
// than two fractional digits is an error rather than a silent rounding.
func DecimalToMinor(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal amount %q: %w", s, err)
	}
	minor := d.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has sub-minor precision", s)
	}
	return minor.IntPart(), nil
}
