package wallet

import (
	"fmt"
	"strconv"
	"strings"
)

// UnitsPerChip is the number of integer minor units in one chip or coupon.
const UnitsPerChip = 100

// FormatAmount renders minor units as a fixed two-decimal chip amount.
func FormatAmount(units int64) string {
	sign := ""
	if units < 0 {
		sign = "-"
		units = -units
	}
	return fmt.Sprintf("%s%d.%02d", sign, units/UnitsPerChip, units%UnitsPerChip)
}

// ParseAmount reads a decimal chip amount with at most two fractional digits.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("parse amount %q: %w", s, ErrInvalidAmount)
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("parse amount %q: too many decimals: %w", s, ErrInvalidAmount)
	}
	frac += strings.Repeat("0", 2-len(frac))
	if whole == "" {
		whole = "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, ErrInvalidAmount)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("parse amount %q: %w", s, ErrInvalidAmount)
	}

	units := w*UnitsPerChip + f
	if neg {
		units = -units
	}
	return units, nil
}
