// Package asset provides fixed-point arithmetic for ledger amounts.
//
// The settlement network accounts in units of 1e-8, so amounts are carried
// as int64 counts of that smallest unit. Rates stay float64 inside the rate
// model and are rounded here at the accounting boundary.
package asset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Precision is the number of fractional digits the ledger recognises.
const Precision = 8

// unitsPerWhole is 10^Precision.
const unitsPerWhole = 100_000_000

// Amount is a ledger amount in smallest units (1e-8 of a whole token).
type Amount int64

// FromFloat converts a float value of whole tokens to an Amount, rounding
// half away from zero to the ledger's granularity.
func FromFloat(v float64) Amount {
	return Amount(math.Round(v * unitsPerWhole))
}

// Float returns the amount as whole tokens. Only for display and rate math;
// accounting comparisons must stay on Amount.
func (a Amount) Float() float64 {
	return float64(a) / unitsPerWhole
}

// String formats the amount with exactly Precision fractional digits,
// e.g. "1.00000000".
func (a Amount) String() string {
	neg := a < 0
	v := int64(a)
	if neg {
		v = -v
	}
	whole := v / unitsPerWhole
	frac := v % unitsPerWhole
	s := fmt.Sprintf("%d.%08d", whole, frac)
	if neg {
		s = "-" + s
	}
	return s
}

// Parse converts a decimal string such as "1.5" or "0.00000001" to an
// Amount. More than Precision fractional digits is an error.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}
	wholePart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		wholePart, fracPart = s[:i], s[i+1:]
	}
	if wholePart == "" {
		wholePart = "0"
	}
	if len(fracPart) > Precision {
		return 0, fmt.Errorf("amount %q exceeds %d decimal places", s, Precision)
	}
	whole, err := strconv.ParseInt(wholePart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	frac := int64(0)
	if fracPart != "" {
		frac, err = strconv.ParseInt(fracPart+strings.Repeat("0", Precision-len(fracPart)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
	}
	v := whole*unitsPerWhole + frac
	if neg {
		v = -v
	}
	return Amount(v), nil
}

// MulHours returns rate × hours rounded to the ledger granularity, where
// the receiver is a per-hour rate.
func (a Amount) MulHours(hours float64) Amount {
	return Amount(math.Round(float64(a) * hours))
}

// MulInt returns the amount multiplied by an integer count.
func (a Amount) MulInt(n int64) Amount {
	return Amount(int64(a) * n)
}
