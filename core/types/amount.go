// Package types - Token amounts
package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the fixed-point precision of the settlement token
const TokenDecimals = 18

// BaseUnits is an amount in the token's smallest unit, as a base-10 integer
// string. Every amount crossing the ledger or billing boundary uses it.
type BaseUnits string

// ZeroUnits is the zero amount
const ZeroUnits BaseUnits = "0"

// String returns the string representation
func (b BaseUnits) String() string {
	return string(b)
}

// Decimal parses the amount as an integer decimal
func (b BaseUnits) Decimal() (decimal.Decimal, error) {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid base-unit amount %q: %w", s, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("invalid base-unit amount %q: fractional value", s)
	}
	return d, nil
}

// IsZero reports whether the amount is empty or zero.
// Unparseable amounts count as zero.
func (b BaseUnits) IsZero() bool {
	d, err := b.Decimal()
	return err != nil || d.IsZero()
}

// FromBaseUnits converts a base-unit amount to a human-scale token amount
func FromBaseUnits(b BaseUnits) (decimal.Decimal, error) {
	d, err := b.Decimal()
	if err != nil {
		return decimal.Zero, err
	}
	return d.Shift(-TokenDecimals), nil
}

// MustFromBaseUnits is FromBaseUnits for amounts already validated upstream.
// Unparseable input yields zero.
func MustFromBaseUnits(b BaseUnits) decimal.Decimal {
	d, err := FromBaseUnits(b)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ToBaseUnits converts a human-scale token amount to base units.
// Precision beyond TokenDecimals is truncated.
func ToBaseUnits(amount decimal.Decimal) BaseUnits {
	return BaseUnits(amount.Shift(TokenDecimals).Truncate(0).String())
}

// PerThousandFromBaseUnits converts a per-request base-unit price into the
// human-scale price of 1000 requests, the unit every price comparison uses.
func PerThousandFromBaseUnits(perRequest BaseUnits) (decimal.Decimal, error) {
	d, err := FromBaseUnits(perRequest)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Mul(decimal.NewFromInt(1000)), nil
}

// PerRequestBaseUnits converts a human-scale price per 1000 requests into
// the per-request base-unit price the billing service stores. The division
// truncates to whole base units.
func PerRequestBaseUnits(perThousand decimal.Decimal) BaseUnits {
	whole := perThousand.Shift(TokenDecimals).Truncate(0)
	return BaseUnits(whole.Div(decimal.NewFromInt(1000)).Truncate(0).String())
}

// ParseAmount parses a human-scale amount entered by a user.
// Empty input is reported as absent with ok=false.
func ParseAmount(s string) (amount decimal.Decimal, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid amount %q", s)
	}
	return d, true, nil
}
