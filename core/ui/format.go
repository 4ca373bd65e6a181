package ui

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"flexplan/core/types"
)

// Tokens renders a human-scale token amount with thousands separators,
// e.g. "12,500.25 SQT". Fractions beyond places are truncated.
func Tokens(amount decimal.Decimal, places int32) string {
	return Number(amount, places) + " " + types.TokenSymbol
}

// Number renders a decimal with thousands separators
func Number(amount decimal.Decimal, places int32) string {
	d := amount.Truncate(places)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	whole := d.Truncate(0)
	s := sign + humanize.BigComma(whole.BigInt())

	frac := strings.TrimPrefix(d.Sub(whole).String(), "0")
	if frac != "" && frac != "0" {
		s += frac
	}
	return s
}

// Requests renders a request count, e.g. "1,250,000 requests"
func Requests(n int64) string {
	if n == 1 {
		return "1 request"
	}
	return humanize.Comma(n) + " requests"
}

// PerThousand renders a price per 1000 requests
func PerThousand(price decimal.Decimal) string {
	return Tokens(price, 6) + " / 1000 requests"
}

// Fiat renders a USD estimate, or "" when no token price is known
func Fiat(value decimal.Decimal, ok bool) string {
	if !ok {
		return ""
	}
	return "≈ $" + Number(value, 4)
}
