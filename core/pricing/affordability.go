package pricing

import (
	"github.com/shopspring/decimal"

	"flexplan/core/types"
)

var (
	thousand = decimal.NewFromInt(1000)

	// suggestedDepositFactor is how many units of price each provider slot is
	// funded with in the suggested deposit
	suggestedDepositFactor = decimal.NewFromInt(20)
)

// MatchedProviders counts the offers a plan priced at threshold would match:
// those whose per-1000 price does not exceed it.
func MatchedProviders(threshold decimal.Decimal, offers []types.ProviderOffer) int {
	if !threshold.IsPositive() || len(offers) == 0 {
		return 0
	}
	count := 0
	for _, o := range offers {
		if o.PricePerThousand.LessThanOrEqual(threshold) {
			count++
		}
	}
	return count
}

// AffordableRequests estimates how many requests a billing balance pays for at
// a per-1000 price. Zero balance or zero price yields zero.
func AffordableRequests(balance, price decimal.Decimal) int64 {
	if !balance.IsPositive() || !price.IsPositive() {
		return 0
	}
	return balance.Div(price).Mul(thousand).Floor().IntPart()
}

// LowBalanceWarning reports an active billing account that is close to
// running out. Accounts that were never funded are not flagged.
func LowBalanceWarning(balance decimal.Decimal) bool {
	return LowBalanceWarningAt(balance, decimal.NewFromInt(types.LowBalanceFloor))
}

// LowBalanceWarningAt is LowBalanceWarning with an explicit floor
func LowBalanceWarningAt(balance, floor decimal.Decimal) bool {
	return balance.IsPositive() && balance.LessThan(floor)
}

// SuggestedDeposit is the deposit recommended for a plan: enough to pay the
// per-1000 price twenty times over for every provider slot.
// maxProviders below the minimum is raised to it.
func SuggestedDeposit(price decimal.Decimal, maxProviders int) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	if maxProviders < types.MinMaxProviders {
		maxProviders = types.MinMaxProviders
	}
	return price.Mul(suggestedDepositFactor).Mul(decimal.NewFromInt(int64(maxProviders)))
}

// EstimateFiat converts a token amount to its fiat value at tokenPrice,
// rounded to four decimal places. ok is false when no token price is known.
func EstimateFiat(amount, tokenPrice decimal.Decimal) (value decimal.Decimal, ok bool) {
	if !tokenPrice.IsPositive() {
		return decimal.Zero, false
	}
	return amount.Mul(tokenPrice).Round(4), true
}
