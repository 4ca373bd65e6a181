// Package pricing derives recommended Flex Plan prices from provider offers
// and the affordability figures shown while a plan is drafted.
// Everything here is a pure function of its arguments and never fails:
// degenerate inputs produce zero values.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"flexplan/core/determinism"
	"flexplan/core/types"
)

const (
	// economyPercentile and performancePercentile locate the tiers in large samples
	economyPercentile     = 0.4
	performancePercentile = 0.8

	// minEconomyRank and minPerformanceRank keep the tiers apart in small samples
	minEconomyRank     = 2
	minPerformanceRank = 4

	// smallSampleEconomyIndex is the third cheapest offer
	smallSampleEconomyIndex = 2

	// thinSample is the largest sample that is not segmented at all
	thinSample = 3

	// smallSample is the largest sample segmented with fixed indices only
	smallSample = 5
)

// SortedPrices returns the per-1000 prices of the offers in ascending order.
// The sort is stable: offers quoting the same price keep their input order.
func SortedPrices(offers []types.ProviderOffer) []decimal.Decimal {
	sorted := determinism.SortedCopy(offers, func(a, b types.ProviderOffer) bool {
		return a.PricePerThousand.LessThan(b.PricePerThousand)
	})
	prices := make([]decimal.Decimal, len(sorted))
	for i, o := range sorted {
		prices[i] = o.PricePerThousand
	}
	return prices
}

// EstimateTiers derives the economy and performance price points from a
// sample of offers.
//
// Samples of three or fewer offers are too thin to segment, so both tiers
// take the highest price. Four or five offers put economy at the third
// cheapest. Larger samples use the 40th and 80th percentile ranks,
// floored at 2 and 4. A rank counts offers from the cheapest, starting at 1,
// so rank 3 of [10 20 30 40 50 60] is 30.
func EstimateTiers(offers []types.ProviderOffer) types.PricingTiers {
	n := len(offers)
	if n == 0 {
		return types.PricingTiers{Economy: decimal.Zero, Performance: decimal.Zero}
	}

	prices := SortedPrices(offers)
	maxPrice := prices[n-1]

	if n <= thinSample {
		return types.PricingTiers{Economy: maxPrice, Performance: maxPrice}
	}

	if n <= smallSample {
		return types.PricingTiers{Economy: prices[smallSampleEconomyIndex], Performance: maxPrice}
	}

	economyRank := percentileRank(n, economyPercentile, minEconomyRank)
	performanceRank := percentileRank(n, performancePercentile, minPerformanceRank)

	return types.PricingTiers{
		Economy:     prices[economyRank-1],
		Performance: prices[performanceRank-1],
	}
}

// percentileRank returns max(floor, ceil(p*n)) capped at n
func percentileRank(n int, p float64, floor int) int {
	rank := int(math.Ceil(float64(n) * p))
	if rank < floor {
		rank = floor
	}
	if rank > n {
		rank = n
	}
	return rank
}

// TierDefaults returns the price and provider limit a non-custom tier applies
// to a plan draft. ok is false for the custom tier, which has no defaults.
func TierDefaults(t types.Tier, tiers types.PricingTiers) (price decimal.Decimal, maxProviders int, ok bool) {
	switch t {
	case types.TierEconomy:
		return tiers.Economy, types.EconomyMaxProviders, true
	case types.TierPerformance:
		return tiers.Performance, types.PerformanceMaxProviders, true
	default:
		return decimal.Zero, 0, false
	}
}

// PlanExpiration returns the plan duration in seconds: the longest duration
// any sampled provider accepts, or the default week when the sample is empty
// or reports none.
func PlanExpiration(offers []types.ProviderOffer) int64 {
	var longest int64
	for _, o := range offers {
		if o.MaxDurationSeconds > longest {
			longest = o.MaxDurationSeconds
		}
	}
	if longest == 0 {
		return int64(types.DefaultPlanExpiration.Seconds())
	}
	return longest
}
