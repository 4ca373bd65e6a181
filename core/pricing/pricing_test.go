// Package pricing - Tier and affordability tests
// These tests pin the tier positions for every sample size class.
package pricing

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"flexplan/core/types"
)

func offersAt(prices ...int64) []types.ProviderOffer {
	offers := make([]types.ProviderOffer, len(prices))
	for i, p := range prices {
		offers[i] = types.ProviderOffer{
			ProviderID:       fmt.Sprintf("0xindexer%02d", i),
			PricePerThousand: decimal.NewFromInt(p),
		}
	}
	return offers
}

func assertTiers(t *testing.T, got types.PricingTiers, economy, performance int64) {
	t.Helper()
	if !got.Economy.Equal(decimal.NewFromInt(economy)) {
		t.Errorf("economy = %s, want %d", got.Economy, economy)
	}
	if !got.Performance.Equal(decimal.NewFromInt(performance)) {
		t.Errorf("performance = %s, want %d", got.Performance, performance)
	}
}

// TestEstimateTiersEmptySample proves an empty market yields zero tiers
func TestEstimateTiersEmptySample(t *testing.T) {
	assertTiers(t, EstimateTiers(nil), 0, 0)
	assertTiers(t, EstimateTiers([]types.ProviderOffer{}), 0, 0)
}

// TestEstimateTiersThinSample proves samples of 3 or fewer use the maximum for both tiers
func TestEstimateTiersThinSample(t *testing.T) {
	assertTiers(t, EstimateTiers(offersAt(7)), 7, 7)
	assertTiers(t, EstimateTiers(offersAt(30, 10)), 30, 30)
	assertTiers(t, EstimateTiers(offersAt(20, 50, 10)), 50, 50)
}

// TestEstimateTiersSmallSample proves 4-5 offers put economy at the third cheapest
func TestEstimateTiersSmallSample(t *testing.T) {
	assertTiers(t, EstimateTiers(offersAt(40, 10, 30, 20)), 30, 40)
	assertTiers(t, EstimateTiers(offersAt(50, 40, 10, 30, 20)), 30, 50)
}

// TestEstimateTiersSixOffers pins the worked example from the tier rules
func TestEstimateTiersSixOffers(t *testing.T) {
	// economy rank = max(2, ceil(2.4)) = 3, performance rank = max(4, ceil(4.8)) = 5
	assertTiers(t, EstimateTiers(offersAt(10, 20, 30, 40, 50, 60)), 30, 50)
	assertTiers(t, EstimateTiers(offersAt(60, 50, 40, 30, 20, 10)), 30, 50)
}

// TestEstimateTiersRanksAreOneBased pins the rank rule beyond the worked example
func TestEstimateTiersRanksAreOneBased(t *testing.T) {
	// ranks 3 and 6 of 7
	assertTiers(t, EstimateTiers(offersAt(1, 2, 3, 4, 5, 6, 7)), 3, 6)
	// ranks 4 and 8 of 10
	assertTiers(t, EstimateTiers(offersAt(10, 9, 8, 7, 6, 5, 4, 3, 2, 1)), 4, 8)
}

// TestEstimateTiersLargeSample proves percentile positions adapt to larger markets
func TestEstimateTiersLargeSample(t *testing.T) {
	prices := make([]int64, 20)
	for i := range prices {
		prices[i] = int64(100 - i) // descending input
	}
	// sorted ascending: 81..100; rank ceil(8)=8 -> 88, rank ceil(16)=16 -> 96
	assertTiers(t, EstimateTiers(offersAt(prices...)), 88, 96)
}

// TestEstimateTiersPerformanceNeverBelowEconomy checks the ordering invariant for every size
func TestEstimateTiersPerformanceNeverBelowEconomy(t *testing.T) {
	for n := 0; n <= 40; n++ {
		prices := make([]int64, n)
		for i := range prices {
			prices[i] = int64((i*37)%11 + 1) // unsorted with duplicates
		}
		tiers := EstimateTiers(offersAt(prices...))
		if tiers.Performance.LessThan(tiers.Economy) {
			t.Fatalf("n=%d: performance %s below economy %s", n, tiers.Performance, tiers.Economy)
		}
	}
}

// TestEstimateTiersDoesNotMutateInput proves the caller's slice order survives
func TestEstimateTiersDoesNotMutateInput(t *testing.T) {
	offers := offersAt(30, 10, 20, 60, 50, 40)
	EstimateTiers(offers)
	if !offers[0].PricePerThousand.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("input reordered: first offer now %s", offers[0].PricePerThousand)
	}
}

// TestSortedPricesIsStable proves equal prices keep input order
func TestSortedPricesIsStable(t *testing.T) {
	offers := []types.ProviderOffer{
		{ProviderID: "a", PricePerThousand: decimal.RequireFromString("2.0")},
		{ProviderID: "b", PricePerThousand: decimal.RequireFromString("1")},
		{ProviderID: "c", PricePerThousand: decimal.RequireFromString("2")},
	}
	prices := SortedPrices(offers)
	if prices[1].String() != "2" || prices[2].String() != "2" {
		t.Fatalf("unexpected order: %v", prices)
	}
	// "2.0" came first in the input and must stay first among equals
	if prices[1].Exponent() != -1 {
		t.Errorf("stable sort violated: %v", prices)
	}
}

func TestTierDefaults(t *testing.T) {
	tiers := types.PricingTiers{Economy: decimal.NewFromInt(3), Performance: decimal.NewFromInt(9)}

	price, limit, ok := TierDefaults(types.TierEconomy, tiers)
	if !ok || !price.Equal(decimal.NewFromInt(3)) || limit != 8 {
		t.Errorf("economy defaults = (%s, %d, %v)", price, limit, ok)
	}
	price, limit, ok = TierDefaults(types.TierPerformance, tiers)
	if !ok || !price.Equal(decimal.NewFromInt(9)) || limit != 15 {
		t.Errorf("performance defaults = (%s, %d, %v)", price, limit, ok)
	}
	if _, _, ok := TierDefaults(types.TierCustom, tiers); ok {
		t.Error("custom tier must not have defaults")
	}
}

func TestPlanExpiration(t *testing.T) {
	if got := PlanExpiration(nil); got != 604800 {
		t.Errorf("empty sample expiration = %d, want 604800", got)
	}
	offers := offersAt(1, 2, 3)
	offers[0].MaxDurationSeconds = 3600
	offers[2].MaxDurationSeconds = 86400
	if got := PlanExpiration(offers); got != 86400 {
		t.Errorf("expiration = %d, want 86400", got)
	}
	if got := PlanExpiration(offersAt(1)); got != 604800 {
		t.Errorf("zero durations should fall back to default, got %d", got)
	}
}

func TestMatchedProviders(t *testing.T) {
	offers := offersAt(10, 20, 30, 40)
	cases := []struct {
		threshold string
		want      int
	}{
		{"0", 0},
		{"5", 0},
		{"10", 1},
		{"25.5", 2},
		{"40", 4},
		{"1000", 4},
	}
	for _, c := range cases {
		got := MatchedProviders(decimal.RequireFromString(c.threshold), offers)
		if got != c.want {
			t.Errorf("MatchedProviders(%s) = %d, want %d", c.threshold, got, c.want)
		}
	}
	if got := MatchedProviders(decimal.NewFromInt(50), nil); got != 0 {
		t.Errorf("no offers should match nothing, got %d", got)
	}
}

func TestAffordableRequests(t *testing.T) {
	cases := []struct {
		balance, price string
		want           int64
	}{
		{"1000", "100", 10000},
		{"0", "100", 0},
		{"1000", "0", 0},
		{"10", "3", 3333},
		{"0.5", "0.25", 2000},
	}
	for _, c := range cases {
		got := AffordableRequests(decimal.RequireFromString(c.balance), decimal.RequireFromString(c.price))
		if got != c.want {
			t.Errorf("AffordableRequests(%s, %s) = %d, want %d", c.balance, c.price, got, c.want)
		}
	}
}

func TestLowBalanceWarning(t *testing.T) {
	cases := map[string]bool{
		"350":    true,
		"0":      false,
		"500":    false,
		"400":    false,
		"399.99": true,
		"-1":     false,
	}
	for balance, want := range cases {
		if got := LowBalanceWarning(decimal.RequireFromString(balance)); got != want {
			t.Errorf("LowBalanceWarning(%s) = %v, want %v", balance, got, want)
		}
	}
}

func TestSuggestedDeposit(t *testing.T) {
	if got := SuggestedDeposit(decimal.NewFromInt(2), 8); !got.Equal(decimal.NewFromInt(320)) {
		t.Errorf("SuggestedDeposit(2, 8) = %s, want 320", got)
	}
	if got := SuggestedDeposit(decimal.NewFromInt(2), 0); !got.Equal(decimal.NewFromInt(80)) {
		t.Errorf("SuggestedDeposit(2, 0) = %s, want 80", got)
	}
	if got := SuggestedDeposit(decimal.Zero, 8); !got.IsZero() {
		t.Errorf("zero price should suggest nothing, got %s", got)
	}
}

func TestEstimateFiat(t *testing.T) {
	v, ok := EstimateFiat(decimal.RequireFromString("2.5"), decimal.RequireFromString("0.012345"))
	if !ok || v.String() != "0.0309" {
		t.Errorf("EstimateFiat = (%s, %v), want (0.0309, true)", v, ok)
	}
	if _, ok := EstimateFiat(decimal.NewFromInt(1), decimal.Zero); ok {
		t.Error("unknown token price must not produce an estimate")
	}
}

// TestOfferSnapshotIsSealed proves the snapshot is isolated from later edits
func TestOfferSnapshotIsSealed(t *testing.T) {
	offers := offersAt(10, 20, 30, 40, 50, 60)
	snap := NewOfferSnapshot("1", "QmDeployment", offers, time.Unix(0, 0))

	offers[0].PricePerThousand = decimal.NewFromInt(999)
	out := snap.Offers()
	out[1].PricePerThousand = decimal.NewFromInt(999)

	if !snap.Offers()[0].PricePerThousand.Equal(decimal.NewFromInt(10)) {
		t.Fatal("snapshot changed after caller mutated its input")
	}
	if !snap.Offers()[1].PricePerThousand.Equal(decimal.NewFromInt(20)) {
		t.Fatal("snapshot changed after caller mutated Offers()")
	}
	assertTiers(t, snap.Tiers(), 30, 50)
	if snap.MatchedProviders(decimal.NewFromInt(30)) != 3 {
		t.Errorf("matched = %d, want 3", snap.MatchedProviders(decimal.NewFromInt(30)))
	}
}

func TestOfferSnapshotHashTracksContent(t *testing.T) {
	a := NewOfferSnapshot("1", "Qm", offersAt(1, 2, 3), time.Now())
	b := NewOfferSnapshot("1", "Qm", offersAt(1, 2, 3), time.Now().Add(time.Hour))
	c := NewOfferSnapshot("1", "Qm", offersAt(1, 2, 4), time.Now())

	if a.ContentHash != b.ContentHash {
		t.Error("identical samples must hash identically")
	}
	if a.ContentHash == c.ContentHash {
		t.Error("different samples must hash differently")
	}
}
