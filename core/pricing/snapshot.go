package pricing

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"flexplan/core/determinism"
	"flexplan/core/types"
)

// OfferSnapshot is IMMUTABLE after creation.
// It captures the provider offers for one deployment at the moment a wizard
// session starts, along with the tiers derived from them.
type OfferSnapshot struct {
	// Identity
	ProjectID    string
	DeploymentID string
	ContentHash  determinism.ContentHash // SHA-256 of all offers, in input order
	FetchedAt    time.Time

	offers []types.ProviderOffer
	tiers  types.PricingTiers
}

// NewOfferSnapshot seals a sample of offers. The input slice is copied.
func NewOfferSnapshot(projectID, deploymentID string, offers []types.ProviderOffer, fetchedAt time.Time) *OfferSnapshot {
	copied := make([]types.ProviderOffer, len(offers))
	copy(copied, offers)

	return &OfferSnapshot{
		ProjectID:    projectID,
		DeploymentID: deploymentID,
		ContentHash:  hashOffers(copied),
		FetchedAt:    fetchedAt,
		offers:       copied,
		tiers:        EstimateTiers(copied),
	}
}

func hashOffers(offers []types.ProviderOffer) determinism.ContentHash {
	parts := make([]string, 0, len(offers)*3)
	for _, o := range offers {
		parts = append(parts,
			o.ProviderID,
			o.PricePerThousand.String(),
			strconv.FormatInt(o.MaxDurationSeconds, 10),
		)
	}
	return determinism.ComputeHashParts(parts...)
}

// Offers returns a copy of the sampled offers
func (s *OfferSnapshot) Offers() []types.ProviderOffer {
	out := make([]types.ProviderOffer, len(s.offers))
	copy(out, s.offers)
	return out
}

// Len returns the sample size
func (s *OfferSnapshot) Len() int {
	return len(s.offers)
}

// Tiers returns the recommended tiers for this sample
func (s *OfferSnapshot) Tiers() types.PricingTiers {
	return s.tiers
}

// MatchedProviders counts offers at or under the given per-1000 price
func (s *OfferSnapshot) MatchedProviders(threshold decimal.Decimal) int {
	return MatchedProviders(threshold, s.offers)
}

// Expiration returns the plan duration derived from the sample
func (s *OfferSnapshot) Expiration() int64 {
	return PlanExpiration(s.offers)
}
