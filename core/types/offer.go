// Package types - Offer and plan types
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderOffer is one provider's quote to serve a deployment
type ProviderOffer struct {
	// ProviderID identifies the provider (indexer address)
	ProviderID string `json:"provider_id"`

	// PricePerThousand is the human-scale price of 1000 requests
	PricePerThousand decimal.Decimal `json:"price_per_thousand"`

	// MaxDurationSeconds is the longest plan duration the provider accepts
	MaxDurationSeconds int64 `json:"max_duration_seconds"`
}

// PricingTiers holds the recommended price points derived from offers.
// Performance is never below Economy.
type PricingTiers struct {
	Economy     decimal.Decimal `json:"economy"`
	Performance decimal.Decimal `json:"performance"`
}

// Price returns the recommended price for a non-custom tier.
// The custom tier has no recommendation and returns zero.
func (p PricingTiers) Price(t Tier) decimal.Decimal {
	switch t {
	case TierEconomy:
		return p.Economy
	case TierPerformance:
		return p.Performance
	default:
		return decimal.Zero
	}
}

// HostingPlan is a Flex Plan as recorded by the billing service
type HostingPlan struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Price        BaseUnits `json:"price"`
	Maximum      int       `json:"maximum"`
	Expiration   int64     `json:"expiration"`
}

// PricePerThousand returns the plan price in the human-scale per-1000 unit
func (p HostingPlan) PricePerThousand() decimal.Decimal {
	d, err := PerThousandFromBaseUnits(p.Price)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// HostingPlanParams are the fields submitted to create or update a plan
type HostingPlanParams struct {
	// ID is the plan being updated, "0" for a new plan
	ID           string    `json:"id"`
	DeploymentID string    `json:"deploymentId"`
	Price        BaseUnits `json:"price"`
	Maximum      int       `json:"maximum"`
	Expiration   int64     `json:"expiration"`
}

// APIKey is a personal API key issued by the billing service
type APIKey struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// FindAPIKey returns the key with the given name
func FindAPIKey(keys []APIKey, name string) (APIKey, bool) {
	for _, k := range keys {
		if k.Name == name {
			return k, true
		}
	}
	return APIKey{}, false
}

// FindHostingPlan returns the plan for a deployment
func FindHostingPlan(plans []HostingPlan, deploymentID string) (HostingPlan, bool) {
	for _, p := range plans {
		if p.DeploymentID == deploymentID {
			return p, true
		}
	}
	return HostingPlan{}, false
}
