// Package types defines core domain types shared across all layers.
// This package contains NO orchestration logic - only type definitions,
// unit conversions and the fixed constants of a Flex Plan.
package types

import (
	"fmt"
	"strings"
	"time"
)

const (
	// MinimumDeposit is the smallest deposit accepted by the wizard, in tokens
	MinimumDeposit = 500

	// LowBalanceFloor is the billing balance under which a funded account is flagged
	LowBalanceFloor = 400

	// DefaultPlanExpiration is used when no offer reports a maximum duration
	DefaultPlanExpiration = 7 * 24 * time.Hour

	// ReservedAPIKeyName is the key name the wizard creates and looks for.
	// Keys created from other tools with this name are treated as ours.
	ReservedAPIKeyName = "flex-plan-endpoint"

	// EconomyMaxProviders is the provider limit applied with the economy tier
	EconomyMaxProviders = 8

	// PerformanceMaxProviders is the provider limit applied with the performance tier
	PerformanceMaxProviders = 15

	// MinMaxProviders is the lowest provider limit a custom plan may carry
	MinMaxProviders = 2

	// TokenSymbol is the display symbol of the settlement token
	TokenSymbol = "SQT"
)

// Tier identifies a plan pricing tier
type Tier string

const (
	TierEconomy     Tier = "economy"
	TierPerformance Tier = "performance"
	TierCustom      Tier = "custom"
)

// String returns the string representation
func (t Tier) String() string {
	return string(t)
}

// IsValid checks if the tier is one of the known tiers
func (t Tier) IsValid() bool {
	switch t {
	case TierEconomy, TierPerformance, TierCustom:
		return true
	default:
		return false
	}
}

// ParseTier parses a tier name, case-insensitively
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown tier %q (want economy, performance or custom)", s)
	}
	return t, nil
}

// AllTiers returns the tiers in display order
func AllTiers() []Tier {
	return []Tier{TierEconomy, TierPerformance, TierCustom}
}
