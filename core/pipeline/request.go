package pipeline

import (
	"fmt"

	"github.com/shopspring/decimal"

	"flexplan/core/pricing"
	"flexplan/core/types"
)

// Request is everything one provisioning run needs.
// Prices and amounts are human scale; conversion to base units happens
// inside the stages.
type Request struct {
	ProjectID    string
	DeploymentID string

	// Price is the plan price per 1000 requests
	Price decimal.Decimal

	// MaxProviders is the provider limit; fractional input is rounded up
	MaxProviders decimal.Decimal

	// DepositAmount is zero when the user skipped depositing
	DepositAmount decimal.Decimal

	// ExistingAPIKey and ExistingPlan are what the session already knows about
	ExistingAPIKey *types.APIKey
	ExistingPlan   *types.HostingPlan

	// Offers is the sample the plan expiration is derived from
	Offers []types.ProviderOffer
}

// Validate checks the fields every run depends on
func (r Request) Validate() error {
	if r.DeploymentID == "" {
		return fmt.Errorf("%w: deployment id is required", ErrInvalidRequest)
	}
	if !r.Price.IsPositive() {
		return fmt.Errorf("%w: price must be greater than zero", ErrInvalidRequest)
	}
	if r.MaxProviders.LessThan(decimal.NewFromInt(types.MinMaxProviders)) {
		return fmt.Errorf("%w: max providers must be at least %d", ErrInvalidRequest, types.MinMaxProviders)
	}
	if r.DepositAmount.IsNegative() {
		return fmt.Errorf("%w: deposit amount cannot be negative", ErrInvalidRequest)
	}
	return nil
}

// Editing reports whether the run updates a plan the session already knows
func (r Request) Editing() bool {
	return r.ExistingPlan != nil
}

func (r Request) depositUnits() types.BaseUnits {
	if !r.DepositAmount.IsPositive() {
		return types.ZeroUnits
	}
	return types.ToBaseUnits(r.DepositAmount)
}

// PlanParams derives the submitted plan fields. id is "0" for a new plan.
func (r Request) PlanParams(id string) types.HostingPlanParams {
	if id == "" {
		id = "0"
	}
	return types.HostingPlanParams{
		ID:           id,
		DeploymentID: r.DeploymentID,
		Price:        types.PerRequestBaseUnits(r.Price),
		Maximum:      int(r.MaxProviders.Ceil().IntPart()),
		Expiration:   pricing.PlanExpiration(r.Offers),
	}
}
