package wizard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"flexplan/core/types"
)

const (
	fieldTier         = "tier"
	fieldPrice        = "price"
	fieldMaxProviders = "max_providers"
	fieldDeposit      = "deposit"
)

// ValidationError lists the form fields that blocked a transition.
// The wizard state is unchanged when one is returned.
type ValidationError struct {
	Fields map[string]string
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Field returns the message for one field
func (e *ValidationError) Field(name string) (string, bool) {
	msg, ok := e.Fields[name]
	return msg, ok
}

func validateCustom(priceInput, maxInput string) (PlanDraft, error) {
	verr := &ValidationError{}
	draft := PlanDraft{Tier: types.TierCustom}

	price, ok, err := types.ParseAmount(priceInput)
	switch {
	case err != nil:
		verr.add(fieldPrice, "price must be a number")
	case !ok:
		verr.add(fieldPrice, "price is required")
	case !price.IsPositive():
		verr.add(fieldPrice, "price must be greater than 0")
	default:
		draft.Price = price
	}

	limit, ok, err := types.ParseAmount(maxInput)
	switch {
	case err != nil:
		verr.add(fieldMaxProviders, "max providers must be a number")
	case !ok:
		draft.MaxProviders = decimal.NewFromInt(types.MinMaxProviders)
	case limit.LessThan(decimal.NewFromInt(types.MinMaxProviders)):
		verr.add(fieldMaxProviders, fmt.Sprintf("max providers must be at least %d", types.MinMaxProviders))
	default:
		draft.MaxProviders = limit
	}

	if len(verr.Fields) > 0 {
		return PlanDraft{}, verr
	}
	return draft, nil
}

func validateDeposit(input string) (decimal.Decimal, error) {
	amount, ok, err := types.ParseAmount(input)
	switch {
	case err != nil:
		return decimal.Zero, newValidationError(fieldDeposit, "deposit must be a number")
	case !ok:
		return decimal.Zero, newValidationError(fieldDeposit, "deposit amount is required")
	case amount.LessThan(decimal.NewFromInt(types.MinimumDeposit)):
		return decimal.Zero, newValidationError(fieldDeposit,
			fmt.Sprintf("minimum deposit amount is %d %s", types.MinimumDeposit, types.TokenSymbol))
	}
	return amount, nil
}
