// Package clients - Collaborator interfaces
// The ledger and the billing service are external systems of record.
// Everything the orchestrator needs from them is declared here; adapters
// provide the implementations and tests provide fakes.
package clients

import (
	"context"

	"flexplan/core/types"
)

// ReceiptStatus is the execution status recorded on the ledger
type ReceiptStatus int

const (
	// ReceiptReverted marks a transaction that was mined but failed
	ReceiptReverted ReceiptStatus = 0

	// ReceiptSucceeded marks a transaction that was mined and applied
	ReceiptSucceeded ReceiptStatus = 1
)

// Receipt is the confirmation of a mined transaction
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Status      ReceiptStatus
}

// Succeeded reports whether the transaction was applied
func (r Receipt) Succeeded() bool {
	return r.Status == ReceiptSucceeded
}

// Tx is a submitted ledger transaction
type Tx interface {
	// Hash returns the transaction hash
	Hash() string

	// Wait blocks until the transaction is confirmed or ctx ends
	Wait(ctx context.Context) (Receipt, error)
}

// Ledger is the on-chain side: the connected wallet's token and the billing
// contract holding the consumer's deposits. The wallet is implicit.
type Ledger interface {
	// Account returns the connected wallet address
	Account() string

	// Allowance returns how much spender may pull from the wallet
	Allowance(ctx context.Context, spender string) (types.BaseUnits, error)

	// Approve lets spender pull up to amount from the wallet
	Approve(ctx context.Context, spender string, amount types.BaseUnits) (Tx, error)

	// Deposit moves amount from the wallet into the billing contract.
	// flag is forwarded to the contract's deposit call unchanged.
	Deposit(ctx context.Context, amount types.BaseUnits, flag bool) (Tx, error)

	// BalanceOf returns the wallet token balance of address
	BalanceOf(ctx context.Context, address string) (types.BaseUnits, error)

	// BillingBalance returns the balance address holds in the billing contract
	BillingBalance(ctx context.Context, address string) (types.BaseUnits, error)
}

// BillingService is the off-chain service that tracks plans and API keys.
//
// Calls return a types.Result for answers the service gave (including its
// own error payloads) and a Go error only when no answer was obtained.
type BillingService interface {
	// ListIndexerOffers returns the providers currently quoting a deployment
	ListIndexerOffers(ctx context.Context, projectID, deploymentID string) ([]types.ProviderOffer, error)

	// ListAPIKeys returns the account's API keys
	ListAPIKeys(ctx context.Context) (types.Result[[]types.APIKey], error)

	// CreateAPIKey issues a new API key
	CreateAPIKey(ctx context.Context, name string) (types.Result[types.APIKey], error)

	// ListHostingPlans returns the account's Flex Plans
	ListHostingPlans(ctx context.Context) (types.Result[[]types.HostingPlan], error)

	// CreateHostingPlan opens a new Flex Plan
	CreateHostingPlan(ctx context.Context, params types.HostingPlanParams) (types.Result[types.HostingPlan], error)

	// UpdateHostingPlan changes an existing Flex Plan
	UpdateHostingPlan(ctx context.Context, id string, params types.HostingPlanParams) (types.Result[types.HostingPlan], error)
}
