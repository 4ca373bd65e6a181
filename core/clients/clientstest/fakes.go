// Package clientstest provides in-memory ledger and billing service fakes
// for tests. Both record every call so tests can assert what was mutated.
package clientstest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"flexplan/core/clients"
	"flexplan/core/types"
)

// Tx is a transaction handle with a fixed receipt
type Tx struct {
	hash    string
	status  clients.ReceiptStatus
	waitErr error
}

// Hash returns the transaction hash
func (t *Tx) Hash() string { return t.hash }

// Wait returns the receipt immediately
func (t *Tx) Wait(ctx context.Context) (clients.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return clients.Receipt{}, err
	}
	if t.waitErr != nil {
		return clients.Receipt{}, t.waitErr
	}
	return clients.Receipt{TxHash: t.hash, BlockNumber: 1, Status: t.status}, nil
}

// Ledger is an in-memory ledger for one account.
type Ledger struct {
	mu sync.Mutex

	Address   string
	Wallet    decimal.Decimal
	Billing   decimal.Decimal
	Allowed   decimal.Decimal
	txCounter int

	// Injected failures
	AllowanceErr error
	ApproveErr   error
	DepositErr   error
	BalanceErr   error
	RevertNext   bool

	Calls []string
}

// NewLedger creates a ledger holding wallet tokens (human scale)
func NewLedger(address string, wallet string) *Ledger {
	return &Ledger{
		Address: address,
		Wallet:  decimal.RequireFromString(wallet),
	}
}

// Mutations counts the calls that submitted a transaction
func (l *Ledger) Mutations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.Calls {
		if c == "Approve" || c == "Deposit" {
			n++
		}
	}
	return n
}

// Called reports whether a method was invoked
func (l *Ledger) Called(method string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.Calls {
		if c == method {
			return true
		}
	}
	return false
}

// Count returns how many times a method was invoked
func (l *Ledger) Count(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.Calls {
		if c == method {
			n++
		}
	}
	return n
}

func (l *Ledger) record(method string) {
	l.mu.Lock()
	l.Calls = append(l.Calls, method)
	l.mu.Unlock()
}

func (l *Ledger) nextTx() *Tx {
	l.txCounter++
	tx := &Tx{hash: fmt.Sprintf("0x%064x", l.txCounter), status: clients.ReceiptSucceeded}
	if l.RevertNext {
		tx.status = clients.ReceiptReverted
		l.RevertNext = false
	}
	return tx
}

// Account returns the connected address
func (l *Ledger) Account() string { return l.Address }

// Allowance returns the approved amount
func (l *Ledger) Allowance(ctx context.Context, spender string) (types.BaseUnits, error) {
	l.record("Allowance")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.AllowanceErr != nil {
		return "", l.AllowanceErr
	}
	return types.ToBaseUnits(l.Allowed), nil
}

// Approve sets the allowance
func (l *Ledger) Approve(ctx context.Context, spender string, amount types.BaseUnits) (clients.Tx, error) {
	l.record("Approve")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ApproveErr != nil {
		return nil, l.ApproveErr
	}
	tx := l.nextTx()
	if tx.status == clients.ReceiptSucceeded {
		l.Allowed = types.MustFromBaseUnits(amount)
	}
	return tx, nil
}

// Deposit moves tokens from the wallet into the billing balance
func (l *Ledger) Deposit(ctx context.Context, amount types.BaseUnits, flag bool) (clients.Tx, error) {
	l.record("Deposit")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.DepositErr != nil {
		return nil, l.DepositErr
	}
	value := types.MustFromBaseUnits(amount)
	if value.GreaterThan(l.Allowed) || value.GreaterThan(l.Wallet) {
		return nil, fmt.Errorf("deposit of %s exceeds allowance or balance", value)
	}
	tx := l.nextTx()
	if tx.status == clients.ReceiptSucceeded {
		l.Allowed = l.Allowed.Sub(value)
		l.Wallet = l.Wallet.Sub(value)
		l.Billing = l.Billing.Add(value)
	}
	return tx, nil
}

// BalanceOf returns the wallet balance
func (l *Ledger) BalanceOf(ctx context.Context, address string) (types.BaseUnits, error) {
	l.record("BalanceOf")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.BalanceErr != nil {
		return "", l.BalanceErr
	}
	return types.ToBaseUnits(l.Wallet), nil
}

// BillingBalance returns the billing balance
func (l *Ledger) BillingBalance(ctx context.Context, address string) (types.BaseUnits, error) {
	l.record("BillingBalance")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.BalanceErr != nil {
		return "", l.BalanceErr
	}
	return types.ToBaseUnits(l.Billing), nil
}

// Billing is an in-memory billing service.
type Billing struct {
	mu sync.Mutex

	Offers []types.ProviderOffer
	Keys   []types.APIKey
	Plans  []types.HostingPlan

	// Injected failures: transport errors and service error messages
	OffersErr      error
	ListKeysErr    error
	ListKeysFail   string
	CreateKeyFail  string
	ListPlansFail  string
	CreatePlanFail string
	UpdatePlanFail string

	Calls  []string
	nextID int
}

// Mutations counts create and update calls
func (b *Billing) Mutations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.Calls {
		switch c {
		case "CreateAPIKey", "CreateHostingPlan", "UpdateHostingPlan":
			n++
		}
	}
	return n
}

// Called reports whether a method was invoked
func (b *Billing) Called(method string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.Calls {
		if c == method {
			return true
		}
	}
	return false
}

func (b *Billing) record(method string) {
	b.Calls = append(b.Calls, method)
}

func (b *Billing) id() string {
	b.nextID++
	return strconv.Itoa(b.nextID)
}

// ListIndexerOffers returns the configured offers
func (b *Billing) ListIndexerOffers(ctx context.Context, projectID, deploymentID string) ([]types.ProviderOffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("ListIndexerOffers")
	if b.OffersErr != nil {
		return nil, b.OffersErr
	}
	return append([]types.ProviderOffer(nil), b.Offers...), nil
}

// ListAPIKeys returns the stored keys
func (b *Billing) ListAPIKeys(ctx context.Context) (types.Result[[]types.APIKey], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("ListAPIKeys")
	if b.ListKeysErr != nil {
		return types.Result[[]types.APIKey]{}, b.ListKeysErr
	}
	if b.ListKeysFail != "" {
		return types.Fail[[]types.APIKey](b.ListKeysFail), nil
	}
	return types.Ok(append([]types.APIKey(nil), b.Keys...)), nil
}

// CreateAPIKey stores a key
func (b *Billing) CreateAPIKey(ctx context.Context, name string) (types.Result[types.APIKey], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("CreateAPIKey")
	if b.CreateKeyFail != "" {
		return types.Fail[types.APIKey](b.CreateKeyFail), nil
	}
	key := types.APIKey{ID: b.id(), Name: name}
	b.Keys = append(b.Keys, key)
	return types.Ok(key), nil
}

// ListHostingPlans returns the stored plans
func (b *Billing) ListHostingPlans(ctx context.Context) (types.Result[[]types.HostingPlan], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("ListHostingPlans")
	if b.ListPlansFail != "" {
		return types.Fail[[]types.HostingPlan](b.ListPlansFail), nil
	}
	return types.Ok(append([]types.HostingPlan(nil), b.Plans...)), nil
}

// CreateHostingPlan stores a plan
func (b *Billing) CreateHostingPlan(ctx context.Context, params types.HostingPlanParams) (types.Result[types.HostingPlan], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("CreateHostingPlan")
	if b.CreatePlanFail != "" {
		return types.Fail[types.HostingPlan](b.CreatePlanFail), nil
	}
	plan := types.HostingPlan{
		ID:           b.id(),
		DeploymentID: params.DeploymentID,
		Price:        params.Price,
		Maximum:      params.Maximum,
		Expiration:   params.Expiration,
	}
	b.Plans = append(b.Plans, plan)
	return types.Ok(plan), nil
}

// UpdateHostingPlan replaces a stored plan's terms
func (b *Billing) UpdateHostingPlan(ctx context.Context, id string, params types.HostingPlanParams) (types.Result[types.HostingPlan], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("UpdateHostingPlan")
	if b.UpdatePlanFail != "" {
		return types.Fail[types.HostingPlan](b.UpdatePlanFail), nil
	}
	for i := range b.Plans {
		if b.Plans[i].ID == id {
			b.Plans[i].Price = params.Price
			b.Plans[i].Maximum = params.Maximum
			b.Plans[i].Expiration = params.Expiration
			return types.Ok(b.Plans[i]), nil
		}
	}
	return types.Fail[types.HostingPlan]("hosting plan " + id + " not found"), nil
}

var (
	_ clients.Ledger         = (*Ledger)(nil)
	_ clients.BillingService = (*Billing)(nil)
)
