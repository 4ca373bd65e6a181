package sandbox

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flexplan/core/clients"
	"flexplan/core/pipeline"
	"flexplan/core/types"
)

const (
	consumer = "0xconsumer"
	contract = "0xbilling"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func units(t *testing.T, b types.BaseUnits) decimal.Decimal {
	t.Helper()
	d, err := types.FromBaseUnits(b)
	require.NoError(t, err)
	return d
}

func TestFundAndBalances(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	l := s.Ledger(consumer, contract)

	bal, err := l.BalanceOf(ctx, consumer)
	require.NoError(t, err)
	assert.True(t, bal.IsZero(), "unknown accounts read as empty")

	require.NoError(t, s.Fund(ctx, consumer, decimal.NewFromInt(750)))
	bal, err = l.BalanceOf(ctx, consumer)
	require.NoError(t, err)
	assert.True(t, units(t, bal).Equal(decimal.NewFromInt(750)))

	created, err := s.EnsureAccount(ctx, consumer, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.False(t, created)

	assert.Error(t, s.Fund(ctx, consumer, decimal.Zero))
}

func TestApproveThenDeposit(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Fund(ctx, consumer, decimal.NewFromInt(1000)))
	l := s.Ledger(consumer, contract)

	amount := types.ToBaseUnits(decimal.NewFromInt(600))
	tx, err := l.Approve(ctx, contract, amount)
	require.NoError(t, err)
	receipt, err := tx.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, tx.Hash(), receipt.TxHash)

	allowed, err := l.Allowance(ctx, contract)
	require.NoError(t, err)
	assert.Equal(t, amount, allowed)

	tx, err = l.Deposit(ctx, types.ToBaseUnits(decimal.NewFromInt(500)), true)
	require.NoError(t, err)
	receipt, err = tx.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())

	wallet, _ := l.BalanceOf(ctx, consumer)
	billing, _ := l.BillingBalance(ctx, consumer)
	allowed, _ = l.Allowance(ctx, contract)
	assert.True(t, units(t, wallet).Equal(decimal.NewFromInt(500)))
	assert.True(t, units(t, billing).Equal(decimal.NewFromInt(500)))
	assert.True(t, units(t, allowed).Equal(decimal.NewFromInt(100)))
}

func TestDepositBeyondAllowanceReverts(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Fund(ctx, consumer, decimal.NewFromInt(1000)))
	l := s.Ledger(consumer, contract)

	_, err := l.Approve(ctx, contract, types.ToBaseUnits(decimal.NewFromInt(10)))
	require.NoError(t, err)

	tx, err := l.Deposit(ctx, types.ToBaseUnits(decimal.NewFromInt(100)), true)
	require.NoError(t, err)
	receipt, err := tx.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, clients.ReceiptReverted, receipt.Status)

	billing, _ := l.BillingBalance(ctx, consumer)
	assert.True(t, billing.IsZero())
}

func TestTxHashesAreUnique(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	l := s.Ledger(consumer, contract)
	amount := types.ToBaseUnits(decimal.NewFromInt(5))

	first, err := l.Approve(ctx, contract, amount)
	require.NoError(t, err)
	second, err := l.Approve(ctx, contract, amount)
	require.NoError(t, err)
	assert.NotEqual(t, first.Hash(), second.Hash())

	_, err = s.Receipt(ctx, "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOffersKeepListingOrder(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	for _, o := range []types.ProviderOffer{
		{ProviderID: "0xb", PricePerThousand: decimal.NewFromInt(3), MaxDurationSeconds: 600},
		{ProviderID: "0xa", PricePerThousand: decimal.NewFromInt(1), MaxDurationSeconds: 60},
	} {
		require.NoError(t, s.PutOffer(ctx, "42", "QmDeployment", o))
	}
	require.NoError(t, s.PutOffer(ctx, "42", "QmDeployment",
		types.ProviderOffer{ProviderID: "0xb", PricePerThousand: decimal.NewFromInt(4), MaxDurationSeconds: 600}))

	offers, err := s.Billing(consumer).ListIndexerOffers(ctx, "42", "QmDeployment")
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, "0xb", offers[0].ProviderID)
	assert.True(t, offers[0].PricePerThousand.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, "0xa", offers[1].ProviderID)

	none, err := s.Offers(ctx, "QmOther")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBillingPlans(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	b := s.Billing(consumer)

	params := types.HostingPlanParams{
		ID:           "0",
		DeploymentID: "QmDeployment",
		Price:        types.PerRequestBaseUnits(decimal.NewFromInt(2)),
		Maximum:      4,
		Expiration:   3600,
	}
	res, err := b.CreateHostingPlan(ctx, params)
	require.NoError(t, err)
	plan, err := res.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, "1", plan.ID)

	res, err = b.CreateHostingPlan(ctx, params)
	require.NoError(t, err)
	assert.True(t, res.IsError(), "one plan per deployment")

	params.Maximum = 6
	res, err = b.UpdateHostingPlan(ctx, plan.ID, params)
	require.NoError(t, err)
	require.False(t, res.IsError())

	list, err := b.ListHostingPlans(ctx)
	require.NoError(t, err)
	plans, _ := list.Value()
	require.Len(t, plans, 1)
	assert.Equal(t, 6, plans[0].Maximum)

	// Another account cannot see or change the plan
	other := s.Billing("0xother")
	res, err = other.UpdateHostingPlan(ctx, plan.ID, params)
	require.NoError(t, err)
	assert.True(t, res.IsError())

	params.Maximum = 1
	res, err = b.UpdateHostingPlan(ctx, plan.ID, params)
	require.NoError(t, err)
	assert.True(t, res.IsError())
}

func TestBillingAPIKeys(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	b := s.Billing(consumer)

	res, err := b.CreateAPIKey(ctx, types.ReservedAPIKeyName)
	require.NoError(t, err)
	key, err := res.Unwrap()
	require.NoError(t, err)
	assert.NotEmpty(t, key.ID)

	list, err := b.ListAPIKeys(ctx)
	require.NoError(t, err)
	keys, ok := list.Value()
	require.True(t, ok)
	found, ok := types.FindAPIKey(keys, types.ReservedAPIKeyName)
	require.True(t, ok)
	assert.Equal(t, key.ID, found.ID)

	res, err = s.Billing("").CreateAPIKey(ctx, "x")
	require.NoError(t, err)
	assert.True(t, res.IsError())
}

// TestPipelineAgainstSandbox runs the provisioning pipeline end to end on a
// file-backed sandbox and then repeats it from a fresh handle.
func TestPipelineAgainstSandbox(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sandbox.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Fund(ctx, consumer, decimal.NewFromInt(1000)))
	require.NoError(t, s.PutOffer(ctx, "42", "QmDeployment",
		types.ProviderOffer{ProviderID: "0xa", PricePerThousand: decimal.NewFromInt(1), MaxDurationSeconds: 86400}))

	offers, err := s.Offers(ctx, "QmDeployment")
	require.NoError(t, err)

	req := pipeline.Request{
		ProjectID:     "42",
		DeploymentID:  "QmDeployment",
		Price:         decimal.NewFromInt(2),
		MaxProviders:  decimal.NewFromInt(4),
		DepositAmount: decimal.NewFromInt(500),
		Offers:        offers,
	}
	p := pipeline.New(s.Ledger(consumer, contract), s.Billing(consumer), contract, pipeline.WithLogger(zap.NewNop()))
	out, err := p.Run(ctx, req)
	require.NoError(t, err)
	require.True(t, out.Succeeded())
	assert.Len(t, out.TxHashes(), 2)
	assert.True(t, units(t, out.BillingBalance).Equal(decimal.NewFromInt(500)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	req.DepositAmount = decimal.Zero
	p = pipeline.New(s.Ledger(consumer, contract), s.Billing(consumer), contract, pipeline.WithLogger(zap.NewNop()))
	out, err = p.Run(ctx, req)
	require.NoError(t, err)
	for _, r := range out.Stages {
		assert.Equal(t, pipeline.StatusSkipped, r.Status, r.Stage.String())
	}
}
