package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flexplan/core/clients/clientstest"
	"flexplan/core/types"
)

const billingContract = "0xbilling"

func fixture() (*clientstest.Ledger, *clientstest.Billing, *Pipeline) {
	ledger := clientstest.NewLedger("0xconsumer", "1000")
	billing := &clientstest.Billing{}
	p := New(ledger, billing, billingContract, WithLogger(zap.NewNop()))
	return ledger, billing, p
}

func baseRequest() Request {
	return Request{
		ProjectID:     "42",
		DeploymentID:  "QmDeployment",
		Price:         decimal.NewFromInt(2),
		MaxProviders:  decimal.NewFromInt(8),
		DepositAmount: decimal.NewFromInt(500),
		Offers: []types.ProviderOffer{
			{ProviderID: "0xa", PricePerThousand: decimal.NewFromInt(1), MaxDurationSeconds: 3600},
			{ProviderID: "0xb", PricePerThousand: decimal.NewFromInt(3), MaxDurationSeconds: 86400},
		},
	}
}

// TestRunFreshAccount proves a new account goes through every stage
func TestRunFreshAccount(t *testing.T) {
	ledger, billing, p := fixture()

	out, err := p.Run(context.Background(), baseRequest())
	require.NoError(t, err)
	require.True(t, out.Succeeded())

	assert.Len(t, out.TxHashes(), 2, "approve and deposit")
	assert.True(t, out.DepositConsumed)
	assert.True(t, out.BalanceRefreshed)
	assert.Equal(t, types.BaseUnits("500000000000000000000"), out.BillingBalance)

	require.NotNil(t, out.APIKey)
	assert.Equal(t, types.ReservedAPIKeyName, out.APIKey.Name)

	require.NotNil(t, out.Plan)
	assert.Equal(t, types.BaseUnits("2000000000000000"), out.Plan.Price)
	assert.Equal(t, 8, out.Plan.Maximum)
	assert.Equal(t, int64(86400), out.Plan.Expiration)

	assert.Equal(t, 2, ledger.Mutations())
	assert.Equal(t, 2, billing.Mutations())
	for _, r := range out.Stages {
		assert.Equal(t, StatusDone, r.Status, r.Stage.String())
	}
}

// TestRunSecondRunIsIdempotent proves a re-run after success changes nothing
func TestRunSecondRunIsIdempotent(t *testing.T) {
	ledger, billing, p := fixture()
	ctx := context.Background()

	first, err := p.Run(ctx, baseRequest())
	require.NoError(t, err)

	// The wizard clears the consumed deposit and records what was created.
	req := baseRequest()
	req.DepositAmount = decimal.Zero
	req.ExistingAPIKey = first.APIKey
	req.ExistingPlan = first.Plan

	ledgerBefore, billingBefore := ledger.Mutations(), billing.Mutations()
	second, err := p.Run(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Succeeded())
	assert.Equal(t, ledgerBefore, ledger.Mutations(), "ledger mutated on second run")
	assert.Equal(t, billingBefore, billing.Mutations(), "billing mutated on second run")
	for _, r := range second.Stages {
		assert.Equal(t, StatusSkipped, r.Status, r.Stage.String())
	}
}

// TestRunNewSessionFindsLiveState proves a session that recorded nothing
// still converges without duplicating the key or the plan
func TestRunNewSessionFindsLiveState(t *testing.T) {
	ledger, billing, p := fixture()
	ctx := context.Background()

	_, err := p.Run(ctx, baseRequest())
	require.NoError(t, err)

	req := baseRequest()
	req.DepositAmount = decimal.Zero
	before := billing.Mutations()

	out, err := p.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, before, billing.Mutations())
	assert.Equal(t, 2, ledger.Mutations())
	assert.Len(t, billing.Keys, 1)
	assert.Len(t, billing.Plans, 1)
	require.NotNil(t, out.Plan)
	assert.Equal(t, billing.Plans[0].ID, out.Plan.ID)
	assert.True(t, out.PlanExisted)
}

// TestRunMarksPlanFoundByDeployment proves a plan the session did not know
// about is reported as existing once the run updates it
func TestRunMarksPlanFoundByDeployment(t *testing.T) {
	_, billing, p := fixture()
	billing.Plans = []types.HostingPlan{{
		ID:           "12",
		DeploymentID: "QmDeployment",
		Price:        types.PerRequestBaseUnits(decimal.NewFromInt(1)),
		Maximum:      2,
		Expiration:   3600,
	}}

	req := baseRequest()
	req.DepositAmount = decimal.Zero

	out, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, req.Editing())
	assert.True(t, billing.Called("UpdateHostingPlan"))
	assert.True(t, out.PlanExisted)

	_, billing, p = fixture()
	out, err = p.Run(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.True(t, billing.Called("CreateHostingPlan"))
	assert.False(t, out.PlanExisted)
}

// TestRunAllowanceFailureStopsLaterStages proves the first failure aborts the run
func TestRunAllowanceFailureStopsLaterStages(t *testing.T) {
	ledger, billing, p := fixture()
	ledger.AllowanceErr = errors.New("rpc unavailable")

	out, err := p.Run(context.Background(), baseRequest())
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageAllowance, stageErr.Stage)
	assert.Contains(t, stageErr.Message(), "rpc unavailable")

	assert.False(t, ledger.Called("Approve"))
	assert.False(t, ledger.Called("Deposit"))
	assert.False(t, billing.Called("ListAPIKeys"))
	assert.False(t, billing.Called("CreateAPIKey"))
	assert.False(t, billing.Called("ListHostingPlans"))
	assert.False(t, billing.Called("CreateHostingPlan"))

	require.Len(t, out.Stages, 1)
	assert.Equal(t, StatusFailed, out.Stages[0].Status)
	assert.False(t, out.Succeeded())
}

// TestRunRevertedApproval proves a mined-but-failed approval fails its stage
func TestRunRevertedApproval(t *testing.T) {
	ledger, _, p := fixture()
	ledger.RevertNext = true

	out, err := p.Run(context.Background(), baseRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReverted)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageAllowance, stageErr.Stage)
	assert.False(t, ledger.Called("Deposit"))

	report, ok := out.Report(StageAllowance)
	require.True(t, ok)
	assert.NotEmpty(t, report.TxHash)
}

// TestRunSkipsApprovalWhenAllowanceCovers proves an existing allowance is reused
func TestRunSkipsApprovalWhenAllowanceCovers(t *testing.T) {
	ledger, _, p := fixture()
	ledger.Allowed = decimal.NewFromInt(750)

	out, err := p.Run(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.False(t, ledger.Called("Approve"))
	assert.True(t, ledger.Called("Deposit"))

	report, _ := out.Report(StageAllowance)
	assert.Equal(t, StatusSkipped, report.Status)
}

// TestRunDetectsKeyFromAnotherSession proves keys are re-listed before creation
func TestRunDetectsKeyFromAnotherSession(t *testing.T) {
	_, billing, p := fixture()
	billing.Keys = []types.APIKey{
		{ID: "k-1", Name: "personal"},
		{ID: "k-2", Name: types.ReservedAPIKeyName},
	}

	out, err := p.Run(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.False(t, billing.Called("CreateAPIKey"))
	require.NotNil(t, out.APIKey)
	assert.Equal(t, "k-2", out.APIKey.ID)
}

// TestRunServiceErrorFailsKeyStage proves an error payload is a stage failure
func TestRunServiceErrorFailsKeyStage(t *testing.T) {
	_, billing, p := fixture()
	billing.ListKeysFail = "session expired"

	out, err := p.Run(context.Background(), baseRequest())
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageAPIKey, stageErr.Stage)
	assert.Equal(t, "session expired", stageErr.Message())
	assert.False(t, billing.Called("CreateAPIKey"))
	assert.False(t, billing.Called("CreateHostingPlan"))

	// Confirmed ledger work is reported so the caller can clear the deposit.
	assert.True(t, out.DepositConsumed)
}

func TestRunCreateKeyServiceError(t *testing.T) {
	_, billing, p := fixture()
	billing.CreateKeyFail = "key quota reached"

	_, err := p.Run(context.Background(), baseRequest())
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageAPIKey, stageErr.Stage)
	assert.EqualError(t, stageErr.Unwrap(), "key quota reached")
}

// TestRunPlanServiceError proves the plan stage fails on an error payload
func TestRunPlanServiceError(t *testing.T) {
	_, billing, p := fixture()
	billing.CreatePlanFail = "deployment not indexed"

	out, err := p.Run(context.Background(), baseRequest())
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StagePlan, stageErr.Stage)
	assert.Equal(t, "plan stage failed: deployment not indexed", err.Error())
	assert.Nil(t, out.Plan)
	assert.Len(t, out.Stages, 4)
}

// TestRunEditsExistingPlan proves edit mode updates the plan by id
func TestRunEditsExistingPlan(t *testing.T) {
	_, billing, p := fixture()
	existing := types.HostingPlan{
		ID:           "77",
		DeploymentID: "QmDeployment",
		Price:        types.PerRequestBaseUnits(decimal.NewFromInt(1)),
		Maximum:      2,
		Expiration:   3600,
	}
	billing.Plans = []types.HostingPlan{existing}

	req := baseRequest()
	req.DepositAmount = decimal.Zero
	req.ExistingPlan = &existing
	req.MaxProviders = decimal.RequireFromString("2.5")

	out, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, billing.Called("UpdateHostingPlan"))
	assert.False(t, billing.Called("CreateHostingPlan"))

	require.NotNil(t, out.Plan)
	assert.Equal(t, "77", out.Plan.ID)
	assert.Equal(t, 3, out.Plan.Maximum, "max providers is rounded up")
	assert.Equal(t, types.BaseUnits("2000000000000000"), out.Plan.Price)
	assert.Equal(t, int64(86400), out.Plan.Expiration)
}

// TestRunDefaultExpiration proves an empty sample uses the seven day default
func TestRunDefaultExpiration(t *testing.T) {
	_, _, p := fixture()
	req := baseRequest()
	req.Offers = nil

	out, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(604800), out.Plan.Expiration)
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	ledger, billing, p := fixture()
	req := baseRequest()
	req.Price = decimal.Zero

	_, err := p.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, ledger.Calls)
	assert.Empty(t, billing.Calls)
}

func TestRunCancelledContext(t *testing.T) {
	ledger, _, p := fixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, baseRequest())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ledger.Calls)
}

// TestRunObserverSeesOrderedProgress proves observers see start and end of each stage
func TestRunObserverSeesOrderedProgress(t *testing.T) {
	ledger := clientstest.NewLedger("0xconsumer", "1000")
	var seen []StageReport
	p := New(ledger, &clientstest.Billing{}, billingContract,
		WithLogger(zap.NewNop()),
		WithObserver(func(r StageReport) { seen = append(seen, r) }),
	)

	_, err := p.Run(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Len(t, seen, 8)
	for i, stage := range Stages() {
		assert.Equal(t, stage, seen[2*i].Stage)
		assert.Equal(t, StatusRunning, seen[2*i].Status)
		assert.Equal(t, stage, seen[2*i+1].Stage)
		assert.NotEqual(t, StatusRunning, seen[2*i+1].Status)
	}
}

// TestPreviewMatchesRun proves the checklist reflects what a run would do
func TestPreviewMatchesRun(t *testing.T) {
	ledger, billing, p := fixture()
	ctx := context.Background()

	items, err := p.Preview(ctx, baseRequest())
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, 4, Pending(items))
	assert.Zero(t, ledger.Mutations())
	assert.Zero(t, billing.Mutations())

	_, err = p.Run(ctx, baseRequest())
	require.NoError(t, err)

	req := baseRequest()
	req.DepositAmount = decimal.Zero
	items, err = p.Preview(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, Pending(items))
}

func TestPreviewReportsFailingStage(t *testing.T) {
	_, billing, p := fixture()
	billing.ListPlansFail = "maintenance"

	_, err := p.Preview(context.Background(), baseRequest())
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StagePlan, stageErr.Stage)
}
