package planfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flexplan/core/pricing"
	"flexplan/core/types"
	"flexplan/core/wizard"
)

const customPlan = `
project_id    = "42"
deployment_id = "QmDeployment"

plan {
  tier          = "custom"
  price         = 2.5
  max_providers = 4
}

deposit {
  amount = 500
}
`

func newWizard(balance int64) *wizard.Wizard {
	offers := []types.ProviderOffer{
		{ProviderID: "0xa", PricePerThousand: decimal.NewFromInt(1), MaxDurationSeconds: 3600},
		{ProviderID: "0xb", PricePerThousand: decimal.NewFromInt(2), MaxDurationSeconds: 3600},
		{ProviderID: "0xc", PricePerThousand: decimal.NewFromInt(3), MaxDurationSeconds: 3600},
	}
	return wizard.New(wizard.Config{
		ProjectID:      "42",
		DeploymentID:   "QmDeployment",
		Offers:         pricing.NewOfferSnapshot("42", "QmDeployment", offers, time.Unix(0, 0)),
		BillingBalance: decimal.NewFromInt(balance),
	})
}

func TestParseCustomPlan(t *testing.T) {
	f, err := Parse("plan.hcl", []byte(customPlan))
	require.NoError(t, err)

	assert.Equal(t, "42", f.ProjectID)
	assert.Equal(t, "QmDeployment", f.DeploymentID)
	assert.Equal(t, types.TierCustom, f.Tier())
	assert.Equal(t, "2.5", f.Plan.Price)
	assert.Equal(t, "4", f.Plan.MaxProviders)
	require.NotNil(t, f.Deposit)
	assert.Equal(t, "500", f.Deposit.Amount)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", `project_id = `, "plan.hcl"},
		{"missing plan", "project_id = \"1\"\ndeployment_id = \"Qm\"\n", "plan"},
		{"unknown tier", "project_id = \"1\"\ndeployment_id = \"Qm\"\nplan {\n  tier = \"gold\"\n}\n", "unknown tier"},
		{"empty project", "project_id = \"\"\ndeployment_id = \"Qm\"\nplan {\n  tier = \"economy\"\n}\n", "project_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("plan.hcl", []byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyReachesConfirm(t *testing.T) {
	f, err := Parse("plan.hcl", []byte(customPlan))
	require.NoError(t, err)

	w := newWizard(0)
	require.NoError(t, f.Apply(w))
	assert.Equal(t, wizard.StepConfirm, w.Step())

	req := w.Request()
	assert.True(t, req.Price.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, req.MaxProviders.Equal(decimal.NewFromInt(4)))
	assert.True(t, req.DepositAmount.Equal(decimal.NewFromInt(500)))
}

func TestApplyWithoutDepositSkips(t *testing.T) {
	f, err := Parse("plan.hcl", []byte("project_id = \"42\"\ndeployment_id = \"QmDeployment\"\nplan {\n  tier = \"economy\"\n}\n"))
	require.NoError(t, err)

	funded := newWizard(800)
	require.NoError(t, f.Apply(funded))
	assert.Equal(t, wizard.StepConfirm, funded.Step())
	assert.True(t, funded.Request().DepositAmount.IsZero())

	empty := newWizard(0)
	err = f.Apply(empty)
	assert.ErrorIs(t, err, wizard.ErrSkipUnavailable)
	assert.Equal(t, wizard.StepDeposit, empty.Step())
}

func TestApplySurfacesValidation(t *testing.T) {
	f, err := Parse("plan.hcl", []byte(customPlan))
	require.NoError(t, err)
	f.Deposit.Amount = "100"

	w := newWizard(0)
	err = f.Apply(w)
	var verr *wizard.ValidationError
	require.ErrorAs(t, err, &verr)
	_, ok := verr.Field("deposit")
	assert.True(t, ok)
}

func TestEncodeRoundTrip(t *testing.T) {
	f, err := Parse("plan.hcl", []byte(customPlan))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "plan.hcl")
	require.NoError(t, os.WriteFile(path, f.Encode(), 0o644))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, f, back)
}

func TestFromState(t *testing.T) {
	w := newWizard(0)
	require.NoError(t, w.SelectTier(types.TierCustom))
	require.NoError(t, w.SetCustomPrice("3"))
	require.NoError(t, w.SetCustomMaxProviders("5"))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetDeposit("600"))

	f := FromState("42", "QmDeployment", w.State())
	assert.Equal(t, "custom", f.Plan.Tier)
	assert.Equal(t, "3", f.Plan.Price)
	require.NotNil(t, f.Deposit)
	assert.Equal(t, "600", f.Deposit.Amount)
}
