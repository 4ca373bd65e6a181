package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flexplan/adapters/sandbox"
	"flexplan/core/pipeline"
	"flexplan/core/pricing"
	"flexplan/core/types"
	"flexplan/core/ui"
	"flexplan/core/wizard"
)

const (
	testAccount  = "0xconsumer"
	testContract = "0xbilling"
	testProject  = "42"
	testDeploy   = "QmDeployment"
)

// script answers questions in order and quits once it runs dry
type script struct {
	answers []string
	asked   []string
}

func (s *script) ask(label string, _ []prompt.Suggest) string {
	s.asked = append(s.asked, label)
	if len(s.answers) == 0 {
		return "quit"
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a
}

type consoleEnv struct {
	store     *sandbox.Store
	wz        *wizard.Wizard
	console   *console
	out       *bytes.Buffer
	cancelled bool
}

func newConsoleEnv(t *testing.T, balance decimal.Decimal, answers ...string) (*consoleEnv, *script) {
	t.Helper()
	ctx := context.Background()
	store, err := sandbox.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Fund(ctx, testAccount, decimal.NewFromInt(1000)))
	require.NoError(t, store.PutOffer(ctx, testProject, testDeploy,
		types.ProviderOffer{ProviderID: "0xa", PricePerThousand: decimal.NewFromInt(1), MaxDurationSeconds: 86400}))

	billing := store.Billing(testAccount)
	offers, err := billing.ListIndexerOffers(ctx, testProject, testDeploy)
	require.NoError(t, err)

	env := &consoleEnv{store: store, out: &bytes.Buffer{}}
	env.wz = wizard.New(wizard.Config{
		ProjectID:      testProject,
		DeploymentID:   testDeploy,
		Offers:         pricing.NewOfferSnapshot(testProject, testDeploy, offers, time.Now()),
		BillingBalance: balance,
		OnCancel:       func() { env.cancelled = true },
	})

	w := ui.NewWriter(env.out, true)
	progress := w.NewStageProgress()
	p := pipeline.New(store.Ledger(testAccount, testContract), billing, testContract,
		pipeline.WithLogger(zap.NewNop()),
		pipeline.WithObserver(progress.Observer()),
	)
	s := &script{answers: answers}
	env.console = newConsole(w, env.wz, p, progress, s.ask)
	return env, s
}

func (e *consoleEnv) plans(t *testing.T) []types.HostingPlan {
	t.Helper()
	res, err := e.store.Billing(testAccount).ListHostingPlans(context.Background())
	require.NoError(t, err)
	plans, err := res.Unwrap()
	require.NoError(t, err)
	return plans
}

func TestConsoleCreatesCustomPlan(t *testing.T) {
	env, s := newConsoleEnv(t, decimal.Zero, "custom", "2", "4", "500", "yes")
	var runs []pipeline.Request
	env.console.onRun = func(req pipeline.Request, out *pipeline.Outcome, err error) {
		assert.NoError(t, err)
		runs = append(runs, req)
	}

	require.NoError(t, env.console.Run(context.Background()))
	require.Len(t, runs, 1)
	assert.True(t, runs[0].DepositAmount.Equal(decimal.NewFromInt(500)))

	assert.Equal(t, wizard.Succeeded, env.wz.State().Terminal)
	assert.Empty(t, s.answers)
	assert.Equal(t, []string{"plan> ", "price per 1000 requests> ", "max providers> ", "deposit> ", "confirm> "}, s.asked)

	plans := env.plans(t)
	require.Len(t, plans, 1)
	assert.Equal(t, testDeploy, plans[0].DeploymentID)
	assert.Equal(t, 4, plans[0].Maximum)
	assert.True(t, plans[0].PricePerThousand().Equal(decimal.NewFromInt(2)))

	assert.True(t, env.console.answers.Deposit.Equal(decimal.NewFromInt(500)))
	assert.Contains(t, env.out.String(), "Flex Plan ready")
}

func TestConsoleQuitCancels(t *testing.T) {
	env, _ := newConsoleEnv(t, decimal.Zero, "custom", "2", "4", "quit")

	require.NoError(t, env.console.Run(context.Background()))

	assert.True(t, env.cancelled)
	assert.Equal(t, wizard.Cancelled, env.wz.State().Terminal)
	assert.Empty(t, env.plans(t))
}

func TestConsoleRecoversFromInvalidInput(t *testing.T) {
	env, _ := newConsoleEnv(t, decimal.Zero,
		"gold",
		"custom", "abc", "4",
		"custom", "2", "",
		"skip",
		"10",
		"back",
		"custom", "", "",
		"500",
		"cancel",
	)

	require.NoError(t, env.console.Run(context.Background()))

	out := env.out.String()
	assert.Contains(t, out, "unknown tier")
	assert.Contains(t, out, "price must be a number")
	assert.Contains(t, out, wizard.ErrSkipUnavailable.Error())
	assert.Contains(t, out, "minimum deposit amount")
	assert.Contains(t, out, "Transactions")

	assert.True(t, env.cancelled)
	assert.Empty(t, env.plans(t))
}

func TestConsoleSkipsDepositWithBalance(t *testing.T) {
	env, s := newConsoleEnv(t, decimal.NewFromInt(50), "custom", "2", "", "skip", "back", "skip", "cancel")

	require.NoError(t, env.console.Run(context.Background()))

	assert.Empty(t, s.answers)
	assert.True(t, env.wz.State().Deposit.IsZero())
	assert.True(t, env.cancelled)
}

func TestConsoleStopsOnCancelledContext(t *testing.T) {
	env, _ := newConsoleEnv(t, decimal.Zero, "custom")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, env.console.Run(ctx), context.Canceled)
}
