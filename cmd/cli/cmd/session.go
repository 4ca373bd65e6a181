package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flexplan/adapters/billing"
	"flexplan/adapters/sandbox"
	"flexplan/adapters/webhook"
	"flexplan/core/account"
	"flexplan/core/clients"
	"flexplan/core/pipeline"
	"flexplan/core/pricing"
	"flexplan/core/types"
	"flexplan/core/ui"
	"flexplan/core/wizard"
	"flexplan/internal/config"
	"flexplan/internal/credentials"
	"flexplan/internal/errors"
	"flexplan/internal/logging"
)

// session holds the clients one command works with
type session struct {
	cfg     *config.Config
	account string
	store   *sandbox.Store
	ledger  clients.Ledger
	billing clients.BillingService
	log     *zap.Logger
}

// openSession resolves the account and connects the ledger and the billing
// service. The ledger is always the local sandbox; billing is the sandbox
// too with --sandbox, the billing API otherwise.
func openSession(ctx context.Context) (*session, error) {
	cfg := config.Get()
	creds, err := credentials.Load(cfg.Billing.CredentialsFile, cfg.Billing.Profile)
	if err != nil {
		return nil, errors.Config("load credentials", err)
	}
	if creds.Account == "" {
		return nil, errors.New(errors.TypeConfig,
			"no account configured: run `flexplan config init --account <address>` or set FLEXPLAN_ACCOUNT")
	}

	store, err := sandbox.Open(cfg.Ledger.SandboxDB)
	if err != nil {
		return nil, errors.Ledger("open sandbox", err)
	}
	funds, _ := decimal.NewFromString(cfg.Ledger.SandboxFunds)
	if _, err := store.EnsureAccount(ctx, creds.Account, funds); err != nil {
		store.Close()
		return nil, errors.Ledger("prepare sandbox account", err)
	}

	s := &session{
		cfg:     cfg,
		account: creds.Account,
		store:   store,
		ledger:  store.Ledger(creds.Account, cfg.Ledger.BillingContract),
		log:     logging.Named("cli").With(logging.Account(creds.Account)),
	}

	if useSandbox {
		s.billing = store.Billing(creds.Account)
		return s, nil
	}
	client, err := billing.New(billing.Config{
		BaseURL: cfg.Billing.BaseURL,
		Token:   creds.Token,
		Account: creds.Account,
		Timeout: cfg.Billing.Timeout(),
		Retries: cfg.Billing.MaxRetries,
	})
	if err != nil {
		store.Close()
		return nil, errors.Config("billing client", err)
	}
	s.billing = client
	return s, nil
}

// Close releases the sandbox store
func (s *session) Close() error {
	return s.store.Close()
}

// offers samples the deployment's offers. A failed fetch degrades to an
// empty sample: tiers are then zero and only a custom price can be used.
func (s *session) offers(ctx context.Context, projectID, deploymentID string) *pricing.OfferSnapshot {
	offers, err := s.billing.ListIndexerOffers(ctx, projectID, deploymentID)
	if err != nil {
		s.log.Warn("offer fetch failed, using an empty sample", logging.Deployment(deploymentID), zap.Error(err))
		offers = nil
	}
	snap := pricing.NewOfferSnapshot(projectID, deploymentID, offers, time.Now())
	s.log.Debug("offers sampled",
		logging.Deployment(deploymentID),
		zap.Int("offers", snap.Len()),
		zap.Stringer("sample", snap.ContentHash),
	)
	return snap
}

// balances reads the account's wallet, billing balance and allowance
func (s *session) balances(ctx context.Context) (account.Balances, error) {
	r := account.NewRefresher(s.ledger, s.cfg.Ledger.BillingContract, account.WithLogger(s.log))
	defer r.Stop()
	b, err := r.Fetch(ctx, s.account)
	if err != nil {
		return b, errors.Ledger("read balances", err)
	}
	return b, nil
}

// existingPlan finds the account's plan for the deployment, which puts the
// wizard in edit mode
func (s *session) existingPlan(ctx context.Context, deploymentID string) (*types.HostingPlan, error) {
	res, err := s.billing.ListHostingPlans(ctx)
	if err != nil {
		return nil, errors.Network("list hosting plans", err)
	}
	plans, err := res.Unwrap()
	if err != nil {
		return nil, errors.Service("list hosting plans", err)
	}
	if plan, ok := types.FindHostingPlan(plans, deploymentID); ok {
		return &plan, nil
	}
	return nil, nil
}

// startWizard seeds a wizard with live state for the deployment
func (s *session) startWizard(ctx context.Context, projectID, deploymentID string, onCancel func()) (*wizard.Wizard, error) {
	if projectID == "" || deploymentID == "" {
		return nil, errors.Validation("--project and --deployment are required")
	}
	offers := s.offers(ctx, projectID, deploymentID)
	bal, err := s.balances(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := s.existingPlan(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	return wizard.New(wizard.Config{
		ProjectID:      projectID,
		DeploymentID:   deploymentID,
		Offers:         offers,
		BillingBalance: bal.Billing,
		ExistingPlan:   plan,
		OnCancel:       onCancel,
	}), nil
}

// notify posts the run to the configured webhook. Delivery failures only
// warn: the run itself already finished.
func (s *session) notify(ctx context.Context, req pipeline.Request, out *pipeline.Outcome, runErr error) {
	hook := s.cfg.Webhook
	if hook.URL == "" {
		return
	}
	provider, err := webhook.ParseProvider(hook.Provider)
	if err != nil {
		s.log.Warn("webhook disabled", zap.Error(err))
		return
	}
	wc := webhook.DefaultConfig(provider)
	wc.Endpoint = hook.URL
	wc.Secret = hook.Secret
	wc.RetryCount = hook.Retries

	payload := webhook.NewPayload(s.account, req, out, runErr, time.Now())
	if err := webhook.New(wc, s.log.Named("webhook")).Send(ctx, payload); err != nil {
		s.log.Warn("webhook delivery failed", zap.String("event", payload.Event), zap.Error(err))
		return
	}
	s.log.Debug("webhook delivered", zap.String("event", payload.Event), zap.String("delivery_id", payload.DeliveryID))
}

// newWriter returns a UI writer on the command's output
func newWriter(cmd *cobra.Command) *ui.Writer {
	w := ui.NewWriter(cmd.OutOrStdout(), !config.Get().Output.Color)
	if verbose {
		w.SetVerbosity(2)
	}
	return w
}

// jsonOutput reports whether the command should print JSON
func jsonOutput() bool {
	return config.Get().Output.DefaultFormat == "json"
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
