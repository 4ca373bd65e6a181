// Package pipeline - Flex Plan provisioning
// Runs the ledger and billing operations that turn a confirmed wizard into
// a live plan. Every stage re-reads live state before acting, so a retry
// after a partial failure skips whatever already went through.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"flexplan/core/clients"
	"flexplan/core/types"
	"flexplan/internal/logging"
	"flexplan/internal/metrics"
)

// DepositFlag is forwarded unchanged to every deposit call
const DepositFlag = true

// Stage identifies one step of a provisioning run
type Stage int

const (
	StageAllowance Stage = iota
	StageDeposit
	StageAPIKey
	StagePlan
)

// String returns the stage name
func (s Stage) String() string {
	switch s {
	case StageAllowance:
		return "allowance"
	case StageDeposit:
		return "deposit"
	case StageAPIKey:
		return "api_key"
	case StagePlan:
		return "plan"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Label is the checklist text for the stage
func (s Stage) Label() string {
	switch s {
	case StageAllowance:
		return "Authorise Billing Permissions"
	case StageDeposit:
		return "Deposit Funds to Billing Account"
	case StageAPIKey:
		return "Create Personal API Key"
	case StagePlan:
		return "Create Flex Plan"
	default:
		return s.String()
	}
}

// Stages returns every stage in execution order
func Stages() []Stage {
	return []Stage{StageAllowance, StageDeposit, StageAPIKey, StagePlan}
}

// Status is the state of a stage within a run
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// StageReport describes one stage of a run
type StageReport struct {
	Stage   Stage
	Status  Status
	TxHash  string
	Detail  string
	Elapsed time.Duration
}

// Observer receives stage reports as the run progresses. It is called on
// the run's goroutine: once when a stage starts and once when it ends.
type Observer func(StageReport)

// Outcome is the aggregate result of a run. A failed run still returns the
// stages that completed before the failure.
type Outcome struct {
	Stages []StageReport

	// DepositConsumed is set once the deposit transaction is confirmed.
	// The caller clears its deposit draft so a retry does not deposit twice.
	DepositConsumed bool

	// BillingBalance is the balance read after a confirmed deposit
	BillingBalance   types.BaseUnits
	BalanceRefreshed bool

	APIKey *types.APIKey
	Plan   *types.HostingPlan

	// PlanExisted is set when the plan stage found a live plan for the
	// deployment, whether it was then updated or left unchanged
	PlanExisted bool
}

// Succeeded reports whether every stage finished
func (o *Outcome) Succeeded() bool {
	if len(o.Stages) != len(Stages()) {
		return false
	}
	for _, r := range o.Stages {
		if r.Status != StatusDone && r.Status != StatusSkipped {
			return false
		}
	}
	return true
}

// TxHashes returns the hashes of the ledger transactions the run submitted
func (o *Outcome) TxHashes() []string {
	var hashes []string
	for _, r := range o.Stages {
		if r.TxHash != "" {
			hashes = append(hashes, r.TxHash)
		}
	}
	return hashes
}

// Report returns the report for a stage, if it ran
func (o *Outcome) Report(s Stage) (StageReport, bool) {
	for _, r := range o.Stages {
		if r.Stage == s {
			return r, true
		}
	}
	return StageReport{}, false
}

// Pipeline sequences the provisioning stages against injected clients.
type Pipeline struct {
	ledger  clients.Ledger
	billing clients.BillingService
	spender string

	logger   *zap.Logger
	metrics  *metrics.Provisioning
	observer Observer
	now      func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics enables stage instrumentation
func WithMetrics(m *metrics.Provisioning) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithObserver registers a progress callback
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// New creates a pipeline. spender is the billing contract address the
// allowance is granted to.
func New(ledger clients.Ledger, billing clients.BillingService, spender string, opts ...Option) *Pipeline {
	p := &Pipeline{
		ledger:  ledger,
		billing: billing,
		spender: spender,
		logger:  logging.Named("pipeline"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type stageFunc func(ctx context.Context, req Request, out *Outcome, report *StageReport) error

// Run executes the stages in order. The first failing stage aborts the run
// and is returned as a *StageError together with the partial outcome.
// Nothing already confirmed on the ledger is rolled back.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	out := &Outcome{}
	if err := req.Validate(); err != nil {
		return out, err
	}

	log := p.logger.With(logging.Deployment(req.DeploymentID), logging.Account(p.ledger.Account()))
	log.Info("provisioning started",
		logging.Amount("price", req.Price),
		logging.Amount("deposit", req.DepositAmount),
		zap.Bool("editing", req.Editing()),
	)

	steps := []struct {
		stage Stage
		run   stageFunc
	}{
		{StageAllowance, p.runAllowance},
		{StageDeposit, p.runDeposit},
		{StageAPIKey, p.runAPIKey},
		{StagePlan, p.runPlan},
	}

	for _, step := range steps {
		report := StageReport{Stage: step.stage, Status: StatusRunning}
		p.notify(report)

		start := p.now()
		err := ctx.Err()
		if err == nil {
			err = step.run(ctx, req, out, &report)
		}
		report.Elapsed = p.now().Sub(start)

		if err != nil {
			report.Status = StatusFailed
			report.Detail = err.Error()
			out.Stages = append(out.Stages, report)
			p.notify(report)
			p.metrics.ObserveStage(step.stage.String(), metrics.StageFailed, report.Elapsed)
			p.metrics.RecordRun(false)
			log.Error("stage failed", zap.Stringer("stage", step.stage), zap.Error(err))
			return out, &StageError{Stage: step.stage, Err: err}
		}

		out.Stages = append(out.Stages, report)
		p.notify(report)
		result := metrics.StageDone
		if report.Status == StatusSkipped {
			result = metrics.StageSkipped
		}
		p.metrics.ObserveStage(step.stage.String(), result, report.Elapsed)
		log.Info("stage finished",
			zap.Stringer("stage", step.stage),
			zap.String("status", string(report.Status)),
			logging.TxHash(report.TxHash),
		)
	}

	p.metrics.RecordRun(true)
	log.Info("provisioning finished")
	return out, nil
}

func (p *Pipeline) notify(r StageReport) {
	if p.observer != nil {
		p.observer(r)
	}
}

// runAllowance approves the billing contract for the deposit when the
// current allowance does not cover it.
func (p *Pipeline) runAllowance(ctx context.Context, req Request, _ *Outcome, report *StageReport) error {
	amount := req.depositUnits()
	need, err := p.needsApproval(ctx, amount)
	if err != nil {
		return err
	}
	if !need {
		report.Status = StatusSkipped
		report.Detail = "allowance covers deposit"
		return nil
	}

	tx, err := p.ledger.Approve(ctx, p.spender, amount)
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	report.TxHash = tx.Hash()
	if err := waitConfirmed(ctx, tx); err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	report.Status = StatusDone
	return nil
}

func (p *Pipeline) needsApproval(ctx context.Context, amount types.BaseUnits) (bool, error) {
	want, err := amount.Decimal()
	if err != nil {
		return false, err
	}
	if !want.IsPositive() {
		return false, nil
	}
	allowance, err := p.ledger.Allowance(ctx, p.spender)
	if err != nil {
		return false, fmt.Errorf("read allowance: %w", err)
	}
	have, err := allowance.Decimal()
	if err != nil {
		return false, fmt.Errorf("read allowance: %w", err)
	}
	return have.LessThan(want), nil
}

// runDeposit moves the deposit into the billing contract and reads back
// the billing balance.
func (p *Pipeline) runDeposit(ctx context.Context, req Request, out *Outcome, report *StageReport) error {
	amount := req.depositUnits()
	if amount.IsZero() {
		report.Status = StatusSkipped
		report.Detail = "no deposit requested"
		return nil
	}

	tx, err := p.ledger.Deposit(ctx, amount, DepositFlag)
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	report.TxHash = tx.Hash()
	if err := waitConfirmed(ctx, tx); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	out.DepositConsumed = true
	report.Status = StatusDone

	balance, err := p.ledger.BillingBalance(ctx, p.ledger.Account())
	if err != nil {
		// The deposit is final; a stale balance only affects display.
		p.logger.Warn("billing balance refresh failed", zap.Error(err))
		return nil
	}
	out.BillingBalance = balance
	out.BalanceRefreshed = true
	return nil
}

// runAPIKey makes sure the reserved API key exists, re-listing keys first
// because another session may have created it.
func (p *Pipeline) runAPIKey(ctx context.Context, req Request, out *Outcome, report *StageReport) error {
	if req.ExistingAPIKey != nil {
		key := *req.ExistingAPIKey
		out.APIKey = &key
		report.Status = StatusSkipped
		report.Detail = "key already recorded"
		return nil
	}

	key, found, err := p.findAPIKey(ctx)
	if err != nil {
		return err
	}
	if found {
		out.APIKey = &key
		report.Status = StatusSkipped
		report.Detail = "key found on billing service"
		return nil
	}

	res, err := p.billing.CreateAPIKey(ctx, types.ReservedAPIKeyName)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	created, err := res.Unwrap()
	if err != nil {
		return err
	}
	out.APIKey = &created
	report.Status = StatusDone
	return nil
}

func (p *Pipeline) findAPIKey(ctx context.Context) (types.APIKey, bool, error) {
	res, err := p.billing.ListAPIKeys(ctx)
	if err != nil {
		return types.APIKey{}, false, fmt.Errorf("list api keys: %w", err)
	}
	keys, err := res.Unwrap()
	if err != nil {
		return types.APIKey{}, false, err
	}
	key, ok := types.FindAPIKey(keys, types.ReservedAPIKeyName)
	return key, ok, nil
}

// planAction is what the plan stage has to do
type planAction struct {
	current *types.HostingPlan
	params  types.HostingPlanParams
}

func (a planAction) needed() bool {
	if a.current == nil {
		return true
	}
	c := a.current
	return c.Price != a.params.Price || c.Maximum != a.params.Maximum || c.Expiration != a.params.Expiration
}

// resolvePlan finds the live plan for the deployment. A plan the session
// already knows is matched by id; otherwise by deployment, so a plan created
// from another session is updated rather than duplicated.
func (p *Pipeline) resolvePlan(ctx context.Context, req Request) (planAction, error) {
	res, err := p.billing.ListHostingPlans(ctx)
	if err != nil {
		return planAction{}, fmt.Errorf("list hosting plans: %w", err)
	}
	plans, err := res.Unwrap()
	if err != nil {
		return planAction{}, err
	}

	var current *types.HostingPlan
	if req.ExistingPlan != nil {
		for i := range plans {
			if plans[i].ID == req.ExistingPlan.ID {
				current = &plans[i]
				break
			}
		}
		if current == nil {
			existing := *req.ExistingPlan
			current = &existing
		}
	} else if plan, ok := types.FindHostingPlan(plans, req.DeploymentID); ok {
		current = &plan
	}

	id := ""
	if current != nil {
		id = current.ID
	}
	return planAction{current: current, params: req.PlanParams(id)}, nil
}

// runPlan creates the plan, or updates the existing one when its terms differ.
func (p *Pipeline) runPlan(ctx context.Context, req Request, out *Outcome, report *StageReport) error {
	action, err := p.resolvePlan(ctx, req)
	if err != nil {
		return err
	}
	out.PlanExisted = action.current != nil
	if !action.needed() {
		plan := *action.current
		out.Plan = &plan
		report.Status = StatusSkipped
		report.Detail = "plan already up to date"
		return nil
	}

	var res types.Result[types.HostingPlan]
	if action.current != nil {
		res, err = p.billing.UpdateHostingPlan(ctx, action.current.ID, action.params)
		report.Detail = "updated plan " + action.current.ID
	} else {
		res, err = p.billing.CreateHostingPlan(ctx, action.params)
		report.Detail = "created plan"
	}
	if err != nil {
		return fmt.Errorf("submit hosting plan: %w", err)
	}
	plan, err := res.Unwrap()
	if err != nil {
		return err
	}
	out.Plan = &plan
	report.Status = StatusDone
	return nil
}

// waitConfirmed blocks until tx is mined and fails on a reverted receipt
func waitConfirmed(ctx context.Context, tx clients.Tx) error {
	receipt, err := tx.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", tx.Hash(), err)
	}
	if !receipt.Succeeded() {
		return &RevertedError{TxHash: tx.Hash()}
	}
	return nil
}
