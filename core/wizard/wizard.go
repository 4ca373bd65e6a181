// Package wizard - Flex Plan creation wizard
// Holds the step and form state of one session and validates every
// transition. The wizard never talks to the ledger or the billing service
// itself: the final step hands a request to a Runner.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"flexplan/core/pipeline"
	"flexplan/core/pricing"
	"flexplan/core/types"
)

// Step is the wizard position
type Step int

const (
	StepDraft Step = iota
	StepDeposit
	StepConfirm
)

// Title is the step heading
func (s Step) Title() string {
	switch s {
	case StepDraft:
		return "Create Flex Plan"
	case StepDeposit:
		return "Deposit to Billing Account"
	case StepConfirm:
		return "Confirm"
	default:
		return fmt.Sprintf("step %d", int(s))
	}
}

// PrimaryAction is the label of the button that moves the step forward
func (s Step) PrimaryAction() string {
	switch s {
	case StepDeposit:
		return "Deposit " + types.TokenSymbol
	case StepConfirm:
		return "Approve Transactions and Create Flex Plan"
	default:
		return "Next"
	}
}

// Steps returns the wizard steps in order
func Steps() []Step {
	return []Step{StepDraft, StepDeposit, StepConfirm}
}

// Terminal is how a finished wizard ended
type Terminal int

const (
	Active Terminal = iota
	Succeeded
	Cancelled
)

// String returns the terminal state name
func (t Terminal) String() string {
	switch t {
	case Succeeded:
		return "success"
	case Cancelled:
		return "cancelled"
	default:
		return "active"
	}
}

var (
	// ErrFinished is returned by every transition on a finished wizard
	ErrFinished = errors.New("wizard already finished")

	// ErrWrongStep is returned when an action is not available on the current step
	ErrWrongStep = errors.New("action not available on this step")

	// ErrSkipUnavailable is returned by Skip when there is no billing balance to fall back on
	ErrSkipUnavailable = errors.New("skip requires an existing billing balance")
)

// Runner executes the provisioning stages
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

// PlanDraft is the plan the user settled on in the first step
type PlanDraft struct {
	Tier         types.Tier
	Price        decimal.Decimal
	MaxProviders decimal.Decimal
}

// State is a snapshot of the wizard
type State struct {
	Step     Step
	Terminal Terminal

	Tier types.Tier

	// Raw form input for the custom tier and the deposit
	CustomPrice        string
	CustomMaxProviders string
	DepositInput       string

	// Resolved values, filled in when a step is left
	Plan    PlanDraft
	Deposit decimal.Decimal

	BillingBalance decimal.Decimal
	ExistingPlan   *types.HostingPlan
	ExistingAPIKey *types.APIKey
}

// Editing reports whether the wizard changes an existing plan
func (s State) Editing() bool {
	return s.ExistingPlan != nil
}

// Config seeds a wizard session
type Config struct {
	ProjectID    string
	DeploymentID string

	// Offers is the sample sealed at session start
	Offers *pricing.OfferSnapshot

	// BillingBalance is the current billing account balance (human scale)
	BillingBalance decimal.Decimal

	ExistingPlan   *types.HostingPlan
	ExistingAPIKey *types.APIKey

	// OnCancel is invoked when Back is used on the first step
	OnCancel func()
}

// Wizard is the state machine of one session. It is not safe for
// concurrent use; a session owns its wizard.
type Wizard struct {
	projectID    string
	deploymentID string
	offers       *pricing.OfferSnapshot
	onCancel     func()

	state State
}

// New creates a wizard on the first step. An existing plan pre-fills the
// custom form with its terms.
func New(cfg Config) *Wizard {
	offers := cfg.Offers
	if offers == nil {
		offers = pricing.NewOfferSnapshot(cfg.ProjectID, cfg.DeploymentID, nil, time.Time{})
	}
	w := &Wizard{
		projectID:    cfg.ProjectID,
		deploymentID: cfg.DeploymentID,
		offers:       offers,
		onCancel:     cfg.OnCancel,
		state: State{
			Step:           StepDraft,
			BillingBalance: cfg.BillingBalance,
		},
	}
	if cfg.ExistingPlan != nil {
		plan := *cfg.ExistingPlan
		w.state.ExistingPlan = &plan
		w.state.Tier = types.TierCustom
		w.state.CustomPrice = plan.PricePerThousand().String()
		w.state.CustomMaxProviders = fmt.Sprint(plan.Maximum)
	}
	if cfg.ExistingAPIKey != nil {
		key := *cfg.ExistingAPIKey
		w.state.ExistingAPIKey = &key
	}
	return w
}

// State returns a copy of the current state
func (w *Wizard) State() State {
	s := w.state
	if s.ExistingPlan != nil {
		plan := *s.ExistingPlan
		s.ExistingPlan = &plan
	}
	if s.ExistingAPIKey != nil {
		key := *s.ExistingAPIKey
		s.ExistingAPIKey = &key
	}
	return s
}

// Step returns the current step
func (w *Wizard) Step() Step {
	return w.state.Step
}

// Finished reports whether the wizard reached a terminal state
func (w *Wizard) Finished() bool {
	return w.state.Terminal != Active
}

// Offers returns the sealed offer sample
func (w *Wizard) Offers() *pricing.OfferSnapshot {
	return w.offers
}

// Tiers returns the recommended tiers for the session
func (w *Wizard) Tiers() types.PricingTiers {
	return w.offers.Tiers()
}

// SkipAvailable reports whether the deposit step may be skipped
func (w *Wizard) SkipAvailable() bool {
	return w.state.Step == StepDeposit && w.state.BillingBalance.IsPositive()
}

func (w *Wizard) active() error {
	if w.Finished() {
		return ErrFinished
	}
	return nil
}

func (w *Wizard) on(step Step) error {
	if err := w.active(); err != nil {
		return err
	}
	if w.state.Step != step {
		return fmt.Errorf("%w: on %q", ErrWrongStep, w.state.Step.Title())
	}
	return nil
}

// SelectTier picks a tier on the first step. Switching to the custom tier
// from another tier clears the custom form.
func (w *Wizard) SelectTier(t types.Tier) error {
	if err := w.on(StepDraft); err != nil {
		return err
	}
	if !t.IsValid() {
		return newValidationError(fieldTier, fmt.Sprintf("unknown tier %q", t))
	}
	if t == types.TierCustom && w.state.Tier != types.TierCustom {
		w.state.CustomPrice = ""
		w.state.CustomMaxProviders = ""
	}
	w.state.Tier = t
	return nil
}

// SetCustomPrice records the custom price per 1000 requests as typed
func (w *Wizard) SetCustomPrice(input string) error {
	if err := w.on(StepDraft); err != nil {
		return err
	}
	w.state.CustomPrice = input
	return nil
}

// SetCustomMaxProviders records the custom provider limit as typed
func (w *Wizard) SetCustomMaxProviders(input string) error {
	if err := w.on(StepDraft); err != nil {
		return err
	}
	w.state.CustomMaxProviders = input
	return nil
}

// SetDeposit records the deposit amount as typed
func (w *Wizard) SetDeposit(input string) error {
	if err := w.on(StepDeposit); err != nil {
		return err
	}
	w.state.DepositInput = input
	return nil
}

// SetBillingBalance updates the known billing balance, e.g. after an
// account refresh
func (w *Wizard) SetBillingBalance(balance decimal.Decimal) {
	w.state.BillingBalance = balance
}

// Next validates the current step and advances. It fails on the last step,
// which only Confirm can leave.
func (w *Wizard) Next() error {
	if err := w.active(); err != nil {
		return err
	}
	switch w.state.Step {
	case StepDraft:
		plan, err := w.resolvePlan()
		if err != nil {
			return err
		}
		w.state.Plan = plan
		w.state.Step = StepDeposit
		return nil
	case StepDeposit:
		amount, err := validateDeposit(w.state.DepositInput)
		if err != nil {
			return err
		}
		w.state.Deposit = amount
		w.state.Step = StepConfirm
		return nil
	default:
		return fmt.Errorf("%w: use Confirm to finish", ErrWrongStep)
	}
}

func (w *Wizard) resolvePlan() (PlanDraft, error) {
	tier := w.state.Tier
	if tier == "" {
		return PlanDraft{}, newValidationError(fieldTier, "select a plan tier")
	}
	if tier == types.TierCustom {
		return validateCustom(w.state.CustomPrice, w.state.CustomMaxProviders)
	}

	price, maxProviders, _ := pricing.TierDefaults(tier, w.Tiers())
	if !price.IsPositive() {
		return PlanDraft{}, newValidationError(fieldPrice, "no offers to price this tier, enter a custom price")
	}
	return PlanDraft{
		Tier:         tier,
		Price:        price,
		MaxProviders: decimal.NewFromInt(int64(maxProviders)),
	}, nil
}

// Skip leaves the deposit step without depositing. It is only available
// when the billing account already holds a balance.
func (w *Wizard) Skip() error {
	if err := w.on(StepDeposit); err != nil {
		return err
	}
	if !w.state.BillingBalance.IsPositive() {
		return ErrSkipUnavailable
	}
	w.clearDeposit()
	w.state.Step = StepConfirm
	return nil
}

// Back returns to the previous step. On the first step it cancels the
// wizard and invokes the cancel callback.
func (w *Wizard) Back() error {
	if err := w.active(); err != nil {
		return err
	}
	if w.state.Step == StepDraft {
		w.state.Terminal = Cancelled
		if w.onCancel != nil {
			w.onCancel()
		}
		return nil
	}
	w.state.Step--
	return nil
}

func (w *Wizard) clearDeposit() {
	w.state.DepositInput = ""
	w.state.Deposit = decimal.Zero
}

// Request builds the provisioning request for the current drafts
func (w *Wizard) Request() pipeline.Request {
	return pipeline.Request{
		ProjectID:      w.projectID,
		DeploymentID:   w.deploymentID,
		Price:          w.state.Plan.Price,
		MaxProviders:   w.state.Plan.MaxProviders,
		DepositAmount:  w.state.Deposit,
		ExistingAPIKey: w.state.ExistingAPIKey,
		ExistingPlan:   w.state.ExistingPlan,
		Offers:         w.offers.Offers(),
	}
}

// Confirm runs the provisioning stages from the last step. On success the
// wizard finishes. On failure it stays on the last step with whatever the
// run completed folded into its state, so Confirm can simply be retried.
func (w *Wizard) Confirm(ctx context.Context, runner Runner) (*pipeline.Outcome, error) {
	if err := w.on(StepConfirm); err != nil {
		return nil, err
	}

	out, err := runner.Run(ctx, w.Request())
	if out != nil {
		w.absorb(out)
	}
	if err != nil {
		return out, err
	}
	w.state.Terminal = Succeeded
	return out, nil
}

func (w *Wizard) absorb(out *pipeline.Outcome) {
	if out.DepositConsumed {
		w.clearDeposit()
	}
	if out.BalanceRefreshed {
		if balance, err := types.FromBaseUnits(out.BillingBalance); err == nil {
			w.state.BillingBalance = balance
		}
	}
	if out.APIKey != nil {
		key := *out.APIKey
		w.state.ExistingAPIKey = &key
	}
	if out.Plan != nil {
		plan := *out.Plan
		w.state.ExistingPlan = &plan
	}
}

// Affordability summarises what the drafted plan costs against the
// current billing balance
type Affordability struct {
	MatchedProviders   int
	AffordableRequests int64
	SuggestedDeposit   decimal.Decimal
	LowBalance         bool
}

// Affordability recomputes the summary from the current drafts
func (w *Wizard) Affordability() Affordability {
	price := w.state.Plan.Price
	maxProviders := w.state.Plan.MaxProviders
	if w.state.Step == StepDraft {
		price, maxProviders = w.draftTerms()
	}
	return Affordability{
		MatchedProviders:   w.offers.MatchedProviders(price),
		AffordableRequests: pricing.AffordableRequests(w.state.BillingBalance, price),
		SuggestedDeposit:   pricing.SuggestedDeposit(price, int(maxProviders.Ceil().IntPart())),
		LowBalance:         pricing.LowBalanceWarning(w.state.BillingBalance),
	}
}

// draftTerms returns the terms the first step would resolve to, without
// validating them
func (w *Wizard) draftTerms() (decimal.Decimal, decimal.Decimal) {
	if w.state.Tier == types.TierCustom {
		price, _, _ := types.ParseAmount(w.state.CustomPrice)
		maxProviders, ok, _ := types.ParseAmount(w.state.CustomMaxProviders)
		if !ok {
			maxProviders = decimal.NewFromInt(types.MinMaxProviders)
		}
		return price, maxProviders
	}
	price, limit, _ := pricing.TierDefaults(w.state.Tier, w.Tiers())
	return price, decimal.NewFromInt(int64(limit))
}
