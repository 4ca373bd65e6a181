package cmd

import (
	"context"
	stderrors "errors"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"github.com/shopspring/decimal"

	"flexplan/core/pipeline"
	"flexplan/core/types"
	"flexplan/core/ui"
	"flexplan/core/wizard"
	"flexplan/internal/config"
)

// asker reads one answer for a question, offering the given completions
type asker func(label string, choices []prompt.Suggest) string

// promptAsk asks on the terminal with tab completion
func promptAsk(label string, choices []prompt.Suggest) string {
	completer := func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(choices, d.GetWordBeforeCursor(), true)
	}
	return prompt.Input(label, completer,
		prompt.OptionSuggestionBGColor(prompt.DarkGray),
		prompt.OptionSuggestionTextColor(prompt.White),
		prompt.OptionSelectedSuggestionBGColor(prompt.Blue),
		prompt.OptionSelectedSuggestionTextColor(prompt.White),
	)
}

// provisioner runs and previews the provisioning stages
type provisioner interface {
	wizard.Runner
	Preview(ctx context.Context, req pipeline.Request) ([]pipeline.ChecklistItem, error)
}

// console drives a wizard from terminal answers, one step at a time
type console struct {
	w        *ui.Writer
	wz       *wizard.Wizard
	runner   provisioner
	progress *ui.StageProgress
	ask      asker

	tokenPrice decimal.Decimal

	// onRun is told about every confirmed run
	onRun func(req pipeline.Request, out *pipeline.Outcome, err error)

	// answers is the state that was confirmed, kept for --save-plan
	answers wizard.State
}

func newConsole(w *ui.Writer, wz *wizard.Wizard, runner provisioner, progress *ui.StageProgress, ask asker) *console {
	return &console{
		w:          w,
		wz:         wz,
		runner:     runner,
		progress:   progress,
		ask:        ask,
		tokenPrice: config.Get().Output.TokenPrice(),
	}
}

// isQuit reports whether an answer leaves the console
func isQuit(answer string) bool {
	switch answer {
	case "quit", "exit", "cancel":
		return true
	}
	return false
}

// Run loops until the wizard finishes or the user quits. Failed runs are
// reported and the confirmation is asked again.
func (c *console) Run(ctx context.Context) error {
	for !c.wz.Finished() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch c.wz.Step() {
		case wizard.StepDraft:
			err = c.draft()
		case wizard.StepDeposit:
			err = c.deposit()
		case wizard.StepConfirm:
			err = c.confirm(ctx)
		}
		if stderrors.Is(err, errQuit) {
			c.cancel()
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

var errQuit = stderrors.New("quit")

// cancel walks back to the first step and leaves it, which fires the
// wizard's cancel callback
func (c *console) cancel() {
	for !c.wz.Finished() {
		if err := c.wz.Back(); err != nil {
			return
		}
	}
}

func (c *console) header() {
	step := c.wz.Step()
	c.w.Header(step.Title())
}

// report prints an error a step can recover from
func (c *console) report(err error) {
	var verr *wizard.ValidationError
	if stderrors.As(err, &verr) {
		c.w.Warning("%v", verr)
		return
	}
	c.w.Warning("%v", err)
}

func (c *console) draft() error {
	c.header()
	st := c.wz.State()
	c.w.RenderTiers(ui.TierRows(c.wz.Offers()), c.wz.Offers().Len(), c.tokenPrice)
	if st.Editing() {
		c.w.Info("Current plan: %s, max %d providers",
			ui.PerThousand(st.ExistingPlan.PricePerThousand()), st.ExistingPlan.Maximum)
	}

	choices := make([]prompt.Suggest, 0, 4)
	for _, t := range types.AllTiers() {
		choices = append(choices, prompt.Suggest{Text: t.String(), Description: ui.PerThousand(c.wz.Tiers().Price(t))})
	}
	choices = append(choices, prompt.Suggest{Text: "back", Description: "cancel"})

	answer := strings.TrimSpace(c.ask("plan> ", choices))
	switch {
	case answer == "":
		return nil
	case isQuit(answer), answer == "back":
		return errQuit
	}

	tier, err := types.ParseTier(answer)
	if err != nil {
		c.report(err)
		return nil
	}
	if err := c.wz.SelectTier(tier); err != nil {
		c.report(err)
		return nil
	}
	if tier == types.TierCustom {
		if err := c.customTerms(); err != nil {
			return err
		}
	}
	c.w.RenderAffordability(c.wz.Affordability(), c.wz.State().BillingBalance)
	if err := c.wz.Next(); err != nil {
		c.report(err)
	}
	return nil
}

// customTerms asks for the custom price and provider limit. An empty answer
// keeps the value already in the form.
func (c *console) customTerms() error {
	st := c.wz.State()
	price := strings.TrimSpace(c.ask("price per 1000 requests> ", suggestion(st.CustomPrice)))
	if isQuit(price) {
		return errQuit
	}
	if price != "" {
		_ = c.wz.SetCustomPrice(price)
	}
	maxProviders := strings.TrimSpace(c.ask("max providers> ", suggestion(st.CustomMaxProviders)))
	if isQuit(maxProviders) {
		return errQuit
	}
	if maxProviders != "" {
		_ = c.wz.SetCustomMaxProviders(maxProviders)
	}
	return nil
}

func suggestion(current string) []prompt.Suggest {
	if current == "" {
		return nil
	}
	return []prompt.Suggest{{Text: current, Description: "current"}}
}

func (c *console) deposit() error {
	c.header()
	st := c.wz.State()
	a := c.wz.Affordability()
	c.w.RenderAffordability(a, st.BillingBalance)

	choices := []prompt.Suggest{{Text: a.SuggestedDeposit.String(), Description: "suggested"}}
	if c.wz.SkipAvailable() {
		choices = append(choices, prompt.Suggest{Text: "skip", Description: "use the current balance"})
	}
	choices = append(choices, prompt.Suggest{Text: "back", Description: "change the plan"})

	answer := strings.TrimSpace(c.ask("deposit> ", choices))
	var err error
	switch {
	case answer == "":
		return nil
	case isQuit(answer):
		return errQuit
	case answer == "back":
		err = c.wz.Back()
	case answer == "skip":
		err = c.wz.Skip()
	default:
		if err = c.wz.SetDeposit(answer); err == nil {
			err = c.wz.Next()
		}
	}
	if err != nil {
		c.report(err)
	}
	return nil
}

func (c *console) confirm(ctx context.Context) error {
	c.header()
	st := c.wz.State()
	if st.Editing() {
		c.w.RenderPlanChange(*st.ExistingPlan, st.Plan)
	}
	items, err := c.runner.Preview(ctx, c.wz.Request())
	if err != nil {
		c.report(err)
	} else {
		c.w.RenderChecklist(items)
	}

	answer := strings.TrimSpace(c.ask("confirm> ", []prompt.Suggest{
		{Text: "yes", Description: wizard.StepConfirm.PrimaryAction()},
		{Text: "back", Description: "change the deposit"},
		{Text: "cancel", Description: "leave without submitting"},
	}))
	switch {
	case isQuit(answer):
		return errQuit
	case answer == "back":
		if err := c.wz.Back(); err != nil {
			c.report(err)
		}
		return nil
	case answer != "yes" && answer != "y":
		return nil
	}

	c.answers = c.wz.State()
	req := c.wz.Request()
	out, err := c.wz.Confirm(ctx, c.runner)
	c.progress.RenderOutcome(out, err)
	if c.onRun != nil {
		c.onRun(req, out, err)
	}
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		c.w.Info("Answer yes to retry; completed steps are not repeated")
	}
	return nil
}
