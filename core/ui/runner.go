// Package ui - Wizard views and live stage progress
package ui

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"flexplan/core/pipeline"
	"flexplan/core/pricing"
	"flexplan/core/types"
	"flexplan/core/wizard"
)

// TierRow is one line of the tier table
type TierRow struct {
	Tier         types.Tier
	Price        decimal.Decimal
	MaxProviders int
	Matched      int
}

// TierRows derives the tier table from an offer sample. The custom tier is
// listed without a recommendation.
func TierRows(offers *pricing.OfferSnapshot) []TierRow {
	tiers := offers.Tiers()
	rows := make([]TierRow, 0, len(types.AllTiers()))
	for _, t := range types.AllTiers() {
		price, limit, ok := pricing.TierDefaults(t, tiers)
		row := TierRow{Tier: t}
		if ok {
			row.Price = price
			row.MaxProviders = limit
			row.Matched = offers.MatchedProviders(price)
		}
		rows = append(rows, row)
	}
	return rows
}

// RenderTiers prints the tier table. tokenPrice adds a fiat column when
// positive.
func (w *Writer) RenderTiers(rows []TierRow, offerCount int, tokenPrice decimal.Decimal) {
	w.SubHeader(fmt.Sprintf("Plan tiers (%d offers sampled)", offerCount))
	headers := []string{"Tier", "Price", "Max providers", "Matched"}
	fiat := tokenPrice.IsPositive()
	if fiat {
		headers = append(headers, "USD / 1000")
	}
	table := w.NewTable(headers...)
	for _, r := range rows {
		if r.Tier == types.TierCustom {
			table.AddRow(r.Tier.String(), "your price", fmt.Sprintf(">= %d", types.MinMaxProviders), "-")
			continue
		}
		price := "-"
		if r.Price.IsPositive() {
			price = PerThousand(r.Price)
		}
		cells := []string{r.Tier.String(), price, fmt.Sprint(r.MaxProviders), fmt.Sprint(r.Matched)}
		if fiat {
			cells = append(cells, Fiat(pricing.EstimateFiat(r.Price, tokenPrice)))
		}
		table.AddRow(cells...)
	}
	table.Render()
	if offerCount == 0 {
		w.Warning("No provider offers found; only a custom price can be used")
	}
}

// RenderAffordability prints what the drafted plan buys with the current
// billing balance
func (w *Writer) RenderAffordability(a wizard.Affordability, balance decimal.Decimal) {
	w.SubHeader("Billing account")
	w.Println("  Balance:             %s", Tokens(balance, 4))
	w.Println("  Matched providers:   %d", a.MatchedProviders)
	w.Println("  Affordable:          %s", Requests(a.AffordableRequests))
	if a.SuggestedDeposit.IsPositive() {
		w.Println("  Suggested deposit:   %s", Tokens(a.SuggestedDeposit, 4))
	}
	if a.LowBalance {
		w.Warning("Billing balance is below %d %s", types.LowBalanceFloor, types.TokenSymbol)
	}
}

// RenderPlanChange shows the terms an edit replaces
func (w *Writer) RenderPlanChange(current types.HostingPlan, draft wizard.PlanDraft) {
	w.SubHeader("Changes to plan " + current.ID)
	arrow := w.color(Yellow, "→")
	w.Println("  Price:          %s %s %s", PerThousand(current.PricePerThousand()), arrow, PerThousand(draft.Price))
	w.Println("  Max providers:  %d %s %s", current.Maximum, arrow, draft.MaxProviders.Ceil().String())
}

// RenderChecklist prints the confirmation checklist
func (w *Writer) RenderChecklist(items []pipeline.ChecklistItem) {
	w.SubHeader("Transactions")
	for i, it := range items {
		mark := w.color(Green, "✓")
		if it.Needed {
			mark = w.color(Yellow, "○")
		}
		w.Println("  %s %d. %s %s", mark, i+1, it.Label, w.color(Dim, "("+it.Detail+")"))
	}
	if n := pipeline.Pending(items); n == 0 {
		w.Success("Nothing to do, everything is already in place")
	} else {
		w.Info("%d of %d steps need action", n, len(items))
	}
}

// StageProgress prints stage reports as a run progresses
type StageProgress struct {
	w     *Writer
	start time.Time

	spin    bool
	spinner *Spinner
}

// NewStageProgress creates a progress printer
func (w *Writer) NewStageProgress() *StageProgress {
	return &StageProgress{w: w, start: time.Now()}
}

// WithSpinner animates running stages instead of printing a line for them.
// Only useful on a terminal.
func (p *StageProgress) WithSpinner() *StageProgress {
	p.spin = true
	return p
}

// Observe is a pipeline.Observer
func (p *StageProgress) Observe(r pipeline.StageReport) {
	label := r.Stage.Label()
	if p.spinner != nil {
		p.spinner.Stop()
		p.spinner = nil
	}
	switch r.Status {
	case pipeline.StatusRunning:
		if p.spin {
			p.spinner = p.w.NewSpinner(label + "...")
			p.spinner.Start()
			return
		}
		p.w.Println("%s %s...", p.w.color(Cyan, "▸"), label)
	case pipeline.StatusDone:
		msg := label
		if r.TxHash != "" {
			msg += p.w.color(Dim, " "+r.TxHash)
		}
		p.w.Success("%s %s", msg, p.w.color(Dim, FormatDuration(r.Elapsed)))
	case pipeline.StatusSkipped:
		p.w.Println("%s %s %s", p.w.color(Dim, "–"), label, p.w.color(Dim, "("+r.Detail+")"))
	case pipeline.StatusFailed:
		p.w.Error("%s: %s", label, r.Detail)
	}
}

// Observer returns Observe as a pipeline.Observer
func (p *StageProgress) Observer() pipeline.Observer {
	return p.Observe
}

// RenderOutcome summarises a finished run
func (p *StageProgress) RenderOutcome(out *pipeline.Outcome, err error) {
	if p.spinner != nil {
		p.spinner.Stop()
		p.spinner = nil
	}
	p.w.Println("")
	if err != nil {
		p.w.Error("Provisioning stopped: %v", err)
		if out != nil && out.DepositConsumed {
			p.w.Info("The deposit was completed and will not be repeated on retry")
		}
		return
	}
	p.w.Success("Flex Plan ready")
	if out.Plan != nil {
		p.w.Println("  Plan:     %s (%s, max %d providers, %s)",
			out.Plan.ID,
			PerThousand(out.Plan.PricePerThousand()),
			out.Plan.Maximum,
			FormatDuration(time.Duration(out.Plan.Expiration)*time.Second),
		)
	}
	if out.APIKey != nil {
		p.w.Println("  API key:  %s", out.APIKey.Name)
	}
	if out.BalanceRefreshed {
		p.w.Println("  Balance:  %s", Tokens(types.MustFromBaseUnits(out.BillingBalance), 4))
	}
	p.w.Println(p.w.color(Dim, fmt.Sprintf("Completed in %s", time.Since(p.start).Round(time.Millisecond))))
}
