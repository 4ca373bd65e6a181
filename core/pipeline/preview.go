package pipeline

import (
	"context"
)

// ChecklistItem is one line of the confirmation checklist
type ChecklistItem struct {
	Stage  Stage
	Label  string
	Needed bool
	Detail string
}

// Preview reports which stages a run with req would act on, reading the
// same live state Run reads and submitting nothing.
func (p *Pipeline) Preview(ctx context.Context, req Request) ([]ChecklistItem, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	items := make([]ChecklistItem, 0, len(Stages()))
	add := func(s Stage, needed bool, detail string) {
		items = append(items, ChecklistItem{Stage: s, Label: s.Label(), Needed: needed, Detail: detail})
	}

	amount := req.depositUnits()
	need, err := p.needsApproval(ctx, amount)
	if err != nil {
		return nil, &StageError{Stage: StageAllowance, Err: err}
	}
	if need {
		add(StageAllowance, true, "approve "+req.DepositAmount.String())
	} else {
		add(StageAllowance, false, "allowance covers deposit")
	}

	if amount.IsZero() {
		add(StageDeposit, false, "no deposit requested")
	} else {
		add(StageDeposit, true, "deposit "+req.DepositAmount.String())
	}

	switch {
	case req.ExistingAPIKey != nil:
		add(StageAPIKey, false, "key already recorded")
	default:
		_, found, err := p.findAPIKey(ctx)
		if err != nil {
			return nil, &StageError{Stage: StageAPIKey, Err: err}
		}
		if found {
			add(StageAPIKey, false, "key found on billing service")
		} else {
			add(StageAPIKey, true, "create key")
		}
	}

	action, err := p.resolvePlan(ctx, req)
	if err != nil {
		return nil, &StageError{Stage: StagePlan, Err: err}
	}
	switch {
	case !action.needed():
		add(StagePlan, false, "plan already up to date")
	case action.current != nil:
		add(StagePlan, true, "update plan "+action.current.ID)
	default:
		add(StagePlan, true, "create plan")
	}

	return items, nil
}

// Pending counts the checklist items that still need action
func Pending(items []ChecklistItem) int {
	n := 0
	for _, it := range items {
		if it.Needed {
			n++
		}
	}
	return n
}
