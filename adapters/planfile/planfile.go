// Package planfile reads and writes HCL plan files: the non-interactive
// form of the wizard's answers.
//
//	project_id    = "42"
//	deployment_id = "QmDeployment"
//
//	plan {
//	  tier          = "custom"
//	  price         = 2.5
//	  max_providers = 4
//	}
//
//	deposit {
//	  amount = 500
//	}
//
// Without a deposit block the deposit step is skipped, which needs an
// existing billing balance.
package planfile

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"flexplan/core/types"
	"flexplan/core/wizard"
)

// File is a decoded plan file
type File struct {
	ProjectID    string        `hcl:"project_id"`
	DeploymentID string        `hcl:"deployment_id"`
	Plan         PlanBlock     `hcl:"plan,block"`
	Deposit      *DepositBlock `hcl:"deposit,block"`
}

// PlanBlock holds the first wizard step. Price and max_providers are read
// for the custom tier only; numbers and strings are both accepted.
type PlanBlock struct {
	Tier         string `hcl:"tier"`
	Price        string `hcl:"price,optional"`
	MaxProviders string `hcl:"max_providers,optional"`
}

// DepositBlock holds the second wizard step
type DepositBlock struct {
	Amount string `hcl:"amount"`
}

// Load reads and decodes the plan file at path
func Load(path string) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, src)
}

// Parse decodes plan file source. filename is only used in diagnostics.
func Parse(filename string, src []byte) (*File, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diagError(diags)
	}

	var file File
	if diags := gohcl.DecodeBody(f.Body, nil, &file); diags.HasErrors() {
		return nil, diagError(diags)
	}
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &file, nil
}

func diagError(diags hcl.Diagnostics) error {
	var msgs []string
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		msg := d.Summary
		if d.Detail != "" {
			msg += ": " + d.Detail
		}
		if d.Subject != nil {
			msg = d.Subject.String() + ": " + msg
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 1 {
		return fmt.Errorf("plan file: %s", msgs[0])
	}
	return fmt.Errorf("plan file: %d errors, first: %s", len(msgs), msgs[0])
}

// Validate checks what the wizard cannot: identifiers and the tier name.
// Amounts are left to the wizard's own validation.
func (f *File) Validate() error {
	if f.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if f.DeploymentID == "" {
		return fmt.Errorf("deployment_id is required")
	}
	if _, err := types.ParseTier(f.Plan.Tier); err != nil {
		return err
	}
	return nil
}

// Tier returns the parsed tier
func (f *File) Tier() types.Tier {
	t, _ := types.ParseTier(f.Plan.Tier)
	return t
}

// Apply walks w from the first step to the confirmation step with the
// file's answers. It stops at the first transition w rejects.
func (f *File) Apply(w *wizard.Wizard) error {
	if err := w.SelectTier(f.Tier()); err != nil {
		return err
	}
	if f.Tier() == types.TierCustom {
		if err := w.SetCustomPrice(f.Plan.Price); err != nil {
			return err
		}
		if err := w.SetCustomMaxProviders(f.Plan.MaxProviders); err != nil {
			return err
		}
	}
	if err := w.Next(); err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	if f.Deposit == nil {
		if err := w.Skip(); err != nil {
			return fmt.Errorf("deposit: %w", err)
		}
		return nil
	}
	if err := w.SetDeposit(f.Deposit.Amount); err != nil {
		return err
	}
	if err := w.Next(); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

// Encode renders f as HCL
func (f *File) Encode() []byte {
	out := hclwrite.NewEmptyFile()
	root := out.Body()
	root.SetAttributeValue("project_id", cty.StringVal(f.ProjectID))
	root.SetAttributeValue("deployment_id", cty.StringVal(f.DeploymentID))
	root.AppendNewline()

	plan := root.AppendNewBlock("plan", nil).Body()
	plan.SetAttributeValue("tier", cty.StringVal(f.Plan.Tier))
	if f.Plan.Price != "" {
		plan.SetAttributeValue("price", cty.StringVal(f.Plan.Price))
	}
	if f.Plan.MaxProviders != "" {
		plan.SetAttributeValue("max_providers", cty.StringVal(f.Plan.MaxProviders))
	}

	if f.Deposit != nil {
		root.AppendNewline()
		deposit := root.AppendNewBlock("deposit", nil).Body()
		deposit.SetAttributeValue("amount", cty.StringVal(f.Deposit.Amount))
	}
	return out.Bytes()
}

// FromState captures a wizard's answers as a plan file
func FromState(projectID, deploymentID string, s wizard.State) *File {
	f := &File{
		ProjectID:    projectID,
		DeploymentID: deploymentID,
		Plan:         PlanBlock{Tier: s.Tier.String()},
	}
	if s.Tier == types.TierCustom {
		f.Plan.Price = s.CustomPrice
		f.Plan.MaxProviders = s.CustomMaxProviders
	}
	if s.DepositInput != "" {
		f.Deposit = &DepositBlock{Amount: s.DepositInput}
	}
	return f
}
