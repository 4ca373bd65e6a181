package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"flexplan/core/pricing"
	"flexplan/core/types"
	"flexplan/core/ui"
	"flexplan/core/wizard"
	"flexplan/internal/config"
	"flexplan/internal/errors"
)

var (
	projectID    string
	deploymentID string
)

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "Show the recommended plan tiers for a deployment",
	RunE:  runTiers,
}

var (
	affordPrice   string
	affordMax     int
	affordBalance string
)

var affordCmd = &cobra.Command{
	Use:   "afford",
	Short: "Show what a price buys with a billing balance",
	Long: `Show how many requests a billing balance pays for at a price per
1000 requests, how many sampled providers the price matches and the
suggested deposit. The balance defaults to the account's billing balance.`,
	RunE: runAfford,
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show wallet, billing balance and allowance",
	RunE:  runBalance,
}

func init() {
	rootCmd.AddCommand(tiersCmd)
	rootCmd.AddCommand(affordCmd)
	rootCmd.AddCommand(balanceCmd)

	for _, c := range []*cobra.Command{tiersCmd, affordCmd} {
		c.Flags().StringVar(&projectID, "project", "", "project id")
		c.Flags().StringVar(&deploymentID, "deployment", "", "deployment id")
	}
	tiersCmd.MarkFlagRequired("project")
	tiersCmd.MarkFlagRequired("deployment")

	affordCmd.Flags().StringVar(&affordPrice, "price", "", "price per 1000 requests [REQUIRED]")
	affordCmd.Flags().IntVar(&affordMax, "max-providers", types.MinMaxProviders, "provider limit")
	affordCmd.Flags().StringVar(&affordBalance, "balance", "", "billing balance (default: the account's)")
	affordCmd.MarkFlagRequired("price")
}

// tierJSON is the JSON form of one tier row
type tierJSON struct {
	Tier         string `json:"tier"`
	Price        string `json:"price_per_thousand,omitempty"`
	MaxProviders int    `json:"max_providers,omitempty"`
	Matched      int    `json:"matched_providers"`
	FiatUSD      string `json:"fiat_usd,omitempty"`
}

func runTiers(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	offers := s.offers(ctx, projectID, deploymentID)
	rows := ui.TierRows(offers)
	tokenPrice := config.Get().Output.TokenPrice()

	if jsonOutput() {
		out := make([]tierJSON, 0, len(rows))
		for _, r := range rows {
			j := tierJSON{Tier: r.Tier.String(), MaxProviders: r.MaxProviders, Matched: r.Matched}
			if r.Tier != types.TierCustom {
				j.Price = r.Price.String()
				if v, ok := pricing.EstimateFiat(r.Price, tokenPrice); ok {
					j.FiatUSD = v.String()
				}
			}
			out = append(out, j)
		}
		return printJSON(cmd, map[string]interface{}{
			"deployment_id": deploymentID,
			"offers":        offers.Len(),
			"expiration":    offers.Expiration(),
			"tiers":         out,
		})
	}

	w := newWriter(cmd)
	w.Header("Flex Plan tiers for " + deploymentID)
	w.RenderTiers(rows, offers.Len(), tokenPrice)
	return nil
}

// affordabilityJSON is the JSON form of the afford command
type affordabilityJSON struct {
	Price              string `json:"price_per_thousand"`
	Balance            string `json:"balance"`
	MatchedProviders   int    `json:"matched_providers"`
	AffordableRequests int64  `json:"affordable_requests"`
	SuggestedDeposit   string `json:"suggested_deposit"`
	LowBalance         bool   `json:"low_balance"`
}

func runAfford(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	price, ok, err := types.ParseAmount(affordPrice)
	if err != nil || !ok || !price.IsPositive() {
		return errors.Validation(fmt.Sprintf("--price must be a positive number, got %q", affordPrice))
	}
	if affordMax < types.MinMaxProviders {
		return errors.Validation(fmt.Sprintf("--max-providers must be at least %d", types.MinMaxProviders))
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	balance, ok, err := types.ParseAmount(affordBalance)
	if err != nil {
		return errors.Validation(err.Error())
	}
	if !ok {
		b, err := s.balances(ctx)
		if err != nil {
			return err
		}
		balance = b.Billing
	}

	matched := 0
	if projectID != "" && deploymentID != "" {
		matched = s.offers(ctx, projectID, deploymentID).MatchedProviders(price)
	}
	suggested := pricing.SuggestedDeposit(price, affordMax)
	requests := pricing.AffordableRequests(balance, price)
	low := pricing.LowBalanceWarning(balance)

	if jsonOutput() {
		return printJSON(cmd, affordabilityJSON{
			Price:              price.String(),
			Balance:            balance.String(),
			MatchedProviders:   matched,
			AffordableRequests: requests,
			SuggestedDeposit:   suggested.String(),
			LowBalance:         low,
		})
	}

	w := newWriter(cmd)
	w.Header("Affordability at " + ui.PerThousand(price))
	w.RenderAffordability(wizard.Affordability{
		MatchedProviders:   matched,
		AffordableRequests: requests,
		SuggestedDeposit:   suggested,
		LowBalance:         low,
	}, balance)
	if v, ok := pricing.EstimateFiat(balance, config.Get().Output.TokenPrice()); ok {
		w.Println("  Balance value:       %s", ui.Fiat(v, ok))
	}
	return nil
}

func runBalance(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	b, err := s.balances(ctx)
	if err != nil {
		return err
	}

	if jsonOutput() {
		return printJSON(cmd, map[string]interface{}{
			"account":   b.Account,
			"wallet":    b.Wallet.String(),
			"billing":   b.Billing.String(),
			"allowance": b.Allowance.String(),
			"low":       b.LowBalance(),
		})
	}

	w := newWriter(cmd)
	w.Header("Account " + b.Account)
	w.Println("  Wallet:     %s", ui.Tokens(b.Wallet, 4))
	w.Println("  Billing:    %s", ui.Tokens(b.Billing, 4))
	w.Println("  Allowance:  %s", ui.Tokens(b.Allowance, 4))
	if b.LowBalance() {
		w.Warning("Billing balance is below %d %s", types.LowBalanceFloor, types.TokenSymbol)
	}
	return nil
}
