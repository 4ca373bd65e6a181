package cmd

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"flexplan/adapters/sandbox"
	"flexplan/core/types"
	"flexplan/internal/config"
	"flexplan/internal/credentials"
	"flexplan/internal/errors"
)

var (
	offerMaxTime int64
	offerProject string
	fundAddress  string
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Seed the local sandbox ledger and billing store",
}

var sandboxOfferCmd = &cobra.Command{
	Use:   "offer <deployment> <indexer> <price-per-1000>",
	Short: "Add or replace an indexer offer for a deployment",
	Args:  cobra.ExactArgs(3),
	RunE:  runSandboxOffer,
}

var sandboxFundCmd = &cobra.Command{
	Use:   "fund <amount>",
	Short: "Credit tokens to a sandbox wallet",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxFund,
}

func init() {
	rootCmd.AddCommand(sandboxCmd)
	sandboxCmd.AddCommand(sandboxOfferCmd)
	sandboxCmd.AddCommand(sandboxFundCmd)

	sandboxOfferCmd.Flags().Int64Var(&offerMaxTime, "max-time", 30*24*3600, "longest plan duration the indexer accepts, in seconds")
	sandboxOfferCmd.Flags().StringVar(&offerProject, "project", "", "project the deployment belongs to")
	sandboxFundCmd.Flags().StringVar(&fundAddress, "address", "", "wallet to credit (default: the configured account)")
}

func openSandbox() (*sandbox.Store, error) {
	store, err := sandbox.Open(config.Get().Ledger.SandboxDB)
	if err != nil {
		return nil, errors.Ledger("open sandbox", err)
	}
	return store, nil
}

func runSandboxOffer(cmd *cobra.Command, args []string) error {
	price, err := decimal.NewFromString(args[2])
	if err != nil || !price.IsPositive() {
		return errors.Validation("price must be a positive number")
	}
	if offerMaxTime <= 0 {
		return errors.Validation("--max-time must be positive")
	}

	store, err := openSandbox()
	if err != nil {
		return err
	}
	defer store.Close()

	offer := types.ProviderOffer{
		ProviderID:         args[1],
		PricePerThousand:   price,
		MaxDurationSeconds: offerMaxTime,
	}
	if err := store.PutOffer(cmd.Context(), offerProject, args[0], offer); err != nil {
		return errors.Ledger("store offer", err)
	}
	newWriter(cmd).Success("Offer from %s on %s at %s", args[1], args[0], price)
	return nil
}

func runSandboxFund(cmd *cobra.Command, args []string) error {
	amount, err := decimal.NewFromString(args[0])
	if err != nil || !amount.IsPositive() {
		return errors.Validation("amount must be a positive number")
	}
	address := fundAddress
	if address == "" {
		cfg := config.Get()
		creds, err := credentials.Load(cfg.Billing.CredentialsFile, cfg.Billing.Profile)
		if err != nil {
			return errors.Config("load credentials", err)
		}
		address = creds.Account
	}
	if address == "" {
		return errors.Validation("no account configured: pass --address")
	}

	store, err := openSandbox()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Fund(cmd.Context(), address, amount); err != nil {
		return errors.Ledger("fund wallet", err)
	}
	newWriter(cmd).Success("Credited %s %s to %s", amount, types.TokenSymbol, address)
	return nil
}
