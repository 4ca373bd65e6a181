package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"flexplan/internal/config"
	"flexplan/internal/credentials"
	"flexplan/internal/errors"
)

// configCmd manages configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := json.MarshalIndent(config.Get(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))

		creds, err := credentials.Load(config.Get().Billing.CredentialsFile, config.Get().Billing.Profile)
		if err != nil {
			return errors.Config("load credentials", err)
		}
		token := "(not set)"
		if creds.Token != "" {
			token = "(set)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nprofile %q: account %q, token %s\n", creds.Profile, creds.Account, token)
		return nil
	},
}

var (
	initAccount    string
	initToken      string
	initBillingURL string
	initForce      bool
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file and a credentials profile",
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().StringVar(&initAccount, "account", "", "wallet address of the consumer [REQUIRED]")
	configInitCmd.Flags().StringVar(&initToken, "token", "", "billing API bearer token")
	configInitCmd.Flags().StringVar(&initBillingURL, "billing-url", "", "billing API base URL")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	configInitCmd.MarkFlagRequired("account")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return errors.Validation(fmt.Sprintf("%s already exists (use --force to overwrite)", path))
	}

	cfg := config.Get()
	if initBillingURL != "" {
		cfg.Billing.BaseURL = initBillingURL
		if err := cfg.Validate(); err != nil {
			return errors.Config("invalid billing url", err)
		}
	}
	if err := cfg.Save(path); err != nil {
		return errors.Config("write config", err)
	}

	creds := credentials.Credentials{
		Profile: cfg.Billing.Profile,
		Account: initAccount,
		Token:   initToken,
	}
	if err := credentials.Save(cfg.Billing.CredentialsFile, creds); err != nil {
		return errors.Config("write credentials", err)
	}

	w := newWriter(cmd)
	w.Success("Wrote %s", path)
	w.Success("Saved profile %q to %s", creds.Profile, cfg.Billing.CredentialsFile)
	return nil
}
