// Package cmd provides the CLI commands for flexplan.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"flexplan/internal/config"
	"flexplan/internal/errors"
	"flexplan/internal/logging"
)

// version is overridden at build time
var version = "0.1.0"

var (
	cfgFile    string
	envFile    string
	profile    string
	outputFmt  string
	useSandbox bool
	noColor    bool
	verbose    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "flexplan",
	Short: "Create and manage Flex Plans",
	Long: `flexplan provisions a Flex Plan for a deployment: it recommends a
price from the providers currently quoting it, funds the billing account
and creates the plan and its API key.

Examples:
  flexplan tiers --project 42 --deployment QmXYZ
  flexplan create --project 42 --deployment QmXYZ
  flexplan create --plan plan.hcl
  flexplan preview --plan plan.hcl`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flexplan/config.json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with FLEXPLAN_* overrides")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "credentials profile (default from config)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "", "output format: text or json (default from config)")
	rootCmd.PersistentFlags().BoolVar(&useSandbox, "sandbox", false, "talk to the local sandbox billing store instead of the billing API")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func initConfig(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.LoadWithEnv(path, envFile)
	if err != nil {
		return errors.Config("load configuration", err)
	}
	if outputFmt != "" {
		cfg.Output.DefaultFormat = outputFmt
	}
	if profile != "" {
		cfg.Billing.Profile = profile
	}
	if noColor {
		cfg.Output.Color = false
	}
	if err := cfg.Validate(); err != nil {
		return errors.Config("invalid configuration", err)
	}
	config.Set(cfg)

	// Initialize logging
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
	return nil
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "flexplan version %s\n", version)
	},
}
