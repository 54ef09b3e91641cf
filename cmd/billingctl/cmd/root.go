// Package cmd provides the CLI commands for billingctl.
package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/warp/records-billing/internal/config"
	"github.com/warp/records-billing/internal/logging"
)

var (
	cfgFile string
	verbose bool

	// cfg is loaded once flags are parsed
	cfg = config.Default()
)

// Output styles
var (
	success = color.New(color.FgGreen, color.Bold).SprintFunc()
	failure = color.New(color.FgRed, color.Bold).SprintFunc()
	warning = color.New(color.FgYellow, color.Bold).SprintFunc()
	heading = color.New(color.FgCyan, color.Bold).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "billingctl",
	Short: "Work with rate cards, quotes and forecasts",
	Long: `billingctl is the operator tool for the records billing engine.

It validates rate cards before they are deployed, prices a service against
a rate card without touching any ledger, and exports forecasts.

Examples:
  billingctl validate ./ratecard.yaml
  billingctl quote --rate-card ./ratecard.yaml --service storage --container type_01 --qty 120
  billingctl export --db ./data/billing.db --forecast acme-q1 --format pdf --out q1.pdf`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (.yaml, .toml, .json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(defaultCardCmd)
}

func initConfig() {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg = loaded

	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
}
