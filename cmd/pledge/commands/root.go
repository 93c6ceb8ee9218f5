package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/pledge/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	instanceName string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pledge",
	Short: "Pledge - evidence linking and progress scoring for government promises",
	Long: `Pledge links ingested evidence (bill events, orders in council, gazette notices,
news releases) to the government promises it supports, and scores each promise's
progress from its linked evidence.

Batch commands (link, score, reconcile) are meant to be run by a scheduler.
'pledge watch' links new evidence as soon as it is ingested.

State lives in Redis; see pledge.yml for configuration.`,
	// Prevent silent success when unknown flags are passed to the root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context, so batch
// runs stop between items and watch mode shuts down cleanly.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cobra's default error printing is replaced by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to pledge.yml (defaults apply when the default path is missing)")
	rootCmd.PersistentFlags().StringVarP(&instanceName, "instance", "n", "", "Ledger instance name (overrides config and "+config.EnvInstance+")")
}
