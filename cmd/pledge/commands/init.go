package commands

import (
	"errors"

	"github.com/dyluth/pledge/internal/printer"
	"github.com/dyluth/pledge/internal/scaffold"
	"github.com/spf13/cobra"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter pledge.yml",
	Long: `Write a commented pledge.yml with every setting at its default to the --config path.

Use --force to overwrite an existing file (WARNING: destroys existing configuration).`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing configuration file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	out := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	if err := scaffold.Initialize(configPath, forceInit); err != nil {
		var existing *scaffold.ExistingConfigError
		if errors.As(err, &existing) {
			return out.Error("already initialized",
				existing.Error()+".",
				nil,
				[]string{"Use 'pledge init --force' to overwrite it (this destroys the existing configuration)"})
		}
		return out.Error("initialization failed", err.Error(), nil, nil)
	}

	out.Success("Created %s\n", configPath)
	out.Info("\nNext steps:\n")
	out.Info("  1. Point redis.url at the ledger store\n")
	out.Info("  2. export %s=<key>\n", "OPENAI_API_KEY")
	out.Info("  3. Run 'pledge link --dry-run' to preview linking\n")
	return nil
}
