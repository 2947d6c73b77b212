package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/feedmirror/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// LookupEnv resolves FEEDMIRROR_* overrides. Defaults to os.LookupEnv;
	// tests substitute a fixed map.
	LookupEnv config.LookupFunc
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the feedmirror CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{LookupEnv: os.LookupEnv})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedmirror",
		Short: "feedmirror - mirror product feed images",
		Long: `Mirror the images referenced by a product feed into an object store.

Images are fetched conditionally, stored under content-addressed keys, and
tracked in a manifest so that repeated runs only transfer what changed.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")

	// Add subcommands
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewEntriesCommand(opts))
	cmd.AddCommand(NewConvertCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// loadConfig merges defaults, the config file, and the environment.
// Flag overrides are applied by each command afterwards.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := config.ApplyEnv(cfg, lookup); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid environment", err)
	}
	return cfg, nil
}
