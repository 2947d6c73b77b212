package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/feedmirror/internal/feed"
	"github.com/roach88/feedmirror/internal/manifest"
	"github.com/roach88/feedmirror/internal/pipeline"
)

// EntriesOptions holds flags for the entries command.
type EntriesOptions struct {
	*RootOptions
	Output string
}

// NewEntriesCommand creates the entries command.
func NewEntriesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntriesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "entries <feed.xml>",
		Short: "Extract sync entries from a product feed",
		Long: `Read an RSS or Atom product feed and write the entries file consumed
by sync: one entry per item, with the item's image links in feed order.
Items without an ID or without images are left out.

Examples:
  feedmirror entries feed.xml -o entries.json
  feedmirror entries feed.xml > entries.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntries(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default: stdout)")

	return cmd
}

func runEntries(opts *EntriesOptions, feedPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	f, err := feed.ParseFile(feedPath)
	if err != nil {
		return reportError(formatter, ExitCommandError, ErrCodeNotFound, "failed to read feed", err)
	}
	entries := feed.Entries(f)

	data, err := pipeline.MarshalEntries(entries)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode entries", err)
	}
	if opts.Output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := manifest.WriteFile(opts.Output, data); err != nil {
		return reportError(formatter, ExitFailure, ErrCodeWriteFailed, "failed to write entries", err)
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]any{"output": opts.Output, "entries": len(entries), "items": len(f.Items)})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries (%d items) to %s\n", len(entries), len(f.Items), opts.Output)
	return nil
}
