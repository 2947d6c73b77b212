package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/feedmirror/internal/feed"
	"github.com/roach88/feedmirror/internal/manifest"
)

// ConvertOptions holds flags for the convert command.
type ConvertOptions struct {
	*RootOptions
	Output   string
	Offers   string
	ShopName string
	ShopURL  string
}

// NewConvertCommand creates the convert command.
func NewConvertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConvertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "convert <feed.xml>",
		Short: "Convert a product feed into a YML catalog",
		Long: `Convert an RSS or Atom product feed into a YML marketplace catalog.

With --offers, pictures are replaced by the mirrored URLs from a sync
offers file; items missing from it keep their original image links.

Examples:
  feedmirror convert feed.xml -o catalog.xml
  feedmirror convert feed.xml --offers offers.json -o catalog.xml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().StringVar(&opts.Offers, "offers", "", "offers file written by sync")
	cmd.Flags().StringVar(&opts.ShopName, "shop-name", "", "shop name (default: feed title)")
	cmd.Flags().StringVar(&opts.ShopURL, "shop-url", "", "shop URL (default: feed link)")

	return cmd
}

func runConvert(opts *ConvertOptions, feedPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	f, err := feed.ParseFile(feedPath)
	if err != nil {
		return reportError(formatter, ExitCommandError, ErrCodeNotFound, "failed to read feed", err)
	}

	convOpts := feed.ConvertOptions{ShopName: opts.ShopName, ShopURL: opts.ShopURL}
	if opts.Offers != "" {
		data, err := os.ReadFile(opts.Offers)
		if err != nil {
			return reportError(formatter, ExitCommandError, ErrCodeNotFound, "failed to read offers", err)
		}
		if convOpts.Offers, err = manifest.LoadOffers(data); err != nil {
			return WrapExitError(ExitCommandError, "failed to parse offers", err)
		}
	}

	var buf bytes.Buffer
	if err := feed.Convert(&buf, f, convOpts); err != nil {
		return WrapExitError(ExitFailure, "failed to convert feed", err)
	}
	if opts.Output == "" {
		_, err := cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}
	if err := manifest.WriteFile(opts.Output, buf.Bytes()); err != nil {
		return reportError(formatter, ExitFailure, ErrCodeWriteFailed, "failed to write catalog", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote catalog with %d items to %s\n", len(f.Items), opts.Output)
	return nil
}
