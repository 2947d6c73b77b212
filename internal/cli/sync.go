package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/roach88/feedmirror/internal/config"
	"github.com/roach88/feedmirror/internal/fetch"
	"github.com/roach88/feedmirror/internal/objectstore"
	"github.com/roach88/feedmirror/internal/pipeline"
	"github.com/roach88/feedmirror/internal/store"
	"github.com/roach88/feedmirror/internal/transcode"
)

// SyncOptions holds flags for the sync command. Flags override the
// config file and environment only when set explicitly.
type SyncOptions struct {
	*RootOptions
	Input         string
	ManifestPath  string
	OffersPath    string
	PublicBaseURL string
	StoreDir      string
	Concurrency   int
	Attempts      int
	Hash          string
	HistoryDB     string

	// RunIDs overrides the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs pipeline.RunIDGenerator
}

// SyncSummary is the machine-readable result of a sync.
type SyncSummary struct {
	RunID            string                 `json:"run_id"`
	Stats            pipeline.StatsSnapshot `json:"stats"`
	Concurrency      int                    `json:"concurrency"`
	Offers           int                    `json:"offers"`
	ManifestChanged  bool                   `json:"manifest_changed"`
	ManifestUploaded bool                   `json:"manifest_uploaded"`
	ManifestDigest   string                 `json:"manifest_digest"`
}

// String renders the one-line run summary.
func (s SyncSummary) String() string {
	return fmt.Sprintf("%s concurrency=%d", s.Stats, s.Concurrency)
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror feed images into the object store",
		Long: `Fetch every image referenced by the entries file, store it under a
content-addressed key, and write the offers file and the manifest.

URLs that cannot be fetched or stored are logged and skipped; the run
still succeeds and the next run retries them.

Examples:
  feedmirror sync --config feedmirror.yaml
  feedmirror sync --input entries.json --public-base-url https://cdn.example.com
  FEEDMIRROR_CONCURRENCY=16 feedmirror sync -c feedmirror.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "entries JSON file")
	cmd.Flags().StringVar(&opts.ManifestPath, "manifest", "", "manifest file path")
	cmd.Flags().StringVar(&opts.OffersPath, "offers", "", "offers output file path")
	cmd.Flags().StringVar(&opts.PublicBaseURL, "public-base-url", "", "base URL stored objects are served from")
	cmd.Flags().StringVar(&opts.StoreDir, "store-dir", "", "directory for the fs object store")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "number of workers")
	cmd.Flags().IntVar(&opts.Attempts, "attempts", 0, "fetch attempts per URL")
	cmd.Flags().StringVar(&opts.Hash, "hash", "", "content hash (sha256|blake3)")
	cmd.Flags().StringVar(&opts.HistoryDB, "history-db", "", "SQLite run ledger path")

	return cmd
}

// applyFlags overlays explicitly set flags on cfg.
func (opts *SyncOptions) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.Input = opts.Input
	}
	if flags.Changed("manifest") {
		cfg.ManifestPath = opts.ManifestPath
	}
	if flags.Changed("offers") {
		cfg.OffersPath = opts.OffersPath
	}
	if flags.Changed("public-base-url") {
		cfg.PublicBaseURL = opts.PublicBaseURL
	}
	if flags.Changed("store-dir") {
		cfg.Store.Kind = "fs"
		cfg.Store.Dir = opts.StoreDir
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = opts.Concurrency
	}
	if flags.Changed("attempts") {
		cfg.Attempts = opts.Attempts
	}
	if flags.Changed("hash") {
		cfg.Hash = opts.Hash
	}
	if flags.Changed("history-db") {
		cfg.HistoryDB = opts.HistoryDB
	}
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	logger := setupLogging(opts.Verbose, cmd.ErrOrStderr())
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			exitErr.Reported = true
		}
		return err
	}
	opts.applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return reportError(formatter, ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	entries, err := pipeline.LoadEntries(cfg.Input)
	if err != nil {
		return reportError(formatter, ExitCommandError, ErrCodeNotFound, "failed to load entries", err)
	}
	logger.Info("entries loaded", "path", cfg.Input, "entries", len(entries))

	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		return reportError(formatter, ExitCommandError, ErrCodeConfig, "failed to open object store", err)
	}
	transcoder, err := transcode.New(cfg.Transcode.Kind, cfg.Transcode.MaxDimension, cfg.Transcode.Quality)
	if err != nil {
		return reportError(formatter, ExitCommandError, ErrCodeConfig, "invalid transcoder", err)
	}

	// ledger stays a nil interface when no history database is configured.
	var ledger pipeline.Ledger
	if cfg.HistoryDB != "" {
		st, err := store.Open(cfg.HistoryDB)
		if err != nil {
			return reportError(formatter, ExitCommandError, ErrCodeGeneric, "failed to open history database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing history database", "error", closeErr)
			}
		}()
		ledger = st
	}

	fetcher := fetch.New(&http.Client{Timeout: cfg.HTTPTimeout},
		fetch.WithBaseDelay(cfg.BaseDelay),
		fetch.WithMaxBodyBytes(cfg.MaxBodyBytes),
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithLogger(logger),
	)

	schedOpts := []pipeline.SchedulerOption{pipeline.WithLogger(logger)}
	if ledger != nil {
		schedOpts = append(schedOpts, pipeline.WithEventSink(ledger))
	}
	if opts.RunIDs != nil {
		schedOpts = append(schedOpts, pipeline.WithRunIDGenerator(opts.RunIDs))
	}
	scheduler, err := pipeline.NewScheduler(pipelineOptions(cfg), fetcher, transcoder, objects, schedOpts...)
	if err != nil {
		return reportError(formatter, ExitCommandError, ErrCodeConfig, "invalid pipeline options", err)
	}

	syncer := pipeline.NewSyncer(scheduler, objects, ledger, pipeline.Outputs{
		ManifestPath: cfg.ManifestPath,
		OffersPath:   cfg.OffersPath,
		ManifestKey:  cfg.ManifestKey,
	})
	report, err := syncer.Sync(ctx, entries)
	if err != nil {
		return reportError(formatter, ExitFailure, ErrCodeRunFailed, "sync failed", err)
	}

	summary := SyncSummary{
		RunID:            report.RunID,
		Stats:            report.Stats,
		Concurrency:      report.Concurrency,
		Offers:           len(report.Offers),
		ManifestChanged:  report.ManifestChanged,
		ManifestUploaded: report.ManifestUploaded,
		ManifestDigest:   report.ManifestDigest,
	}
	logger.Info("sync complete",
		"run_id", summary.RunID,
		"uploaded", summary.Stats.Uploaded,
		"reused_not_modified", summary.Stats.ReusedNotModified,
		"reused_existing", summary.Stats.ReusedExisting,
		"skipped", summary.Stats.Skipped,
		"concurrency", summary.Concurrency,
	)
	formatter.VerboseLog("manifest changed=%t uploaded=%t digest=%s",
		summary.ManifestChanged, summary.ManifestUploaded, summary.ManifestDigest)
	return formatter.Success(summary)
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		Concurrency:   cfg.Concurrency,
		Attempts:      cfg.Attempts,
		KeyPrefix:     cfg.KeyPrefix,
		PublicBaseURL: cfg.PublicBaseURL,
		Hash:          cfg.Hash,
	}
}

func openObjectStore(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	switch cfg.Store.Kind {
	case "fs":
		return objectstore.NewFS(cfg.Store.Dir)
	case "s3":
		slog.Debug("using s3 object store", "bucket", cfg.Store.Bucket, "endpoint", cfg.Store.Endpoint)
		return objectstore.NewS3(ctx, objectstore.S3Config{
			Bucket:    cfg.Store.Bucket,
			Region:    cfg.Store.Region,
			Endpoint:  cfg.Store.Endpoint,
			PathStyle: cfg.Store.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}
