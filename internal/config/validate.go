package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// Error is a configuration problem. Field is the config path (for
// example "store.bucket") or the environment variable name.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsError reports whether err is a configuration error.
func IsError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Validate checks c against the embedded CUE schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(ctx.Encode(c.schemaView()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// schemaView renders c with the field names used by the schema.
func (c *Config) schemaView() map[string]any {
	return map[string]any{
		"input":           c.Input,
		"manifest_path":   c.ManifestPath,
		"offers_path":     c.OffersPath,
		"concurrency":     c.Concurrency,
		"attempts":        c.Attempts,
		"base_delay":      int64(c.BaseDelay),
		"http_timeout":    int64(c.HTTPTimeout),
		"user_agent":      c.UserAgent,
		"max_body_bytes":  c.MaxBodyBytes,
		"key_prefix":      c.KeyPrefix,
		"hash":            c.Hash,
		"public_base_url": c.PublicBaseURL,
		"manifest_key":    c.ManifestKey,
		"history_db":      c.HistoryDB,
		"store": map[string]any{
			"kind":       c.Store.Kind,
			"dir":        c.Store.Dir,
			"bucket":     c.Store.Bucket,
			"region":     c.Store.Region,
			"endpoint":   c.Store.Endpoint,
			"path_style": c.Store.PathStyle,
		},
		"transcode": map[string]any{
			"kind":          c.Transcode.Kind,
			"max_dimension": c.Transcode.MaxDimension,
			"quality":       c.Transcode.Quality,
		},
	}
}

// formatCUEError reduces a CUE validation error to the first violation.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	path := first.Path()
	if len(path) > 0 && path[0] == "#Config" {
		path = path[1:]
	}
	format, args := first.Msg()
	return &Error{
		Field:   strings.Join(path, "."),
		Message: fmt.Sprintf(format, args...),
	}
}
