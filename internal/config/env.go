package config

import (
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FEEDMIRROR_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	name string
	set  func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func duration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"INPUT", str(func(c *Config) *string { return &c.Input })},
	{"MANIFEST_PATH", str(func(c *Config) *string { return &c.ManifestPath })},
	{"OFFERS_PATH", str(func(c *Config) *string { return &c.OffersPath })},
	{"CONCURRENCY", integer(func(c *Config) *int { return &c.Concurrency })},
	{"ATTEMPTS", integer(func(c *Config) *int { return &c.Attempts })},
	{"BASE_DELAY", duration(func(c *Config) *time.Duration { return &c.BaseDelay })},
	{"HTTP_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.HTTPTimeout })},
	{"USER_AGENT", str(func(c *Config) *string { return &c.UserAgent })},
	{"MAX_BODY_BYTES", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.MaxBodyBytes = n
		return nil
	}},
	{"KEY_PREFIX", str(func(c *Config) *string { return &c.KeyPrefix })},
	{"HASH", str(func(c *Config) *string { return &c.Hash })},
	{"PUBLIC_BASE_URL", str(func(c *Config) *string { return &c.PublicBaseURL })},
	{"MANIFEST_KEY", str(func(c *Config) *string { return &c.ManifestKey })},
	{"HISTORY_DB", str(func(c *Config) *string { return &c.HistoryDB })},
	{"STORE_KIND", str(func(c *Config) *string { return &c.Store.Kind })},
	{"STORE_DIR", str(func(c *Config) *string { return &c.Store.Dir })},
	{"STORE_BUCKET", str(func(c *Config) *string { return &c.Store.Bucket })},
	{"STORE_REGION", str(func(c *Config) *string { return &c.Store.Region })},
	{"STORE_ENDPOINT", str(func(c *Config) *string { return &c.Store.Endpoint })},
	{"STORE_PATH_STYLE", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Store.PathStyle = b
		return nil
	}},
	{"TRANSCODE_KIND", str(func(c *Config) *string { return &c.Transcode.Kind })},
	{"TRANSCODE_MAX_DIMENSION", integer(func(c *Config) *int { return &c.Transcode.MaxDimension })},
	{"TRANSCODE_QUALITY", integer(func(c *Config) *int { return &c.Transcode.Quality })},
}

// ApplyEnv overlays FEEDMIRROR_* variables found via lookup. Malformed
// values are reported as *Error naming the variable.
func ApplyEnv(c *Config, lookup LookupFunc) error {
	for _, b := range envBindings {
		name := EnvPrefix + b.name
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := b.set(c, v); err != nil {
			return &Error{Field: name, Message: fmt.Sprintf("invalid value %q: %v", v, err)}
		}
	}
	return nil
}
