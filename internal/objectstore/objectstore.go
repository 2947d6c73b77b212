// Package objectstore is the durable home of mirrored images and the
// published manifest. The pipeline only needs two operations, an
// existence check and an upsert, so backends stay small.
package objectstore

import (
	"context"
	"fmt"
	"strings"
)

// Cache-Control policies applied on Put.
const (
	// CacheImmutable is used for content-addressed objects: a key never
	// changes meaning once written.
	CacheImmutable = "public, max-age=31536000, immutable"
	// CacheNoCache is used for the manifest object, which is overwritten.
	CacheNoCache = "no-cache"
)

// PutOptions carries object metadata.
type PutOptions struct {
	ContentType  string
	CacheControl string
}

// Store is the capability the pipeline consumes.
type Store interface {
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Put writes body under key, replacing any existing object.
	Put(ctx context.Context, key string, body []byte, opts PutOptions) error
}

// PublicURL joins the public base URL and an object key.
func PublicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

// ValidateKey rejects keys that could escape a backend's namespace.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("object key is empty")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("object key %q must be relative", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("object key %q has invalid segment %q", key, seg)
		}
	}
	return nil
}
