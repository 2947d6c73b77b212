package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// metaSuffix names the sidecar file holding an object's metadata.
const metaSuffix = ".meta.json"

// FS stores objects as files under Root, with metadata in a JSON sidecar
// next to each object. Suitable for a directory served by a web server or
// synced to a bucket by other tooling.
type FS struct {
	Root string
}

// NewFS returns an FS store rooted at root, creating the directory.
func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, fmt.Errorf("filesystem store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FS{Root: root}, nil
}

func (s *FS) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.Root, filepath.FromSlash(key)), nil
}

// Exists implements Store.
func (s *FS) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

type fsMeta struct {
	ContentType  string `json:"content_type,omitempty"`
	CacheControl string `json:"cache_control,omitempty"`
}

// Put implements Store. The body is written before its sidecar; both
// writes go through a temp file and rename.
func (s *FS) Put(ctx context.Context, key string, body []byte, opts PutOptions) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeAtomic(p, body); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	meta, err := json.Marshal(fsMeta{ContentType: opts.ContentType, CacheControl: opts.CacheControl})
	if err != nil {
		return fmt.Errorf("put %s: encode metadata: %w", key, err)
	}
	if err := writeAtomic(p+metaSuffix, meta); err != nil {
		return fmt.Errorf("put %s: metadata: %w", key, err)
	}
	return nil
}

// Metadata reads the sidecar for key.
func (s *FS) Metadata(key string) (PutOptions, error) {
	p, err := s.path(key)
	if err != nil {
		return PutOptions{}, err
	}
	data, err := os.ReadFile(p + metaSuffix)
	if err != nil {
		return PutOptions{}, err
	}
	var m fsMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return PutOptions{}, fmt.Errorf("decode metadata for %s: %w", key, err)
	}
	return PutOptions{ContentType: m.ContentType, CacheControl: m.CacheControl}, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		return err
	}
	return os.Rename(name, path)
}
