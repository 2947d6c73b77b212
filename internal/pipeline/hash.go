package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"

	"github.com/zeebo/blake3"
)

// HashFunc returns the lowercase hex digest of data.
type HashFunc func(data []byte) string

// Hash algorithm names accepted in Options.Hash.
const (
	HashSHA256 = "sha256"
	HashBLAKE3 = "blake3"
)

// NewHashFunc returns the content hash named by name ("" means sha256).
func NewHashFunc(name string) (HashFunc, error) {
	switch name {
	case "", HashSHA256:
		return func(data []byte) string {
			sum := sha256.Sum256(data)
			return hex.EncodeToString(sum[:])
		}, nil
	case HashBLAKE3:
		return func(data []byte) string {
			sum := blake3.Sum256(data)
			return hex.EncodeToString(sum[:])
		}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", name)
	}
}

// ContentKey builds the object key prefix/<digest>.<ext>.
func ContentKey(prefix, digest, ext string) string {
	name := digest + "." + ext
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
