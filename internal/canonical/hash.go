package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for digests. The version suffix allows the algorithm to
// change without colliding with digests already recorded in run history.
const (
	DomainManifest = "feedmirror/manifest/v1"
	DomainOffers   = "feedmirror/offers/v1"
)

// HashWithDomain computes SHA-256(domain + 0x00 + data) as lowercase hex.
// The null separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest marshals v canonically and hashes it under domain.
func Digest(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	return HashWithDomain(domain, data), nil
}
