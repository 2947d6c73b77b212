package manifest

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// OfferResult lists the mirrored image URLs resolved for one feed entry.
type OfferResult struct {
	Identifier string   `json:"identifier"`
	URLs       []string `json:"urls"`
}

// SortOffers orders offers by identifier and each offer's URLs
// lexicographically, removing duplicate URLs. Completion order of the
// workers never leaks into output.
func SortOffers(offers []OfferResult) {
	for i := range offers {
		urls := slices.Clone(offers[i].URLs)
		slices.Sort(urls)
		offers[i].URLs = slices.Compact(urls)
	}
	slices.SortFunc(offers, func(a, b OfferResult) int {
		return strings.Compare(a.Identifier, b.Identifier)
	})
}

// SerializeOffers renders the per-offer output file as an indented JSON
// array. Offers must already be sorted.
func SerializeOffers(offers []OfferResult) ([]byte, error) {
	if offers == nil {
		offers = []OfferResult{}
	}
	data, err := json.MarshalIndent(offers, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize offers: %w", err)
	}
	return append(data, '\n'), nil
}

// LoadOffers reads an offers file into an identifier → URLs map.
func LoadOffers(data []byte) (map[string][]string, error) {
	var offers []OfferResult
	if err := json.Unmarshal(data, &offers); err != nil {
		return nil, fmt.Errorf("parse offers: %w", err)
	}
	out := make(map[string][]string, len(offers))
	for _, o := range offers {
		out[o.Identifier] = o.URLs
	}
	return out, nil
}
