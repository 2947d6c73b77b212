package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// LoadEntries reads the entries file: a JSON array of
// {"identifier": ..., "urls": [...]}. Comments and trailing commas are
// tolerated so the file can be maintained by hand. A missing file is an
// error; the run cannot start without input.
func LoadEntries(path string) ([]SourceEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	return ParseEntries(data)
}

// ParseEntries decodes entries JSON (with optional comments).
func ParseEntries(data []byte) ([]SourceEntry, error) {
	var entries []SourceEntry
	if err := json.Unmarshal(jsonc.ToJSON(data), &entries); err != nil {
		return nil, fmt.Errorf("parse entries: %w", err)
	}
	return entries, nil
}

// MarshalEntries renders entries in the format LoadEntries reads.
func MarshalEntries(entries []SourceEntry) ([]byte, error) {
	if entries == nil {
		entries = []SourceEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal entries: %w", err)
	}
	return append(data, '\n'), nil
}
