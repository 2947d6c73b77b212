package testutil

// FixedRunID returns the same run identifier every time.
//
// Runs executed with a FixedRunID produce identical ledger rows and log
// attributes, which keeps golden comparisons stable.
//
// Thread-safety: FixedRunID is stateless and safe for concurrent use.
type FixedRunID struct {
	id string
}

// NewFixedRunID creates a generator for id. An empty id becomes
// "test-run-default".
func NewFixedRunID(id string) *FixedRunID {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunID{id: id}
}

// Generate returns the fixed run ID.
func (g *FixedRunID) Generate() string {
	return g.id
}
