package testutil

// FixedRunIDGenerator returns the same run id every time.
//
// This enables golden comparison of reports and ledger rows. Production
// code uses UUIDv7 ids instead.
//
// Thread-safety: FixedRunIDGenerator is stateless and safe for concurrent use.
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator creates a generator for id. An empty id becomes
// "test-run-default".
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed run id.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}
