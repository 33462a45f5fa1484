package testutil

// FixedRunID generates the same run id every time.
//
// This keeps run logs and golden summaries byte-identical across test runs.
type FixedRunID struct {
	id string
}

// NewFixedRunID creates a generator. If id is empty, Generate returns
// "test-run-default".
func NewFixedRunID(id string) *FixedRunID {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunID{id: id}
}

// Generate returns the fixed run id.
func (g *FixedRunID) Generate() string {
	return g.id
}
