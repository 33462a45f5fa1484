package testutil

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Golden returns a goldie instance reading fixtures from testdata/golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/... -update
func Golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// AssertGolden compares text against testdata/golden/{name}.golden.
func AssertGolden(t *testing.T, name, text string) {
	t.Helper()
	Golden(t).Assert(t, name, []byte(text))
}
