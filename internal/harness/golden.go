package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the golden-file form of a scenario run.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Initial  string       `json:"initial"`
	Orders   int          `json:"orders"`
	Trace    []TraceEvent `json:"trace"`
	Content  string       `json:"content"`
	Version  int          `json:"version"`
}

// Snapshot builds the golden-file form of a result.
func Snapshot(scenario *Scenario, result *Result) TraceSnapshot {
	return TraceSnapshot{
		Scenario: scenario.Name,
		Initial:  scenario.Initial,
		Orders:   result.Orders,
		Trace:    result.Trace,
		Content:  result.Content,
		Version:  result.Version,
	}
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
// Field order is fixed by the struct, so the output is byte-stable.
func (s TraceSnapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario, fails the test on expectation
// mismatches, and compares the trace against testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, msg)
	}
	return AssertGolden(t, scenario, result)
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenario, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
