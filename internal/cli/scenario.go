package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/coedit/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Filter string // glob over scenario names
	Golden string // golden directory, optional
	Update bool   // rewrite golden files instead of comparing
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name    string   `json:"name"`
	Pass    bool     `json:"pass"`
	Orders  int      `json:"orders"`
	Content string   `json:"content"`
	Version int      `json:"version"`
	Errors  []string `json:"errors,omitempty"`
}

// ScenarioSummary holds the overall result.
type ScenarioSummary struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <scenarios-dir>",
		Short: "Run convergence scenarios",
		Long: `Run every YAML scenario in a directory against a fresh session.

Scenarios with permute set are run in every arrival order. With --golden,
each trace is also compared against <golden>/<name>.golden; --update
rewrites those files instead.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, malformed scenario, etc.)

Examples:
  coedit scenario ./scenarios
  coedit scenario ./scenarios --filter "overlap*"
  coedit scenario ./scenarios --golden ./golden --update
  coedit scenario ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by name glob")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "directory of golden trace files")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")

	return cmd
}

func runScenarios(opts *ScenarioOptions, dir string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	if opts.Update && opts.Golden == "" {
		return NewExitError(ExitCommandError, "--update requires --golden")
	}
	if _, err := filepath.Match(opts.Filter, ""); err != nil {
		return WrapExitError(ExitCommandError, "invalid filter pattern", err)
	}
	if _, err := os.Stat(dir); err != nil {
		return WrapExitError(ExitCommandError, "scenarios directory not found", err)
	}

	scenarios, err := harness.LoadScenarios(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenarios", err)
	}

	summary := ScenarioSummary{Scenarios: []ScenarioResult{}}
	for _, scenario := range scenarios {
		if opts.Filter != "" {
			if matched, _ := filepath.Match(opts.Filter, scenario.Name); !matched {
				continue
			}
		}

		res := runOneScenario(opts, scenario)
		out.VerboseLog("ran %s: %d order(s)", scenario.Name, res.Orders)
		summary.Scenarios = append(summary.Scenarios, res)
		summary.Total++
		if res.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	if !out.JSON() {
		writeScenarioText(out.Writer, summary, opts.Update)
	}
	if summary.Failed > 0 {
		return out.Failure(summary, CodeScenarioFailed, fmt.Sprintf("%d of %d scenario(s) failed", summary.Failed, summary.Total))
	}
	if out.JSON() {
		return out.Success(summary)
	}
	return nil
}

func runOneScenario(opts *ScenarioOptions, scenario *harness.Scenario) ScenarioResult {
	res := ScenarioResult{Name: scenario.Name}

	result, err := harness.Run(scenario)
	if err != nil {
		res.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return res
	}
	res.Pass = result.Pass
	res.Orders = result.Orders
	res.Content = result.Content
	res.Version = result.Version
	res.Errors = result.Errors

	if opts.Golden == "" {
		return res
	}

	data, err := harness.Snapshot(scenario, result).Marshal()
	if err != nil {
		res.Pass = false
		res.Errors = append(res.Errors, fmt.Sprintf("marshal trace: %v", err))
		return res
	}
	path := filepath.Join(opts.Golden, scenario.Name+".golden")

	if opts.Update {
		if err := os.MkdirAll(opts.Golden, 0755); err == nil {
			err = os.WriteFile(path, data, 0644)
		}
		if err != nil {
			res.Pass = false
			res.Errors = append(res.Errors, fmt.Sprintf("failed to update golden file: %v", err))
		}
		return res
	}

	want, err := os.ReadFile(path)
	switch {
	case err != nil:
		res.Pass = false
		res.Errors = append(res.Errors, fmt.Sprintf("golden file: %v", err))
	case !bytes.Equal(want, data):
		res.Pass = false
		res.Errors = append(res.Errors, "trace does not match golden file (run with --update to regenerate)")
	}
	return res
}

func writeScenarioText(w io.Writer, summary ScenarioSummary, updated bool) {
	if summary.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}

	for _, s := range summary.Scenarios {
		if !s.Pass {
			fmt.Fprintf(w, "✗ %s\n", s.Name)
			for _, e := range s.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
			continue
		}
		suffix := ""
		if updated {
			suffix = ", golden updated"
		}
		fmt.Fprintf(w, "✓ %s (%d order(s)%s)\n", s.Name, s.Orders, suffix)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Passed: %d, Failed: %d, Total: %d\n", summary.Passed, summary.Failed, summary.Total)
}
