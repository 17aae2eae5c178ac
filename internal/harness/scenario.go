package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/coedit/internal/ot"
)

// maxPermutedSteps is the largest set of concurrent submits whose arrival
// order provably does not matter. Pairwise transforms converge for any two
// operations, but folding three or more through each other can leave
// different text depending on arrival order.
const maxPermutedSteps = 2

// Scenario describes one editing session replayed against a fresh session.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Initial is the document's base text.
	Initial string `yaml:"initial,omitempty"`

	// Participants join in the listed order before the first step.
	Participants []string `yaml:"participants"`

	// Steps run in order against the session.
	Steps []Step `yaml:"steps"`

	// Permute runs the steps in every arrival order. There may be at most
	// two steps, each a submit against version 0, and no author may
	// submit twice.
	Permute bool `yaml:"permute,omitempty"`

	// Expect is checked after each run.
	Expect Expect `yaml:"expect"`
}

// Step is exactly one of submit, cursor or leave.
type Step struct {
	Submit *SubmitStep `yaml:"submit,omitempty"`
	Cursor *CursorStep `yaml:"cursor,omitempty"`

	// Leave detaches the named participant.
	Leave string `yaml:"leave,omitempty"`
}

// SubmitStep is an operation as a client would author it.
type SubmitStep struct {
	Author   string `yaml:"author"`
	Kind     string `yaml:"kind"`
	Position int    `yaml:"position"`
	Text     string `yaml:"text,omitempty"`
	Length   int    `yaml:"length,omitempty"`
	Base     int    `yaml:"base"`

	// Reject, when set, is the reason the submission must fail with
	// (see session.Reason).
	Reject string `yaml:"reject,omitempty"`
}

// CursorStep moves a participant's cursor.
type CursorStep struct {
	Participant string `yaml:"participant"`
	Position    int    `yaml:"position"`
}

// Expect is the required end state.
type Expect struct {
	Content string `yaml:"content"`
	Version int    `yaml:"version"`

	// Cursors maps participant id to final cursor. Checked on the steps'
	// declared order only.
	Cursors map[string]int `yaml:"cursors,omitempty"`
}

// Operation converts the step into an unsequenced operation.
func (s SubmitStep) Operation() (ot.Operation, error) {
	kind, err := ot.ParseKind(s.Kind)
	if err != nil {
		return ot.Operation{}, err
	}
	return ot.Operation{
		Kind:        kind,
		Position:    s.Position,
		Text:        s.Text,
		Length:      s.Length,
		AuthorID:    s.Author,
		BaseVersion: s.Base,
	}, nil
}

func (s Step) action() string {
	switch {
	case s.Submit != nil:
		return "submit"
	case s.Cursor != nil:
		return "cursor"
	default:
		return "leave"
	}
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenario, nil
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every .yaml and .yml file in dir, sorted by file
// name. Names must be unique across the directory.
func LoadScenarios(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	seen := make(map[string]string, len(paths))
	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("duplicate scenario name %q in %s and %s", s.Name, prev, p)
		}
		seen[s.Name] = p
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Participants) == 0 {
		return fmt.Errorf("participants list is required and must be non-empty")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if s.Expect.Version < 0 {
		return fmt.Errorf("expect.version must be non-negative")
	}

	joined := make(map[string]bool, len(s.Participants))
	for i, p := range s.Participants {
		if p == "" {
			return fmt.Errorf("participants[%d]: id is required", i)
		}
		if joined[p] {
			return fmt.Errorf("participants[%d]: duplicate id %q", i, p)
		}
		joined[p] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, joined); err != nil {
			return err
		}
	}

	for id := range s.Expect.Cursors {
		if !joined[id] {
			return fmt.Errorf("expect.cursors: unknown participant %q", id)
		}
	}

	if s.Permute {
		return validatePermute(s)
	}
	return nil
}

func validateStep(index int, step Step, joined map[string]bool) error {
	set := 0
	if step.Submit != nil {
		set++
	}
	if step.Cursor != nil {
		set++
	}
	if step.Leave != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of submit, cursor or leave is required", index)
	}

	switch {
	case step.Submit != nil:
		if step.Submit.Author == "" {
			return fmt.Errorf("steps[%d].submit: author is required", index)
		}
		if _, err := ot.ParseKind(step.Submit.Kind); err != nil {
			return fmt.Errorf("steps[%d].submit: %w", index, err)
		}
		switch step.Submit.Reject {
		case "", "out_of_range", "invalid_operation", "unknown_participant":
		default:
			return fmt.Errorf("steps[%d].submit: unknown reject reason %q", index, step.Submit.Reject)
		}
	case step.Cursor != nil:
		if !joined[step.Cursor.Participant] {
			return fmt.Errorf("steps[%d].cursor: unknown participant %q", index, step.Cursor.Participant)
		}
	default:
		if !joined[step.Leave] {
			return fmt.Errorf("steps[%d].leave: unknown participant %q", index, step.Leave)
		}
	}
	return nil
}

func validatePermute(s *Scenario) error {
	if len(s.Steps) > maxPermutedSteps {
		return fmt.Errorf("permute: at most %d concurrent submits, got %d", maxPermutedSteps, len(s.Steps))
	}
	authors := make(map[string]bool, len(s.Steps))
	for i, step := range s.Steps {
		if step.Submit == nil {
			return fmt.Errorf("steps[%d]: permute allows only submit steps", i)
		}
		if step.Submit.Base != 0 {
			return fmt.Errorf("steps[%d]: permute requires base 0", i)
		}
		if step.Submit.Reject != "" {
			return fmt.Errorf("steps[%d]: permute does not allow reject", i)
		}
		if authors[step.Submit.Author] {
			return fmt.Errorf("steps[%d]: permute allows one submit per author, %q repeats", i, step.Submit.Author)
		}
		authors[step.Submit.Author] = true
	}
	return nil
}
