package harness

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/roach88/coedit/internal/document"
	"github.com/roach88/coedit/internal/logging"
	"github.com/roach88/coedit/internal/session"
	"github.com/roach88/coedit/internal/testutil"
)

// stepInterval is how far the fake clock moves before each step.
const stepInterval = time.Second

// Option configures Run.
type Option func(*harness)

// WithLogger routes session logs somewhere other than io.Discard.
func WithLogger(l *slog.Logger) Option {
	return func(h *harness) { h.logger = l }
}

type harness struct {
	scenario *Scenario
	logger   *slog.Logger
}

// run is the outcome of one arrival order.
type run struct {
	trace   []TraceEvent
	content string
	version int
	cursors map[string]int
	errors  []string
}

// Run executes a scenario and returns the result.
//
// Each arrival order runs in a fresh session on a fake clock, so traces
// are identical across runs. The declared order is always run first and
// provides the trace. A returned error means the scenario could not be
// executed at all; expectation mismatches are reported in Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := &harness{scenario: scenario, logger: logging.Discard()}
	for _, opt := range opts {
		opt(h)
	}

	orders := [][]int{declaredOrder(len(scenario.Steps))}
	if scenario.Permute {
		if err := validatePermute(scenario); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
		}
		orders = permutations(len(scenario.Steps))
	}

	result := NewResult()
	result.Orders = len(orders)

	var first *run
	for i, order := range orders {
		r, err := h.runOrder(order)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: order %v: %w", scenario.Name, order, err)
		}

		prefix := ""
		if i > 0 {
			prefix = fmt.Sprintf("order %v: ", order)
		}
		for _, msg := range r.errors {
			result.AddError(prefix + msg)
		}
		for _, msg := range h.check(r, i == 0) {
			result.AddError(prefix + msg)
		}

		if i == 0 {
			first = r
			continue
		}
		if r.content != first.content {
			result.AddError(fmt.Sprintf("%scontent %q diverged from declared order %q", prefix, r.content, first.content))
		}
	}

	result.Trace = first.trace
	result.Content = first.content
	result.Version = first.version
	result.Cursors = first.cursors
	return result, nil
}

func (h *harness) runOrder(order []int) (*run, error) {
	s := h.scenario
	clock := testutil.NewFakeClock(time.Time{})
	sess := session.New(s.Name, document.New(s.Name, s.Initial),
		session.WithLogger(h.logger),
		session.WithClock(clock),
	)

	for _, p := range s.Participants {
		if _, err := sess.Join(p, p); err != nil {
			return nil, fmt.Errorf("join %s: %w", p, err)
		}
	}

	r := &run{trace: make([]TraceEvent, 0, len(order))}
	for _, idx := range order {
		step := s.Steps[idx]
		clock.Advance(stepInterval)

		ev := TraceEvent{Step: idx, Action: step.action()}
		switch {
		case step.Submit != nil:
			ev.Participant = step.Submit.Author
			op, err := step.Submit.Operation()
			if err != nil {
				return nil, fmt.Errorf("steps[%d]: %w", idx, err)
			}
			ev.Operation = op.String()

			res, err := sess.Submit(op)
			if err != nil {
				ev.Rejected = session.Reason(err)
				if ev.Rejected != step.Submit.Reject {
					r.errors = append(r.errors, fmt.Sprintf("steps[%d]: rejected: %v", idx, err))
				}
			} else {
				ev.Applied = res.Operation.String()
				if step.Submit.Reject != "" {
					r.errors = append(r.errors, fmt.Sprintf("steps[%d]: accepted, want rejection %s", idx, step.Submit.Reject))
				}
			}

		case step.Cursor != nil:
			ev.Participant = step.Cursor.Participant
			p, err := sess.UpdateCursor(step.Cursor.Participant, step.Cursor.Position)
			if err != nil {
				ev.Rejected = session.Reason(err)
				r.errors = append(r.errors, fmt.Sprintf("steps[%d]: cursor: %v", idx, err))
			} else {
				cursor := p.CursorPosition
				ev.Cursor = &cursor
			}

		default:
			ev.Participant = step.Leave
			sess.Leave(step.Leave)
		}

		snap, err := sess.Snapshot()
		if err != nil {
			return nil, err
		}
		ev.Version = snap.Version
		ev.Content = snap.Content
		r.trace = append(r.trace, ev)
	}

	state, err := sess.State()
	if err != nil {
		return nil, err
	}
	r.content = state.Content
	r.version = state.Version
	r.cursors = make(map[string]int, len(state.Participants))
	for _, p := range state.Participants {
		r.cursors[p.ParticipantID] = p.CursorPosition
	}

	history, err := sess.OperationsSince(0)
	if err != nil {
		return nil, err
	}
	replayed, err := document.Replay(s.Name, s.Initial, history)
	if err != nil {
		r.errors = append(r.errors, fmt.Sprintf("replay: %v", err))
	} else if replayed.Content() != r.content {
		r.errors = append(r.errors, fmt.Sprintf("replay produced %q, session holds %q", replayed.Content(), r.content))
	}

	return r, nil
}

// check compares a run against the expectation. Cursors are only compared
// for the declared order.
func (h *harness) check(r *run, withCursors bool) []string {
	exp := h.scenario.Expect
	var errs []string
	if r.content != exp.Content {
		errs = append(errs, fmt.Sprintf("content %q, want %q", r.content, exp.Content))
	}
	if r.version != exp.Version {
		errs = append(errs, fmt.Sprintf("version %d, want %d", r.version, exp.Version))
	}
	if !withCursors {
		return errs
	}
	for _, id := range slices.Sorted(maps.Keys(exp.Cursors)) {
		got, ok := r.cursors[id]
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("cursor %s: participant not attached", id))
		case got != exp.Cursors[id]:
			errs = append(errs, fmt.Sprintf("cursor %s: %d, want %d", id, got, exp.Cursors[id]))
		}
	}
	return errs
}

func declaredOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// permutations returns every ordering of 0..n-1 in lexicographic order,
// starting with the identity.
func permutations(n int) [][]int {
	var out [][]int
	perm := make([]int, n)
	used := make([]bool, n)

	var walk func(depth int)
	walk = func(depth int) {
		if depth == n {
			out = append(out, slices.Clone(perm))
			return
		}
		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			used[i] = true
			perm[depth] = i
			walk(depth + 1)
			used[i] = false
		}
	}
	walk(0)
	return out
}
