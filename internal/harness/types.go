package harness

// TraceEvent records one step and the session state right after it.
type TraceEvent struct {
	Step        int    `json:"step"`
	Action      string `json:"action"`
	Participant string `json:"participant"`

	// Operation is the submitted operation as authored.
	Operation string `json:"operation,omitempty"`

	// Applied is the operation after transform, for accepted submits.
	Applied string `json:"applied,omitempty"`

	// Rejected is the rejection reason for a failed submit.
	Rejected string `json:"rejected,omitempty"`

	// Cursor is the stored cursor after a cursor step.
	Cursor *int `json:"cursor,omitempty"`

	Version int    `json:"version"`
	Content string `json:"content"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every run matched the expectation.
	Pass bool `json:"pass"`

	// Trace is the step-by-step trace of the declared order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Orders is the number of arrival orders that were run.
	Orders int `json:"orders"`

	// Content and Version are the final state of the declared order.
	Content string `json:"content"`
	Version int    `json:"version"`

	// Cursors are the final cursors of attached participants.
	Cursors map[string]int `json:"cursors"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Cursors: make(map[string]int),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
