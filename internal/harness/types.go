package harness

// TraceEvent is one engine command as the engine received it.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Command  string `json:"command"`
	Payload  string `json:"payload,omitempty"` // hex
	Answered bool   `json:"answered"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every engine command in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Tags holds the engine's final tags for every taggable a step touched.
	Tags map[uint64][]uint64 `json:"tags,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Tags:   make(map[uint64][]uint64),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
