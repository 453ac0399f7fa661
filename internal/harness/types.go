package harness

// Outcome is the observable result of one step.
type Outcome struct {
	Step   int            `json:"step"`
	Op     string         `json:"op"`
	Input  string         `json:"input"`
	Result map[string]any `json:"result"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause matched.
	Pass bool `json:"pass"`

	// Outcomes has one entry per step, in order.
	Outcomes []Outcome `json:"outcomes"`

	// Errors holds expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Appended counts the events in the ledger before the steps ran.
	Appended int `json:"appended"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Outcomes: []Outcome{},
		Errors:   []string{},
	}
}

// AddError adds an expectation failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
