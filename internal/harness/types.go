package harness

// StepResult records what one step did.
type StepResult struct {
	Index   int    `json:"index"`
	Action  string `json:"action"`
	Plate   string `json:"plate,omitempty"`
	Outcome string `json:"outcome"`
}

// FinalState summarizes the reconciled view after the last step.
type FinalState struct {
	Active        []string `json:"active"`
	Waitlist      []string `json:"waitlist"`
	WaitlistCount int      `json:"waitlist_count"`
	Pending       int      `json:"pending"`
	DeadLetters   int      `json:"dead_letters"`
	Promotion     string   `json:"promotion"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is false when any step or final expectation did not hold.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Journal is the remote store's write journal, in arrival order.
	Journal []string `json:"journal"`

	Final FinalState `json:"final"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Steps:   []StepResult{},
		Journal: []string{},
		Errors:  []string{},
	}
}

// AddError records a failed expectation.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
