package execution

import "time"

// Status is the lifecycle state of an app execution.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepResult records the outcome of one step. The happy path writes a step's
// entry exactly once; a failure overwrites the active step's entry with the
// failure details.
type StepResult struct {
	Step         int            `json:"step"`
	Status       Status         `json:"status"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Execution is one run of a multi-step app. CurrentStep only moves forward
// and Status becomes terminal at most once; both are mutated only by the
// execution coordinator after the initiating request creates step 0.
type Execution struct {
	ID          int64        `json:"id"`
	UserID      int64        `json:"user_id"`
	AppID       int64        `json:"app_id"`
	AppSlug     string       `json:"app_slug"`
	CurrentStep int          `json:"current_step"`
	Status      Status       `json:"status"`
	Steps       []StepResult `json:"steps"`

	// ErrorMessage mirrors the failing step's message so clients can render
	// a banner without digging through Steps.
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetStepResult records res for its step index, overwriting any previous
// entry for that step and keeping Steps ordered by step index.
func (e *Execution) SetStepResult(res StepResult) {
	for i, existing := range e.Steps {
		if existing.Step == res.Step {
			e.Steps[i] = res
			return
		}
	}
	inserted := false
	for i, existing := range e.Steps {
		if res.Step < existing.Step {
			e.Steps = append(e.Steps[:i], append([]StepResult{res}, e.Steps[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		e.Steps = append(e.Steps, res)
	}
}

// StepResultFor returns the recorded result for a step index.
func (e Execution) StepResultFor(step int) (StepResult, bool) {
	for _, res := range e.Steps {
		if res.Step == step {
			return res, true
		}
	}
	return StepResult{}, false
}
