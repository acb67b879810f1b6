package generation

import "time"

// Status is the lifecycle state of a generation job.
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

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Terminal states never transition and statuses never regress.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// DefaultErrorMessage is recorded for failures whose underlying cause carries
// no human-readable message.
const DefaultErrorMessage = "generation failed"

// Generation is a single AI-model invocation: one job, one status, one
// opaque output payload. When it was spawned as a step of a multi-step app
// execution, ExecutionID and StepIndex link back to that execution; the
// reference is non-owning and the record outlives it.
type Generation struct {
	ID           int64          `json:"id"`
	UserID       int64          `json:"user_id"`
	ModelID      int64          `json:"model_id"`
	ModelSlug    string         `json:"model_slug"`
	Status       Status         `json:"status"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`

	// ExecutionID is zero for standalone generations.
	ExecutionID int64 `json:"execution_id,omitempty"`
	StepIndex   int   `json:"step_index,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Standalone reports whether the generation is not linked to an execution.
func (g Generation) Standalone() bool {
	return g.ExecutionID == 0
}
