// Package appdef describes multi-step "apps": ordered chains of model runs.
package appdef

import "time"

// StepSpec is one position in an app's ordered model chain. Params are merged
// into the step's generation input ahead of the previous step's output.
type StepSpec struct {
	ModelSlug string         `json:"model_slug"`
	Params    map[string]any `json:"params,omitempty"`
}

// App is a catalog entry describing a multi-step generation pipeline.
type App struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Description string     `json:"description,omitempty"`
	Steps       []StepSpec `json:"steps"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
