package model

import "time"

// Model is a catalog entry describing a single AI model users can run.
type Model struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	Provider     string `json:"provider"`
	Description  string `json:"description,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`

	// ResultPath and ThumbnailPath are gjson paths into the provider's
	// response body. Provider payloads are model-specific, so each catalog
	// entry declares where its result and preview URLs live.
	ResultPath    string `json:"result_path,omitempty"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
