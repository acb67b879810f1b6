// Package uploads turns ephemeral request uploads into durable URLs before a
// job is queued. Workers run in separate processes and cannot reach the
// original request's upload handles.
package uploads

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store persists an upload and returns a URL workers can fetch.
type Store interface {
	Put(ctx context.Context, name string, content []byte) (string, error)
}

// Disk stores uploads on the local filesystem under a base directory and
// serves them from a base URL.
type Disk struct {
	dir     string
	baseURL string
}

// NewDisk creates a disk store rooted at dir, returning URLs under baseURL.
func NewDisk(dir, baseURL string) (*Disk, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("uploads directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads directory: %w", err)
	}
	return &Disk{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (d *Disk) Put(_ context.Context, name string, content []byte) (string, error) {
	ext := filepath.Ext(name)
	key := uuid.NewString() + ext

	if err := os.WriteFile(filepath.Join(d.dir, key), content, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return d.baseURL + "/" + key, nil
}

const dataURIPrefix = "data:"

// IsDataURI reports whether a string input value is an inline data URI that
// needs normalizing.
func IsDataURI(value string) bool {
	return strings.HasPrefix(value, dataURIPrefix) && strings.Contains(value, ";base64,")
}

// Normalize rewrites inline data-URI values in input to durable URLs using
// the store. Non-file values pass through untouched.
func Normalize(ctx context.Context, store Store, input map[string]any) (map[string]any, error) {
	if store == nil || len(input) == 0 {
		return input, nil
	}

	normalized := make(map[string]any, len(input))
	for key, value := range input {
		str, ok := value.(string)
		if !ok || !IsDataURI(str) {
			normalized[key] = value
			continue
		}

		content, name, err := decodeDataURI(str)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", key, err)
		}
		url, err := store.Put(ctx, name, content)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", key, err)
		}
		normalized[key] = url
	}
	return normalized, nil
}

func decodeDataURI(uri string) ([]byte, string, error) {
	meta, data, ok := strings.Cut(strings.TrimPrefix(uri, dataURIPrefix), ";base64,")
	if !ok {
		return nil, "", fmt.Errorf("unsupported data URI encoding")
	}

	content, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, "", fmt.Errorf("decode data URI: %w", err)
	}

	name := "upload"
	switch meta {
	case "image/png":
		name += ".png"
	case "image/jpeg":
		name += ".jpg"
	case "image/webp":
		name += ".webp"
	case "audio/mpeg":
		name += ".mp3"
	}
	return content, name, nil
}
