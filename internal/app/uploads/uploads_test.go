package uploads

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNormalize_RewritesDataURIs(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDisk(dir, "https://cdn.example.com/uploads")
	if err != nil {
		t.Fatalf("new disk: %v", err)
	}

	payload := base64.StdEncoding.EncodeToString([]byte("fake png bytes"))
	input := map[string]any{
		"prompt": "a red fox",
		"image":  "data:image/png;base64," + payload,
		"count":  3,
	}

	normalized, err := Normalize(context.Background(), store, input)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	url, ok := normalized["image"].(string)
	if !ok || !strings.HasPrefix(url, "https://cdn.example.com/uploads/") {
		t.Fatalf("image not rewritten: %#v", normalized["image"])
	}
	if !strings.HasSuffix(url, ".png") {
		t.Fatalf("extension not preserved: %q", url)
	}
	if normalized["prompt"] != "a red fox" || normalized["count"] != 3 {
		t.Fatalf("non-file values changed: %#v", normalized)
	}

	name := filepath.Base(url)
	content, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(content) != "fake png bytes" {
		t.Fatalf("stored content mismatch: %q", content)
	}
}

func TestNormalize_NilStorePassesThrough(t *testing.T) {
	input := map[string]any{"image": "data:image/png;base64,aGk="}
	normalized, err := Normalize(context.Background(), nil, input)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if normalized["image"] != input["image"] {
		t.Fatalf("value should pass through without a store")
	}
}

func TestNormalize_RejectsBadPayload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDisk(dir, "/uploads")
	if err != nil {
		t.Fatalf("new disk: %v", err)
	}
	if _, err := Normalize(context.Background(), store, map[string]any{
		"image": "data:image/png;base64,%%%not-base64%%%",
	}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestIsDataURI(t *testing.T) {
	if !IsDataURI("data:image/png;base64,aGk=") {
		t.Fatalf("expected data URI match")
	}
	if IsDataURI("https://example.com/img.png") {
		t.Fatalf("plain URL misdetected")
	}
}
