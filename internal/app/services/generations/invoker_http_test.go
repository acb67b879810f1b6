package generations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/renderdeck/renderdeck/internal/app/domain/generation"
	"github.com/renderdeck/renderdeck/internal/app/domain/model"
)

func TestHTTPInvoker_ExtractsConfiguredPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["model"] != "flux" {
			t.Errorf("unexpected model %v", req["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"images":[{"url":"https://cdn.example.com/out.png","thumb":"https://cdn.example.com/thumb.png"}]}}`))
	}))
	defer srv.Close()

	inv, err := NewHTTPInvoker(srv.Client(), srv.URL, "secret", nil)
	if err != nil {
		t.Fatalf("new invoker: %v", err)
	}

	mdl := model.Model{
		Slug:          "flux",
		Provider:      "replicate",
		ResultPath:    "data.images.0.url",
		ThumbnailPath: "data.images.0.thumb",
	}
	output, err := inv.Invoke(context.Background(), mdl, generation.Generation{Input: map[string]any{"prompt": "fox"}})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if output["result"] != "https://cdn.example.com/out.png" {
		t.Fatalf("unexpected result %v", output["result"])
	}
	if output["thumbnail_url"] != "https://cdn.example.com/thumb.png" {
		t.Fatalf("unexpected thumbnail %v", output["thumbnail_url"])
	}
}

func TestHTTPInvoker_DefaultPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"https://cdn.example.com/out.png"}`))
	}))
	defer srv.Close()

	inv, err := NewHTTPInvoker(srv.Client(), srv.URL, "", nil)
	if err != nil {
		t.Fatalf("new invoker: %v", err)
	}
	output, err := inv.Invoke(context.Background(), model.Model{Slug: "flux"}, generation.Generation{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if output["result"] != "https://cdn.example.com/out.png" {
		t.Fatalf("unexpected result %v", output["result"])
	}
	if _, ok := output["thumbnail_url"]; ok {
		t.Fatalf("thumbnail should be absent")
	}
}

func TestHTTPInvoker_ProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model is overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	inv, err := NewHTTPInvoker(srv.Client(), srv.URL, "", nil)
	if err != nil {
		t.Fatalf("new invoker: %v", err)
	}
	if _, err := inv.Invoke(context.Background(), model.Model{Slug: "flux"}, generation.Generation{}); err == nil {
		t.Fatalf("expected provider error")
	}
}

func TestHTTPInvoker_MissingResultIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	inv, err := NewHTTPInvoker(srv.Client(), srv.URL, "", nil)
	if err != nil {
		t.Fatalf("new invoker: %v", err)
	}
	if _, err := inv.Invoke(context.Background(), model.Model{Slug: "flux"}, generation.Generation{}); err == nil {
		t.Fatalf("expected missing result error")
	}
}

func TestNewHTTPInvoker_RequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPInvoker(nil, "  ", "", nil); err == nil {
		t.Fatalf("expected endpoint error")
	}
}
