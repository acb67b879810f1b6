package generations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/renderdeck/renderdeck/internal/app/domain/generation"
	"github.com/renderdeck/renderdeck/internal/app/domain/model"
	"github.com/renderdeck/renderdeck/pkg/logger"
)

// ModelInvoker runs a model against its provider and returns the output
// payload to persist on the generation.
type ModelInvoker interface {
	Invoke(ctx context.Context, mdl model.Model, gen generation.Generation) (map[string]any, error)
}

// HTTPInvoker submits generations to an HTTP model provider. Provider
// responses vary per model, so the catalog entry carries the paths used to
// lift the result and thumbnail URLs out of the raw payload.
type HTTPInvoker struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewHTTPInvoker constructs an invoker for the provider endpoint.
func NewHTTPInvoker(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPInvoker, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("provider endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse provider endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	if log == nil {
		log = logger.NewDefault("model-invoker")
	}
	return &HTTPInvoker{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

func (inv *HTTPInvoker) Invoke(ctx context.Context, mdl model.Model, gen generation.Generation) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{
		"model":    mdl.Slug,
		"provider": mdl.Provider,
		"input":    gen.Input,
	})
	if err != nil {
		return nil, fmt.Errorf("encode provider request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, inv.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if inv.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+inv.apiKey)
	}

	resp, err := inv.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider status %d: %s", resp.StatusCode, excerpt(raw))
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}

	output := map[string]any{"raw": payload}
	if v := extract(raw, mdl.ResultPath, "result"); v != "" {
		output["result"] = v
	}
	if v := extract(raw, mdl.ThumbnailPath, "thumbnail_url"); v != "" {
		output["thumbnail_url"] = v
	}
	if _, ok := output["result"]; !ok {
		return nil, fmt.Errorf("provider response has no result at %q", resultPath(mdl))
	}
	return output, nil
}

func extract(raw []byte, path, fallback string) string {
	if strings.TrimSpace(path) == "" {
		path = fallback
	}
	return gjson.GetBytes(raw, path).String()
}

func resultPath(mdl model.Model) string {
	if strings.TrimSpace(mdl.ResultPath) != "" {
		return mdl.ResultPath
	}
	return "result"
}

func excerpt(raw []byte) string {
	const max = 256
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		return s[:max]
	}
	return s
}
