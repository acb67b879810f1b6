package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	app "github.com/renderdeck/renderdeck/internal/app"
	"github.com/renderdeck/renderdeck/internal/app/domain/generation"
	"github.com/renderdeck/renderdeck/internal/app/domain/user"
	"github.com/renderdeck/renderdeck/internal/app/notify"
	"github.com/renderdeck/renderdeck/internal/middleware"
)

var testSecret = []byte("api-test-secret")

type testServer struct {
	*httptest.Server
	app *app.Application
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	auth := middleware.NewAuth(testSecret, nil, []string{"/healthz", "/metrics"})
	srv := httptest.NewServer(auth.Handler(NewHandler(application, nil)))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, app: application}
}

func (s *testServer) newUser(t *testing.T, name, role string) (user.User, string) {
	t.Helper()
	usr, err := s.app.Stores.Users.CreateUser(context.Background(), user.User{
		Name:  name,
		Email: name + "@example.com",
		Role:  role,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := middleware.GenerateToken(testSecret, usr.ID, role, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return usr, token
}

func (s *testServer) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (s *testServer) seedModel(t *testing.T, adminToken, slug string) {
	t.Helper()
	resp := s.request(t, http.MethodPost, "/api/models", adminToken, map[string]any{
		"name":     strings.ToUpper(slug),
		"slug":     slug,
		"provider": "replicate",
		"active":   true,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("seed model: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPI_GenerationLifecycle(t *testing.T) {
	s := newTestServer(t)
	_, adminToken := s.newUser(t, "admin", user.RoleAdmin)
	usr, token := s.newUser(t, "alice", user.RoleUser)
	_, otherToken := s.newUser(t, "mallory", user.RoleUser)

	s.seedModel(t, adminToken, "flux")

	resp := s.request(t, http.MethodPost, "/api/models/flux/generations", token, map[string]any{
		"input": map[string]any{"prompt": "a red fox"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create generation: status %d", resp.StatusCode)
	}
	var gen generation.Generation
	decodeBody(t, resp, &gen)
	if gen.Status != generation.StatusPending {
		t.Fatalf("expected pending, got %s", gen.Status)
	}
	if gen.UserID != usr.ID {
		t.Fatalf("generation owned by %d, want %d", gen.UserID, usr.ID)
	}

	resp = s.request(t, http.MethodGet, fmt.Sprintf("/api/generations/%d", gen.ID), token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get generation: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Foreign callers must not see the record.
	resp = s.request(t, http.MethodGet, fmt.Sprintf("/api/generations/%d", gen.ID), otherToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign get: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = s.request(t, http.MethodGet, "/api/generations?limit=10", token, nil)
	var list []generation.Generation
	decodeBody(t, resp, &list)
	if len(list) != 1 || list[0].ID != gen.ID {
		t.Fatalf("unexpected list %#v", list)
	}

	resp = s.request(t, http.MethodPost, "/api/models/unknown/generations", token, map[string]any{})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown model: status %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp = s.request(t, http.MethodGet, "/api/generations/999999", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing generation: status %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPI_ExecutionLifecycle(t *testing.T) {
	s := newTestServer(t)
	_, adminToken := s.newUser(t, "admin", user.RoleAdmin)
	_, token := s.newUser(t, "alice", user.RoleUser)
	_, otherToken := s.newUser(t, "mallory", user.RoleUser)

	s.seedModel(t, adminToken, "flux")
	s.seedModel(t, adminToken, "upscale")

	resp := s.request(t, http.MethodPost, "/api/apps", adminToken, map[string]any{
		"name":   "Portrait",
		"slug":   "portrait",
		"active": true,
		"steps": []map[string]any{
			{"model_slug": "flux", "params": map[string]any{"style": "photo"}},
			{"model_slug": "upscale"},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create app: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = s.request(t, http.MethodPost, "/api/apps/portrait/executions", token, map[string]any{
		"input": map[string]any{"prompt": "a red fox"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start execution: status %d", resp.StatusCode)
	}
	var exec struct {
		ID          int64  `json:"id"`
		Status      string `json:"status"`
		CurrentStep int    `json:"current_step"`
	}
	decodeBody(t, resp, &exec)
	if exec.Status != "processing" || exec.CurrentStep != 0 {
		t.Fatalf("unexpected execution %#v", exec)
	}

	resp = s.request(t, http.MethodGet, fmt.Sprintf("/api/executions/%d", exec.ID), otherToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign get: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = s.request(t, http.MethodGet, fmt.Sprintf("/api/executions/%d", exec.ID), token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get execution: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = s.request(t, http.MethodPost, "/api/apps/unknown/executions", token, map[string]any{})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown app: status %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPI_CatalogRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	_, token := s.newUser(t, "alice", user.RoleUser)

	resp := s.request(t, http.MethodPost, "/api/models", token, map[string]any{
		"name": "Flux", "slug": "flux", "provider": "replicate",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("user create model: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = s.request(t, http.MethodGet, "/api/admin/audit", token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("user audit: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPI_AuditRecordsCatalogMutations(t *testing.T) {
	s := newTestServer(t)
	admin, adminToken := s.newUser(t, "admin", user.RoleAdmin)

	s.seedModel(t, adminToken, "flux")

	resp := s.request(t, http.MethodGet, "/api/admin/audit", adminToken, nil)
	var entries []auditEntry
	decodeBody(t, resp, &entries)
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.UserID != admin.ID || entry.Method != http.MethodPost || entry.Status != http.StatusCreated {
		t.Fatalf("unexpected audit entry %#v", entry)
	}
}

func TestAPI_RequiresAuthentication(t *testing.T) {
	s := newTestServer(t)

	resp := s.request(t, http.MethodGet, "/api/generations", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = s.request(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: status %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWebsocket_ChannelOwnership(t *testing.T) {
	s := newTestServer(t)
	usr, token := s.newUser(t, "alice", user.RoleUser)
	other, _ := s.newUser(t, "mallory", user.RoleUser)

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http")

	// Subscribing to someone else's channel is rejected before upgrade.
	_, resp, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("%s/ws?token=%s&channel=%s", wsURL, token, notify.UserChannel(other.ID)), nil)
	if err == nil {
		t.Fatalf("expected handshake failure for foreign channel")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake, got %+v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("%s/ws?token=%s", wsURL, token), nil)
	if err != nil {
		t.Fatalf("dial own channel: %v", err)
	}
	defer conn.Close()

	s.app.Hub.Publish(notify.Event{
		Channel: notify.UserChannel(usr.ID),
		Name:    notify.EventGenerationCompleted,
		Payload: notify.GenerationCompletedPayload{GenerationID: 7, Status: "completed"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event struct {
		Event   string `json:"event"`
		Payload struct {
			GenerationID int64  `json:"generation_id"`
			Status       string `json:"status"`
		} `json:"payload"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Event != notify.EventGenerationCompleted {
		t.Fatalf("unexpected event %q", event.Event)
	}
	if event.Payload.GenerationID != 7 || event.Payload.Status != "completed" {
		t.Fatalf("payload did not round-trip: %#v", event.Payload)
	}
}
