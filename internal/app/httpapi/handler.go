package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/renderdeck/renderdeck/internal/app"
	"github.com/renderdeck/renderdeck/internal/app/domain/appdef"
	"github.com/renderdeck/renderdeck/internal/app/domain/model"
	"github.com/renderdeck/renderdeck/internal/app/domain/user"
	"github.com/renderdeck/renderdeck/internal/app/metrics"
	"github.com/renderdeck/renderdeck/internal/app/storage"
	"github.com/renderdeck/renderdeck/internal/middleware"
	"github.com/renderdeck/renderdeck/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	log   *logger.Logger
	audit *auditLog
}

// Option customises the handler.
type Option func(*handler)

// WithAuditFile mirrors the audit trail to a JSONL file.
func WithAuditFile(path string) Option {
	return func(h *handler) {
		sink, err := newFileAuditSink(path)
		if err != nil {
			h.log.WithError(err).Warn("open audit sink")
			return
		}
		h.audit = newAuditLog(0, sink)
	}
}

// NewHandler returns a router exposing the REST API and websocket endpoint.
// Authentication is applied by the caller; /healthz and /metrics are
// expected to be exempt.
func NewHandler(application *app.Application, log *logger.Logger, opts ...Option) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log, audit: newAuditLog(0, nil)}
	for _, opt := range opts {
		opt(h)
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.websocket).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/models", h.listModels).Methods(http.MethodGet)
	api.HandleFunc("/models", h.audited(h.createModel)).Methods(http.MethodPost)
	api.HandleFunc("/models/{slug}/generations", h.createGeneration).Methods(http.MethodPost)
	api.HandleFunc("/generations", h.listGenerations).Methods(http.MethodGet)
	api.HandleFunc("/generations/{id}", h.getGeneration).Methods(http.MethodGet)
	api.HandleFunc("/apps", h.listApps).Methods(http.MethodGet)
	api.HandleFunc("/apps", h.audited(h.createApp)).Methods(http.MethodPost)
	api.HandleFunc("/apps/{slug}/executions", h.startExecution).Methods(http.MethodPost)
	api.HandleFunc("/executions", h.listExecutions).Methods(http.MethodGet)
	api.HandleFunc("/executions/{id}", h.getExecution).Methods(http.MethodGet)
	api.HandleFunc("/admin/audit", h.auditEntries).Methods(http.MethodGet)

	return r
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Generations. Creation is asynchronous: the response is the pending record
// and clients learn the outcome by polling or via the websocket channel.

func (h *handler) createGeneration(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == 0 {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	slug := mux.Vars(r)["slug"]

	var payload struct {
		Input map[string]any `json:"input"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	gen, err := h.app.Generations.Create(r.Context(), userID, slug, payload.Input)
	if err != nil {
		if notFound(err) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, gen)
}

func (h *handler) listGenerations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == 0 {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	list, err := h.app.Generations.List(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getGeneration(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	id, err := pathID(r)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	gen, err := h.app.Generations.Get(r.Context(), id)
	if err != nil {
		if notFound(err) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if gen.UserID != userID {
		writeError(w, http.StatusForbidden, fmt.Errorf("generation %d not owned by caller", id))
		return
	}
	writeJSON(w, http.StatusOK, gen)
}

// Executions.

func (h *handler) startExecution(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == 0 {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	slug := mux.Vars(r)["slug"]

	var payload struct {
		Input map[string]any `json:"input"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	exec, err := h.app.Executions.Start(r.Context(), userID, slug, payload.Input)
	if err != nil {
		if notFound(err) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exec)
}

func (h *handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == 0 {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	list, err := h.app.Executions.List(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getExecution(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	id, err := pathID(r)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	exec, err := h.app.Executions.Get(r.Context(), id)
	if err != nil {
		if notFound(err) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if exec.UserID != userID {
		writeError(w, http.StatusForbidden, fmt.Errorf("execution %d not owned by caller", id))
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// Catalog. Listing is open to every authenticated user; management is
// restricted to admins.

func (h *handler) listModels(w http.ResponseWriter, r *http.Request) {
	admin := middleware.Role(r.Context()) == user.RoleAdmin
	list, err := h.app.Catalog.ListModels(r.Context(), admin)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createModel(w http.ResponseWriter, r *http.Request) {
	if middleware.Role(r.Context()) != user.RoleAdmin {
		writeError(w, http.StatusForbidden, fmt.Errorf("admin role required"))
		return
	}
	var payload model.Model
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Catalog.CreateModel(r.Context(), payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listApps(w http.ResponseWriter, r *http.Request) {
	admin := middleware.Role(r.Context()) == user.RoleAdmin
	list, err := h.app.Catalog.ListApps(r.Context(), admin)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createApp(w http.ResponseWriter, r *http.Request) {
	if middleware.Role(r.Context()) != user.RoleAdmin {
		writeError(w, http.StatusForbidden, fmt.Errorf("admin role required"))
		return
	}
	var payload appdef.App
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Catalog.CreateApp(r.Context(), payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Audit trail of catalog mutations, admin only.

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if middleware.Role(r.Context()) != user.RoleAdmin {
		writeError(w, http.StatusForbidden, fmt.Errorf("admin role required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// audited wraps mutating handlers and records the outcome.
func (h *handler) audited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		h.audit.add(auditEntry{
			Time:       time.Now(),
			UserID:     middleware.UserID(r.Context()),
			Role:       middleware.Role(r.Context()),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

func notFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
