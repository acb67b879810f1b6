package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/renderdeck/renderdeck/internal/app/domain/appdef"
	"github.com/renderdeck/renderdeck/internal/app/domain/execution"
	"github.com/renderdeck/renderdeck/internal/app/domain/generation"
	"github.com/renderdeck/renderdeck/internal/app/domain/model"
	"github.com/renderdeck/renderdeck/internal/app/domain/user"
)

// Memory is a thread-safe in-memory persistence layer implementing the
// storage interfaces defined in this package. It is intended for tests and
// prototyping and deliberately keeps the implementation simple.
type Memory struct {
	mu          sync.RWMutex
	nextID      int64
	users       map[int64]user.User
	models      map[int64]model.Model
	apps        map[int64]appdef.App
	generations map[int64]generation.Generation
	executions  map[int64]execution.Execution
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextID:      1,
		users:       make(map[int64]user.User),
		models:      make(map[int64]model.Model),
		apps:        make(map[int64]appdef.App),
		generations: make(map[int64]generation.Generation),
		executions:  make(map[int64]execution.Execution),
	}
}

func (m *Memory) nextIDLocked() int64 {
	id := m.nextID
	m.nextID++
	return id
}

// UserStore implementation ----------------------------------------------------

func (m *Memory) CreateUser(_ context.Context, u user.User) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.ID == 0 {
		u.ID = m.nextIDLocked()
	} else if _, exists := m.users[u.ID]; exists {
		return user.User{}, fmt.Errorf("user %d already exists", u.ID)
	}
	if u.Role == "" {
		u.Role = user.RoleUser
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) GetUser(_ context.Context, id int64) (user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return u, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return user.User{}, fmt.Errorf("user %s: %w", email, ErrNotFound)
}

func (m *Memory) ListUsers(_ context.Context) ([]user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]user.User, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ModelStore implementation ---------------------------------------------------

func (m *Memory) CreateModel(_ context.Context, mdl model.Model) (model.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.models {
		if strings.EqualFold(existing.Slug, mdl.Slug) {
			return model.Model{}, fmt.Errorf("model slug %q already exists", mdl.Slug)
		}
	}

	if mdl.ID == 0 {
		mdl.ID = m.nextIDLocked()
	} else if _, exists := m.models[mdl.ID]; exists {
		return model.Model{}, fmt.Errorf("model %d already exists", mdl.ID)
	}

	now := time.Now().UTC()
	mdl.CreatedAt = now
	mdl.UpdatedAt = now

	m.models[mdl.ID] = mdl
	return mdl, nil
}

func (m *Memory) UpdateModel(_ context.Context, mdl model.Model) (model.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.models[mdl.ID]
	if !ok {
		return model.Model{}, fmt.Errorf("model %d: %w", mdl.ID, ErrNotFound)
	}

	mdl.CreatedAt = original.CreatedAt
	mdl.UpdatedAt = time.Now().UTC()

	m.models[mdl.ID] = mdl
	return mdl, nil
}

func (m *Memory) GetModel(_ context.Context, id int64) (model.Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mdl, ok := m.models[id]
	if !ok {
		return model.Model{}, fmt.Errorf("model %d: %w", id, ErrNotFound)
	}
	return mdl, nil
}

func (m *Memory) GetModelBySlug(_ context.Context, slug string) (model.Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, mdl := range m.models {
		if strings.EqualFold(mdl.Slug, slug) {
			return mdl, nil
		}
	}
	return model.Model{}, fmt.Errorf("model %s: %w", slug, ErrNotFound)
}

func (m *Memory) ListModels(_ context.Context) ([]model.Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.Model, 0, len(m.models))
	for _, mdl := range m.models {
		result = append(result, mdl)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// AppStore implementation -----------------------------------------------------

func (m *Memory) CreateApp(_ context.Context, a appdef.App) (appdef.App, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.apps {
		if strings.EqualFold(existing.Slug, a.Slug) {
			return appdef.App{}, fmt.Errorf("app slug %q already exists", a.Slug)
		}
	}

	if a.ID == 0 {
		a.ID = m.nextIDLocked()
	} else if _, exists := m.apps[a.ID]; exists {
		return appdef.App{}, fmt.Errorf("app %d already exists", a.ID)
	}

	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Steps = cloneSteps(a.Steps)

	m.apps[a.ID] = a
	return cloneApp(a), nil
}

func (m *Memory) UpdateApp(_ context.Context, a appdef.App) (appdef.App, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.apps[a.ID]
	if !ok {
		return appdef.App{}, fmt.Errorf("app %d: %w", a.ID, ErrNotFound)
	}

	a.CreatedAt = original.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	a.Steps = cloneSteps(a.Steps)

	m.apps[a.ID] = a
	return cloneApp(a), nil
}

func (m *Memory) GetApp(_ context.Context, id int64) (appdef.App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.apps[id]
	if !ok {
		return appdef.App{}, fmt.Errorf("app %d: %w", id, ErrNotFound)
	}
	return cloneApp(a), nil
}

func (m *Memory) GetAppBySlug(_ context.Context, slug string) (appdef.App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.apps {
		if strings.EqualFold(a.Slug, slug) {
			return cloneApp(a), nil
		}
	}
	return appdef.App{}, fmt.Errorf("app %s: %w", slug, ErrNotFound)
}

func (m *Memory) ListApps(_ context.Context) ([]appdef.App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]appdef.App, 0, len(m.apps))
	for _, a := range m.apps {
		result = append(result, cloneApp(a))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// GenerationStore implementation ----------------------------------------------

func (m *Memory) CreateGeneration(_ context.Context, gen generation.Generation) (generation.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen.ID == 0 {
		gen.ID = m.nextIDLocked()
	} else if _, exists := m.generations[gen.ID]; exists {
		return generation.Generation{}, fmt.Errorf("generation %d already exists", gen.ID)
	}

	now := time.Now().UTC()
	gen.CreatedAt = now
	gen.UpdatedAt = now
	gen.Input = copyPayload(gen.Input)
	gen.Output = copyPayload(gen.Output)

	m.generations[gen.ID] = gen
	return cloneGeneration(gen), nil
}

func (m *Memory) UpdateGeneration(_ context.Context, gen generation.Generation) (generation.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.generations[gen.ID]
	if !ok {
		return generation.Generation{}, fmt.Errorf("generation %d: %w", gen.ID, ErrNotFound)
	}

	gen.CreatedAt = original.CreatedAt
	gen.UpdatedAt = time.Now().UTC()
	gen.Input = copyPayload(gen.Input)
	gen.Output = copyPayload(gen.Output)

	m.generations[gen.ID] = gen
	return cloneGeneration(gen), nil
}

func (m *Memory) GetGeneration(_ context.Context, id int64) (generation.Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	gen, ok := m.generations[id]
	if !ok {
		return generation.Generation{}, fmt.Errorf("generation %d: %w", id, ErrNotFound)
	}
	return cloneGeneration(gen), nil
}

func (m *Memory) ListGenerations(_ context.Context, userID int64, limit, offset int) ([]generation.Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]generation.Generation, 0)
	for _, gen := range m.generations {
		if gen.UserID == userID {
			all = append(all, cloneGeneration(gen))
		}
	}
	// Newest first; ids are monotonic so they break created-at ties.
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []generation.Generation{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// ExecutionStore implementation -----------------------------------------------

func (m *Memory) CreateExecution(_ context.Context, exec execution.Execution) (execution.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exec.ID == 0 {
		exec.ID = m.nextIDLocked()
	} else if _, exists := m.executions[exec.ID]; exists {
		return execution.Execution{}, fmt.Errorf("execution %d already exists", exec.ID)
	}

	now := time.Now().UTC()
	exec.CreatedAt = now
	exec.UpdatedAt = now
	exec.Steps = cloneResults(exec.Steps)

	m.executions[exec.ID] = exec
	return cloneExecution(exec), nil
}

func (m *Memory) UpdateExecution(_ context.Context, exec execution.Execution) (execution.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.executions[exec.ID]
	if !ok {
		return execution.Execution{}, fmt.Errorf("execution %d: %w", exec.ID, ErrNotFound)
	}

	exec.CreatedAt = original.CreatedAt
	exec.UpdatedAt = time.Now().UTC()
	exec.Steps = cloneResults(exec.Steps)

	m.executions[exec.ID] = exec
	return cloneExecution(exec), nil
}

func (m *Memory) GetExecution(_ context.Context, id int64) (execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exec, ok := m.executions[id]
	if !ok {
		return execution.Execution{}, fmt.Errorf("execution %d: %w", id, ErrNotFound)
	}
	return cloneExecution(exec), nil
}

func (m *Memory) ListExecutions(_ context.Context, userID int64) ([]execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]execution.Execution, 0)
	for _, exec := range m.executions {
		if exec.UserID == userID {
			result = append(result, cloneExecution(exec))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

// Helpers ---------------------------------------------------------------------

func copyPayload(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneGeneration(gen generation.Generation) generation.Generation {
	gen.Input = copyPayload(gen.Input)
	gen.Output = copyPayload(gen.Output)
	return gen
}

func cloneResults(steps []execution.StepResult) []execution.StepResult {
	if steps == nil {
		return nil
	}
	dst := make([]execution.StepResult, len(steps))
	for i, res := range steps {
		res.Output = copyPayload(res.Output)
		dst[i] = res
	}
	return dst
}

func cloneExecution(exec execution.Execution) execution.Execution {
	exec.Steps = cloneResults(exec.Steps)
	return exec
}

func cloneSteps(steps []appdef.StepSpec) []appdef.StepSpec {
	if steps == nil {
		return nil
	}
	dst := make([]appdef.StepSpec, len(steps))
	for i, s := range steps {
		s.Params = copyPayload(s.Params)
		dst[i] = s
	}
	return dst
}

func cloneApp(a appdef.App) appdef.App {
	a.Steps = cloneSteps(a.Steps)
	return a
}
