package storage

import (
	"context"
	"errors"

	"github.com/renderdeck/renderdeck/internal/app/domain/appdef"
	"github.com/renderdeck/renderdeck/internal/app/domain/execution"
	"github.com/renderdeck/renderdeck/internal/app/domain/generation"
	"github.com/renderdeck/renderdeck/internal/app/domain/model"
	"github.com/renderdeck/renderdeck/internal/app/domain/user"
)

// ErrNotFound marks lookups that matched no record. The postgres store
// surfaces sql.ErrNoRows instead; callers should check for both.
var ErrNotFound = errors.New("not found")

// UserStore persists user records.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id int64) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
}

// ModelStore persists the AI model catalog.
type ModelStore interface {
	CreateModel(ctx context.Context, m model.Model) (model.Model, error)
	UpdateModel(ctx context.Context, m model.Model) (model.Model, error)
	GetModel(ctx context.Context, id int64) (model.Model, error)
	GetModelBySlug(ctx context.Context, slug string) (model.Model, error)
	ListModels(ctx context.Context) ([]model.Model, error)
}

// AppStore persists multi-step app definitions.
type AppStore interface {
	CreateApp(ctx context.Context, a appdef.App) (appdef.App, error)
	UpdateApp(ctx context.Context, a appdef.App) (appdef.App, error)
	GetApp(ctx context.Context, id int64) (appdef.App, error)
	GetAppBySlug(ctx context.Context, slug string) (appdef.App, error)
	ListApps(ctx context.Context) ([]appdef.App, error)
}

// GenerationStore persists generation jobs. ListGenerations returns the
// user's records newest first.
type GenerationStore interface {
	CreateGeneration(ctx context.Context, gen generation.Generation) (generation.Generation, error)
	UpdateGeneration(ctx context.Context, gen generation.Generation) (generation.Generation, error)
	GetGeneration(ctx context.Context, id int64) (generation.Generation, error)
	ListGenerations(ctx context.Context, userID int64, limit, offset int) ([]generation.Generation, error)
}

// ExecutionStore persists app executions.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec execution.Execution) (execution.Execution, error)
	UpdateExecution(ctx context.Context, exec execution.Execution) (execution.Execution, error)
	GetExecution(ctx context.Context, id int64) (execution.Execution, error)
	ListExecutions(ctx context.Context, userID int64) ([]execution.Execution, error)
}
