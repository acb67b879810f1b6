package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/renderdeck/renderdeck/internal/app/domain/appdef"
	"github.com/renderdeck/renderdeck/internal/app/domain/model"
	"github.com/renderdeck/renderdeck/internal/app/storage"
	"github.com/renderdeck/renderdeck/pkg/logger"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Service manages the model and app catalogs.
type Service struct {
	models storage.ModelStore
	apps   storage.AppStore
	log    *logger.Logger
}

// New creates a catalog service.
func New(models storage.ModelStore, apps storage.AppStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{models: models, apps: apps, log: log}
}

// CreateModel validates and persists a catalog model.
func (s *Service) CreateModel(ctx context.Context, mdl model.Model) (model.Model, error) {
	mdl.Name = strings.TrimSpace(mdl.Name)
	mdl.Slug = strings.TrimSpace(mdl.Slug)
	mdl.Provider = strings.TrimSpace(mdl.Provider)
	if mdl.Name == "" {
		return model.Model{}, fmt.Errorf("model name is required")
	}
	if !slugPattern.MatchString(mdl.Slug) {
		return model.Model{}, fmt.Errorf("invalid model slug %q", mdl.Slug)
	}
	if mdl.Provider == "" {
		return model.Model{}, fmt.Errorf("model provider is required")
	}

	created, err := s.models.CreateModel(ctx, mdl)
	if err != nil {
		return model.Model{}, err
	}
	s.log.WithField("model_slug", created.Slug).Info("model registered")
	return created, nil
}

// UpdateModel persists changes to an existing model.
func (s *Service) UpdateModel(ctx context.Context, mdl model.Model) (model.Model, error) {
	if mdl.ID <= 0 {
		return model.Model{}, fmt.Errorf("model id is required")
	}
	return s.models.UpdateModel(ctx, mdl)
}

// ListModels returns catalog models. Non-admin callers see active only.
func (s *Service) ListModels(ctx context.Context, includeInactive bool) ([]model.Model, error) {
	list, err := s.models.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	if includeInactive {
		return list, nil
	}
	active := list[:0]
	for _, mdl := range list {
		if mdl.Active {
			active = append(active, mdl)
		}
	}
	return active, nil
}

// GetModelBySlug fetches one model.
func (s *Service) GetModelBySlug(ctx context.Context, slug string) (model.Model, error) {
	return s.models.GetModelBySlug(ctx, strings.TrimSpace(slug))
}

// CreateApp validates and persists an app definition. Every step must
// reference an existing active model.
func (s *Service) CreateApp(ctx context.Context, app appdef.App) (appdef.App, error) {
	app.Name = strings.TrimSpace(app.Name)
	app.Slug = strings.TrimSpace(app.Slug)
	if app.Name == "" {
		return appdef.App{}, fmt.Errorf("app name is required")
	}
	if !slugPattern.MatchString(app.Slug) {
		return appdef.App{}, fmt.Errorf("invalid app slug %q", app.Slug)
	}
	if len(app.Steps) == 0 {
		return appdef.App{}, fmt.Errorf("app needs at least one step")
	}
	for i, step := range app.Steps {
		mdl, err := s.models.GetModelBySlug(ctx, strings.TrimSpace(step.ModelSlug))
		if err != nil {
			return appdef.App{}, fmt.Errorf("step %d: unknown model %q", i, step.ModelSlug)
		}
		if !mdl.Active {
			return appdef.App{}, fmt.Errorf("step %d: model %q is not active", i, step.ModelSlug)
		}
		app.Steps[i].ModelSlug = mdl.Slug
	}

	created, err := s.apps.CreateApp(ctx, app)
	if err != nil {
		return appdef.App{}, err
	}
	s.log.WithField("app_slug", created.Slug).
		WithField("steps", len(created.Steps)).
		Info("app registered")
	return created, nil
}

// UpdateApp persists changes to an existing app.
func (s *Service) UpdateApp(ctx context.Context, app appdef.App) (appdef.App, error) {
	if app.ID <= 0 {
		return appdef.App{}, fmt.Errorf("app id is required")
	}
	return s.apps.UpdateApp(ctx, app)
}

// ListApps returns app definitions. Non-admin callers see active only.
func (s *Service) ListApps(ctx context.Context, includeInactive bool) ([]appdef.App, error) {
	list, err := s.apps.ListApps(ctx)
	if err != nil {
		return nil, err
	}
	if includeInactive {
		return list, nil
	}
	active := list[:0]
	for _, app := range list {
		if app.Active {
			active = append(active, app)
		}
	}
	return active, nil
}

// GetAppBySlug fetches one app.
func (s *Service) GetAppBySlug(ctx context.Context, slug string) (appdef.App, error) {
	return s.apps.GetAppBySlug(ctx, strings.TrimSpace(slug))
}
