package catalog

import (
	"context"
	"testing"

	"github.com/renderdeck/renderdeck/internal/app/domain/appdef"
	"github.com/renderdeck/renderdeck/internal/app/domain/model"
	"github.com/renderdeck/renderdeck/internal/app/storage"
)

func TestService_CreateModelValidation(t *testing.T) {
	store := storage.NewMemory()
	svc := New(store, store, nil)
	ctx := context.Background()

	if _, err := svc.CreateModel(ctx, model.Model{Slug: "flux", Provider: "replicate"}); err == nil {
		t.Fatalf("expected missing name error")
	}
	if _, err := svc.CreateModel(ctx, model.Model{Name: "Flux", Slug: "Not A Slug", Provider: "replicate"}); err == nil {
		t.Fatalf("expected invalid slug error")
	}
	if _, err := svc.CreateModel(ctx, model.Model{Name: "Flux", Slug: "flux"}); err == nil {
		t.Fatalf("expected missing provider error")
	}

	mdl, err := svc.CreateModel(ctx, model.Model{Name: "Flux", Slug: "flux", Provider: "replicate", Active: true})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	if mdl.ID == 0 {
		t.Fatalf("model id not assigned")
	}

	if _, err := svc.CreateModel(ctx, model.Model{Name: "Flux Two", Slug: "flux", Provider: "replicate"}); err == nil {
		t.Fatalf("expected duplicate slug error")
	}
}

func TestService_ListModelsFiltersInactive(t *testing.T) {
	store := storage.NewMemory()
	svc := New(store, store, nil)
	ctx := context.Background()

	if _, err := svc.CreateModel(ctx, model.Model{Name: "Flux", Slug: "flux", Provider: "replicate", Active: true}); err != nil {
		t.Fatalf("create model: %v", err)
	}
	if _, err := svc.CreateModel(ctx, model.Model{Name: "Old", Slug: "old", Provider: "replicate"}); err != nil {
		t.Fatalf("create model: %v", err)
	}

	visible, err := svc.ListModels(ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(visible) != 1 || visible[0].Slug != "flux" {
		t.Fatalf("expected only active model, got %#v", visible)
	}

	all, err := svc.ListModels(ctx, true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both models, got %d", len(all))
	}
}

func TestService_CreateAppChecksSteps(t *testing.T) {
	store := storage.NewMemory()
	svc := New(store, store, nil)
	ctx := context.Background()

	if _, err := svc.CreateModel(ctx, model.Model{Name: "Flux", Slug: "flux", Provider: "replicate", Active: true}); err != nil {
		t.Fatalf("create model: %v", err)
	}
	if _, err := svc.CreateModel(ctx, model.Model{Name: "Old", Slug: "old", Provider: "replicate"}); err != nil {
		t.Fatalf("create model: %v", err)
	}

	if _, err := svc.CreateApp(ctx, appdef.App{Name: "Empty", Slug: "empty"}); err == nil {
		t.Fatalf("expected empty steps error")
	}
	if _, err := svc.CreateApp(ctx, appdef.App{
		Name:  "Broken",
		Slug:  "broken",
		Steps: []appdef.StepSpec{{ModelSlug: "missing"}},
	}); err == nil {
		t.Fatalf("expected unknown model error")
	}
	if _, err := svc.CreateApp(ctx, appdef.App{
		Name:  "Stale",
		Slug:  "stale",
		Steps: []appdef.StepSpec{{ModelSlug: "old"}},
	}); err == nil {
		t.Fatalf("expected inactive model error")
	}

	app, err := svc.CreateApp(ctx, appdef.App{
		Name:   "Portrait",
		Slug:   "portrait",
		Steps:  []appdef.StepSpec{{ModelSlug: "flux", Params: map[string]any{"style": "photo"}}},
		Active: true,
	})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	if app.ID == 0 || len(app.Steps) != 1 {
		t.Fatalf("unexpected app %#v", app)
	}
}
