package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/renderdeck/renderdeck/internal/app/domain/appdef"
	"github.com/renderdeck/renderdeck/internal/app/domain/execution"
	"github.com/renderdeck/renderdeck/internal/app/domain/generation"
	"github.com/renderdeck/renderdeck/internal/app/domain/model"
	"github.com/renderdeck/renderdeck/internal/app/domain/user"
)

func TestMemory_NotFoundSentinel(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.GetUser(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.GetModelBySlug(ctx, "flux"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.GetGeneration(ctx, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.GetExecution(ctx, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_GenerationsAreIsolatedCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	gen, err := m.CreateGeneration(ctx, generation.Generation{
		UserID: 1,
		Status: generation.StatusPending,
		Input:  map[string]any{"prompt": "fox"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Mutating the returned copy must not leak into the store.
	gen.Input["prompt"] = "mutated"
	stored, err := m.GetGeneration(ctx, gen.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Input["prompt"] != "fox" {
		t.Fatalf("store shares memory with caller: %#v", stored.Input)
	}
}

func TestMemory_ListGenerationsPagination(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		gen, err := m.CreateGeneration(ctx, generation.Generation{UserID: 1, Status: generation.StatusPending})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, gen.ID)
	}
	if _, err := m.CreateGeneration(ctx, generation.Generation{UserID: 2, Status: generation.StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}

	page, err := m.ListGenerations(ctx, 1, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[4] || page[1].ID != ids[3] {
		t.Fatalf("unexpected first page: %#v", page)
	}

	page, err = m.ListGenerations(ctx, 1, 10, 4)
	if err != nil {
		t.Fatalf("list offset: %v", err)
	}
	if len(page) != 1 || page[0].ID != ids[0] {
		t.Fatalf("unexpected last page: %#v", page)
	}

	page, err = m.ListGenerations(ctx, 1, 10, 50)
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("expected empty page, got %d", len(page))
	}
}

func TestMemory_SlugUniqueness(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.CreateModel(ctx, model.Model{Name: "Flux", Slug: "flux", Provider: "p"}); err != nil {
		t.Fatalf("create model: %v", err)
	}
	if _, err := m.CreateModel(ctx, model.Model{Name: "Other", Slug: "flux", Provider: "p"}); err == nil {
		t.Fatalf("expected duplicate model slug error")
	}

	if _, err := m.CreateApp(ctx, appdef.App{Name: "A", Slug: "a", Steps: []appdef.StepSpec{{ModelSlug: "flux"}}}); err != nil {
		t.Fatalf("create app: %v", err)
	}
	if _, err := m.CreateApp(ctx, appdef.App{Name: "B", Slug: "a"}); err == nil {
		t.Fatalf("expected duplicate app slug error")
	}
}

func TestMemory_ExecutionStepsRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	exec, err := m.CreateExecution(ctx, execution.Execution{
		UserID: 1,
		AppID:  1,
		Status: execution.StatusProcessing,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	exec.SetStepResult(execution.StepResult{
		Step:   0,
		Status: execution.StatusCompleted,
		Output: map[string]any{"result": "url"},
	})
	exec.CurrentStep = 1
	if _, err := m.UpdateExecution(ctx, exec); err != nil {
		t.Fatalf("update: %v", err)
	}

	stored, err := m.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	res, ok := stored.StepResultFor(0)
	if !ok || res.Output["result"] != "url" {
		t.Fatalf("step result lost: %#v", stored.Steps)
	}
	if stored.CurrentStep != 1 {
		t.Fatalf("current step lost: %d", stored.CurrentStep)
	}
}

func TestMemory_UserEmailLookup(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	created, err := m.CreateUser(ctx, user.User{Name: "alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	found, err := m.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("lookup returned %d, want %d", found.ID, created.ID)
	}
}
