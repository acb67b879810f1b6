package executions

import (
	"context"
	"testing"

	"github.com/renderdeck/renderdeck/internal/app/domain/appdef"
	"github.com/renderdeck/renderdeck/internal/app/domain/execution"
	"github.com/renderdeck/renderdeck/internal/app/domain/generation"
)

func TestService_StartCreatesExecutionAndFirstStep(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	exec, err := p.executions.Start(ctx, p.user.ID, p.app.Slug, map[string]any{"prompt": "a fox"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if exec.Status != execution.StatusProcessing {
		t.Fatalf("expected processing, got %s", exec.Status)
	}
	if exec.CurrentStep != 0 {
		t.Fatalf("expected step 0, got %d", exec.CurrentStep)
	}

	gen := p.stepGeneration(t, exec.ID, 0)
	if gen.Status != generation.StatusPending {
		t.Fatalf("first step generation should be pending, got %s", gen.Status)
	}
	if gen.ModelSlug != "flux" {
		t.Fatalf("unexpected step model %q", gen.ModelSlug)
	}
}

func TestService_StartValidation(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if _, err := p.executions.Start(ctx, p.user.ID, "missing", nil); err == nil {
		t.Fatalf("expected unknown app error")
	}
	if _, err := p.executions.Start(ctx, 0, p.app.Slug, nil); err == nil {
		t.Fatalf("expected user id error")
	}

	inactive, err := p.store.CreateApp(ctx, appdef.App{
		Name:  "Paused",
		Slug:  "paused",
		Steps: []appdef.StepSpec{{ModelSlug: "flux"}},
	})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	if _, err := p.executions.Start(ctx, p.user.ID, inactive.Slug, nil); err == nil {
		t.Fatalf("expected inactive app error")
	}

	empty, err := p.store.CreateApp(ctx, appdef.App{Name: "Empty", Slug: "empty", Active: true})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	if _, err := p.executions.Start(ctx, p.user.ID, empty.Slug, nil); err == nil {
		t.Fatalf("expected no steps error")
	}
}

func TestService_AdvanceIgnoresStaleStep(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	exec, err := p.executions.Start(ctx, p.user.ID, p.app.Slug, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	p.finishStep(t, exec.ID, 0, generation.StatusCompleted, map[string]any{"result": "step0"}, "")

	// A replay of the step-0 generation must not advance past step 1.
	stale := p.stepGeneration(t, exec.ID, 0)
	if err := p.executions.AdvanceStep(ctx, exec.ID, stale); err != nil {
		t.Fatalf("stale advance: %v", err)
	}
	current, err := p.executions.Get(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.CurrentStep != 1 {
		t.Fatalf("stale step moved execution to %d", current.CurrentStep)
	}
}

func TestService_List(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if _, err := p.executions.Start(ctx, p.user.ID, p.app.Slug, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	list, err := p.executions.List(ctx, p.user.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one execution, got %d", len(list))
	}
	if list, err = p.executions.List(ctx, p.user.ID+1); err != nil || len(list) != 0 {
		t.Fatalf("foreign user should see nothing: %v, %d", err, len(list))
	}
}
