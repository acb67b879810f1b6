package executions

import (
	"context"
	"fmt"
	"strings"

	"github.com/renderdeck/renderdeck/internal/app/domain/appdef"
	"github.com/renderdeck/renderdeck/internal/app/domain/execution"
	"github.com/renderdeck/renderdeck/internal/app/domain/generation"
	"github.com/renderdeck/renderdeck/internal/app/notify"
	"github.com/renderdeck/renderdeck/internal/app/storage"
	"github.com/renderdeck/renderdeck/pkg/logger"
)

// StepLauncher creates the generation that backs a single execution step.
// Implemented by the generation service.
type StepLauncher interface {
	CreateForStep(ctx context.Context, userID int64, modelSlug string, input map[string]any, executionID int64, step int) (generation.Generation, error)
}

// Service owns multi-step app executions: starting them, advancing through
// steps as linked generations finish, and recording failures.
type Service struct {
	apps     storage.AppStore
	store    storage.ExecutionStore
	launcher StepLauncher
	notifier notify.Publisher
	log      *logger.Logger
}

// New creates a configured execution service.
func New(apps storage.AppStore, store storage.ExecutionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("executions")
	}
	return &Service{
		apps:  apps,
		store: store,
		log:   log,
	}
}

// AttachLauncher sets the launcher used to start step generations.
func (s *Service) AttachLauncher(l StepLauncher) {
	s.launcher = l
}

// AttachNotifier sets the publisher for terminal execution events.
func (s *Service) AttachNotifier(pub notify.Publisher) {
	s.notifier = pub
}

// Start creates an execution for an app slug and launches its first step.
func (s *Service) Start(ctx context.Context, userID int64, appSlug string, input map[string]any) (execution.Execution, error) {
	appSlug = strings.TrimSpace(appSlug)
	if userID <= 0 {
		return execution.Execution{}, fmt.Errorf("user id is required")
	}
	if appSlug == "" {
		return execution.Execution{}, fmt.Errorf("app slug is required")
	}
	if s.launcher == nil {
		return execution.Execution{}, fmt.Errorf("no step launcher attached")
	}

	app, err := s.apps.GetAppBySlug(ctx, appSlug)
	if err != nil {
		return execution.Execution{}, fmt.Errorf("app lookup failed: %w", err)
	}
	if !app.Active {
		return execution.Execution{}, fmt.Errorf("app %s is not active: %w", app.Slug, storage.ErrNotFound)
	}
	if len(app.Steps) == 0 {
		return execution.Execution{}, fmt.Errorf("app %s has no steps", app.Slug)
	}

	exec := execution.Execution{
		UserID:      userID,
		AppID:       app.ID,
		AppSlug:     app.Slug,
		CurrentStep: 0,
		Status:      execution.StatusProcessing,
		Steps:       []execution.StepResult{},
	}
	exec, err = s.store.CreateExecution(ctx, exec)
	if err != nil {
		return execution.Execution{}, err
	}

	if err := s.launchStep(ctx, exec, app, 0, input); err != nil {
		if failed, failErr := s.recordFailure(ctx, exec.ID, nil, err.Error()); failErr == nil {
			exec = failed
		}
		return exec, fmt.Errorf("launch first step: %w", err)
	}

	s.log.WithField("execution_id", exec.ID).
		WithField("app_slug", app.Slug).
		WithField("user_id", userID).
		Info("execution started")
	return exec, nil
}

// Get fetches an execution by identifier.
func (s *Service) Get(ctx context.Context, id int64) (execution.Execution, error) {
	return s.store.GetExecution(ctx, id)
}

// List returns a user's executions.
func (s *Service) List(ctx context.Context, userID int64) ([]execution.Execution, error) {
	return s.store.ListExecutions(ctx, userID)
}

// AdvanceStep records a finished step generation and either launches the
// next step or completes the execution. Stale deliveries for a step the
// execution has already moved past are ignored.
func (s *Service) AdvanceStep(ctx context.Context, executionID int64, gen generation.Generation) error {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		s.log.WithField("execution_id", exec.ID).
			WithField("status", string(exec.Status)).
			Debug("advance on terminal execution ignored")
		return nil
	}
	if gen.StepIndex != exec.CurrentStep {
		s.log.WithField("execution_id", exec.ID).
			WithField("generation_step", gen.StepIndex).
			WithField("current_step", exec.CurrentStep).
			Debug("stale step result ignored")
		return nil
	}

	app, err := s.apps.GetApp(ctx, exec.AppID)
	if err != nil {
		return fmt.Errorf("app lookup failed: %w", err)
	}

	exec.SetStepResult(execution.StepResult{
		Step:   exec.CurrentStep,
		Status: execution.StatusCompleted,
		Output: gen.Output,
	})

	if exec.CurrentStep >= len(app.Steps)-1 {
		exec.Status = execution.StatusCompleted
		exec, err = s.store.UpdateExecution(ctx, exec)
		if err != nil {
			return err
		}
		s.notifyFinished(exec, app)
		s.log.WithField("execution_id", exec.ID).Info("execution completed")
		return nil
	}

	exec.CurrentStep++
	exec, err = s.store.UpdateExecution(ctx, exec)
	if err != nil {
		return err
	}

	if err := s.launchStep(ctx, exec, app, exec.CurrentStep, gen.Output); err != nil {
		s.log.WithError(err).
			WithField("execution_id", exec.ID).
			WithField("step", exec.CurrentStep).
			Error("launch next step")
		if _, failErr := s.recordFailure(ctx, exec.ID, nil, err.Error()); failErr != nil {
			return failErr
		}
		return nil
	}
	return nil
}

// FailCurrentStep marks the execution failed because its in-flight step
// generation failed. An already failed execution is left untouched; a
// failure arriving after completion overwrites it, failure wins.
func (s *Service) FailCurrentStep(ctx context.Context, executionID int64, gen generation.Generation) error {
	message := strings.TrimSpace(gen.ErrorMessage)
	if message == "" {
		message = generation.DefaultErrorMessage
	}
	_, err := s.recordFailure(ctx, executionID, gen.Output, message)
	return err
}

// launchStep builds the step input from the app's step params overlaid with
// the caller-provided values and asks the launcher for a generation.
func (s *Service) launchStep(ctx context.Context, exec execution.Execution, app appdef.App, step int, carry map[string]any) error {
	spec := app.Steps[step]
	input := make(map[string]any, len(spec.Params)+len(carry))
	for k, v := range spec.Params {
		input[k] = v
	}
	for k, v := range carry {
		input[k] = v
	}
	_, err := s.launcher.CreateForStep(ctx, exec.UserID, spec.ModelSlug, input, exec.ID, step)
	return err
}

func (s *Service) recordFailure(ctx context.Context, executionID int64, output map[string]any, message string) (execution.Execution, error) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return execution.Execution{}, err
	}
	if exec.Status == execution.StatusFailed {
		s.log.WithField("execution_id", exec.ID).
			Debug("duplicate failure ignored")
		return exec, nil
	}

	exec.SetStepResult(execution.StepResult{
		Step:         exec.CurrentStep,
		Status:       execution.StatusFailed,
		Output:       output,
		ErrorMessage: message,
	})
	exec.Status = execution.StatusFailed
	exec.ErrorMessage = message
	exec, err = s.store.UpdateExecution(ctx, exec)
	if err != nil {
		return execution.Execution{}, err
	}

	app, lookupErr := s.apps.GetApp(ctx, exec.AppID)
	if lookupErr != nil {
		s.log.WithError(lookupErr).
			WithField("execution_id", exec.ID).
			Warn("app lookup for notification")
		app = appdef.App{Slug: exec.AppSlug, Name: exec.AppSlug}
	}
	s.notifyFinished(exec, app)
	s.log.WithField("execution_id", exec.ID).
		WithField("error", message).
		Info("execution failed")
	return exec, nil
}

func (s *Service) notifyFinished(exec execution.Execution, app appdef.App) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(notify.ExecutionCompleted(exec, app))
}
