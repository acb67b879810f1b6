package generations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/renderdeck/renderdeck/internal/app/domain/generation"
	"github.com/renderdeck/renderdeck/internal/app/domain/model"
	"github.com/renderdeck/renderdeck/internal/app/metrics"
	"github.com/renderdeck/renderdeck/internal/app/notify"
	"github.com/renderdeck/renderdeck/internal/app/queue"
	"github.com/renderdeck/renderdeck/internal/app/storage"
	"github.com/renderdeck/renderdeck/internal/app/uploads"
	"github.com/renderdeck/renderdeck/pkg/logger"
)

// StatusObserver is invoked when a generation's status value changes.
// Edge-triggered: callers must not invoke it for saves that leave the status
// untouched.
type StatusObserver interface {
	OnGenerationStatusChanged(ctx context.Context, gen generation.Generation, previous generation.Status) error
}

// Service owns the generation lifecycle: creation, queue dispatch and status
// transitions.
type Service struct {
	users    storage.UserStore
	models   storage.ModelStore
	store    storage.GenerationStore
	queue    queue.Queue
	uploads  uploads.Store
	notifier notify.Publisher
	observer StatusObserver
	log      *logger.Logger
}

// New creates a configured generation service.
func New(users storage.UserStore, models storage.ModelStore, store storage.GenerationStore, q queue.Queue, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("generations")
	}
	return &Service{
		users:  users,
		models: models,
		store:  store,
		queue:  q,
		log:    log,
	}
}

// AttachUploads sets the store used to normalize file inputs.
func (s *Service) AttachUploads(store uploads.Store) {
	s.uploads = store
}

// AttachNotifier sets the publisher for terminal-status events.
func (s *Service) AttachNotifier(pub notify.Publisher) {
	s.notifier = pub
}

// AttachObserver sets the observer invoked on status transitions.
func (s *Service) AttachObserver(obs StatusObserver) {
	s.observer = obs
}

// Create validates, persists and enqueues a standalone generation for a
// model slug. The caller learns the outcome by polling or subscribing.
func (s *Service) Create(ctx context.Context, userID int64, modelSlug string, input map[string]any) (generation.Generation, error) {
	return s.create(ctx, userID, modelSlug, input, 0, 0)
}

// CreateForStep persists and enqueues the generation backing one step of an
// app execution.
func (s *Service) CreateForStep(ctx context.Context, userID int64, modelSlug string, input map[string]any, executionID int64, step int) (generation.Generation, error) {
	if executionID <= 0 {
		return generation.Generation{}, fmt.Errorf("execution id is required")
	}
	return s.create(ctx, userID, modelSlug, input, executionID, step)
}

func (s *Service) create(ctx context.Context, userID int64, modelSlug string, input map[string]any, executionID int64, step int) (generation.Generation, error) {
	modelSlug = strings.TrimSpace(modelSlug)
	if userID <= 0 {
		return generation.Generation{}, fmt.Errorf("user id is required")
	}
	if modelSlug == "" {
		return generation.Generation{}, fmt.Errorf("model slug is required")
	}

	if s.users != nil {
		if _, err := s.users.GetUser(ctx, userID); err != nil {
			return generation.Generation{}, fmt.Errorf("user validation failed: %w", err)
		}
	}

	mdl, err := s.models.GetModelBySlug(ctx, modelSlug)
	if err != nil {
		return generation.Generation{}, fmt.Errorf("model lookup failed: %w", err)
	}
	if !mdl.Active {
		return generation.Generation{}, fmt.Errorf("model %s is not active: %w", mdl.Slug, storage.ErrNotFound)
	}

	// File inputs must be durable before dispatch; workers cannot reach the
	// initiating request's upload handles.
	normalized, err := uploads.Normalize(ctx, s.uploads, input)
	if err != nil {
		return generation.Generation{}, fmt.Errorf("normalize input: %w", err)
	}

	gen := generation.Generation{
		UserID:      userID,
		ModelID:     mdl.ID,
		ModelSlug:   mdl.Slug,
		Status:      generation.StatusPending,
		Input:       normalized,
		ExecutionID: executionID,
		StepIndex:   step,
	}
	gen, err = s.store.CreateGeneration(ctx, gen)
	if err != nil {
		return generation.Generation{}, err
	}

	if err := s.queue.Enqueue(ctx, queue.Job{GenerationID: gen.ID}); err != nil {
		s.log.WithError(err).
			WithField("generation_id", gen.ID).
			Error("enqueue generation")
		if failed, failErr := s.Fail(ctx, gen.ID, "could not queue generation"); failErr == nil {
			gen = failed
		}
		return gen, fmt.Errorf("enqueue generation: %w", err)
	}

	s.log.WithField("generation_id", gen.ID).
		WithField("model_slug", mdl.Slug).
		WithField("user_id", userID).
		Info("generation queued")
	return gen, nil
}

// Get fetches a generation by identifier.
func (s *Service) Get(ctx context.Context, id int64) (generation.Generation, error) {
	return s.store.GetGeneration(ctx, id)
}

// List returns a user's generations, newest first.
func (s *Service) List(ctx context.Context, userID int64, limit, offset int) ([]generation.Generation, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListGenerations(ctx, userID, limit, offset)
}

// ModelFor resolves the catalog entry backing a generation.
func (s *Service) ModelFor(ctx context.Context, gen generation.Generation) (model.Model, error) {
	return s.models.GetModel(ctx, gen.ModelID)
}

// MarkProcessing transitions a generation from pending to processing.
func (s *Service) MarkProcessing(ctx context.Context, id int64) (generation.Generation, error) {
	gen, err := s.store.GetGeneration(ctx, id)
	if err != nil {
		return generation.Generation{}, err
	}
	if !gen.Status.CanTransition(generation.StatusProcessing) {
		return generation.Generation{}, fmt.Errorf("generation %d cannot move from %s to %s", id, gen.Status, generation.StatusProcessing)
	}
	gen.Status = generation.StatusProcessing
	return s.store.UpdateGeneration(ctx, gen)
}

// Complete records a successful result and fires the terminal-transition
// side effects exactly once.
func (s *Service) Complete(ctx context.Context, id int64, output map[string]any) (generation.Generation, error) {
	gen, err := s.store.GetGeneration(ctx, id)
	if err != nil {
		return generation.Generation{}, err
	}
	if !gen.Status.CanTransition(generation.StatusCompleted) {
		return generation.Generation{}, fmt.Errorf("generation %d cannot move from %s to %s", id, gen.Status, generation.StatusCompleted)
	}

	previous := gen.Status
	gen.Status = generation.StatusCompleted
	gen.Output = output
	gen, err = s.store.UpdateGeneration(ctx, gen)
	if err != nil {
		return generation.Generation{}, err
	}

	metrics.RecordGeneration(string(gen.Status), time.Since(gen.CreatedAt))
	return gen, s.finalize(ctx, gen, previous)
}

// Fail records a failure and fires the terminal-transition side effects.
// Empty messages fall back to a generic one so users always see a cause.
func (s *Service) Fail(ctx context.Context, id int64, message string) (generation.Generation, error) {
	gen, err := s.store.GetGeneration(ctx, id)
	if err != nil {
		return generation.Generation{}, err
	}
	if !gen.Status.CanTransition(generation.StatusFailed) {
		return generation.Generation{}, fmt.Errorf("generation %d cannot move from %s to %s", id, gen.Status, generation.StatusFailed)
	}

	message = strings.TrimSpace(message)
	if message == "" {
		message = generation.DefaultErrorMessage
	}

	previous := gen.Status
	gen.Status = generation.StatusFailed
	gen.ErrorMessage = message
	gen, err = s.store.UpdateGeneration(ctx, gen)
	if err != nil {
		return generation.Generation{}, err
	}

	metrics.RecordGeneration(string(gen.Status), time.Since(gen.CreatedAt))
	return gen, s.finalize(ctx, gen, previous)
}

// finalize runs the side effects of a terminal transition: hand linked
// generations to the observer, publish the event for standalone ones. Called
// only when the status value actually changed in this update.
func (s *Service) finalize(ctx context.Context, gen generation.Generation, previous generation.Status) error {
	if s.observer != nil {
		if err := s.observer.OnGenerationStatusChanged(ctx, gen, previous); err != nil {
			return fmt.Errorf("record execution failure: %w", err)
		}
	}

	if gen.Standalone() && s.notifier != nil {
		mdl, err := s.models.GetModel(ctx, gen.ModelID)
		if err != nil {
			s.log.WithError(err).
				WithField("generation_id", gen.ID).
				Warn("model lookup for notification")
			mdl = model.Model{Slug: gen.ModelSlug, Name: gen.ModelSlug}
		}
		s.notifier.Publish(notify.GenerationCompleted(gen, mdl))
	}
	return nil
}
