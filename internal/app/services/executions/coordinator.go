package executions

import (
	"context"

	"github.com/renderdeck/renderdeck/internal/app/domain/generation"
	"github.com/renderdeck/renderdeck/pkg/logger"
)

// Coordinator reacts to terminal transitions of linked generations and
// drives their executions forward. It is attached to the generation service
// as its status observer.
type Coordinator struct {
	executions *Service
	log        *logger.Logger
}

// NewCoordinator creates a coordinator over the execution service.
func NewCoordinator(executions *Service, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewDefault("execution-coordinator")
	}
	return &Coordinator{executions: executions, log: log}
}

// OnGenerationStatusChanged advances or fails the linked execution when a
// step generation reaches a terminal state. Standalone generations and
// non-terminal transitions are ignored.
//
// The two terminal paths have different error contracts. A completed step is
// best effort: a broken advance must not fail the generation save that
// triggered it, so errors and panics are logged and swallowed. A failed step
// must leave a failed execution behind, so persistence errors propagate to
// the caller.
func (c *Coordinator) OnGenerationStatusChanged(ctx context.Context, gen generation.Generation, previous generation.Status) error {
	if gen.Standalone() || gen.Status == previous {
		return nil
	}

	switch gen.Status {
	case generation.StatusCompleted:
		c.advance(ctx, gen)
		return nil
	case generation.StatusFailed:
		return c.executions.FailCurrentStep(ctx, gen.ExecutionID, gen)
	default:
		return nil
	}
}

func (c *Coordinator) advance(ctx context.Context, gen generation.Generation) {
	log := c.log.WithField("execution_id", gen.ExecutionID).
		WithField("generation_id", gen.ID)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("panic while advancing execution")
		}
	}()

	if err := c.executions.AdvanceStep(ctx, gen.ExecutionID, gen); err != nil {
		log.WithError(err).Error("advance execution step")
	}
}
