package generations

import (
	"context"
	"sync"
	"time"

	"github.com/renderdeck/renderdeck/internal/app/queue"
	"github.com/renderdeck/renderdeck/pkg/logger"
)

const defaultInvokeTimeout = 2 * time.Minute

// Runner consumes queued generation jobs and drives them through the model
// provider. It implements system.Service so the application manager controls
// its lifecycle.
type Runner struct {
	service *Service
	queue   queue.Queue
	invoker ModelInvoker
	log     *logger.Logger

	workers int
	timeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRunner creates a runner for the given service and queue.
func NewRunner(service *Service, q queue.Queue, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewDefault("generation-runner")
	}
	return &Runner{
		service: service,
		queue:   q,
		log:     log,
		workers: 2,
		timeout: defaultInvokeTimeout,
	}
}

// WithInvoker sets the provider client used to run models.
func (r *Runner) WithInvoker(inv ModelInvoker) *Runner {
	r.invoker = inv
	return r
}

// WithWorkers sets the number of concurrent consumers.
func (r *Runner) WithWorkers(n int) *Runner {
	if n > 0 {
		r.workers = n
	}
	return r
}

// Name implements system.Service.
func (r *Runner) Name() string { return "generation-runner" }

// Start launches the worker pool. A runner without an invoker stays idle so
// the rest of the application can still serve reads.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if r.invoker == nil {
		r.log.Warn("no model invoker configured, generation runner disabled")
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.loop(runCtx)
	}
	r.log.WithField("workers", r.workers).Info("generation runner started")
	return nil
}

// Stop halts the worker pool and waits for in-flight jobs to settle.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.log.Info("generation runner stopped")
	return nil
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		job, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.WithError(err).Error("dequeue generation job")
			continue
		}
		r.process(ctx, job)
	}
}

func (r *Runner) process(ctx context.Context, job queue.Job) {
	log := r.log.WithField("generation_id", job.GenerationID)

	gen, err := r.service.MarkProcessing(ctx, job.GenerationID)
	if err != nil {
		// Likely a stale or replayed job; nothing to run.
		log.WithError(err).Warn("claim generation job")
		return
	}

	mdl, err := r.service.ModelFor(ctx, gen)
	if err != nil {
		log.WithError(err).Error("resolve model for generation")
		r.fail(ctx, gen.ID, "model is no longer available")
		return
	}

	invokeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	output, err := r.invoker.Invoke(invokeCtx, mdl, gen)
	cancel()
	if err != nil {
		log.WithError(err).WithField("model_slug", mdl.Slug).Error("model invocation failed")
		r.fail(ctx, gen.ID, err.Error())
		return
	}

	if _, err := r.service.Complete(ctx, gen.ID, output); err != nil {
		log.WithError(err).Error("record generation result")
	}
}

func (r *Runner) fail(ctx context.Context, id int64, message string) {
	if _, err := r.service.Fail(ctx, id, message); err != nil {
		r.log.WithError(err).
			WithField("generation_id", id).
			Error("record generation failure")
	}
}
