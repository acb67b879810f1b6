// Package queue carries generation jobs from the HTTP layer to the runner.
// Only the dispatch/consume contract matters to callers; the transport is
// swappable (in-process channel or Redis).
package queue

import (
	"context"
	"fmt"
)

// Job identifies one unit of generation work.
type Job struct {
	GenerationID int64 `json:"generation_id"`
}

// Queue is the dispatch/consume contract for generation jobs. Enqueue must
// not block the caller; Dequeue blocks until a job is available or the
// context is cancelled.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// Memory is a channel-backed in-process queue for tests and single-node
// deployments.
type Memory struct {
	jobs chan Job
}

// NewMemory creates a memory queue holding up to capacity pending jobs.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 256
	}
	return &Memory{jobs: make(chan Job, capacity)}
}

func (m *Memory) Enqueue(_ context.Context, job Job) error {
	select {
	case m.jobs <- job:
		return nil
	default:
		return fmt.Errorf("queue full")
	}
}

func (m *Memory) Dequeue(ctx context.Context) (Job, error) {
	select {
	case <-ctx.Done():
		return Job{}, ctx.Err()
	case job := <-m.jobs:
		return job, nil
	}
}

// Len reports the number of pending jobs.
func (m *Memory) Len() int {
	return len(m.jobs)
}
