package generations

import (
	"context"
	"fmt"
	"time"

	"github.com/renderdeck/renderdeck/internal/app/domain/generation"
	"github.com/renderdeck/renderdeck/internal/app/domain/model"
)

// MockInvoker fabricates deterministic results without a provider. Useful for
// local development and tests.
type MockInvoker struct {
	// Delay simulates provider latency.
	Delay time.Duration
	// Err, when set, makes every invocation fail.
	Err error
}

// NewMockInvoker returns an invoker that always succeeds immediately.
func NewMockInvoker() *MockInvoker {
	return &MockInvoker{}
}

func (m *MockInvoker) Invoke(ctx context.Context, mdl model.Model, gen generation.Generation) (map[string]any, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return map[string]any{
		"result":        fmt.Sprintf("mock://generations/%d.png", gen.ID),
		"thumbnail_url": fmt.Sprintf("mock://generations/%d_thumb.png", gen.ID),
	}, nil
}
