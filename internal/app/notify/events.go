// Package notify publishes terminal-status events to per-user realtime
// channels. Delivery is fire-and-forget: a disconnected client misses the
// live update and reconciles through the read endpoints.
package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/renderdeck/renderdeck/internal/app/domain/appdef"
	"github.com/renderdeck/renderdeck/internal/app/domain/execution"
	"github.com/renderdeck/renderdeck/internal/app/domain/generation"
	"github.com/renderdeck/renderdeck/internal/app/domain/model"
)

// Event names carried on the wire.
const (
	EventGenerationCompleted = "generation.completed"
	EventExecutionCompleted  = "app.execution.completed"
)

// Event is one published message: a channel, an event name and a payload.
type Event struct {
	Channel string `json:"channel"`
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

// Publisher delivers events best-effort. Publish must not block the caller.
type Publisher interface {
	Publish(event Event)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(event Event)

func (f PublisherFunc) Publish(event Event) { f(event) }

// UserChannel names the private channel owned by a user.
func UserChannel(userID int64) string {
	return fmt.Sprintf("user.%d", userID)
}

// ParseUserChannel extracts the numeric owner id from a user.<id> channel
// name. Subscription authorization compares it to the authenticated user.
func ParseUserChannel(channel string) (int64, error) {
	rest, ok := strings.CutPrefix(channel, "user.")
	if !ok {
		return 0, fmt.Errorf("unknown channel %q", channel)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user channel %q", channel)
	}
	return id, nil
}

// GenerationCompletedPayload is the wire shape of a generation terminal
// event.
type GenerationCompletedPayload struct {
	GenerationID int64   `json:"generation_id"`
	Status       string  `json:"status"`
	ModelName    string  `json:"model_name"`
	ModelSlug    string  `json:"model_slug"`
	ThumbnailURL *string `json:"thumbnail_url"`
	Result       *string `json:"result"`
}

// ExecutionCompletedPayload is the wire shape of an app execution terminal
// event.
type ExecutionCompletedPayload struct {
	ExecutionID int64  `json:"execution_id"`
	Status      string `json:"status"`
	AppName     string `json:"app_name"`
	AppSlug     string `json:"app_slug"`
}

// GenerationCompleted builds the terminal event for a generation.
func GenerationCompleted(gen generation.Generation, mdl model.Model) Event {
	thumbnail := stringField(gen.Output, "thumbnail_url")
	if thumbnail == nil && mdl.ThumbnailURL != "" {
		url := mdl.ThumbnailURL
		thumbnail = &url
	}
	return Event{
		Channel: UserChannel(gen.UserID),
		Name:    EventGenerationCompleted,
		Payload: GenerationCompletedPayload{
			GenerationID: gen.ID,
			Status:       string(gen.Status),
			ModelName:    mdl.Name,
			ModelSlug:    mdl.Slug,
			ThumbnailURL: thumbnail,
			Result:       stringField(gen.Output, "result"),
		},
	}
}

// ExecutionCompleted builds the terminal event for an app execution.
func ExecutionCompleted(exec execution.Execution, app appdef.App) Event {
	return Event{
		Channel: UserChannel(exec.UserID),
		Name:    EventExecutionCompleted,
		Payload: ExecutionCompletedPayload{
			ExecutionID: exec.ID,
			Status:      string(exec.Status),
			AppName:     app.Name,
			AppSlug:     app.Slug,
		},
	}
}

func stringField(payload map[string]any, key string) *string {
	if payload == nil {
		return nil
	}
	if value, ok := payload[key].(string); ok && value != "" {
		return &value
	}
	return nil
}
