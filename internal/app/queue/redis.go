package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultKey = "renderdeck:generation_jobs"

// Redis is a Redis-list-backed queue so workers can run in separate
// processes from the HTTP server.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis creates a queue on the given client. An empty key uses the
// default list name.
func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = defaultKey
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := r.client.LPush(ctx, r.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (r *Redis) Dequeue(ctx context.Context) (Job, error) {
	for {
		// Bounded block so context cancellation is observed promptly.
		res, err := r.client.BRPop(ctx, 2*time.Second, r.key).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			return Job{}, fmt.Errorf("dequeue job: %w", err)
		}
		if len(res) != 2 {
			return Job{}, fmt.Errorf("unexpected brpop reply length %d", len(res))
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return Job{}, fmt.Errorf("unmarshal job: %w", err)
		}
		return job, nil
	}
}
