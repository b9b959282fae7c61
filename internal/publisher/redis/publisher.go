// Package redis implements the result-channel publisher on a Redis list,
// the channel the scheduling service consumes completion and failure
// events from.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher pushes events onto the shared result list.
type Publisher struct {
	client *redis.Client
	queue  string
}

// New creates a Publisher for the given result queue key.
func New(client *redis.Client, queue string) *Publisher {
	if queue == "" {
		queue = "pricesense:result:queue"
	}
	return &Publisher{client: client, queue: queue}
}

// Publish marshals the payload to JSON and LPUSHes it onto the result
// list. The returned ID is the list length after the push, useful only for
// logging.
func (p *Publisher) Publish(ctx context.Context, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	n, err := p.client.LPush(ctx, p.queue, data).Result()
	if err != nil {
		return "", fmt.Errorf("push event: %w", err)
	}
	return fmt.Sprintf("%s:%d", p.queue, n), nil
}
