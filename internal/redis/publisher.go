package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
)

// UpdatesChannel is the pub/sub channel carrying full row updates for one task.
func UpdatesChannel(taskID string) string { return "task:updates:" + taskID }

// UpdatePublisher broadcasts every accepted task write to push subscribers.
// Delivery is fire-and-forget: subscribers that are not listening miss the
// update and must reconcile by polling.
type UpdatePublisher interface {
	Publish(ctx context.Context, task *domain.Task) error
}

type updatePublisher struct {
	client *redis.Client
}

// NewUpdatePublisher returns a Redis pub/sub backed UpdatePublisher.
func NewUpdatePublisher(client *redis.Client) UpdatePublisher {
	return &updatePublisher{client: client}
}

func (p *updatePublisher) Publish(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task update: %w", err)
	}
	if err := p.client.Publish(ctx, UpdatesChannel(task.ID), data).Err(); err != nil {
		return fmt.Errorf("redis publish update for %s: %w", task.ID, err)
	}
	return nil
}
