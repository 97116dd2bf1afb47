package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"mass-payments/internal/models"
)

// RedisNotifier publishes events on a Redis pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	now     func() time.Time
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel, now: time.Now}
}

func (n *RedisNotifier) NotifyApprovalRequired(ctx context.Context, file models.PaymentFile, approval models.Approval) error {
	return n.publish(ctx, approvalEvent(file, approval, n.now().UTC()))
}

func (n *RedisNotifier) NotifyStatusChange(ctx context.Context, file models.PaymentFile, from, to models.FileStatus) error {
	return n.publish(ctx, statusEvent(file, from, to, n.now().UTC()))
}

func (n *RedisNotifier) publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, data).Err()
}
