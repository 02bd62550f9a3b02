package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueSubmitSession queues one submit. MaxRetry is zero: a failed submit
// surfaces on the session and the user resubmits manually.
func (c *Client) EnqueueSubmitSession(ctx context.Context, payload SubmitSessionPayload) (*asynq.TaskInfo, error) {
	task, err := NewSubmitSessionTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(0),
		asynq.Timeout(3*time.Minute),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
