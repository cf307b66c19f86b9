package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	maxRetry    = 5
	taskTimeout = 3 * time.Minute
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

func (c *Client) QueueName() string {
	return c.queue
}

// EnqueueNormalizeImage uses the job id as task id so a job cannot be queued
// twice while its task is still pending.
func (c *Client) EnqueueNormalizeImage(ctx context.Context, payload NormalizeImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewNormalizeImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, EnqueueOptions(c.queue, payload.JobID)...)
}

func EnqueueOptions(queueName, jobID string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(queueName),
		asynq.TaskID(jobID),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(taskTimeout),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}
