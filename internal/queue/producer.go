package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Producer submits captures to the queue consumed by RedisConsumer or Consumer
type Producer struct {
	queueName  string
	maxRetries int

	redis *redis.Client // list driver
	asynq *asynq.Client // asynq driver
}

// NewRedisProducer submits to the plain Redis list queue. The client is shared and
// not closed by Close.
func NewRedisProducer(client *redis.Client, queueName string) *Producer {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &Producer{queueName: queueName, maxRetries: DefaultMaxRetries, redis: client}
}

// NewAsynqProducer submits asynq tasks of type TaskTypeCapture
func NewAsynqProducer(redisURL, queueName string) (*Producer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &Producer{queueName: queueName, maxRetries: DefaultMaxRetries, asynq: asynq.NewClient(redisOpt)}, nil
}

// Submit queues a capture and returns its capture ID
func (p *Producer) Submit(ctx context.Context, payload CapturePayload) (string, error) {
	if payload.CaptureID == "" {
		payload.CaptureID = uuid.NewString()
	}
	if err := payload.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if p.asynq != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("failed to marshal payload: %w", err)
		}
		task := asynq.NewTask(TaskTypeCapture, data)
		if _, err := p.asynq.EnqueueContext(ctx, task,
			asynq.Queue(p.queueName),
			asynq.TaskID(payload.CaptureID),
			asynq.MaxRetry(p.maxRetries),
			asynq.Retention(24*time.Hour),
		); err != nil {
			return "", fmt.Errorf("failed to enqueue capture: %w", err)
		}
		return payload.CaptureID, nil
	}

	job := CaptureJob{
		ID:         payload.CaptureID,
		Type:       TaskTypeCapture,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: p.maxRetries,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	// Data first so a worker never pops an ID without its job
	if err := p.redis.HSet(ctx, dataKey(p.queueName), job.ID, data).Err(); err != nil {
		return "", fmt.Errorf("failed to store job: %w", err)
	}
	if err := p.redis.LPush(ctx, p.queueName, job.ID).Err(); err != nil {
		return "", fmt.Errorf("failed to push job: %w", err)
	}
	return job.ID, nil
}

// Close releases the asynq client, if any
func (p *Producer) Close() error {
	if p.asynq != nil {
		return p.asynq.Close()
	}
	return nil
}
