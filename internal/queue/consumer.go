/**
 * Queue Consumer for cardscan
 *
 * Consumes capture tasks through asynq and runs them on the pipeline hub.
 * Used when QUEUE_DRIVER=asynq; see RedisConsumer for the plain list queue.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/BJohnRogers/FinalVision/internal/errors"
	"github.com/BJohnRogers/FinalVision/internal/logging"
)

// Consumer handles capture consumption through asynq
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	target CaptureTarget
	config *ConsumerConfig
	logger *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Target            CaptureTarget
	ProcessingTimeout time.Duration
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.Target == nil {
		return nil, fmt.Errorf("Target is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueueName
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	// Parse Redis connection options
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("Consumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 2s, 4s, 8s, capped at 30s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(2*(1<<uint(n))) * time.Second
				if delay > 30*time.Second {
					delay = 30 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warn("Task processing error", "type", task.Type(), "error", err.Error())
			}),
		},
	)

	consumer := &Consumer{
		server: server,
		mux:    asynq.NewServeMux(),
		target: cfg.Target,
		config: cfg,
		logger: logger,
	}

	consumer.mux.HandleFunc(TaskTypeCapture, consumer.handleCapture)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("Queue consumer stopped")
	return nil
}

// handleCapture processes one queued capture
func (c *Consumer) handleCapture(ctx context.Context, task *asynq.Task) error {
	var payload CapturePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// Malformed payloads never succeed on retry
		return fmt.Errorf("failed to unmarshal capture payload: %v: %w", err, asynq.SkipRetry)
	}

	timeout := c.config.ProcessingTimeout
	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}

	result, err := processCapture(ctx, c.target, &payload, timeout, c.logger)
	if err != nil {
		if stderrors.Is(err, ErrInvalidPayload) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if ctx.Err() == nil && stderrors.Is(err, context.DeadlineExceeded) {
			timeoutErr := errors.NewProcessingTimeoutError(payload.CaptureID, timeout, err)
			c.logger.Warn("Capture timed out", "capture", payload.CaptureID, "error", timeoutErr.ToMap())
			return timeoutErr
		}
		return err
	}

	if w := task.ResultWriter(); w != nil {
		data, _ := json.Marshal(result)
		if _, err := w.Write(data); err != nil {
			c.logger.Warn("Failed to write task result", "capture", payload.CaptureID, "error", err.Error())
		}
	}

	return nil
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"driver":      "asynq",
	}
}
