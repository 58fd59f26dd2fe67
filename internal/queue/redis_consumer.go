/**
 * Direct Redis Queue Consumer for cardscan
 *
 * Producers LPUSH a capture ID onto the queue list and store the job under
 * <queue>:data. Workers BRPOP IDs and trigger the surface's pipeline.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BJohnRogers/FinalVision/internal/logging"
)

var errNoJobs = errors.New("no jobs available")

// RedisConsumer handles capture consumption from a Redis list
type RedisConsumer struct {
	client *redis.Client
	target CaptureTarget
	config *RedisConsumerConfig
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	Client            *redis.Client // shared connection; not closed by Stop
	QueueName         string
	Concurrency       int
	Target            CaptureTarget
	ProcessingTimeout time.Duration
	PollTimeout       time.Duration // BRPOP block time, default 5s
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.Target == nil {
		return nil, fmt.Errorf("capture target is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueueName
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client: cfg.Client,
		target: cfg.Target,
		config: cfg,
		logger: logging.NewLogger("RedisConsumer"),
		ctx:    consumerCtx,
		cancel: cancel,
	}, nil
}

// Start begins processing captures from the queue
func (c *RedisConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Redis queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue consumer did not stop: %w", ctx.Err())
	}
}

// worker is a goroutine that processes captures
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
		}

		if err := c.processNextJob(); err != nil {
			if errors.Is(err, errNoJobs) || c.ctx.Err() != nil {
				continue
			}
			c.logger.Warn("Worker error", "worker", id, "error", err.Error())

			// Small delay before trying again
			select {
			case <-time.After(time.Second):
			case <-c.ctx.Done():
			}
		}
	}
}

// processNextJob fetches and processes the next capture from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, c.config.PollTimeout, c.config.QueueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	jobID := result[1]

	jobData, err := c.client.HGet(c.ctx, dataKey(c.config.QueueName), jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job CaptureJob
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.updateJobStatus(jobID, "failed", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	c.updateJobStatus(job.ID, "processing", nil)

	jobResult, err := processCapture(c.ctx, c.target, &job.Payload, c.config.ProcessingTimeout, c.logger)
	if err != nil {
		c.logger.Warn("Capture job failed", "job", job.ID, "error", err.Error())

		job.Attempts++
		if shouldRequeue(&job, err) && c.ctx.Err() == nil {
			// Re-queue for retry
			updatedData, _ := json.Marshal(job)
			c.client.HSet(c.ctx, dataKey(c.config.QueueName), job.ID, updatedData)
			c.client.LPush(c.ctx, c.config.QueueName, job.ID)
			c.logger.Info("Capture job re-queued", "job", job.ID, "attempt", job.Attempts, "maxRetries", job.MaxRetries)
		} else {
			c.updateJobStatus(job.ID, "failed", map[string]interface{}{
				"error":    err.Error(),
				"attempts": job.Attempts,
			})
		}
		return nil
	}

	c.updateJobStatus(job.ID, "completed", jobResult)
	return nil
}

// shouldRequeue reports whether a failed job gets another attempt. Invalid
// payloads fail on the first attempt.
func shouldRequeue(job *CaptureJob, err error) bool {
	if errors.Is(err, ErrInvalidPayload) {
		return false
	}
	return job.Attempts < job.MaxRetries
}

// updateJobStatus moves a job between the status sets and publishes a job event
func (c *RedisConsumer) updateJobStatus(jobID string, status string, result map[string]interface{}) {
	ctx := context.Background()
	queue := c.config.QueueName

	switch status {
	case "processing":
		c.client.SAdd(ctx, queue+":processing", jobID)
	case "completed":
		c.client.SRem(ctx, queue+":processing", jobID)
		c.client.SAdd(ctx, queue+":completed", jobID)
		if result != nil {
			resultData, _ := json.Marshal(result)
			c.client.HSet(ctx, queue+":results", jobID, resultData)
		}
	case "failed":
		c.client.SRem(ctx, queue+":processing", jobID)
		c.client.SAdd(ctx, queue+":failed", jobID)
		if result != nil {
			errorData, _ := json.Marshal(result)
			c.client.HSet(ctx, queue+":errors", jobID, errorData)
		}
	}

	event := map[string]interface{}{
		"event":     "job:" + status,
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	eventData, _ := json.Marshal(event)
	c.client.Publish(ctx, queue+":events", eventData)
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	queue := c.config.QueueName

	waiting, err := c.client.LLen(ctx, queue).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue length: %w", err)
	}
	processing, _ := c.client.SCard(ctx, queue+":processing").Result()
	completed, _ := c.client.SCard(ctx, queue+":completed").Result()
	failed, _ := c.client.SCard(ctx, queue+":failed").Result()

	return map[string]int64{
		"waiting":    waiting,
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}

func dataKey(queueName string) string {
	return queueName + ":data"
}
