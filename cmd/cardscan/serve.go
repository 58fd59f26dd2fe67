package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BJohnRogers/FinalVision/internal/api"
	"github.com/BJohnRogers/FinalVision/internal/queue"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the surface HTTP API and run capture queue workers",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

// worker is either queue consumer
type worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	consumer, err := newWorker(a)
	if err != nil {
		return err
	}

	apiCfg := api.Config{Surfaces: a.hub}
	if a.store != nil {
		apiCfg.History = a.store
	}
	if a.outcomes != nil {
		apiCfg.Outcomes = a.outcomes
	}
	apiCfg.HealthChecks, apiCfg.Stats = a.health(consumer)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(apiCfg).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP surface listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if consumer != nil {
		g.Go(func() error {
			if err := consumer.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return consumer.Stop(stopCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	a.logger.Info("cardscan is ready",
		"queueDriver", cfg.QueueDriver,
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency,
		"history", a.store != nil)

	return g.Wait()
}

// newWorker builds the configured queue consumer, or nil when Redis is not configured
func newWorker(a *app) (worker, error) {
	if a.cfg.RedisURL == "" {
		a.logger.Warn("REDIS_URL not set; capture queue disabled")
		return nil, nil
	}

	switch a.cfg.QueueDriver {
	case "asynq":
		return queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:    a.cfg.RedisURL,
			QueueName:   a.cfg.QueueName,
			Concurrency: a.cfg.WorkerConcurrency,
			Target:      a.hub,
		})
	default:
		return queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			Client:      a.redis,
			QueueName:   a.cfg.QueueName,
			Concurrency: a.cfg.WorkerConcurrency,
			Target:      a.hub,
		})
	}
}
