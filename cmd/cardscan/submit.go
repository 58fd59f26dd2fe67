package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/BJohnRogers/FinalVision/internal/cache"
	"github.com/BJohnRogers/FinalVision/internal/queue"
)

var (
	submitSurface  string
	submitRotation int
	submitByPath   bool
)

var submitCmd = &cobra.Command{
	Use:   "submit IMAGE",
	Short: "Queue a card photo for a surface served by cardscan serve",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitSurface, "surface", "s", "", "surface that receives the outcome (required)")
	submitCmd.Flags().IntVarP(&submitRotation, "rotation", "r", 0, "clockwise degrees to bring the text upright")
	submitCmd.Flags().BoolVar(&submitByPath, "by-path", false, "send the file path instead of the image bytes")
	_ = submitCmd.MarkFlagRequired("surface")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required to submit captures")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	payload := queue.CapturePayload{
		SurfaceID: submitSurface,
		Filename:  filepath.Base(args[0]),
		Rotation:  submitRotation,
	}
	if submitByPath {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		payload.ImagePath = abs
	} else {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		payload.Image = data
	}

	var producer *queue.Producer
	switch cfg.QueueDriver {
	case "asynq":
		p, err := queue.NewAsynqProducer(cfg.RedisURL, cfg.QueueName)
		if err != nil {
			return err
		}
		producer = p
	default:
		client, err := cache.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		producer = queue.NewRedisProducer(client, cfg.QueueName)
	}
	defer producer.Close()

	id, err := producer.Submit(ctx, payload)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", id)
	return nil
}
