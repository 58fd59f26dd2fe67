package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/BJohnRogers/FinalVision/internal/frame"
	"github.com/BJohnRogers/FinalVision/internal/pipeline"
)

// errUnresolved exits with status 2 without an error line; the sink already
// printed the outcome.
var errUnresolved = errors.New("card not resolved")

var (
	scanRotation int
	scanOpen     bool
	scanSurface  string
)

var scanCmd = &cobra.Command{
	Use:   "scan IMAGE",
	Short: "Recognize one card photo and print its card page",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().IntVarP(&scanRotation, "rotation", "r", 0, "clockwise degrees to bring the text upright (0, 90, 180, 270)")
	scanCmd.Flags().BoolVar(&scanOpen, "open", false, "open the card page in the default browser")
	scanCmd.Flags().StringVar(&scanSurface, "surface", "cli", "surface ID recorded in history")
}

func runScan(cmd *cobra.Command, args []string) error {
	if !frame.ValidRotation(scanRotation) {
		return fmt.Errorf("%w: got %d", frame.ErrInvalidRotation, scanRotation)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	deliveries := make(chan pipeline.Delivery, 1)
	a, err := newApp(ctx, cfg,
		newConsoleSink(cmd.OutOrStdout(), noColor),
		pipeline.SinkFunc(func(d pipeline.Delivery) { deliveries <- d }),
	)
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.hub.Trigger(scanSurface, frame.FileSource{Path: args[0], Rotation: scanRotation})
	if err != nil {
		return err
	}

	var d pipeline.Delivery
	select {
	case d = <-deliveries:
	case <-ctx.Done():
		return ctx.Err()
	}
	if d.SessionID != session.ID {
		return fmt.Errorf("unexpected delivery for session %s", d.SessionID)
	}

	if d.Outcome.Kind != pipeline.OutcomeNavigate {
		return errUnresolved
	}

	if scanOpen {
		return openBrowser(d.Outcome.URI)
	}
	return nil
}

// openBrowser hands uri to the platform's default opener
func openBrowser(uri string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", uri)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", uri)
	default:
		cmd = exec.Command("xdg-open", uri)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open %s: %w", uri, err)
	}
	return nil
}
