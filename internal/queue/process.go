package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/BJohnRogers/FinalVision/internal/frame"
	"github.com/BJohnRogers/FinalVision/internal/logging"
	"github.com/BJohnRogers/FinalVision/internal/pipeline"
)

// DefaultProcessingTimeout bounds how long a worker waits for one capture
const DefaultProcessingTimeout = 2 * time.Minute

// ErrInvalidPayload marks a capture that can never succeed; queues fail it
// without retrying
var ErrInvalidPayload = stderrors.New("invalid capture payload")

// CaptureTarget starts captures on surfaces. pipeline.Hub implements it.
type CaptureTarget interface {
	Trigger(surfaceID string, src frame.Source) (*pipeline.Session, error)
	Snapshot(surfaceID, sessionID string) (pipeline.Snapshot, bool)
}

// processCapture triggers the capture and waits for its session to finish. The
// outcome itself reaches the surface through the pipeline sink; the returned map
// is the job result kept by the queue.
func processCapture(ctx context.Context, target CaptureTarget, payload *CapturePayload, timeout time.Duration, logger *logging.Logger) (map[string]interface{}, error) {
	startTime := time.Now()

	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}

	session, err := target.Trigger(payload.SurfaceID, payload.Source())
	if err != nil {
		return nil, fmt.Errorf("failed to trigger capture: %w", err)
	}

	logger.Printf("[Capture %s] Triggered session %s on surface %s", payload.CaptureID, session.ID, payload.SurfaceID)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := session.Wait(waitCtx); err != nil {
		return nil, fmt.Errorf("capture %s did not finish within %v: %w", payload.CaptureID, timeout, err)
	}

	result := map[string]interface{}{
		"captureId":      payload.CaptureID,
		"surfaceId":      payload.SurfaceID,
		"sessionId":      session.ID,
		"processingTime": time.Since(startTime).Milliseconds(),
	}

	if snap, ok := target.Snapshot(payload.SurfaceID, session.ID); ok && snap.Outcome != nil {
		result["outcome"] = string(snap.Outcome.Kind)
		result["reason"] = snap.Outcome.Reason()
		if snap.Outcome.URI != "" {
			result["uri"] = snap.Outcome.URI
		}
	}

	logger.Printf("[Capture %s] Session %s finished in %v: %v", payload.CaptureID, session.ID, time.Since(startTime), result["outcome"])
	return result, nil
}
