package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BJohnRogers/FinalVision/internal/frame"
)

const (
	// TaskTypeCapture is the asynq task type for queued captures
	TaskTypeCapture = "capture:scan"

	// DefaultQueueName is the Redis list (or asynq queue) captures are pushed to
	DefaultQueueName = "cardscan:captures"

	// DefaultMaxRetries is how many times a failed capture job is attempted
	DefaultMaxRetries = 3
)

// CaptureJob is a queued capture as stored in the Redis list queue
type CaptureJob struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Payload    CapturePayload `json:"payload"`
	CreatedAt  time.Time      `json:"createdAt"`
	Attempts   int            `json:"attempts"`
	MaxRetries int            `json:"maxRetries"`
}

// CapturePayload describes the frame to scan and the surface that receives the outcome
type CapturePayload struct {
	CaptureID string                 `json:"captureId"`
	SurfaceID string                 `json:"surfaceId"`
	Filename  string                 `json:"filename,omitempty"`
	ImagePath string                 `json:"imagePath,omitempty"`
	Rotation  int                    `json:"rotation"`
	Image     []byte                 `json:"-"` // "image" on the wire, see UnmarshalJSON
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// MarshalJSON writes Image as a base64 string
func (p CapturePayload) MarshalJSON() ([]byte, error) {
	type Alias CapturePayload
	return json.Marshal(&struct {
		Image string `json:"image,omitempty"`
		Alias
	}{
		Image: base64.StdEncoding.EncodeToString(p.Image),
		Alias: Alias(p),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for CapturePayload to handle Buffer serialization
// Supports both base64 string format and Node.js Buffer object format
func (p *CapturePayload) UnmarshalJSON(data []byte) error {
	// Create alias type to avoid recursion
	type Alias CapturePayload
	aux := &struct {
		Image interface{} `json:"image,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal CapturePayload: %w", err)
	}

	if aux.Image == nil {
		return nil
	}

	switch v := aux.Image.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 image: %w", err)
		}
		p.Image = decoded

	case map[string]interface{}:
		bufferType, ok := v["type"].(string)
		if !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.Image = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.Image[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("image must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// Validate checks the payload can be turned into a frame source
func (p *CapturePayload) Validate() error {
	if p.SurfaceID == "" {
		return fmt.Errorf("surfaceId is required")
	}
	if len(p.Image) == 0 && p.ImagePath == "" {
		return fmt.Errorf("either image or imagePath is required")
	}
	if !frame.ValidRotation(p.Rotation) {
		return fmt.Errorf("%w: got %d", frame.ErrInvalidRotation, p.Rotation)
	}
	return nil
}

// Source returns the frame source the payload describes
func (p *CapturePayload) Source() frame.Source {
	if len(p.Image) > 0 {
		name := p.Filename
		if name == "" {
			name = "queued capture " + p.CaptureID
		}
		return frame.BytesSource{Name: name, Data: p.Image, Rotation: p.Rotation}
	}
	return frame.FileSource{Path: p.ImagePath, Rotation: p.Rotation}
}
