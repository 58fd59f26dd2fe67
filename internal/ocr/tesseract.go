/**
 * Tesseract OCR - on-device text extraction
 *
 * Orients the frame, then reads block-level regions through gosseract.
 */

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/BJohnRogers/FinalVision/internal/frame"
	"github.com/BJohnRogers/FinalVision/internal/logging"
)

// TesseractExtractor handles OCR using Tesseract
type TesseractExtractor struct {
	languageHint  string
	minConfidence float64
	logger        *logging.Logger
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	LanguageHint  string  // e.g. "eng"; empty leaves Tesseract's default
	MinConfidence float64 // blocks below this confidence (0-100) are dropped
}

// NewTesseractExtractor creates a new Tesseract extractor
func NewTesseractExtractor(cfg *TesseractConfig) *TesseractExtractor {
	if cfg == nil {
		cfg = &TesseractConfig{}
	}
	return &TesseractExtractor{
		languageHint:  cfg.LanguageHint,
		minConfidence: cfg.MinConfidence,
		logger:        logging.NewLogger("Tesseract"),
	}
}

// Engine names the extractor
func (t *TesseractExtractor) Engine() string { return "tesseract" }

// Extract performs OCR using Tesseract
func (t *TesseractExtractor) Extract(ctx context.Context, f *frame.Frame) (*ExtractedText, error) {
	startTime := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	imageData, err := orient(f)
	if err != nil {
		return nil, fmt.Errorf("failed to orient frame: %w", err)
	}

	// Create Tesseract client
	client := gosseract.NewClient()
	defer client.Close()

	if t.languageHint != "" {
		if err := client.SetLanguage(t.languageHint); err != nil {
			return nil, fmt.Errorf("failed to set language %q: %w", t.languageHint, err)
		}
	}

	if err := client.SetImageFromBytes(imageData); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_BLOCK)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	blocks := make([]TextBlock, 0, len(boxes))
	dropped := 0
	for _, box := range boxes {
		if box.Confidence < t.minConfidence {
			dropped++
			continue
		}
		blocks = append(blocks, TextBlock{
			Text:       box.Word,
			Confidence: box.Confidence,
			Box:        fromRectangle(box.Box),
		})
	}

	result := NewExtractedText(blocks)
	result.Engine = t.Engine()
	result.Duration = time.Since(startTime)

	t.logger.Debug("Tesseract extraction complete",
		"blocks", len(result.Blocks),
		"droppedLowConfidence", dropped,
		"rotation", f.Rotation(),
		"duration", result.Duration)

	return result, nil
}

// orient returns the frame's image bytes rotated upright. Rotation is clockwise;
// imaging rotates counter-clockwise. Rotated frames are re-encoded as PNG.
func orient(f *frame.Frame) ([]byte, error) {
	if f.Rotation() == 0 {
		return f.Pixels(), nil
	}

	img, err := imaging.Decode(bytes.NewReader(f.Pixels()))
	if err != nil {
		return nil, fmt.Errorf("decode %s frame: %w", f.Format(), err)
	}

	var upright image.Image
	switch f.Rotation() {
	case 90:
		upright = imaging.Rotate270(img)
	case 180:
		upright = imaging.Rotate180(img)
	case 270:
		upright = imaging.Rotate90(img)
	default:
		return nil, fmt.Errorf("%w: got %d", frame.ErrInvalidRotation, f.Rotation())
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, upright, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode oriented frame: %w", err)
	}
	return buf.Bytes(), nil
}

func fromRectangle(r image.Rectangle) BoundingBox {
	return BoundingBox{
		X:      r.Min.X,
		Y:      r.Min.Y,
		Width:  r.Dx(),
		Height: r.Dy(),
	}
}
