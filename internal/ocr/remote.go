/**
 * Remote OCR - vision service text extraction
 *
 * Sends the frame to an HTTP vision service instead of running Tesseract
 * locally. The service receives the rotation and orients the image itself.
 */

package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BJohnRogers/FinalVision/internal/frame"
	"github.com/BJohnRogers/FinalVision/internal/logging"
)

// RemoteExtractor handles communication with a vision OCR service
type RemoteExtractor struct {
	baseURL      string
	languageHint string
	httpClient   *http.Client
	logger       *logging.Logger
}

// VisionOCRRequest represents a request to extract text from an image
type VisionOCRRequest struct {
	Image    string `json:"image"`    // Base64 encoded image
	Format   string `json:"format"`   // always "base64"
	Rotation int    `json:"rotation"` // clockwise degrees needed to orient the text
	Language string `json:"language,omitempty"`
}

// VisionOCRResponse represents a response from the vision endpoint
type VisionOCRResponse struct {
	Success bool          `json:"success"`
	Data    VisionOCRData `json:"data"`
	Message string        `json:"message"`
}

// VisionOCRData contains the extracted text and metadata
type VisionOCRData struct {
	Text           string        `json:"text"`
	Confidence     float64       `json:"confidence"`
	ModelUsed      string        `json:"modelUsed"`
	ProcessingTime int64         `json:"processingTime"` // milliseconds
	Blocks         []VisionBlock `json:"blocks,omitempty"`
}

// VisionBlock is one region reported by the vision service
type VisionBlock struct {
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	BoundingBox struct {
		X      int `json:"x"`
		Y      int `json:"y"`
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"boundingBox"`
}

// NewRemoteExtractor creates a new remote OCR client
func NewRemoteExtractor(baseURL, languageHint string) *RemoteExtractor {
	return &RemoteExtractor{
		baseURL:      strings.TrimRight(baseURL, "/"),
		languageHint: languageHint,
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // Vision tasks can take time
		},
		logger: logging.NewLogger("RemoteOCR"),
	}
}

// Engine names the extractor
func (c *RemoteExtractor) Engine() string { return "remote" }

// HealthCheck verifies the vision service is available
func (c *RemoteExtractor) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vision OCR health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vision OCR health check returned status %d", resp.StatusCode)
	}

	return nil
}

// Extract sends the frame to the vision service
func (c *RemoteExtractor) Extract(ctx context.Context, f *frame.Frame) (*ExtractedText, error) {
	startTime := time.Now()

	endpoint := fmt.Sprintf("%s/api/internal/vision/extract-text", c.baseURL)

	reqBody, err := json.Marshal(&VisionOCRRequest{
		Image:    base64.StdEncoding.EncodeToString(f.Pixels()),
		Format:   "base64",
		Rotation: f.Rotation(),
		Language: c.languageHint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "cardscan")
	httpReq.Header.Set("X-Request-ID", "ocr-"+uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to vision service failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision service returned error status %d: %s", resp.StatusCode, string(body))
	}

	var ocrResp VisionOCRResponse
	if err := json.Unmarshal(body, &ocrResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !ocrResp.Success {
		return nil, fmt.Errorf("vision operation failed: %s", ocrResp.Message)
	}

	result := NewExtractedText(toBlocks(ocrResp.Data))
	result.Engine = c.Engine()
	result.Duration = time.Since(startTime)

	c.logger.Info("Text extraction complete",
		"modelUsed", ocrResp.Data.ModelUsed,
		"confidence", ocrResp.Data.Confidence,
		"processingTime", ocrResp.Data.ProcessingTime,
		"blocks", len(result.Blocks))

	return result, nil
}

// toBlocks uses the service's regions when present and otherwise treats the whole
// text as a single block.
func toBlocks(data VisionOCRData) []TextBlock {
	if len(data.Blocks) == 0 {
		if strings.TrimSpace(data.Text) == "" {
			return nil
		}
		return []TextBlock{{Text: data.Text, Confidence: data.Confidence}}
	}

	blocks := make([]TextBlock, 0, len(data.Blocks))
	for _, b := range data.Blocks {
		blocks = append(blocks, TextBlock{
			Text:       b.Text,
			Confidence: b.Confidence,
			Box: BoundingBox{
				X:      b.BoundingBox.X,
				Y:      b.BoundingBox.Y,
				Width:  b.BoundingBox.Width,
				Height: b.BoundingBox.Height,
			},
		})
	}
	return blocks
}
