/**
 * OCR Types - Shared data structures for text extraction
 *
 * Common types produced by both the Tesseract engine and the remote vision service.
 */

package ocr

import (
	"context"
	"strings"
	"time"

	"github.com/BJohnRogers/FinalVision/internal/frame"
)

// Extractor runs text recognition over a frame. Implementations must not modify
// the frame and must return either a result or an error, never both.
type Extractor interface {
	Extract(ctx context.Context, f *frame.Frame) (*ExtractedText, error)
	Engine() string
}

// HealthChecker is implemented by extractors backed by a remote service
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ExtractedText is the immutable result of running OCR over a frame
type ExtractedText struct {
	Blocks    []TextBlock
	Text      string // block texts joined by newline
	BestQuery string // flattened full text, whitespace collapsed and trimmed
	Engine    string
	Duration  time.Duration
}

// TextBlock represents a detected block of text with its region
type TextBlock struct {
	Text       string
	Confidence float64
	Box        BoundingBox
}

// BoundingBox represents coordinates of a region
type BoundingBox struct {
	X      int
	Y      int
	Width  int
	Height int
}

// NewExtractedText builds an ExtractedText from recognized blocks. Blocks whose text
// is blank are dropped.
func NewExtractedText(blocks []TextBlock) *ExtractedText {
	kept := make([]TextBlock, 0, len(blocks))
	texts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		trimmed := strings.TrimSpace(b.Text)
		if trimmed == "" {
			continue
		}
		b.Text = trimmed
		kept = append(kept, b)
		texts = append(texts, trimmed)
	}

	full := strings.Join(texts, "\n")
	return &ExtractedText{
		Blocks:    kept,
		Text:      full,
		BestQuery: Flatten(full),
	}
}

// Empty reports the "no text found" condition.
func (t *ExtractedText) Empty() bool {
	return t == nil || len(t.Blocks) == 0 || t.BestQuery == ""
}

// FirstLine returns the first non-blank line of the recognized text. On a card
// this is the title line.
func (t *ExtractedText) FirstLine() string {
	if t == nil {
		return ""
	}
	for _, line := range strings.Split(t.Text, "\n") {
		if s := Flatten(line); s != "" {
			return s
		}
	}
	return ""
}

// Flatten collapses every whitespace run (including newlines) into a single space
// and trims the ends.
func Flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
