// Package frame holds the captured still image handed to text extraction and the
// sources that produce it.
package frame

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrEmptyFrame is returned when a frame has no pixel data.
	ErrEmptyFrame = errors.New("frame has no pixel data")
	// ErrInvalidRotation is returned for rotations other than 0, 90, 180 or 270.
	ErrInvalidRotation = errors.New("rotation must be one of 0, 90, 180, 270")
)

// Frame is an immutable encoded still image plus the clockwise rotation, in degrees,
// needed to bring its text upright.
type Frame struct {
	pixels   []byte
	rotation int
	format   string
}

// New validates and copies the pixel data into a Frame.
func New(pixels []byte, rotation int) (*Frame, error) {
	if len(pixels) == 0 {
		return nil, ErrEmptyFrame
	}
	if !ValidRotation(rotation) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRotation, rotation)
	}

	buf := make([]byte, len(pixels))
	copy(buf, pixels)

	return &Frame{
		pixels:   buf,
		rotation: rotation,
		format:   DetectFormat(buf),
	}, nil
}

// ValidRotation reports whether degrees is one of the four canonical rotations.
func ValidRotation(degrees int) bool {
	switch degrees {
	case 0, 90, 180, 270:
		return true
	}
	return false
}

// Pixels returns a copy of the encoded image bytes.
func (f *Frame) Pixels() []byte {
	buf := make([]byte, len(f.pixels))
	copy(buf, f.pixels)
	return buf
}

// Size is the length of the encoded image in bytes.
func (f *Frame) Size() int { return len(f.pixels) }

// Rotation in degrees clockwise.
func (f *Frame) Rotation() int { return f.rotation }

// Format is the detected image format ("jpeg", "png", ...) or "" when unknown.
func (f *Frame) Format() string { return f.format }

// ContentType returns the MIME type for the detected format.
func (f *Frame) ContentType() string {
	if f.format == "" {
		return "application/octet-stream"
	}
	return "image/" + f.format
}

// Source supplies a single frame on demand.
type Source interface {
	Capture(ctx context.Context) (*Frame, error)
}

// CaptureError reports a failed frame acquisition.
type CaptureError struct {
	Source string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture from %s failed: %v", e.Source, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// FileSource captures a frame by reading an image file.
type FileSource struct {
	Path     string
	Rotation int
}

// Capture reads the file at Path.
func (s FileSource) Capture(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, &CaptureError{Source: s.Path, Err: err}
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, &CaptureError{Source: s.Path, Err: err}
	}

	f, err := New(data, s.Rotation)
	if err != nil {
		return nil, &CaptureError{Source: s.Path, Err: err}
	}
	return f, nil
}

// BytesSource captures a frame from an in-memory buffer, such as an upload or a
// queued job payload.
type BytesSource struct {
	Name     string
	Data     []byte
	Rotation int
}

// Capture wraps Data in a Frame.
func (s BytesSource) Capture(ctx context.Context) (*Frame, error) {
	name := s.Name
	if name == "" {
		name = "buffer"
	}
	if err := ctx.Err(); err != nil {
		return nil, &CaptureError{Source: name, Err: err}
	}

	f, err := New(s.Data, s.Rotation)
	if err != nil {
		return nil, &CaptureError{Source: name, Err: err}
	}
	return f, nil
}
