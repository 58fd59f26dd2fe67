package frame

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, 0)
	assert.ErrorIs(t, err, ErrEmptyFrame)

	for _, r := range []int{-90, 45, 360} {
		_, err := New(pngHeader, r)
		assert.ErrorIs(t, err, ErrInvalidRotation, "rotation %d", r)
	}

	for _, r := range []int{0, 90, 180, 270} {
		f, err := New(pngHeader, r)
		require.NoError(t, err)
		assert.Equal(t, r, f.Rotation())
	}
}

func TestFrameIsImmutable(t *testing.T) {
	src := append([]byte(nil), pngHeader...)
	f, err := New(src, 90)
	require.NoError(t, err)

	src[0] = 0
	assert.Equal(t, byte(0x89), f.Pixels()[0])

	out := f.Pixels()
	out[1] = 0
	assert.Equal(t, byte(0x50), f.Pixels()[1])
	assert.Equal(t, "png", f.Format())
	assert.Equal(t, "image/png", f.ContentType())
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"png", pngHeader, "png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "jpeg"},
		{"gif", []byte("GIF89a..."), "gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "webp"},
		{"tiff", []byte{0x49, 0x49, 0x2A, 0x00}, "tiff"},
		{"bmp", []byte("BM\x00\x00\x00"), "bmp"},
		{"too short", []byte{0xFF}, ""},
		{"unknown", []byte("hello world"), ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectFormat(tc.data))
		})
	}
}

func TestFileSourceCapture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "card.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o600))

	f, err := FileSource{Path: path, Rotation: 270}.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 270, f.Rotation())
	assert.Equal(t, len(pngHeader), f.Size())

	_, err = FileSource{Path: filepath.Join(dir, "missing.png")}.Capture(context.Background())
	var capErr *CaptureError
	require.True(t, errors.As(err, &capErr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestBytesSourceCapture(t *testing.T) {
	_, err := BytesSource{Data: nil}.Capture(context.Background())
	var capErr *CaptureError
	require.True(t, errors.As(err, &capErr))
	assert.ErrorIs(t, err, ErrEmptyFrame)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = BytesSource{Data: pngHeader}.Capture(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	f, err := BytesSource{Data: pngHeader, Rotation: 180}.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 180, f.Rotation())
}
