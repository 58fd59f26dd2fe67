package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BJohnRogers/FinalVision/internal/frame"
)

func TestNewExtractedText(t *testing.T) {
	text := NewExtractedText([]TextBlock{
		{Text: "  Lightning   Bolt \n"},
		{Text: "   "},
		{Text: "Instant\nLightning Bolt deals 3 damage to any target."},
	})

	require.Len(t, text.Blocks, 2)
	assert.Equal(t, "Lightning   Bolt\nInstant\nLightning Bolt deals 3 damage to any target.", text.Text)
	assert.Equal(t, "Lightning Bolt Instant Lightning Bolt deals 3 damage to any target.", text.BestQuery)
	assert.Equal(t, "Lightning Bolt", text.FirstLine())
	assert.False(t, text.Empty())
}

func TestExtractedTextEmpty(t *testing.T) {
	assert.True(t, NewExtractedText(nil).Empty())
	assert.True(t, NewExtractedText([]TextBlock{{Text: "\t\n "}}).Empty())
	assert.Equal(t, "", NewExtractedText(nil).FirstLine())

	var missing *ExtractedText
	assert.True(t, missing.Empty())
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, "a b c", Flatten("  a\t\tb \n c  "))
	assert.Equal(t, "", Flatten(" \n\t "))
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func TestOrientRotatesCopy(t *testing.T) {
	data := testPNG(t, 4, 2)

	upright, err := frame.New(data, 0)
	require.NoError(t, err)
	out, err := orient(upright)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	for _, rotation := range []int{90, 270} {
		f, err := frame.New(data, rotation)
		require.NoError(t, err)

		out, err := orient(f)
		require.NoError(t, err)

		img, err := imaging.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, 2, img.Bounds().Dx(), "rotation %d", rotation)
		assert.Equal(t, 4, img.Bounds().Dy(), "rotation %d", rotation)
		assert.Equal(t, data, f.Pixels(), "frame must not be mutated")
	}

	// 90 clockwise moves the top-left red pixel to the top-right corner.
	f, err := frame.New(data, 90)
	require.NoError(t, err)
	out, err = orient(f)
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	r, _, _, _ := img.At(1, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestOrientUndecodable(t *testing.T) {
	f, err := frame.New([]byte("not an image at all"), 180)
	require.NoError(t, err)
	_, err = orient(f)
	assert.Error(t, err)
}

func TestRemoteExtractor(t *testing.T) {
	data := testPNG(t, 2, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/api/internal/vision/extract-text":
			var req VisionOCRRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			raw, err := base64.StdEncoding.DecodeString(req.Image)
			require.NoError(t, err)
			assert.Equal(t, data, raw)
			assert.Equal(t, 90, req.Rotation)
			assert.Equal(t, "eng", req.Language)

			_ = json.NewEncoder(w).Encode(VisionOCRResponse{
				Success: true,
				Data: VisionOCRData{
					Text:       "Lightning Bolt",
					Confidence: 0.97,
					ModelUsed:  "vision-small",
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ex := NewRemoteExtractor(srv.URL+"/", "eng")
	require.NoError(t, ex.HealthCheck(context.Background()))

	f, err := frame.New(data, 90)
	require.NoError(t, err)

	text, err := ex.Extract(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "Lightning Bolt", text.BestQuery)
	assert.Equal(t, "remote", text.Engine)
	require.Len(t, text.Blocks, 1)
}

func TestRemoteExtractorFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}},
		{"unsuccessful", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":false,"message":"model unavailable"}`))
		}},
	}

	f, err := frame.New(testPNG(t, 1, 1), 0)
	require.NoError(t, err)

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			text, err := NewRemoteExtractor(srv.URL, "").Extract(context.Background(), f)
			assert.Error(t, err)
			assert.Nil(t, text)
		})
	}
}

func TestRemoteExtractorNoText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"text":"  ","confidence":0.1}}`))
	}))
	defer srv.Close()

	f, err := frame.New(testPNG(t, 1, 1), 0)
	require.NoError(t, err)

	text, err := NewRemoteExtractor(srv.URL, "").Extract(context.Background(), f)
	require.NoError(t, err)
	assert.True(t, text.Empty())
}

func TestNewEngine(t *testing.T) {
	ex, err := New(EngineConfig{})
	require.NoError(t, err)
	assert.Equal(t, "tesseract", ex.Engine())

	ex, err = New(EngineConfig{Engine: "remote", RemoteURL: "http://vision:9000"})
	require.NoError(t, err)
	assert.Equal(t, "remote", ex.Engine())

	_, err = New(EngineConfig{Engine: "remote"})
	assert.Error(t, err)

	_, err = New(EngineConfig{Engine: "paddle"})
	assert.Error(t, err)
}
