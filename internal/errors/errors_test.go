package errors

import (
	stderrors "errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineErrorUnwrap(t *testing.T) {
	err := NewExtractionError("s-1", "tesseract", io.ErrUnexpectedEOF)

	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
	assert.Contains(t, err.Error(), "EXTRACTION_FAILED")
	assert.Contains(t, err.Error(), "tesseract")
}

func TestPipelineErrorToMap(t *testing.T) {
	err := NewLookupHTTPStatusError("s-2", 404, "No cards found matching")

	m := err.ToMap()
	require.Equal(t, "LOOKUP_HTTP_STATUS", m["error_code"])
	assert.Equal(t, 404, m["status_code"])
	assert.Equal(t, "No cards found matching", m["details"])
	assert.NotContains(t, m, "cause")

	withCause := NewLookupTransportError("s-3", io.EOF).ToMap()
	assert.Equal(t, "EOF", withCause["cause"])
}

func TestRetryable(t *testing.T) {
	cases := map[*PipelineError]bool{
		NewCaptureError("s", io.EOF):              false,
		NewExtractionError("s", "remote", io.EOF): false,
		NewQueryEmptyError("s"):                    false,
		NewLookupHTTPStatusError("s", 500, ""):     true,
		NewLookupMalformedError("s", nil):          true,
		NewLookupTransportError("s", io.EOF):       true,
		NewCancelledError("s", "t"):                false,
	}
	for err, want := range cases {
		assert.Equal(t, want, err.Retryable(), err.Code)
	}
}
