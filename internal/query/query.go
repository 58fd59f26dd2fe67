// Package query turns recognized card text into a fuzzy lookup query.
package query

import (
	"errors"
	"net/url"
	"strings"

	"github.com/BJohnRogers/FinalVision/internal/ocr"
)

// ErrEmpty is returned when the normalized text is empty. Callers treat it as
// "no text found" rather than a failure.
var ErrEmpty = errors.New("query: normalized text is empty")

// Mode selects which part of the recognized text forms the query
type Mode string

const (
	ModeFull Mode = "full" // the whole flattened text
	ModeName Mode = "name" // the first non-blank line only
)

// LookupQuery is a normalized fuzzy-search string and its escaped form.
// A LookupQuery returned without error is never empty.
type LookupQuery struct {
	Normalized string
	Encoded    string
}

// String returns the normalized text
func (q LookupQuery) String() string { return q.Normalized }

// Build normalizes the full recognized text: ends trimmed, whitespace runs
// collapsed to one space, then escaped for a query parameter with a space as %20.
func Build(text *ocr.ExtractedText) (LookupQuery, error) {
	if text == nil {
		return LookupQuery{}, ErrEmpty
	}
	return FromString(text.Text)
}

// BuildName builds the query from the first non-blank line, which on a card is
// the title.
func BuildName(text *ocr.ExtractedText) (LookupQuery, error) {
	if text == nil {
		return LookupQuery{}, ErrEmpty
	}
	return FromString(text.FirstLine())
}

// FromString normalizes an arbitrary string the same way Build does
func FromString(s string) (LookupQuery, error) {
	normalized := ocr.Flatten(s)
	if normalized == "" {
		return LookupQuery{}, ErrEmpty
	}
	return LookupQuery{
		Normalized: normalized,
		Encoded:    escape(normalized),
	}, nil
}

// Builder returns the build function for a mode. Unknown modes use ModeFull.
func Builder(mode Mode) func(*ocr.ExtractedText) (LookupQuery, error) {
	if mode == ModeName {
		return BuildName
	}
	return Build
}

// escape is url.QueryEscape with spaces written as %20 instead of "+". A literal
// "+" is already %2B at this point, so the replacement is unambiguous.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
