/**
 * Lookup types - card records and typed lookup failures
 *
 * A lookup always resolves to exactly one of a Card or a Failure.
 */

package lookup

import (
	"context"
	"fmt"

	"github.com/BJohnRogers/FinalVision/internal/query"
)

// Resolver resolves a query against the card database. Lookup never returns an
// error or panics; every failure mode is a Result with Failure set.
type Resolver interface {
	Lookup(ctx context.Context, q query.LookupQuery) Result
}

// ResolverFunc adapts a function to Resolver
type ResolverFunc func(ctx context.Context, q query.LookupQuery) Result

// Lookup calls f
func (f ResolverFunc) Lookup(ctx context.Context, q query.LookupQuery) Result { return f(ctx, q) }

// Card is the subset of a Scryfall card object the pipeline uses
type Card struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	ScryfallURI     string            `json:"scryfall_uri"`
	Set             string            `json:"set,omitempty"`
	SetName         string            `json:"set_name,omitempty"`
	CollectorNumber string            `json:"collector_number,omitempty"`
	TypeLine        string            `json:"type_line,omitempty"`
	ManaCost        string            `json:"mana_cost,omitempty"`
	OracleText      string            `json:"oracle_text,omitempty"`
	ImageURIs       map[string]string `json:"image_uris,omitempty"`
}

// ImageURL returns the best display image the service provided, or ""
func (c *Card) ImageURL() string {
	if c == nil {
		return ""
	}
	for _, size := range []string{"normal", "large", "small", "png"} {
		if u := c.ImageURIs[size]; u != "" {
			return u
		}
	}
	return ""
}

// FailureKind classifies a failed lookup
type FailureKind string

const (
	FailureHTTPStatus        FailureKind = "http_status"
	FailureMalformedResponse FailureKind = "malformed_response"
	FailureTransport         FailureKind = "transport"
)

// Failure describes why a lookup did not produce a card
type Failure struct {
	Kind       FailureKind
	StatusCode int    // set for FailureHTTPStatus
	Details    string // human-readable reason from the service, when it sent one
	Cause      error  // set for FailureTransport and parse failures
}

func (f *Failure) Error() string {
	switch f.Kind {
	case FailureHTTPStatus:
		if f.Details != "" {
			return fmt.Sprintf("lookup returned HTTP %d: %s", f.StatusCode, f.Details)
		}
		return fmt.Sprintf("lookup returned HTTP %d", f.StatusCode)
	case FailureMalformedResponse:
		if f.Cause != nil {
			return fmt.Sprintf("malformed lookup response: %v", f.Cause)
		}
		return "malformed lookup response"
	default:
		return fmt.Sprintf("lookup transport failure: %v", f.Cause)
	}
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// Result is the outcome of one lookup: exactly one of Card or Failure is set
type Result struct {
	Card    *Card
	Failure *Failure
	Cached  bool
}

// OK reports whether the lookup produced a card
func (r Result) OK() bool {
	return r.Card != nil && r.Failure == nil
}

// Success builds a successful result
func Success(card *Card) Result {
	return Result{Card: card}
}

// Failed builds a failed result
func Failed(f *Failure) Result {
	return Result{Failure: f}
}
