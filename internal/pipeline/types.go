/**
 * Pipeline types - stages, outcomes and the surface boundary
 */

package pipeline

import (
	"time"

	"github.com/BJohnRogers/FinalVision/internal/errors"
	"github.com/BJohnRogers/FinalVision/internal/frame"
	"github.com/BJohnRogers/FinalVision/internal/lookup"
)

// Stage is a session's position in the pipeline
type Stage int

const (
	StageIdle Stage = iota
	StageExtracting
	StageQueryBuilding
	StageLookingUp
	StageTerminal
)

var stageNames = [...]string{"idle", "extracting", "query_building", "looking_up", "terminal"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// OutcomeKind classifies a terminal outcome
type OutcomeKind string

const (
	OutcomeNavigate     OutcomeKind = "navigate"
	OutcomeNoTextFound  OutcomeKind = "no_text_found"
	OutcomeLookupFailed OutcomeKind = "lookup_failed"
	OutcomeError        OutcomeKind = "error"
	OutcomeCancelled    OutcomeKind = "cancelled"
)

// Outcome is the terminal result of a session
type Outcome struct {
	Kind    OutcomeKind
	URI     string                // Navigate
	Card    *lookup.Card          // Navigate
	Failure *lookup.Failure       // LookupFailed
	Err     *errors.PipelineError // every kind except Navigate
}

// Navigate is the success outcome: present the resolved card
func Navigate(card *lookup.Card) Outcome {
	return Outcome{Kind: OutcomeNavigate, URI: card.ScryfallURI, Card: card}
}

// NoTextFound asks the user to retake the photo
func NoTextFound(sessionID string) Outcome {
	return Outcome{Kind: OutcomeNoTextFound, Err: errors.NewQueryEmptyError(sessionID)}
}

// LookupFailed reports a retryable lookup failure
func LookupFailed(sessionID string, f *lookup.Failure) Outcome {
	var err *errors.PipelineError
	switch f.Kind {
	case lookup.FailureHTTPStatus:
		err = errors.NewLookupHTTPStatusError(sessionID, f.StatusCode, f.Details)
	case lookup.FailureMalformedResponse:
		err = errors.NewLookupMalformedError(sessionID, f.Cause)
	default:
		err = errors.NewLookupTransportError(sessionID, f.Cause)
	}
	return Outcome{Kind: OutcomeLookupFailed, Failure: f, Err: err}
}

// Failed reports a capture or extraction error
func Failed(err *errors.PipelineError) Outcome {
	return Outcome{Kind: OutcomeError, Err: err}
}

// Cancelled marks a superseded session. It is never delivered.
func Cancelled(sessionID, supersededBy string) Outcome {
	return Outcome{Kind: OutcomeCancelled, Err: errors.NewCancelledError(sessionID, supersededBy)}
}

// Retryable reports whether Retry can act on the outcome
func (o Outcome) Retryable() bool {
	return o.Kind == OutcomeLookupFailed
}

// Reason is a short human-readable explanation of the outcome
func (o Outcome) Reason() string {
	switch o.Kind {
	case OutcomeNavigate:
		return o.URI
	case OutcomeNoTextFound:
		return "no text found; retake the photo"
	case OutcomeLookupFailed:
		if o.Failure != nil {
			return o.Failure.Error()
		}
	case OutcomeCancelled:
		return "superseded by a newer capture"
	}
	if o.Err != nil {
		return o.Err.Error()
	}
	return string(o.Kind)
}

// Delivery is what a surface receives for a session that was not superseded
type Delivery struct {
	SurfaceID   string
	SessionID   string
	Seq         int64
	Outcome     Outcome
	Text        string
	Query       string
	DeliveredAt time.Time
}

// Sink receives deliveries on a single goroutine, in capture order. Deliver must
// not call Close on the coordinator that invoked it.
type Sink interface {
	Deliver(d Delivery)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(d Delivery)

// Deliver calls f
func (f SinkFunc) Deliver(d Delivery) { f(d) }

// MultiSink fans a delivery out to several sinks in order
type MultiSink []Sink

// Deliver forwards d to every sink
func (m MultiSink) Deliver(d Delivery) {
	for _, s := range m {
		if s != nil {
			s.Deliver(d)
		}
	}
}

// Display is the surface's currently displayed result. The coordinator replaces it
// only when delivering the current session's outcome.
type Display struct {
	SessionID string
	Seq       int64
	Text      string
	Query     string
	Outcome   Outcome
	Card      *lookup.Card
	Photo     *frame.Frame
	UpdatedAt time.Time
}

// Empty reports whether nothing has been delivered yet
func (d Display) Empty() bool {
	return d.SessionID == ""
}
