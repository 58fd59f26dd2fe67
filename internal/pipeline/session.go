package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/BJohnRogers/FinalVision/internal/frame"
	"github.com/BJohnRogers/FinalVision/internal/ocr"
	"github.com/BJohnRogers/FinalVision/internal/query"
	"github.com/BJohnRogers/FinalVision/internal/storage"
)

// Session is one capture-to-outcome attempt. ID, SurfaceID and Seq never change;
// everything else is owned by the coordinator and read through Snapshot.
type Session struct {
	ID        string
	SurfaceID string
	Seq       int64

	retryOf string
	cancel  context.CancelFunc
	done    chan struct{}

	// guarded by Coordinator.mu
	stage     Stage
	frame     *frame.Frame
	text      *ocr.ExtractedText
	query     query.LookupQuery
	outcome   *Outcome
	attempts  int
	cached    bool
	engine    string
	createdAt time.Time
	updatedAt time.Time
}

func newSession(surfaceID string, seq int64) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		SurfaceID: surfaceID,
		Seq:       seq,
		done:      make(chan struct{}),
		stage:     StageIdle,
		createdAt: now,
		updatedAt: now,
	}
}

// Done is closed once the session's goroutine has exited
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session's goroutine exits or ctx is done
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) terminal() bool {
	return s.stage == StageTerminal
}

// Snapshot is an immutable copy of a session's state
type Snapshot struct {
	ID             string
	SurfaceID      string
	Seq            int64
	RetryOf        string
	Stage          Stage
	Text           string
	Query          string
	Engine         string
	Outcome        *Outcome
	LookupAttempts int
	Cached         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Terminal reports whether the session has reached an outcome
func (s Snapshot) Terminal() bool {
	return s.Stage == StageTerminal
}

// caller holds Coordinator.mu
func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:             s.ID,
		SurfaceID:      s.SurfaceID,
		Seq:            s.Seq,
		RetryOf:        s.retryOf,
		Stage:          s.stage,
		Query:          s.query.Normalized,
		Engine:         s.engine,
		LookupAttempts: s.attempts,
		Cached:         s.cached,
		CreatedAt:      s.createdAt,
		UpdatedAt:      s.updatedAt,
	}
	if s.text != nil {
		snap.Text = s.text.Text
	}
	if s.outcome != nil {
		o := *s.outcome
		snap.Outcome = &o
	}
	return snap
}

// caller holds Coordinator.mu
func (s *Session) record() *storage.SessionRecord {
	rec := &storage.SessionRecord{
		ID:        s.ID,
		SurfaceID: s.SurfaceID,
		Seq:       s.Seq,
		Stage:     s.stage.String(),
		Query:     s.query.Normalized,
		OCREngine: s.engine,
		Metadata: map[string]interface{}{
			"lookup_attempts": s.attempts,
			"cached":          s.cached,
		},
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
	if s.retryOf != "" {
		rec.Metadata["retry_of"] = s.retryOf
	}
	if s.text != nil {
		rec.RecognizedText = s.text.Text
	}
	if s.frame != nil {
		rec.Metadata["frame_format"] = s.frame.Format()
		rec.Metadata["frame_rotation"] = s.frame.Rotation()
	}

	if o := s.outcome; o != nil {
		rec.Outcome = string(o.Kind)
		if o.Card != nil {
			rec.CardID = o.Card.ID
			rec.CardName = o.Card.Name
			rec.CardURI = o.Card.ScryfallURI
		}
		if o.Failure != nil {
			rec.FailureKind = string(o.Failure.Kind)
			rec.StatusCode = o.Failure.StatusCode
		}
		if o.Err != nil {
			rec.ErrorCode = string(o.Err.Code)
			rec.ErrorMessage = o.Err.Error()
			rec.Metadata["error"] = o.Err.ToMap()
		}
	}
	return rec
}
