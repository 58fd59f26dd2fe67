/**
 * Pipeline Coordinator
 *
 * Runs capture -> text extraction -> query building -> card lookup for one
 * surface. At most one session is in flight; triggering a new capture cancels
 * the previous session and marks it Cancelled before the new one starts.
 *
 * Every state change happens under mu and is dropped once the session is
 * terminal. Outcomes are handed to a single dispatcher goroutine while mu is
 * held, so the sink sees them in capture order and never sees a stale one.
 */

package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/BJohnRogers/FinalVision/internal/errors"
	"github.com/BJohnRogers/FinalVision/internal/frame"
	"github.com/BJohnRogers/FinalVision/internal/logging"
	"github.com/BJohnRogers/FinalVision/internal/lookup"
	"github.com/BJohnRogers/FinalVision/internal/ocr"
	"github.com/BJohnRogers/FinalVision/internal/query"
	"github.com/BJohnRogers/FinalVision/internal/storage"
)

var (
	// ErrClosed is returned by Trigger and Retry after Close
	ErrClosed = stderrors.New("pipeline: coordinator closed")
	// ErrNothingToRetry is returned by Retry when the latest session did not end in LookupFailed
	ErrNothingToRetry = stderrors.New("pipeline: no failed lookup to retry")
)

const (
	defaultRetryBackoff    = 500 * time.Millisecond
	defaultMaxRetryBackoff = 4 * time.Second
	recordTimeout          = 5 * time.Second
	recentSessions         = 32
)

// Recorder persists session state. Calls arrive in transition order.
type Recorder interface {
	RecordSession(ctx context.Context, rec *storage.SessionRecord) error
}

// Config holds coordinator dependencies and settings
type Config struct {
	SurfaceID string
	Extractor ocr.Extractor
	Resolver  lookup.Resolver
	Sink      Sink

	// BuildQuery defaults to query.Build
	BuildQuery func(*ocr.ExtractedText) (query.LookupQuery, error)
	// Recorder is optional
	Recorder Recorder

	// LookupRetries is the number of extra attempts after a transport failure
	LookupRetries   int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// Coordinator owns the sessions of one surface
type Coordinator struct {
	cfg    Config
	logger *logging.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	current *Session
	recent  []*Session
	seq     int64
	display Display
	closed  bool
	created time.Time

	wg         sync.WaitGroup
	deliveries *dispatcher
	records    *dispatcher
}

// NewCoordinator creates a coordinator for cfg.SurfaceID
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.SurfaceID == "" {
		cfg.SurfaceID = "default"
	}
	if cfg.BuildQuery == nil {
		cfg.BuildQuery = query.Build
	}
	if cfg.LookupRetries < 0 {
		cfg.LookupRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = defaultMaxRetryBackoff
	}

	logger := logging.NewLogger("Pipeline").With("surface", cfg.SurfaceID)
	baseCtx, baseCancel := context.WithCancel(context.Background())

	return &Coordinator{
		cfg:        cfg,
		logger:     logger,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		created:    time.Now(),
		deliveries: newDispatcher("deliveries", logger),
		records:    newDispatcher("records", logger),
	}, nil
}

// SurfaceID returns the surface this coordinator serves
func (c *Coordinator) SurfaceID() string {
	return c.cfg.SurfaceID
}

// Trigger supersedes any in-flight session and starts a new one that captures
// from src. It returns as soon as the session has entered Extracting.
func (c *Coordinator) Trigger(src frame.Source) (*Session, error) {
	if src == nil {
		return nil, fmt.Errorf("frame source is required")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	c.seq++
	s := newSession(c.cfg.SurfaceID, c.seq)
	s.engine = c.cfg.Extractor.Engine()
	ctx := c.startLocked(s)
	c.transitionLocked(s, StageExtracting)
	c.mu.Unlock()

	c.logger.Printf("[Session %s] Capture %d triggered", s.ID, s.Seq)

	go c.run(ctx, s, src)
	return s, nil
}

// Retry re-runs the lookup of the latest session when it ended in LookupFailed.
// The new session reuses that session's text and query and starts at LookingUp.
func (c *Coordinator) Retry() (*Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	prev := c.current
	if prev == nil || !prev.terminal() || prev.outcome == nil || !prev.outcome.Retryable() {
		c.mu.Unlock()
		return nil, ErrNothingToRetry
	}

	c.seq++
	s := newSession(c.cfg.SurfaceID, c.seq)
	s.retryOf = prev.ID
	s.engine = prev.engine
	s.frame = prev.frame
	s.text = prev.text
	s.query = prev.query
	ctx := c.startLocked(s)
	c.transitionLocked(s, StageLookingUp)
	q := s.query
	c.mu.Unlock()

	c.logger.Printf("[Session %s] Retrying lookup of session %s (query=%q)", s.ID, prev.ID, q.Normalized)

	go c.runRetry(ctx, s, q)
	return s, nil
}

// startLocked cancels the in-flight session, installs s as current and returns
// the context s runs under. Caller holds mu.
func (c *Coordinator) startLocked(s *Session) context.Context {
	if prev := c.current; prev != nil && !prev.terminal() {
		c.cancelLocked(prev, s.ID)
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	s.cancel = cancel
	c.current = s

	c.recent = append(c.recent, s)
	if len(c.recent) > recentSessions {
		c.recent[0] = nil
		c.recent = c.recent[1:]
	}

	c.wg.Add(1)
	return ctx
}

// cancelLocked aborts s and marks it Cancelled. Nothing is delivered. Caller holds mu.
func (c *Coordinator) cancelLocked(s *Session, supersededBy string) {
	s.cancel()
	outcome := Cancelled(s.ID, supersededBy)
	s.outcome = &outcome
	c.transitionLocked(s, StageTerminal)

	c.logger.Info("Session cancelled", "session", s.ID, "seq", s.Seq, "supersededBy", supersededBy)
}

// transitionLocked moves s to stage and queues a history record. Caller holds mu.
func (c *Coordinator) transitionLocked(s *Session, stage Stage) {
	s.stage = stage
	s.updatedAt = time.Now()

	if c.cfg.Recorder == nil {
		return
	}
	rec := s.record()
	c.records.enqueue(func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := c.cfg.Recorder.RecordSession(ctx, rec); err != nil {
			c.logger.Warn("Failed to record session", "session", rec.ID, "stage", rec.Stage, "error", err.Error())
		}
	})
}

// advance applies mutate and moves s to stage unless s is already terminal
func (c *Coordinator) advance(s *Session, stage Stage, mutate func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.terminal() {
		return false
	}
	if mutate != nil {
		mutate()
	}
	if stage != s.stage {
		c.transitionLocked(s, stage)
	}
	return true
}

// finish makes outcome terminal for s and, if s is still current, delivers it.
// A session that is already terminal keeps its first outcome.
func (c *Coordinator) finish(s *Session, outcome Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.terminal() {
		c.logger.Debug("Dropping outcome of finished session", "session", s.ID, "outcome", string(outcome.Kind))
		return
	}

	s.outcome = &outcome
	c.transitionLocked(s, StageTerminal)

	if c.current != s || outcome.Kind == OutcomeCancelled {
		return
	}

	d := Delivery{
		SurfaceID:   s.SurfaceID,
		SessionID:   s.ID,
		Seq:         s.Seq,
		Outcome:     outcome,
		Query:       s.query.Normalized,
		DeliveredAt: time.Now(),
	}
	if s.text != nil {
		d.Text = s.text.Text
	}

	c.display = Display{
		SessionID: s.ID,
		Seq:       s.Seq,
		Text:      d.Text,
		Query:     d.Query,
		Outcome:   outcome,
		Card:      outcome.Card,
		Photo:     s.frame,
		UpdatedAt: d.DeliveredAt,
	}

	c.logger.Printf("[Session %s] Outcome: %s (%s)", s.ID, outcome.Kind, outcome.Reason())

	sink := c.cfg.Sink
	c.deliveries.enqueue(func() { sink.Deliver(d) })
}

// abandon marks s Cancelled when its context ended without a supersession, e.g. on Close
func (c *Coordinator) abandon(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !s.terminal() {
		c.cancelLocked(s, "")
	}
}

func (c *Coordinator) run(ctx context.Context, s *Session, src frame.Source) {
	defer c.wg.Done()
	defer close(s.done)
	defer s.cancel()

	// Step 1: Capture
	c.logger.Printf("[Session %s] Step 1: Capturing frame", s.ID)
	f, err := src.Capture(ctx)
	if ctx.Err() != nil {
		c.abandon(s)
		return
	}
	if err != nil {
		c.finish(s, Failed(errors.NewCaptureError(s.ID, err)))
		return
	}
	if !c.advance(s, StageExtracting, func() { s.frame = f }) {
		return
	}

	// Step 2: Text extraction (suspend point)
	c.logger.Printf("[Session %s] Step 2: Extracting text (%d bytes, %s, rotation %d, engine %s)",
		s.ID, f.Size(), f.Format(), f.Rotation(), s.engine)
	text, err := c.extract(ctx, f)
	if ctx.Err() != nil {
		c.abandon(s)
		return
	}
	if err != nil {
		c.finish(s, Failed(errors.NewExtractionError(s.ID, s.engine, err)))
		return
	}
	if text.Empty() {
		c.advance(s, StageExtracting, func() { s.text = text })
		c.finish(s, NoTextFound(s.ID))
		return
	}

	// Step 3: Query building
	if !c.advance(s, StageQueryBuilding, func() { s.text = text }) {
		return
	}
	c.logger.Printf("[Session %s] Step 3: Building query from %d text blocks", s.ID, len(text.Blocks))
	q, err := c.cfg.BuildQuery(text)
	if err != nil {
		if !stderrors.Is(err, query.ErrEmpty) {
			c.logger.Warn("Query builder failed", "session", s.ID, "error", err.Error())
		}
		c.finish(s, NoTextFound(s.ID))
		return
	}
	if !c.advance(s, StageLookingUp, func() { s.query = q }) {
		return
	}

	c.lookupAndFinish(ctx, s, q)
}

func (c *Coordinator) runRetry(ctx context.Context, s *Session, q query.LookupQuery) {
	defer c.wg.Done()
	defer close(s.done)
	defer s.cancel()

	c.lookupAndFinish(ctx, s, q)
}

// lookupAndFinish is Step 4. Retry sessions start here.
func (c *Coordinator) lookupAndFinish(ctx context.Context, s *Session, q query.LookupQuery) {
	c.logger.Printf("[Session %s] Step 4: Looking up %q", s.ID, q.Normalized)
	result := c.lookup(ctx, s, q)
	if ctx.Err() != nil {
		c.abandon(s)
		return
	}

	if result.OK() {
		c.advance(s, StageLookingUp, func() { s.cached = result.Cached })
		c.finish(s, Navigate(result.Card))
		return
	}
	c.finish(s, LookupFailed(s.ID, result.Failure))
}

type extraction struct {
	text *ocr.ExtractedText
	err  error
}

// extract runs the extractor on its own goroutine and waits for exactly one
// result or for ctx to end. A panic inside the engine becomes an error.
func (c *Coordinator) extract(ctx context.Context, f *frame.Frame) (*ocr.ExtractedText, error) {
	ch := make(chan extraction, 1)
	extractor := c.cfg.Extractor

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- extraction{err: fmt.Errorf("%s extractor panicked: %v", extractor.Engine(), r)}
			}
		}()
		text, err := extractor.Extract(ctx, f)
		if err == nil && text == nil {
			text = ocr.NewExtractedText(nil)
		}
		ch <- extraction{text: text, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.text, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookup calls the resolver, retrying transport failures with exponential
// backoff up to cfg.LookupRetries extra times.
func (c *Coordinator) lookup(ctx context.Context, s *Session, q query.LookupQuery) lookup.Result {
	backoff := c.cfg.RetryBackoff

	for attempt := 1; ; attempt++ {
		if !c.advance(s, StageLookingUp, func() { s.attempts = attempt }) {
			return lookup.Failed(&lookup.Failure{Kind: lookup.FailureTransport, Cause: context.Canceled})
		}

		result := c.cfg.Resolver.Lookup(ctx, q)
		if result.Card == nil && result.Failure == nil {
			result = lookup.Failed(&lookup.Failure{
				Kind:  lookup.FailureMalformedResponse,
				Cause: stderrors.New("resolver returned neither card nor failure"),
			})
		}
		if result.OK() {
			return result
		}

		if result.Failure.Kind != lookup.FailureTransport || attempt > c.cfg.LookupRetries || ctx.Err() != nil {
			return result
		}

		c.logger.Printf("[Session %s] Lookup attempt %d failed: %v. Retrying in %s...", s.ID, attempt, result.Failure, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return result
		}

		backoff *= 2
		if backoff > c.cfg.MaxRetryBackoff {
			backoff = c.cfg.MaxRetryBackoff
		}
	}
}

// Current returns the currently displayed result
func (c *Coordinator) Current() Display {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.display
}

// Snapshot returns the state of a recent session. An empty id means the latest.
func (c *Coordinator) Snapshot(id string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id == "" {
		if c.current == nil {
			return Snapshot{}, false
		}
		return c.current.snapshot(), true
	}
	for i := len(c.recent) - 1; i >= 0; i-- {
		if c.recent[i].ID == id {
			return c.recent[i].snapshot(), true
		}
	}
	return Snapshot{}, false
}

// idleSince reports when the coordinator last changed state. busy is true while a
// session is in flight.
func (c *Coordinator) idleSince() (since time.Time, busy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return c.created, false
	}
	if !c.current.terminal() {
		return time.Time{}, true
	}
	return c.current.updatedAt, false
}

// Close cancels the in-flight session, waits for session goroutines and drains
// queued deliveries and records. It must not be called from a Sink.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if cur := c.current; cur != nil && !cur.terminal() {
		c.cancelLocked(cur, "")
	}
	c.baseCancel()
	c.mu.Unlock()

	c.wg.Wait()
	c.deliveries.close()
	c.records.close()
}
