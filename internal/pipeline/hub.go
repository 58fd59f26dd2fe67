package pipeline

import (
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BJohnRogers/FinalVision/internal/frame"
	"github.com/BJohnRogers/FinalVision/internal/logging"
)

// ErrTooManySurfaces is returned when a new surface would exceed the hub's limit
var ErrTooManySurfaces = stderrors.New("pipeline: too many active surfaces")

// HubOption configures a Hub
type HubOption func(*Hub)

// WithMaxSurfaces caps the number of live coordinators. Zero means no cap.
func WithMaxSurfaces(n int) HubOption {
	return func(h *Hub) { h.maxSurfaces = n }
}

// WithIdleTimeout closes coordinators that have had no session in flight for d.
// The sweep runs every d/2. Zero disables it.
func WithIdleTimeout(d time.Duration) HubOption {
	return func(h *Hub) { h.idleTimeout = d }
}

// Hub owns one Coordinator per surface. Surfaces are independent: a capture on
// one never cancels or delays another.
type Hub struct {
	template    Config
	maxSurfaces int
	idleTimeout time.Duration
	logger      *logging.Logger

	mu           sync.Mutex
	coordinators map[string]*Coordinator
	closed       bool

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewHub creates a hub whose coordinators share template's dependencies.
// template.SurfaceID is ignored.
func NewHub(template Config, opts ...HubOption) (*Hub, error) {
	if template.Extractor == nil || template.Resolver == nil || template.Sink == nil {
		return nil, fmt.Errorf("extractor, resolver and sink are required")
	}
	h := &Hub{
		template:     template,
		logger:       logging.NewLogger("Hub"),
		coordinators: make(map[string]*Coordinator),
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.idleTimeout > 0 {
		h.stopSweep = make(chan struct{})
		h.sweepDone = make(chan struct{})
		go h.sweep()
	}
	return h, nil
}

// Coordinator returns the surface's coordinator, creating it on first use
func (h *Hub) Coordinator(surfaceID string) (*Coordinator, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.coordinatorLocked(surfaceID)
}

func (h *Hub) coordinatorLocked(surfaceID string) (*Coordinator, error) {
	if surfaceID == "" {
		return nil, fmt.Errorf("surface ID is required")
	}
	if h.closed {
		return nil, ErrClosed
	}
	if c, ok := h.coordinators[surfaceID]; ok {
		return c, nil
	}
	if h.maxSurfaces > 0 && len(h.coordinators) >= h.maxSurfaces {
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManySurfaces, h.maxSurfaces)
	}

	cfg := h.template
	cfg.SurfaceID = surfaceID
	c, err := NewCoordinator(cfg)
	if err != nil {
		return nil, err
	}
	h.coordinators[surfaceID] = c
	return c, nil
}

// Lookup returns the surface's coordinator without creating one
func (h *Hub) Lookup(surfaceID string) (*Coordinator, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.coordinators[surfaceID]
	return c, ok
}

// Trigger starts a capture on the surface. Holding mu keeps the eviction sweep
// from closing the coordinator between lookup and trigger.
func (h *Hub) Trigger(surfaceID string, src frame.Source) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, err := h.coordinatorLocked(surfaceID)
	if err != nil {
		return nil, err
	}
	return c.Trigger(src)
}

// Retry retries the surface's last failed lookup
func (h *Hub) Retry(surfaceID string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.coordinators[surfaceID]
	if !ok {
		return nil, ErrNothingToRetry
	}
	return c.Retry()
}

// Surfaces lists the known surface IDs in sorted order
func (h *Hub) Surfaces() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.coordinators))
	for id := range h.coordinators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EvictIdle closes every coordinator with no session in flight whose last state
// change is older than maxIdle, and returns how many were closed. An evicted
// surface starts over on its next capture.
func (h *Hub) EvictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	h.mu.Lock()
	var evicted []*Coordinator
	for id, c := range h.coordinators {
		since, busy := c.idleSince()
		if busy || since.After(cutoff) {
			continue
		}
		delete(h.coordinators, id)
		evicted = append(evicted, c)
	}
	h.mu.Unlock()

	closeAll(evicted)
	if len(evicted) > 0 {
		h.logger.Debug("Evicted idle surfaces", "count", len(evicted), "maxIdle", maxIdle)
	}
	return len(evicted)
}

func (h *Hub) sweep() {
	defer close(h.sweepDone)

	interval := h.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.EvictIdle(h.idleTimeout)
		case <-h.stopSweep:
			return
		}
	}
}

// Close stops the sweep and closes every coordinator
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	coordinators := make([]*Coordinator, 0, len(h.coordinators))
	for _, c := range h.coordinators {
		coordinators = append(coordinators, c)
	}
	h.mu.Unlock()

	if h.stopSweep != nil {
		close(h.stopSweep)
		<-h.sweepDone
	}
	closeAll(coordinators)
}

func closeAll(coordinators []*Coordinator) {
	var wg sync.WaitGroup
	for _, c := range coordinators {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()
}

// Snapshot returns a recent session of the surface
func (h *Hub) Snapshot(surfaceID, sessionID string) (Snapshot, bool) {
	c, ok := h.Lookup(surfaceID)
	if !ok {
		return Snapshot{}, false
	}
	return c.Snapshot(sessionID)
}

// Current returns the surface's displayed result
func (h *Hub) Current(surfaceID string) (Display, bool) {
	c, ok := h.Lookup(surfaceID)
	if !ok {
		return Display{}, false
	}
	return c.Current(), true
}
