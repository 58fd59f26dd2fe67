// Package api exposes the capture pipeline to remote surfaces over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BJohnRogers/FinalVision/internal/frame"
	"github.com/BJohnRogers/FinalVision/internal/logging"
	"github.com/BJohnRogers/FinalVision/internal/pipeline"
	"github.com/BJohnRogers/FinalVision/internal/queue"
	"github.com/BJohnRogers/FinalVision/internal/storage"
)

// DefaultMaxImageBytes bounds an uploaded capture
const DefaultMaxImageBytes = 20 << 20

// Surfaces is the pipeline side of the API. pipeline.Hub implements it.
type Surfaces interface {
	Trigger(surfaceID string, src frame.Source) (*pipeline.Session, error)
	Retry(surfaceID string) (*pipeline.Session, error)
	Current(surfaceID string) (pipeline.Display, bool)
	Snapshot(surfaceID, sessionID string) (pipeline.Snapshot, bool)
}

// History lists recorded sessions. storage.SessionStore implements it.
type History interface {
	ListRecent(ctx context.Context, surfaceID string, limit int) ([]*storage.SessionRecord, error)
	GetSession(ctx context.Context, id string) (*storage.SessionRecord, error)
}

// Outcomes holds the last published outcome per surface. queue.RedisSink
// implements it. Latest returns nil when the surface has none.
type Outcomes interface {
	Latest(ctx context.Context, surfaceID string) (*queue.OutcomeEvent, error)
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// StatsFunc reports a component's counters for /health
type StatsFunc func(ctx context.Context) (interface{}, error)

// Config holds server dependencies
type Config struct {
	Surfaces       Surfaces
	History        History  // optional; history routes answer 404 without it
	Outcomes       Outcomes // optional; /display falls back to it for surfaces with no live state
	HealthChecks   map[string]HealthCheck
	Stats          map[string]StatsFunc
	RequestTimeout time.Duration
	MaxImageBytes  int64
}

// Server serves the surface API
type Server struct {
	surfaces      Surfaces
	history       History
	outcomes      Outcomes
	checks        map[string]HealthCheck
	stats         map[string]StatsFunc
	timeout       time.Duration
	maxImageBytes int64
	logger        *logging.Logger
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	return &Server{
		surfaces:      cfg.Surfaces,
		history:       cfg.History,
		outcomes:      cfg.Outcomes,
		checks:        cfg.HealthChecks,
		stats:         cfg.Stats,
		timeout:       cfg.RequestTimeout,
		maxImageBytes: cfg.MaxImageBytes,
		logger:        logging.NewLogger("API"),
	}
}

// Router builds the route tree
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(s.timeout))

	r.Get("/health", s.handleHealth)

	r.Route("/v1/surfaces/{surface}", func(r chi.Router) {
		r.Post("/captures", s.handleCapture)
		r.Post("/retry", s.handleRetry)
		r.Get("/display", s.handleDisplay)
		r.Get("/display/photo", s.handlePhoto)
		r.Get("/sessions/{id}", s.handleSession)
		r.Get("/history", s.handleHistory)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"requestId", chimiddleware.GetReqID(r.Context()))
	})
}
