package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BJohnRogers/FinalVision/internal/frame"
	"github.com/BJohnRogers/FinalVision/internal/pipeline"
	"github.com/BJohnRogers/FinalVision/internal/storage"
)

const healthCheckTimeout = 5 * time.Second

// SessionDTO is the API view of a session
type SessionDTO struct {
	ID             string      `json:"id"`
	SurfaceID      string      `json:"surfaceId"`
	Seq            int64       `json:"seq"`
	RetryOf        string      `json:"retryOf,omitempty"`
	Stage          string      `json:"stage"`
	Text           string      `json:"text,omitempty"`
	Query          string      `json:"query,omitempty"`
	Engine         string      `json:"engine,omitempty"`
	Outcome        *OutcomeDTO `json:"outcome,omitempty"`
	LookupAttempts int         `json:"lookupAttempts"`
	Cached         bool        `json:"cached"`
	CreatedAt      string      `json:"createdAt"`
	UpdatedAt      string      `json:"updatedAt"`
}

// OutcomeDTO is the API view of an outcome
type OutcomeDTO struct {
	Kind      string `json:"kind"`
	URI       string `json:"uri,omitempty"`
	CardName  string `json:"cardName,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
	Reason    string `json:"reason,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Retryable bool   `json:"retryable"`
}

// DisplayDTO is what a surface currently shows
type DisplayDTO struct {
	SessionID string      `json:"sessionId"`
	Seq       int64       `json:"seq"`
	Text      string      `json:"text,omitempty"`
	Query     string      `json:"query,omitempty"`
	Outcome   *OutcomeDTO `json:"outcome"`
	HasPhoto  bool        `json:"hasPhoto"`
	UpdatedAt string      `json:"updatedAt"`
}

// HistoryEntryDTO is one row of recorded history
type HistoryEntryDTO struct {
	ID           string `json:"id"`
	Seq          int64  `json:"seq"`
	Stage        string `json:"stage"`
	Outcome      string `json:"outcome,omitempty"`
	Query        string `json:"query,omitempty"`
	CardName     string `json:"cardName,omitempty"`
	CardURI      string `json:"cardUri,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

// handleCapture handles POST /v1/surfaces/{surface}/captures. The body is the
// encoded image; the outcome arrives through the surface's sink.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	surfaceID := chi.URLParam(r, "surface")

	rotation := 0
	if raw := r.URL.Query().Get("rotation"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || !frame.ValidRotation(v) {
			writeError(w, http.StatusBadRequest, "invalid rotation", frame.ErrInvalidRotation.Error())
			return
		}
		rotation = v
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxImageBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read image", err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "image body is required", "")
		return
	}

	session, err := s.surfaces.Trigger(surfaceID, frame.BytesSource{
		Name:     "upload to " + surfaceID,
		Data:     data,
		Rotation: rotation,
	})
	if err != nil {
		s.writeTriggerError(w, err)
		return
	}

	s.logger.Info("Capture accepted", "surface", surfaceID, "session", session.ID, "bytes", len(data))

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"sessionId": session.ID,
		"surfaceId": surfaceID,
		"seq":       session.Seq,
	})
}

// handleRetry handles POST /v1/surfaces/{surface}/retry
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	surfaceID := chi.URLParam(r, "surface")

	session, err := s.surfaces.Retry(surfaceID)
	if err != nil {
		s.writeTriggerError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"sessionId": session.ID,
		"surfaceId": surfaceID,
		"seq":       session.Seq,
	})
}

// handleDisplay handles GET /v1/surfaces/{surface}/display
func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	surfaceID := chi.URLParam(r, "surface")

	display, ok := s.surfaces.Current(surfaceID)
	if !ok {
		s.writePublishedDisplay(w, r, surfaceID)
		return
	}
	if display.Empty() {
		writeError(w, http.StatusNotFound, "nothing displayed", "")
		return
	}

	writeJSON(w, http.StatusOK, DisplayDTO{
		SessionID: display.SessionID,
		Seq:       display.Seq,
		Text:      display.Text,
		Query:     display.Query,
		Outcome:   toOutcomeDTO(&display.Outcome),
		HasPhoto:  display.Photo != nil,
		UpdatedAt: display.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// writePublishedDisplay answers /display for a surface with no live coordinator
// from the last outcome published to Redis. The photo is not kept there.
func (s *Server) writePublishedDisplay(w http.ResponseWriter, r *http.Request, surfaceID string) {
	if s.outcomes == nil {
		writeError(w, http.StatusNotFound, "nothing displayed", "")
		return
	}

	ev, err := s.outcomes.Latest(r.Context(), surfaceID)
	if err != nil {
		s.logger.Warn("Failed to read published outcome", "surface", surfaceID, "error", err.Error())
		writeError(w, http.StatusServiceUnavailable, "failed to read published outcome", err.Error())
		return
	}
	if ev == nil {
		writeError(w, http.StatusNotFound, "nothing displayed", "")
		return
	}

	writeJSON(w, http.StatusOK, DisplayDTO{
		SessionID: ev.SessionID,
		Seq:       ev.Seq,
		Text:      ev.Text,
		Query:     ev.Query,
		Outcome: &OutcomeDTO{
			Kind:      ev.Outcome,
			URI:       ev.URI,
			CardName:  ev.CardName,
			ImageURL:  ev.ImageURL,
			Reason:    ev.Reason,
			ErrorCode: ev.ErrorCode,
			Retryable: ev.Retryable,
		},
		UpdatedAt: ev.DeliveredAt,
	})
}

// handleHealth handles GET /health. Every configured check must pass for a 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("Health check failed", "check", name, "error", err.Error())
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	stats := make(map[string]interface{}, len(s.stats))
	for name, fn := range s.stats {
		v, err := fn(ctx)
		if err != nil {
			stats[name] = map[string]string{"error": err.Error()}
			continue
		}
		stats[name] = v
	}

	body := map[string]interface{}{
		"status":  "healthy",
		"service": "cardscan",
	}
	if status != http.StatusOK {
		body["status"] = "unhealthy"
	}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	if len(stats) > 0 {
		body["stats"] = stats
	}
	writeJSON(w, status, body)
}

// handlePhoto handles GET /v1/surfaces/{surface}/display/photo
func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	display, ok := s.surfaces.Current(chi.URLParam(r, "surface"))
	if !ok || display.Photo == nil {
		writeError(w, http.StatusNotFound, "no photo displayed", "")
		return
	}

	w.Header().Set("Content-Type", display.Photo.ContentType())
	w.Header().Set("X-Rotation", strconv.Itoa(display.Photo.Rotation()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(display.Photo.Pixels())
}

// handleSession handles GET /v1/surfaces/{surface}/sessions/{id}. Recent sessions
// come from memory; older ones from history when it is configured.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	surfaceID := chi.URLParam(r, "surface")
	sessionID := chi.URLParam(r, "id")

	if snap, ok := s.surfaces.Snapshot(surfaceID, sessionID); ok {
		writeJSON(w, http.StatusOK, toSessionDTO(snap))
		return
	}

	if s.history != nil {
		rec, err := s.history.GetSession(r.Context(), sessionID)
		if err == nil && rec.SurfaceID == surfaceID {
			writeJSON(w, http.StatusOK, toHistoryEntryDTO(rec))
			return
		}
		if err != nil && !stderrors.Is(err, storage.ErrSessionNotFound) {
			writeError(w, http.StatusInternalServerError, "failed to read session", err.Error())
			return
		}
	}

	writeError(w, http.StatusNotFound, "session not found", "")
}

// handleHistory handles GET /v1/surfaces/{surface}/history?limit=N
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is not enabled", "")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500", "")
			return
		}
		limit = v
	}

	records, err := s.history.ListRecent(r.Context(), chi.URLParam(r, "surface"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list history", err.Error())
		return
	}

	entries := make([]HistoryEntryDTO, 0, len(records))
	for _, rec := range records {
		entries = append(entries, toHistoryEntryDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": entries})
}

func (s *Server) writeTriggerError(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, pipeline.ErrNothingToRetry):
		writeError(w, http.StatusConflict, "nothing to retry", err.Error())
	case stderrors.Is(err, pipeline.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "pipeline is shutting down", err.Error())
	case stderrors.Is(err, pipeline.ErrTooManySurfaces):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, "too many active surfaces", err.Error())
	default:
		writeError(w, http.StatusBadRequest, "capture rejected", err.Error())
	}
}

func toOutcomeDTO(o *pipeline.Outcome) *OutcomeDTO {
	if o == nil || o.Kind == "" {
		return nil
	}
	dto := &OutcomeDTO{
		Kind:      string(o.Kind),
		URI:       o.URI,
		Retryable: o.Retryable(),
	}
	if o.Kind != pipeline.OutcomeNavigate {
		dto.Reason = o.Reason()
	}
	if o.Card != nil {
		dto.CardName = o.Card.Name
		dto.ImageURL = o.Card.ImageURL()
	}
	if o.Err != nil {
		dto.ErrorCode = string(o.Err.Code)
	}
	return dto
}

func toSessionDTO(snap pipeline.Snapshot) SessionDTO {
	return SessionDTO{
		ID:             snap.ID,
		SurfaceID:      snap.SurfaceID,
		Seq:            snap.Seq,
		RetryOf:        snap.RetryOf,
		Stage:          snap.Stage.String(),
		Text:           snap.Text,
		Query:          snap.Query,
		Engine:         snap.Engine,
		Outcome:        toOutcomeDTO(snap.Outcome),
		LookupAttempts: snap.LookupAttempts,
		Cached:         snap.Cached,
		CreatedAt:      snap.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toHistoryEntryDTO(rec *storage.SessionRecord) HistoryEntryDTO {
	return HistoryEntryDTO{
		ID:           rec.ID,
		Seq:          rec.Seq,
		Stage:        rec.Stage,
		Outcome:      rec.Outcome,
		Query:        rec.Query,
		CardName:     rec.CardName,
		CardURI:      rec.CardURI,
		ErrorCode:    rec.ErrorCode,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}
