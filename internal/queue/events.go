package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BJohnRogers/FinalVision/internal/logging"
	"github.com/BJohnRogers/FinalVision/internal/pipeline"
)

const (
	// DefaultEventsChannel is where outcome events are published
	DefaultEventsChannel = "cardscan:events"

	// DefaultOutcomesKey is the hash holding each surface's latest outcome
	DefaultOutcomesKey = "cardscan:outcomes"

	publishTimeout = 2 * time.Second
)

// OutcomeEvent is the wire form of a delivery
type OutcomeEvent struct {
	Event       string `json:"event"`
	SurfaceID   string `json:"surfaceId"`
	SessionID   string `json:"sessionId"`
	Seq         int64  `json:"seq"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason,omitempty"`
	URI         string `json:"uri,omitempty"`
	CardName    string `json:"cardName,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	ErrorCode   string `json:"errorCode,omitempty"`
	Retryable   bool   `json:"retryable"`
	Text        string `json:"text,omitempty"`
	Query       string `json:"query,omitempty"`
	DeliveredAt string `json:"deliveredAt"`
}

// NewOutcomeEvent converts a delivery to its published form
func NewOutcomeEvent(d pipeline.Delivery) OutcomeEvent {
	ev := OutcomeEvent{
		Event:       "outcome:" + string(d.Outcome.Kind),
		SurfaceID:   d.SurfaceID,
		SessionID:   d.SessionID,
		Seq:         d.Seq,
		Outcome:     string(d.Outcome.Kind),
		URI:         d.Outcome.URI,
		Retryable:   d.Outcome.Retryable(),
		Text:        d.Text,
		Query:       d.Query,
		DeliveredAt: d.DeliveredAt.UTC().Format(time.RFC3339Nano),
	}
	if d.Outcome.Kind != pipeline.OutcomeNavigate {
		ev.Reason = d.Outcome.Reason()
	}
	if card := d.Outcome.Card; card != nil {
		ev.CardName = card.Name
		ev.ImageURL = card.ImageURL()
	}
	if d.Outcome.Err != nil {
		ev.ErrorCode = string(d.Outcome.Err.Code)
	}
	return ev
}

// RedisSink publishes deliveries for remote surfaces. It implements pipeline.Sink.
type RedisSink struct {
	client      *redis.Client
	channel     string
	outcomesKey string
	logger      *logging.Logger
}

// NewRedisSink creates a sink on a shared client
func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{
		client:      client,
		channel:     DefaultEventsChannel,
		outcomesKey: DefaultOutcomesKey,
		logger:      logging.NewLogger("RedisSink"),
	}
}

// Deliver publishes the outcome event and stores it as the surface's latest.
// Failures are logged; the pipeline never waits on a surface.
func (s *RedisSink) Deliver(d pipeline.Delivery) {
	data, err := json.Marshal(NewOutcomeEvent(d))
	if err != nil {
		s.logger.Error("Failed to marshal outcome event", "session", d.SessionID, "error", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.outcomesKey, d.SurfaceID, data)
	pipe.Publish(ctx, s.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("Failed to publish outcome event",
			"surface", d.SurfaceID,
			"session", d.SessionID,
			"error", err.Error())
	}
}

// Latest returns the stored outcome event for a surface, or nil when the
// surface has never published one
func (s *RedisSink) Latest(ctx context.Context, surfaceID string) (*OutcomeEvent, error) {
	data, err := s.client.HGet(ctx, s.outcomesKey, surfaceID).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read outcome for %s: %w", surfaceID, err)
	}
	var ev OutcomeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
