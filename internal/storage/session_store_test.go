package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	s, err := OpenSessionStore(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordSessionUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := uuid.NewString()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordSession(ctx, &SessionRecord{
		ID:        id,
		SurfaceID: "kiosk-1",
		Seq:       1,
		Stage:     "extracting",
		CreatedAt: created,
		UpdatedAt: created,
	}))

	require.NoError(t, s.RecordSession(ctx, &SessionRecord{
		ID:             id,
		SurfaceID:      "kiosk-1",
		Seq:            1,
		Stage:          "terminal",
		Outcome:        "navigate",
		RecognizedText: "Lightning Bolt",
		Query:          "Lightning Bolt",
		OCREngine:      "tesseract",
		CardID:         "ce711943",
		CardName:       "Lightning Bolt",
		CardURI:        "https://scryfall.com/card/lea/161",
		Metadata:       map[string]interface{}{"cached": true},
		CreatedAt:      created,
		UpdatedAt:      created.Add(time.Second),
	}))

	rec, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "terminal", rec.Stage)
	assert.Equal(t, "navigate", rec.Outcome)
	assert.Equal(t, "https://scryfall.com/card/lea/161", rec.CardURI)
	assert.Equal(t, true, rec.Metadata["cached"])
	assert.True(t, rec.CreatedAt.Equal(created))
	assert.True(t, rec.UpdatedAt.Equal(created.Add(time.Second)))
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = s.GetSession(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRecordSessionValidation(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.RecordSession(context.Background(), &SessionRecord{Stage: "extracting"}))
	assert.Error(t, s.RecordSession(context.Background(), &SessionRecord{ID: uuid.NewString()}))
}

func TestListRecent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.RecordSession(ctx, &SessionRecord{
			ID:        uuid.NewString(),
			SurfaceID: "kiosk-1",
			Seq:       int64(i),
			Stage:     "terminal",
			Outcome:   "no_text_found",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.RecordSession(ctx, &SessionRecord{
		ID:        uuid.NewString(),
		SurfaceID: "kiosk-2",
		Seq:       1,
		Stage:     "terminal",
		CreatedAt: base,
	}))

	recs, err := s.ListRecent(ctx, "kiosk-1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(3), recs[0].Seq)
	assert.Equal(t, int64(2), recs[1].Seq)

	recs, err = s.ListRecent(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRebind(t *testing.T) {
	pg := &SessionStore{driver: "postgres"}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &SessionStore{driver: "sqlite"}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestOpenSessionStoreErrors(t *testing.T) {
	_, err := OpenSessionStore(context.Background(), "mysql", "root@/db")
	assert.Error(t, err)

	_, err = OpenSessionStore(context.Background(), "sqlite", "")
	assert.Error(t, err)
}

func TestPostgresSessionStore(t *testing.T) {
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := OpenSessionStore(ctx, "postgres", databaseURL)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureSchema(ctx))

	id := uuid.NewString()
	require.NoError(t, s.RecordSession(ctx, &SessionRecord{ID: id, SurfaceID: "pg", Stage: "terminal", Outcome: "navigate"}))
	rec, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "navigate", rec.Outcome)

	_, err = s.GetSession(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPingAndStats(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
	assert.GreaterOrEqual(t, s.GetStats().OpenConnections, 1)

	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}
