/**
 * Session Store for cardscan
 *
 * Persists every pipeline session (stage transitions and terminal outcome) to
 * PostgreSQL or SQLite so a surface's scan history survives restarts.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrSessionNotFound is returned when no session has the requested ID
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is one row of scan history
type SessionRecord struct {
	ID             string
	SurfaceID      string
	Seq            int64
	Stage          string
	Outcome        string // empty while the session is in flight
	RecognizedText string
	Query          string
	OCREngine      string
	CardID         string
	CardName       string
	CardURI        string
	FailureKind    string
	StatusCode     int
	ErrorCode      string
	ErrorMessage   string
	Metadata       map[string]interface{}
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SessionStore handles database operations for scan sessions
type SessionStore struct {
	db     *sql.DB
	driver string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cardscan_sessions (
	id              TEXT PRIMARY KEY,
	surface_id      TEXT NOT NULL,
	seq             INTEGER NOT NULL DEFAULT 0,
	stage           TEXT NOT NULL,
	outcome         TEXT NOT NULL DEFAULT '',
	recognized_text TEXT NOT NULL DEFAULT '',
	query           TEXT NOT NULL DEFAULT '',
	ocr_engine      TEXT NOT NULL DEFAULT '',
	card_id         TEXT NOT NULL DEFAULT '',
	card_name       TEXT NOT NULL DEFAULT '',
	card_uri        TEXT NOT NULL DEFAULT '',
	failure_kind    TEXT NOT NULL DEFAULT '',
	status_code     INTEGER NOT NULL DEFAULT 0,
	error_code      TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT '',
	metadata        TEXT NOT NULL DEFAULT '{}',
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cardscan_sessions_surface ON cardscan_sessions (surface_id, created_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS cardscan_sessions (
	id              UUID PRIMARY KEY,
	surface_id      TEXT NOT NULL,
	seq             BIGINT NOT NULL DEFAULT 0,
	stage           TEXT NOT NULL,
	outcome         TEXT NOT NULL DEFAULT '',
	recognized_text TEXT NOT NULL DEFAULT '',
	query           TEXT NOT NULL DEFAULT '',
	ocr_engine      TEXT NOT NULL DEFAULT '',
	card_id         TEXT NOT NULL DEFAULT '',
	card_name       TEXT NOT NULL DEFAULT '',
	card_uri        TEXT NOT NULL DEFAULT '',
	failure_kind    TEXT NOT NULL DEFAULT '',
	status_code     INTEGER NOT NULL DEFAULT 0,
	error_code      TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT '',
	metadata        JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cardscan_sessions_surface ON cardscan_sessions (surface_id, created_at);
`

// OpenSessionStore connects to the database. driver is "sqlite" or "postgres".
func OpenSessionStore(ctx context.Context, driver, databaseURL string) (*SessionStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	var sqlDriver string
	switch driver {
	case "sqlite", "sqlite3":
		driver, sqlDriver = "sqlite", "sqlite3"
	case "postgres", "postgresql":
		driver, sqlDriver = "postgres", "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite" {
		// One connection: SQLite serializes writers and ":memory:" is per connection.
		db.SetMaxOpenConns(1)
	} else {
		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(2 * time.Minute)
	}

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SessionStore{db: db, driver: driver}, nil
}

// EnsureSchema creates the sessions table if needed
func (s *SessionStore) EnsureSchema(ctx context.Context) error {
	schema := sqliteSchema
	if s.driver == "postgres" {
		schema = postgresSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// RecordSession inserts or updates a session row
func (s *SessionStore) RecordSession(ctx context.Context, rec *SessionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("session ID is required")
	}
	if rec.Stage == "" {
		return fmt.Errorf("stage is required")
	}

	now := time.Now().UTC()
	createdAt := rec.CreatedAt.UTC()
	if rec.CreatedAt.IsZero() {
		createdAt = now
	}
	updatedAt := rec.UpdatedAt.UTC()
	if rec.UpdatedAt.IsZero() {
		updatedAt = now
	}

	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	// Upsert: the first transition creates the row, later ones update it.
	query := s.rebind(`
		INSERT INTO cardscan_sessions (
			id, surface_id, seq, stage, outcome,
			recognized_text, query, ocr_engine,
			card_id, card_name, card_uri,
			failure_kind, status_code, error_code, error_message,
			metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			stage = excluded.stage,
			outcome = excluded.outcome,
			recognized_text = excluded.recognized_text,
			query = excluded.query,
			ocr_engine = excluded.ocr_engine,
			card_id = excluded.card_id,
			card_name = excluded.card_name,
			card_uri = excluded.card_uri,
			failure_kind = excluded.failure_kind,
			status_code = excluded.status_code,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`)

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.SurfaceID, rec.Seq, rec.Stage, rec.Outcome,
		rec.RecognizedText, rec.Query, rec.OCREngine,
		rec.CardID, rec.CardName, rec.CardURI,
		rec.FailureKind, rec.StatusCode, rec.ErrorCode, rec.ErrorMessage,
		string(metadataJSON), createdAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record session (session=%s, stage=%s): %w", rec.ID, rec.Stage, err)
	}

	return nil
}

const selectColumns = `
	id, surface_id, seq, stage, outcome,
	recognized_text, query, ocr_engine,
	card_id, card_name, card_uri,
	failure_kind, status_code, error_code, error_message,
	metadata, created_at, updated_at`

// GetSession retrieves a session by ID
func (s *SessionStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("session ID is required")
	}
	// Session IDs are UUIDs; Postgres rejects anything else as a query error
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+selectColumns+` FROM cardscan_sessions WHERE id = ?`), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return rec, nil
}

// ListRecent returns a surface's most recent sessions, newest first
func (s *SessionStore) ListRecent(ctx context.Context, surfaceID string, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+selectColumns+`
		FROM cardscan_sessions
		WHERE surface_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`), surfaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var records []*SessionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*SessionRecord, error) {
	var (
		rec          SessionRecord
		metadataJSON []byte
	)
	err := row.Scan(
		&rec.ID, &rec.SurfaceID, &rec.Seq, &rec.Stage, &rec.Outcome,
		&rec.RecognizedText, &rec.Query, &rec.OCREngine,
		&rec.CardID, &rec.CardName, &rec.CardURI,
		&rec.FailureKind, &rec.StatusCode, &rec.ErrorCode, &rec.ErrorMessage,
		&metadataJSON, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &rec, nil
}

// rebind rewrites "?" placeholders to "$1".."$n" for PostgreSQL
func (s *SessionStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Ping checks database connectivity
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SessionStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (s *SessionStore) GetStats() sql.DBStats {
	return s.db.Stats()
}
