// Package tracker persists execution records and streaming events in
// SQLite. The engine treats this as best-effort: tracker failures are
// logged upstream and never abort a query cycle.
package tracker

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"deskpilot/internal/domain"
)

// SQLiteTracker implements domain.ExecutionTracker using SQLite.
type SQLiteTracker struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewSQLiteTracker opens (or creates) a SQLite database at dbPath and runs
// the schema migration.
func NewSQLiteTracker(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}
	return &SQLiteTracker{
		db:      db,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id             TEXT PRIMARY KEY,
			tool_name      TEXT NOT NULL,
			integration_id TEXT NOT NULL,
			session_id     TEXT NOT NULL,
			user_id        TEXT NOT NULL,
			parameters     TEXT NOT NULL DEFAULT '{}',
			success        INTEGER,
			result_data    TEXT,
			error_message  TEXT,
			execution_ms   INTEGER,
			started_at     TEXT NOT NULL,
			completed_at   TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_executions_session ON executions(session_id);

		CREATE TABLE IF NOT EXISTS execution_events (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			event_type   TEXT NOT NULL,
			message      TEXT NOT NULL,
			data         TEXT,
			created_at   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_execution_events_exec ON execution_events(execution_id);

		CREATE TABLE IF NOT EXISTS streaming_events (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			event_type TEXT NOT NULL,
			content    TEXT,
			data       TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_streaming_events_session ON streaming_events(session_id);
	`)
	return err
}

// Close closes the underlying database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}

func (t *SQLiteTracker) newID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), t.entropy).String()
}

func (t *SQLiteTracker) StartExecution(_ context.Context, toolName, integrationID, sessionID, userID string, params map[string]any) (string, error) {
	id := t.newID()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		paramsJSON = []byte("{}")
	}
	_, err = t.db.Exec(`
		INSERT INTO executions (id, tool_name, integration_id, session_id, user_id, parameters, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, toolName, integrationID, sessionID, userID, string(paramsJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", domain.NewDomainError("tracker.StartExecution", domain.ErrTrackerWrite, err.Error())
	}
	return id, nil
}

// CompleteExecution closes the record at most once: the guard on
// completed_at makes a second call for the same execution a no-op, so the
// completed_at timestamp never moves once set.
func (t *SQLiteTracker) CompleteExecution(_ context.Context, executionID string, result domain.ExecutionResult) error {
	var dataJSON []byte
	if result.Data != nil {
		dataJSON, _ = json.Marshal(result.Data)
	}
	_, err := t.db.Exec(`
		UPDATE executions
		SET success = ?, result_data = ?, error_message = ?, execution_ms = ?, completed_at = ?
		WHERE id = ? AND completed_at IS NULL`,
		boolToInt(result.Success), nullableString(dataJSON), result.Error,
		result.ExecutionTime.Milliseconds(),
		time.Now().UTC().Format(time.RFC3339Nano),
		executionID,
	)
	if err != nil {
		return domain.NewDomainError("tracker.CompleteExecution", domain.ErrTrackerWrite, err.Error())
	}
	return nil
}

func (t *SQLiteTracker) LogEvent(_ context.Context, executionID string, event domain.ExecutionEvent) error {
	var dataJSON []byte
	if event.Data != nil {
		dataJSON, _ = json.Marshal(event.Data)
	}
	_, err := t.db.Exec(`
		INSERT INTO execution_events (execution_id, event_type, message, data, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		executionID, string(event.Type), event.Message, nullableString(dataJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.NewDomainError("tracker.LogEvent", domain.ErrTrackerWrite, err.Error())
	}
	return nil
}

func (t *SQLiteTracker) LogStreamingEvent(_ context.Context, sessionID, userID string, event domain.StreamEvent) error {
	var dataJSON []byte
	if event.Data != nil {
		dataJSON, _ = json.Marshal(event.Data)
	}
	_, err := t.db.Exec(`
		INSERT INTO streaming_events (id, session_id, user_id, event_type, content, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, sessionID, userID, string(event.Type), event.Content, nullableString(dataJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.NewDomainError("tracker.LogStreamingEvent", domain.ErrTrackerWrite, err.Error())
	}
	return nil
}

// GetExecution returns one execution record, mostly for inspection and
// tests.
func (t *SQLiteTracker) GetExecution(_ context.Context, executionID string) (*domain.ExecutionRecord, error) {
	row := t.db.QueryRow(`
		SELECT id, tool_name, integration_id, session_id, user_id, parameters,
		       success, result_data, error_message, execution_ms, started_at, completed_at
		FROM executions WHERE id = ?`, executionID)

	var rec domain.ExecutionRecord
	var paramsJSON string
	var success sql.NullInt64
	var resultData, errMsg, completedAt sql.NullString
	var execMS sql.NullInt64
	var startedAt string
	err := row.Scan(&rec.ID, &rec.ToolName, &rec.IntegrationID, &rec.SessionID, &rec.UserID,
		&paramsJSON, &success, &resultData, &errMsg, &execMS, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("tracker.GetExecution", domain.ErrToolNotFound, executionID)
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(paramsJSON), &rec.Parameters)
	rec.Success = success.Valid && success.Int64 != 0
	if resultData.Valid {
		json.Unmarshal([]byte(resultData.String), &rec.ResultData)
	}
	rec.ErrorMessage = errMsg.String
	rec.ExecutionTime = time.Duration(execMS.Int64) * time.Millisecond
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if completedAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err == nil {
			rec.CompletedAt = &ts
		}
	}
	return &rec, nil
}

func nullableString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ domain.ExecutionTracker = (*SQLiteTracker)(nil)
