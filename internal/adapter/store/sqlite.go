// Package store persists integrations in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"deskpilot/internal/domain"
)

// SQLiteIntegrationStore implements domain.IntegrationStore using SQLite.
type SQLiteIntegrationStore struct {
	db *sql.DB
}

// NewSQLiteIntegrationStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteIntegrationStore(dbPath string) (*SQLiteIntegrationStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open integration db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate integration db: %w", err)
	}
	return &SQLiteIntegrationStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS integrations (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			type            TEXT NOT NULL,
			name            TEXT NOT NULL,
			credential_blob TEXT NOT NULL,
			active          INTEGER NOT NULL DEFAULT 1,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_integrations_user ON integrations(user_id);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteIntegrationStore) Close() error {
	return s.db.Close()
}

const integrationCols = "id, user_id, type, name, credential_blob, active, created_at, updated_at"

func (s *SQLiteIntegrationStore) Get(_ context.Context, id string) (*domain.Integration, error) {
	row := s.db.QueryRow("SELECT "+integrationCols+" FROM integrations WHERE id = ?", id)
	integ, err := scanIntegration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("store.Get", domain.ErrIntegrationNotFound, id)
	}
	return integ, err
}

func (s *SQLiteIntegrationStore) ListByUser(_ context.Context, userID string) ([]*domain.Integration, error) {
	rows, err := s.db.Query("SELECT "+integrationCols+" FROM integrations WHERE user_id = ? ORDER BY created_at", userID)
	if err != nil {
		return nil, err
	}
	return collectIntegrations(rows)
}

func (s *SQLiteIntegrationStore) ListActive(_ context.Context) ([]*domain.Integration, error) {
	rows, err := s.db.Query("SELECT " + integrationCols + " FROM integrations WHERE active = 1 ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	return collectIntegrations(rows)
}

// Save inserts or replaces an integration.
func (s *SQLiteIntegrationStore) Save(_ context.Context, integ *domain.Integration) error {
	now := time.Now().UTC()
	if integ.CreatedAt.IsZero() {
		integ.CreatedAt = now
	}
	integ.UpdatedAt = now
	_, err := s.db.Exec(`
		INSERT INTO integrations (id, user_id, type, name, credential_blob, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			type = excluded.type,
			name = excluded.name,
			credential_blob = excluded.credential_blob,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		integ.ID, integ.UserID, string(integ.Type), integ.Name, integ.CredentialBlob,
		boolToInt(integ.Active),
		integ.CreatedAt.Format(time.RFC3339Nano), integ.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// Delete removes an integration.
func (s *SQLiteIntegrationStore) Delete(_ context.Context, id string) error {
	res, err := s.db.Exec("DELETE FROM integrations WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewDomainError("store.Delete", domain.ErrIntegrationNotFound, id)
	}
	return nil
}

// SetActive toggles an integration without touching its credentials.
func (s *SQLiteIntegrationStore) SetActive(_ context.Context, id string, active bool) error {
	res, err := s.db.Exec("UPDATE integrations SET active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewDomainError("store.SetActive", domain.ErrIntegrationNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntegration(row rowScanner) (*domain.Integration, error) {
	var integ domain.Integration
	var typ string
	var active int
	var createdAt, updatedAt string
	if err := row.Scan(&integ.ID, &integ.UserID, &typ, &integ.Name, &integ.CredentialBlob, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	integ.Type = domain.IntegrationType(typ)
	integ.Active = active != 0
	integ.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	integ.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &integ, nil
}

func collectIntegrations(rows *sql.Rows) ([]*domain.Integration, error) {
	defer rows.Close()
	var out []*domain.Integration
	for rows.Next() {
		integ, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, integ)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ domain.IntegrationStore = (*SQLiteIntegrationStore)(nil)
