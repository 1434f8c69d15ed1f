package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    era_id TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT 'en',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    current_iteration_id TEXT,
    model TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS iterations (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    parent_id TEXT,
    operation TEXT NOT NULL,
    style TEXT NOT NULL,
    image_path TEXT NOT NULL,
    raw_path TEXT,
    model TEXT NOT NULL,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    metadata_json TEXT,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_iterations_session_id ON iterations(session_id);
CREATE INDEX IF NOT EXISTS idx_iterations_parent_id ON iterations(parent_id);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
`

type Store struct {
	db *sql.DB
}

func NewStore() (*Store, error) {
	dbPath, err := DefaultDBPath()
	if err != nil {
		return nil, err
	}
	return NewStoreWithPath(dbPath)
}

func NewStoreWithPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Store{db: db}, nil
}

func DefaultDBPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".timewarp", "sessions.db"), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, era_id, language, created_at, updated_at, current_iteration_id, model)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.EraID, sess.Language, sess.CreatedAt, sess.UpdatedAt, nullString(sess.CurrentIterationID), sess.Model)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, era_id, language, created_at, updated_at, current_iteration_id, model
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *Store) UpdateSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ?, current_iteration_id = ?, model = ?
		 WHERE id = ?`,
		sess.UpdatedAt, nullString(sess.CurrentIterationID), sess.Model, sess.ID)
	return err
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, era_id, language, created_at, updated_at, current_iteration_id, model
		 FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) CreateIteration(ctx context.Context, iter *Iteration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO iterations (id, session_id, parent_id, operation, style, image_path, raw_path, model, timestamp, metadata_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		iter.ID, iter.SessionID, nullString(iter.ParentID), string(iter.Operation), iter.Style,
		iter.ImagePath, nullString(iter.RawPath), iter.Model, iter.Timestamp, iter.Metadata.ToJSON())
	return err
}

func (s *Store) GetIteration(ctx context.Context, id string) (*Iteration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, parent_id, operation, style, image_path, raw_path, model, timestamp, metadata_json
		 FROM iterations WHERE id = ?`, id)
	return scanIteration(row)
}

func (s *Store) ListIterations(ctx context.Context, sessionID string) ([]*Iteration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, parent_id, operation, style, image_path, raw_path, model, timestamp, metadata_json
		 FROM iterations WHERE session_id = ? ORDER BY timestamp ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var iterations []*Iteration
	for rows.Next() {
		iter, err := scanIteration(rows)
		if err != nil {
			return nil, err
		}
		iterations = append(iterations, iter)
	}
	return iterations, rows.Err()
}

func (s *Store) CountIterations(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM iterations WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	sess := &Session{}
	var currentIterID sql.NullString
	err := row.Scan(&sess.ID, &sess.EraID, &sess.Language, &sess.CreatedAt, &sess.UpdatedAt, &currentIterID, &sess.Model)
	if err != nil {
		return nil, err
	}
	sess.CurrentIterationID = currentIterID.String
	return sess, nil
}

func scanIteration(row scanner) (*Iteration, error) {
	iter := &Iteration{}
	var parentID, rawPath, metadataJSON sql.NullString
	var op string
	err := row.Scan(&iter.ID, &iter.SessionID, &parentID, &op, &iter.Style,
		&iter.ImagePath, &rawPath, &iter.Model, &iter.Timestamp, &metadataJSON)
	if err != nil {
		return nil, err
	}
	iter.Operation = Operation(op)
	iter.ParentID = parentID.String
	iter.RawPath = rawPath.String
	iter.Metadata = ParseIterationMetadata(metadataJSON.String)
	return iter, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func DefaultImageDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".timewarp", "images"), nil
}

func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
