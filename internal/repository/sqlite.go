// Package repository records assistant runs, their published events and the
// artifacts they produce in SQLite.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/ava/internal/domain"
)

// SQLiteStore is the run journal backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and applies migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to an in-memory database sees its own empty database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			turn_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL,
			transcript TEXT,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (turn_id) REFERENCES runs(turn_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_turn ON events(turn_id, ts)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			artifact_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			turn_id TEXT,
			kind TEXT NOT NULL,
			path TEXT NOT NULL,
			url TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_turn ON artifacts(turn_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// reply_kind was added after the first release.
	return s.ensureColumn("runs", "reply_kind", "ALTER TABLE runs ADD COLUMN reply_kind TEXT")
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (turn_id, session_id, status, started_at) VALUES (?, ?, ?, ?)`,
		run.TurnID, run.SessionID, run.Status, run.StartedAt)
	return err
}

// UpdateRunTranscript stores the transcribed user input of a run.
func (s *SQLiteStore) UpdateRunTranscript(ctx context.Context, turnID, transcript string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET transcript = ? WHERE turn_id = ?`,
		transcript, turnID)
	return err
}

// CompleteRun sets the final status of a run.
func (s *SQLiteStore) CompleteRun(ctx context.Context, turnID string, status domain.RunStatus, replyKind domain.ReplyKind, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, reply_kind = ?, error = ?, ended_at = ? WHERE turn_id = ?`,
		status, nullString(string(replyKind)), nullString(errMsg), time.Now(), turnID)
	return err
}

// GetRun returns the run with turnID or domain.ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, turnID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT turn_id, session_id, status, transcript, reply_kind, started_at, ended_at, error FROM runs WHERE turn_id = ?`,
		turnID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", turnID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the newest runs of a session first.
func (s *SQLiteStore) ListRuns(ctx context.Context, sessionID string, limit int) ([]domain.Run, error) {
	query := `SELECT turn_id, session_id, status, transcript, reply_kind, started_at, ended_at, error FROM runs WHERE session_id = ? ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var transcript, replyKind, errMsg sql.NullString
	var endedAt sql.NullTime
	if err := row.Scan(&run.TurnID, &run.SessionID, &run.Status, &transcript, &replyKind, &run.StartedAt, &endedAt, &errMsg); err != nil {
		return nil, err
	}
	run.Transcript = transcript.String
	run.ReplyKind = domain.ReplyKind(replyKind.String)
	run.Error = errMsg.String
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return &run, nil
}

// CreateEvent appends an event to a run.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	payload := ""
	if event.Payload != nil {
		payload = string(event.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, turn_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.TurnID, event.Ts, event.Type, payload)
	return err
}

// GetEvents returns the events of a run in publish order, optionally
// restricted to those after afterTs and to the given types.
func (s *SQLiteStore) GetEvents(ctx context.Context, turnID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, turn_id, ts, type, payload FROM events WHERE turn_id = ?`
	args := []any{turnID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}

	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.TurnID, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CreateArtifact records a persisted artifact.
func (s *SQLiteStore) CreateArtifact(ctx context.Context, a *domain.Artifact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (artifact_id, session_id, turn_id, kind, path, url, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ArtifactID, a.SessionID, nullString(a.TurnID), a.Kind, a.Path, a.URL, a.CreatedAt)
	return err
}

// ListArtifacts returns the artifacts produced by a run.
func (s *SQLiteStore) ListArtifacts(ctx context.Context, turnID string) ([]domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT artifact_id, session_id, turn_id, kind, path, url, created_at FROM artifacts WHERE turn_id = ? ORDER BY created_at ASC, rowid ASC`,
		turnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	artifacts := []domain.Artifact{}
	for rows.Next() {
		var a domain.Artifact
		var tid sql.NullString
		if err := rows.Scan(&a.ArtifactID, &a.SessionID, &tid, &a.Kind, &a.Path, &a.URL, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.TurnID = tid.String
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
