package server

import (
	"context"
	"database/sql"
	"time"

	"github.com/TheGojiOG/CfxSM/internal/database"
)

// SessionRecord is the persisted history of one server run
type SessionRecord struct {
	ID        string     `json:"id"`
	Build     string     `json:"build"`
	Folder    string     `json:"folder"`
	State     State      `json:"state"`
	PID       int        `json:"pid"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	RestartOf string     `json:"restart_of,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// SessionStore keeps the run history
type SessionStore interface {
	Begin(ctx context.Context, record SessionRecord) error
	Finish(ctx context.Context, id string, state State, exitCode *int, message string) error
	Recent(ctx context.Context, limit int) ([]SessionRecord, error)
}

// SQLSessionStore persists sessions in the runtime_sessions table
type SQLSessionStore struct {
	db *database.DB
}

// NewSQLSessionStore creates a store on db
func NewSQLSessionStore(db *database.DB) *SQLSessionStore {
	return &SQLSessionStore{db: db}
}

// Begin records a new running session
func (s *SQLSessionStore) Begin(ctx context.Context, record SessionRecord) error {
	var restartOf sql.NullString
	if record.RestartOf != "" {
		restartOf = sql.NullString{String: record.RestartOf, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runtime_sessions (id, build, folder, state, pid, restart_of, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.Build, record.Folder, string(record.State), record.PID, restartOf, record.StartedAt.UTC())
	return err
}

// Finish closes a session with its final state
func (s *SQLSessionStore) Finish(ctx context.Context, id string, state State, exitCode *int, message string) error {
	var code sql.NullInt64
	if exitCode != nil {
		code = sql.NullInt64{Int64: int64(*exitCode), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE runtime_sessions
		SET state = ?, exit_code = ?, error_message = ?, ended_at = ?
		WHERE id = ?
	`, string(state), code, message, time.Now().UTC(), id)
	return err
}

// Recent returns the newest sessions first
func (s *SQLSessionStore) Recent(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, build, folder, state, pid, exit_code, restart_of, error_message, started_at, ended_at
		FROM runtime_sessions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []SessionRecord{}
	for rows.Next() {
		var (
			record    SessionRecord
			state     string
			exitCode  sql.NullInt64
			restartOf sql.NullString
			endedAt   sql.NullTime
		)
		if err := rows.Scan(&record.ID, &record.Build, &record.Folder, &state, &record.PID, &exitCode, &restartOf, &record.Error, &record.StartedAt, &endedAt); err != nil {
			return nil, err
		}
		record.State = State(state)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			record.ExitCode = &code
		}
		record.RestartOf = restartOf.String
		if endedAt.Valid {
			ended := endedAt.Time
			record.EndedAt = &ended
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
