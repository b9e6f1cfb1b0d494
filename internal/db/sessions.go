package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/das-waterfall/internal/das/session"
)

// ErrSessionNotFound is returned by GetSession for an unknown id.
var ErrSessionNotFound = errors.New("db: session not found")

// SessionStore implements session.Ledger on the sessions table.
type SessionStore struct {
	db *DB
}

// NewSessionStore returns a ledger backed by db.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

var _ session.Ledger = (*SessionStore)(nil)

// Begin inserts the record of a start attempt.
func (s *SessionStore) Begin(ctx context.Context, r session.Record) error {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, driver, params_json, state, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Driver, string(params), string(r.State), r.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert session %s: %w", r.ID, err)
	}
	return nil
}

// Finish records the outcome and final counters of a session.
func (s *SessionStore) Finish(ctx context.Context, r session.Record) error {
	var stopped sql.NullInt64
	if !r.StoppedAt.IsZero() {
		stopped = sql.NullInt64{Int64: r.StoppedAt.UnixNano(), Valid: true}
	}
	var errText sql.NullString
	if r.Error != "" {
		errText = sql.NullString{String: r.Error, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state = ?, stopped_at = ?, error = ?,
			buffers = ?, decoded = ?, decode_failures = ?, drops = ?, rejected = ?, discarded = ?
		WHERE session_id = ?`,
		string(r.State), stopped, errText,
		r.Buffers, r.Decoded, r.DecodeFailures, int64(r.Drops), int64(r.Rejected), r.Discarded,
		r.ID)
	if err != nil {
		return fmt.Errorf("update session %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, r.ID)
	}
	return nil
}

const sessionColumns = `session_id, driver, params_json, state, started_at, stopped_at, error,
	buffers, decoded, decode_failures, drops, rejected, discarded`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (session.Record, error) {
	var (
		r        session.Record
		params   string
		state    string
		started  int64
		stopped  sql.NullInt64
		errText  sql.NullString
		drops    int64
		rejected int64
	)
	err := row.Scan(&r.ID, &r.Driver, &params, &state, &started, &stopped, &errText,
		&r.Buffers, &r.Decoded, &r.DecodeFailures, &drops, &rejected, &r.Discarded)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
		return r, fmt.Errorf("decode params of %s: %w", r.ID, err)
	}
	r.State = session.State(state)
	r.StartedAt = time.Unix(0, started).UTC()
	if stopped.Valid {
		r.StoppedAt = time.Unix(0, stopped.Int64).UTC()
	}
	r.Error = errText.String
	r.Drops, r.Rejected = uint64(drops), uint64(rejected)
	return r, nil
}

// GetSession loads one session by id.
func (s *SessionStore) GetSession(ctx context.Context, id string) (session.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return r, err
}

// ListSessions returns the most recent sessions first, at most limit
// (all when limit <= 0).
func (s *SessionStore) ListSessions(ctx context.Context, limit int) ([]session.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []session.Record
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
