package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/smsforms/internal/domain"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db *DB
}

// NewSQLiteStore creates a store using the given database.
func NewSQLiteStore(db *DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sessionColumns = `id, channel_id, chat_id, sender_id, reply_to, form_session_id, trigger_id,
	keyword, form_path, start_time, modified_time, end_time, ended, cancelled, has_error,
	error_msg, last_response`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		sess                    domain.Session
		start, modified         string
		end, lastResponse       sql.NullString
		ended, cancelled, failed int
	)
	err := row.Scan(
		&sess.ID, &sess.Conversation.ChannelID, &sess.Conversation.ChatID, &sess.Conversation.SenderID,
		&sess.ReplyTo, &sess.FormSessionID, &sess.TriggerID, &sess.Keyword, &sess.FormPath,
		&start, &modified, &end, &ended, &cancelled, &failed, &sess.ErrorMsg, &lastResponse,
	)
	if err != nil {
		return nil, err
	}
	sess.StartTime = parseTime(start)
	sess.ModifiedTime = parseTime(modified)
	if end.Valid {
		t := parseTime(end.String)
		sess.EndTime = &t
	}
	sess.Ended = ended != 0
	sess.Cancelled = cancelled != 0
	sess.HasError = failed != 0
	if lastResponse.Valid && lastResponse.String != "" {
		sess.LastResponse = []byte(lastResponse.String)
	}
	return &sess, nil
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]*domain.Session, error) {
	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// FindOpen returns the conversation's open session.
func (s *SQLiteStore) FindOpen(ctx context.Context, conv domain.ConversationKey) (*domain.Session, error) {
	row := s.db.sql.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM form_sessions WHERE conversation = ? AND ended = 0`, conv.String())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding open session: %w", err)
	}
	return sess, nil
}

// ListOpen returns every open session of the conversation.
func (s *SQLiteStore) ListOpen(ctx context.Context, conv domain.ConversationKey) ([]*domain.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM form_sessions WHERE conversation = ? AND ended = 0 ORDER BY start_time`,
		conv.String())
}

// Create inserts sess. The partial unique index on open sessions makes the
// check-and-insert atomic.
func (s *SQLiteStore) Create(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO form_sessions (id, conversation, channel_id, chat_id, sender_id, reply_to,
			form_session_id, trigger_id, keyword, form_path, start_time, modified_time, end_time,
			ended, cancelled, has_error, error_msg, last_response)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Conversation.String(), sess.Conversation.ChannelID, sess.Conversation.ChatID,
		sess.Conversation.SenderID, sess.ReplyTo, sess.FormSessionID, sess.TriggerID, sess.Keyword,
		sess.FormPath, formatTime(sess.StartTime), formatTime(sess.ModifiedTime), nullTime(sess.EndTime),
		boolInt(sess.Ended), boolInt(sess.Cancelled), boolInt(sess.HasError), sess.ErrorMsg,
		nullBytes(sess.LastResponse),
	)
	if isUniqueViolation(err) {
		return ErrOpenSessionExists
	}
	if err != nil {
		s.db.log.Error().Err(err).Str("session", sess.ID).Msg("failed to create session")
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// Save writes back the mutable fields of sess. Rows that have already
// ended are never rewritten.
func (s *SQLiteStore) Save(ctx context.Context, sess *domain.Session) error {
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE form_sessions SET reply_to = ?, form_session_id = ?, modified_time = ?, end_time = ?,
			ended = ?, cancelled = ?, has_error = ?, error_msg = ?, last_response = ?
		 WHERE id = ? AND ended = 0`,
		sess.ReplyTo, sess.FormSessionID, formatTime(sess.ModifiedTime), nullTime(sess.EndTime),
		boolInt(sess.Ended), boolInt(sess.Cancelled), boolInt(sess.HasError), sess.ErrorMsg,
		nullBytes(sess.LastResponse), sess.ID,
	)
	if isUniqueViolation(err) {
		return ErrOpenSessionExists
	}
	if err != nil {
		s.db.log.Error().Err(err).Str("session", sess.ID).Msg("failed to save session")
		return fmt.Errorf("saving session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrEnded(ctx, sess.ID)
	}
	return nil
}

// missingOrEnded explains why an update matched no row.
func (s *SQLiteStore) missingOrEnded(ctx context.Context, id string) error {
	var ended int
	err := s.db.sql.QueryRowContext(ctx, `SELECT ended FROM form_sessions WHERE id = ?`, id).Scan(&ended)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("saving session: %w", err)
	case ended != 0:
		return ErrSessionEnded
	}
	return ErrNotFound
}

// Get returns a session by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM form_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// List returns sessions matching f, newest first.
func (s *SQLiteStore) List(ctx context.Context, f SessionFilter) ([]*domain.Session, error) {
	var (
		where []string
		args  []any
	)
	if f.Conversation != "" {
		where = append(where, "conversation = ?")
		args = append(args, f.Conversation)
	}
	if f.OpenOnly {
		where = append(where, "ended = 0")
	}
	if !f.Since.IsZero() {
		where = append(where, "start_time >= ?")
		args = append(args, formatTime(f.Since))
	}

	query := `SELECT ` + sessionColumns + ` FROM form_sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.querySessions(ctx, query, args...)
}

// ListIdle returns open sessions untouched since cutoff.
func (s *SQLiteStore) ListIdle(ctx context.Context, cutoff time.Time) ([]*domain.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM form_sessions WHERE ended = 0 AND modified_time < ? ORDER BY modified_time`,
		formatTime(cutoff))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
