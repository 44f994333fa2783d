package store

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/smsforms/internal/domain"
)

// LogMessage appends one message to the log.
func (s *SQLiteStore) LogMessage(ctx context.Context, m domain.LoggedMessage) error {
	if m.Date.IsZero() {
		m.Date = time.Now()
	}
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO message_log (conversation, direction, text, date) VALUES (?, ?, ?, ?)`,
		m.Conversation, string(m.Direction), m.Text, formatTime(m.Date),
	)
	if err != nil {
		s.db.log.Error().Err(err).Str("conversation", m.Conversation).Msg("failed to log message")
		return fmt.Errorf("logging message: %w", err)
	}
	return nil
}

// Messages returns the conversation's messages in [from, to].
func (s *SQLiteStore) Messages(ctx context.Context, conversation string, from, to time.Time) ([]domain.LoggedMessage, error) {
	query := `SELECT id, conversation, direction, text, date FROM message_log
		WHERE conversation = ? AND date >= ?`
	args := []any{conversation, formatTime(from)}
	if !to.IsZero() {
		query += ` AND date <= ?`
		args = append(args, formatTime(to))
	}
	query += ` ORDER BY date, id`

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying message log: %w", err)
	}
	defer rows.Close()

	var out []domain.LoggedMessage
	for rows.Next() {
		var (
			m         domain.LoggedMessage
			direction string
			date      string
		)
		if err := rows.Scan(&m.ID, &m.Conversation, &direction, &m.Text, &date); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Direction = domain.Direction(direction)
		m.Date = parseTime(date)
		out = append(out, m)
	}
	return out, rows.Err()
}
