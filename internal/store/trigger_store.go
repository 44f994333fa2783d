package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/smsforms/internal/domain"
)

const triggerColumns = `id, keyword, form_path, language, final_response, context, created_at`

func scanTrigger(row rowScanner) (*domain.Trigger, error) {
	var (
		t       domain.Trigger
		ctxJSON sql.NullString
		created string
	)
	if err := row.Scan(&t.ID, &t.Keyword, &t.FormPath, &t.Language, &t.FinalResponse, &ctxJSON, &created); err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(created)
	if ctxJSON.Valid && ctxJSON.String != "" {
		if err := json.Unmarshal([]byte(ctxJSON.String), &t.Context); err != nil {
			return nil, fmt.Errorf("decoding trigger context: %w", err)
		}
	}
	return &t, nil
}

// FindTrigger looks a trigger up by keyword.
func (s *SQLiteStore) FindTrigger(ctx context.Context, keyword string) (*domain.Trigger, error) {
	row := s.db.sql.QueryRowContext(ctx,
		`SELECT `+triggerColumns+` FROM triggers WHERE keyword = ?`, domain.NormalizeKeyword(keyword))
	t, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding trigger: %w", err)
	}
	return t, nil
}

// ListTriggers returns all triggers ordered by keyword.
func (s *SQLiteStore) ListTriggers(ctx context.Context) ([]*domain.Trigger, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT `+triggerColumns+` FROM triggers ORDER BY keyword`)
	if err != nil {
		return nil, fmt.Errorf("listing triggers: %w", err)
	}
	defer rows.Close()

	var out []*domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveTrigger upserts t by keyword, filling in ID and CreatedAt.
func (s *SQLiteStore) SaveTrigger(ctx context.Context, t *domain.Trigger) error {
	t.Keyword = domain.NormalizeKeyword(t.Keyword)
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	var ctxJSON sql.NullString
	if len(t.Context) > 0 {
		data, err := json.Marshal(t.Context)
		if err != nil {
			return fmt.Errorf("encoding trigger context: %w", err)
		}
		ctxJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO triggers (id, keyword, form_path, language, final_response, context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (keyword) DO UPDATE SET
			form_path = excluded.form_path,
			language = excluded.language,
			final_response = excluded.final_response,
			context = excluded.context`,
		t.ID, t.Keyword, t.FormPath, t.Language, domain.Truncate(t.FinalResponse, domain.MaxFinalResponseLen),
		ctxJSON, formatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving trigger: %w", err)
	}

	// On conflict the existing row keeps its ID.
	return s.db.sql.QueryRowContext(ctx, `SELECT id FROM triggers WHERE keyword = ?`, t.Keyword).Scan(&t.ID)
}

// DeleteTrigger removes the trigger for keyword.
func (s *SQLiteStore) DeleteTrigger(ctx context.Context, keyword string) error {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM triggers WHERE keyword = ?`, domain.NormalizeKeyword(keyword))
	if err != nil {
		return fmt.Errorf("deleting trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
