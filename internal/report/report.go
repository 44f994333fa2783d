// Package report renders form sessions and their message logs as CSV.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/store"
)

// Header is the first row of every session block.
var Header = []string{
	"Session ID", "Phone Number", "Form Name", "Start Time", "End Time", "Time To Completion", "Finished Form?",
}

const timeLayout = "2006-01-02 15:04:05"

// Source is what a report reads.
type Source interface {
	List(ctx context.Context, f store.SessionFilter) ([]*domain.Session, error)
	Messages(ctx context.Context, conversation string, from, to time.Time) ([]domain.LoggedMessage, error)
}

// Write emits one block per session matching f, oldest session first:
// the header, the session row, the conversation's messages between the
// session's start and end, then a blank line.
func Write(ctx context.Context, w io.Writer, src Source, f store.SessionFilter) (int, error) {
	sessions, err := src.List(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("listing sessions: %w", err)
	}
	slices.SortStableFunc(sessions, func(a, b *domain.Session) int {
		return a.StartTime.Compare(b.StartTime)
	})

	cw := csv.NewWriter(w)
	for _, sess := range sessions {
		var to time.Time
		if sess.EndTime != nil {
			to = *sess.EndTime
		}
		msgs, err := src.Messages(ctx, sess.Conversation.String(), sess.StartTime, to)
		if err != nil {
			return 0, fmt.Errorf("loading messages of %s: %w", sess.ID, err)
		}

		rows := [][]string{Header, SessionRow(sess)}
		for _, m := range msgs {
			rows = append(rows, []string{m.Text, m.Date.UTC().Format(timeLayout), string(m.Direction)})
		}
		if err := cw.WriteAll(rows); err != nil {
			return 0, fmt.Errorf("writing report: %w", err)
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return 0, fmt.Errorf("writing report: %w", err)
		}
	}
	return len(sessions), nil
}

// SessionRow formats the summary line of a session.
func SessionRow(sess *domain.Session) []string {
	phone := sess.ReplyTo
	if phone == "" {
		phone = sess.Conversation.ChatID
	}
	row := []string{
		sess.ID,
		phone,
		sess.FormPath,
		sess.StartTime.UTC().Format(timeLayout),
		"",
		"",
		yesNo(Finished(sess)),
	}
	if sess.EndTime != nil {
		row[4] = sess.EndTime.UTC().Format(timeLayout)
		row[5] = sess.Duration().Round(time.Second).String()
	}
	return row
}

// Finished reports whether the participant got to the end of the form.
func Finished(sess *domain.Session) bool {
	return sess.Ended && !sess.Cancelled && !sess.HasError
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
