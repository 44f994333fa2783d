package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func seed(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	trig := &domain.Trigger{ID: "t1", Keyword: "reg", FormPath: "reg.xml"}

	done := domain.NewSession("s1", domain.ConversationKey{ChannelID: "sms", ChatID: "+15550001"}, "+15550001", trig, t0)
	require.NoError(t, st.Create(ctx, done))
	done.End(t0.Add(90 * time.Second))
	require.NoError(t, st.Save(ctx, done))

	open := domain.NewSession("s2", domain.ConversationKey{ChannelID: "sms", ChatID: "+15550002"}, "", trig, t0.Add(time.Hour))
	require.NoError(t, st.Create(ctx, open))

	log := func(conv string, dir domain.Direction, text string, at time.Time) {
		require.NoError(t, st.LogMessage(ctx, domain.LoggedMessage{Conversation: conv, Direction: dir, Text: text, Date: at}))
	}
	log("sms:+15550001", domain.DirectionIncoming, "REG", t0)
	log("sms:+15550001", domain.DirectionOutgoing, "Your name?", t0.Add(time.Second))
	log("sms:+15550001", domain.DirectionIncoming, "Ann", t0.Add(80*time.Second))
	log("sms:+15550001", domain.DirectionIncoming, "late", t0.Add(10*time.Minute))
	return st
}

func TestWrite(t *testing.T) {
	st := seed(t)

	var buf bytes.Buffer
	n, err := Write(context.Background(), &buf, st, store.SessionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := readAll(buf.String())
	require.NoError(t, err)
	want := [][]string{
		Header,
		{"s1", "+15550001", "reg.xml", "2026-05-04 09:30:00", "2026-05-04 09:31:30", "1m30s", "Yes"},
		{"REG", "2026-05-04 09:30:00", "I"},
		{"Your name?", "2026-05-04 09:30:01", "O"},
		{"Ann", "2026-05-04 09:31:20", "I"},
		Header,
		{"s2", "+15550002", "reg.xml", "2026-05-04 10:30:00", "", "", "No"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, buf.String(), "Ann,2026-05-04 09:31:20,I\n\nSession ID", "blocks are separated by a blank line")
}

func TestWriteOpenOnly(t *testing.T) {
	st := seed(t)

	var buf bytes.Buffer
	n, err := Write(context.Background(), &buf, st, store.SessionFilter{OpenOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, buf.String(), "s2,")
	assert.NotContains(t, buf.String(), "s1,")
}

func TestFinished(t *testing.T) {
	sess := domain.NewSession("s", domain.ConversationKey{ChannelID: "sms", ChatID: "x"}, "x", nil, t0)
	assert.False(t, Finished(sess))

	sess.End(t0)
	assert.True(t, Finished(sess))

	sess.SetError("engine down")
	assert.False(t, Finished(sess))

	cancelled := domain.NewSession("c", domain.ConversationKey{ChannelID: "sms", ChatID: "x"}, "x", nil, t0)
	cancelled.Cancel(t0)
	assert.False(t, Finished(cancelled))
}

type failingSource struct{}

func (failingSource) List(context.Context, store.SessionFilter) ([]*domain.Session, error) {
	return nil, errors.New("disk gone")
}

func (failingSource) Messages(context.Context, string, time.Time, time.Time) ([]domain.LoggedMessage, error) {
	return nil, nil
}

func TestWriteListError(t *testing.T) {
	_, err := Write(context.Background(), &bytes.Buffer{}, failingSource{}, store.SessionFilter{})
	assert.ErrorContains(t, err, "disk gone")
}

func readAll(s string) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(s))
	r.FieldsPerRecord = -1
	return r.ReadAll()
}
