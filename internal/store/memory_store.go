package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/smsforms/internal/domain"
)

// MemoryStore is an in-memory Store. Records are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session // id → session
	open     map[string]string          // conversation → open session id
	triggers map[string]*domain.Trigger // keyword → trigger
	messages []domain.LoggedMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		open:     make(map[string]string),
		triggers: make(map[string]*domain.Trigger),
	}
}

func cloneSession(s *domain.Session) *domain.Session {
	c := *s
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	c.LastResponse = append([]byte(nil), s.LastResponse...)
	return &c
}

func (m *MemoryStore) FindOpen(_ context.Context, conv domain.ConversationKey) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.open[conv.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(m.sessions[id]), nil
}

func (m *MemoryStore) ListOpen(ctx context.Context, conv domain.ConversationKey) ([]*domain.Session, error) {
	sess, err := m.FindOpen(ctx, conv)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []*domain.Session{sess}, nil
}

func (m *MemoryStore) Create(_ context.Context, sess *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sess.Conversation.String()
	if !sess.Ended {
		if _, ok := m.open[key]; ok {
			return ErrOpenSessionExists
		}
		m.open[key] = sess.ID
	}
	m.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (m *MemoryStore) Save(_ context.Context, sess *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[sess.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Ended {
		return ErrSessionEnded
	}
	key := sess.Conversation.String()
	owner, hasOpen := m.open[key]
	switch {
	case sess.Ended && owner == sess.ID:
		delete(m.open, key)
	case !sess.Ended && hasOpen && owner != sess.ID:
		return ErrOpenSessionExists
	case !sess.Ended:
		m.open[key] = sess.ID
	}
	m.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (m *MemoryStore) List(_ context.Context, f SessionFilter) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if f.Conversation != "" && s.Conversation.String() != f.Conversation {
			continue
		}
		if f.OpenOnly && s.Ended {
			continue
		}
		if !f.Since.IsZero() && s.StartTime.Before(f.Since) {
			continue
		}
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ListIdle(_ context.Context, cutoff time.Time) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Session
	for _, id := range m.open {
		if s := m.sessions[id]; s.ModifiedTime.Before(cutoff) {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModifiedTime.Before(out[j].ModifiedTime) })
	return out, nil
}

func (m *MemoryStore) FindTrigger(_ context.Context, keyword string) (*domain.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.triggers[domain.NormalizeKeyword(keyword)]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *MemoryStore) ListTriggers(_ context.Context) ([]*domain.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Keyword < out[j].Keyword })
	return out, nil
}

func (m *MemoryStore) SaveTrigger(_ context.Context, t *domain.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Keyword = domain.NormalizeKeyword(t.Keyword)
	t.FinalResponse = domain.Truncate(t.FinalResponse, domain.MaxFinalResponseLen)
	if existing, ok := m.triggers[t.Keyword]; ok {
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	c := *t
	m.triggers[t.Keyword] = &c
	return nil
}

func (m *MemoryStore) DeleteTrigger(_ context.Context, keyword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kw := domain.NormalizeKeyword(keyword)
	if _, ok := m.triggers[kw]; !ok {
		return ErrNotFound
	}
	delete(m.triggers, kw)
	return nil
}

func (m *MemoryStore) LogMessage(_ context.Context, msg domain.LoggedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.Date.IsZero() {
		msg.Date = time.Now()
	}
	msg.ID = int64(len(m.messages) + 1)
	m.messages = append(m.messages, msg)
	return nil
}

func (m *MemoryStore) Messages(_ context.Context, conversation string, from, to time.Time) ([]domain.LoggedMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.LoggedMessage
	for _, msg := range m.messages {
		if msg.Conversation != conversation || msg.Date.Before(from) {
			continue
		}
		if !to.IsZero() && msg.Date.After(to) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}
