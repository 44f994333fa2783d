package formplayer

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Step is one prompt of a scripted form.
type Step struct {
	Name     string
	Datatype string
	Prompt   string
	Choices  []string
	// Validate returns a non-empty reason to make the engine reject an answer.
	Validate func(answer string) string
}

// Call records one request made to a Mock.
type Call struct {
	Action    string
	SessionID string
	FormPath  string
	Answer    string
}

// Mock is an in-process engine playing scripted forms. Intercept, when
// set, can replace the result of any call; returning (nil, nil) falls
// through to the scripted behavior.
type Mock struct {
	Forms     map[string][]Step
	Intercept func(call Call) (*Envelope, error)

	mu       sync.Mutex
	calls    []Call
	sessions map[string]*mockSession
	nextID   int
}

type mockSession struct {
	form    []Step
	pos     int
	answers []string
}

// NewMock creates a mock engine serving the given forms keyed by path.
func NewMock(forms map[string][]Step) *Mock {
	return &Mock{Forms: forms, sessions: make(map[string]*mockSession)}
}

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Answers returns the answers accepted so far for a session.
func (m *Mock) Answers(sessionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]string(nil), s.answers...)
}

// record logs c and runs the intercept; ok reports whether the intercept
// supplied the outcome.
func (m *Mock) record(c Call) (env *Envelope, ok bool, err error) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	intercept := m.Intercept
	m.mu.Unlock()
	if intercept == nil {
		return nil, false, nil
	}
	env, err = intercept(c)
	if env == nil && err == nil {
		return nil, false, nil
	}
	return env, true, err
}

func (m *Mock) Start(_ context.Context, req StartRequest) (*Envelope, error) {
	if env, ok, err := m.record(Call{Action: "new-form", FormPath: req.FormPath}); ok {
		return env, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	form, ok := m.Forms[req.FormPath]
	if !ok {
		return &Envelope{Status: StatusError, Reason: "no such form: " + req.FormPath}, nil
	}
	m.nextID++
	id := fmt.Sprintf("fs-%d", m.nextID)
	s := &mockSession{form: form}
	m.sessions[id] = s
	return s.envelope(id), nil
}

func (m *Mock) Answer(_ context.Context, sessionID, answer string) (*Envelope, error) {
	if env, ok, err := m.record(Call{Action: "answer", SessionID: sessionID, Answer: answer}); ok {
		return env, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return &Envelope{SessionID: sessionID, Status: StatusError, Reason: "no such session"}, nil
	}
	if s.pos >= len(s.form) {
		return s.envelope(sessionID), nil
	}
	step := s.form[s.pos]
	if step.Validate != nil {
		if reason := step.Validate(answer); reason != "" {
			return &Envelope{SessionID: sessionID, Status: StatusValidationError, Reason: reason}, nil
		}
	}
	s.answers = append(s.answers, answer)
	s.pos++
	return s.envelope(sessionID), nil
}

func (m *Mock) Current(_ context.Context, sessionID string) (*Envelope, error) {
	if env, ok, err := m.record(Call{Action: "current", SessionID: sessionID}); ok {
		return env, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return &Envelope{SessionID: sessionID, Status: StatusError, Reason: "no such session"}, nil
	}
	return s.envelope(sessionID), nil
}

func (m *Mock) RawInstance(_ context.Context, sessionID string) (string, error) {
	if env, ok, err := m.record(Call{Action: "get-instance", SessionID: sessionID}); ok {
		if err != nil {
			return "", err
		}
		return env.Output, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", nil
	}
	return s.instance(), nil
}

func (s *mockSession) envelope(id string) *Envelope {
	if s.pos >= len(s.form) {
		return &Envelope{
			SessionID: id,
			Status:    StatusOK,
			Event:     &Event{Type: EventFormComplete, Output: s.instance()},
		}
	}
	step := s.form[s.pos]
	return &Envelope{
		SessionID: id,
		Status:    StatusOK,
		Event: &Event{
			Type:     EventQuestion,
			Datatype: step.Datatype,
			Caption:  step.Prompt,
			Choices:  step.Choices,
		},
	}
}

func (s *mockSession) instance() string {
	var b strings.Builder
	b.WriteString("<data>")
	for i, a := range s.answers {
		name := s.form[i].Name
		if name == "" {
			name = fmt.Sprintf("q%d", i+1)
		}
		fmt.Fprintf(&b, "<%s>%s</%s>", name, a, name)
	}
	b.WriteString("</data>")
	return b.String()
}
