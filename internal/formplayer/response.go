package formplayer

import (
	"encoding/json"
	"fmt"
)

// Envelope statuses as reported by the engine, plus the synthetic
// StatusHTTPError used for transport failures.
const (
	StatusOK              = "accepted"
	StatusHTTPError       = "http-error"
	StatusValidationError = "validation-error"
	StatusError           = "error"
)

// Event types.
const (
	EventQuestion     = "question"
	EventFormComplete = "form-complete"
)

// Question datatypes the answer formatter knows about.
const (
	DatatypeInt         = "int"
	DatatypeInteger     = "integer"
	DatatypeLong        = "long"
	DatatypeSelect      = "select"
	DatatypeMultiSelect = "multiselect"
	DatatypeInfo        = "info"
)

// Event is the engine's description of where the form is now.
type Event struct {
	Type     string   `json:"type"`
	Datatype string   `json:"datatype,omitempty"`
	Caption  string   `json:"caption,omitempty"`
	Choices  []string `json:"choices,omitempty"`
	Output   string   `json:"output,omitempty"`
}

// Envelope is one engine reply as it appears on the wire. It is persisted
// verbatim on the session so the current question can be recovered later.
type Envelope struct {
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Event     *Event `json:"event,omitempty"`
	Output    string `json:"output,omitempty"`
}

// TransportFailure wraps a failed remote call as an http-error envelope.
func TransportFailure(err error) *Envelope {
	return &Envelope{Status: StatusHTTPError, Reason: err.Error()}
}

// Decode parses a persisted envelope.
func Decode(raw []byte) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty envelope")
	}
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	return &e, nil
}

// Encode serializes the envelope for persistence.
func (e *Envelope) Encode() json.RawMessage {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}

// Kind tags a classified Response.
type Kind string

const (
	KindQuestion Kind = "question"
	KindInfo     Kind = "info"
	KindComplete Kind = "form-complete"
	KindError    Kind = "error"
)

// Response is one of *Question, *Info, *Complete or *Failure.
type Response interface {
	Kind() Kind
	isResponse()
}

// Question is an interactive prompt waiting for the user's answer.
type Question struct {
	Datatype string
	Prompt   string
	Choices  []string
}

// Info is a non-interactive prompt that only needs acknowledging.
type Info struct {
	Prompt string
}

// Complete means the form has been filled in; Output is the instance.
type Complete struct {
	Output string
}

// Failure is an engine or transport error.
type Failure struct {
	Status  string
	Message string
}

func (*Question) Kind() Kind { return KindQuestion }
func (*Info) Kind() Kind     { return KindInfo }
func (*Complete) Kind() Kind { return KindComplete }
func (*Failure) Kind() Kind  { return KindError }

func (*Question) isResponse() {}
func (*Info) isResponse()     {}
func (*Complete) isResponse() {}
func (*Failure) isResponse()  {}

// IsInteger reports whether answers to q must be whole numbers.
func (q *Question) IsInteger() bool {
	switch q.Datatype {
	case DatatypeInt, DatatypeInteger, DatatypeLong:
		return true
	}
	return false
}

// IsSelect reports whether q is a single or multiple choice question.
func (q *Question) IsSelect() bool {
	return q.Datatype == DatatypeSelect || q.Datatype == DatatypeMultiSelect
}

// Transport reports whether the failure came from the HTTP layer or an
// engine-side fault, as opposed to the engine rejecting an answer.
func (f *Failure) Transport() bool {
	return f.Status != StatusValidationError
}

func (f *Failure) Error() string {
	return f.Status + ": " + f.Message
}

// Classify maps the envelope onto exactly one Response variant.
func (e *Envelope) Classify() Response {
	if e == nil {
		return &Failure{Status: StatusHTTPError, Message: "empty response from form engine"}
	}
	switch e.Status {
	case StatusHTTPError, StatusError:
		return &Failure{Status: StatusHTTPError, Message: orDefault(e.Reason, "form engine error")}
	case StatusValidationError:
		return &Failure{Status: StatusValidationError, Message: orDefault(e.Reason, "invalid answer")}
	}
	if e.Event == nil {
		return &Failure{Status: StatusHTTPError, Message: "form engine returned no event"}
	}
	switch e.Event.Type {
	case EventFormComplete:
		return &Complete{Output: e.Event.Output}
	case EventQuestion:
		if e.Event.Datatype == DatatypeInfo {
			return &Info{Prompt: e.Event.Caption}
		}
		return &Question{
			Datatype: e.Event.Datatype,
			Prompt:   e.Event.Caption,
			Choices:  e.Event.Choices,
		}
	default:
		return &Failure{Status: StatusHTTPError, Message: fmt.Sprintf("unexpected event type %q", e.Event.Type)}
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
