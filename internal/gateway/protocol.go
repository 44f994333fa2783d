package gateway

import "encoding/json"

// ProtocolVersion is the operator protocol spoken on /ws.
const ProtocolVersion = 1

// Frame types.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Events pushed to connected operators.
const (
	EventChallenge      = "connect.challenge"
	EventFormCompleted  = "form.completed"
	EventFormError      = "form.error"
	EventSessionStarted = "session.started"
	EventSessionEnded   = "session.ended"
	EventTick           = "tick"
)

// BroadcastEvents lists the events a client may receive after connecting.
var BroadcastEvents = []string{
	EventFormCompleted,
	EventFormError,
	EventSessionStarted,
	EventSessionEnded,
	EventTick,
}

// Frame is the envelope of every WebSocket message. Type selects which of
// the request, response and event fields are meaningful.
type Frame struct {
	Type string `json:"type"`

	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// ErrorShape is the error body of a failed response.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error codes.
const (
	CodeInvalidParams  = "invalid_params"
	CodeNotFound       = "not_found"
	CodeForbidden      = "forbidden"
	CodeUnavailable    = "unavailable"
	CodeConflict       = "conflict"
	CodeInternal       = "internal"
	CodeMethodNotFound = "method_not_found"
	CodeUnauthorized   = "unauthorized"
	CodeProtocol       = "protocol_error"
)

// ConnectParams open a session: the first request on every connection.
type ConnectParams struct {
	Protocol int          `json:"protocol"`
	Client   ClientInfo   `json:"client"`
	Auth     *ConnectAuth `json:"auth,omitempty"`
}

// ClientInfo identifies the connecting operator tool.
type ClientInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// ConnectAuth carries credentials in the connect request.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK is the payload of a successful connect.
type HelloOK struct {
	Protocol       int      `json:"protocol"`
	Version        string   `json:"version"`
	Commit         string   `json:"commit,omitempty"`
	ConnID         string   `json:"connId"`
	Methods        []string `json:"methods"`
	Events         []string `json:"events"`
	MaxPayload     int      `json:"maxPayload"`
	TickIntervalMs int64    `json:"tickIntervalMs"`
}

// NewRequest creates a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse creates a success response frame.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id string, e ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &e}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}
