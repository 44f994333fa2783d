// Package formplayer talks to the remote form-playing engine.
//
// The engine runs XForms one question at a time. Each call returns an
// Envelope describing the next event; Classify turns that into one of the
// four Response variants the conversation layer works with.
package formplayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/version"
)

// StartRequest opens a new engine session for a form.
type StartRequest struct {
	FormPath string
	Language string
	Context  map[string]any
}

// Client is the engine API the conversation layer depends on.
type Client interface {
	Start(ctx context.Context, req StartRequest) (*Envelope, error)
	Answer(ctx context.Context, sessionID, answer string) (*Envelope, error)
	Current(ctx context.Context, sessionID string) (*Envelope, error)
	RawInstance(ctx context.Context, sessionID string) (string, error)
}

// HTTPClient speaks the engine's JSON-over-HTTP protocol.
type HTTPClient struct {
	url    string
	client *retryablehttp.Client
	log    *logging.Logger
}

// HTTPOptions tunes the transport.
type HTTPOptions struct {
	Timeout time.Duration
	Retries int
}

// NewHTTPClient creates a client posting to url.
func NewHTTPClient(url string, opts HTTPOptions, log *logging.Logger) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.Retries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = opts.Timeout
	sub := log.Sub("formplayer")
	rc.Logger = sub.Leveled()

	return &HTTPClient{
		url:    strings.TrimSuffix(url, "/"),
		client: rc,
		log:    sub,
	}
}

type request struct {
	Action      string         `json:"action"`
	FormName    string         `json:"form-name,omitempty"`
	Lang        string         `json:"lang,omitempty"`
	SessionData map[string]any `json:"session-data,omitempty"`
	SessionID   string         `json:"session-id,omitempty"`
	Answer      *string        `json:"answer,omitempty"`
}

// Start opens a session for req.FormPath.
func (c *HTTPClient) Start(ctx context.Context, req StartRequest) (*Envelope, error) {
	return c.post(ctx, request{
		Action:      "new-form",
		FormName:    req.FormPath,
		Lang:        req.Language,
		SessionData: req.Context,
	})
}

// Answer submits an answer to the session's current question. An empty
// answer skips the question.
func (c *HTTPClient) Answer(ctx context.Context, sessionID, answer string) (*Envelope, error) {
	return c.post(ctx, request{Action: "answer", SessionID: sessionID, Answer: &answer})
}

// Current re-reads the session's current event without changing it.
func (c *HTTPClient) Current(ctx context.Context, sessionID string) (*Envelope, error) {
	return c.post(ctx, request{Action: "current", SessionID: sessionID})
}

// RawInstance returns the form instance as filled in so far.
func (c *HTTPClient) RawInstance(ctx context.Context, sessionID string) (string, error) {
	env, err := c.post(ctx, request{Action: "get-instance", SessionID: sessionID})
	if err != nil {
		return "", err
	}
	if env.Output != "" {
		return env.Output, nil
	}
	if env.Event != nil {
		return env.Event.Output, nil
	}
	return "", nil
}

func (c *HTTPClient) post(ctx context.Context, body request) (*Envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", body.Action, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug().
		Str("action", body.Action).
		Str("formSession", body.SessionID).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("engine call")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var env Envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if env.SessionID == "" {
		env.SessionID = body.SessionID
	}
	return &env, nil
}
