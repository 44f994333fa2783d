// Package sms implements the SMS channel against an HTTP messaging
// provider: inbound texts arrive as form-encoded webhooks and replies are
// posted to the provider's Messages endpoint.
package sms

import (
	"context"
	"crypto/subtle"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/soyeahso/smsforms/internal/config"
	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/version"
)

// MaxMessageLen is the length of a single-segment SMS.
const MaxMessageLen = 160

// SecretHeader carries the shared webhook secret. The provider may also
// pass it as the "secret" query parameter.
const SecretHeader = "X-Smsforms-Secret"

// ErrMissingFields is returned for inbound webhooks without From or Body.
var ErrMissingFields = errors.New("sms: inbound message needs From and Body")

// Channel implements domain.Channel for SMS.
type Channel struct {
	cfg    config.SMSConfig
	client *retryablehttp.Client
	log    *logging.Logger

	mu       sync.RWMutex
	handler  func(msg domain.InboundMessage)
	running  bool
	lastErr  string
	received int
	sent     int
}

// New creates an SMS channel. client may be nil.
func New(cfg config.SMSConfig, client *retryablehttp.Client, log *logging.Logger) *Channel {
	l := log.Sub("sms")
	if client == nil {
		client = retryablehttp.NewClient()
		client.RetryMax = 2
		client.HTTPClient.Timeout = 15 * time.Second
		client.Logger = l.Leveled()
	}
	return &Channel{cfg: cfg, client: client, log: l}
}

func (c *Channel) ID() string { return "sms" }

func (c *Channel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{
		ChatTypes:     []domain.ChatType{domain.ChatTypeDM},
		MaxMessageLen: MaxMessageLen,
		Webhook:       true,
	}
}

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: "sms",
		Connected: c.running,
		Running:   c.running,
		LastError: c.lastErr,
	}
}

// Start marks the channel live and blocks until ctx is done. Inbound
// texts are delivered by the gateway calling ServeHTTP.
func (c *Channel) Start(ctx context.Context) error {
	c.setRunning(true)
	c.log.Info().Str("from", c.cfg.From).Str("apiBase", c.cfg.APIBase).Msg("sms channel ready")
	<-ctx.Done()
	c.setRunning(false)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.setRunning(false)
	return nil
}

func (c *Channel) setRunning(v bool) {
	c.mu.Lock()
	c.running = v
	c.mu.Unlock()
}

// Send posts a text to the provider. Bodies longer than one SMS are sent
// as-is and left to the provider to segment.
func (c *Channel) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if msg.To == "" {
		return fmt.Errorf("sms: no recipient")
	}
	if len([]rune(msg.Body)) > MaxMessageLen {
		c.log.Debug().Str("to", msg.To).Int("len", len([]rune(msg.Body))).Msg("body spans several segments")
	}

	form := url.Values{}
	form.Set("From", c.cfg.From)
	form.Set("To", msg.To)
	form.Set("Body", msg.Body)

	endpoint := strings.TrimRight(c.cfg.APIBase, "/") + "/Messages"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("sms: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.cfg.AccountSID != "" {
		req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordErr(err)
		return fmt.Errorf("sms: sending to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("sms: provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		c.recordErr(err)
		return err
	}

	c.mu.Lock()
	c.sent++
	c.lastErr = ""
	c.mu.Unlock()
	c.log.Debug().Str("to", msg.To).Msg("sms sent")
	return nil
}

func (c *Channel) recordErr(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

// ServeHTTP accepts the provider's inbound webhook. The reply goes out
// later through Send, so the webhook is answered with an empty TwiML
// document.
func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	secret := r.Header.Get(SecretHeader)
	if secret == "" {
		secret = r.URL.Query().Get("secret")
	}
	if !CheckSecret(c.cfg.WebhookSecret, secret) {
		c.log.Warn().Str("remote", r.RemoteAddr).Msg("inbound webhook with bad secret")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	msg, err := ParseInbound(r.PostForm, time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	c.received++
	handler := c.handler
	c.mu.Unlock()

	c.log.Debug().Str("from", msg.From).Str("sid", msg.ID).Msg("inbound sms")
	if handler != nil {
		handler(msg)
	}

	w.Header().Set("Content-Type", "text/xml")
	_, _ = io.WriteString(w, TwiML(nil))
}

// Counts returns how many texts were received and sent.
func (c *Channel) Counts() (received, sent int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.received, c.sent
}

// ParseInbound reads the provider's webhook fields.
func ParseInbound(form url.Values, now time.Time) (domain.InboundMessage, error) {
	from := strings.TrimSpace(form.Get("From"))
	if from == "" || !form.Has("Body") {
		return domain.InboundMessage{}, ErrMissingFields
	}
	id := form.Get("MessageSid")
	if id == "" {
		id = uuid.New().String()
	}
	return domain.InboundMessage{
		ID:        id,
		ChannelID: "sms",
		From:      from,
		ChatID:    from,
		ChatType:  domain.ChatTypeDM,
		Body:      form.Get("Body"),
		Timestamp: now,
	}, nil
}

// CheckSecret compares a presented webhook secret in constant time. An
// empty expected secret accepts everything.
func CheckSecret(expected, got string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

type twimlResponse struct {
	XMLName  xml.Name `xml:"Response"`
	Messages []string `xml:"Message"`
}

// TwiML renders replies as a provider response document, one Message
// element per reply.
func TwiML(replies []string) string {
	if len(replies) == 0 {
		return xml.Header + "<Response/>"
	}
	out, err := xml.Marshal(twimlResponse{Messages: replies})
	if err != nil {
		return xml.Header + "<Response/>"
	}
	return xml.Header + string(out)
}
