package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/soyeahso/smsforms/internal/config"
	"github.com/soyeahso/smsforms/internal/hooks"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/version"
)

// subscriber runs its handlers off the caller's goroutine so slow hooks
// never delay a reply, and remembers what it registered for Close.
type subscriber struct {
	hooks *hooks.Manager
	log   *logging.Logger
	wg    sync.WaitGroup
	regs  []registration
}

type registration struct{ event, name string }

func (s *subscriber) on(event, name string, h hooks.Handler) {
	s.hooks.On(event, name, func(ctx context.Context, p hooks.Payload) error {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := h(context.WithoutCancel(ctx), p); err != nil {
				s.log.Warn().Err(err).Str("event", p.Event).Str("handler", name).Msg("delivery failed")
			}
		}()
		return nil
	})
	s.regs = append(s.regs, registration{event, name})
}

func (s *subscriber) close() {
	if s.hooks != nil {
		for _, r := range s.regs {
			s.hooks.Off(r.event, r.name)
		}
	}
	s.regs = nil
	s.wg.Wait()
}

// CommandHooks runs the shell commands configured under hooks.
type CommandHooks struct {
	cfg config.HooksConfig
	sub subscriber
}

// NewCommandHooks creates the command hook plugin.
func NewCommandHooks(cfg config.HooksConfig) *CommandHooks {
	return &CommandHooks{cfg: cfg}
}

func (p *CommandHooks) ID() string      { return "command-hooks" }
func (p *CommandHooks) Name() string    { return "Command hooks" }
func (p *CommandHooks) Version() string { return version.Version }

func (p *CommandHooks) Init(_ context.Context, api API) error {
	p.sub = subscriber{hooks: api.Hooks, log: api.Log}
	bind := map[string][]config.HookEntry{
		hooks.EventFormCompleted:  p.cfg.FormCompleted,
		hooks.EventFormError:      p.cfg.FormError,
		hooks.EventSessionStarted: p.cfg.SessionStarted,
		hooks.EventSessionEnded:   p.cfg.SessionEnded,
	}
	for event, entries := range bind {
		for i, e := range entries {
			if e.Command == "" {
				return fmt.Errorf("hooks.%s[%d]: empty command", event, i)
			}
			timeout := time.Duration(e.Timeout) * time.Millisecond
			p.sub.on(event, fmt.Sprintf("command-%d", i), hooks.CommandHandler(e.Command, timeout))
		}
	}
	api.Log.Info().Int("handlers", len(p.sub.regs)).Msg("command hooks registered")
	return nil
}

func (p *CommandHooks) Close() error {
	p.sub.close()
	return nil
}

// DefaultWebhookEvents are forwarded when a webhook lists no events.
var DefaultWebhookEvents = []string{hooks.EventFormCompleted, hooks.EventFormError}

// Webhooks forwards events to the configured HTTP endpoints.
type Webhooks struct {
	entries []config.WebhookEntry
	client  *retryablehttp.Client
	sub     subscriber
}

// NewWebhooks creates the webhook forwarder. client may be nil.
func NewWebhooks(entries []config.WebhookEntry, client *retryablehttp.Client) *Webhooks {
	return &Webhooks{entries: entries, client: client}
}

func (p *Webhooks) ID() string      { return "webhooks" }
func (p *Webhooks) Name() string    { return "Webhook forwarder" }
func (p *Webhooks) Version() string { return version.Version }

func (p *Webhooks) Init(_ context.Context, api API) error {
	p.sub = subscriber{hooks: api.Hooks, log: api.Log}
	if p.client == nil {
		p.client = retryablehttp.NewClient()
		p.client.RetryMax = 3
		p.client.HTTPClient.Timeout = 10 * time.Second
		p.client.Logger = api.Log.Leveled()
	}
	for i, w := range p.entries {
		events := w.Events
		if len(events) == 0 {
			events = DefaultWebhookEvents
		}
		for _, event := range events {
			if !hooks.Known(event) {
				return fmt.Errorf("webhooks[%d]: unknown event %q", i, event)
			}
			p.sub.on(event, fmt.Sprintf("webhook-%d", i), hooks.WebhookHandler(p.client, w.URL, w.Secret))
		}
	}
	return nil
}

func (p *Webhooks) Close() error {
	p.sub.close()
	return nil
}
