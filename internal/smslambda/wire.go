package smslambda

import (
	"fmt"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/soyeahso/smsforms/internal/channel"
	"github.com/soyeahso/smsforms/internal/conversation"
	"github.com/soyeahso/smsforms/internal/formplayer"
	"github.com/soyeahso/smsforms/internal/hooks"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/plugin"
	"github.com/soyeahso/smsforms/internal/routing"
	"github.com/soyeahso/smsforms/internal/store"
)

// NewRouter wires the dispatcher for one function instance. Channels are
// left empty since replies travel back in the webhook response.
func NewRouter(e Env, st store.Store, engine formplayer.Client, hm *hooks.Manager, log *logging.Logger) *routing.Router {
	disp := conversation.NewDispatcher(st, st, engine, hm, conversation.Options{
		InfoAck:  e.InfoAck,
		MaxSteps: e.MaxSteps,
		Language: e.Language,
	}, log)
	return routing.NewRouter(channel.NewRegistry(log), disp, st, hm, e.Scope, log)
}

// NotifyHooks posts form_completed and form_error events to each of urls.
// Deliveries run inside Emit so they finish before the invocation returns.
func NotifyHooks(urls []string, client *retryablehttp.Client, log *logging.Logger) *hooks.Manager {
	hm := hooks.NewManager(log)
	if client == nil {
		client = retryablehttp.NewClient()
		client.RetryMax = 2
		client.Logger = log.Leveled()
	}
	for i, u := range urls {
		for _, event := range plugin.DefaultWebhookEvents {
			hm.On(event, fmt.Sprintf("notify-%d", i), hooks.WebhookHandler(client, u, ""))
		}
	}
	return hm
}
