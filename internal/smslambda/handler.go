// Package smslambda answers SMS provider webhooks from AWS Lambda behind
// API Gateway. Replies are returned inline as TwiML.
package smslambda

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/soyeahso/smsforms/internal/channel/sms"
	"github.com/soyeahso/smsforms/internal/conversation"
	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/logging"
)

// Processor runs one inbound text through the dispatcher and returns the
// replies without sending them.
type Processor interface {
	Process(ctx context.Context, msg domain.InboundMessage) (conversation.Result, error)
}

// Handler is the Lambda entry point.
type Handler struct {
	proc   Processor
	secret string
	log    *logging.Logger
	now    func() time.Time
}

// NewHandler creates a Handler. An empty secret accepts every request.
func NewHandler(proc Processor, secret string, log *logging.Logger) (*Handler, error) {
	if proc == nil {
		return nil, errors.New("smslambda: processor is required")
	}
	return &Handler{proc: proc, secret: secret, log: log.Sub("lambda"), now: time.Now}, nil
}

// Handle answers one API Gateway proxy request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if req.HTTPMethod != http.MethodPost {
		return plain(http.StatusMethodNotAllowed, "method not allowed"), nil
	}

	secret := header(req.Headers, sms.SecretHeader)
	if secret == "" {
		secret = req.QueryStringParameters["secret"]
	}
	if !sms.CheckSecret(h.secret, secret) {
		h.log.Warn().Str("source", req.RequestContext.Identity.SourceIP).Msg("inbound webhook with bad secret")
		return plain(http.StatusUnauthorized, "unauthorized"), nil
	}

	body := req.Body
	if req.IsBase64Encoded {
		data, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return plain(http.StatusBadRequest, "bad body encoding"), nil
		}
		body = string(data)
	}
	form, err := url.ParseQuery(body)
	if err != nil {
		return plain(http.StatusBadRequest, "bad form"), nil
	}
	msg, err := sms.ParseInbound(form, h.now())
	if err != nil {
		return plain(http.StatusBadRequest, err.Error()), nil
	}

	res, err := h.proc.Process(ctx, msg)
	if err != nil {
		h.log.Error().Err(err).Str("sid", msg.ID).Msg("processing inbound sms")
		return plain(http.StatusInternalServerError, "internal error"), nil
	}
	h.log.Info().Str("sid", msg.ID).Stringer("plan", res.Kind).Int("replies", len(res.Replies)).Msg("inbound sms handled")

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "text/xml"},
		Body:       sms.TwiML(res.Replies),
	}, nil
}

func plain(status int, text string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "text/plain"},
		Body:       text,
	}
}

// header looks up name ignoring case. API Gateway passes headers through
// as the client sent them.
func header(h map[string]string, name string) string {
	if v, ok := h[name]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
