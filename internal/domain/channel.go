package domain

import "context"

// ChannelCapabilities are the transport limits the router honours.
type ChannelCapabilities struct {
	ChatTypes []ChatType `json:"chatTypes"`
	// MaxMessageLen is the longest body delivered as one message; 0 means
	// no limit.
	MaxMessageLen int `json:"maxMessageLen,omitempty"`
	// Webhook is set when inbound messages arrive over the gateway's HTTP
	// listener instead of a connection the channel holds.
	Webhook bool `json:"webhook,omitempty"`
}

// ChannelStatus is reported by channels.status.
type ChannelStatus struct {
	ChannelID string `json:"channelId"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// Channel is a text transport that form conversations run over.
type Channel interface {
	ID() string // "sms", "irc"
	Capabilities() ChannelCapabilities

	// Start begins receiving. Webhook channels only mark themselves running.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Send delivers one text to msg.To.
	Send(ctx context.Context, msg OutboundMessage) error

	// OnMessage sets the callback for inbound texts. It is called before
	// Start.
	OnMessage(handler func(msg InboundMessage))
}
