package domain

import "time"

// ChatType classifies the conversation context.
type ChatType string

const (
	ChatTypeDM    ChatType = "dm"
	ChatTypeGroup ChatType = "group"
)

// Direction marks a logged message as received or sent.
type Direction string

const (
	DirectionIncoming Direction = "I"
	DirectionOutgoing Direction = "O"
)

// InboundMessage is a text received from a channel.
type InboundMessage struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	From      string    `json:"from"`
	FromName  string    `json:"fromName,omitempty"`
	ChatID    string    `json:"chatId"`
	ChatType  ChatType  `json:"chatType"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Language  string    `json:"language,omitempty"`
	Raw       any       `json:"-"`
}

// ReplyTarget returns the address a reply to msg should be sent to.
// Direct messages go back to the sender, group messages to the chat.
func (m InboundMessage) ReplyTarget() string {
	if m.ChatType == ChatTypeDM {
		return m.From
	}
	return m.ChatID
}

// OutboundMessage is a text to be sent via a channel.
type OutboundMessage struct {
	ChannelID string `json:"channelId"`
	To        string `json:"to"`
	Body      string `json:"body"`
	ReplyToID string `json:"replyToId,omitempty"`
}

// LoggedMessage is one row of a conversation's message log.
type LoggedMessage struct {
	ID           int64     `json:"id"`
	Conversation string    `json:"conversation"`
	Direction    Direction `json:"direction"`
	Text         string    `json:"text"`
	Date         time.Time `json:"date"`
}
