package domain

import "time"

// ChatType classifies the conversation context.
type ChatType string

const (
	ChatTypeDM    ChatType = "dm"
	ChatTypeGroup ChatType = "group"
)

// InboundMessage is a message received from a channel.
type InboundMessage struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	From      string    `json:"from"`
	FromName  string    `json:"fromName,omitempty"`
	ChatID    string    `json:"chatId"`
	ChatType  ChatType  `json:"chatType"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// OutboundMessage is a message to be sent via a channel.
type OutboundMessage struct {
	ChannelID string `json:"channelId"`
	SessionID string `json:"sessionId,omitempty"`
	To        string `json:"to"`
	Body      string `json:"body"`
}

// Sender identifies who wrote a logged message.
type Sender string

const (
	SenderUser     Sender = "user"
	SenderBot      Sender = "bot"
	SenderOperator Sender = "operator"
)

// Message is an immutable conversation log entry.
type Message struct {
	ID        int64     `json:"id,omitempty"`
	SessionID string    `json:"sessionId"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
