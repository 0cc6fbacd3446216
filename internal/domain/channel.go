package domain

import "context"

// ChannelCapabilities bound what the outbox may send through a channel.
type ChannelCapabilities struct {
	ChatTypes []ChatType `json:"chatTypes"`
	// MaxMessageLen is the longest body the transport accepts in one send.
	// Zero means unlimited.
	MaxMessageLen int `json:"maxMessageLen,omitempty"`
}

// ChannelStatus is what the operator console shows for a channel.
type ChannelStatus struct {
	ChannelID string `json:"channelId"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// Channel is a transport prospects talk to the bot over: IRC, the local
// chat console, a webhook-fed provider. Start may block for the life of
// the connection and must return when ctx is cancelled. Inbound messages
// are delivered to the handler set with OnMessage, one call at a time.
type Channel interface {
	ID() string
	Capabilities() ChannelCapabilities
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg OutboundMessage) error
	OnMessage(handler func(msg InboundMessage))
}
