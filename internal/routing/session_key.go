package routing

import "github.com/soyeahso/closer/internal/domain"

// Session scopes. Under ScopeGlobal everyone in a chat shares one session,
// which suits a group chat with a single prospect behind several handles.
const (
	ScopePerSender = "per-sender"
	ScopeGlobal    = "global"
)

// ResolveSessionKey maps msg to the key of the session it belongs to.
// Unknown scopes behave as ScopePerSender.
func ResolveSessionKey(msg domain.InboundMessage, scope string) domain.SessionKey {
	key := domain.SessionKey{ChannelID: msg.ChannelID, ChatID: msg.ChatID}
	if scope != ScopeGlobal {
		key.SenderID = msg.From
	}
	return key
}

// SessionID is the stable, printable identifier of key.
func SessionID(key domain.SessionKey) string {
	return key.String()
}
