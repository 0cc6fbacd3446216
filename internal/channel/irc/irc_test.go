package irc

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestNew(t *testing.T) {
	cfg := config.IRCConfig{
		Server:   "irc.libera.chat",
		Port:     6697,
		Nick:     "vendebot",
		Channels: []string{"#ventas"},
		UseTLS:   true,
	}
	ch := New(cfg, testLogger())
	assert.Equal(t, "irc", ch.ID())
}

func TestCapabilities(t *testing.T) {
	ch := New(config.IRCConfig{}, testLogger())
	caps := ch.Capabilities()
	assert.Equal(t, []domain.ChatType{domain.ChatTypeDM, domain.ChatTypeGroup}, caps.ChatTypes)
	assert.Equal(t, maxLineBytes, caps.MaxMessageLen)

	dmOnly := New(config.IRCConfig{DMOnly: true}, testLogger())
	assert.Equal(t, []domain.ChatType{domain.ChatTypeDM}, dmOnly.Capabilities().ChatTypes)
}

func TestStatus_NotStarted(t *testing.T) {
	ch := New(config.IRCConfig{}, testLogger())
	status := ch.Status()

	assert.Equal(t, "irc", status.ChannelID)
	assert.False(t, status.Connected)
	assert.False(t, status.Running)
	assert.Empty(t, status.LastError)
}

func TestSend_NotConnected(t *testing.T) {
	ch := New(config.IRCConfig{}, testLogger())
	err := ch.Send(context.Background(), domain.OutboundMessage{To: "ana", Body: "hola"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestDefaultPorts(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.IRCConfig
		want int
	}{
		{"TLS defaults to 6697", config.IRCConfig{UseTLS: true}, 6697},
		{"plain defaults to 6667", config.IRCConfig{}, 6667},
		{"explicit port wins", config.IRCConfig{Port: 7000, UseTLS: true}, 7000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.cfg, testLogger()).port())
		})
	}
}

func TestGircConfig(t *testing.T) {
	ch := New(config.IRCConfig{Server: "irc.test", Nick: "vendebot", Password: "pw", SASL: true, UseTLS: true}, testLogger())
	cfg := ch.gircConfig()
	assert.Equal(t, "vendebot", cfg.Nick)
	assert.NotNil(t, cfg.SASL)
	assert.Empty(t, cfg.ServerPass)
	require.NotNil(t, cfg.TLSConfig)
	assert.Equal(t, "irc.test", cfg.TLSConfig.ServerName)

	plain := New(config.IRCConfig{Server: "irc.test", Nick: "vendebot", Password: "pw"}, testLogger()).gircConfig()
	assert.Nil(t, plain.SASL)
	assert.Equal(t, "pw", plain.ServerPass)
}

func TestAccept(t *testing.T) {
	tests := []struct {
		name     string
		dmOnly   bool
		from     string
		target   string
		body     string
		ok       bool
		chatID   string
		chatType domain.ChatType
		want     string
	}{
		{name: "direct message", from: "ana", target: "vendebot", body: " hola ", ok: true, chatID: "ana", chatType: domain.ChatTypeDM, want: "hola"},
		{name: "own echo ignored", from: "VendeBot", target: "ana", body: "hola"},
		{name: "empty direct message", from: "ana", target: "vendebot", body: "  "},
		{name: "channel without mention", from: "ana", target: "#ventas", body: "hola a todos"},
		{name: "channel address", from: "ana", target: "#ventas", body: "vendebot: cuánto cuesta?", ok: true, chatID: "#ventas", chatType: domain.ChatTypeGroup, want: "cuánto cuesta?"},
		{name: "channel mention inside", from: "ana", target: "#ventas", body: "oye vendebot hola", ok: true, chatID: "#ventas", chatType: domain.ChatTypeGroup, want: "oye vendebot hola"},
		{name: "bare mention", from: "ana", target: "#ventas", body: "vendebot:"},
		{name: "dm only ignores channels", dmOnly: true, from: "ana", target: "#ventas", body: "vendebot: hola"},
		{name: "dm only keeps dms", dmOnly: true, from: "ana", target: "vendebot", body: "hola", ok: true, chatID: "ana", chatType: domain.ChatTypeDM, want: "hola"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := New(config.IRCConfig{Nick: "vendebot", DMOnly: tt.dmOnly}, testLogger())
			msg, ok := ch.accept("vendebot", tt.from, tt.target, tt.body)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, "irc", msg.ChannelID)
			assert.Equal(t, tt.from, msg.From)
			assert.Equal(t, tt.chatID, msg.ChatID)
			assert.Equal(t, tt.chatType, msg.ChatType)
			assert.Equal(t, tt.want, msg.Body)
			assert.NotEmpty(t, msg.ID)
		})
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{"short", "hola mundo", 400, []string{"hola mundo"}},
		{"newlines", "uno\n\ndos\ntres", 400, []string{"uno", "dos", "tres"}},
		{"wraps at space", "precio muy bueno hoy", 10, []string{"precio muy", "bueno hoy"}},
		{"hard wrap", "abcdefghijklmnop", 10, []string{"abcdefghij", "klmnop"}},
		{"empty", "", 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitMessage(tt.text, tt.max))
		})
	}
}

func TestSplitMessage_KeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("ñ", 30)
	for _, chunk := range splitMessage(text, 11) {
		assert.True(t, utf8.ValidString(chunk))
		assert.LessOrEqual(t, len(chunk), 11)
	}
}
