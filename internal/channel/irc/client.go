// Package irc implements the IRC messaging channel using the girc library.
// Private messages open one session per nick; in joined channels the bot
// only answers lines that mention its nick.
package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"
	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/logging"
	"github.com/soyeahso/closer/internal/version"
)

const (
	channelID = "irc"
	// maxLineBytes keeps a PRIVMSG under the 512 byte protocol limit once
	// the prefix and target are added.
	maxLineBytes = 400
)

var (
	errNotConnected = errors.New("irc: not connected")
	errNoTarget     = errors.New("irc: message has no target")
)

// Channel is the IRC transport. One Channel holds one server connection.
type Channel struct {
	cfg config.IRCConfig
	log *logging.Logger

	mu      sync.RWMutex
	client  *girc.Client
	handler func(msg domain.InboundMessage)
	running bool
	lastErr string
}

func New(cfg config.IRCConfig, log *logging.Logger) *Channel {
	return &Channel{cfg: cfg, log: log.Sub(channelID)}
}

func (c *Channel) ID() string { return channelID }

func (c *Channel) Capabilities() domain.ChannelCapabilities {
	caps := domain.ChannelCapabilities{
		ChatTypes:     []domain.ChatType{domain.ChatTypeDM},
		MaxMessageLen: maxLineBytes,
	}
	if !c.cfg.DMOnly {
		caps.ChatTypes = append(caps.ChatTypes, domain.ChatTypeGroup)
	}
	return caps
}

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: channelID,
		Connected: c.connectedLocked(),
		Running:   c.running,
		LastError: c.lastErr,
	}
}

func (c *Channel) connectedLocked() bool {
	return c.client != nil && c.client.IsConnected()
}

// setRunning records the connection state; a nil err leaves the last error.
func (c *Channel) setRunning(running bool, err error) {
	c.mu.Lock()
	c.running = running
	if err != nil {
		c.lastErr = err.Error()
	}
	c.mu.Unlock()
}

// port defaults to 6697 with TLS and 6667 without.
func (c *Channel) port() int {
	switch {
	case c.cfg.Port != 0:
		return c.cfg.Port
	case c.cfg.UseTLS:
		return 6697
	default:
		return 6667
	}
}

// gircConfig authenticates with SASL PLAIN when enabled, otherwise with
// PASS.
func (c *Channel) gircConfig() girc.Config {
	conf := girc.Config{
		Server:  c.cfg.Server,
		Port:    c.port(),
		Nick:    c.cfg.Nick,
		User:    c.cfg.Nick,
		Name:    "closer sales assistant",
		Version: version.UserAgent(),
		SSL:     c.cfg.UseTLS,
	}
	if conf.SSL {
		conf.TLSConfig = &tls.Config{ServerName: c.cfg.Server, MinVersion: tls.VersionTLS12}
	}
	switch {
	case c.cfg.Password == "":
	case c.cfg.SASL:
		conf.SASL = &girc.SASLPlain{User: c.cfg.Nick, Pass: c.cfg.Password}
	default:
		conf.ServerPass = c.cfg.Password
	}
	return conf
}

// Start connects and blocks until the connection drops or ctx ends.
func (c *Channel) Start(ctx context.Context) error {
	client := girc.New(c.gircConfig())
	c.registerHandlers(client)

	c.mu.Lock()
	c.client, c.running, c.lastErr = client, true, ""
	c.mu.Unlock()

	c.log.Info().Str("server", c.cfg.Server).Int("port", c.port()).Str("nick", c.cfg.Nick).
		Strs("channels", c.cfg.Channels).Bool("tls", c.cfg.UseTLS).Bool("dmOnly", c.cfg.DMOnly).
		Msg("connecting")

	done := make(chan error, 1)
	go func() { done <- client.Connect() }()

	var err error
	select {
	case err = <-done:
		if err != nil {
			err = fmt.Errorf("irc connect: %w", err)
		}
	case <-ctx.Done():
		client.Close()
		<-done
		err = ctx.Err()
	}
	if ctx.Err() != nil {
		c.setRunning(false, nil)
	} else {
		c.setRunning(false, err)
	}
	return err
}

// Stop sends QUIT. Start returns once the server closes the link.
func (c *Channel) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectedLocked() {
		c.log.Info().Msg("quitting")
		c.client.Quit("closing up shop")
	}
	c.running = false
	return nil
}

// Send writes msg.Body to msg.To, one PRIVMSG per line of splitMessage.
func (c *Channel) Send(_ context.Context, msg domain.OutboundMessage) error {
	c.mu.RLock()
	client, ok := c.client, c.connectedLocked()
	c.mu.RUnlock()
	switch {
	case !ok:
		return errNotConnected
	case msg.To == "":
		return errNoTarget
	}

	lines := splitMessage(msg.Body, maxLineBytes)
	for _, line := range lines {
		client.Cmd.Message(msg.To, line)
	}
	c.log.Debug().Str("to", msg.To).Int("lines", len(lines)).Msg("sent")
	return nil
}

func (c *Channel) registerHandlers(client *girc.Client) {
	client.Handlers.Add(girc.CONNECTED, c.onConnected)
	client.Handlers.Add(girc.PRIVMSG, c.onPrivmsg)
	client.Handlers.Add(girc.DISCONNECTED, c.onDisconnected)
}

func (c *Channel) onConnected(client *girc.Client, _ girc.Event) {
	c.log.Info().Str("nick", client.GetNick()).Msg("connected")
	if c.cfg.DMOnly {
		return
	}
	for _, ch := range c.cfg.Channels {
		client.Cmd.Join(ch)
	}
}

func (c *Channel) onPrivmsg(client *girc.Client, e girc.Event) {
	if e.Source == nil || len(e.Params) == 0 {
		return
	}
	body := e.Last()
	if e.IsAction() {
		body = e.StripAction()
	}

	msg, ok := c.accept(client.GetNick(), e.Source.Name, e.Params[0], body)
	if !ok {
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

// accept turns one PRIVMSG into an inbound message, or reports false when
// the bot should stay quiet. In channels only lines addressed to the bot
// are taken, with the mention stripped.
func (c *Channel) accept(self, from, target, body string) (domain.InboundMessage, bool) {
	if strings.EqualFold(from, self) {
		return domain.InboundMessage{}, false
	}

	msg := domain.InboundMessage{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		From:      from,
		FromName:  from,
		Timestamp: time.Now(),
	}

	if !girc.IsValidChannel(target) {
		msg.ChatID = from
		msg.ChatType = domain.ChatTypeDM
		msg.Body = strings.TrimSpace(body)
		return msg, msg.Body != ""
	}

	if c.cfg.DMOnly {
		return domain.InboundMessage{}, false
	}
	stripped, mentioned := stripMention(body, self)
	if !mentioned || stripped == "" {
		return domain.InboundMessage{}, false
	}
	msg.ChatID = target
	msg.ChatType = domain.ChatTypeGroup
	msg.Body = stripped
	return msg, true
}

func (c *Channel) onDisconnected(*girc.Client, girc.Event) {
	c.log.Warn().Msg("disconnected")
	c.setRunning(false, nil)
}

// stripMention reports whether body addresses nick ("nick: hi", "nick, hi"
// or a bare mention anywhere) and returns the text with a leading address
// removed.
func stripMention(body, nick string) (string, bool) {
	body = strings.TrimSpace(body)
	lower := strings.ToLower(body)
	n := strings.ToLower(nick)
	if n == "" || !strings.Contains(lower, n) {
		return body, false
	}
	if strings.HasPrefix(lower, n) {
		rest := strings.TrimLeft(body[len(n):], ":,; ")
		return strings.TrimSpace(rest), true
	}
	return body, true
}

// splitMessage breaks text into IRC lines. Each newline starts a new line
// and blank lines are dropped. Lines longer than maxLen bytes are wrapped at
// the last space, or at a rune boundary when there is none.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \r\t")
		for len(line) > maxLen {
			cut := wrapAt(line, maxLen)
			chunks = append(chunks, strings.TrimRight(line[:cut], " "))
			line = strings.TrimLeft(line[cut:], " ")
		}
		if line != "" {
			chunks = append(chunks, line)
		}
	}
	return chunks
}

func wrapAt(line string, maxLen int) int {
	if i := strings.LastIndexByte(line[:maxLen+1], ' '); i > 0 {
		return i
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	if cut == 0 {
		_, size := utf8.DecodeRuneInString(line)
		return size
	}
	return cut
}
