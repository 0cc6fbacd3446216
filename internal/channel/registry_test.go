package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

// mockChannel is a test double for domain.Channel.
type mockChannel struct {
	id       string
	startErr error
	stopErr  error
	sendErr  func(n int) error

	mu      sync.Mutex
	started bool
	stopped bool
	sent    []domain.OutboundMessage
	sentAt  []time.Time
	handler func(domain.InboundMessage)
}

func (m *mockChannel) ID() string { return m.id }
func (m *mockChannel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{
		ChatTypes: []domain.ChatType{domain.ChatTypeDM},
	}
}
func (m *mockChannel) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return m.startErr
}
func (m *mockChannel) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return m.stopErr
}
func (m *mockChannel) Send(_ context.Context, msg domain.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		if err := m.sendErr(len(m.sent)); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, msg)
	m.sentAt = append(m.sentAt, time.Now())
	return nil
}
func (m *mockChannel) OnMessage(handler func(domain.InboundMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}
func (m *mockChannel) Status() domain.ChannelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.ChannelStatus{
		ChannelID: m.id,
		Connected: m.started && !m.stopped,
		Running:   m.started && !m.stopped,
	}
}

func (m *mockChannel) isStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *mockChannel) messages() []domain.OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OutboundMessage(nil), m.sent...)
}

// bareChannel has no Status method; Start blocks until cancelled.
type bareChannel struct {
	id       string
	startErr error
	stops    *[]string
}

func (b *bareChannel) ID() string                                         { return b.id }
func (b *bareChannel) Capabilities() domain.ChannelCapabilities           { return domain.ChannelCapabilities{} }
func (b *bareChannel) Send(context.Context, domain.OutboundMessage) error { return nil }
func (b *bareChannel) OnMessage(func(domain.InboundMessage))              {}
func (b *bareChannel) Start(ctx context.Context) error {
	if b.startErr != nil {
		return b.startErr
	}
	<-ctx.Done()
	return nil
}
func (b *bareChannel) Stop(context.Context) error {
	if b.stops != nil {
		*b.stops = append(*b.stops, b.id)
	}
	return nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(testLogger())
	require.NoError(t, reg.Register(&mockChannel{id: "irc"}))

	got, ok := reg.Get("irc")
	require.True(t, ok)
	assert.Equal(t, "irc", got.ID())

	_, ok = reg.Get("telegram")
	assert.False(t, ok)
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewRegistry(testLogger())
	require.NoError(t, reg.Register(&mockChannel{id: "irc"}))
	assert.Error(t, reg.Register(&bareChannel{id: "irc"}))
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_ListAndCount(t *testing.T) {
	reg := NewRegistry(testLogger())
	assert.Equal(t, 0, reg.Count())
	assert.Empty(t, reg.List())

	reg.Register(&mockChannel{id: "irc"})
	reg.Register(&mockChannel{id: "console"})
	assert.Equal(t, []string{"console", "irc"}, reg.List())
	assert.Equal(t, 2, reg.Count())
}

func TestRegistry_Status(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&mockChannel{id: "irc"})
	reg.Register(&bareChannel{id: "console"})

	statuses := reg.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, domain.ChannelStatus{ChannelID: "console"}, statuses[0])
	assert.Equal(t, "irc", statuses[1].ChannelID)
	assert.False(t, statuses[1].Running)
}

func TestRegistry_StatusTracksStartGoroutine(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&bareChannel{id: "console"})
	reg.Register(&bareChannel{id: "broken", startErr: errors.New("dial tcp: refused")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.StartAll(ctx))

	assert.Eventually(t, func() bool {
		st := reg.Status()
		return st[0].LastError != "" && st[1].Running
	}, time.Second, 10*time.Millisecond)

	st := reg.Status()
	assert.Equal(t, "broken", st[0].ChannelID)
	assert.False(t, st[0].Running)
	assert.Equal(t, "dial tcp: refused", st[0].LastError)

	reg.StopAll(context.Background())
	assert.False(t, reg.Status()[1].Running)
}

func TestRegistry_Send(t *testing.T) {
	reg := NewRegistry(testLogger())
	ch := &mockChannel{id: "irc"}
	reg.Register(ch)

	msg := domain.OutboundMessage{ChannelID: "irc", To: "ana", Body: "hola"}
	require.NoError(t, reg.Send(context.Background(), msg))
	assert.Equal(t, []domain.OutboundMessage{msg}, ch.messages())

	err := reg.Send(context.Background(), domain.OutboundMessage{ChannelID: "telegram"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_StartAll(t *testing.T) {
	reg := NewRegistry(testLogger())
	ch1 := &mockChannel{id: "irc"}
	ch2 := &mockChannel{id: "console"}
	reg.Register(ch1)
	reg.Register(ch2)

	require.NoError(t, reg.StartAll(context.Background()))
	assert.Eventually(t, ch1.isStarted, time.Second, 10*time.Millisecond)
	assert.Eventually(t, ch2.isStarted, time.Second, 10*time.Millisecond)
}

func TestRegistry_StartAll_Empty(t *testing.T) {
	reg := NewRegistry(testLogger())
	assert.Error(t, reg.StartAll(context.Background()))
}

func TestRegistry_StopAll_ReverseOrder(t *testing.T) {
	var stops []string
	reg := NewRegistry(testLogger())
	reg.Register(&bareChannel{id: "a", stops: &stops})
	reg.Register(&bareChannel{id: "b", stops: &stops})
	reg.Register(&bareChannel{id: "c", stops: &stops})

	require.NoError(t, reg.StartAll(context.Background()))
	reg.StopAll(context.Background())
	assert.Equal(t, []string{"c", "b", "a"}, stops)
}

func TestRegistry_StopAll_ErrorsDoNotStopOthers(t *testing.T) {
	reg := NewRegistry(testLogger())
	ch1 := &mockChannel{id: "irc"}
	ch2 := &mockChannel{id: "console", stopErr: assert.AnError}
	reg.Register(ch1)
	reg.Register(ch2)

	reg.StopAll(context.Background())
	assert.True(t, ch1.stopped)
	assert.True(t, ch2.stopped)
}
