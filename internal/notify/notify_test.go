package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/hooks"
	"github.com/soyeahso/closer/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNotifier struct {
	id         string
	initErr    error
	initCalls  int
	closeCalls int
	closed     *[]string
}

func (n *testNotifier) ID() string { return n.id }
func (n *testNotifier) Init(_ context.Context, _ API) error {
	n.initCalls++
	return n.initErr
}
func (n *testNotifier) Close() error {
	n.closeCalls++
	if n.closed != nil {
		*n.closed = append(*n.closed, n.id)
	}
	return nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []domain.OutboundMessage
}

func (s *recordingSender) Send(_ context.Context, msg domain.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func testRegistry(sender Sender) (*Registry, *hooks.Manager) {
	log := logging.New(nil, "silent")
	hm := hooks.NewManager(log)
	return NewRegistry(hm, sender, log), hm
}

func TestRegistry_Register(t *testing.T) {
	reg, _ := testRegistry(nil)
	require.NoError(t, reg.Register(&testNotifier{id: "a"}))
	require.NoError(t, reg.Register(&testNotifier{id: "b"}))
	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, []string{"a", "b"}, reg.List())

	err := reg.Register(&testNotifier{id: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_InitAndCloseOrder(t *testing.T) {
	reg, _ := testRegistry(nil)
	var closed []string
	a := &testNotifier{id: "a", closed: &closed}
	b := &testNotifier{id: "b", closed: &closed}
	reg.Register(a)
	reg.Register(b)

	require.NoError(t, reg.InitAll(context.Background()))
	assert.Equal(t, 1, a.initCalls)
	assert.Equal(t, 1, b.initCalls)

	reg.CloseAll()
	assert.Equal(t, []string{"b", "a"}, closed)
}

func TestRegistry_InitAll_ErrorClosesInitialized(t *testing.T) {
	reg, _ := testRegistry(nil)
	var closed []string
	a := &testNotifier{id: "a", closed: &closed}
	bad := &testNotifier{id: "bad", initErr: assert.AnError, closed: &closed}
	reg.Register(a)
	reg.Register(bad)

	err := reg.InitAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, []string{"a"}, closed)
}

func TestAuditLog_WritesEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	reg, hm := testRegistry(nil)
	require.NoError(t, reg.Register(NewAuditLog(path)))
	require.NoError(t, reg.InitAll(context.Background()))

	ctx := context.Background()
	hm.Emit(ctx, hooks.EventMessageReceived, map[string]any{"sessionId": "irc:ana:ana"})
	hm.Emit(ctx, hooks.EventGatewayStart, nil)
	reg.CloseAll()
	hm.Emit(ctx, hooks.EventGatewayStop, nil)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, hooks.EventMessageReceived, lines[0]["event"])
	assert.Equal(t, "irc:ana:ana", lines[0]["sessionId"])
	assert.Contains(t, lines[0], "time")
	assert.Equal(t, hooks.EventGatewayStart, lines[1]["event"])
}

func TestAlert_SendsSelectedEvents(t *testing.T) {
	sender := &recordingSender{}
	reg, hm := testRegistry(sender)
	require.NoError(t, reg.Register(NewAlert(config.AlertConfig{Channel: "irc", To: "boss"})))
	require.NoError(t, reg.InitAll(context.Background()))
	defer reg.CloseAll()

	ctx := context.Background()
	hm.Emit(ctx, hooks.EventMessageReceived, map[string]any{"sessionId": "irc:ana:ana"})
	hm.Emit(ctx, hooks.EventHandoffRequested, map[string]any{"sessionId": "irc:ana:ana", "handler": "handoff"})
	hm.Emit(ctx, hooks.EventFollowUpEscalated, map[string]any{"sessionId": "irc:beto:beto"})

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "irc", sender.sent[0].ChannelID)
	assert.Equal(t, "boss", sender.sent[0].To)
	assert.Equal(t, "[closer] handoff.requested session=irc:ana:ana handler=handoff", sender.sent[0].Body)
	assert.Equal(t, "[closer] followup.escalated session=irc:beto:beto", sender.sent[1].Body)
}

func TestAlert_RequiresSender(t *testing.T) {
	reg, _ := testRegistry(nil)
	require.NoError(t, reg.Register(NewAlert(config.AlertConfig{Channel: "irc", To: "boss"})))
	assert.Error(t, reg.InitAll(context.Background()))
}

func TestAlert_CloseUnsubscribes(t *testing.T) {
	sender := &recordingSender{}
	reg, hm := testRegistry(sender)
	reg.Register(NewAlert(config.AlertConfig{Channel: "irc", To: "boss", Events: []string{hooks.EventDeliveryFailed}}))
	require.NoError(t, reg.InitAll(context.Background()))
	assert.Equal(t, 1, hm.Count(hooks.EventDeliveryFailed))

	reg.CloseAll()
	hm.Emit(context.Background(), hooks.EventDeliveryFailed, map[string]any{"sessionId": "x"})
	assert.Empty(t, sender.sent)
}

func TestAlertText(t *testing.T) {
	tests := []struct {
		name string
		p    hooks.Payload
		want string
	}{
		{"bare", hooks.Payload{Event: "gateway.start"}, "[closer] gateway.start"},
		{
			"error",
			hooks.Payload{Event: hooks.EventDeliveryFailed, Data: map[string]any{"sessionId": "s", "error": "boom"}},
			"[closer] delivery_failed session=s error=boom",
		},
		{
			"message",
			hooks.Payload{Event: hooks.EventOperatorQueued, Data: map[string]any{
				"sessionId": "s",
				"message":   domain.Message{Text: "quiero hablar con alguien"},
			}},
			`[closer] operator.queued session=s last="quiero hablar con alguien"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, alertText(tt.p))
		})
	}
}
