package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/closer/internal/channel"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/hooks"
	"github.com/soyeahso/closer/internal/logging"
	"github.com/soyeahso/closer/internal/policy"
	"github.com/soyeahso/closer/internal/routing"
	"github.com/soyeahso/closer/internal/signals"
	"github.com/soyeahso/closer/internal/store"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type sentReply struct {
	SessionID string
	Content   string
}

type fakeOutbox struct {
	mu   sync.Mutex
	sent []sentReply
	err  error
}

func (f *fakeOutbox) Send(_ context.Context, sessionID, content string) channel.DeliveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := channel.DeliveryResult{SessionID: sessionID, ChannelID: "irc", Parts: []string{content}}
	if f.err != nil {
		res.Err = &domain.DispatchError{SessionID: sessionID, ChannelID: "irc", Err: f.err}
		return res
	}
	f.sent = append(f.sent, sentReply{sessionID, content})
	res.Sent = 1
	return res
}

func (f *fakeOutbox) Sent() []sentReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentReply(nil), f.sent...)
}

// failingStore fails Commit while delegating everything else.
type failingStore struct {
	store.Store
	err error
}

func (s *failingStore) Commit(context.Context, store.Turn) error { return s.err }

type fakeKnowledge struct{ chunks []store.Chunk }

func (k fakeKnowledge) Search(context.Context, string, int) ([]store.Chunk, error) {
	return k.chunks, nil
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) handle(_ context.Context, p hooks.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p.Event)
	return nil
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type harness struct {
	orch   *Orchestrator
	store  store.Store
	outbox *fakeOutbox
	clock  *clock
	events *recorder
}

func newHarness(t *testing.T, provider signals.Provider, opts ...func(*Deps, *Options)) *harness {
	t.Helper()
	h := &harness{
		store:  store.NewMemoryStore(),
		outbox: &fakeOutbox{},
		clock:  &clock{now: t0},
		events: &recorder{},
	}
	mgr := hooks.NewManager(testLogger())
	mgr.On(hooks.Wildcard, "recorder", h.events.handle)

	deps := Deps{
		Store:   h.store,
		Signals: provider,
		Outbox:  h.outbox,
		Policy:  policy.Default(),
		Hooks:   mgr,
	}
	o := Options{Timeout: time.Second, ReplyTimeout: time.Second, Now: h.clock.Now}
	for _, fn := range opts {
		fn(&deps, &o)
	}
	if deps.Store != h.store {
		h.store = deps.Store
	}
	h.orch = New(deps, o, testLogger())
	return h
}

func inbound(from, body string) domain.InboundMessage {
	return domain.InboundMessage{ChannelID: "irc", ChatID: from, From: from, ChatType: domain.ChatTypeDM, Body: body}
}

func inboundAt(from, body string, at time.Time) domain.InboundMessage {
	m := inbound(from, body)
	m.Timestamp = at
	return m
}

const anaID = "irc:ana:ana"

func (h *harness) turn(t *testing.T, msg domain.InboundMessage) *TurnResult {
	t.Helper()
	res, err := h.orch.HandleInbound(context.Background(), msg)
	require.NoError(t, err)
	return res
}

func (h *harness) session(t *testing.T, id string) domain.Session {
	t.Helper()
	sess, err := h.store.LoadSession(context.Background(), id)
	require.NoError(t, err)
	return *sess
}

func TestHandleInbound_NameCapturedOnSecondTurn(t *testing.T) {
	h := newHarness(t, signals.NewHeuristic(policy.Default()))

	res := h.turn(t, inbound("ana", "hola"))
	assert.Equal(t, routing.HandlerConversation, res.Decision.Handler)
	assert.True(t, res.Decision.Welcome)
	assert.Empty(t, res.Session.Facts.Name)
	assert.Equal(t, policy.Default().Replies.Welcome, res.Reply)

	res = h.turn(t, inbound("ana", "Lucas"))
	assert.False(t, res.Decision.Welcome)
	assert.Equal(t, "Lucas", res.Session.Facts.Name)

	sess := h.session(t, anaID)
	assert.Equal(t, "Lucas", sess.Facts.Name)
	assert.Equal(t, 4, sess.MessageCount)
	assert.Equal(t, domain.StageQualifying, sess.Stage)
	assert.Len(t, h.outbox.Sent(), 2)
}

func TestHandleInbound_MalformedEmailRejected(t *testing.T) {
	h := newHarness(t, &signals.Stub{Facts: domain.Facts{Email: "test@test", Name: "ana"}})

	res := h.turn(t, inbound("ana", "mi correo es test@test"))
	assert.Empty(t, res.Session.Facts.Email)
	assert.Equal(t, "Ana", res.Session.Facts.Name)

	var rejected []domain.Field
	for _, out := range res.Outcomes {
		if !out.Accepted {
			rejected = append(rejected, out.Field)
			assert.ErrorIs(t, out.Err(), domain.ErrValidationRejected)
		}
	}
	assert.Equal(t, []domain.Field{domain.FieldEmail}, rejected)
}

func TestHandleInbound_AcceptedFactSurvivesRejectedCandidate(t *testing.T) {
	stub := &signals.Stub{Facts: domain.Facts{Email: "ana@example.com"}}
	h := newHarness(t, stub)
	h.turn(t, inbound("ana", "ana@example.com"))

	stub.Facts = domain.Facts{Email: "no-es-correo"}
	res := h.turn(t, inbound("ana", "no-es-correo"))
	assert.Equal(t, "ana@example.com", res.Session.Facts.Email)
}

func TestHandleInbound_HighIntentWithoutEmailGoesToPayment(t *testing.T) {
	h := newHarness(t, &signals.Stub{Intent: 0.95, Reply: "¡Genial! Te paso el enlace."})

	res := h.turn(t, inbound("ana", "lo quiero"))
	assert.Equal(t, routing.HandlerPayment, res.Decision.Handler)
	assert.Empty(t, res.Session.Facts.Email)
	assert.Equal(t, domain.StageClosing, res.Session.Stage)
	assert.Contains(t, res.Reply, "https://example.com/pay")
	assert.True(t, res.Delivered())
}

func TestHandleInbound_TwoNegativeTurnsEscalate(t *testing.T) {
	h := newHarness(t, &signals.Stub{Sentiment: domain.SentimentNegative})

	first := h.turn(t, inbound("ana", "esto es malo, adiós"))
	assert.Equal(t, routing.HandlerFollowUp, first.Decision.Handler)
	require.NotNil(t, first.FollowUp)
	assert.Equal(t, 1, first.Session.ConsecutiveNegative)

	second := h.turn(t, inbound("ana", "pésimo servicio"))
	assert.Equal(t, routing.HandlerDeescalate, second.Decision.Handler)
	assert.Equal(t, domain.ModeNeedsAttention, second.Session.Mode)
	assert.Empty(t, second.Session.PendingFollowUp)
	require.NotNil(t, second.Cancelled)
	assert.Equal(t, first.FollowUp.ID, second.Cancelled.ID)

	fu, err := h.store.GetFollowUp(context.Background(), first.FollowUp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowUpCancelled, fu.Status)
	assert.Contains(t, h.events.Events(), hooks.EventHandoffRequested)
	assert.Contains(t, h.events.Events(), hooks.EventFollowUpCancelled)
}

func TestHandleInbound_ResetSchedulesFromLatestMessage(t *testing.T) {
	h := newHarness(t, &signals.Stub{})

	first := h.turn(t, inboundAt("ana", "bueno, adiós", t0))
	require.NotNil(t, first.FollowUp)
	assert.Equal(t, t0.Add(2*time.Hour), first.FollowUp.ScheduledAt)
	assert.Equal(t, 1, first.FollowUp.Tier)

	h.clock.Set(t0.Add(time.Hour))
	second := h.turn(t, inboundAt("ana", "chao", t0.Add(time.Hour)))
	require.NotNil(t, second.FollowUp)
	assert.Equal(t, t0.Add(3*time.Hour), second.FollowUp.ScheduledAt)
	assert.Equal(t, 1, second.FollowUp.Tier)

	fus, err := h.store.ListFollowUps(context.Background(), anaID)
	require.NoError(t, err)
	pending := 0
	for _, fu := range fus {
		if fu.Pending() {
			pending++
			assert.Equal(t, second.FollowUp.ID, fu.ID)
		}
	}
	assert.Equal(t, 1, pending)
	assert.Equal(t, second.FollowUp.ID, h.session(t, anaID).PendingFollowUp)
}

func TestHandleInbound_SkewedChannelClockKeepsFollowUpLive(t *testing.T) {
	h := newHarness(t, &signals.Stub{})

	// The channel stamps the message ten minutes ahead of the process clock.
	res := h.turn(t, inboundAt("ana", "bueno, adiós", t0.Add(10*time.Minute)))
	require.NotNil(t, res.FollowUp)
	assert.Equal(t, t0, res.Session.LastInboundAt)
	assert.Equal(t, t0, res.FollowUp.CreatedAt)
	assert.False(t, res.Session.LastInboundAt.After(res.FollowUp.CreatedAt),
		"the customer has not replied since the follow-up was created")
	assert.Equal(t, t0.Add(10*time.Minute+2*time.Hour), res.FollowUp.ScheduledAt)
}

func TestHandleInbound_ProviderFailureKeepsPriorValues(t *testing.T) {
	stub := &signals.Stub{Intent: 0.4, Sentiment: domain.SentimentPositive}
	h := newHarness(t, stub)
	h.turn(t, inbound("ana", "me interesa"))

	stub.IntentFunc = func(ctx context.Context, _ string) (float64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	stub.SentimentFunc = func(context.Context, string) (domain.Sentiment, error) {
		return "", errors.New("quota exceeded")
	}
	stub.ExtractFunc = func(context.Context, string, domain.Facts) (domain.Facts, error) {
		return domain.Facts{}, errors.New("bad json")
	}
	stub.ReplyFunc = func(context.Context, signals.Context, routing.HandlerKind) (string, error) {
		return "", errors.New("overloaded")
	}
	h.orch.opts.Timeout = 20 * time.Millisecond

	res := h.turn(t, inbound("ana", "sigo aquí"))
	assert.InDelta(t, 0.4, res.Session.IntentScore, 1e-9)
	assert.Equal(t, domain.SentimentPositive, res.Session.Sentiment)
	assert.Len(t, res.Degraded, 4)
	assert.Contains(t, res.Session.Notes, "intent provider")
	assert.Contains(t, res.Session.Notes, "quota exceeded")
	assert.Equal(t, policy.Default().Replies.Conversation, res.Reply)
	assert.True(t, res.Delivered())
}

func TestHandleInbound_PersistenceFailureSendsNothing(t *testing.T) {
	mem := store.NewMemoryStore()
	h := newHarness(t, &signals.Stub{}, func(d *Deps, _ *Options) {
		d.Store = &failingStore{Store: mem, err: errors.New("disk full")}
	})

	res, err := h.orch.HandleInbound(context.Background(), inbound("ana", "hola"))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Empty(t, h.outbox.Sent())
	assert.Empty(t, h.events.Events())

	_, err = mem.LoadSession(context.Background(), anaID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHandleInbound_DeliveryFailureStillCommits(t *testing.T) {
	h := newHarness(t, &signals.Stub{})
	h.outbox.err = errors.New("connection reset")

	res := h.turn(t, inbound("ana", "hola"))
	assert.False(t, res.Delivered())
	assert.ErrorIs(t, res.Delivery.Err, domain.ErrDispatch)
	assert.Contains(t, h.events.Events(), hooks.EventDeliveryFailed)

	msgs, err := h.store.Messages(context.Background(), anaID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestHandleInbound_ManualModeSkipsProviders(t *testing.T) {
	stub := &signals.Stub{}
	h := newHarness(t, stub)
	h.turn(t, inbound("ana", "hola"))

	_, err := h.orch.SetMode(context.Background(), anaID, domain.ModeManual)
	require.NoError(t, err)

	res := h.turn(t, inbound("ana", "¿sigues ahí?"))
	assert.Equal(t, routing.HandlerManual, res.Decision.Handler)
	assert.Empty(t, res.Reply)
	assert.Equal(t, 1, stub.Calls("intent"))
	assert.Equal(t, 1, stub.Calls("reply"))
	assert.Len(t, h.outbox.Sent(), 1)
	assert.Contains(t, h.events.Events(), hooks.EventOperatorQueued)

	msgs, err := h.store.Messages(context.Background(), anaID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "¿sigues ahí?", msgs[2].Text)
}

func TestHandleInbound_HumanRequestHandsOff(t *testing.T) {
	h := newHarness(t, &signals.Stub{Intent: 0.95})

	res := h.turn(t, inbound("ana", "quiero hablar con una persona real"))
	assert.Equal(t, routing.HandlerHandoff, res.Decision.Handler)
	assert.True(t, res.Session.RequestsHuman)
	assert.Equal(t, domain.ModeNeedsAttention, res.Session.Mode)

	// Still escalated: the next message waits for the operator.
	res = h.turn(t, inbound("ana", "¿hola?"))
	assert.Equal(t, routing.HandlerManual, res.Decision.Handler)

	sess, err := h.orch.ResolveHandoff(context.Background(), anaID)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeAuto, sess.Mode)
	assert.False(t, sess.RequestsHuman)
	assert.Zero(t, sess.ConsecutiveNegative)

	res = h.turn(t, inbound("ana", "gracias, quiero comprar"))
	assert.Equal(t, routing.HandlerPayment, res.Decision.Handler)
}

func TestHandleInbound_HandoffReplyIsFixed(t *testing.T) {
	stub := &signals.Stub{Reply: "Claro, ¿te cuento primero sobre el curso?"}
	h := newHarness(t, stub)

	res := h.turn(t, inbound("ana", "quiero hablar con un humano"))
	require.Equal(t, routing.HandlerHandoff, res.Decision.Handler)

	want := policy.FillName(policy.Default().Replies.Handoff, "")
	assert.Equal(t, want, res.Reply)
	require.Len(t, h.outbox.Sent(), 1)
	assert.Equal(t, want, h.outbox.Sent()[0].Content)
	assert.Zero(t, stub.Calls("reply"), "handoff must not ask the provider for text")
	assert.Empty(t, res.Degraded)
}

func TestHandleInbound_PaymentTurnSummarized(t *testing.T) {
	var seen signals.Context
	stub := &signals.Stub{
		Intent: 0.95,
		Facts:  domain.Facts{Name: "ana"},
		SummarizeFunc: func(_ context.Context, c signals.Context) (string, error) {
			seen = c
			return " Ana quiere comprar el curso. ", nil
		},
	}
	h := newHarness(t, stub)

	res := h.turn(t, inbound("ana", "quiero comprar"))
	require.Equal(t, routing.HandlerPayment, res.Decision.Handler)
	assert.Equal(t, 1, stub.Calls("summary"))
	assert.Equal(t, "Ana quiere comprar el curso.", res.Summary)
	assert.Empty(t, res.Degraded)

	require.NotEmpty(t, seen.History)
	last := seen.History[len(seen.History)-1]
	assert.Equal(t, domain.SenderBot, last.Sender)
	assert.Equal(t, res.Reply, last.Text)
	assert.Equal(t, "Ana", seen.Session.Facts.Name)

	sess := h.session(t, anaID)
	assert.Contains(t, sess.Notes, "summary: Ana quiere comprar el curso.")
}

func TestHandleInbound_FollowUpTurnSummarized(t *testing.T) {
	stub := &signals.Stub{Summary: "Cliente se despide sin comprar."}
	h := newHarness(t, stub)

	res := h.turn(t, inbound("ana", "bueno, adiós"))
	require.Equal(t, routing.HandlerFollowUp, res.Decision.Handler)
	assert.Equal(t, 1, stub.Calls("summary"))
	assert.Contains(t, h.session(t, anaID).Notes, "summary: Cliente se despide sin comprar.")
}

func TestHandleInbound_ConversationTurnNotSummarized(t *testing.T) {
	stub := &signals.Stub{Intent: 0.4}
	h := newHarness(t, stub)

	res := h.turn(t, inbound("ana", "hola"))
	require.Equal(t, routing.HandlerConversation, res.Decision.Handler)
	assert.Zero(t, stub.Calls("summary"))
	assert.Empty(t, res.Summary)
	assert.NotContains(t, res.Session.Notes, "summary")
}

func TestHandleInbound_SummaryFailureDegrades(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ctx context.Context, c signals.Context) (string, error)
		want string
	}{
		{"error", func(context.Context, signals.Context) (string, error) {
			return "", errors.New("overloaded")
		}, "overloaded"},
		{"timeout", func(ctx context.Context, _ signals.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}, "deadline exceeded"},
		{"blank", func(context.Context, signals.Context) (string, error) {
			return "  ", nil
		}, "empty summary"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &signals.Stub{Intent: 0.95, SummarizeFunc: tt.fn}
			h := newHarness(t, stub, func(_ *Deps, o *Options) { o.Timeout = 20 * time.Millisecond })

			res := h.turn(t, inbound("ana", "quiero comprar"))
			require.Equal(t, routing.HandlerPayment, res.Decision.Handler)
			assert.Empty(t, res.Summary)
			require.Len(t, res.Degraded, 1)
			assert.Contains(t, res.Degraded[0], "summary provider")
			assert.Contains(t, res.Degraded[0], tt.want)
			assert.True(t, res.Delivered())

			notes := h.session(t, anaID).Notes
			assert.Contains(t, notes, "summary provider")
			assert.NotContains(t, notes, "summary: ")
		})
	}
}

func TestHandleInbound_KnowledgeReachesReply(t *testing.T) {
	var seen []string
	stub := &signals.Stub{ReplyFunc: func(_ context.Context, c signals.Context, _ routing.HandlerKind) (string, error) {
		seen = c.Knowledge
		return "ok", nil
	}}
	h := newHarness(t, stub, func(d *Deps, _ *Options) {
		d.Knowledge = fakeKnowledge{chunks: []store.Chunk{{Content: "Envío gratis a todo el país."}}}
	})

	h.turn(t, inbound("ana", "¿hacen envíos?"))
	assert.Equal(t, []string{"Envío gratis a todo el país."}, seen)
}

func TestHandleInbound_PaymentLinkAppended(t *testing.T) {
	h := newHarness(t, &signals.Stub{Reply: "¡Perfecto! Te dejo el enlace."})

	res := h.turn(t, inbound("ana", "quiero comprar"))
	assert.Equal(t, routing.HandlerPayment, res.Decision.Handler)
	assert.True(t, strings.HasSuffix(res.Reply, "[PAUSA] https://example.com/pay"), res.Reply)
}

func TestHandleInbound_SameSessionSerialized(t *testing.T) {
	h := newHarness(t, &signals.Stub{})

	const n = 10
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.HandleInbound(context.Background(), inbound("ana", "hola"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sess := h.session(t, anaID)
	assert.Equal(t, 2*n, sess.MessageCount)
	assert.Zero(t, h.orch.Locks().Held())
}

func TestSetMode(t *testing.T) {
	h := newHarness(t, &signals.Stub{})
	h.turn(t, inbound("ana", "hola"))
	before := h.session(t, anaID)

	_, err := h.orch.SetMode(context.Background(), anaID, domain.ModeNeedsAttention)
	require.ErrorIs(t, err, domain.ErrInvalidModeTransition)
	var mte *domain.ModeTransitionError
	require.ErrorAs(t, err, &mte)
	assert.Equal(t, domain.ActorOperator, mte.Actor)

	if diff := cmp.Diff(before, h.session(t, anaID), cmpopts.EquateApproxTime(0)); diff != "" {
		t.Errorf("rejected transition changed the session (-before +after):\n%s", diff)
	}

	sess, err := h.orch.SetMode(context.Background(), anaID, domain.ModeManual)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeManual, sess.Mode)
	assert.Contains(t, sess.Notes, "AUTO -> MANUAL")

	_, err = h.orch.SetMode(context.Background(), "irc:nadie:nadie", domain.ModeManual)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetMode_AutoKeepsHandoffTrigger(t *testing.T) {
	h := newHarness(t, &signals.Stub{})
	h.turn(t, inbound("ana", "quiero hablar con un humano"))

	sess, err := h.orch.SetMode(context.Background(), anaID, domain.ModeAuto)
	require.NoError(t, err)
	assert.True(t, sess.RequestsHuman)

	res := h.turn(t, inbound("ana", "hola"))
	assert.Equal(t, routing.HandlerHandoff, res.Decision.Handler)
	assert.Equal(t, domain.ModeNeedsAttention, res.Session.Mode)
}

func TestSetStage_CanMoveBackwards(t *testing.T) {
	h := newHarness(t, &signals.Stub{Intent: 0.95})
	h.turn(t, inbound("ana", "lo compro"))
	require.Equal(t, domain.StageClosing, h.session(t, anaID).Stage)

	sess, err := h.orch.SetStage(context.Background(), anaID, domain.StageNurturing)
	require.NoError(t, err)
	assert.Equal(t, domain.StageNurturing, sess.Stage)

	_, err = h.orch.SetStage(context.Background(), anaID, domain.Stage("LOST"))
	assert.Error(t, err)
}

func TestOperatorReply(t *testing.T) {
	h := newHarness(t, &signals.Stub{})
	h.turn(t, inbound("ana", "hola"))

	res, err := h.orch.OperatorReply(context.Background(), anaID, "  Hola Ana, soy Marta del equipo.  ")
	require.NoError(t, err)
	assert.True(t, res.OK())

	msgs, err := h.store.Messages(context.Background(), anaID, 0)
	require.NoError(t, err)
	last := msgs[len(msgs)-1]
	assert.Equal(t, domain.SenderOperator, last.Sender)
	assert.Equal(t, "Hola Ana, soy Marta del equipo.", last.Text)
	assert.Equal(t, domain.ModeAuto, h.session(t, anaID).Mode)

	_, err = h.orch.OperatorReply(context.Background(), anaID, " ")
	assert.ErrorIs(t, err, ErrEmptyReply)
}
