package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionKeyString(t *testing.T) {
	tests := []struct {
		name string
		key  SessionKey
		want string
	}{
		{"with sender", SessionKey{ChannelID: "irc", ChatID: "#ventas", SenderID: "alice"}, "irc:#ventas:alice"},
		{"without sender", SessionKey{ChannelID: "irc", ChatID: "alice"}, "irc:alice"},
		{"empty fields", SessionKey{}, ":"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.String())
		})
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" manual ")
	require.NoError(t, err)
	assert.Equal(t, ModeManual, m)

	m, err = ParseMode("needs_attention")
	require.NoError(t, err)
	assert.Equal(t, ModeNeedsAttention, m)

	_, err = ParseMode("paused")
	assert.Error(t, err)
}

func TestStageAdvance(t *testing.T) {
	tests := []struct {
		cur, next, want Stage
	}{
		{StageWelcome, StageQualifying, StageQualifying},
		{StageClosing, StageQualifying, StageClosing},
		{StageNurturing, StageNurturing, StageNurturing},
		{StageClosing, StageSold, StageSold},
		{StageSold, StageWelcome, StageSold},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.cur, tt.next), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cur.Advance(tt.next))
		})
	}
}

func TestParseStage(t *testing.T) {
	st, err := ParseStage("sold")
	require.NoError(t, err)
	assert.Equal(t, StageSold, st)

	_, err = ParseStage("done")
	assert.Error(t, err)
	assert.False(t, Stage("done").Valid())
}

func TestParseSentiment(t *testing.T) {
	assert.Equal(t, SentimentPositive, ParseSentiment("positive"))
	assert.Equal(t, SentimentNegative, ParseSentiment(" NEGATIVO."))
	assert.Equal(t, SentimentNeutral, ParseSentiment("meh"))
	assert.Equal(t, SentimentNeutral, ParseSentiment(""))
}

func TestFactsGetSet(t *testing.T) {
	var f Facts
	for _, field := range Fields {
		f = f.Set(field, string(field)+"-value")
	}
	for _, field := range Fields {
		assert.Equal(t, string(field)+"-value", f.Get(field))
	}
	assert.Empty(t, f.Missing())

	f = f.Set(FieldEmail, "")
	assert.Equal(t, []Field{FieldEmail}, f.Missing())
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-0.3))
	assert.Equal(t, 1.0, ClampScore(1.7))
	assert.Equal(t, 0.42, ClampScore(0.42))
	assert.Equal(t, 0.0, ClampScore(math.NaN()))
}

func TestSessionObserveSentiment(t *testing.T) {
	s := NewSession("s1", SessionKey{ChannelID: "irc", ChatID: "bob"}, time.Now())
	assert.Equal(t, ModeAuto, s.Mode)
	assert.Equal(t, StageWelcome, s.Stage)

	s.ObserveSentiment(SentimentNegative)
	s.ObserveSentiment(SentimentNegative)
	assert.Equal(t, 2, s.ConsecutiveNegative)

	s.ObserveSentiment(SentimentNeutral)
	assert.Equal(t, 0, s.ConsecutiveNegative)
	assert.Equal(t, SentimentNeutral, s.Sentiment)
}

func TestSessionAppendNote(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var s Session
	s.AppendNote(now, "intent provider: %s", "timeout")
	s.AppendNote(now, "second")
	assert.Equal(t, "[2026-03-01 10:00:00] intent provider: timeout\n[2026-03-01 10:00:00] second", s.Notes)
}

func TestSessionJSON(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	s := NewSession("s1", SessionKey{ChannelID: "irc", ChatID: "#ventas", SenderID: "ana"}, now)
	s.Facts.Name = "Ana"

	data, err := json.Marshal(s)
	require.NoError(t, err)
	raw := string(data)
	assert.Contains(t, raw, `"mode":"AUTO"`)
	assert.Contains(t, raw, `"name":"Ana"`)
	assert.NotContains(t, raw, "pendingFollowUp")

	var decoded Session
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s, decoded)
}

func TestFollowUpDue(t *testing.T) {
	now := time.Now()
	fu := FollowUp{Status: FollowUpPending, ScheduledAt: now.Add(-time.Second)}
	assert.True(t, fu.Due(now))

	fu.ScheduledAt = now.Add(time.Minute)
	assert.False(t, fu.Due(now))

	fu.ScheduledAt = now
	fu.Close(FollowUpCancelled, now)
	assert.False(t, fu.Due(now))
	assert.Equal(t, now, fu.UpdatedAt)
}

func TestErrorsMatchSentinels(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"mode", &ModeTransitionError{From: ModeManual, To: ModeNeedsAttention, Actor: ActorSystem}, ErrInvalidModeTransition},
		{"external", &ExternalCallError{Op: "intent", Err: cause}, ErrExternalCall},
		{"persistence", &PersistenceError{Op: "commit", Err: cause}, ErrPersistence},
		{"dispatch", &DispatchError{SessionID: "s1", ChannelID: "irc", Err: cause}, ErrDispatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("turn: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
		})
	}

	assert.ErrorIs(t, &PersistenceError{Op: "commit", Err: cause}, cause)
	assert.Equal(t, "invalid mode transition MANUAL -> NEEDS_ATTENTION by system",
		(&ModeTransitionError{From: ModeManual, To: ModeNeedsAttention, Actor: ActorSystem}).Error())
}
