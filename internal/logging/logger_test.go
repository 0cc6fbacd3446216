package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lines decodes each JSON line written to buf.
func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m), l)
		out = append(out, m)
	}
	return out
}

func TestNew_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info").Info().Str("handler", "qualify").Msg("turn completed")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "turn completed", got[0]["message"])
	assert.Equal(t, "info", got[0]["level"])
	assert.Equal(t, "qualify", got[0]["handler"])
	assert.Contains(t, got[0], "time")
}

func TestNew_NilWriterIsConsole(t *testing.T) {
	assert.NotNil(t, New(nil, "debug"))
}

func TestChildLoggersCarryFields(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, "debug")

	root.Sub("scheduler").Session("irc:alice").Debug().Msg("follow-up sent")
	root.Sub("gateway").Info().Msg("console connected")

	got := lines(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "scheduler", got[0]["subsystem"])
	assert.Equal(t, "irc:alice", got[0]["sessionId"])
	assert.Equal(t, "gateway", got[1]["subsystem"])
	assert.NotContains(t, got[1], "sessionId")
}

func TestLevelFiltering(t *testing.T) {
	cases := map[string]int{
		"debug":  4,
		"info":   3,
		"warn":   2,
		"error":  1,
		"silent": 0,
	}
	for level, want := range cases {
		t.Run(level, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(&buf, level)
			log.Debug().Msg("d")
			log.Info().Msg("i")
			log.Warn().Msg("w")
			log.Error().Msg("e")
			assert.Len(t, lines(t, &buf), want)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" warn ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"panic", zerolog.PanicLevel},
		{"silent", zerolog.Disabled},
		{"OFF", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "parseLevel(%q)", tt.in)
	}
}

func TestOpen_FileReceivesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "closer.log")

	log, c, err := Open(Options{Level: "info", Style: "json", File: path})
	require.NoError(t, err)
	log.Session("s1").Info().Msg("written to file")
	require.NoError(t, c.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	got := lines(t, bytes.NewBuffer(data))
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0]["sessionId"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpen_WithoutFile(t *testing.T) {
	log, c, err := Open(Options{Level: "silent"})
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.NoError(t, c.Close())
}
