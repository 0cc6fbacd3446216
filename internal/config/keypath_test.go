package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"single segment", "engine", []string{"engine"}, false},
		{"nested", "engine.thresholds.payment", []string{"engine", "thresholds", "payment"}, false},
		{"empty", "", nil, true},
		{"empty segment", "engine..payment", nil, true},
		{"trailing dot", "engine.", nil, true},
		{"dashes and underscores", "channels.irc.dm_only-x", []string{"channels", "irc", "dm_only-x"}, false},
		{"space", "engine.pay ment", nil, true},
		{"slash", "store/path", nil, true},
		{"index syntax", "followUp.delays[0]", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				var ce *ConfigError
				assert.ErrorAs(t, err, &ce)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetValueAtPath(t *testing.T) {
	root := map[string]any{
		"engine": map[string]any{
			"thresholds": map[string]any{"payment": 0.9},
		},
		"simple": "value",
	}

	tests := []struct {
		name string
		path []string
		want any
		ok   bool
	}{
		{"deeply nested", []string{"engine", "thresholds", "payment"}, 0.9, true},
		{"top level", []string{"simple"}, "value", true},
		{"missing key", []string{"nonexistent"}, nil, false},
		{"non-map intermediate", []string{"simple", "sub"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, ok := GetValueAtPath(root, tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, val)
			}
		})
	}
}

func TestSetValueAtPath(t *testing.T) {
	root := map[string]any{"gateway": "string-not-map"}

	SetValueAtPath(root, []string{"gateway", "port"}, 8080)
	SetValueAtPath(root, []string{"followUp", "templates"}, []any{"a", "b"})

	val, ok := GetValueAtPath(root, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 8080, val)

	val, ok = GetValueAtPath(root, []string{"followUp", "templates"})
	assert.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, val)
}

func TestUnsetValueAtPath(t *testing.T) {
	root := map[string]any{
		"gateway": map[string]any{"port": 18790, "bind": "loopback"},
	}

	assert.True(t, UnsetValueAtPath(root, []string{"gateway", "port"}))
	_, found := GetValueAtPath(root, []string{"gateway", "port"})
	assert.False(t, found)

	val, found := GetValueAtPath(root, []string{"gateway", "bind"})
	assert.True(t, found)
	assert.Equal(t, "loopback", val)

	assert.False(t, UnsetValueAtPath(root, []string{"gateway", "nonexistent"}))
	assert.False(t, UnsetValueAtPath(root, []string{"a", "b", "c"}))
}
