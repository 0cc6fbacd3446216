package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stamp(t *testing.T, v, c, d string) {
	t.Helper()
	origVersion, origCommit, origDate := Version, Commit, Date
	t.Cleanup(func() {
		Version, Commit, Date = origVersion, origCommit, origDate
	})
	Version, Commit, Date = v, c, d
}

func TestGet_LdflagsWin(t *testing.T) {
	stamp(t, "0.4.0", "9f8e7d6c5b4a", "2026-10-01")

	b := Get()
	assert.Equal(t, "0.4.0", b.Version)
	assert.Equal(t, "9f8e7d6c5b4a", b.Commit)
	assert.Equal(t, "2026-10-01", b.Date)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, b.Platform)
	assert.Equal(t, runtime.Version(), b.GoVersion)
}

func TestBuild_String(t *testing.T) {
	b := Build{Version: "0.4.0", Commit: "9f8e7d6c5b4a", Date: "2026-10-01", GoVersion: "go1.25.7", Platform: "linux/amd64"}
	assert.Equal(t, "closer 0.4.0 (commit: 9f8e7d6, built: 2026-10-01, go1.25.7, linux/amd64)", b.String())

	b.Modified = true
	assert.Contains(t, b.String(), "commit: 9f8e7d6-dirty")
}

func TestUserAgent(t *testing.T) {
	stamp(t, "0.4.0", "x", "y")
	assert.Equal(t, "closer/0.4.0", UserAgent())
	assert.Contains(t, Info(), "closer 0.4.0")
}

func TestShort(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"abcdefghij", "abcdefg"},
		{"abc1234", "abc1234"},
		{"abc", "abc"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, short(tt.input))
		})
	}
}
