package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePaths_Default(t *testing.T) {
	getenv := func(string) string { return "" }
	home := func() (string, error) { return "/home/ana", nil }

	paths, err := resolvePaths(getenv, home)
	require.NoError(t, err)
	assert.Equal(t, Paths{
		Base:   "/home/ana/.closer",
		Config: "/home/ana/.closer/config.yaml",
		Env:    "/home/ana/.closer/.env",
		Logs:   "/home/ana/.closer/logs",
		Data:   "/home/ana/.closer/data",
	}, paths)
}

func TestResolvePaths_NoHome(t *testing.T) {
	getenv := func(string) string { return "" }
	home := func() (string, error) { return "", errors.New("$HOME is not defined") }

	_, err := resolvePaths(getenv, home)
	assert.ErrorContains(t, err, "$HOME is not defined")
}

func TestDatabase(t *testing.T) {
	p := PathsAt("/srv/closer")
	assert.Equal(t, "/srv/closer/data/closer.db", p.Database(StoreConfig{}))
	assert.Equal(t, "/var/lib/closer.db", p.Database(StoreConfig{Path: "/var/lib/closer.db"}))
	assert.Equal(t, "/srv/closer/db/sales.db", p.Database(StoreConfig{Path: "db/sales.db"}))
}

func TestResolvePaths_CustomHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("CLOSER_HOME", tmp)

	paths, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, tmp, paths.Base)
	assert.Equal(t, filepath.Join(tmp, "data", "closer.db"), paths.Database(StoreConfig{}))

	require.NoError(t, paths.EnsureDirs())
	require.NoError(t, paths.EnsureDirs())
	for _, d := range []string{paths.Base, paths.Logs, paths.Data} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
