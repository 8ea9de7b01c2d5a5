package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, 3030, cfg.Port)
	assert.Equal(t, "email", cfg.Identity)
	assert.NotEmpty(t, cfg.Secret)
	assert.False(t, cfg.Throttle)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("empty path keeps defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "devserve.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
port: 8080
throttle: true
rules:
  recipes:
    ".read": true
protected:
  users:
    u1:
      email: peter@abv.bg
      password: "123456"
`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)
		assert.True(t, cfg.Throttle)
		assert.Equal(t, "email", cfg.Identity, "unset fields keep defaults")
		assert.Contains(t, cfg.Rules, "recipes")

		users := cfg.Protected.SeedUsers()
		require.Contains(t, users, "u1")
		assert.Equal(t, "peter@abv.bg", users["u1"]["email"])
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("port: [not a port"), 0o644))
		_, err := Load(path)
		require.Error(t, err)
	})
}

func TestLoadSeedData(t *testing.T) {
	t.Parallel()

	t.Run("loads json collections", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "recipes.json"), []byte(`{
			"r1": {"name": "Apple pie"}
		}`), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

		data, err := LoadSeedData(dir)
		require.NoError(t, err)
		require.Contains(t, data, "recipes")
		assert.NotContains(t, data, "notes")
		assert.Equal(t, "Apple pie", data["recipes"]["r1"]["name"])
	})

	t.Run("empty dir name", func(t *testing.T) {
		data, err := LoadSeedData("")
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("bad seed file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("["), 0o644))
		_, err := LoadSeedData(dir)
		require.Error(t, err)
	})
}
