package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	c, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(HomeDir(), "memory.db"), c.DB)
	assert.Equal(t, "main", c.Branch)
	assert.Equal(t, "hash", c.Embed.Provider)
	assert.Equal(t, 10*time.Second, c.IndexTimeout)
	assert.False(t, c.AllowPendingLinks)
	assert.Equal(t, "info", c.LogLevel)
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("MEMORY_BANK_DB", "/tmp/x.db")
	t.Setenv("MEMORY_BANK_EMBED_PROVIDER", "ollama")
	t.Setenv("MEMORY_BANK_EMBED_DIMS", "384")
	t.Setenv("MEMORY_BANK_INDEX_TIMEOUT", "250ms")
	t.Setenv("MEMORY_BANK_ALLOW_PENDING_LINKS", "true")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	c, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", c.DB)
	assert.Equal(t, "ollama", c.Embed.Provider)
	assert.Equal(t, 384, c.Embed.Dims)
	assert.Equal(t, 250*time.Millisecond, c.IndexTimeout)
	assert.True(t, c.AllowPendingLinks)
	assert.Equal(t, "sk-test", c.Embed.APIKey)

	ec := c.Embed.Embedding()
	assert.Equal(t, "ollama", ec.Provider)
	assert.Equal(t, 384, ec.Dims)
}

func TestConfigFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "bank.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
db: /data/bank.db
collection: notes
embed:
  provider: openai
  model: text-embedding-3-small
  cache_size: 10
log_level: debug
`), 0o644))

	c, err := Load(viper.New(), file)
	require.NoError(t, err)
	assert.Equal(t, "/data/bank.db", c.DB)
	assert.Equal(t, "notes", c.Collection)
	assert.Equal(t, "openai", c.Embed.Provider)
	assert.Equal(t, "text-embedding-3-small", c.Embed.Model)
	assert.Equal(t, int64(10), c.Embed.CacheSize)
	assert.Equal(t, "debug", c.LogLevel)

	_, err = Load(viper.New(), filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestHomeConfigIsOptionalButRead(t *testing.T) {
	isolate(t)
	require.NoError(t, os.MkdirAll(HomeDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(HomeDir(), "config.yaml"), []byte("branch: experiments\n"), 0o644))

	c, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "experiments", c.Branch)
}

func TestValidate(t *testing.T) {
	isolate(t)
	t.Setenv("MEMORY_BANK_EMBED_PROVIDER", "word2vec")
	t.Setenv("MEMORY_BANK_LOG_LEVEL", "chatty")
	_, err := Load(viper.New(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed.provider")
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadDotEnv(t *testing.T) {
	isolate(t)
	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("MEMORY_BANK_BRANCH=from-dotenv\n"), 0o644))
	t.Setenv("MEMORY_BANK_BRANCH", "")
	os.Unsetenv("MEMORY_BANK_BRANCH")

	require.NoError(t, LoadDotEnv(file, filepath.Join(t.TempDir(), "absent.env")))
	c, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", c.Branch)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	c := &Config{LogLevel: "warn"}
	l := c.Logger(&buf)
	l.Info("hidden")
	l.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
