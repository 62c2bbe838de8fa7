// Package config loads memory bank settings from flags, MEMORY_BANK_*
// environment variables, an optional .env file and an optional YAML config
// file in $HOME/.memory-bank.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rcliao/memory-bank/internal/embedding"
	"github.com/rcliao/memory-bank/internal/store"
	"github.com/rcliao/memory-bank/internal/vector"
)

// EnvPrefix prefixes every environment variable, e.g. MEMORY_BANK_DB.
const EnvPrefix = "MEMORY_BANK"

const projectDir = ".memory-bank"

// Config is the resolved configuration.
type Config struct {
	DB                string        `mapstructure:"db"`
	Branch            string        `mapstructure:"branch"`
	IndexDir          string        `mapstructure:"index_dir"`
	Collection        string        `mapstructure:"collection"`
	Embed             Embed         `mapstructure:"embed"`
	IndexTimeout      time.Duration `mapstructure:"index_timeout"`
	AllowPendingLinks bool          `mapstructure:"allow_pending_links"`
	HTTPAddr          string        `mapstructure:"http_addr"`
	LogLevel          string        `mapstructure:"log_level"`
}

// Embed configures the embedding provider.
type Embed struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	URL       string `mapstructure:"url"`
	APIKey    string `mapstructure:"api_key"`
	Dims      int    `mapstructure:"dims"`
	CacheSize int64  `mapstructure:"cache_size"`
	MaxRunes  int    `mapstructure:"max_runes"`
}

// Embedding returns the embedding package's view of e.
func (e Embed) Embedding() embedding.Config {
	return embedding.Config{
		Provider:  e.Provider,
		Model:     e.Model,
		URL:       e.URL,
		APIKey:    e.APIKey,
		Dims:      e.Dims,
		CacheSize: e.CacheSize,
		MaxRunes:  e.MaxRunes,
	}
}

// HomeDir returns $HOME/.memory-bank, or .memory-bank when home is unknown.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return projectDir
	}
	return filepath.Join(home, projectDir)
}

// SetDefaults registers every key with its default so environment variables
// reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	dir := HomeDir()
	v.SetDefault("db", filepath.Join(dir, "memory.db"))
	v.SetDefault("branch", store.DefaultBranch)
	v.SetDefault("index_dir", filepath.Join(dir, "vectors"))
	v.SetDefault("collection", vector.DefaultCollection)
	v.SetDefault("embed.provider", embedding.ProviderHash)
	v.SetDefault("embed.model", "")
	v.SetDefault("embed.url", "")
	v.SetDefault("embed.api_key", "")
	v.SetDefault("embed.dims", 0)
	v.SetDefault("embed.cache_size", 4096)
	v.SetDefault("embed.max_runes", 0)
	v.SetDefault("index_timeout", 10*time.Second)
	v.SetDefault("allow_pending_links", false)
	v.SetDefault("http_addr", "127.0.0.1:8420")
	v.SetDefault("log_level", "info")
}

// LoadDotEnv loads KEY=value pairs from the given files, or ./.env when none
// are named. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load resolves the configuration held by v. With file set that file must
// exist; otherwise config.yaml in HomeDir is read when present.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("embed.api_key", EnvPrefix+"_EMBED_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(HomeDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var problems []string
	if c.DB == "" {
		problems = append(problems, "db is required")
	}
	switch strings.ToLower(c.Embed.Provider) {
	case "", embedding.ProviderHash, embedding.ProviderOllama, embedding.ProviderOpenAI:
	default:
		problems = append(problems, fmt.Sprintf("embed.provider %q is not one of hash, ollama, openai", c.Embed.Provider))
	}
	if c.Embed.Dims < 0 || c.Embed.CacheSize < 0 || c.Embed.MaxRunes < 0 {
		problems = append(problems, "embed sizes must not be negative")
	}
	if c.IndexTimeout < 0 {
		problems = append(problems, "index_timeout must not be negative")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("log_level %q: %v", c.LogLevel, err))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Logger returns a logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) *log.Logger {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		lvl = log.InfoLevel
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
}
