// Package cli implements the memory-bank CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rcliao/memory-bank/internal/bank"
	"github.com/rcliao/memory-bank/internal/config"
	"github.com/rcliao/memory-bank/internal/embedding"
	"github.com/rcliao/memory-bank/internal/schema"
	"github.com/rcliao/memory-bank/internal/store"
	"github.com/rcliao/memory-bank/internal/tools"
	"github.com/rcliao/memory-bank/internal/vector"
)

// Version is reported by the MCP server and --version.
var Version = "0.1.0"

var (
	cfgFile string
	cfg     *config.Config
	logger  *log.Logger
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memory-bank",
	Short: "Structured memory for AI agents",
	Long: "A structured memory bank for agents: typed blocks with validated metadata, tags and links,\n" +
		"kept in SQLite and mirrored into a vector index for semantic search.",
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"db":             "db",
	"branch":         "branch",
	"index-dir":      "index_dir",
	"collection":     "collection",
	"embed-provider": "embed.provider",
	"embed-model":    "embed.model",
	"embed-url":      "embed.url",
	"index-timeout":  "index_timeout",
	"allow-pending":  "allow_pending_links",
	"log-level":      "log_level",
}

func init() {
	f := RootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "Config file (default: ~/.memory-bank/config.yaml if present)")
	f.StringP("db", "d", "", "Database path (default: $MEMORY_BANK_DB or ~/.memory-bank/memory.db)")
	f.String("branch", "", "Commit branch (default: main)")
	f.String("index-dir", "", "Vector index directory (default: ~/.memory-bank/vectors)")
	f.String("collection", "", "Vector collection name")
	f.String("embed-provider", "", "Embedding provider: hash, ollama or openai (default: hash)")
	f.String("embed-model", "", "Embedding model")
	f.String("embed-url", "", "Embedding API base URL")
	f.Duration("index-timeout", 0, "Timeout for each vector index operation (default: 10s)")
	f.Bool("allow-pending", false, "Accept links to blocks that do not exist yet")
	f.String("log-level", "", "Log level: debug, info, warn, error (default: info)")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	v := viper.New()
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	c, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = c
	logger = c.Logger(os.Stderr)
	return nil
}

// app holds the components a command works with.
type app struct {
	store    *store.SQLiteStore
	embedder embedding.Embedder
	bank     *bank.Bank
	tools    *tools.Toolset
}

// openApp wires store, embedder, vector index, registry and bank from cfg.
func openApp(ctx context.Context) (*app, error) {
	st, err := store.NewSQLiteStore(cfg.DB, cfg.Branch)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{store: st}

	a.embedder, err = embedding.New(cfg.Embed.Embedding(), logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	idx, err := vector.NewChromemIndex(a.embedder, vector.Options{Dir: cfg.IndexDir, Collection: cfg.Collection}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	reg := schema.NewRegistry(logger)
	if err := schema.RegisterBuiltins(reg); err != nil {
		a.Close()
		return nil, err
	}
	if err := reg.Load(ctx, st); err != nil {
		a.Close()
		return nil, err
	}
	if err := reg.Sync(ctx, st); err != nil {
		logger.Warn("schema sync incomplete", "err", err)
	}

	a.bank, err = bank.New(bank.Options{
		Store:        st,
		Index:        idx,
		Registry:     reg,
		Logger:       logger,
		IndexTimeout: cfg.IndexTimeout,
		AllowPending: cfg.AllowPendingLinks,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.tools = tools.New(a.bank, logger)
	return a, nil
}

func (a *app) Close() {
	if c, ok := a.embedder.(*embedding.Cached); ok {
		c.Close()
	}
	a.store.Close()
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

// printResult prints a tool result and turns a failed one into an error so
// the process exits non-zero.
func printResult(cmd *cobra.Command, res interface{ OK() bool }) error {
	if err := printJSON(cmd, res); err != nil {
		return err
	}
	if !res.OK() {
		return errFailed
	}
	return nil
}

// errFailed marks a failure whose details were already printed as JSON.
var errFailed = errors.New("operation failed")

// readContent returns args joined, or stdin when args are empty and stdin is
// not a terminal.
func readContent(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

// parseJSONFlag decodes a JSON object flag; "@path" reads it from a file.
func parseJSONFlag(name, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	data, err := fileOrValue(name, raw)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("--%s: invalid JSON object: %w", name, err)
	}
	return m, nil
}

// Execute runs the root command, printing errors the way every command
// reports them.
func Execute() int {
	if err := RootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		return 1
	}
	return 0
}
