package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-bank/internal/httpapi"
	"github.com/rcliao/memory-bank/internal/tools"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the memory bank tools",
	}

	mcp := &cobra.Command{
		Use:   "mcp",
		Short: "Serve tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				logger.Info("mcp server on stdio", "db", cfg.DB)
				return server.ServeStdio(tools.NewMCPServer(a.tools, Version))
			})
		},
	}

	http := &cobra.Command{
		Use:   "http",
		Short: "Serve tools over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = cfg.HTTPAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(cmd, func(a *app) error {
				return httpapi.NewServer(a.tools, logger).ListenAndServe(ctx, addr)
			})
		},
	}
	http.Flags().String("addr", "", "Listen address (default: http_addr from config)")

	cmd.AddCommand(mcp, http)
	RootCmd.AddCommand(cmd)
}
