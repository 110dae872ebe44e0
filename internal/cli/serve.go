package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mark3labs/openapi2docx/internal/config"
	"github.com/mark3labs/openapi2docx/internal/server"
)

var serveRunner = runServe

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve document generation over HTTP",
		Long: "Serve POST /generate-doc (multipart upload of an OpenAPI JSON document, DOCX response), " +
			"GET /health and GET /metrics until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadAppConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				addr, err := cmd.Flags().GetString("addr")
				if err != nil {
					return err
				}
				cfg.Server.Addr = strings.TrimSpace(addr)
			}
			if cfg.Server.Addr == "" {
				return newUsageError("serve: --addr must not be empty")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveRunner(ctx, cmd, cfg)
		},
	}
	cmd.Flags().String("addr", config.DefaultAddr, "Listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	logger := newLogger(cmd, cfg)
	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("starting http server", "addr", cfg.Server.Addr, "llm_configured", cfg.LLMConfigured())
	return srv.Run(ctx)
}
