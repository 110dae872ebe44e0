package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mark3labs/openapi2docx/internal/config"
	"github.com/mark3labs/openapi2docx/internal/mcpserver"
	"github.com/mark3labs/openapi2docx/internal/pipeline"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the generation tools over the Model Context Protocol (stdio)",
		Long: "Serve list_operations, render_markdown and generate_docx as MCP tools on stdin/stdout. " +
			"Logs go to stderr.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadAppConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMCP(ctx, cmd, cfg)
		},
	}
}

func runMCP(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	logger := newLogger(cmd, cfg)
	p, err := pipeline.New(cfg, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}
	return mcpserver.New(p, logger).Run(ctx)
}
