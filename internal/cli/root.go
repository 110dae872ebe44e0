package cli

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/mark3labs/openapi2docx/internal/config"
)

// Execute runs the openapi2docx CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd constructs the root command so tests can exercise the CLI easily.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "openapi2docx",
		Short: "Generate Russian-language DOCX documentation from OpenAPI 3.x documents",
		Long: "openapi2docx turns OpenAPI 3.x JSON documents into interface documentation: one eight-section block per operation, " +
			"grouped by tag, optionally enriched by an OpenAI-compatible language model, written as DOCX.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	// Convert Cobra flag errors (like unknown flags) into friendly usage errors
	// that also show the command's help text.
	cmd.SetFlagErrorFunc(flagUsageError)

	cmd.PersistentFlags().StringP("config", "c", "", "Config file path (YAML); defaults to ./openapi2docx.yaml when present")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging output")

	for _, sub := range []*cobra.Command{
		newGenerateCmd(),
		newWatchCmd(),
		newInitCmd(),
		newServeCmd(),
		newMCPCmd(),
	} {
		sub.SetFlagErrorFunc(flagUsageError)
		cmd.AddCommand(sub)
	}

	return cmd
}

func flagUsageError(c *cobra.Command, err error) error {
	return newUsageError(fmt.Sprintf("%v\n\n%s", err, c.UsageString()))
}

// loadAppConfig reads --config (or the default file) plus the environment and
// validates the result.
func loadAppConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", err
	}
	path = strings.TrimSpace(path)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, newUsageError(err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, newUsageError(fmt.Sprintf("invalid configuration: %v", err))
	}
	return cfg, path, nil
}

// newLogger writes to stderr so stdout stays free for plans and the MCP
// protocol.
func newLogger(cmd *cobra.Command, cfg *config.Config) hclog.Logger {
	level := hclog.LevelFromString(cfg.LogLevel)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "openapi2docx",
		Level:  level,
		Output: cmd.ErrOrStderr(),
	})
}
