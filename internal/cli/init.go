package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mark3labs/openapi2docx/internal/config"
)

// InitConfig captures the options for the init command.
type InitConfig struct {
	OutputPath string
	Force      bool
	Verbose    bool
}

const defaultConfigName = "openapi2docx.yaml"

var initRunner = runInit

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a sample openapi2docx configuration file",
		Long:  "Scaffold a commented openapi2docx configuration file holding every option at its default value.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return err
			}
			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return err
			}
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				return err
			}
			cfg := &InitConfig{
				OutputPath: out,
				Force:      force,
				Verbose:    verbose,
			}
			return initRunner(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("out", defaultConfigName, "Where to write the sample config file")
	cmd.Flags().Bool("force", false, "Overwrite the target file if it already exists")

	return cmd
}

func runInit(ctx context.Context, cfg *InitConfig) error {
	_ = ctx

	out := strings.TrimSpace(cfg.OutputPath)
	if out == "" {
		out = defaultConfigName
	}
	absPath, err := filepath.Abs(out)
	if err != nil {
		return fmt.Errorf("init: resolve output path: %w", err)
	}

	if st, err := os.Stat(absPath); err == nil && !cfg.Force {
		if st.Mode().IsRegular() {
			return newUsageError(fmt.Sprintf("init: %q already exists (use --force to overwrite)", absPath))
		}
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return newUsageError(fmt.Sprintf("init: cannot create parent directory: %v", err))
	}

	content, err := sampleConfig()
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	// Atomic write via temp + rename
	tmp := absPath + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return newUsageError(fmt.Sprintf("init: cannot write temp file: %v\nHint: choose a different --out or check directory permissions.", err))
	}
	if err := os.Rename(tmp, absPath); err != nil {
		_ = os.Remove(tmp)
		return newUsageError(fmt.Sprintf("init: cannot place file at %s: %v", absPath, err))
	}
	fmt.Fprintf(os.Stdout, "Wrote sample config to %s\n", absPath)
	return nil
}

const sampleHeader = `openapi2docx configuration (YAML)
Every value below is the default. Environment variables override the file
(LM_STUDIO_API_URL, LM_STUDIO_API_TOKEN, USE_LLM, ...) and command-line
flags override both.`

// sampleComments documents the keys of the scaffold, by dotted path.
var sampleComments = map[string]string{
	"llm":                           "OpenAI-compatible endpoint used to enrich descriptions.",
	"llm.url":                       "Base URL, e.g. http://localhost:1234/v1 (LM_STUDIO_API_URL).",
	"llm.token":                     "Bearer token (LM_STUDIO_API_TOKEN or API_TOKEN).",
	"llm.model":                     "Model name (LM_STUDIO_MODEL_NAME).",
	"llm.maxTokens":                 "Completion budget per request (LM_STUDIO_MAX_TOKENS).",
	"llm.timeout":                   "Per-request timeout.",
	"llm.requestsPerSecond":         "Client-side rate limit; 0 disables it.",
	"llm.concurrency":               "Enrichment calls in flight per document.",
	"llm.cacheSize":                 "Cached enrichment results, shared across documents.",
	"llm.targetLanguage":            "Language enriched text is written in.",
	"modes":                         "Generation switches. Leave null to choose automatically.",
	"modes.useLocalParsing":         "Documents are always parsed locally; false is only logged (USE_LOCAL_PARSING).",
	"modes.useLLMEnhancement":       "Improve existing descriptions (USE_LLM_ENHANCE).",
	"modes.useFullLLMGeneration":    "Also write missing descriptions (USE_LLM). Defaults to on when url and token are set.",
	"render":                        "Document layout.",
	"render.shortDescriptionLength": "Descriptions shorter than this many characters are eligible for enhancement.",
	"render.defaultAuth":            "Authorization shown for operations that declare no security.",
	"render.maxEndpoints":           "Keep only the first N operations; 0 keeps all.",
	"server":                        "HTTP server started by `openapi2docx serve`.",
	"server.addr":                   "Listen address (OPENAPI2DOCX_ADDR).",
	"generate":                      "Defaults for `openapi2docx generate` and `openapi2docx watch`.",
	"generate.input":                "Path, URL or glob, e.g. specs/**/*.json.",
	"generate.markdown":             "Also write <stem>.md next to <stem>.docx.",
	"logLevel":                      "trace, debug, info, warn, error or off (OPENAPI2DOCX_LOG_LEVEL).",
}

// sampleConfig renders the default configuration as commented YAML that
// config.Load accepts.
func sampleConfig() ([]byte, error) {
	d := config.Default()

	var body yaml.Node
	if err := body.Encode(d); err != nil {
		return nil, err
	}
	annotate(&body, "")
	root := yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: sampleHeader,
		Content:     []*yaml.Node{&body},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func annotate(n *yaml.Node, prefix string) {
	if n.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		path := key.Value
		if prefix != "" {
			path = prefix + "." + key.Value
		}
		if c, ok := sampleComments[path]; ok {
			key.HeadComment = c
		}
		annotate(val, path)
	}
}
