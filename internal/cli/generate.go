package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mark3labs/openapi2docx/internal/config"
	"github.com/mark3labs/openapi2docx/internal/emitter/docxemitter"
	"github.com/mark3labs/openapi2docx/internal/pipeline"
	"github.com/mark3labs/openapi2docx/internal/spec"
)

// GenerateConfig captures all inputs that influence the generate command after
// merging defaults, config file values, environment and CLI overrides.
type GenerateConfig struct {
	Input        string
	Out          string
	IncludeTags  []string
	ExcludeTags  []string
	Methods      []string
	Paths        []string
	MaxEndpoints int
	// Enhance and Full are nil unless set by flag; the configured modes apply.
	Enhance    *bool
	Full       *bool
	Markdown   bool
	ConfigPath string
	DryRun     bool
	Force      bool
	Verbose    bool

	// App is the loaded application configuration.
	App *config.Config
}

var generateRunner = runGenerate

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate DOCX documentation from OpenAPI documents",
		Long: "Generate DOCX documentation from one or more OpenAPI 3.x JSON documents. " +
			"--input takes a path, an http(s) URL or a glob such as specs/**/*.json; every match becomes <stem>.docx in --out. " +
			"Options can be provided via flags, the generate section of the config file, or defaults.",
		Example: strings.TrimSpace(`  openapi2docx generate --input openapi.json --out ./docs
  openapi2docx generate --input 'specs/**/*.json' --exclude-tags internal --markdown
  openapi2docx --config openapi2docx.yaml generate --enhance --force`),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveGenerateConfig(cmd)
			if err != nil {
				return err
			}
			return generateRunner(cmd.Context(), cfg)
		},
	}
	addGenerateFlags(cmd.Flags())
	return cmd
}

func addGenerateFlags(flags *pflag.FlagSet) {
	flags.String("input", "", "Path, URL or glob of the OpenAPI JSON document(s)")
	flags.String("out", "", "Output directory (defaults to the current directory)")
	flags.StringSlice("include-tags", nil, "Only include operations with these tags")
	flags.StringSlice("exclude-tags", nil, "Exclude operations with these tags")
	flags.StringSlice("methods", nil, "Only include these HTTP methods (get,post,...)")
	flags.StringArray("paths", nil, "Only include operations whose path matches this regular expression (repeatable)")
	flags.Int("max-endpoints", 0, "Keep only the first N operations in document order (0 = config value)")
	flags.Bool("enhance", false, "Improve descriptions with the configured language model")
	flags.Bool("full", false, "Generate missing descriptions with the configured language model")
	flags.Bool("markdown", false, "Also write the intermediate markdown as <stem>.md")
	flags.Bool("dry-run", false, "Preview planned outputs without writing files")
	flags.Bool("force", false, "Overwrite existing output files")
}

func resolveGenerateConfig(cmd *cobra.Command) (*GenerateConfig, error) {
	app, path, err := loadAppConfig(cmd)
	if err != nil {
		return nil, err
	}

	g := app.Generate
	cfg := GenerateConfig{
		Input:        g.Input,
		Out:          g.Out,
		IncludeTags:  g.IncludeTags,
		ExcludeTags:  g.ExcludeTags,
		Methods:      g.Methods,
		MaxEndpoints: app.Render.MaxEndpoints,
		Markdown:     g.Markdown,
		ConfigPath:   path,
		DryRun:       g.DryRun,
		Force:        g.Force,
		App:          app,
	}

	if err := applyGenerateFlagOverrides(cmd.Flags(), &cfg); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyGenerateFlagOverrides(flags *pflag.FlagSet, cfg *GenerateConfig) error {
	for name, dst := range map[string]*string{
		"input": &cfg.Input,
		"out":   &cfg.Out,
	} {
		if !flags.Changed(name) {
			continue
		}
		value, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*dst = strings.TrimSpace(value)
	}
	for name, dst := range map[string]*[]string{
		"include-tags": &cfg.IncludeTags,
		"exclude-tags": &cfg.ExcludeTags,
		"methods":      &cfg.Methods,
	} {
		if !flags.Changed(name) {
			continue
		}
		value, err := flags.GetStringSlice(name)
		if err != nil {
			return err
		}
		*dst = value
	}
	if flags.Changed("paths") {
		value, err := flags.GetStringArray("paths")
		if err != nil {
			return err
		}
		cfg.Paths = value
	}
	if flags.Changed("max-endpoints") {
		value, err := flags.GetInt("max-endpoints")
		if err != nil {
			return err
		}
		cfg.MaxEndpoints = value
	}
	for name, dst := range map[string]**bool{
		"enhance": &cfg.Enhance,
		"full":    &cfg.Full,
	} {
		if !flags.Changed(name) {
			continue
		}
		value, err := flags.GetBool(name)
		if err != nil {
			return err
		}
		*dst = &value
	}
	for name, dst := range map[string]*bool{
		"markdown": &cfg.Markdown,
		"dry-run":  &cfg.DryRun,
		"force":    &cfg.Force,
		"verbose":  &cfg.Verbose,
	} {
		if !flags.Changed(name) {
			continue
		}
		value, err := flags.GetBool(name)
		if err != nil {
			return err
		}
		*dst = value
	}
	return nil
}

func (c *GenerateConfig) normalize() {
	c.Input = strings.TrimSpace(c.Input)
	c.Out = strings.TrimSpace(c.Out)
	c.IncludeTags = sanitizeTags(c.IncludeTags)
	c.ExcludeTags = sanitizeTags(c.ExcludeTags)
	c.Methods = sanitizeTags(c.Methods)
	c.Paths = sanitizeTags(c.Paths)
}

func (c *GenerateConfig) validate() error {
	if c.Input == "" {
		return newUsageError("generate: --input is required (set via flag or config file)")
	}
	if c.MaxEndpoints < 0 {
		return newUsageError(fmt.Sprintf("generate: --max-endpoints must not be negative (got %d)", c.MaxEndpoints))
	}
	if _, err := c.methods(); err != nil {
		return err
	}
	for _, p := range c.Paths {
		if _, err := regexp.Compile(p); err != nil {
			return newUsageError(fmt.Sprintf("generate: invalid --paths expression %q: %v", p, err))
		}
	}

	overlap := intersect(c.IncludeTags, c.ExcludeTags)
	if len(overlap) > 0 {
		return newUsageError(fmt.Sprintf("generate: include/exclude tags overlap: %s", strings.Join(overlap, ", ")))
	}

	return nil
}

func (c *GenerateConfig) methods() ([]spec.HttpMethod, error) {
	out := make([]spec.HttpMethod, 0, len(c.Methods))
	for _, m := range c.Methods {
		hm, ok := spec.ParseMethod(m)
		if !ok {
			return nil, newUsageError(fmt.Sprintf("generate: unsupported method %q (allowed: get, post, put, delete, patch, head, options, trace)", m))
		}
		out = append(out, hm)
	}
	return out, nil
}

func (c *GenerateConfig) request(src *spec.Source) pipeline.Request {
	methods, _ := c.methods()
	return pipeline.Request{
		Source: src.Raw,
		Name:   src.Name,
		Flags: pipeline.Flags{
			UseLLMEnhancement:    c.Enhance,
			UseFullLLMGeneration: c.Full,
		},
		IncludeTags:  c.IncludeTags,
		ExcludeTags:  c.ExcludeTags,
		Methods:      methods,
		Paths:        c.Paths,
		MaxEndpoints: c.MaxEndpoints,
	}
}

func runGenerate(ctx context.Context, cfg *GenerateConfig) error {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "openapi2docx",
		Level:  logLevel(cfg),
		Output: os.Stderr,
	})
	return generateOnce(ctx, cfg, logger)
}

func logLevel(cfg *GenerateConfig) hclog.Level {
	if cfg.Verbose {
		return hclog.Debug
	}
	if cfg.App != nil {
		if l := hclog.LevelFromString(cfg.App.LogLevel); l != hclog.NoLevel {
			return l
		}
	}
	return hclog.Info
}

// generateOnce loads every input, renders it and hands all outputs to the
// emitter in one batch so a conflict leaves nothing half written.
func generateOnce(ctx context.Context, cfg *GenerateConfig, logger hclog.Logger) error {
	inputs, err := expandInputs(cfg.Input)
	if err != nil {
		return err
	}

	p, err := pipeline.New(cfg.App, pipeline.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	files := make(map[string][]byte, len(inputs))
	owners := make(map[string]string, len(inputs))
	for _, input := range inputs {
		src, err := spec.Load(ctx, input)
		if err != nil {
			return specUsageError(err)
		}
		res, err := p.Generate(ctx, cfg.request(src))
		if err != nil {
			return specUsageError(err)
		}

		stem := pipeline.Stem(src.Name)
		if prev, dup := owners[stem]; dup {
			return newUsageError(fmt.Sprintf("generate: %s and %s both produce %s.docx", prev, input, stem))
		}
		owners[stem] = input
		files[stem+".docx"] = res.Docx
		if cfg.Markdown {
			files[stem+".md"] = []byte(res.Markdown)
		}
		logger.Info("rendered document", "input", input, "operations", res.Operations, "mode", res.Mode)
	}

	outDir := cfg.Out
	if outDir == "" {
		outDir = "."
	}
	absOut := outDir
	if ap, err := filepath.Abs(outDir); err == nil {
		absOut = ap
	}

	res, err := docxemitter.Emit(ctx, files, docxemitter.Options{
		OutDir: outDir,
		Force:  cfg.Force,
		DryRun: cfg.DryRun,
	})
	if err != nil {
		return wrapOutputError(err, absOut)
	}
	paths := make([]string, 0, len(res.Planned))
	for _, pf := range res.Planned {
		paths = append(paths, pf.RelPath)
	}
	if cfg.DryRun {
		printPlan(absOut, len(paths), paths)
		return nil
	}
	for _, rel := range paths {
		fmt.Fprintf(os.Stdout, "Wrote %s\n", filepath.Join(absOut, filepath.FromSlash(rel)))
	}
	return nil
}

// expandInputs turns --input into the sorted list of documents to process.
// URLs and plain paths pass through; anything with glob syntax must match at
// least one file.
func expandInputs(input string) ([]string, error) {
	if isURL(input) || !hasGlobMeta(input) {
		return []string{input}, nil
	}
	if !doublestar.ValidatePathPattern(input) {
		return nil, newUsageError(fmt.Sprintf("generate: invalid glob %q", input))
	}
	matches, err := doublestar.FilepathGlob(input, doublestar.WithFilesOnly())
	if err != nil {
		return nil, newUsageError(fmt.Sprintf("generate: expand %q: %v", input, err))
	}
	if len(matches) == 0 {
		return nil, newUsageError(fmt.Sprintf("generate: %q matched no files", input))
	}
	sort.Strings(matches)
	return matches, nil
}

func isURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// specUsageError maps structured spec errors into friendly messages.
func specUsageError(err error) error {
	var se *spec.SpecError
	if errors.As(err, &se) {
		msg := fmt.Sprintf("spec: %s", strings.TrimPrefix(se.Message, "spec: "))
		if se.Location != "" {
			msg = fmt.Sprintf("%s\nLocation: %s", msg, se.Location)
		}
		if se.JSONPointer != "" {
			msg = fmt.Sprintf("%s\nPointer: %s", msg, se.JSONPointer)
		}
		return newUsageError(msg)
	}
	return err
}

func printPlan(outDir string, count int, relPaths []string) {
	fmt.Fprintf(os.Stdout, "Planned writes to %s (%d files):\n", outDir, count)
	for _, p := range relPaths {
		fmt.Fprintf(os.Stdout, "- %s\n", p)
	}
}

func wrapOutputError(err error, outDir string) error {
	// Provide clearer guidance for common FS failures.
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "permission") || strings.Contains(lower, "read-only") || strings.Contains(lower, "mkdir") ||
		strings.Contains(lower, "rename") || strings.Contains(lower, "output directory") {
		return newUsageError(fmt.Sprintf("output error for %s: %s\nHint: choose a different --out or use --force when appropriate.", outDir, msg))
	}
	return err
}

func sanitizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(a))
	for _, item := range a {
		set[item] = struct{}{}
	}
	var result []string
	for _, item := range b {
		if _, ok := set[item]; ok {
			result = append(result, item)
		}
	}
	return result
}
