// Package config loads the openapi2docx configuration from an optional YAML
// file and the process environment. The value is built once at start and
// passed down explicitly; no other package reads the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

// Config is the complete openapi2docx configuration.
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Modes    ModesConfig    `mapstructure:"modes" yaml:"modes"`
	Render   RenderConfig   `mapstructure:"render" yaml:"render"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Generate GenerateConfig `mapstructure:"generate" yaml:"generate"`

	// LogLevel is one of trace, debug, info, warn, error or off.
	LogLevel string `mapstructure:"logLevel" yaml:"logLevel"`
}

// LLMConfig describes the OpenAI-compatible enrichment endpoint.
type LLMConfig struct {
	URL               string        `mapstructure:"url" yaml:"url"`
	Token             string        `mapstructure:"token" yaml:"token"`
	Model             string        `mapstructure:"model" yaml:"model" validate:"required"`
	MaxTokens         int           `mapstructure:"maxTokens" yaml:"maxTokens" validate:"gte=1"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `mapstructure:"requestsPerSecond" yaml:"requestsPerSecond" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" yaml:"burst" validate:"gte=1"`
	Concurrency       int           `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=1,lte=64"`
	CacheSize         int           `mapstructure:"cacheSize" yaml:"cacheSize" validate:"gte=1"`
	TargetLanguage    string        `mapstructure:"targetLanguage" yaml:"targetLanguage" validate:"required"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
}

// ModesConfig holds the three generation switches. A nil value means the
// switch was not set and its automatic value applies.
type ModesConfig struct {
	UseLocalParsing      *bool `mapstructure:"useLocalParsing" yaml:"useLocalParsing"`
	UseLLMEnhancement    *bool `mapstructure:"useLLMEnhancement" yaml:"useLLMEnhancement"`
	UseFullLLMGeneration *bool `mapstructure:"useFullLLMGeneration" yaml:"useFullLLMGeneration"`
}

type RenderConfig struct {
	ShortDescriptionLength int    `mapstructure:"shortDescriptionLength" yaml:"shortDescriptionLength" validate:"gte=0"`
	DefaultAuth            string `mapstructure:"defaultAuth" yaml:"defaultAuth" validate:"required"`
	// MaxEndpoints caps the rendered operations. Zero means unlimited.
	MaxEndpoints int `mapstructure:"maxEndpoints" yaml:"maxEndpoints" validate:"gte=0"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr" yaml:"addr" validate:"required"`
	MaxUploadBytes int64    `mapstructure:"maxUploadBytes" yaml:"maxUploadBytes" validate:"gte=1"`
	CORSOrigins    []string `mapstructure:"corsOrigins" yaml:"corsOrigins"`
}

// GenerateConfig is the file section read by the generate command.
type GenerateConfig struct {
	Input       string   `mapstructure:"input" yaml:"input"`
	Out         string   `mapstructure:"out" yaml:"out"`
	IncludeTags []string `mapstructure:"includeTags" yaml:"includeTags"`
	ExcludeTags []string `mapstructure:"excludeTags" yaml:"excludeTags"`
	Methods     []string `mapstructure:"methods" yaml:"methods"`
	Markdown    bool     `mapstructure:"markdown" yaml:"markdown"`
	Force       bool     `mapstructure:"force" yaml:"force"`
	DryRun      bool     `mapstructure:"dryRun" yaml:"dryRun"`
}

const (
	DefaultModel          = "Qwen/Qwen3-30B-A3B-FP8"
	DefaultMaxTokens      = 28000
	DefaultAddr           = ":8000"
	DefaultMaxUploadBytes = 10 << 20
)

// configFileNames are searched in the working directory when no path is given.
var configFileNames = []string{
	"openapi2docx.yaml",
	"openapi2docx.yml",
	".openapi2docx.yaml",
}

// envBindings maps config keys onto the environment variables that set them.
// When several names are listed the first one present wins.
var envBindings = map[string][]string{
	"llm.url":                    {"LM_STUDIO_API_URL"},
	"llm.token":                  {"LM_STUDIO_API_TOKEN", "API_TOKEN"},
	"llm.model":                  {"LM_STUDIO_MODEL_NAME"},
	"llm.maxTokens":              {"LM_STUDIO_MAX_TOKENS"},
	"modes.useFullLLMGeneration": {"USE_LLM"},
	"modes.useLLMEnhancement":    {"USE_LLM_ENHANCE"},
	"modes.useLocalParsing":      {"USE_LOCAL_PARSING"},
	"logLevel":                   {"OPENAPI2DOCX_LOG_LEVEL"},
	"server.addr":                {"OPENAPI2DOCX_ADDR"},
}

// Default returns a Config with default values and no endpoint configured.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:             DefaultModel,
			MaxTokens:         DefaultMaxTokens,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 2,
			Burst:             1,
			Concurrency:       4,
			CacheSize:         512,
			TargetLanguage:    "ru",
			Temperature:       0.3,
		},
		Render: RenderConfig{
			ShortDescriptionLength: 160,
			DefaultAuth:            "OAuth2PasswordBearer",
		},
		Server: ServerConfig{
			Addr:           DefaultAddr,
			MaxUploadBytes: DefaultMaxUploadBytes,
			CORSOrigins:    []string{"*"},
		},
		LogLevel: "info",
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.maxTokens", d.LLM.MaxTokens)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.requestsPerSecond", d.LLM.RequestsPerSecond)
	v.SetDefault("llm.burst", d.LLM.Burst)
	v.SetDefault("llm.concurrency", d.LLM.Concurrency)
	v.SetDefault("llm.cacheSize", d.LLM.CacheSize)
	v.SetDefault("llm.targetLanguage", d.LLM.TargetLanguage)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("render.shortDescriptionLength", d.Render.ShortDescriptionLength)
	v.SetDefault("render.defaultAuth", d.Render.DefaultAuth)
	v.SetDefault("render.maxEndpoints", d.Render.MaxEndpoints)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.maxUploadBytes", d.Server.MaxUploadBytes)
	v.SetDefault("server.corsOrigins", d.Server.CORSOrigins)
	v.SetDefault("logLevel", d.LogLevel)
}

// Load builds the configuration from defaults, the config file and the
// environment, in increasing order of precedence. An empty path searches the
// working directory for one of the default file names; finding none is not an
// error. Keys the Config does not know are rejected.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if path == "" {
		for _, name := range configFileNames {
			if st, err := os.Stat(name); err == nil && st.Mode().IsRegular() {
				path = name
				break
			}
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := validate.Struct(c); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) {
			for _, fe := range ves {
				result = multierror.Append(result, fmt.Errorf("%s: failed %q (value %v)", fieldPath(fe.Namespace()), fe.Tag()+paramSuffix(fe.Param()), fe.Value()))
			}
		} else {
			result = multierror.Append(result, err)
		}
	}

	if c.LLM.URL != "" {
		u, err := url.Parse(c.LLM.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("llm.url: %q is not an http(s) URL", c.LLM.URL))
		}
	}
	if c.LogLevel != "" && hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		result = multierror.Append(result, fmt.Errorf("logLevel: unknown level %q", c.LogLevel))
	}
	return result.ErrorOrNil()
}

// LLMConfigured reports whether both the endpoint URL and the token are set.
func (c *Config) LLMConfigured() bool {
	return strings.TrimSpace(c.LLM.URL) != "" && strings.TrimSpace(c.LLM.Token) != ""
}

// fieldPath turns "Config.LLM.MaxTokens" into "LLM.MaxTokens".
func fieldPath(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}
