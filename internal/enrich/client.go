package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Config configures a Client. URL is the base of an OpenAI-compatible API,
// e.g. "http://localhost:1234/v1".
type Config struct {
	URL               string
	Token             string
	Model             string
	MaxTokens         int
	Temperature       float64
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	CacheSize         int
	TargetLanguage    string

	HTTPClient *http.Client
	Logger     hclog.Logger
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 512
	}
	if c.TargetLanguage == "" {
		c.TargetLanguage = "ru"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
	return c
}

// Client talks to a chat-completions endpoint. It is safe for concurrent use;
// its cache is keyed by document identity so entries never leak between documents.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cache   *lru.Cache[string, string]
	logger  hclog.Logger
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("enrich: endpoint URL is required")
	}
	cfg = cfg.withDefaults()
	cache, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("enrich: cache: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = cleanhttp.DefaultPooledClient()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		cache:   cache,
		logger:  cfg.Logger.Named("enrich"),
	}, nil
}

func cacheKey(doc string, f Fragment) string {
	return doc + "\x00" + string(f.Task) + "\x00" + f.Context + "\x00" + f.Text
}

// Enrich sends the uncached fragments of req in one completion call bounded by
// the configured timeout. Every failure is reported as an unavailable Result.
func (c *Client) Enrich(ctx context.Context, req Request) Result {
	if len(req.Fragments) == 0 {
		return Success(nil)
	}
	texts := make([]string, len(req.Fragments))
	var missing []int
	for i, f := range req.Fragments {
		if v, ok := c.cache.Get(cacheKey(req.DocumentID, f)); ok {
			texts[i] = v
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return Success(texts)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return Unavailable("rate limited", err)
	}

	pending := make([]Fragment, 0, len(missing))
	for _, i := range missing {
		pending = append(pending, req.Fragments[i])
	}
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	start := time.Now()
	replies, err := c.complete(ctx, model, maxTokens, pending)
	if err != nil {
		c.logger.Debug("completion failed", "fragments", len(pending), "error", err)
		return Unavailable("completion failed", err)
	}
	if len(replies) != len(pending) {
		return Unavailable("malformed response", fmt.Errorf("got %d texts for %d fragments", len(replies), len(pending)))
	}
	for j, i := range missing {
		s := Flatten(replies[j])
		if s == "" {
			return Unavailable("malformed response", fmt.Errorf("empty replacement for fragment %d", i))
		}
		texts[i] = s
	}
	for _, i := range missing {
		c.cache.Add(cacheKey(req.DocumentID, req.Fragments[i]), texts[i])
	}
	c.logger.Debug("fragments enriched", "count", len(pending), "duration", time.Since(start))
	return Success(texts)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, model string, maxTokens int, fragments []Fragment) ([]string, error) {
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(c.cfg.TargetLanguage)},
			{Role: "user", Content: userPrompt(fragments)},
		},
		MaxTokens:   maxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(c.cfg.URL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw[:min(len(raw), 256)])))
	}
	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, errors.New("response has no choices")
	}
	return parseReplies(cr.Choices[0].Message.Content)
}

// parseReplies extracts the JSON string array from a reply, tolerating a
// surrounding code fence.
func parseReplies(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	if i := strings.Index(content, "```"); i >= 0 {
		rest := content[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		content = strings.TrimSpace(rest)
	}
	var out []string
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("reply is not a JSON string array: %w", err)
	}
	return out, nil
}

var languageNames = map[string]string{
	"ru": "Russian",
	"en": "English",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
}

func systemPrompt(lang string) string {
	name, ok := languageNames[strings.ToLower(lang)]
	if !ok {
		name = lang
	}
	return "You are a technical writer for API documentation. Write in " + name +
		". Keep identifiers, field names and technical terms unchanged. Always answer with valid JSON only."
}

func userPrompt(fragments []Fragment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Process the %d fragments below. Tasks:\n", len(fragments))
	b.WriteString("- improve: rewrite the endpoint description as one or two clear sentences; drop Parameters/Returns/Raises blocks.\n")
	b.WriteString("- generate-from-field: write a one-sentence description of the field from its name and type.\n")
	b.WriteString("- translate-to-target-language: translate the text, adding nothing.\n\n")
	for i, f := range fragments {
		text := f.Text
		if text == "" {
			text = "(missing)"
		}
		fmt.Fprintf(&b, "%d. [%s] %s: %s\n", i+1, f.Task, f.Context, text)
	}
	fmt.Fprintf(&b, "\nReturn a JSON array of exactly %d strings, one per fragment, in the same order.", len(fragments))
	return b.String()
}
