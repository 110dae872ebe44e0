// Package enrich defines the optional text-enrichment step: a request/response
// contract toward a language-model endpoint and a result type that callers
// must inspect for both success and unavailability.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Task tags a fragment with the rewrite it asks for.
type Task string

const (
	TaskImprove   Task = "improve"
	TaskGenerate  Task = "generate-from-field"
	TaskTranslate Task = "translate-to-target-language"
)

// Fragment is one piece of text to rewrite. Context carries a short hint such
// as "GET /items" or a field's type; it is not rewritten.
type Fragment struct {
	Task    Task
	Text    string
	Context string
}

// Request is sent to an Adapter. Replacements come back in fragment order.
type Request struct {
	Model     string
	MaxTokens int
	// DocumentID scopes caching to one source document.
	DocumentID string
	Fragments  []Fragment
}

// Adapter enriches text. Implementations never return failures as errors: an
// unavailable endpoint is a normal Result.
type Adapter interface {
	Enrich(ctx context.Context, req Request) Result
}

// ErrUnavailable matches every UnavailableError.
var ErrUnavailable = errors.New("enrichment unavailable")

// UnavailableError describes why an enrichment call produced nothing usable.
type UnavailableError struct {
	Reason string
	Cause  error
}

func (e *UnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("enrichment unavailable: %s: %v", e.Reason, e.Cause)
	}
	return "enrichment unavailable: " + e.Reason
}

func (e *UnavailableError) Unwrap() error        { return e.Cause }
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Result is either a list of replacement texts or an unavailability reason.
type Result struct {
	texts []string
	err   *UnavailableError
}

// Success wraps replacement texts.
func Success(texts []string) Result { return Result{texts: texts} }

// Unavailable wraps a failure reason.
func Unavailable(reason string, cause error) Result {
	return Result{err: &UnavailableError{Reason: reason, Cause: cause}}
}

// Texts returns the replacements and true on success.
func (r Result) Texts() ([]string, bool) {
	if r.err != nil {
		return nil, false
	}
	return r.texts, true
}

// Err returns the unavailability reason, or nil on success.
func (r Result) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// Conform checks a result against the request it answers. A success with the
// wrong number of texts is downgraded to unavailable.
func (r Result) Conform(req Request) Result {
	texts, ok := r.Texts()
	if !ok {
		return r
	}
	if len(texts) != len(req.Fragments) {
		return Unavailable("malformed response", fmt.Errorf("got %d texts for %d fragments", len(texts), len(req.Fragments)))
	}
	return r
}

// NoopAdapter is used when no endpoint is configured.
type NoopAdapter struct{}

func (NoopAdapter) Enrich(context.Context, Request) Result {
	return Unavailable("no enrichment endpoint configured", nil)
}

// AdapterFunc lets a plain function serve as an Adapter.
type AdapterFunc func(ctx context.Context, req Request) Result

func (f AdapterFunc) Enrich(ctx context.Context, req Request) Result { return f(ctx, req) }

// ContainsCyrillic reports whether s has at least one Cyrillic letter.
func ContainsCyrillic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
	}
	return false
}

// NeedsTranslation reports whether text should be sent for translation into lang.
// For Russian, text already containing Cyrillic is left alone.
func NeedsTranslation(text, lang string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	switch strings.ToLower(lang) {
	case "ru", "rus", "russian":
		return !ContainsCyrillic(text)
	}
	return true
}
