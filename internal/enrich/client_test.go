package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completionServer answers every chat-completions call with reply and counts hits.
func completionServer(t *testing.T, status int, reply string, hits *int32, seen func(chatRequest, *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if seen != nil {
			seen(req, r)
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{URL: url + "/v1", Token: "secret", Model: "m", MaxTokens: 100, Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func TestClient_Success(t *testing.T) {
	t.Parallel()
	var hits int32
	srv := completionServer(t, http.StatusOK, "```json\n[\"**Первое** описание\", \"Второе\"]\n```", &hits, func(req chatRequest, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "m", req.Model)
		assert.Equal(t, 100, req.MaxTokens)
		if assert.Len(t, req.Messages, 2) {
			assert.Contains(t, req.Messages[0].Content, "Russian")
			assert.Contains(t, req.Messages[1].Content, "exactly 2 strings")
		}
	})
	c := newTestClient(t, srv.URL)

	req := Request{DocumentID: "doc", Fragments: []Fragment{
		{Task: TaskImprove, Text: "list", Context: "GET /items"},
		{Task: TaskGenerate, Context: "id (integer)"},
	}}
	texts, ok := c.Enrich(context.Background(), req).Texts()
	require.True(t, ok)
	assert.Equal(t, []string{"Первое описание", "Второе"}, texts)

	// A second identical request is served from the cache.
	texts, ok = c.Enrich(context.Background(), req).Texts()
	require.True(t, ok)
	assert.Equal(t, []string{"Первое описание", "Второе"}, texts)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestClient_CacheIsScopedByDocument(t *testing.T) {
	t.Parallel()
	var hits int32
	srv := completionServer(t, http.StatusOK, `["x"]`, &hits, nil)
	c := newTestClient(t, srv.URL)
	frag := []Fragment{{Task: TaskTranslate, Text: "List items"}}

	_, ok := c.Enrich(context.Background(), Request{DocumentID: "a", Fragments: frag}).Texts()
	require.True(t, ok)
	_, ok = c.Enrich(context.Background(), Request{DocumentID: "b", Fragments: frag}).Texts()
	require.True(t, ok)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestClient_Unavailable(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		status int
		reply  string
	}{
		{"server error", http.StatusInternalServerError, `["a"]`},
		{"wrong length", http.StatusOK, `["a","b"]`},
		{"not an array", http.StatusOK, `{"text":"a"}`},
		{"prose", http.StatusOK, `Sure! Here is the text.`},
		{"empty text", http.StatusOK, `["   "]`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var hits int32
			srv := completionServer(t, tc.status, tc.reply, &hits, nil)
			c := newTestClient(t, srv.URL)
			res := c.Enrich(context.Background(), Request{Fragments: []Fragment{{Task: TaskImprove, Text: "t"}}})
			_, ok := res.Texts()
			require.False(t, ok)
			assert.ErrorIs(t, res.Err(), ErrUnavailable)
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	c, err := NewClient(Config{URL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	res := c.Enrich(context.Background(), Request{Fragments: []Fragment{{Task: TaskImprove, Text: "t"}}})
	require.Error(t, res.Err())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewClient_RequiresURL(t *testing.T) {
	t.Parallel()
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestResult(t *testing.T) {
	t.Parallel()
	req := Request{Fragments: []Fragment{{Text: "a"}, {Text: "b"}}}

	res := Success([]string{"x"}).Conform(req)
	_, ok := res.Texts()
	assert.False(t, ok)
	assert.ErrorIs(t, res.Err(), ErrUnavailable)

	res = Success([]string{"x", "y"}).Conform(req)
	texts, ok := res.Texts()
	assert.True(t, ok)
	assert.Equal(t, []string{"x", "y"}, texts)
	assert.NoError(t, res.Err())

	res = NoopAdapter{}.Enrich(context.Background(), req)
	assert.ErrorIs(t, res.Err(), ErrUnavailable)
	assert.True(t, strings.Contains(res.Err().Error(), "no enrichment endpoint"))
}

func TestNeedsTranslation(t *testing.T) {
	t.Parallel()
	assert.True(t, NeedsTranslation("List items", "ru"))
	assert.False(t, NeedsTranslation("Список items", "ru"))
	assert.False(t, NeedsTranslation("  ", "ru"))
	assert.True(t, NeedsTranslation("Список", "en"))
}
