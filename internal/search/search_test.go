package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHybridClient_MapsResultsToEvidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		var body hybridSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "onboarding policy", body.Query)
		assert.Equal(t, 5, body.Limit)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"id": "doc-1", "title": "Onboarding Guide", "snippet": "Day one steps...", "url": "kb://doc-1", "score": 0.91},
				{"id": "doc-2", "title": "HR Policy", "snippet": "Policies...", "score": 0.44},
			},
		})
	}))
	defer srv.Close()

	c := NewHybridClient(HybridConfig{BaseURL: srv.URL}, zap.NewNop())
	out, err := c.Search(context.Background(), "onboarding policy", ModeInternal, 5)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "doc-1", out[0].ID)
	assert.Equal(t, OriginInternal, out[0].Origin)
	assert.Equal(t, 0.91, out[0].Score)
	assert.Empty(t, out[1].URL)
}

func TestHybridClient_RejectsExternalMode(t *testing.T) {
	c := NewHybridClient(HybridConfig{BaseURL: "http://unused"}, zap.NewNop())
	_, err := c.Search(context.Background(), "q", ModeExternal, 5)
	require.Error(t, err)
}

func TestWebClient_MapsResultsToEvidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body webSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "basic", body.SearchDepth)
		assert.Equal(t, 5, body.MaxResults)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"title": "Recent data", "url": "https://example.com/a", "content": "Numbers...", "score": 0.8},
			},
		})
	}))
	defer srv.Close()

	c := NewWebClient(WebConfig{BaseURL: srv.URL}, zap.NewNop())
	out, err := c.Search(context.Background(), "recent data", ModeExternal, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, OriginExternal, out[0].Origin)
	assert.NotEmpty(t, out[0].ID)
	assert.Equal(t, "https://example.com/a", out[0].URL)
}

func TestWebClient_Non200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c := NewWebClient(WebConfig{BaseURL: srv.URL}, zap.NewNop())
	_, err := c.Search(context.Background(), "q", ModeExternal, 5)
	require.Error(t, err)
}

func TestMux_DispatchesByMode(t *testing.T) {
	internal := sourceFunc(func(ctx context.Context, q string, m Mode, l int) ([]Evidence, error) {
		return []Evidence{{ID: "i", Origin: OriginInternal}}, nil
	})
	external := sourceFunc(func(ctx context.Context, q string, m Mode, l int) ([]Evidence, error) {
		return []Evidence{{ID: "e", Origin: OriginExternal}}, nil
	})
	mux := NewMux(internal, external)

	in, err := mux.Search(context.Background(), "q", ModeInternal, 5)
	require.NoError(t, err)
	assert.Equal(t, "i", in[0].ID)

	ex, err := mux.Search(context.Background(), "q", ModeExternal, 5)
	require.NoError(t, err)
	assert.Equal(t, "e", ex[0].ID)

	_, err = mux.Search(context.Background(), "q", Mode("bogus"), 5)
	require.Error(t, err)
}

func TestMux_MissingBackendFails(t *testing.T) {
	mux := NewMux(nil, nil)
	_, err := mux.Search(context.Background(), "q", ModeInternal, 5)
	require.Error(t, err)
}

func TestEvidenceReference_TruncatesExcerpt(t *testing.T) {
	e := Evidence{
		ID:      "x",
		Title:   "Long doc",
		Snippet: strings.Repeat("a", 500),
		Origin:  OriginInternal,
	}
	ref := e.Reference()
	assert.Equal(t, excerptLimit+3, len(ref.Excerpt)) // trailing "..."
	assert.Equal(t, OriginInternal, ref.Origin)
}

type sourceFunc func(ctx context.Context, query string, mode Mode, limit int) ([]Evidence, error)

func (f sourceFunc) Search(ctx context.Context, query string, mode Mode, limit int) ([]Evidence, error) {
	return f(ctx, query, mode, limit)
}
