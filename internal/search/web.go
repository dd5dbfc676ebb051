package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	ometrics "github.com/BothRocks/hari2-sub000/internal/metrics"
	"github.com/BothRocks/hari2-sub000/internal/tracing"
)

// WebConfig configures the external web search client.
type WebConfig struct {
	BaseURL   string
	APIKeyEnv string
	Timeout   time.Duration
	Depth     string // "basic" or "advanced"; the loop only uses basic
}

// WebClient is an HTTP client for a Tavily-style web search API.
type WebClient struct {
	cfg    WebConfig
	http   *http.Client
	logger *zap.Logger
}

// NewWebClient creates the external search client.
func NewWebClient(cfg WebConfig, logger *zap.Logger) *WebClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Depth == "" {
		cfg.Depth = "basic"
	}
	return &WebClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type webSearchRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type webSearchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search queries the web search API. The mode argument must be ModeExternal.
func (c *WebClient) Search(ctx context.Context, query string, mode Mode, limit int) ([]Evidence, error) {
	if mode != ModeExternal {
		return nil, fmt.Errorf("web client only serves external mode, got %q", mode)
	}
	if limit <= 0 {
		limit = 5
	}

	url := fmt.Sprintf("%s/search", c.cfg.BaseURL)
	start := time.Now()

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	body, _ := json.Marshal(webSearchRequest{
		APIKey:      os.Getenv(c.cfg.APIKeyEnv),
		Query:       query,
		MaxResults:  limit,
		SearchDepth: c.cfg.Depth,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		ometrics.RecordSearchMetrics(string(ModeExternal), "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		ometrics.RecordSearchMetrics(string(ModeExternal), "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("failed to call web search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ometrics.RecordSearchMetrics(string(ModeExternal), "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("web search returned status %d", resp.StatusCode)
	}

	var sr webSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		ometrics.RecordSearchMetrics(string(ModeExternal), "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	out := make([]Evidence, 0, len(sr.Results))
	for _, r := range sr.Results {
		out = append(out, Evidence{
			ID:      uuid.New().String(),
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
			Score:   r.Score,
			Origin:  OriginExternal,
		})
	}
	ometrics.RecordSearchMetrics(string(ModeExternal), "ok", time.Since(start).Seconds())
	return out, nil
}
