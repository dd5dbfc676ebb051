package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	ometrics "github.com/BothRocks/hari2-sub000/internal/metrics"
	"github.com/BothRocks/hari2-sub000/internal/tracing"
)

// HybridConfig configures the internal hybrid search client.
type HybridConfig struct {
	BaseURL string
	Timeout time.Duration
	TopK    int
}

// HybridClient is an HTTP client for the internal hybrid (keyword + vector)
// search service. The service returns fused, ranked results; this client
// only maps them onto Evidence.
type HybridClient struct {
	cfg    HybridConfig
	http   *http.Client
	logger *zap.Logger
}

// NewHybridClient creates the internal search client.
func NewHybridClient(cfg HybridConfig, logger *zap.Logger) *HybridClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TopK == 0 {
		cfg.TopK = 5
	}
	return &HybridClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type hybridSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type hybridSearchResponse struct {
	Results []struct {
		ID      string  `json:"id"`
		Title   string  `json:"title"`
		Snippet string  `json:"snippet"`
		URL     string  `json:"url"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search queries the hybrid search service. The mode argument is accepted
// for interface symmetry and must be ModeInternal.
func (c *HybridClient) Search(ctx context.Context, query string, mode Mode, limit int) ([]Evidence, error) {
	if mode != ModeInternal {
		return nil, fmt.Errorf("hybrid client only serves internal mode, got %q", mode)
	}
	if limit <= 0 {
		limit = c.cfg.TopK
	}

	url := fmt.Sprintf("%s/search", c.cfg.BaseURL)
	start := time.Now()

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	body, _ := json.Marshal(hybridSearchRequest{Query: query, Limit: limit})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		ometrics.RecordSearchMetrics(string(ModeInternal), "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		ometrics.RecordSearchMetrics(string(ModeInternal), "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("failed to call hybrid search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ometrics.RecordSearchMetrics(string(ModeInternal), "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("hybrid search returned status %d", resp.StatusCode)
	}

	var sr hybridSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		ometrics.RecordSearchMetrics(string(ModeInternal), "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	out := make([]Evidence, 0, len(sr.Results))
	for _, r := range sr.Results {
		out = append(out, Evidence{
			ID:      r.ID,
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Snippet,
			Score:   r.Score,
			Origin:  OriginInternal,
		})
	}
	ometrics.RecordSearchMetrics(string(ModeInternal), "ok", time.Since(start).Seconds())
	return out, nil
}
