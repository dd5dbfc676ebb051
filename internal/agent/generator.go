package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BothRocks/hari2-sub000/internal/llm"
	ometrics "github.com/BothRocks/hari2-sub000/internal/metrics"
	"github.com/BothRocks/hari2-sub000/internal/pricing"
	"github.com/BothRocks/hari2-sub000/internal/search"
)

const (
	generatorMaxTokens   = 2000
	generatorTemperature = 0.7
)

// Generator synthesizes the final answer from all accumulated evidence.
type Generator struct {
	llm    llm.Client
	model  string
	logger *zap.Logger
}

// NewGenerator creates an answer generator using the given model.
func NewGenerator(client llm.Client, model string, logger *zap.Logger) *Generator {
	return &Generator{llm: client, model: model, logger: logger}
}

// sourceReferences projects every evidence item into a citation, whether or
// not the final text literally cites it, so callers can render full
// provenance.
func sourceReferences(internal, external []search.Evidence) []search.SourceReference {
	refs := make([]search.SourceReference, 0, len(internal)+len(external))
	for _, e := range internal {
		refs = append(refs, e.Reference())
	}
	for _, e := range external {
		refs = append(refs, e.Reference())
	}
	return refs
}

// Generate makes the single synthesis call. Unlike the evaluator this is
// allowed to fail: generation failure is the one terminal error path of a
// run. Source references are returned even on failure for diagnostic value.
func (g *Generator) Generate(ctx context.Context, query string, internal, external []search.Evidence) (string, []search.SourceReference, CallUsage, error) {
	refs := sourceReferences(internal, external)
	start := time.Now()

	out, err := g.llm.Complete(ctx, llm.CompletionRequest{
		Prompt:      buildGenerationPrompt(query, internal, external),
		System:      generatorSystem,
		Model:       g.model,
		MaxTokens:   generatorMaxTokens,
		Temperature: generatorTemperature,
	})
	if err != nil {
		ometrics.RecordLLMMetrics("generate", "error", time.Since(start).Seconds())
		g.logger.Error("Answer generation failed", zap.Error(err))
		return "", refs, CallUsage{Model: g.model}, fmt.Errorf("answer generation failed: %w", err)
	}

	usage := CallUsage{
		Model:     out.Model,
		TokensIn:  out.TokensIn,
		TokensOut: out.TokensOut,
		CostUSD:   pricing.CostForSplit(out.Model, out.TokensIn, out.TokensOut),
	}
	ometrics.RecordLLMMetrics("generate", "ok", time.Since(start).Seconds())
	return out.Content, refs, usage, nil
}
