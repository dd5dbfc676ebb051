package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BothRocks/hari2-sub000/internal/llm"
	ometrics "github.com/BothRocks/hari2-sub000/internal/metrics"
	"github.com/BothRocks/hari2-sub000/internal/pricing"
	"github.com/BothRocks/hari2-sub000/internal/search"
)

// CallUsage is the token and cost accounting for one reasoning call.
type CallUsage struct {
	Model     string
	TokensIn  int
	TokensOut int
	CostUSD   float64
}

// Tokens returns total tokens for the call.
func (u CallUsage) Tokens() int { return u.TokensIn + u.TokensOut }

const evaluatorMaxTokens = 1000

// Evaluator scores whether accumulated evidence answers the query.
type Evaluator struct {
	llm    llm.Client
	model  string
	logger *zap.Logger
}

// NewEvaluator creates a sufficiency evaluator using the given model.
func NewEvaluator(client llm.Client, model string, logger *zap.Logger) *Evaluator {
	return &Evaluator{llm: client, model: model, logger: logger}
}

// failSafe is the default returned when the evaluator's output cannot be
// trusted. It must read as sufficient: an unparsable evaluation treated as
// "insufficient" would force a research round on every failure and could
// loop up to the iteration cap for no reason.
func failSafe(reason string) *Evaluation {
	return &Evaluation{
		IsSufficient:       true,
		Confidence:         0.5,
		MissingInformation: []string{},
		Reasoning:          reason,
	}
}

// Evaluate makes a single temperature-0 call judging the evidence. It never
// fails: transport and parse errors collapse into the fail-safe default,
// with whatever token usage was actually incurred still reported.
func (e *Evaluator) Evaluate(ctx context.Context, query string, internal, external []search.Evidence) (*Evaluation, CallUsage) {
	start := time.Now()

	out, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Prompt:      buildEvaluationPrompt(query, internal, external),
		System:      evaluatorSystem,
		Model:       e.model,
		MaxTokens:   evaluatorMaxTokens,
		Temperature: 0, // repeated evaluation of identical evidence must not flip-flop
	})
	if err != nil {
		ometrics.RecordLLMMetrics("evaluate", "error", time.Since(start).Seconds())
		ometrics.StageErrors.WithLabelValues("evaluate").Inc()
		e.logger.Warn("Evaluator call failed, defaulting to sufficient", zap.Error(err))
		return failSafe("evaluator call failed: " + err.Error()), CallUsage{Model: e.model}
	}

	usage := CallUsage{
		Model:     out.Model,
		TokensIn:  out.TokensIn,
		TokensOut: out.TokensOut,
		CostUSD:   pricing.CostForSplit(out.Model, out.TokensIn, out.TokensOut),
	}

	ev, err := parseEvaluation(out.Content)
	if err != nil {
		ometrics.RecordLLMMetrics("evaluate", "parse_error", time.Since(start).Seconds())
		ometrics.StageErrors.WithLabelValues("evaluate").Inc()
		e.logger.Warn("Failed to parse evaluation, defaulting to sufficient",
			zap.Error(err),
			zap.String("response", out.Content),
		)
		return failSafe("evaluation unparsable: " + err.Error()), usage
	}

	ometrics.RecordLLMMetrics("evaluate", "ok", time.Since(start).Seconds())
	return ev, usage
}
