package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BothRocks/hari2-sub000/internal/llm"
	"github.com/BothRocks/hari2-sub000/internal/search"
	"github.com/BothRocks/hari2-sub000/internal/streaming"
)

func evalVerdict(t *testing.T, sufficient bool, missing ...string) string {
	t.Helper()
	if missing == nil {
		missing = []string{}
	}
	b, err := json.Marshal(Evaluation{
		IsSufficient:       sufficient,
		Confidence:         0.8,
		MissingInformation: missing,
		Reasoning:          "test verdict",
	})
	require.NoError(t, err)
	return string(b)
}

func internalDocs(n int) []search.Evidence {
	docs := make([]search.Evidence, n)
	for i := range docs {
		docs[i] = search.Evidence{
			ID:      fmt.Sprintf("kb-%d", i+1),
			Title:   fmt.Sprintf("internal doc %d", i+1),
			Snippet: "internal snippet",
			Origin:  search.OriginInternal,
		}
	}
	return docs
}

// testHarness wires an orchestrator with scriptable collaborators and an
// in-memory event stream.
type testHarness struct {
	orch   *Orchestrator
	events *streaming.Manager

	evaluateCalls int
	generateCalls int
	researchCalls int
}

type harnessConfig struct {
	internal     []search.Evidence
	internalErr  error
	external     []search.Evidence
	externalErr  error
	evalOutputs  []string
	// evalFn, when set, produces the verdict for each call instead of
	// evalOutputs.
	evalFn       func(call int) string
	answer       string
	generateErr  error
	evalUsage    llm.Completion
	capturedExts *[]string
}

func newHarness(t *testing.T, cfg harnessConfig, opts Options) *testHarness {
	t.Helper()
	h := &testHarness{}

	src := sourceFunc(func(ctx context.Context, query string, mode search.Mode, limit int) ([]search.Evidence, error) {
		if mode == search.ModeInternal {
			return cfg.internal, cfg.internalErr
		}
		h.researchCalls++
		if cfg.capturedExts != nil {
			*cfg.capturedExts = append(*cfg.capturedExts, query)
		}
		return cfg.external, cfg.externalErr
	})

	evalClient := llmFunc(func(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
		idx := h.evaluateCalls
		h.evaluateCalls++
		out := cfg.evalUsage
		if out.TokensIn == 0 && out.TokensOut == 0 {
			out.TokensIn, out.TokensOut = 100, 30
		}
		if cfg.evalFn != nil {
			out.Content = cfg.evalFn(idx)
		} else {
			require.Less(t, idx, len(cfg.evalOutputs), "evaluator called more times than scripted")
			out.Content = cfg.evalOutputs[idx]
		}
		out.Model = "test-model"
		return &out, nil
	})

	genClient := llmFunc(func(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
		h.generateCalls++
		if cfg.generateErr != nil {
			return nil, cfg.generateErr
		}
		return &llm.Completion{Content: cfg.answer, Model: "test-model", TokensIn: 200, TokensOut: 150}, nil
	})

	logger := zap.NewNop()
	h.events = streaming.NewManager(nil, logger)
	opts.Events = h.events

	h.orch = NewOrchestrator(
		src,
		NewEvaluator(evalClient, "test-model", logger),
		NewResearcher(src, logger),
		NewGenerator(genClient, "test-model", logger),
		logger,
		opts,
	)
	return h
}

func (h *testHarness) eventTypes(runID string) []string {
	events := h.events.ReplaySince(runID, 0)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func TestRunSufficientOnFirstPass(t *testing.T) {
	h := newHarness(t, harnessConfig{
		internal:    internalDocs(2),
		evalOutputs: []string{evalVerdict(t, true)},
		answer:      "The SLA is 99.9% uptime.",
	}, Options{})

	state, err := h.orch.Run(context.Background(), RunParams{Query: "what is the SLA"})
	require.NoError(t, err)

	assert.Equal(t, "The SLA is 99.9% uptime.", state.FinalAnswer)
	assert.Empty(t, state.Error)
	assert.Zero(t, state.Iteration)
	assert.Empty(t, state.LimitExceeded)
	assert.Empty(t, state.ExternalEvidence)
	assert.Len(t, state.Sources, 2)
	assert.Equal(t, 1, h.evaluateCalls)
	assert.Equal(t, 0, h.researchCalls)
	assert.Equal(t, 1, h.generateCalls)
	assert.Greater(t, state.TokensUsed, 0)
	assert.Greater(t, state.CostUSDSpent, 0.0)

	types := h.eventTypes(state.RunID)
	require.NotEmpty(t, types)
	assert.Equal(t, EventAnswer, types[len(types)-1])
	assert.NotContains(t, types, EventWarning)
	assert.NotContains(t, types, EventError)
}

func TestRunOneResearchRound(t *testing.T) {
	var extQueries []string
	h := newHarness(t, harnessConfig{
		internal: internalDocs(1),
		external: []search.Evidence{
			{ID: "web-1", Title: "blog post", URL: "https://example.com/p", Snippet: "web snippet", Origin: search.OriginExternal},
		},
		evalOutputs: []string{
			evalVerdict(t, false, "refund policy", "proration rules"),
			evalVerdict(t, true),
		},
		answer:       "Refunds are prorated.",
		capturedExts: &extQueries,
	}, Options{})

	state, err := h.orch.Run(context.Background(), RunParams{Query: "how do refunds work"})
	require.NoError(t, err)

	assert.Equal(t, 1, state.Iteration)
	assert.Equal(t, 2, h.evaluateCalls)
	assert.Equal(t, 1, h.researchCalls)
	assert.Equal(t, 1, h.generateCalls)
	require.Len(t, extQueries, 1)
	assert.Equal(t, "how do refunds work refund policy proration rules", extQueries[0])
	assert.Len(t, state.ExternalEvidence, 1)
	// Internal and external citations both present.
	assert.Len(t, state.Sources, 2)
	assert.Equal(t, search.OriginInternal, state.Sources[0].Origin)
	assert.Equal(t, search.OriginExternal, state.Sources[1].Origin)
}

func TestRunTerminationBound(t *testing.T) {
	insufficient := evalVerdict(t, false, "still missing")
	h := newHarness(t, harnessConfig{
		internal: internalDocs(1),
		external: []search.Evidence{
			{ID: "web-1", Title: "page", Snippet: "s", Origin: search.OriginExternal},
			{ID: "web-2", Title: "page", Snippet: "s", Origin: search.OriginExternal},
		},
		evalOutputs: []string{insufficient, insufficient, insufficient, insufficient},
		answer:      "best effort answer",
	}, Options{})

	state, err := h.orch.Run(context.Background(), RunParams{Query: "q"})
	require.NoError(t, err)

	// An evaluator that never concedes still terminates at the cap.
	assert.Equal(t, 3, state.Iteration)
	assert.Equal(t, 4, h.evaluateCalls)
	assert.Equal(t, 3, h.researchCalls)
	assert.Equal(t, 1, h.generateCalls)
	// Evidence only accumulates, two items per round.
	assert.Len(t, state.ExternalEvidence, 6)
	assert.Empty(t, state.LimitExceeded)
	assert.Equal(t, "best effort answer", state.FinalAnswer)
}

func TestRunTerminationBoundRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		maxIter := rng.Intn(5)
		h := newHarness(t, harnessConfig{
			internal: internalDocs(1),
			external: []search.Evidence{
				{ID: "web-1", Title: "page", Snippet: "s", Origin: search.OriginExternal},
			},
			evalFn: func(call int) string {
				if rng.Intn(2) == 0 {
					return evalVerdict(t, true)
				}
				return evalVerdict(t, false, "gap")
			},
			answer: "answer",
		}, Options{})

		mi := maxIter
		state, err := h.orch.Run(context.Background(), RunParams{Query: "q", MaxIterations: &mi})
		require.NoError(t, err)

		// Whatever the evaluator says, the loop stays within its bounds.
		assert.LessOrEqual(t, state.Iteration, maxIter, "trial %d", trial)
		assert.LessOrEqual(t, h.evaluateCalls, maxIter+1, "trial %d", trial)
		assert.Equal(t, 1, h.generateCalls, "trial %d", trial)
		assert.Equal(t, state.Iteration, h.researchCalls, "trial %d", trial)
		assert.Len(t, state.ExternalEvidence, state.Iteration, "trial %d", trial)
		assert.Equal(t, "answer", state.FinalAnswer, "trial %d", trial)
	}
}

func TestRunZeroIterationsSkipsResearch(t *testing.T) {
	zero := 0
	h := newHarness(t, harnessConfig{
		internal:    internalDocs(1),
		evalOutputs: []string{evalVerdict(t, false, "gap")},
		answer:      "answer from internal evidence only",
	}, Options{})

	state, err := h.orch.Run(context.Background(), RunParams{Query: "q", MaxIterations: &zero})
	require.NoError(t, err)

	assert.Zero(t, state.Iteration)
	assert.Equal(t, 1, h.evaluateCalls)
	assert.Zero(t, h.researchCalls)
	assert.Equal(t, 1, h.generateCalls)
}

func TestRunTimeoutTripsBeforeEvaluate(t *testing.T) {
	h := newHarness(t, harnessConfig{
		internal: internalDocs(1),
		answer:   "partial answer",
	}, Options{})

	state, err := h.orch.Run(context.Background(), RunParams{
		Query:          "q",
		TimeoutSeconds: 1e-9,
	})
	require.NoError(t, err)

	assert.Equal(t, LimitTimeout, state.LimitExceeded)
	assert.Zero(t, h.evaluateCalls)
	assert.Zero(t, h.researchCalls)
	assert.Equal(t, 1, h.generateCalls)
	assert.Contains(t, state.FinalAnswer, "partial answer")
	assert.Contains(t, state.FinalAnswer, "time limit was reached")
	assert.Empty(t, state.Error)

	types := h.eventTypes(state.RunID)
	warnings := 0
	for _, tp := range types {
		if tp == EventWarning {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)
	assert.Equal(t, EventAnswer, types[len(types)-1])
}

func TestRunCostCeilingTripsBeforeResearch(t *testing.T) {
	h := newHarness(t, harnessConfig{
		internal:    internalDocs(1),
		evalOutputs: []string{evalVerdict(t, false, "gap")},
		answer:      "partial answer",
		evalUsage:   llm.Completion{TokensIn: 5000, TokensOut: 1000},
	}, Options{})

	state, err := h.orch.Run(context.Background(), RunParams{
		Query:          "q",
		CostCeilingUSD: 1e-9,
	})
	require.NoError(t, err)

	assert.Equal(t, LimitCost, state.LimitExceeded)
	assert.Equal(t, 1, h.evaluateCalls)
	assert.Zero(t, h.researchCalls)
	assert.Equal(t, 1, h.generateCalls)
	assert.Equal(t, 1, state.Iteration)
	assert.Contains(t, state.FinalAnswer, "cost ceiling was reached")
}

func TestRunGenerationFailure(t *testing.T) {
	h := newHarness(t, harnessConfig{
		internal:    internalDocs(2),
		evalOutputs: []string{evalVerdict(t, true)},
		generateErr: fmt.Errorf("model overloaded"),
	}, Options{})

	state, err := h.orch.Run(context.Background(), RunParams{Query: "q"})
	require.NoError(t, err)

	assert.Empty(t, state.FinalAnswer)
	assert.Contains(t, state.Error, "model overloaded")
	// Citations survive the failure for diagnostics.
	assert.Len(t, state.Sources, 2)

	types := h.eventTypes(state.RunID)
	require.NotEmpty(t, types)
	assert.Equal(t, EventError, types[len(types)-1])
	assert.NotContains(t, types, EventAnswer)
}

func TestRunRetrievalFailureContinues(t *testing.T) {
	h := newHarness(t, harnessConfig{
		internalErr: fmt.Errorf("search service down"),
		evalOutputs: []string{evalVerdict(t, true)},
		answer:      "answer without internal evidence",
	}, Options{})

	state, err := h.orch.Run(context.Background(), RunParams{Query: "q"})
	require.NoError(t, err)

	assert.Empty(t, state.InternalEvidence)
	assert.Equal(t, "answer without internal evidence", state.FinalAnswer)
	assert.Empty(t, state.Error)
}

func TestRunRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, harnessConfig{}, Options{})

	_, err := h.orch.Run(context.Background(), RunParams{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	neg := -1
	_, err = h.orch.Run(context.Background(), RunParams{Query: "q", MaxIterations: &neg})
	assert.Error(t, err)
}

func TestRunAppliesGuardrailDefaults(t *testing.T) {
	h := newHarness(t, harnessConfig{
		internal:    internalDocs(1),
		evalOutputs: []string{evalVerdict(t, true)},
		answer:      "a",
	}, Options{Defaults: GuardrailDefaults{MaxIterations: 5, TimeoutSeconds: 60, CostCeilingUSD: 0.5}})

	state, err := h.orch.Run(context.Background(), RunParams{Query: "q"})
	require.NoError(t, err)

	assert.Equal(t, 5, state.MaxIterations)
	assert.Equal(t, 60.0, state.TimeoutSeconds)
	assert.Equal(t, 0.5, state.CostCeilingUSD)
}
