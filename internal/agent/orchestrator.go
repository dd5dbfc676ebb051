package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	ometrics "github.com/BothRocks/hari2-sub000/internal/metrics"
	"github.com/BothRocks/hari2-sub000/internal/search"
	"github.com/BothRocks/hari2-sub000/internal/streaming"
	"github.com/BothRocks/hari2-sub000/internal/tracing"
	"github.com/BothRocks/hari2-sub000/internal/usage"
)

// Progress event types emitted to stream subscribers, in strict stage order:
// zero or more thinking events, zero or more warnings, then exactly one
// terminal answer or error event.
const (
	EventThinking = "thinking"
	EventWarning  = "warning"
	EventAnswer   = "answer"
	EventError    = "error"
)

// ErrEmptyQuery rejects a run before any stage executes.
var ErrEmptyQuery = errors.New("query must not be empty")

// ValidateParams checks run inputs without starting a run, so callers that
// detach the run from the request can still reject bad input synchronously.
func ValidateParams(p RunParams) error {
	if strings.TrimSpace(p.Query) == "" {
		return ErrEmptyQuery
	}
	if p.MaxIterations != nil && *p.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be >= 0, got %d", *p.MaxIterations)
	}
	return nil
}

// GuardrailDefaults are applied when the caller omits a limit.
type GuardrailDefaults struct {
	MaxIterations  int
	TimeoutSeconds float64
	CostCeilingUSD float64
}

// RunParams are the caller-supplied inputs for one run.
type RunParams struct {
	// RunID may be pre-assigned so callers can subscribe to the event
	// stream before the run starts. Empty means generate one.
	RunID string

	Query string
	// MaxIterations nil means default; zero is valid and disables research.
	MaxIterations  *int
	TimeoutSeconds float64
	CostCeilingUSD float64
}

// Options carries the orchestrator's optional collaborators.
type Options struct {
	Events       *streaming.Manager
	Ledger       *usage.Ledger
	Defaults     GuardrailDefaults
	InternalTopK int
}

// Orchestrator owns the run state, sequences the loop stages, enforces
// guardrails before every LLM-costing stage, and streams progress events.
type Orchestrator struct {
	source     search.Source
	evaluator  *Evaluator
	researcher *Researcher
	generator  *Generator

	events *streaming.Manager
	ledger *usage.Ledger
	logger *zap.Logger

	defaults     GuardrailDefaults
	internalTopK int
}

// NewOrchestrator wires the loop's collaborators together.
func NewOrchestrator(source search.Source, evaluator *Evaluator, researcher *Researcher, generator *Generator, logger *zap.Logger, opts Options) *Orchestrator {
	defaults := opts.Defaults
	if defaults.MaxIterations == 0 {
		defaults.MaxIterations = 3
	}
	if defaults.TimeoutSeconds == 0 {
		defaults.TimeoutSeconds = 120
	}
	if defaults.CostCeilingUSD == 0 {
		defaults.CostCeilingUSD = 1.0
	}
	topK := opts.InternalTopK
	if topK == 0 {
		topK = 5
	}
	return &Orchestrator{
		source:       source,
		evaluator:    evaluator,
		researcher:   researcher,
		generator:    generator,
		events:       opts.Events,
		ledger:       opts.Ledger,
		logger:       logger,
		defaults:     defaults,
		internalTopK: topK,
	}
}

// Run executes the loop for one query: Retrieve, then Evaluate/Route with
// bounded Research rounds, then exactly one Generate. The returned state
// carries the answer or, for generation failure, the run-level error.
// The only error return is input validation; everything else is a run
// outcome, not a Go error.
func (o *Orchestrator) Run(ctx context.Context, p RunParams) (*RunState, error) {
	if err := ValidateParams(p); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(p.Query)

	runID := p.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	state := &RunState{
		RunID:          runID,
		Query:          query,
		MaxIterations:  o.defaults.MaxIterations,
		TimeoutSeconds: o.defaults.TimeoutSeconds,
		CostCeilingUSD: o.defaults.CostCeilingUSD,
	}
	if p.MaxIterations != nil {
		state.MaxIterations = *p.MaxIterations
	}
	if p.TimeoutSeconds > 0 {
		state.TimeoutSeconds = p.TimeoutSeconds
	}
	if p.CostCeilingUSD > 0 {
		state.CostCeilingUSD = p.CostCeilingUSD
	}

	tracker := NewBudgetTracker(state.TimeoutSeconds, state.CostCeilingUSD)
	ometrics.RunsStarted.Inc()

	ctx, span := tracing.StartSpan(ctx, "assistant.run")
	defer span.End()

	o.logger.Info("Run started",
		zap.String("run_id", state.RunID),
		zap.Int("max_iterations", state.MaxIterations),
		zap.Float64("timeout_seconds", state.TimeoutSeconds),
		zap.Float64("cost_ceiling_usd", state.CostCeilingUSD),
	)

	o.retrieve(ctx, state)
	o.loop(ctx, state, tracker)
	o.generate(ctx, state, tracker)

	state.ElapsedSeconds = tracker.Elapsed()
	status := "ok"
	if state.Error != "" {
		status = "error"
	} else if state.LimitExceeded != "" {
		status = "limited"
	}
	ometrics.RecordRunMetrics(status, state.ElapsedSeconds, state.Iteration, state.TokensUsed, state.CostUSDSpent)

	o.logger.Info("Run finished",
		zap.String("run_id", state.RunID),
		zap.String("status", status),
		zap.Int("research_iterations", state.Iteration),
		zap.Float64("cost_usd", state.CostUSDSpent),
	)
	return state, nil
}

// retrieve appends internal evidence. Not budget-gated: the hybrid search
// is local and cheap. A failure here is recovered as an empty result so the
// evaluator can still decide what to do.
func (o *Orchestrator) retrieve(ctx context.Context, state *RunState) {
	o.emit(state.RunID, EventThinking, "Searching the knowledge base", nil)
	start := time.Now()

	results, err := o.source.Search(ctx, state.Query, search.ModeInternal, o.internalTopK)
	ometrics.StageLatency.WithLabelValues("retrieve").Observe(time.Since(start).Seconds())
	if err != nil {
		ometrics.StageErrors.WithLabelValues("retrieve").Inc()
		o.logger.Warn("Internal retrieval failed, continuing without internal evidence",
			zap.String("run_id", state.RunID), zap.Error(err))
		return
	}
	state.InternalEvidence = append(state.InternalEvidence, results...)
}

// loop runs Evaluate → Route → Research until the router decides to
// generate. The back-edge exists only between Research and Evaluate, so
// termination is bounded by MaxIterations regardless of evaluator output.
func (o *Orchestrator) loop(ctx context.Context, state *RunState, tracker *BudgetTracker) {
	for {
		// Budget gate before Evaluate. If tripped, skip straight to Generate.
		if reason, exceeded := tracker.Check(); exceeded {
			o.tripLimit(state, tracker, reason)
			return
		}

		o.emit(state.RunID, EventThinking, "Evaluating whether the evidence answers the question", nil)
		start := time.Now()
		eval, used := o.evaluator.Evaluate(ctx, state.Query, state.InternalEvidence, state.ExternalEvidence)
		ometrics.StageLatency.WithLabelValues("evaluate").Observe(time.Since(start).Seconds())
		state.Evaluation = eval
		o.recordUsage(ctx, state, tracker, "evaluate", used)

		next := Route(state.Evaluation, state.Iteration, state.MaxIterations, state.LimitExceeded)
		if next == StageGenerate {
			return
		}

		// Budget gate before Research. A trip here still counts the
		// iteration and proceeds directly toward Generate.
		if reason, exceeded := tracker.Check(); exceeded {
			o.tripLimit(state, tracker, reason)
			state.Iteration++
			return
		}

		o.emit(state.RunID, EventThinking, "Searching external sources for missing information", map[string]interface{}{
			"missing_information": state.Evaluation.MissingInformation,
		})
		start = time.Now()
		results := o.researcher.Research(ctx, state.Query, state.Evaluation)
		ometrics.StageLatency.WithLabelValues("research").Observe(time.Since(start).Seconds())
		state.ExternalEvidence = append(state.ExternalEvidence, results...)
		state.Iteration++
	}
}

// generate runs exactly once per run, whatever path led here.
func (o *Orchestrator) generate(ctx context.Context, state *RunState, tracker *BudgetTracker) {
	o.emit(state.RunID, EventThinking, "Generating the answer", nil)
	start := time.Now()

	answer, sources, used, err := o.generator.Generate(ctx, state.Query, state.InternalEvidence, state.ExternalEvidence)
	ometrics.StageLatency.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	o.recordUsage(ctx, state, tracker, "generate", used)
	state.Sources = sources

	if err != nil {
		state.Error = err.Error()
		o.emit(state.RunID, EventError, "Answer generation failed", map[string]interface{}{
			"error": state.Error,
		})
		return
	}

	if state.LimitExceeded != "" {
		answer += limitDisclaimer(state.LimitExceeded)
	}
	state.FinalAnswer = answer

	o.emit(state.RunID, EventAnswer, "Answer ready", map[string]interface{}{
		"answer":              state.FinalAnswer,
		"sources":             state.Sources,
		"research_iterations": state.Iteration,
	})
}

// tripLimit latches the guardrail and narrates it once.
func (o *Orchestrator) tripLimit(state *RunState, tracker *BudgetTracker, reason LimitReason) {
	if !state.setLimit(reason) {
		return
	}
	ometrics.GuardrailTrips.WithLabelValues(string(reason)).Inc()
	o.logger.Warn("Guardrail tripped",
		zap.String("run_id", state.RunID),
		zap.String("limit", string(reason)),
		zap.Float64("elapsed_seconds", tracker.Elapsed()),
		zap.Float64("cost_usd", tracker.CostUSD()),
	)
	o.emit(state.RunID, EventWarning, "Budget limit reached, answering with the evidence gathered so far", map[string]interface{}{
		"limit":           string(reason),
		"elapsed_seconds": tracker.Elapsed(),
		"cost_usd":        tracker.CostUSD(),
	})
}

func limitDisclaimer(reason LimitReason) string {
	switch reason {
	case LimitTimeout:
		return "\n\n_Note: the time limit was reached before research could complete; this answer may be incomplete._"
	case LimitCost:
		return "\n\n_Note: the cost ceiling was reached before research could complete; this answer may be incomplete._"
	default:
		return ""
	}
}

// recordUsage folds one call's accounting into the tracker, the run state,
// and the audit ledger (best-effort).
func (o *Orchestrator) recordUsage(ctx context.Context, state *RunState, tracker *BudgetTracker, stage string, used CallUsage) {
	if used.Tokens() == 0 && used.CostUSD == 0 {
		return
	}
	tracker.AddCost(used.CostUSD, used.Tokens())
	state.CostUSDSpent = tracker.CostUSD()
	state.TokensUsed = tracker.Tokens()

	if o.ledger != nil {
		_ = o.ledger.Record(ctx, usage.Record{
			RunID:        state.RunID,
			Stage:        stage,
			Model:        used.Model,
			InputTokens:  used.TokensIn,
			OutputTokens: used.TokensOut,
			CostUSD:      used.CostUSD,
		})
	}
}

// emit publishes a progress event when streaming is wired.
func (o *Orchestrator) emit(runID, eventType, message string, data map[string]interface{}) {
	if o.events == nil {
		return
	}
	o.events.Publish(runID, streaming.Event{
		Type:    eventType,
		Message: message,
		Data:    data,
	})
}
