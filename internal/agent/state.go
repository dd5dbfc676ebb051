package agent

import (
	"github.com/BothRocks/hari2-sub000/internal/search"
)

// LimitReason identifies which guardrail ended a run early.
type LimitReason string

const (
	LimitTimeout LimitReason = "timeout"
	LimitCost    LimitReason = "cost"
)

// Evaluation is the Sufficiency Evaluator's judgment of accumulated evidence.
type Evaluation struct {
	IsSufficient       bool     `json:"is_sufficient"`
	Confidence         float64  `json:"confidence"`
	MissingInformation []string `json:"missing_information"`
	Reasoning          string   `json:"reasoning"`
}

// RunState is the per-query loop state. It is created by the orchestrator,
// mutated in place by each stage, and discarded when the run ends; it is
// never shared across concurrent runs.
type RunState struct {
	RunID string `json:"run_id"`
	Query string `json:"query"`

	// Evidence lists are append-only within a run. Internal entries are
	// added at Retrieve, external entries at Research.
	InternalEvidence []search.Evidence `json:"internal_evidence"`
	ExternalEvidence []search.Evidence `json:"external_evidence"`

	// Evaluation is overwritten each time the evaluator runs.
	Evaluation *Evaluation `json:"evaluation,omitempty"`

	// Iteration counts completed Research rounds; it never exceeds
	// MaxIterations.
	Iteration     int `json:"iteration"`
	MaxIterations int `json:"max_iterations"`

	ElapsedSeconds float64 `json:"elapsed_seconds"`
	CostUSDSpent   float64 `json:"cost_usd_spent"`
	TokensUsed     int     `json:"tokens_used"`

	TimeoutSeconds float64 `json:"timeout_seconds"`
	CostCeilingUSD float64 `json:"cost_ceiling_usd"`

	// LimitExceeded is set at most once and never cleared within a run.
	LimitExceeded LimitReason `json:"limit_exceeded,omitempty"`

	FinalAnswer string                   `json:"final_answer,omitempty"`
	Sources     []search.SourceReference `json:"sources,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

// setLimit latches the first guardrail trip; later trips are ignored.
func (s *RunState) setLimit(reason LimitReason) bool {
	if s.LimitExceeded != "" {
		return false
	}
	s.LimitExceeded = reason
	return true
}
