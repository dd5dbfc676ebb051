package agent

// Stage is the router's decision: where the loop goes next.
type Stage string

const (
	StageResearch Stage = "research"
	StageGenerate Stage = "generate"
)

// Route maps the loop's decision inputs to the next stage. It is a pure,
// total function: every input combination yields an answer, including ones
// that cannot occur in real runs.
//
// Precedence: a failed evaluator, a tripped limit, a sufficient judgment,
// or an exhausted iteration budget all terminate the loop; only an explicit
// "insufficient, budget remaining" verdict continues to research.
func Route(eval *Evaluation, iteration, maxIterations int, limitExceeded LimitReason) Stage {
	if eval == nil {
		// Evaluator failed; never loop on an error.
		return StageGenerate
	}
	if limitExceeded != "" {
		return StageGenerate
	}
	if eval.IsSufficient {
		return StageGenerate
	}
	if iteration >= maxIterations {
		return StageGenerate
	}
	return StageResearch
}
