package agent

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	ometrics "github.com/BothRocks/hari2-sub000/internal/metrics"
	"github.com/BothRocks/hari2-sub000/internal/search"
)

// maxRefinementPhrases caps how many missing-information phrases are folded
// into the refined query. Longer synthetic queries degrade external search
// relevance. Heuristic carried from production behavior; a tuning
// opportunity, not a hard requirement.
const maxRefinementPhrases = 2

// researchResultLimit is the fixed external result count per round.
const researchResultLimit = 5

// Researcher drives one round of external evidence gathering.
type Researcher struct {
	source search.Source
	logger *zap.Logger
}

// NewResearcher creates a researcher over the given evidence source.
func NewResearcher(source search.Source, logger *zap.Logger) *Researcher {
	return &Researcher{source: source, logger: logger}
}

// RefineQuery folds the evaluator's stated gaps into the search query:
// the original query plus up to the first two missing-information phrases,
// space-joined. With no stated gaps the original query is used unmodified.
func RefineQuery(query string, eval *Evaluation) string {
	if eval == nil || len(eval.MissingInformation) == 0 {
		return query
	}
	phrases := eval.MissingInformation
	if len(phrases) > maxRefinementPhrases {
		phrases = phrases[:maxRefinementPhrases]
	}
	return query + " " + strings.Join(phrases, " ")
}

// Research performs one external search round with the refined query. A
// failed round returns empty evidence rather than an error: the loop still
// advances and the next evaluation works with whatever already exists.
func (r *Researcher) Research(ctx context.Context, query string, eval *Evaluation) []search.Evidence {
	refined := RefineQuery(query, eval)
	start := time.Now()

	results, err := r.source.Search(ctx, refined, search.ModeExternal, researchResultLimit)
	if err != nil {
		ometrics.StageErrors.WithLabelValues("research").Inc()
		r.logger.Warn("External research failed, continuing with existing evidence",
			zap.String("refined_query", refined),
			zap.Error(err),
		)
		return nil
	}

	r.logger.Debug("Research round complete",
		zap.String("refined_query", refined),
		zap.Int("results", len(results)),
		zap.Duration("took", time.Since(start)),
	)
	return results
}
