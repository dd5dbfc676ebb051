package agent

import (
	"fmt"
	"strings"

	"github.com/BothRocks/hari2-sub000/internal/search"
)

const evaluatorSystem = `You are a retrieval sufficiency judge for a knowledge-base assistant. You decide whether the evidence gathered so far can answer the user's question without further research. Output JSON ONLY; no prose before/after.`

const generatorSystem = `You are a knowledge-base assistant. You synthesize answers from retrieved evidence with source attribution.`

// renderEvidence formats evidence items for prompt embedding, one block per
// item with title and snippet.
func renderEvidence(items []search.Evidence) string {
	if len(items) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for i, e := range items {
		fmt.Fprintf(&sb, "[%d] %s", i+1, e.Title)
		if e.URL != "" {
			fmt.Fprintf(&sb, " (%s)", e.URL)
		}
		sb.WriteString("\n")
		sb.WriteString(e.Snippet)
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// buildEvaluationPrompt embeds the query and all accumulated evidence.
// Internal and external sections are kept distinct so the model can weigh
// provenance.
func buildEvaluationPrompt(query string, internal, external []search.Evidence) string {
	return fmt.Sprintf(`Question: %s

INTERNAL KNOWLEDGE BASE EVIDENCE:
%s

EXTERNAL WEB EVIDENCE:
%s

Judge whether the evidence above is sufficient to answer the question accurately and completely.

Respond in JSON format:
{
  "is_sufficient": true/false,
  "confidence": 0.0-1.0,
  "missing_information": ["specific topic that is absent", "..."],
  "reasoning": "one or two sentences"
}`, query, renderEvidence(internal), renderEvidence(external))
}

// buildGenerationPrompt renders all evidence into the synthesis prompt.
func buildGenerationPrompt(query string, internal, external []search.Evidence) string {
	return fmt.Sprintf(`Answer the question below using the evidence provided.

Question: %s

INTERNAL KNOWLEDGE BASE EVIDENCE:
%s

EXTERNAL WEB EVIDENCE:
%s

Instructions:
- Prioritize internal evidence; use external evidence to supplement it.
- Cite sources inline by title or URL.
- If sources conflict, say so explicitly rather than silently picking one.
- If the evidence is thin or does not cover part of the question, acknowledge the gap.`,
		query, renderEvidence(internal), renderEvidence(external))
}
