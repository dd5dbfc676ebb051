package search

// Origin marks where a piece of evidence came from.
type Origin string

const (
	OriginInternal Origin = "internal"
	OriginExternal Origin = "external"
)

// Mode selects which backend a search hits.
type Mode string

const (
	ModeInternal Mode = "internal"
	ModeExternal Mode = "external"
)

// Evidence is one retrieved unit with provenance. Immutable once created.
type Evidence struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	URL     string  `json:"url,omitempty"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Origin  Origin  `json:"origin"`
}

// SourceReference is the citation projection of Evidence returned to callers.
type SourceReference struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Origin  Origin `json:"origin"`
	Excerpt string `json:"excerpt,omitempty"`
}

const excerptLimit = 200

// Reference projects evidence into its citation form.
func (e Evidence) Reference() SourceReference {
	excerpt := e.Snippet
	if len(excerpt) > excerptLimit {
		excerpt = excerpt[:excerptLimit] + "..."
	}
	return SourceReference{
		ID:      e.ID,
		Title:   e.Title,
		URL:     e.URL,
		Origin:  e.Origin,
		Excerpt: excerpt,
	}
}
