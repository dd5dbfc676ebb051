package search

import (
	"context"
	"fmt"
)

// Source is the uniform interface over internal hybrid search and external
// web search. Results arrive ranked best-first; the caller does not see the
// fusion algorithm behind internal mode.
type Source interface {
	Search(ctx context.Context, query string, mode Mode, limit int) ([]Evidence, error)
}

// Mux dispatches searches to the backend matching the requested mode.
type Mux struct {
	internal Source
	external Source
}

// NewMux builds a mode-dispatching source. Either backend may be nil, in
// which case searches for that mode fail.
func NewMux(internal, external Source) *Mux {
	return &Mux{internal: internal, external: external}
}

// Search routes the query to the backend for the given mode.
func (m *Mux) Search(ctx context.Context, query string, mode Mode, limit int) ([]Evidence, error) {
	switch mode {
	case ModeInternal:
		if m.internal == nil {
			return nil, fmt.Errorf("internal search not configured")
		}
		return m.internal.Search(ctx, query, mode, limit)
	case ModeExternal:
		if m.external == nil {
			return nil, fmt.Errorf("external search not configured")
		}
		return m.external.Search(ctx, query, mode, limit)
	default:
		return nil, fmt.Errorf("unknown search mode %q", mode)
	}
}
