package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/beaconhq/growth-engine/internal/model"
)

// MemorySearcher is an in-process Searcher over seeded documents. It scores
// by token overlap, which is fully deterministic: the same corpus and query
// always yield the same ranking. Used by the sqlite store path and tests.
type MemorySearcher struct {
	mu       sync.RWMutex
	snippets []Snippet
}

// NewMemorySearcher creates an empty in-memory searcher.
func NewMemorySearcher() *MemorySearcher {
	return &MemorySearcher{}
}

// Load splits the documents into snippets and replaces the current corpus.
func (m *MemorySearcher) Load(docs []Document) {
	snippets := make([]Snippet, 0, len(docs))
	for _, d := range docs {
		snippets = append(snippets, SplitDocument(d)...)
	}
	sort.Slice(snippets, func(i, j int) bool { return snippets[i].ID < snippets[j].ID })

	m.mu.Lock()
	m.snippets = snippets
	m.mu.Unlock()
}

// Len returns the number of snippets in the corpus.
func (m *MemorySearcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snippets)
}

// Search scores every snippet as the fraction of query tokens it contains.
func (m *MemorySearcher) Search(_ context.Context, query string, limit int) ([]model.RetrievedSnippet, error) {
	if limit <= 0 {
		limit = 20
	}
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.RetrievedSnippet
	for _, sn := range m.snippets {
		score := overlapScore(queryTokens, tokenSet(sn.Text))
		if score <= 0 {
			continue
		}
		out = append(out, model.RetrievedSnippet{
			SnippetID:        sn.ID,
			SourceDocumentID: sn.DocumentID,
			Text:             sn.Text,
			RelevanceScore:   score,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].SnippetID < out[j].SnippetID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func overlapScore(queryTokens []string, snippetTokens map[string]bool) float64 {
	var matched int
	for _, t := range queryTokens {
		if snippetTokens[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 3 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokenize(s) {
		set[t] = true
	}
	return set
}
