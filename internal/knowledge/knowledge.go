// Package knowledge provides the marketing knowledge base: seeded reference
// documents split into snippets, searchable by text similarity. Retrieval
// builds queries against a Searcher; the snippets it returns ground plan
// generation.
package knowledge

import (
	"context"

	"github.com/beaconhq/growth-engine/internal/model"
)

// Document is one knowledge-base document as authored in a seed file.
type Document struct {
	ID     string   `yaml:"id" json:"id"`
	Title  string   `yaml:"title" json:"title"`
	Topics []string `yaml:"topics" json:"topics"`
	Body   string   `yaml:"body" json:"body"`
}

// Snippet is one searchable chunk of a document.
type Snippet struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
}

// Searcher answers similarity queries against the knowledge base. Results are
// ordered by descending relevance with snippet ID as the tie-break, so the
// same corpus and query always produce the same ranking.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]model.RetrievedSnippet, error)
}
