package knowledge

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/beaconhq/growth-engine/internal/db"
	"github.com/beaconhq/growth-engine/internal/model"
	"github.com/beaconhq/growth-engine/internal/resilience"
)

// PostgresSearcher implements Searcher over pg_trgm trigram similarity.
type PostgresSearcher struct {
	pool db.Pool

	// MinSimilarity filters out noise matches. pg_trgm's default operator
	// threshold is 0.3, which is too strict for query-vs-paragraph text, so
	// we rank explicitly and cut at this value instead.
	MinSimilarity float64
}

// NewPostgresSearcher creates a searcher backed by the kb_snippets table.
func NewPostgresSearcher(pool db.Pool, minSimilarity float64) *PostgresSearcher {
	if minSimilarity <= 0 {
		minSimilarity = 0.05
	}
	return &PostgresSearcher{pool: pool, MinSimilarity: minSimilarity}
}

const kbMigration = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS kb_documents (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	topics     TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS kb_snippets (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES kb_documents(id) ON DELETE CASCADE,
	text        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_kb_snippets_document_id ON kb_snippets(document_id);
CREATE INDEX IF NOT EXISTS idx_kb_snippets_text_trgm ON kb_snippets USING GIN (text gin_trgm_ops);
`

// Migrate creates the knowledge base tables and the trigram index.
func (s *PostgresSearcher) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, kbMigration)
	return eris.Wrap(err, "knowledge: migrate")
}

const searchSQL = `
SELECT s.id, s.document_id, s.text, similarity(lower(s.text), lower($1))::float8 AS score
FROM kb_snippets s
WHERE similarity(lower(s.text), lower($1)) >= $2
ORDER BY score DESC, s.id ASC
LIMIT $3`

// Search ranks snippets by trigram similarity to the query. Connection-level
// failures come back wrapped as transient so the retrieval stage retries.
func (s *PostgresSearcher) Search(ctx context.Context, query string, limit int) ([]model.RetrievedSnippet, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, searchSQL, query, s.MinSimilarity, limit)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "knowledge: search"), 0)
	}
	defer rows.Close()

	var out []model.RetrievedSnippet
	for rows.Next() {
		var sn model.RetrievedSnippet
		if err := rows.Scan(&sn.SnippetID, &sn.SourceDocumentID, &sn.Text, &sn.RelevanceScore); err != nil {
			return nil, eris.Wrap(err, "knowledge: scan snippet")
		}
		if sn.RelevanceScore > 1 {
			sn.RelevanceScore = 1
		}
		out = append(out, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "knowledge: search iterate"), 0)
	}
	return out, nil
}
