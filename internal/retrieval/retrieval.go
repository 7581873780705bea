// Package retrieval turns a tenant's goals and crawl findings into knowledge
// base queries and assembles the grounding snippets for plan generation.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/beaconhq/growth-engine/internal/knowledge"
	"github.com/beaconhq/growth-engine/internal/model"
)

// Config bounds one retrieval pass.
type Config struct {
	// TopK is the number of snippets handed to generation.
	TopK int
	// PerQueryHits is how many candidates each individual query contributes
	// before merging.
	PerQueryHits int
	// MaxTopicsPerTarget caps how many crawl topics feed into the per-target
	// query text.
	MaxTopicsPerTarget int
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 8
	}
	if c.PerQueryHits <= 0 {
		c.PerQueryHits = c.TopK
	}
	if c.MaxTopicsPerTarget <= 0 {
		c.MaxTopicsPerTarget = 5
	}
	return c
}

// Retriever queries the knowledge base for snippets relevant to one job.
type Retriever struct {
	searcher knowledge.Searcher
	cfg      Config
}

// New creates a Retriever.
func New(searcher knowledge.Searcher, cfg Config) *Retriever {
	return &Retriever{searcher: searcher, cfg: cfg.withDefaults()}
}

// Retrieve runs one query per goal and per crawl summary, merges the hits
// keeping each snippet's best score, and returns the top-K by score with
// snippet ID as the tie-break. The ranking is deterministic for a fixed
// corpus and inputs.
//
// An unreachable knowledge base propagates as an error (the stage retries);
// a reachable knowledge base that matches nothing is also an error, because
// generating a plan with no grounding is worse than failing the job.
func (r *Retriever) Retrieve(ctx context.Context, tenant model.TenantContext, summaries []model.TargetSummary) ([]model.RetrievedSnippet, error) {
	queries := r.buildQueries(tenant, summaries)
	if len(queries) == 0 {
		return nil, eris.New("retrieval: no queries could be built from tenant context")
	}

	best := make(map[string]model.RetrievedSnippet)
	for _, q := range queries {
		hits, err := r.searcher.Search(ctx, q, r.cfg.PerQueryHits)
		if err != nil {
			return nil, eris.Wrapf(err, "retrieval: query %q", q)
		}
		for _, h := range hits {
			if cur, ok := best[h.SnippetID]; !ok || h.RelevanceScore > cur.RelevanceScore {
				best[h.SnippetID] = h
			}
		}
	}

	if len(best) == 0 {
		return nil, eris.New("retrieval: knowledge base returned no matches")
	}

	merged := make([]model.RetrievedSnippet, 0, len(best))
	for _, s := range best {
		merged = append(merged, s)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].RelevanceScore != merged[j].RelevanceScore {
			return merged[i].RelevanceScore > merged[j].RelevanceScore
		}
		return merged[i].SnippetID < merged[j].SnippetID
	})
	if len(merged) > r.cfg.TopK {
		merged = merged[:r.cfg.TopK]
	}

	zap.L().Debug("retrieval complete",
		zap.String("tenant_id", tenant.TenantID),
		zap.Int("queries", len(queries)),
		zap.Int("snippets", len(merged)),
	)
	return merged, nil
}

// buildQueries produces one query per plan goal and one per crawl target
// summary, each padded with the tenant's industry and niche for context.
func (r *Retriever) buildQueries(tenant model.TenantContext, summaries []model.TargetSummary) []string {
	vertical := strings.TrimSpace(strings.Join(nonEmpty(tenant.Industry, tenant.Niche), " "))

	var queries []string
	seen := make(map[string]bool)
	add := func(parts ...string) {
		q := strings.TrimSpace(strings.Join(nonEmpty(parts...), " "))
		if q == "" || seen[q] {
			return
		}
		seen[q] = true
		queries = append(queries, q)
	}

	for _, goal := range tenant.PlanGoals() {
		add(goal, vertical)
	}
	for _, s := range summaries {
		topics := s.Topics
		if len(topics) > r.cfg.MaxTopicsPerTarget {
			topics = topics[:r.cfg.MaxTopicsPerTarget]
		}
		add(strings.Join(topics, " "), s.Description, vertical)
	}
	return queries
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
