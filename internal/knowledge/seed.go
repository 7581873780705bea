package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/beaconhq/growth-engine/internal/db"
)

// LoadDocuments reads every .yaml/.yml file under dir as a knowledge-base
// document. Files are processed in lexical order so seeding is reproducible.
func LoadDocuments(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "knowledge: read seed dir %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	var docs []Document
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "knowledge: read %s", p)
		}
		var doc Document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, eris.Wrapf(err, "knowledge: parse %s", p)
		}
		if doc.ID == "" {
			doc.ID = strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		}
		if strings.TrimSpace(doc.Body) == "" {
			return nil, eris.Errorf("knowledge: document %s has no body", doc.ID)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// SplitDocument chunks a document body into snippets on blank lines. Snippet
// IDs are derived from the document ID and paragraph position so re-seeding
// the same document overwrites rather than duplicates.
func SplitDocument(doc Document) []Snippet {
	paragraphs := strings.Split(doc.Body, "\n\n")
	var snippets []Snippet
	for _, p := range paragraphs {
		text := strings.TrimSpace(p)
		if text == "" {
			continue
		}
		snippets = append(snippets, Snippet{
			ID:         fmt.Sprintf("%s-%03d", doc.ID, len(snippets)),
			DocumentID: doc.ID,
			Text:       text,
		})
	}
	return snippets
}

// Seeder loads documents into the postgres knowledge base.
type Seeder struct {
	pool db.Pool
}

// NewSeeder creates a Seeder over the given pool.
func NewSeeder(pool db.Pool) *Seeder {
	return &Seeder{pool: pool}
}

// Seed upserts the documents and their snippets. Snippets left over from a
// previous version of a document are removed so the corpus matches the seed
// files exactly.
func (s *Seeder) Seed(ctx context.Context, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	docRows := make([][]any, 0, len(docs))
	var snippetRows [][]any
	for _, d := range docs {
		docRows = append(docRows, []any{d.ID, d.Title, d.Topics})
		for _, sn := range SplitDocument(d) {
			snippetRows = append(snippetRows, []any{sn.ID, sn.DocumentID, sn.Text})
		}
	}

	if _, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "kb_documents",
		Columns:      []string{"id", "title", "topics"},
		ConflictKeys: []string{"id"},
	}, docRows); err != nil {
		return 0, eris.Wrap(err, "knowledge: seed documents")
	}

	for _, d := range docs {
		if _, err := s.pool.Exec(ctx, `DELETE FROM kb_snippets WHERE document_id = $1`, d.ID); err != nil {
			return 0, eris.Wrapf(err, "knowledge: clear snippets for %s", d.ID)
		}
	}

	n, err := db.CopyFrom(ctx, s.pool, "kb_snippets", []string{"id", "document_id", "text"}, snippetRows)
	if err != nil {
		return 0, eris.Wrap(err, "knowledge: seed snippets")
	}

	zap.L().Info("knowledge base seeded",
		zap.Int("documents", len(docs)),
		zap.Int64("snippets", n),
	)
	return int(n), nil
}
