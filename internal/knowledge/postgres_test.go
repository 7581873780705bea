package knowledge

import (
	"context"
	"fmt"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/growth-engine/internal/resilience"
)

func TestPostgresSearcher_Search(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"id", "document_id", "text", "score"}).
		AddRow("seo-basics-000", "seo-basics", "Improve organic search traffic.", 0.82).
		AddRow("seo-basics-001", "seo-basics", "Local search listings.", 0.41)

	mock.ExpectQuery(`SELECT s.id, s.document_id, s.text, similarity`).
		WithArgs("organic search", 0.05, 8).
		WillReturnRows(rows)

	s := NewPostgresSearcher(mock, 0.05)
	got, err := s.Search(context.Background(), "organic search", 8)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "seo-basics-000", got[0].SnippetID)
	assert.Equal(t, "seo-basics", got[0].SourceDocumentID)
	assert.InDelta(t, 0.82, got[0].RelevanceScore, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSearcher_QueryErrorIsTransient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT s.id, s.document_id, s.text, similarity`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(fmt.Errorf("connection refused"))

	s := NewPostgresSearcher(mock, 0.05)
	_, err = s.Search(context.Background(), "anything", 8)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSearcher_Migrate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS pg_trgm`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	s := NewPostgresSearcher(mock, 0)
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
