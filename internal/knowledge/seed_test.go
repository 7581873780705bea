package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDocuments(t *testing.T) {
	dir := t.TempDir()

	writeSeed := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	writeSeed("b-email.yaml", "id: email-campaigns\ntitle: Email Campaigns\ntopics: [email]\nbody: |\n  Segmented campaigns convert better.\n")
	writeSeed("a-seo.yaml", "title: SEO Basics\ntopics: [seo, local]\nbody: |\n  Keyword research first.\n\n  Then local listings.\n")
	writeSeed("notes.txt", "ignored")

	docs, err := LoadDocuments(dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	// Lexical file order, and the ID defaults to the file name.
	assert.Equal(t, "a-seo", docs[0].ID)
	assert.Equal(t, "SEO Basics", docs[0].Title)
	assert.Equal(t, []string{"seo", "local"}, docs[0].Topics)
	assert.Equal(t, "email-campaigns", docs[1].ID)

	assert.Len(t, SplitDocument(docs[0]), 2)
}

func TestLoadDocuments_EmptyBody(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("title: Bad\nbody: \"\"\n"), 0o644))

	_, err := LoadDocuments(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no body")
}

func TestLoadDocuments_MissingDir(t *testing.T) {
	_, err := LoadDocuments(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
