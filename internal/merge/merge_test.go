package merge

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/pdfmerge/internal/ingest"
	"github.com/Lllllllleong/pdfmerge/internal/pdftest"
)

func quietMerger() *Merger {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func parse(t *testing.T, data []byte) *ingest.Document {
	t.Helper()
	doc, err := ingest.NewStrictParser().LoadFromMemory(data)
	require.NoError(t, err)
	return doc
}

func TestMergeAndSave(t *testing.T) {
	a := parse(t, pdftest.Minimal(1))
	b := parse(t, pdftest.Minimal(2))
	before := bytes.Clone(a.Data)
	out := filepath.Join(t.TempDir(), "merged.pdf")

	err := quietMerger().MergeAndSave([]*ingest.Document{a, b}, out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	merged := parse(t, data)
	assert.Equal(t, 3, merged.Pages)
	assert.Equal(t, before, a.Data, "source documents must not be mutated")
}

func TestMergeToWriter(t *testing.T) {
	var buf bytes.Buffer
	err := quietMerger().MergeToWriter([]*ingest.Document{parse(t, pdftest.Minimal(2))}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, parse(t, buf.Bytes()).Pages)
}

func TestMergeNothing(t *testing.T) {
	out := filepath.Join(t.TempDir(), "merged.pdf")

	err := quietMerger().MergeAndSave(nil, out)

	assert.ErrorIs(t, err, ErrMergeFailure)
	assert.NoFileExists(t, out)
}

func TestMergeGarbageLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "merged.pdf")
	junk := &ingest.Document{Source: "junk", Data: []byte("%PDF-1.4\nnot really\n")}

	err := quietMerger().MergeAndSave([]*ingest.Document{junk}, out)

	assert.ErrorIs(t, err, ErrMergeFailure)
	assert.NoFileExists(t, out)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be cleaned up")
}

func TestMergeIntoMissingDirectory(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nope", "merged.pdf")
	err := quietMerger().MergeAndSave([]*ingest.Document{parse(t, pdftest.Minimal(1))}, out)
	assert.ErrorIs(t, err, ErrMergeFailure)
}
