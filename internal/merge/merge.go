// Package merge concatenates validated documents into one PDF with pdfcpu.
package merge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/Lllllllleong/pdfmerge/internal/ingest"
)

// ErrMergeFailure wraps every error produced while merging.
var ErrMergeFailure = errors.New("merge failed")

var errNoDocuments = errors.New("no documents to merge")

// Merger writes documents, in order, into a single PDF.
type Merger struct {
	logger *slog.Logger
}

// New returns a Merger. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{logger: logger}
}

// MergeToWriter merges docs into w. The documents' bytes are only read.
func (m *Merger) MergeToWriter(docs []*ingest.Document, w io.Writer) (err error) {
	if len(docs) == 0 {
		return fmt.Errorf("%w: %w", ErrMergeFailure, errNoDocuments)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: pdfcpu panicked: %v", ErrMergeFailure, rec)
		}
	}()

	readers := make([]io.ReadSeeker, len(docs))
	for i, d := range docs {
		readers[i] = bytes.NewReader(d.Data)
	}
	if err := api.MergeRaw(readers, w, false, ingest.Configuration()); err != nil {
		return fmt.Errorf("%w: %w", ErrMergeFailure, err)
	}
	return nil
}

// MergeAndSave merges docs into outputPath. The output is written to a
// temporary file next to outputPath and renamed into place, so a failed
// merge never leaves a partial file behind.
func (m *Merger) MergeAndSave(docs []*ingest.Document, outputPath string) error {
	logCtx := m.logger.With("output", outputPath, "documents", len(docs))

	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".merge-*.pdf")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %w", ErrMergeFailure, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := m.MergeToWriter(docs, tmp); err != nil {
		_ = tmp.Close()
		logCtx.Error("Failed to merge documents.", "error", err)
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to finalize temp file: %w", ErrMergeFailure, err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("%w: failed to move merged file into place: %w", ErrMergeFailure, err)
	}

	logCtx.Info("Save merged PDF.")
	return nil
}
