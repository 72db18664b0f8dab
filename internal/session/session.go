// Package session holds the state of the current batch between the shell
// that selects files and the merge step.
package session

import (
	"github.com/Lllllllleong/pdfmerge/internal/ingest"
)

// Validity summarizes the last ingestion pass.
type Validity int

const (
	Unset Validity = iota
	AllValid
	SomeInvalid
)

func (v Validity) String() string {
	switch v {
	case AllValid:
		return "all_valid"
	case SomeInvalid:
		return "some_invalid"
	default:
		return "unset"
	}
}

// Ingester runs a full ingestion pass over a batch.
type Ingester interface {
	Run(paths []string) ingest.Result
}

// Merger consumes the current document set.
type Merger interface {
	MergeAndSave(docs []*ingest.Document, outputPath string) error
}

// Session is the batch state shared by a shell and the merge step. It is not
// safe for concurrent use.
type Session struct {
	ingester Ingester
	merger   Merger

	paths    []string
	docs     []*ingest.Document
	result   ingest.Result
	validity Validity
	lastErr  string
}

// New returns an empty session with Unset validity.
func New(ingester Ingester, merger Merger) *Session {
	return &Session{ingester: ingester, merger: merger}
}

// Open runs a full ingestion pass over paths and then replaces the batch,
// the document set, the validity and the last error in one step.
func (s *Session) Open(paths []string) Validity {
	batch := append([]string(nil), paths...)
	res := s.ingester.Run(batch)

	validity := AllValid
	if res.Failures > 0 {
		validity = SomeInvalid
	}
	lastErr := s.lastErr
	if res.LastError != nil {
		lastErr = res.LastError.Error()
	}

	s.paths = batch
	s.docs = res.Documents
	s.result = res
	s.validity = validity
	s.lastErr = lastErr
	return validity
}

// Drop clears the document set and the validity. The selected paths are
// kept so the same selection can be opened again.
func (s *Session) Drop() {
	s.docs = nil
	s.result = ingest.Result{}
	s.validity = Unset
}

// Merge writes the current document set to outputPath. A failed merge is
// returned as-is and leaves the session unchanged.
func (s *Session) Merge(outputPath string) error {
	return s.merger.MergeAndSave(s.CurrentDocuments(), outputPath)
}

// CurrentDocuments returns the document set in input order.
func (s *Session) CurrentDocuments() []*ingest.Document {
	return append([]*ingest.Document(nil), s.docs...)
}

// Paths returns the batch selected by the last Open.
func (s *Session) Paths() []string {
	return append([]string(nil), s.paths...)
}

// Validity returns the status of the last pass, or Unset after Drop.
func (s *Session) Validity() Validity {
	return s.validity
}

// Failures returns the failure tally of the last pass.
func (s *Session) Failures() int {
	return s.result.Failures
}

// Outcomes returns the per-input outcomes of the last pass.
func (s *Session) Outcomes() []ingest.Outcome {
	return append([]ingest.Outcome(nil), s.result.Outcomes...)
}

// LastErrorMessage returns the most recent terminal failure message seen by
// this session, if any.
func (s *Session) LastErrorMessage() (string, bool) {
	return s.lastErr, s.lastErr != ""
}
