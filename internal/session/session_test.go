package session

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/pdfmerge/internal/ingest"
	"github.com/Lllllllleong/pdfmerge/internal/pdftest"
)

// stubRepairer stands in for the recovery toolkit: every repair yields a
// fresh two-page document.
type stubRepairer struct {
	reads int
}

func (r *stubRepairer) ReadWithRepair(path string) (*ingest.Repaired, error) {
	r.reads++
	return ingest.NewRepaired(path, &model.Context{}), nil
}

func (r *stubRepairer) RewriteToBuffer(h *ingest.Repaired) ([]byte, error) {
	return pdftest.Minimal(2), nil
}

type recordingMerger struct {
	err   error
	calls int
	got   []*ingest.Document
	out   string
}

func (m *recordingMerger) MergeAndSave(docs []*ingest.Document, outputPath string) error {
	m.calls++
	m.got = docs
	m.out = outputPath
	return m.err
}

type fixture struct {
	good, zero, xref, text string
}

func newFixture(t *testing.T) fixture {
	dir := t.TempDir()
	return fixture{
		good: pdftest.WriteFile(t, dir, "good.pdf", pdftest.Minimal(1)),
		zero: pdftest.WriteFile(t, dir, "zero.pdf", nil),
		xref: pdftest.WriteFile(t, dir, "xref.pdf", pdftest.BadStartXref(pdftest.Minimal(3))),
		text: pdftest.WriteFile(t, dir, "notes.pdf", []byte("plain text")),
	}
}

func newSession(merger Merger) (*Session, *stubRepairer) {
	repairer := &stubRepairer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := ingest.NewPipeline(ingest.NewStrictParser(), repairer, logger)
	return New(pipeline, merger), repairer
}

func TestNewSessionIsUnset(t *testing.T) {
	s, _ := newSession(&recordingMerger{})

	assert.Equal(t, Unset, s.Validity())
	assert.Empty(t, s.CurrentDocuments())
	_, ok := s.LastErrorMessage()
	assert.False(t, ok)
}

func TestOpenAllValid(t *testing.T) {
	f := newFixture(t)
	s, repairer := newSession(&recordingMerger{})

	v := s.Open([]string{f.good, f.good})

	assert.Equal(t, AllValid, v)
	assert.Len(t, s.CurrentDocuments(), 2)
	assert.Zero(t, s.Failures())
	assert.Zero(t, repairer.reads)
}

func TestOpenMixedBatch(t *testing.T) {
	f := newFixture(t)
	s, repairer := newSession(&recordingMerger{})

	v := s.Open([]string{f.good, f.zero, f.xref})

	assert.Equal(t, SomeInvalid, v)
	docs := s.CurrentDocuments()
	require.Len(t, docs, 2)
	assert.Equal(t, f.good, docs[0].Source)
	assert.False(t, docs[0].Recovered)
	assert.Equal(t, f.xref, docs[1].Source)
	assert.True(t, docs[1].Recovered)
	assert.Equal(t, 2, docs[1].Pages)
	assert.Equal(t, 1, s.Failures())
	assert.Equal(t, 1, repairer.reads)

	msg, ok := s.LastErrorMessage()
	assert.True(t, ok)
	assert.Contains(t, msg, "zero.pdf")
	assert.Contains(t, msg, ingest.ErrHeaderInvalid.Error())
}

func TestOpenMixedBatchWithToolkit(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(ingest.NewDefaultPipeline(logger), &recordingMerger{})

	v := s.Open([]string{f.good, f.zero, f.xref})

	assert.Equal(t, SomeInvalid, v)
	assert.Equal(t, 1, s.Failures())
	docs := s.CurrentDocuments()
	require.Len(t, docs, 2)
	assert.Equal(t, f.good, docs[0].Source)
	assert.False(t, docs[0].Recovered)
	assert.Equal(t, f.xref, docs[1].Source)
	assert.True(t, docs[1].Recovered)
	assert.Equal(t, 3, docs[1].Pages)

	outcomes := s.Outcomes()
	require.Len(t, outcomes, 3)
	assert.Equal(t, []ingest.State{
		ingest.StateStart,
		ingest.StateXrefFailure,
		ingest.StateRepaired,
		ingest.StateBuffered,
		ingest.StateAccepted,
	}, outcomes[2].Trace)
}

func TestOpenReplacesPreviousBatch(t *testing.T) {
	f := newFixture(t)
	s, _ := newSession(&recordingMerger{})

	s.Open([]string{f.zero, f.text})
	require.Equal(t, SomeInvalid, s.Validity())

	v := s.Open([]string{f.good})

	assert.Equal(t, AllValid, v)
	assert.Equal(t, []string{f.good}, s.Paths())
	assert.Len(t, s.CurrentDocuments(), 1)
	assert.Zero(t, s.Failures())
	msg, ok := s.LastErrorMessage()
	assert.True(t, ok, "the last message is kept for display")
	assert.Contains(t, msg, "notes.pdf")
}

func TestOpenCopiesInput(t *testing.T) {
	f := newFixture(t)
	s, _ := newSession(&recordingMerger{})
	paths := []string{f.good}

	s.Open(paths)
	paths[0] = "changed"

	assert.Equal(t, []string{f.good}, s.Paths())
}

func TestDropKeepsPaths(t *testing.T) {
	f := newFixture(t)
	s, _ := newSession(&recordingMerger{})
	s.Open([]string{f.good, f.zero})

	s.Drop()

	assert.Equal(t, Unset, s.Validity())
	assert.Empty(t, s.CurrentDocuments())
	assert.Empty(t, s.Outcomes())
	assert.Zero(t, s.Failures())
	assert.Equal(t, []string{f.good, f.zero}, s.Paths())
}

func TestOpenTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	s, _ := newSession(&recordingMerger{})
	batch := []string{f.good, f.zero, f.xref, f.text}

	s.Open(batch)
	first := s.CurrentDocuments()
	firstFailures := s.Failures()

	s.Open(batch)
	second := s.CurrentDocuments()

	assert.Equal(t, firstFailures, s.Failures())
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Source, second[i].Source)
		assert.Equal(t, first[i].Data, second[i].Data)
		assert.Equal(t, first[i].Recovered, second[i].Recovered)
	}
}

func TestTallyInvariant(t *testing.T) {
	f := newFixture(t)
	s, _ := newSession(&recordingMerger{})
	batch := []string{f.text, f.good, f.xref, f.zero, f.good, f.xref}

	s.Open(batch)

	assert.Equal(t, len(batch), len(s.CurrentDocuments())+s.Failures())
	assert.Len(t, s.Outcomes(), len(batch))
}

func TestMergePassesDocumentsInOrder(t *testing.T) {
	f := newFixture(t)
	m := &recordingMerger{}
	s, _ := newSession(m)
	s.Open([]string{f.xref, f.good})

	require.NoError(t, s.Merge("out.pdf"))

	assert.Equal(t, 1, m.calls)
	assert.Equal(t, "out.pdf", m.out)
	require.Len(t, m.got, 2)
	assert.Equal(t, f.xref, m.got[0].Source)
	assert.Equal(t, f.good, m.got[1].Source)
}

func TestMergeFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	m := &recordingMerger{err: errors.New("disk full")}
	s, _ := newSession(m)
	s.Open([]string{f.good, f.good})

	err := s.Merge("out.pdf")

	assert.EqualError(t, err, "disk full")
	assert.Equal(t, AllValid, s.Validity())
	assert.Len(t, s.CurrentDocuments(), 2)
	_, ok := s.LastErrorMessage()
	assert.False(t, ok)
}

func TestValidityString(t *testing.T) {
	assert.Equal(t, "unset", Unset.String())
	assert.Equal(t, "all_valid", AllValid.String())
	assert.Equal(t, "some_invalid", SomeInvalid.String())
}
