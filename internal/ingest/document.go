package ingest

import (
	"github.com/ledongthuc/pdf"
)

// Document is one strictly parsed PDF held in memory.
type Document struct {
	// Source is the input path, or "memory" for re-parsed recovery output.
	Source string
	// Data holds the exact bytes that parsed strictly. Merge reads from it.
	Data []byte
	// Pages is the page count from the document's page tree.
	Pages int
	// Recovered reports whether Data came out of the recovery toolkit.
	Recovered bool

	reader *pdf.Reader
}

// Reader returns the strict reader over Data. It is nil for documents that
// were not produced by a Parser.
func (d *Document) Reader() *pdf.Reader {
	return d.reader
}

// Size returns the length of the validated byte stream.
func (d *Document) Size() int64 {
	return int64(len(d.Data))
}
