package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Parser is the strict primary parser. Implementations must reject any
// structurally invalid document instead of patching it up.
type Parser interface {
	LoadFromPath(path string) (*Document, error)
	LoadFromMemory(data []byte) (*Document, error)
}

// memorySource labels documents parsed from a buffer.
const memorySource = "memory"

var (
	errMissingHeader = errors.New("missing %PDF-x.y header")
	errNoCatalog     = errors.New("trailer does not reference a document catalog")
	errNoPages       = errors.New("document has no pages")
)

// StrictParser loads documents with github.com/ledongthuc/pdf and walks the
// page tree so that dangling references surface at load time.
type StrictParser struct{}

// NewStrictParser returns the primary parser adapter.
func NewStrictParser() *StrictParser {
	return &StrictParser{}
}

// LoadFromPath reads the whole file before parsing; no file handle outlives
// the call.
func (p *StrictParser) LoadFromPath(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Kind: KindOther, Err: fmt.Errorf("failed to read %s: %w", path, err)}
	}
	return p.parse(path, data)
}

// LoadFromMemory parses data with the same strictness as LoadFromPath.
func (p *StrictParser) LoadFromMemory(data []byte) (*Document, error) {
	return p.parse(memorySource, data)
}

func (p *StrictParser) parse(source string, data []byte) (doc *Document, err error) {
	if !hasHeader(data) {
		return nil, &ParseError{Kind: KindHeader, Err: errMissingHeader}
	}

	// The reader panics on objects it cannot resolve.
	defer func() {
		if rec := recover(); rec != nil {
			doc = nil
			err = classifyReaderError(fmt.Errorf("%v", rec))
		}
	}()

	view := readerView(data)
	r, err := pdf.NewReader(bytes.NewReader(view), int64(len(view)))
	if err != nil {
		pe := classifyReaderError(err)
		// The magic is valid, so a header complaint is about the version.
		if pe.Kind == KindHeader {
			pe.Kind = KindOther
		}
		return nil, pe
	}
	pages, err := walkPages(r)
	if err != nil {
		return nil, err
	}
	return &Document{
		Source: source,
		Data:   data,
		Pages:  pages,
		reader: r,
	}, nil
}

func walkPages(r *pdf.Reader) (int, error) {
	root := r.Trailer().Key("Root")
	if root.Kind() != pdf.Dict {
		return 0, &ParseError{Kind: KindXref, Err: errNoCatalog}
	}
	count := int(root.Key("Pages").Key("Count").Int64())
	if count < 1 {
		return 0, &ParseError{Kind: KindOther, Err: errNoPages}
	}
	for i := 1; i <= count; i++ {
		if r.Page(i).V.IsNull() {
			return 0, &ParseError{Kind: KindXref, Err: fmt.Errorf("page %d of %d does not resolve", i, count)}
		}
	}
	return count, nil
}

// hasHeader checks for the %PDF-<major>.<minor> magic at offset 0.
func hasHeader(data []byte) bool {
	if len(data) < 8 || !bytes.HasPrefix(data, []byte("%PDF-")) {
		return false
	}
	return isDigit(data[5]) && data[6] == '.' && isDigit(data[7])
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// readerView returns the bytes handed to the reader, which only knows
// versions 1.0 to 1.7. Any other single-digit version is rewritten in a copy
// as 1.7; offsets are unchanged and data itself is never modified.
func readerView(data []byte) []byte {
	if len(data) < 9 || data[8] != '\r' && data[8] != '\n' {
		return data
	}
	if data[5] == '1' && data[7] <= '7' {
		return data
	}
	view := bytes.Clone(data)
	copy(view[5:8], "1.7")
	return view
}

// classifyReaderError maps reader messages onto ParseKind. A missing %%EOF
// marker is reported by the reader as "not a PDF file" but is a truncated
// trailer, so it is checked before the header case.
func classifyReaderError(err error) *ParseError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "%%eof"),
		strings.Contains(msg, "startxref"),
		strings.Contains(msg, "xref"),
		strings.Contains(msg, "cross-reference"),
		strings.HasPrefix(msg, "loading "):
		return &ParseError{Kind: KindXref, Err: err}
	case strings.Contains(msg, "not a pdf file"),
		strings.Contains(msg, "invalid header"):
		return &ParseError{Kind: KindHeader, Err: err}
	default:
		return &ParseError{Kind: KindOther, Err: err}
	}
}
