package ingest

import (
	"errors"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// fakeParser fails paths listed in pathErrs and recovered buffers whose
// source is listed in memErrs. Everything else parses.
type fakeParser struct {
	mu        sync.Mutex
	pathErrs  map[string]error
	memErrs   map[string]error
	pathCalls map[string]int
	memCalls  int
}

func newFakeParser() *fakeParser {
	return &fakeParser{
		pathErrs:  map[string]error{},
		memErrs:   map[string]error{},
		pathCalls: map[string]int{},
	}
}

func (f *fakeParser) LoadFromPath(path string) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pathCalls[path]++
	if err := f.pathErrs[path]; err != nil {
		return nil, err
	}
	return &Document{Source: path, Data: []byte("doc:" + path), Pages: 1}, nil
}

func (f *fakeParser) LoadFromMemory(data []byte) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memCalls++
	source := strings.TrimPrefix(string(data), "repaired:")
	if err := f.memErrs[source]; err != nil {
		return nil, err
	}
	return &Document{Source: memorySource, Data: data, Pages: 1}, nil
}

// fakeRepairer records every call and every handle it hands out.
type fakeRepairer struct {
	mu         sync.Mutex
	readErrs   map[string]error
	writeErrs  map[string]error
	readCalls  map[string]int
	writeCalls map[string]int
	handles    []*Repaired
}

func newFakeRepairer() *fakeRepairer {
	return &fakeRepairer{
		readErrs:   map[string]error{},
		writeErrs:  map[string]error{},
		readCalls:  map[string]int{},
		writeCalls: map[string]int{},
	}
}

func (f *fakeRepairer) ReadWithRepair(path string) (*Repaired, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls[path]++
	if err := f.readErrs[path]; err != nil {
		return nil, err
	}
	h := NewRepaired(path, &model.Context{})
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeRepairer) RewriteToBuffer(h *Repaired) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls[h.Source]++
	if h.Closed() {
		return nil, errHandleClosed
	}
	if err := f.writeErrs[h.Source]; err != nil {
		return nil, err
	}
	return []byte("repaired:" + h.Source), nil
}

func (f *fakeRepairer) totalReads() int {
	n := 0
	for _, c := range f.readCalls {
		n += c
	}
	return n
}

func headerErr() error {
	return &ParseError{Kind: KindHeader, Err: errors.New("not a PDF file: invalid header")}
}

func xrefErr() error {
	return &ParseError{Kind: KindXref, Err: errors.New("malformed PDF: cross-reference table not found")}
}

func otherErr() error {
	return &ParseError{Kind: KindOther, Err: errors.New("unsupported filter /JBIG2Decode")}
}
