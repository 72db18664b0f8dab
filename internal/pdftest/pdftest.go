// Package pdftest builds small PDF files for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

// Minimal returns a well-formed PDF 1.4 file with the given number of pages
// and a classic cross-reference table.
func Minimal(pages int) []byte {
	return build("1.4", pages, nil)
}

// MinimalVersion is Minimal with a different header version, such as "2.0".
func MinimalVersion(version string, pages int) []byte {
	return build(version, pages, nil)
}

// MisdirectedObject returns a PDF whose xref entry for object 3 (the first
// page) points at object 1. The header and trailer are intact.
func MisdirectedObject() []byte {
	return build("1.4", 1, map[int]int{3: 1})
}

var startxrefRe = regexp.MustCompile(`startxref\s+\d+`)

// BadStartXref rewrites the startxref offset of data so that it points at the
// first object instead of the cross-reference table.
func BadStartXref(data []byte) []byte {
	first := bytes.Index(data, []byte("1 0 obj"))
	return startxrefRe.ReplaceAll(data, []byte(fmt.Sprintf("startxref\n%d", first)))
}

// WriteFile writes data into dir/name and returns the path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// build lays out catalog, page tree, then a page and content stream per page.
// redirect maps an object number to another object whose offset it should
// claim in the xref table.
func build(version string, pages int, redirect map[int]int) []byte {
	var objs []string
	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [ %s] /Count %d >>", kids, pages),
	)
	for i := 0; i < pages; i++ {
		content := fmt.Sprintf("0 0 m %d %d l S", 100+i, 100+i)
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents %d 0 R >>", 4+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}

	var b bytes.Buffer
	b.WriteString("%PDF-" + version + "\n")
	offsets := make([]int, len(objs)+1)
	for i, o := range objs {
		offsets[i+1] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	for from, to := range redirect {
		offsets[from] = offsets[to]
	}

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objs)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets[1:] {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}
