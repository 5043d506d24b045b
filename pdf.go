package gocdp

import (
	"bytes"

	"github.com/ledongthuc/pdf"
)

// pdf.go validates the bytes Tab.PrintToPDF hands back, the way the
// original client library's own test suite uses ledongthuc/pdf to assert a captured PDF is
// well-formed rather than trusting zero-length or malformed output.

// PDFPageCount parses data as a PDF document and returns its page count,
// letting callers sanity-check Tab.PrintToPDF's output before writing it
// anywhere.
func PDFPageCount(data []byte) (int, error) {
	r := bytes.NewReader(data)
	doc, err := pdf.NewReader(r, int64(len(data)))
	if err != nil {
		return 0, err
	}
	return doc.NumPage(), nil
}
