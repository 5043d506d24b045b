package gocdp

import "testing"

func TestPDFPageCountRejectsGarbage(t *testing.T) {
	if _, err := PDFPageCount([]byte("not a pdf")); err == nil {
		t.Fatal("expected an error parsing non-PDF bytes")
	}
}

func TestPDFPageCountRejectsEmpty(t *testing.T) {
	if _, err := PDFPageCount(nil); err == nil {
		t.Fatal("expected an error parsing empty input")
	}
}
