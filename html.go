package gocdp

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// html.go: parses the live DOM's serialized markup with goquery for callers
// who want ordinary CSS-selector scraping rather than CDP-level DOM
// traversal, the same pattern the pack's scraping-oriented browser tooling
// (the ubot browser tool) uses goquery for once it already has HTML text in
// hand.

// ParsedDocument returns a *goquery.Document built from the tab's current
// PageSource, ready for .Find-style querying.
func (t *Tab) ParsedDocument(ctx context.Context) (*goquery.Document, error) {
	html, err := t.PageSource(ctx)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// ExtractLinks returns every absolute-or-relative href found in <a> tags on
// the current page.
func (t *Tab) ExtractLinks(ctx context.Context) ([]string, error) {
	doc, err := t.ParsedDocument(ctx)
	if err != nil {
		return nil, err
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			links = append(links, href)
		}
	})
	return links, nil
}

// Title returns the document's <title> text, trimmed.
func (t *Tab) Title(ctx context.Context) (string, error) {
	doc, err := t.ParsedDocument(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}
