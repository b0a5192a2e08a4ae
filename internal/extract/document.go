// Package extract turns fetched catalog pages into raw, unnormalized field
// mappings. Each supported site contributes a Profile holding its selector
// strategies; the selectors are configuration data, the traversal logic here
// is shared.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document wraps a parsed HTML page together with its base URL so extracted
// links can be resolved to absolute form.
type Document struct {
	base *url.URL
	doc  *goquery.Document
}

// NewDocument parses body into a queryable document rooted at baseURL.
func NewDocument(baseURL string, body []byte) (*Document, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document %q: %w", baseURL, err)
	}
	return &Document{base: base, doc: doc}, nil
}

// URL returns the document's base URL.
func (d *Document) URL() string { return d.base.String() }

// AbsoluteURL resolves href against the document base. Unparseable hrefs
// resolve to the empty string.
func (d *Document) AbsoluteURL(href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return d.base.ResolveReference(ref).String()
}

// Find exposes the underlying selector query for strategy code.
func (d *Document) Find(selector string) *goquery.Selection {
	return d.doc.Find(selector)
}

// Text returns the trimmed text of the first node matching selector, or "".
func (d *Document) Text(selector string) string {
	return strings.TrimSpace(d.doc.Find(selector).First().Text())
}

// Attr returns the named attribute of the first node matching selector.
func (d *Document) Attr(selector, name string) string {
	val, _ := d.doc.Find(selector).First().Attr(name)
	return strings.TrimSpace(val)
}

// Texts returns the trimmed text of every node matching selector, skipping
// nodes that render empty.
func (d *Document) Texts(selector string) []string {
	var out []string
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

// Attrs returns the named attribute of every node matching selector,
// skipping nodes where it is empty or missing.
func (d *Document) Attrs(selector, name string) []string {
	var out []string
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if val, ok := s.Attr(name); ok {
			if val = strings.TrimSpace(val); val != "" {
				out = append(out, val)
			}
		}
	})
	return out
}

// firstText returns the first non-empty trimmed text among the selectors,
// tried in order. Sites render the same field in more than one place, so
// callers pass the fallback chain explicitly.
func (d *Document) firstText(selectors ...string) string {
	for _, sel := range selectors {
		if text := d.Text(sel); text != "" {
			return text
		}
	}
	return ""
}
