package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link is a raw anchor candidate: the anchor text as rendered plus the href
// resolved to absolute form. Filtering (fragments, root paths, duplicates)
// is the crawl controller's job.
type Link struct {
	Text string
	URL  string
}

// LinkStrategy names one selector variant for locating anchors. Strategies
// are tried in order and the first one yielding at least one match wins,
// which covers the structural variants the sites ship over time.
type LinkStrategy struct {
	Name     string
	Selector string
}

// RawProduct is the unnormalized field mapping produced by a site's product
// detail strategy. Specifications is nil when no known table structure
// matched, as opposed to an empty map from a matching-but-bare table.
type RawProduct struct {
	Name           string
	PriceText      string
	RegularText    string
	Brand          string
	ProductCode    string
	StockText      string
	KeyFeatures    []string
	ImageURLs      []string
	Specifications map[string]map[string]string
}

// Profile bundles one site's selector strategies and seed metadata.
type Profile struct {
	Site             string
	SeedURL          string
	CategoryPrefix   string
	OutOfStockMarker string

	CategoryLinks []LinkStrategy
	ProductLinks  []LinkStrategy

	// Pagination: a rel=next anchor is preferred; NextPageLabel is the
	// literal uppercase link text fallback (e.g. "NEXT") searched inside
	// NextPageScope.
	NextPageScope string
	NextPageLabel string

	ExtractProduct func(*Document) RawProduct
	ExtractSpecs   func(*Document) map[string]map[string]string
}

// ExtractLinks runs the ordered strategies against doc and returns the
// candidates of the first strategy that matches anything.
func ExtractLinks(doc *Document, strategies []LinkStrategy) (string, []Link) {
	for _, st := range strategies {
		var links []Link
		doc.Find(st.Selector).Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				return
			}
			links = append(links, Link{
				Text: strings.TrimSpace(s.Text()),
				URL:  doc.AbsoluteURL(href),
			})
		})
		if len(links) > 0 {
			return st.Name, links
		}
	}
	return "", nil
}

// NextPageURL finds the pagination link for the current page: first by
// rel=next, then by literal link label inside the profile's pagination
// scope. Returns "" when the last page is reached.
func (p *Profile) NextPageURL(doc *Document) string {
	if href := doc.Attr(`a[rel="next"]`, "href"); href != "" {
		return doc.AbsoluteURL(href)
	}
	if p.NextPageLabel == "" {
		return ""
	}
	scope := p.NextPageScope
	if scope == "" {
		scope = "ul.pagination"
	}
	var next string
	doc.Find(scope + " a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(strings.TrimSpace(s.Text()), p.NextPageLabel) {
			return true
		}
		if href, ok := s.Attr("href"); ok && strings.TrimSpace(href) != "" {
			next = doc.AbsoluteURL(href)
			return false
		}
		return true
	})
	return next
}

var profiles = map[string]*Profile{}

func registerProfile(p *Profile) {
	profiles[p.Site] = p
}

// ProfileFor looks up the strategy profile for a configured site name.
func ProfileFor(site string) (*Profile, error) {
	p, ok := profiles[site]
	if !ok {
		return nil, fmt.Errorf("unknown site %q (known: %s)", site, strings.Join(Sites(), ", "))
	}
	return p, nil
}

// Sites lists the registered site names in stable order.
func Sites() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
