// Package record defines the catalog record types shared across the crawl
// pipeline, along with the per-run counters.
package record

import "sync"

// Availability classifies the stock state of a product page.
type Availability string

// Availability values written to the product sink.
const (
	InStock      Availability = "in_stock"
	OutOfStock   Availability = "out_of_stock"
	UnknownStock Availability = "unknown"
)

// Category is a category link discovered from a site's navigation menu.
// It is the only contract between the category phase and the product phase:
// phase one writes these to a JSON Lines file, phase two reads them back.
type Category struct {
	CategoryName string `json:"category_name"`
	CategoryURL  string `json:"category_url"`
}

// Key returns the run-scoped uniqueness key for a category record.
func (c Category) Key() string { return c.CategoryURL }

// Product is a fully assembled product detail record.
//
// Price and RegularPrice are nil when the page carried no parseable positive
// price ("Call for Price" pages report a zero price, which normalizes to
// absent). Specifications is nil when no known table structure matched,
// which serializes as JSON null so downstream consumers can tell "checked,
// found nothing" apart from an empty section map.
type Product struct {
	URL            string                       `json:"url"`
	Name           string                       `json:"name"`
	Category       string                       `json:"category"`
	Brand          string                       `json:"brand,omitempty"`
	ProductCode    string                       `json:"product_code,omitempty"`
	Price          *float64                     `json:"price"`
	RegularPrice   *float64                     `json:"regular_price,omitempty"`
	Availability   Availability                 `json:"availability"`
	Specifications map[string]map[string]string `json:"specifications"`
	KeyFeatures    []string                     `json:"key_features,omitempty"`
	ImageURLs      []string                     `json:"image_urls,omitempty"`
}

// Key returns the run-scoped uniqueness key for a product record.
func (p Product) Key() string { return p.URL }

// Keyed is implemented by every record type that participates in
// run-scoped deduplication.
type Keyed interface {
	Key() string
}

// RunStats tracks per-run outcome counters. One instance exists per crawl
// invocation and is shared by the pipeline, the controller, and the progress
// endpoint, so all access goes through the mutex.
type RunStats struct {
	mu               sync.Mutex
	ItemsWritten     int
	DroppedDuplicate int
	DroppedInvalid   int
	FetchFailures    int
	PagesFetched     int
}

// NewRunStats returns zeroed counters for a fresh run.
func NewRunStats() *RunStats {
	return &RunStats{}
}

// Add applies a delta function under the stats lock.
func (s *RunStats) Add(fn func(*RunStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Snapshot returns a copy of the counters safe to serialize.
func (s *RunStats) Snapshot() RunStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RunStatsSnapshot{
		ItemsWritten:     s.ItemsWritten,
		DroppedDuplicate: s.DroppedDuplicate,
		DroppedInvalid:   s.DroppedInvalid,
		FetchFailures:    s.FetchFailures,
		PagesFetched:     s.PagesFetched,
	}
}

// RunStatsSnapshot is an immutable copy of RunStats counters.
type RunStatsSnapshot struct {
	ItemsWritten     int `json:"items_written"`
	DroppedDuplicate int `json:"dropped_duplicate"`
	DroppedInvalid   int `json:"dropped_invalid"`
	FetchFailures    int `json:"fetch_failures"`
	PagesFetched     int `json:"pages_fetched"`
}
