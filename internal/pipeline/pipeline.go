// Package pipeline implements the streaming validate-then-forward stage
// between record assembly and the durable sink. Records are deduplicated on
// a run-scoped key and checked against two tiers of field rules: essential
// fields drop the whole record, important fields are tolerated but forced
// to an explicit absent sentinel so the sink always writes one shape.
package pipeline

import (
	"sync"

	"go.uber.org/zap"

	"github.com/pricewatchbd/crawler/internal/metrics"
	"github.com/pricewatchbd/crawler/internal/record"
)

// Rules names the validated fields for one record type. An empty Important
// list is legal and means no soft tier for that type.
type Rules struct {
	Essential []string
	Important []string
}

// DefaultProductRules returns the validation rules used for a site when the
// configuration does not override them.
func DefaultProductRules(site string) Rules {
	switch site {
	case "ryans":
		return Rules{
			Essential: []string{"name", "price", "url", "product_code", "availability"},
			Important: []string{"specifications"},
		}
	default:
		return Rules{
			Essential: []string{"name", "price", "url", "availability", "product_code", "brand"},
			Important: []string{"specifications"},
		}
	}
}

// DefaultCategoryRules returns the validation rules for category records.
func DefaultCategoryRules() Rules {
	return Rules{Essential: []string{"category_name", "category_url"}}
}

// Stage holds the run-scoped dedup key set and counters. One Stage exists
// per crawl invocation; it is safe for concurrent use and is discarded with
// the run, so uniqueness is intra-run only.
type Stage struct {
	logger *zap.Logger
	stats  *record.RunStats

	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates an empty stage bound to the run's stats.
func New(logger *zap.Logger, stats *record.RunStats) *Stage {
	return &Stage{
		logger: logger,
		stats:  stats,
		seen:   make(map[string]struct{}),
	}
}

// AdmitCategory validates one category record. The returned bool says
// whether the record should be forwarded to the sink.
func (s *Stage) AdmitCategory(c record.Category, rules Rules) (record.Category, bool) {
	missing := missingFields(rules.Essential, func(field string) bool {
		return categoryFieldPresent(c, field)
	})
	if len(missing) > 0 {
		s.drop("invalid", "category record missing essential fields",
			c.CategoryURL, missing)
		return c, false
	}
	if !s.markSeen("category", c.Key()) {
		s.drop("duplicate", "duplicate category record", c.CategoryURL, nil)
		return c, false
	}
	return c, true
}

// AdmitProduct validates one product record, forcing any failing important
// field to its absent sentinel before forwarding.
func (s *Stage) AdmitProduct(p record.Product, rules Rules) (record.Product, bool) {
	missing := missingFields(rules.Essential, func(field string) bool {
		return productFieldPresent(p, field)
	})
	if len(missing) > 0 {
		s.drop("invalid", "product record missing essential fields", p.URL, missing)
		return p, false
	}

	// Dedup before the soft tier so duplicates drop without emitting
	// sentinel warnings for fields the first copy already reported.
	if !s.markSeen("product", p.Key()) {
		s.drop("duplicate", "duplicate product record", p.URL, nil)
		return p, false
	}

	for _, field := range rules.Important {
		if productFieldPresent(p, field) {
			continue
		}
		p = clearProductField(p, field)
		s.logger.Warn("important field absent, forcing sentinel",
			zap.String("url", p.URL),
			zap.String("field", field),
		)
	}
	return p, true
}

// markSeen records the key and reports whether it was new. First seen wins.
func (s *Stage) markSeen(kind, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	full := kind + "|" + key
	if _, dup := s.seen[full]; dup {
		return false
	}
	s.seen[full] = struct{}{}
	return true
}

func (s *Stage) drop(reason, msg, url string, missing []string) {
	fields := []zap.Field{zap.String("url", url)}
	if len(missing) > 0 {
		fields = append(fields, zap.Strings("missing_fields", missing))
	}
	s.logger.Warn(msg, fields...)
	metrics.ItemsDropped.WithLabelValues(reason).Inc()
	s.stats.Add(func(st *record.RunStats) {
		if reason == "duplicate" {
			st.DroppedDuplicate++
		} else {
			st.DroppedInvalid++
		}
	})
}

func missingFields(required []string, present func(string) bool) []string {
	var missing []string
	for _, field := range required {
		if !present(field) {
			missing = append(missing, field)
		}
	}
	return missing
}

func categoryFieldPresent(c record.Category, field string) bool {
	switch field {
	case "category_name":
		return c.CategoryName != ""
	case "category_url":
		return c.CategoryURL != ""
	default:
		return true
	}
}

func productFieldPresent(p record.Product, field string) bool {
	switch field {
	case "url":
		return p.URL != ""
	case "name":
		return p.Name != ""
	case "category":
		return p.Category != ""
	case "brand":
		return p.Brand != ""
	case "product_code":
		return p.ProductCode != ""
	case "price":
		return p.Price != nil && *p.Price > 0
	case "regular_price":
		return p.RegularPrice != nil && *p.RegularPrice > 0
	case "availability":
		return p.Availability != "" && p.Availability != record.UnknownStock
	case "specifications":
		return len(p.Specifications) > 0
	case "key_features":
		return len(p.KeyFeatures) > 0
	case "image_urls":
		return len(p.ImageURLs) > 0
	default:
		return true
	}
}

// clearProductField resets a failing important field to its absent
// sentinel: nil for structured fields, empty for text.
func clearProductField(p record.Product, field string) record.Product {
	switch field {
	case "specifications":
		p.Specifications = nil
	case "key_features":
		p.KeyFeatures = nil
	case "image_urls":
		p.ImageURLs = nil
	case "brand":
		p.Brand = ""
	case "product_code":
		p.ProductCode = ""
	case "regular_price":
		p.RegularPrice = nil
	}
	return p
}
