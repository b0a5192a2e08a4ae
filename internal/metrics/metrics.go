// Package metrics registers the Prometheus counters emitted by the crawl
// pipeline. Counters are process-global and exposed through the status
// server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalRequests tracks the number of HTTP requests dispatched.
	TotalRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricewatch_requests_total",
		Help: "The total number of HTTP requests sent.",
	})
	// TotalRequestErrors tracks requests that ended in a terminal failure.
	TotalRequestErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricewatch_request_errors_total",
		Help: "The total number of requests that failed after retries.",
	})
	// TotalRetries tracks transient failures that were re-attempted.
	TotalRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricewatch_retries_total",
		Help: "The total number of retried requests.",
	})
	// TotalRateLimitHits tracks 429/403 responses from target sites.
	TotalRateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricewatch_rate_limit_hits_total",
		Help: "The total number of throttling responses received.",
	})
	// ItemsWritten tracks records accepted by the sink.
	ItemsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricewatch_items_written_total",
		Help: "The total number of validated records written to the sink.",
	})
	// ItemsDropped tracks records dropped by validation or deduplication.
	ItemsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricewatch_items_dropped_total",
		Help: "The total number of records dropped before the sink.",
	}, []string{"reason"})
)
