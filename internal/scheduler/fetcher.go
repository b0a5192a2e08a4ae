// Package scheduler turns the crawl frontier into a bounded, polite stream
// of page fetches. It layers per-host adaptive delay, concurrency ceilings,
// and transient-failure retries on top of a black-box Fetcher.
package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Request captures a single outbound fetch plus the opaque context the
// caller wants echoed back with the result (the originating category name,
// the parse state tag). Retried requests carry the same Meta so downstream
// handlers always see the original metadata.
type Request struct {
	URL  string
	Meta map[string]string
}

// Response is the fetched document plus transfer metadata.
type Response struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Fetcher is the external fetch capability the scheduler drives. It has no
// knowledge of retries or throttling; a non-2xx status is reported as a
// *StatusError so the scheduler can classify it.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d for %s", e.Code, e.URL)
}
