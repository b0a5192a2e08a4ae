package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// CollyFetcher implements Fetcher with a shared colly collector. Connection
// pooling, TLS, and redirects stay inside colly; the scheduler above it owns
// retries and pacing.
type CollyFetcher struct {
	base       *colly.Collector
	userAgents []string
	logger     *zap.Logger
}

// DefaultUserAgents is the rotation pool used when agent rotation is on and
// no custom pool is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// CollyConfig holds the transport-level knobs for the fetcher. Transport
// overrides the built HTTP transport when set (used by tests to stub the
// network).
type CollyConfig struct {
	UserAgent       string
	RotateAgents    []string
	RequestTimeout  time.Duration
	MaxConnsPerHost int
	Transport       http.RoundTripper
}

// NewCollyFetcher constructs a configured colly-backed Fetcher.
func NewCollyFetcher(cfg CollyConfig, logger *zap.Logger) (*CollyFetcher, error) {
	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
	)
	base.AllowURLRevisit = true
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          128,
			MaxIdleConnsPerHost:   32,
			MaxConnsPerHost:       cfg.MaxConnsPerHost,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: cfg.RequestTimeout,
			ForceAttemptHTTP2:     true,
		}
	}
	base.WithTransport(transport)
	if cfg.RequestTimeout > 0 {
		base.SetRequestTimeout(cfg.RequestTimeout)
	}
	return &CollyFetcher{
		base:       base,
		userAgents: cfg.RotateAgents,
		logger:     logger,
	}, nil
}

// Fetch retrieves one page. Each call clones the base collector so handler
// state never leaks between concurrent fetches.
func (f *CollyFetcher) Fetch(ctx context.Context, req Request) (Response, error) {
	collector := f.base.Clone()
	start := time.Now()

	resultCh := make(chan fetchResult, 1)
	send := func(res fetchResult) {
		select {
		case resultCh <- res:
		default:
		}
	}

	collector.OnRequest(func(r *colly.Request) {
		if ua := f.pickAgent(); ua != "" {
			r.Headers.Set("User-Agent", ua)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{resp: Response{
			URL:        req.URL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte{}, r.Body...),
			Duration:   time.Since(start),
		}})
	})

	collector.OnError(func(r *colly.Response, err error) {
		// Error results still carry the transfer metadata so the scheduler
		// can pace off failed fetches too.
		failed := Response{URL: req.URL, Duration: time.Since(start)}
		if r != nil && r.StatusCode > 0 {
			failed.StatusCode = r.StatusCode
			send(fetchResult{resp: failed, err: &StatusError{Code: r.StatusCode, URL: req.URL}})
			return
		}
		if err == nil {
			err = errors.New("unknown fetch error")
		}
		send(fetchResult{resp: failed, err: err})
	})

	if err := collector.Visit(req.URL); err != nil {
		return Response{}, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		return res.resp, res.err
	default:
		return Response{}, errors.New("fetch produced no result")
	}
}

func (f *CollyFetcher) pickAgent() string {
	if len(f.userAgents) == 0 {
		return ""
	}
	return f.userAgents[rand.IntN(len(f.userAgents))]
}

type fetchResult struct {
	resp Response
	err  error
}
