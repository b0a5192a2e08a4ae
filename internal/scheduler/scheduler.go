package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pricewatchbd/crawler/internal/metrics"
)

// Config holds the pacing and retry knobs for a Scheduler. All values are
// static per run.
type Config struct {
	// MaxConcurrency bounds in-flight requests across all hosts.
	MaxConcurrency int
	// PerHostConcurrency bounds in-flight requests to a single host.
	PerHostConcurrency int
	// TargetConcurrency is the in-flight request count per host the
	// adaptive delay converges toward.
	TargetConcurrency float64
	// StartDelay seeds the per-host delay before any latency is observed.
	StartDelay time.Duration
	// DelayFloor and DelayCeiling bound the adaptive delay.
	DelayFloor   time.Duration
	DelayCeiling time.Duration
	// MaxRetries bounds re-attempts after transient failures.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 16
	}
	if c.PerHostConcurrency <= 0 {
		c.PerHostConcurrency = 8
	}
	if c.TargetConcurrency <= 0 {
		c.TargetConcurrency = 4
	}
	if c.StartDelay <= 0 {
		c.StartDelay = time.Second
	}
	if c.DelayCeiling <= 0 {
		c.DelayCeiling = 60 * time.Second
	}
	if c.DelayFloor < 0 {
		c.DelayFloor = 0
	}
	return c
}

// Scheduler paces fetches per host and retries transient failures. It is
// safe for concurrent use.
type Scheduler struct {
	fetcher Fetcher
	cfg     Config
	logger  *zap.Logger

	global chan struct{}

	mu    sync.Mutex
	hosts map[string]*hostState
}

type hostState struct {
	slots chan struct{}

	mu    sync.Mutex
	delay time.Duration
	next  time.Time
}

// New builds a Scheduler over the provided fetch capability.
func New(fetcher Fetcher, cfg Config, logger *zap.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
		global:  make(chan struct{}, cfg.MaxConcurrency),
		hosts:   make(map[string]*hostState),
	}
}

// Do fetches req.URL, honoring the concurrency ceilings and the per-host
// adaptive delay, retrying transient failures up to the configured bound.
// The returned error is terminal: either retries were exhausted or the
// failure was never retryable. req.Meta is untouched either way, so the
// caller's dispatch context survives retries.
func (s *Scheduler) Do(ctx context.Context, req Request) (Response, error) {
	host, err := hostOf(req.URL)
	if err != nil {
		return Response{}, err
	}
	state := s.hostState(host)

	select {
	case s.global <- struct{}{}:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	defer func() { <-s.global }()

	select {
	case state.slots <- struct{}{}:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	defer func() { <-state.slots }()

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := state.waitTurn(ctx); err != nil {
			return Response{}, err
		}

		metrics.TotalRequests.Inc()
		resp, err := s.fetcher.Fetch(ctx, req)
		state.observe(resp.Duration, err == nil, s.cfg)

		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !transient(err) {
			metrics.TotalRequestErrors.Inc()
			return Response{}, fmt.Errorf("fetch %s: %w", req.URL, err)
		}
		if isThrottle(err) {
			metrics.TotalRateLimitHits.Inc()
		}
		if attempt >= s.cfg.MaxRetries {
			metrics.TotalRequestErrors.Inc()
			return Response{}, fmt.Errorf("fetch %s: retries exhausted after %d attempts: %w",
				req.URL, attempt+1, lastErr)
		}
		metrics.TotalRetries.Inc()
		s.logger.Warn("transient fetch failure, retrying",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) hostState(host string) *hostState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.hosts[host]
	if !ok {
		state = &hostState{
			slots: make(chan struct{}, s.cfg.PerHostConcurrency),
			delay: s.cfg.StartDelay,
		}
		s.hosts[host] = state
	}
	return state
}

// waitTurn reserves the host's next dispatch slot and sleeps until it
// arrives, so concurrent callers space out by the current delay.
func (h *hostState) waitTurn(ctx context.Context) error {
	h.mu.Lock()
	now := time.Now()
	slot := h.next
	if slot.Before(now) {
		slot = now
	}
	h.next = slot.Add(h.delay)
	h.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// observe adjusts the host delay after a fetch. Clean responses average the
// delay toward latency/target so adjustments converge rather than
// oscillate. Failures back the delay off multiplicatively toward the
// ceiling regardless of how fast the error arrived; only clean responses
// relax it.
func (h *hostState) observe(latency time.Duration, ok bool, cfg Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !ok {
		backoff := h.delay * 2
		if backoff < cfg.StartDelay {
			backoff = cfg.StartDelay
		}
		if backoff > cfg.DelayCeiling {
			backoff = cfg.DelayCeiling
		}
		if backoff > h.delay {
			h.delay = backoff
		}
		return
	}

	if latency <= 0 {
		return
	}
	target := time.Duration(float64(latency) / cfg.TargetConcurrency)
	proposed := (h.delay + target) / 2
	if proposed < cfg.DelayFloor {
		proposed = cfg.DelayFloor
	}
	if proposed > cfg.DelayCeiling {
		proposed = cfg.DelayCeiling
	}
	h.delay = proposed
}

// Delay reports the current adaptive delay for a host, mainly for logging
// and tests.
func (s *Scheduler) Delay(host string) time.Duration {
	state := s.hostState(host)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.delay
}

// transient reports whether the scheduler should re-attempt the request:
// throttling/forbidden statuses and network-level errors qualify, any other
// HTTP status is terminal.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if se, ok := statusErr(err); ok {
		return se.Code == 403 || se.Code == 429
	}
	// Network-level failure with no status code.
	return true
}

func isThrottle(err error) bool {
	se, ok := statusErr(err)
	return ok && (se.Code == 403 || se.Code == 429)
}

func statusErr(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return host, nil
}
