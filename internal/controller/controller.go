// Package controller drives the two-phase crawl per site: phase one
// discovers category URLs from the seed page's navigation, phase two reads
// them back from the category file, paginates each category, and fetches
// every discovered product page. The phases are independent jobs joined
// only by the category file.
package controller

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pricewatchbd/crawler/internal/extract"
	"github.com/pricewatchbd/crawler/internal/normalize"
	"github.com/pricewatchbd/crawler/internal/pipeline"
	"github.com/pricewatchbd/crawler/internal/record"
	"github.com/pricewatchbd/crawler/internal/scheduler"
	"github.com/pricewatchbd/crawler/internal/sink"
)

// Config holds the static per-run controller knobs.
type Config struct {
	Site      string
	SeedURL   string
	OutputDir string
	// ItemLimit stops the product phase from enqueueing new fetches once
	// this many items reached the sink; 0 means unlimited.
	ItemLimit int
	// Workers is the number of concurrent frontier consumers.
	Workers int

	CategoryRules pipeline.Rules
	ProductRules  pipeline.Rules
}

// ProductStore is the optional secondary sink for validated products.
type ProductStore interface {
	StoreProduct(ctx context.Context, runID string, scrapedAt time.Time, p record.Product) error
}

// Controller owns the crawl frontier and the per-run state for one site.
type Controller struct {
	cfg     Config
	profile *extract.Profile
	sched   *scheduler.Scheduler
	stage   *pipeline.Stage
	stats   *record.RunStats
	logger  *zap.Logger

	runID string
	store ProductStore

	mu       sync.Mutex
	enqueued map[string]struct{}
}

// New wires a Controller for the configured site.
func New(
	cfg Config,
	profile *extract.Profile,
	sched *scheduler.Scheduler,
	stage *pipeline.Stage,
	stats *record.RunStats,
	runID string,
	store ProductStore,
	logger *zap.Logger,
) *Controller {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.SeedURL == "" {
		cfg.SeedURL = profile.SeedURL
	}
	return &Controller{
		cfg:      cfg,
		profile:  profile,
		sched:    sched,
		stage:    stage,
		stats:    stats,
		logger:   logger,
		runID:    runID,
		store:    store,
		enqueued: make(map[string]struct{}),
	}
}

// RunCategoryPhase fetches the seed page once and writes every unique
// category link to the site's category file. A seed fetch failure ends the
// phase with zero output; only an unopenable sink is an error.
func (c *Controller) RunCategoryPhase(ctx context.Context) error {
	start := time.Now()
	out, err := sink.NewCategoryFile(c.cfg.OutputDir, c.cfg.Site, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			c.logger.Error("closing category sink", zap.Error(err))
		}
		c.logRunSummary("categories", start)
	}()

	resp, err := c.sched.Do(ctx, scheduler.Request{URL: c.cfg.SeedURL})
	if err != nil {
		c.recordFetchFailure(c.cfg.SeedURL, "", err)
		return nil
	}
	c.stats.Add(func(s *record.RunStats) { s.PagesFetched++ })

	doc, err := extract.NewDocument(pageURL(resp), resp.Body)
	if err != nil {
		c.logger.Error("parsing seed page", zap.String("url", c.cfg.SeedURL), zap.Error(err))
		return nil
	}

	strategy, links := extract.ExtractLinks(doc, c.profile.CategoryLinks)
	if len(links) == 0 {
		c.logger.Warn("no category links found on seed page", zap.String("url", c.cfg.SeedURL))
		return nil
	}
	c.logger.Info("extracting categories",
		zap.String("strategy", strategy),
		zap.Int("candidates", len(links)),
	)

	for _, link := range links {
		if c.rejectCategoryURL(link.URL) {
			continue
		}
		cat := record.Category{
			CategoryName: normalize.CleanText(link.Text),
			CategoryURL:  link.URL,
		}
		admitted, ok := c.stage.AdmitCategory(cat, c.cfg.CategoryRules)
		if !ok {
			continue
		}
		if err := out.Write(admitted); err != nil {
			c.logger.Error("writing category record", zap.Error(err))
			continue
		}
		c.stats.Add(func(s *record.RunStats) { s.ItemsWritten++ })
	}
	return nil
}

// rejectCategoryURL filters navigation links that cannot be category pages:
// unresolvable hrefs, the bare site root, fragment-only anchors, and links
// back to the seed itself.
func (c *Controller) rejectCategoryURL(raw string) bool {
	if raw == "" || raw == c.cfg.SeedURL {
		return true
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return true
	}
	if parsed.Path == "" || parsed.Path == "/" {
		return true
	}
	return false
}

// RunProductPhase crawls every category from the category file. A missing
// or unreadable category file aborts the phase (there is nothing to crawl);
// every per-page failure after that just logs and skips its branch.
func (c *Controller) RunProductPhase(ctx context.Context) error {
	start := time.Now()
	path := sink.CategoryFilePath(c.cfg.OutputDir, c.cfg.Site)
	categories, err := sink.ReadCategories(path, c.profile.CategoryPrefix, c.logger)
	if err != nil {
		return err
	}

	out, err := sink.NewExport(c.cfg.OutputDir, c.cfg.Site+"_products", start, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			c.logger.Error("closing product sink", zap.Error(err))
		}
		c.logRunSummary("products", start)
	}()

	frontier := newFrontier()
	for _, cat := range categories {
		c.enqueueOnce(frontier, task{
			kind:     taskCategoryPage,
			url:      cat.CategoryURL,
			category: cat.CategoryName,
		})
	}
	c.logger.Info("starting product phase",
		zap.String("site", c.cfg.Site),
		zap.Int("categories", len(c.enqueued)),
	)

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				t, ok := frontier.pop()
				if !ok {
					return
				}
				c.dispatch(ctx, frontier, out, t)
				frontier.done()
			}
		}()
	}
	wg.Wait()
	return nil
}

// dispatch routes a fetched page to the parse state its task kind names.
func (c *Controller) dispatch(ctx context.Context, f *frontier, out *sink.JSONLines, t task) {
	if ctx.Err() != nil {
		return
	}
	switch t.kind {
	case taskCategoryPage:
		c.handleCategoryPage(ctx, f, t)
	case taskProductPage:
		c.handleProductPage(ctx, out, t)
	}
}

func (c *Controller) handleCategoryPage(ctx context.Context, f *frontier, t task) {
	resp, err := c.sched.Do(ctx, scheduler.Request{
		URL:  t.url,
		Meta: map[string]string{"category": t.category},
	})
	if err != nil {
		c.recordFetchFailure(t.url, t.category, err)
		return
	}
	c.stats.Add(func(s *record.RunStats) { s.PagesFetched++ })

	doc, err := extract.NewDocument(pageURL(resp), resp.Body)
	if err != nil {
		c.logger.Error("parsing category page", zap.String("url", t.url), zap.Error(err))
		return
	}

	_, links := extract.ExtractLinks(doc, c.profile.ProductLinks)
	if len(links) == 0 {
		c.logger.Warn("no product links found on category page",
			zap.String("url", t.url),
			zap.String("category", t.category),
		)
	}
	for _, link := range links {
		c.enqueueOnce(f, task{kind: taskProductPage, url: link.URL, category: t.category})
	}

	// Pagination is an explicit self-loop: the next page re-enters this
	// same parse state with the same category context.
	if next := c.profile.NextPageURL(doc); next != "" {
		c.enqueueOnce(f, task{kind: taskCategoryPage, url: next, category: t.category})
	} else {
		c.logger.Debug("no next page", zap.String("category", t.category), zap.String("url", t.url))
	}
}

func (c *Controller) handleProductPage(ctx context.Context, out *sink.JSONLines, t task) {
	resp, err := c.sched.Do(ctx, scheduler.Request{
		URL:  t.url,
		Meta: map[string]string{"category": t.category},
	})
	if err != nil {
		c.recordFetchFailure(t.url, t.category, err)
		return
	}
	c.stats.Add(func(s *record.RunStats) { s.PagesFetched++ })

	doc, err := extract.NewDocument(pageURL(resp), resp.Body)
	if err != nil {
		c.logger.Error("parsing product page", zap.String("url", t.url), zap.Error(err))
		return
	}

	product := c.assembleProduct(doc, t)
	admitted, ok := c.stage.AdmitProduct(product, c.cfg.ProductRules)
	if !ok {
		return
	}
	if err := out.Write(admitted); err != nil {
		c.logger.Error("writing product record", zap.String("url", admitted.URL), zap.Error(err))
		return
	}
	c.stats.Add(func(s *record.RunStats) { s.ItemsWritten++ })

	if c.store != nil {
		if err := c.store.StoreProduct(ctx, c.runID, time.Now().UTC(), admitted); err != nil {
			c.logger.Warn("product store write failed, record kept in file sink",
				zap.String("url", admitted.URL),
				zap.Error(err),
			)
		}
	}
}

// assembleProduct normalizes the raw site extraction into a typed record.
func (c *Controller) assembleProduct(doc *extract.Document, t task) record.Product {
	raw := c.profile.ExtractProduct(doc)
	if raw.Specifications == nil {
		c.logger.Warn("no specifications extracted",
			zap.String("url", doc.URL()),
		)
	}

	features := make([]string, 0, len(raw.KeyFeatures))
	for _, feat := range raw.KeyFeatures {
		if cleaned := normalize.CleanText(feat); cleaned != "" {
			features = append(features, cleaned)
		}
	}
	if len(features) == 0 {
		features = nil
	}

	images := make([]string, 0, len(raw.ImageURLs))
	for _, img := range raw.ImageURLs {
		if abs := doc.AbsoluteURL(img); abs != "" {
			images = append(images, abs)
		}
	}
	if len(images) == 0 {
		images = nil
	}

	return record.Product{
		URL:            doc.URL(),
		Name:           normalize.CleanText(raw.Name),
		Category:       t.category,
		Brand:          normalize.CleanText(raw.Brand),
		ProductCode:    normalize.CleanText(raw.ProductCode),
		Price:          normalize.ParsePrice(raw.PriceText),
		RegularPrice:   normalize.ParsePrice(raw.RegularText),
		Availability:   normalize.ClassifyAvailability(raw.StockText, c.profile.OutOfStockMarker),
		Specifications: raw.Specifications,
		KeyFeatures:    features,
		ImageURLs:      images,
	}
}

// enqueueOnce pushes a task unless its URL was already enqueued this run or
// the item ceiling was reached. Frontier-level dedup keeps a product linked
// from two category pages from being fetched twice.
func (c *Controller) enqueueOnce(f *frontier, t task) {
	if c.limitReached() {
		return
	}
	c.mu.Lock()
	if _, dup := c.enqueued[t.url]; dup {
		c.mu.Unlock()
		return
	}
	c.enqueued[t.url] = struct{}{}
	c.mu.Unlock()
	f.push(t)
}

// limitReached reports whether the item-count ceiling is hit. The ceiling
// stops new enqueues only; in-flight fetches drain normally.
func (c *Controller) limitReached() bool {
	if c.cfg.ItemLimit <= 0 {
		return false
	}
	return c.stats.Snapshot().ItemsWritten >= c.cfg.ItemLimit
}

func (c *Controller) recordFetchFailure(url, category string, err error) {
	c.stats.Add(func(s *record.RunStats) { s.FetchFailures++ })
	fields := []zap.Field{zap.String("url", url), zap.Error(err)}
	if category != "" {
		fields = append(fields, zap.String("category", category))
	}
	c.logger.Error("fetch failed, skipping branch", fields...)
}

func (c *Controller) logRunSummary(phase string, start time.Time) {
	snap := c.stats.Snapshot()
	c.logger.Info("phase finished",
		zap.String("site", c.cfg.Site),
		zap.String("phase", phase),
		zap.String("run_id", c.runID),
		zap.Duration("runtime", time.Since(start)),
		zap.Int("pages_fetched", snap.PagesFetched),
		zap.Int("items_written", snap.ItemsWritten),
		zap.Int("dropped_invalid", snap.DroppedInvalid),
		zap.Int("dropped_duplicate", snap.DroppedDuplicate),
		zap.Int("fetch_failures", snap.FetchFailures),
	)
}

// pageURL picks the best base URL for parsing a response: the post-redirect
// final URL when the fetcher reports one.
func pageURL(resp scheduler.Response) string {
	if strings.TrimSpace(resp.FinalURL) != "" {
		return resp.FinalURL
	}
	return resp.URL
}
