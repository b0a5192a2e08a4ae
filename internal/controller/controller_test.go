package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pricewatchbd/crawler/internal/extract"
	"github.com/pricewatchbd/crawler/internal/pipeline"
	"github.com/pricewatchbd/crawler/internal/record"
	"github.com/pricewatchbd/crawler/internal/scheduler"
	"github.com/pricewatchbd/crawler/internal/sink"
)

// httpFetcher is the minimal real-HTTP fetch capability the tests drive the
// scheduler with, reporting non-2xx statuses the way the production fetcher
// does.
type httpFetcher struct {
	client *http.Client
}

func (f *httpFetcher) Fetch(ctx context.Context, req scheduler.Request) (scheduler.Response, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return scheduler.Response{}, err
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return scheduler.Response{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return scheduler.Response{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return scheduler.Response{}, &scheduler.StatusError{Code: resp.StatusCode, URL: req.URL}
	}
	return scheduler.Response{
		URL:        req.URL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

func testProfile(seed string) *extract.Profile {
	return &extract.Profile{
		Site:             "teststore",
		SeedURL:          seed,
		OutOfStockMarker: "Out of Stock",
		CategoryLinks: []extract.LinkStrategy{
			{Name: "nav", Selector: "nav.main-nav a"},
		},
		ProductLinks: []extract.LinkStrategy{
			{Name: "grid", Selector: "div.product-grid a.product-link"},
		},
		NextPageLabel: "NEXT",
		ExtractProduct: func(doc *extract.Document) extract.RawProduct {
			return extract.RawProduct{
				Name:      doc.Text("h1.name"),
				PriceText: doc.Text("span.price"),
				StockText: doc.Text("span.stock"),
			}
		},
	}
}

func testController(t *testing.T, profile *extract.Profile, dir string, limit int) *Controller {
	t.Helper()
	logger := zaptest.NewLogger(t)
	sched := scheduler.New(&httpFetcher{client: &http.Client{Timeout: 5 * time.Second}}, scheduler.Config{
		StartDelay:   time.Millisecond,
		DelayFloor:   time.Millisecond,
		DelayCeiling: 5 * time.Millisecond,
		MaxRetries:   1,
	}, logger)
	stats := record.NewRunStats()
	return New(
		Config{
			Site:          "teststore",
			SeedURL:       profile.SeedURL,
			OutputDir:     dir,
			ItemLimit:     limit,
			Workers:       3,
			CategoryRules: pipeline.DefaultCategoryRules(),
			ProductRules: pipeline.Rules{
				Essential: []string{"name", "price", "url"},
			},
		},
		profile,
		sched,
		pipeline.New(logger, stats),
		stats,
		"run-test",
		nil,
		logger,
	)
}

func readCategoryFile(t *testing.T, dir string) []record.Category {
	t.Helper()
	data, err := os.ReadFile(sink.CategoryFilePath(dir, "teststore"))
	require.NoError(t, err)
	var out []record.Category
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var c record.Category
		require.NoError(t, json.Unmarshal([]byte(line), &c))
		out = append(out, c)
	}
	return out
}

func readProductExport(t *testing.T, dir string) []record.Product {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var products []record.Product
	for _, e := range entries {
		if !strings.Contains(e.Name(), "_export_") {
			continue
		}
		data, err := os.ReadFile(dir + "/" + e.Name())
		require.NoError(t, err)
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			if line == "" {
				continue
			}
			var p record.Product
			require.NoError(t, json.Unmarshal([]byte(line), &p))
			products = append(products, p)
		}
	}
	return products
}

func TestCategoryPhaseFiltersNavigationNoise(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><nav class="main-nav">
			<a href="#">Menu</a>
			<a href="/">Home</a>
			<a href="%s">Self</a>
			<a href="/category/laptops">  Laptops  </a>
		</nav></body></html>`, srv.URL)
	}))
	defer srv.Close()

	dir := t.TempDir()
	profile := testProfile(srv.URL)
	c := testController(t, profile, dir, 0)

	require.NoError(t, c.RunCategoryPhase(context.Background()))

	cats := readCategoryFile(t, dir)
	require.Len(t, cats, 1)
	assert.Equal(t, "Laptops", cats[0].CategoryName)
	assert.Equal(t, srv.URL+"/category/laptops", cats[0].CategoryURL)
}

func TestCategoryPhaseIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><nav class="main-nav">
			<a href="/category/laptops">Laptops</a>
			<a href="/category/monitors">Monitors</a>
		</nav></body></html>`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	profile := testProfile(srv.URL)

	require.NoError(t, testController(t, profile, dir, 0).RunCategoryPhase(context.Background()))
	first := readCategoryFile(t, dir)

	require.NoError(t, testController(t, profile, dir, 0).RunCategoryPhase(context.Background()))
	second := readCategoryFile(t, dir)

	assert.ElementsMatch(t, first, second)
	assert.Len(t, second, 2)
}

func TestCategoryPhaseSeedFailureYieldsEmptyOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := testController(t, testProfile(srv.URL), dir, 0)

	require.NoError(t, c.RunCategoryPhase(context.Background()))

	data, err := os.ReadFile(sink.CategoryFilePath(dir, "teststore"))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func productPage(name, price, stock string) string {
	return fmt.Sprintf(`<html><body>
		<h1 class="name">%s</h1>
		<span class="price">%s</span>
		<span class="stock">%s</span>
	</body></html>`, name, price, stock)
}

func TestProductPhasePaginatesWithoutRefetchingSharedProducts(t *testing.T) {
	var hits sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if r.URL.RawQuery != "" {
			key += "?" + r.URL.RawQuery
		}
		count, _ := hits.LoadOrStore(key, new(atomic.Int64))
		count.(*atomic.Int64).Add(1)
		switch key {
		case "/category/laptops":
			fmt.Fprint(w, `<html><body><div class="product-grid">
				<a class="product-link" href="/product/a">A</a>
				<a class="product-link" href="/product/b">B</a>
			</div>
			<a rel="next" href="/category/laptops?page=2">&raquo;</a>
			</body></html>`)
		case "/category/laptops?page=2":
			fmt.Fprint(w, `<html><body><div class="product-grid">
				<a class="product-link" href="/product/b">B</a>
				<a class="product-link" href="/product/c">C</a>
			</div></body></html>`)
		case "/product/a":
			fmt.Fprint(w, productPage("Laptop A", "50,000", "In Stock"))
		case "/product/b":
			fmt.Fprint(w, productPage("Laptop B", "60,000", "In Stock"))
		case "/product/c":
			fmt.Fprint(w, productPage("Laptop C", "70,000", "In Stock"))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeCategoryFixture(t, dir, record.Category{
		CategoryName: "Laptops",
		CategoryURL:  srv.URL + "/category/laptops",
	})

	c := testController(t, testProfile(srv.URL), dir, 0)
	require.NoError(t, c.RunProductPhase(context.Background()))

	products := readProductExport(t, dir)
	require.Len(t, products, 3)
	names := make([]string, 0, len(products))
	for _, p := range products {
		names = append(names, p.Name)
		assert.Equal(t, "Laptops", p.Category)
		require.NotNil(t, p.Price)
	}
	assert.ElementsMatch(t, []string{"Laptop A", "Laptop B", "Laptop C"}, names)

	count, ok := hits.Load("/product/b")
	require.True(t, ok)
	assert.Equal(t, int64(1), count.(*atomic.Int64).Load())
}

func TestProductPhaseDropsPricelessProducts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/category/gadgets":
			fmt.Fprint(w, `<html><body><div class="product-grid">
				<a class="product-link" href="/product/priced">Priced</a>
				<a class="product-link" href="/product/unpriced">Unpriced</a>
			</div></body></html>`)
		case "/product/priced":
			fmt.Fprint(w, productPage("Gadget", "1,200", "In Stock"))
		case "/product/unpriced":
			fmt.Fprint(w, productPage("Mystery Gadget", "Call for Price", "In Stock"))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeCategoryFixture(t, dir, record.Category{
		CategoryName: "Gadgets",
		CategoryURL:  srv.URL + "/category/gadgets",
	})

	c := testController(t, testProfile(srv.URL), dir, 0)
	require.NoError(t, c.RunProductPhase(context.Background()))

	products := readProductExport(t, dir)
	require.Len(t, products, 1)
	assert.Equal(t, "Gadget", products[0].Name)

	snap := c.stats.Snapshot()
	assert.Equal(t, 1, snap.DroppedInvalid)
}

func TestProductPhaseFailsWithoutCategoryFile(t *testing.T) {
	c := testController(t, testProfile("http://127.0.0.1:1"), t.TempDir(), 0)
	err := c.RunProductPhase(context.Background())
	require.Error(t, err)
}

func TestProductPhaseSkipsFailingBranch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/category/ok":
			fmt.Fprint(w, `<html><body><div class="product-grid">
				<a class="product-link" href="/product/ok">OK</a>
			</div></body></html>`)
		case "/category/broken":
			w.WriteHeader(http.StatusNotFound)
		case "/product/ok":
			fmt.Fprint(w, productPage("Survivor", "999", "In Stock"))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeCategoryFixture(t, dir,
		record.Category{CategoryName: "OK", CategoryURL: srv.URL + "/category/ok"},
		record.Category{CategoryName: "Broken", CategoryURL: srv.URL + "/category/broken"},
	)

	c := testController(t, testProfile(srv.URL), dir, 0)
	require.NoError(t, c.RunProductPhase(context.Background()))

	products := readProductExport(t, dir)
	require.Len(t, products, 1)
	assert.Equal(t, "Survivor", products[0].Name)
	assert.Equal(t, 1, c.stats.Snapshot().FetchFailures)
}

func TestProductPhaseHonorsItemLimit(t *testing.T) {
	// Ten category pages of two products each, chained with NEXT links, so
	// the ceiling has pagination left to suppress once it trips.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/category/bulk" {
			page := 1
			if q := r.URL.Query().Get("page"); q != "" {
				fmt.Sscanf(q, "%d", &page)
			}
			var b strings.Builder
			b.WriteString(`<html><body><div class="product-grid">`)
			for i := 0; i < 2; i++ {
				n := (page-1)*2 + i
				fmt.Fprintf(&b, `<a class="product-link" href="/product/%d">P%d</a>`, n, n)
			}
			b.WriteString(`</div>`)
			if page < 10 {
				fmt.Fprintf(&b, `<ul class="pagination"><li><a href="/category/bulk?page=%d">NEXT</a></li></ul>`, page+1)
			}
			b.WriteString(`</body></html>`)
			fmt.Fprint(w, b.String())
			return
		}
		fmt.Fprint(w, productPage("Bulk Item", "100", "In Stock"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeCategoryFixture(t, dir, record.Category{
		CategoryName: "Bulk",
		CategoryURL:  srv.URL + "/category/bulk",
	})

	c := testController(t, testProfile(srv.URL), dir, 2)
	require.NoError(t, c.RunProductPhase(context.Background()))

	// The ceiling gates enqueueing, not in-flight work, so the count can
	// land slightly above the limit but far below the full catalog.
	written := c.stats.Snapshot().ItemsWritten
	assert.GreaterOrEqual(t, written, 2)
	assert.Less(t, written, 20)
}

func writeCategoryFixture(t *testing.T, dir string, cats ...record.Category) {
	t.Helper()
	f, err := os.Create(sink.CategoryFilePath(dir, "teststore"))
	require.NoError(t, err)
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, c := range cats {
		require.NoError(t, enc.Encode(c))
	}
}
