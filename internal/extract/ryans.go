package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pricewatchbd/crawler/internal/normalize"
)

// Selector data for ryans.com. Specification rows appear in one of three
// containers depending on the product template generation; headings sit in
// a sibling column, reached through the row's section wrapper.
func init() {
	p := &Profile{
		Site:             "ryans",
		SeedURL:          "https://www.ryans.com/",
		CategoryPrefix:   "https://www.ryans.com/category/",
		OutOfStockMarker: "Out Of Stock",
		CategoryLinks: []LinkStrategy{
			{
				Name: "megamenu",
				Selector: "nav#navbar_main div.col-megamenu a[href], " +
					"nav#navbar_main ul.dropdown-menu2 a[href], " +
					"nav#navbar_main li.hover_drop_down > a.dropdown-toggle[href]",
			},
			{Name: "nav-fallback", Selector: "nav a[href]"},
		},
		ProductLinks: []LinkStrategy{
			{Name: "card-list", Selector: "div.card.h-100 p.list-view-text a[href]"},
			{Name: "card-grid", Selector: "div.card p.grid-view-text a[href]"},
		},
		NextPageScope: "ul.pagination",
		NextPageLabel: "NEXT",
	}
	p.ExtractProduct = ryansProduct
	p.ExtractSpecs = ryansSpecs
	registerProfile(p)
}

func ryansProduct(doc *Document) RawProduct {
	return RawProduct{
		Name:           doc.Text(`h1[itemprop="name"]`),
		PriceText:      doc.Attr(`meta[itemprop="price"]`, "content"),
		RegularText:    doc.Text("div.new-reg-price-block span.new-reg-text"),
		Brand:          doc.Text(`div[itemprop="brand"] span[itemprop="name"]`),
		ProductCode:    doc.Attr(`meta[itemprop="sku"]`, "content"),
		StockText:      doc.Text("div.price-block span.stock-text"),
		KeyFeatures:    doc.Texts("div.overview ul.category-info li.context"),
		ImageURLs:      doc.Attrs("div#slideshow-items-container img.slideshow-items", "src"),
		Specifications: ryansSpecs(doc),
	}
}

func ryansSpecs(doc *Document) map[string]map[string]string {
	containers := []string{
		"div#add-spec-div",
		"div#basic-spec-div",
		"div.specification-table div.grid-container",
	}
	for _, container := range containers {
		rows := doc.Find(container + " div.row.table-hr-remove")
		if rows.Length() == 0 {
			continue
		}
		specs := map[string]map[string]string{}
		section := "General"
		rows.Each(func(_ int, row *goquery.Selection) {
			heading := row.Closest("div.justify-content-center").Find("h6").First()
			if label := normalize.CleanText(heading.Text()); label != "" {
				section = label
			}
			key := normalize.CleanText(joinedText(row, "span.att-title"))
			value := normalize.CleanText(joinedText(row, "span.att-value"))
			if key == "" || value == "" {
				return
			}
			if specs[section] == nil {
				specs[section] = map[string]string{}
			}
			specs[section][key] = value
		})
		if len(specs) > 0 {
			return specs
		}
	}
	return nil
}

// joinedText concatenates the text of every match with single spaces, since
// the sites split one logical value across multiple spans.
func joinedText(s *goquery.Selection, selector string) string {
	var parts []string
	s.Find(selector).Each(func(_ int, m *goquery.Selection) {
		parts = append(parts, m.Text())
	})
	return strings.Join(parts, " ")
}
