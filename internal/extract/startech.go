package extract

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/pricewatchbd/crawler/internal/normalize"
)

// Selector data for startech.com.bd. The site renders its specification
// table as alternating thead (section heading) and tbody (key/value rows)
// children of one table.
func init() {
	p := &Profile{
		Site:             "startech",
		SeedURL:          "https://www.startech.com.bd/",
		CategoryPrefix:   "https://www.startech.com.bd/",
		OutOfStockMarker: "Out of Stock",
		CategoryLinks: []LinkStrategy{
			{Name: "main-nav", Selector: "nav#main-nav ul a.nav-link[href]:not(.see-all)"},
			{Name: "nav-fallback", Selector: "nav a[href]"},
		},
		ProductLinks: []LinkStrategy{
			{Name: "p-item", Selector: "div.p-item div.p-item-details h4.p-item-name a[href]"},
			{Name: "p-item-flat", Selector: "h4.p-item-name a[href]"},
		},
		NextPageScope: "ul.pagination",
		NextPageLabel: "NEXT",
	}
	p.ExtractProduct = startechProduct
	p.ExtractSpecs = startechSpecs
	registerProfile(p)
}

func startechProduct(doc *Document) RawProduct {
	return RawProduct{
		Name: doc.Text("h1.product-name"),
		// The discounted price lives in an ins element when a deal is
		// active, otherwise directly in the cell.
		PriceText:      doc.firstText("td.product-price ins", "td.product-price"),
		RegularText:    doc.Text("td.product-regular-price"),
		Brand:          doc.Text("td.product-brand"),
		ProductCode:    doc.Text("td.product-code"),
		StockText:      doc.Text("td.product-status"),
		KeyFeatures:    doc.Texts("div.short-description ul li:not(.view-more)"),
		ImageURLs:      doc.Attrs(`meta[itemprop="image"]`, "content"),
		Specifications: startechSpecs(doc),
	}
}

func startechSpecs(doc *Document) map[string]map[string]string {
	containers := []string{
		"section#specification table.data-table",
		"table.data-table",
	}
	for _, container := range containers {
		table := doc.Find(container).First()
		if table.Length() == 0 {
			continue
		}
		specs := map[string]map[string]string{}
		section := "General"
		table.Children().Each(func(_ int, group *goquery.Selection) {
			if goquery.NodeName(group) == "thead" {
				if heading := normalize.CleanText(group.Find("td.heading-row").Text()); heading != "" {
					section = heading
				}
				return
			}
			group.Find("tr").Each(func(_ int, row *goquery.Selection) {
				key := normalize.CleanText(row.Find("td.name").Text())
				value := normalize.CleanText(row.Find("td.value").Text())
				if key == "" || value == "" {
					return
				}
				if specs[section] == nil {
					specs[section] = map[string]string{}
				}
				specs[section][key] = value
			})
		})
		if len(specs) > 0 {
			return specs
		}
	}
	return nil
}
