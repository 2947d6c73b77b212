package feed

import (
	"encoding/xml"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ConvertOptions control catalog output.
type ConvertOptions struct {
	// ShopName and ShopURL default to the feed title and link.
	ShopName string
	ShopURL  string
	// Date stamps the catalog; zero means now.
	Date time.Time
	// Offers maps item IDs to mirrored image URLs (the sync offers file).
	// Items present here use the mirrored pictures instead of the feed's.
	Offers map[string][]string
}

type ymlCatalog struct {
	XMLName xml.Name `xml:"yml_catalog"`
	Date    string   `xml:"date,attr"`
	Shop    ymlShop  `xml:"shop"`
}

type ymlShop struct {
	Name       string        `xml:"name"`
	URL        string        `xml:"url,omitempty"`
	Currencies []ymlCurrency `xml:"currencies>currency"`
	Categories []ymlCategory `xml:"categories>category"`
	Offers     []ymlOffer    `xml:"offers>offer"`
}

type ymlCurrency struct {
	ID   string `xml:"id,attr"`
	Rate string `xml:"rate,attr"`
}

type ymlCategory struct {
	ID       int    `xml:"id,attr"`
	ParentID int    `xml:"parentId,attr,omitempty"`
	Name     string `xml:",chardata"`
}

type ymlOffer struct {
	ID          string   `xml:"id,attr"`
	Available   bool     `xml:"available,attr"`
	Name        string   `xml:"name"`
	URL         string   `xml:"url,omitempty"`
	Price       string   `xml:"price"`
	OldPrice    string   `xml:"oldprice,omitempty"`
	CurrencyID  string   `xml:"currencyId,omitempty"`
	CategoryID  int      `xml:"categoryId,omitempty"`
	Pictures    []string `xml:"picture"`
	Vendor      string   `xml:"vendor,omitempty"`
	VendorCode  string   `xml:"vendorCode,omitempty"`
	Barcode     string   `xml:"barcode,omitempty"`
	Description string   `xml:"description,omitempty"`
}

// Convert writes f as a YML marketplace catalog. Items without an ID or a
// parseable price are skipped.
func Convert(w io.Writer, f *Feed, opts ConvertOptions) error {
	date := opts.Date
	if date.IsZero() {
		date = time.Now()
	}
	cats := buildCategories(f.Items)

	shop := ymlShop{
		Name: firstNonEmpty(opts.ShopName, f.Title),
		URL:  firstNonEmpty(opts.ShopURL, f.Link),
	}
	currencies := map[string]struct{}{}
	for _, it := range f.Items {
		offer, currency, ok := convertOffer(it, cats, opts.Offers)
		if !ok {
			continue
		}
		if currency != "" {
			currencies[currency] = struct{}{}
		}
		shop.Offers = append(shop.Offers, offer)
	}
	for _, c := range sortedKeys(currencies) {
		shop.Currencies = append(shop.Currencies, ymlCurrency{ID: c, Rate: "1"})
	}
	shop.Categories = cats.list

	out, err := xml.MarshalIndent(ymlCatalog{Date: date.Format("2006-01-02 15:04"), Shop: shop}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

func convertOffer(it Item, cats *categoryIndex, mirrored map[string][]string) (ymlOffer, string, bool) {
	if it.ID == "" {
		return ymlOffer{}, "", false
	}
	price, currency, ok := ParsePrice(it.Price)
	if !ok {
		return ymlOffer{}, "", false
	}
	offer := ymlOffer{
		ID:          it.ID,
		Available:   IsAvailable(it.Availability),
		Name:        it.Title,
		URL:         it.Link,
		Price:       price,
		CurrencyID:  currency,
		CategoryID:  cats.idFor(it.ProductType),
		Pictures:    it.ImageURLs(),
		Vendor:      it.Brand,
		VendorCode:  it.MPN,
		Barcode:     it.GTIN,
		Description: it.Description,
	}
	if sale, saleCurrency, ok := ParsePrice(it.SalePrice); ok && saleCurrency == currency && lessPrice(sale, price) {
		offer.OldPrice = price
		offer.Price = sale
	}
	if urls := mirrored[it.ID]; len(urls) > 0 {
		offer.Pictures = urls
	}
	return offer, currency, true
}

// ParsePrice splits a Merchant price such as "12.34 EUR" (or "EUR 12,34")
// into its amount and currency code. The amount keeps two decimals.
func ParsePrice(s string) (amount, currency string, ok bool) {
	for _, field := range strings.Fields(s) {
		n, err := strconv.ParseFloat(strings.ReplaceAll(field, ",", "."), 64)
		if err == nil {
			amount = strconv.FormatFloat(n, 'f', 2, 64)
			continue
		}
		currency = strings.ToUpper(field)
	}
	return amount, currency, amount != ""
}

func lessPrice(a, b string) bool {
	x, errA := strconv.ParseFloat(a, 64)
	y, errB := strconv.ParseFloat(b, 64)
	return errA == nil && errB == nil && x < y
}

// IsAvailable maps Merchant availability values to a YML flag.
func IsAvailable(availability string) bool {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(availability)), "_", " ") {
	case "in stock", "preorder", "backorder":
		return true
	default:
		return false
	}
}

// categoryIndex assigns IDs to every node of the product_type hierarchy.
// IDs follow the sorted order of full paths so output is stable.
type categoryIndex struct {
	ids  map[string]int
	list []ymlCategory
}

const pathSep = " > "

func splitProductType(s string) []string {
	var parts []string
	for _, p := range strings.Split(s, ">") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func buildCategories(items []Item) *categoryIndex {
	paths := map[string][]string{}
	for _, it := range items {
		parts := splitProductType(it.ProductType)
		for i := range parts {
			paths[strings.Join(parts[:i+1], pathSep)] = parts[:i+1]
		}
	}

	idx := &categoryIndex{ids: make(map[string]int, len(paths))}
	for i, key := range sortedKeys(paths) {
		idx.ids[key] = i + 1
	}
	for _, key := range sortedKeys(paths) {
		parts := paths[key]
		cat := ymlCategory{ID: idx.ids[key], Name: parts[len(parts)-1]}
		if len(parts) > 1 {
			cat.ParentID = idx.ids[strings.Join(parts[:len(parts)-1], pathSep)]
		}
		idx.list = append(idx.list, cat)
	}
	return idx
}

func (c *categoryIndex) idFor(productType string) int {
	return c.ids[strings.Join(splitProductType(productType), pathSep)]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
