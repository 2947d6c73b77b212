// Package feed reads product feeds (RSS 2.0 or Atom with Google Merchant
// g: fields) and turns them into sync entries and marketplace catalogs.
package feed

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/roach88/feedmirror/internal/pipeline"
)

// Feed is a parsed product feed.
type Feed struct {
	Title       string
	Link        string
	Description string
	Items       []Item
}

// Item is one product. Text fields are already repaired.
type Item struct {
	ID                   string
	Title                string
	Description          string
	Link                 string
	Price                string
	SalePrice            string
	Availability         string
	Brand                string
	Condition            string
	GTIN                 string
	MPN                  string
	ImageLink            string
	AdditionalImageLinks []string
	ProductType          string
}

// ImageURLs returns the primary image followed by the additional images,
// in feed order, without blanks.
func (it Item) ImageURLs() []string {
	urls := make([]string, 0, 1+len(it.AdditionalImageLinks))
	if it.ImageLink != "" {
		urls = append(urls, it.ImageLink)
	}
	for _, u := range it.AdditionalImageLinks {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// Parse reads an RSS or Atom feed.
func Parse(r io.Reader) (*Feed, error) {
	parsed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	f := &Feed{
		Title:       RepairText(parsed.Title),
		Link:        strings.TrimSpace(parsed.Link),
		Description: RepairText(parsed.Description),
		Items:       make([]Item, 0, len(parsed.Items)),
	}
	for _, it := range parsed.Items {
		f.Items = append(f.Items, convertItem(it))
	}
	return f, nil
}

// ParseFile opens and parses the feed at path.
func ParseFile(path string) (*Feed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

func convertItem(it *gofeed.Item) Item {
	g := merchantFields(it.Extensions)

	out := Item{
		ID:           g.first("id"),
		Title:        RepairText(firstNonEmpty(g.first("title"), it.Title)),
		Description:  RepairText(firstNonEmpty(g.first("description"), it.Description)),
		Link:         strings.TrimSpace(firstNonEmpty(g.first("link"), it.Link)),
		Price:        g.first("price"),
		SalePrice:    g.first("sale_price"),
		Availability: strings.ToLower(g.first("availability")),
		Brand:        RepairText(g.first("brand")),
		Condition:    strings.ToLower(g.first("condition")),
		GTIN:         g.first("gtin"),
		MPN:          g.first("mpn"),
		ImageLink:    g.first("image_link"),
		ProductType:  RepairText(g.first("product_type")),
	}
	if out.ID == "" {
		out.ID = strings.TrimSpace(it.GUID)
	}
	if out.ImageLink == "" && it.Image != nil {
		out.ImageLink = strings.TrimSpace(it.Image.URL)
	}
	out.AdditionalImageLinks = g.all("additional_image_link")
	return out
}

// merchant holds the g: extension elements of one item.
type merchant map[string][]ext.Extension

// merchantFields finds the Google Merchant elements. Feeds normally bind
// the namespace to "g"; any other prefix carrying an id element is
// accepted as well.
func merchantFields(exts ext.Extensions) merchant {
	if m, ok := exts["g"]; ok {
		return merchant(m)
	}
	for _, m := range exts {
		if _, ok := m["id"]; ok {
			return merchant(m)
		}
	}
	return merchant{}
}

func (m merchant) first(name string) string {
	for _, e := range m[name] {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	return ""
}

func (m merchant) all(name string) []string {
	var out []string
	for _, e := range m[name] {
		if v := strings.TrimSpace(e.Value); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Entries turns feed items into sync input. Items without an ID or
// without images are left out.
func Entries(f *Feed) []pipeline.SourceEntry {
	entries := make([]pipeline.SourceEntry, 0, len(f.Items))
	for _, it := range f.Items {
		urls := it.ImageURLs()
		if it.ID == "" || len(urls) == 0 {
			continue
		}
		entries = append(entries, pipeline.SourceEntry{Identifier: it.ID, URLs: urls})
	}
	return entries
}
