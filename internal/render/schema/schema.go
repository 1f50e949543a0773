// Package schema applies CSS extraction schemas to rendered HTML.
//
// The output mirrors what listing consumers expect: a JSON array with one
// object per base element, where nested_list fields hold arrays of objects.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
)

// Apply runs s against html and returns the extracted JSON.
func Apply(s crawler.Schema, html string) (json.RawMessage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base := s.BaseSelector
	if base == "" {
		base = "body"
	}

	items := make([]map[string]any, 0)
	doc.Find(base).Each(func(_ int, sel *goquery.Selection) {
		items = append(items, extractFields(sel, s.Fields))
	})

	out, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal extraction: %w", err)
	}
	return out, nil
}

func extractFields(sel *goquery.Selection, fields []crawler.SchemaField) map[string]any {
	item := make(map[string]any, len(fields))
	for _, field := range fields {
		target := sel
		if field.Selector != "" {
			target = sel.Find(field.Selector)
		}
		switch field.Type {
		case crawler.FieldNestedList:
			list := make([]map[string]any, 0, target.Length())
			target.Each(func(_ int, child *goquery.Selection) {
				list = append(list, extractFields(child, field.Fields))
			})
			item[field.Name] = list
		case crawler.FieldAttribute:
			if v, ok := target.First().Attr(field.Attribute); ok {
				item[field.Name] = v
			}
		default:
			item[field.Name] = strings.TrimSpace(target.First().Text())
		}
	}
	return item
}

// DetailLinks is the listing schema: every anchor matching selector, with its
// href and visible text.
func DetailLinks(selector string) *crawler.Schema {
	if selector == "" {
		selector = `a[href*="/detail/"]`
	}
	return &crawler.Schema{
		Name:         "cls listing links",
		BaseSelector: "body",
		Fields: []crawler.SchemaField{{
			Name:     "all_links",
			Selector: selector,
			Type:     crawler.FieldNestedList,
			Fields: []crawler.SchemaField{
				{Name: "href", Type: crawler.FieldAttribute, Attribute: "href"},
				{Name: "text", Type: crawler.FieldText},
			},
		}},
	}
}
