package extract

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
)

// HydrationScriptID is the id of the script tag carrying client hydration state.
const HydrationScriptID = "__NEXT_DATA__"

// millisThreshold separates millisecond epochs from second epochs.
const millisThreshold = 1e10

var articlePath = []string{"props", "initialState", "detail", "articleDetail"}

// structuredStrategy reads the embedded hydration payload.
type structuredStrategy struct {
	maxDepth int
}

func (s structuredStrategy) name() crawler.Strategy { return crawler.StrategyStructured }

func (s structuredStrategy) extract(doc, _ string) candidate {
	payload, ok := hydrationPayload(doc)
	if !ok {
		return candidate{}
	}
	var root any
	if err := json.Unmarshal([]byte(payload), &root); err != nil {
		return candidate{}
	}
	article := lookupPath(root, articlePath)
	if titleOf(article) == "" {
		article = findTitled(root, s.maxDepth)
	}
	if article == nil {
		return candidate{}
	}
	body := CleanText(stringField(article, "content"))
	if body == "" {
		body = CleanText(stringField(article, "brief"))
	}
	return candidate{
		Title:       CleanText(titleOf(article)),
		Body:        body,
		Author:      authorOf(article["author"]),
		PublishedAt: epochTime(article["ctime"]),
	}
}

func hydrationPayload(doc string) (string, bool) {
	if !strings.Contains(doc, HydrationScriptID) {
		return "", false
	}
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return "", false
	}
	script := parsed.Find("script#" + HydrationScriptID).First()
	if script.Length() == 0 {
		return "", false
	}
	text := strings.TrimSpace(script.Text())
	return text, text != ""
}

func lookupPath(root any, path []string) map[string]any {
	cur := root
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	obj, _ := cur.(map[string]any)
	return obj
}

// findTitled walks the object graph depth first, up to maxDepth levels, for
// the first object exposing a non-empty string title.
func findTitled(node any, maxDepth int) map[string]any {
	if maxDepth < 0 {
		return nil
	}
	switch v := node.(type) {
	case map[string]any:
		if titleOf(v) != "" {
			return v
		}
		for _, key := range sortedKeys(v) {
			if found := findTitled(v[key], maxDepth-1); found != nil {
				return found
			}
		}
	case []any:
		for _, item := range v {
			if found := findTitled(item, maxDepth-1); found != nil {
				return found
			}
		}
	}
	return nil
}

func titleOf(obj map[string]any) string {
	if obj == nil {
		return ""
	}
	return strings.TrimSpace(stringField(obj, "title"))
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func authorOf(v any) string {
	switch a := v.(type) {
	case map[string]any:
		return strings.TrimSpace(stringField(a, "name"))
	case string:
		return strings.TrimSpace(a)
	}
	return ""
}

// epochTime converts a numeric ctime; values above 1e10 are milliseconds.
func epochTime(v any) time.Time {
	f, ok := v.(float64)
	if !ok || f <= 0 {
		return time.Time{}
	}
	if f > millisThreshold {
		return time.UnixMilli(int64(f))
	}
	return time.Unix(int64(f), 0)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
