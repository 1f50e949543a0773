package extract

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
)

var (
	titleSelectors = []string{
		"span.detail-title-content",
		"h1[class*=title]",
		"[class*=title]",
		"h1",
		"title",
	}
	bodySelectors = []string{
		"div.detail-content",
		"div.article-content",
		"[class*=article]",
		"[class*=detail]",
		"[class*=content]",
	}
	timeSelectors   = []string{"[class*=time]", "[class*=date]"}
	authorSelectors = []string{"[class*=author]", "[class*=reporter]", "[class*=editor]"}

	bylinePrefixes = []string{"作者", "记者", "编辑", "责任编辑", "财联社记者"}
)

const domTitleMinRunes = 6

// domStrategy walks ordered class-substring selectors over the parsed DOM.
type domStrategy struct {
	floor int
	loc   *time.Location
	now   func() time.Time
}

func (s domStrategy) name() crawler.Strategy { return crawler.StrategyDOM }

func (s domStrategy) extract(doc, _ string) candidate {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return candidate{}
	}
	parsed.Find("script, style, noscript, template").Remove()

	return candidate{
		Title:       domTitle(parsed),
		Body:        domBody(parsed, s.floor),
		PublishedAt: domTime(parsed, s.loc, s.now()),
		Author:      domAuthor(parsed),
	}
}

func domTitle(doc *goquery.Document) string {
	for _, sel := range titleSelectors {
		var title string
		doc.Find(sel).EachWithBreak(func(_ int, node *goquery.Selection) bool {
			text := CleanText(node.Text())
			if runeLen(text) >= domTitleMinRunes {
				title = text
				return false
			}
			return true
		})
		if title != "" {
			return title
		}
	}
	return ""
}

// domBody returns the first match, in selector order, whose text meets floor.
// When nothing does, the longest text seen is returned so the caller can
// report the miss.
func domBody(doc *goquery.Document, floor int) string {
	var longest string
	for _, sel := range bodySelectors {
		var body string
		doc.Find(sel).EachWithBreak(func(_ int, node *goquery.Selection) bool {
			text := strings.TrimSpace(node.Text())
			if runeLen(text) >= floor && floor > 0 {
				body = text
				return false
			}
			if runeLen(text) > runeLen(longest) {
				longest = text
			}
			return true
		})
		if body != "" {
			return body
		}
	}
	return longest
}

func domTime(doc *goquery.Document, loc *time.Location, now time.Time) time.Time {
	for _, sel := range timeSelectors {
		var found time.Time
		doc.Find(sel).EachWithBreak(func(_ int, node *goquery.Selection) bool {
			found = parseTime(CleanText(node.Text()), loc, now)
			return found.IsZero()
		})
		if !found.IsZero() {
			return found
		}
	}
	return time.Time{}
}

func domAuthor(doc *goquery.Document) string {
	for _, sel := range authorSelectors {
		var author string
		doc.Find(sel).EachWithBreak(func(_ int, node *goquery.Selection) bool {
			author = cleanByline(CleanText(node.Text()))
			return author == ""
		})
		if author != "" {
			return author
		}
	}
	return ""
}

func cleanByline(text string) string {
	for _, p := range bylinePrefixes {
		if strings.HasPrefix(text, p) {
			text = strings.TrimSpace(strings.TrimLeft(strings.TrimPrefix(text, p), ":： "))
			break
		}
	}
	if text == "" || runeLen(text) >= authorMaxRunes {
		return ""
	}
	return text
}
