package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
)

// recoverFromHomepage looks for the requested article's teaser on the
// homepage: an anchor pointing at its detail path provides the title and the
// longest nearby text block the body.
func recoverFromHomepage(doc, rawURL string) candidate {
	id := crawler.DetailID(rawURL)
	if id == "" || !strings.Contains(rawURL, "/detail/") {
		return candidate{}
	}
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return candidate{}
	}
	parsed.Find("script, style, noscript, template").Remove()

	fragment := "/detail/" + id
	var best candidate
	parsed.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if !matchesDetail(href, fragment) {
			return true
		}
		title := CleanText(a.Text())
		if title == "" {
			title = CleanText(a.AttrOr("title", ""))
		}
		if title == "" {
			return true
		}
		body := nearbyBlock(a, title, fragment)
		if best.Title == "" || runeLen(body) > runeLen(best.Body) {
			best = candidate{Title: title, Body: body}
		}
		return true
	})
	return best
}

// matchesDetail reports whether href points at fragment exactly, ignoring
// any query string, so /detail/12 does not match /detail/123.
func matchesDetail(href, fragment string) bool {
	i := strings.Index(href, fragment)
	if i < 0 {
		return false
	}
	rest := href[i+len(fragment):]
	return rest == "" || strings.HasPrefix(rest, "?") || strings.HasPrefix(rest, "#") || strings.HasPrefix(rest, "/")
}

// nearbyBlock returns the longest text among the anchor's siblings, its parent
// and the parent's siblings. Blocks linking to other articles are skipped.
func nearbyBlock(a *goquery.Selection, title, fragment string) string {
	var longest string
	consider := func(s *goquery.Selection) {
		s.Each(func(_ int, node *goquery.Selection) {
			if linksElsewhere(node, fragment) {
				return
			}
			text := CleanText(node.Text())
			text = strings.TrimSpace(strings.Replace(text, title, "", 1))
			if runeLen(text) > runeLen(longest) {
				longest = text
			}
		})
	}
	consider(a.Siblings())
	parent := a.Parent()
	consider(parent)
	consider(parent.Siblings())
	return longest
}

func linksElsewhere(node *goquery.Selection, fragment string) bool {
	other := false
	node.Find("a[href*='/detail/']").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if !matchesDetail(a.AttrOr("href", ""), fragment) {
			other = true
		}
		return !other
	})
	return other
}
