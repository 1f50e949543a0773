// Package detector recognizes headless renders that landed on the site
// homepage instead of the requested article.
package detector

import (
	"strings"
)

// DefaultThreshold is the number of distinct indicators that marks a homepage.
const DefaultThreshold = 3

// DefaultIndicators are strings the homepage carries prominently: the site
// banner, live market-index tickers and top navigation labels.
var DefaultIndicators = []string{
	"财联社-主流财经新闻集团",
	"上证指数",
	"深证成指",
	"创业板指",
	"电报",
	"盯盘",
	"VIP",
}

// Heuristic counts homepage indicators in rendered HTML.
type Heuristic struct {
	Threshold  int
	Indicators []string
}

// NewHeuristic creates a detector; zero values fall back to the defaults.
func NewHeuristic(threshold int, indicators []string) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if len(indicators) == 0 {
		indicators = DefaultIndicators
	}
	return &Heuristic{Threshold: threshold, Indicators: indicators}
}

// Count returns how many distinct indicators appear in html.
func (h *Heuristic) Count(html string) int {
	if html == "" {
		return 0
	}
	count := 0
	for _, marker := range h.Indicators {
		if marker != "" && strings.Contains(html, marker) {
			count++
		}
	}
	return count
}

// IsHomepage reports whether html looks like the homepage.
func (h *Heuristic) IsHomepage(html string) bool {
	return h.Count(html) >= h.Threshold
}
