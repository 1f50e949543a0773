package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
)

const (
	titleScanLines  = 50
	titleMinRunes   = 8
	titleMaxRunes   = 150
	bodyMinLine     = 15
	bodyStartRunes  = 30
	bodyCollectCap  = 20
	bodyKeepLines   = 15
	authorMaxRunes  = 10
	titlePunctRunes = "、：，！？\"“”"
)

var (
	boilerplatePrefixes = []string{"关于我们", "网站声明", "联系方式", "用户反馈", "财联社-主流财经新闻集团", "http", "www"}
	navPrefixes         = []string{"关于我们", "网站声明", "联系方式", "用户反馈", "帮助", "首页", "电报", "话题", "盯盘", "VIP"}
	trailerPrefixes     = []string{"收藏", "阅读", "我要评论", "反馈意见", "要闻", "股市", "查看更多", "关联话题"}
	domainSuffixes      = []string{".com", ".cn"}

	datePrefixPattern = regexp.MustCompile(`^\d+[-年月日时分秒\s:：]+`)
	digitsPattern     = regexp.MustCompile(`^\d+$`)

	fullTimePattern  = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日\s*(\d{1,2}):(\d{2})`)
	dashTimePattern  = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})\s+(\d{1,2}):(\d{2})`)
	shortTimePattern = regexp.MustCompile(`(\d{1,2})月(\d{1,2})日\s*(\d{1,2}):(\d{2})`)
	dayPattern       = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`)

	authorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`财联社记者\s+([^\s<>]+)`),
		regexp.MustCompile(`财联社\s+([^\s<>]+)`),
		regexp.MustCompile(`记者\s+([^\s<>]+)`),
		regexp.MustCompile(`编辑\s+([^\s<>]+)`),
	}
)

// textStrategy reads the page as plain lines.
type textStrategy struct {
	loc *time.Location
	now func() time.Time
}

func (s textStrategy) name() crawler.Strategy { return crawler.StrategyText }

func (s textStrategy) extract(doc, _ string) candidate {
	lines := TextLines(doc)
	joined := strings.Join(lines, "\n")
	return candidate{
		Title:       pickTitle(lines),
		Body:        pickBody(lines),
		PublishedAt: parseTime(joined, s.loc, s.now()),
		Author:      parseAuthor(joined),
	}
}

// pickTitle returns the first short punctuated line that is not boilerplate,
// trimmed to its Han span.
func pickTitle(lines []string) string {
	if len(lines) > titleScanLines {
		lines = lines[:titleScanLines]
	}
	for _, line := range lines {
		n := runeLen(line)
		if n < titleMinRunes || n > titleMaxRunes {
			continue
		}
		if hasAnyPrefix(line, boilerplatePrefixes) || hasAnySuffix(line, domainSuffixes) {
			continue
		}
		if strings.Contains(line, "©") || strings.Contains(line, "版权") || strings.Count(line, "|") >= 2 {
			continue
		}
		if !strings.ContainsAny(line, titlePunctRunes) {
			continue
		}
		if digitsPattern.MatchString(line) || datePrefixPattern.MatchString(line) {
			continue
		}
		if title := trimToHan(line); runeLen(title) >= titleMinRunes {
			return title
		}
	}
	return ""
}

// pickBody collects article lines once a body-start line is seen.
func pickBody(lines []string) string {
	var (
		collected []string
		started   bool
	)
	for _, line := range lines {
		n := runeLen(line)
		if hasAnyPrefix(line, navPrefixes) ||
			strings.Contains(line, "上证指数") || strings.Contains(line, "深证成指") ||
			strings.Contains(line, "©") || strings.Contains(line, "版权所有") ||
			n < bodyMinLine {
			continue
		}
		if isBodyStart(line, n) {
			started = true
		}
		if started && n > bodyMinLine && !hasAnyPrefix(line, trailerPrefixes) && !hasAnySuffix(line, domainSuffixes) {
			collected = append(collected, line)
		}
		if len(collected) > bodyCollectCap {
			break
		}
	}
	if len(collected) > bodyKeepLines {
		collected = collected[:bodyKeepLines]
	}
	return strings.Join(collected, "\n")
}

func isBodyStart(line string, n int) bool {
	if strings.Contains(line, "财联社") && (strings.Contains(line, "日讯") || strings.Contains(line, "电")) {
		return true
	}
	return n > bodyStartRunes &&
		(strings.Contains(line, "。") || strings.Contains(line, "，")) &&
		!strings.HasPrefix(line, "http") && !strings.HasPrefix(line, "www")
}

// parseTime finds the first recognizable publish time in text. Dates without a
// year take the year of now. The zero time means none was found.
func parseTime(text string, loc *time.Location, now time.Time) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	if m := fullTimePattern.FindStringSubmatch(text); m != nil {
		return buildTime(loc, m[1], m[2], m[3], m[4], m[5])
	}
	if m := dashTimePattern.FindStringSubmatch(text); m != nil {
		return buildTime(loc, m[1], m[2], m[3], m[4], m[5])
	}
	if m := shortTimePattern.FindStringSubmatch(text); m != nil {
		return buildTime(loc, strconv.Itoa(now.In(loc).Year()), m[1], m[2], m[3], m[4])
	}
	if m := dayPattern.FindStringSubmatch(text); m != nil {
		return buildTime(loc, m[1], m[2], m[3], "0", "0")
	}
	return time.Time{}
}

func buildTime(loc *time.Location, parts ...string) time.Time {
	var v [5]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}
		}
		v[i] = n
	}
	if v[1] < 1 || v[1] > 12 || v[2] < 1 || v[2] > 31 || v[3] > 23 || v[4] > 59 {
		return time.Time{}
	}
	return time.Date(v[0], time.Month(v[1]), v[2], v[3], v[4], 0, 0, loc)
}

// parseAuthor returns a short byline name, or empty when none matches.
func parseAuthor(text string) string {
	for _, p := range authorPatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if author := strings.TrimSpace(m[1]); author != "" && runeLen(author) < authorMaxRunes {
			return author
		}
	}
	return ""
}
