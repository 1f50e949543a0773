package crawler

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	abstractRunes = 200
	// DefaultAuthor is used when no byline could be extracted.
	DefaultAuthor = "财联社"
	// FallbackTitlePrefix prefixes the detail id when no title was found.
	FallbackTitlePrefix = "财联社新闻_"
)

// ToRecord converts an accepted Article into its persisted form. now is the
// crawl time and backs the date when the article carried none.
func (a Article) ToRecord(now time.Time) Record {
	title := strings.TrimSpace(a.Title)
	if title == "" {
		title = FallbackTitlePrefix + DetailID(a.SourceURL)
	}
	author := strings.TrimSpace(a.Author)
	if author == "" {
		author = DefaultAuthor
	}
	published := a.PublishedAt
	if published.IsZero() {
		published = now
	}
	id := a.ID
	if id == "" {
		id = ArticleID(a.SourceURL)
	}
	return Record{
		Title:      title,
		Abstract:   Abstract(a.Body),
		Date:       published.Format(DateTimeLayout),
		Link:       a.SourceURL,
		Content:    a.Body,
		ID:         id,
		Type:       a.Category,
		Author:     author,
		ReadNumber: 0,
		Time:       now.Format(DayLayout),
	}
}

// Abstract returns the first 200 runes of body, with an ellipsis when cut.
func Abstract(body string) string {
	if utf8.RuneCountInString(body) <= abstractRunes {
		return body
	}
	runes := []rune(body)
	return string(runes[:abstractRunes]) + "..."
}

// Merge overlays rec onto existing without letting empty fields erase data.
func Merge(existing, rec Record) Record {
	out := existing
	pick := func(dst *string, src string) {
		if strings.TrimSpace(src) != "" {
			*dst = src
		}
	}
	out.ID = rec.ID
	pick(&out.Title, rec.Title)
	pick(&out.Abstract, rec.Abstract)
	pick(&out.Date, rec.Date)
	pick(&out.Link, rec.Link)
	pick(&out.Content, rec.Content)
	pick(&out.Type, rec.Type)
	pick(&out.Author, rec.Author)
	pick(&out.Time, rec.Time)
	if rec.ReadNumber > out.ReadNumber {
		out.ReadNumber = rec.ReadNumber
	}
	return out
}
