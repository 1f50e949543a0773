package extract

import (
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	invisibleReplacer = strings.NewReplacer("\u200b", " ", "\u00a0", " ")
)

// CleanText strips markup from an HTML fragment, decodes entities, replaces
// zero-width and non-breaking spaces, and collapses whitespace.
func CleanText(fragment string) string {
	if fragment == "" {
		return ""
	}
	text := tagPattern.ReplaceAllString(fragment, "")
	text = html.UnescapeString(text)
	text = invisibleReplacer.Replace(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// TextLines tokenizes a document and returns its visible text split into
// trimmed lines. Every tag boundary starts a new line; script, style and
// noscript contents are dropped.
func TextLines(doc string) []string {
	z := xhtml.NewTokenizer(strings.NewReader(doc))
	var (
		lines   []string
		current strings.Builder
		skip    int
	)
	flush := func() {
		for _, part := range strings.Split(current.String(), "\n") {
			part = strings.TrimSpace(invisibleReplacer.Replace(part))
			if part != "" {
				lines = append(lines, part)
			}
		}
		current.Reset()
	}
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			flush()
			return lines
		case xhtml.StartTagToken:
			if hidden(z) {
				skip++
			}
			flush()
		case xhtml.EndTagToken:
			if hidden(z) && skip > 0 {
				skip--
			}
			flush()
		case xhtml.SelfClosingTagToken:
			flush()
		case xhtml.TextToken:
			if skip == 0 {
				current.Write(z.Text())
			}
		}
	}
}

func hidden(z *xhtml.Tokenizer) bool {
	name, _ := z.TagName()
	switch atom.Lookup(name) {
	case atom.Script, atom.Style, atom.Noscript, atom.Template:
		return true
	}
	return false
}

// runeLen counts characters, not bytes.
func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func isHan(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// trimToHan drops leading and trailing runes outside the Han script.
func trimToHan(s string) string {
	return strings.TrimFunc(s, func(r rune) bool { return !isHan(r) })
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, p := range suffixes {
		if strings.HasSuffix(s, p) {
			return true
		}
	}
	return false
}
