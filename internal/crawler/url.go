package crawler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/cls-news-crawler/internal/hash/md5"
)

// NormalizeURL standardizes a URL so one article always maps to one id.
// It lowercases the scheme and host, removes default ports, sorts query
// parameters and drops fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}

// ResolveLink joins href against base and normalizes the result.
func ResolveLink(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("empty href")
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	return NormalizeURL(base.ResolveReference(ref).String())
}

// ArticleID is the content-independent id of an article: the hex MD5 of its
// canonical URL. Unparseable URLs hash as given.
func ArticleID(rawURL string) string {
	canonical, err := NormalizeURL(rawURL)
	if err != nil {
		canonical = strings.TrimSpace(rawURL)
	}
	return md5.Sum(canonical)
}

// DetailID returns the trailing path segment of a /detail/<id> URL.
func DetailID(rawURL string) string {
	u, err := url.Parse(rawURL)
	path := rawURL
	if err == nil {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// LinkMap flattens discovered links into a URL to category mapping.
func LinkMap(links []ArticleLink) map[string]string {
	out := make(map[string]string, len(links))
	for _, link := range links {
		if _, ok := out[link.URL]; !ok {
			out[link.URL] = link.Category
		}
	}
	return out
}
