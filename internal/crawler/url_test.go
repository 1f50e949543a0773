package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "already canonical", in: "https://www.cls.cn/detail/2040068", want: "https://www.cls.cn/detail/2040068"},
		{name: "host case and port", in: "HTTPS://WWW.CLS.CN:443/detail/1", want: "https://www.cls.cn/detail/1"},
		{name: "fragment dropped", in: "https://www.cls.cn/detail/1#comments", want: "https://www.cls.cn/detail/1"},
		{name: "query sorted", in: "https://www.cls.cn/depth?id=1000&a=1", want: "https://www.cls.cn/depth?a=1&id=1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NormalizeURL("/detail/1")
	require.Error(t, err)
}

func TestArticleIDStable(t *testing.T) {
	t.Parallel()

	a := ArticleID("https://www.cls.cn/detail/2040068")
	b := ArticleID("https://WWW.cls.cn/detail/2040068#top")
	c := ArticleID("https://www.cls.cn/detail/2040052")

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, ArticleID("https://www.cls.cn/detail/2040068"))
}

func TestResolveLinkAndDetailID(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://www.cls.cn")
	require.NoError(t, err)

	got, err := ResolveLink(base, "/detail/123")
	require.NoError(t, err)
	assert.Equal(t, "https://www.cls.cn/detail/123", got)
	assert.Equal(t, "123", DetailID(got))

	_, err = ResolveLink(base, "  ")
	require.Error(t, err)
}

func TestLinkMapFirstCategoryWins(t *testing.T) {
	t.Parallel()

	m := LinkMap([]ArticleLink{
		{URL: "https://www.cls.cn/detail/1", Category: "头条"},
		{URL: "https://www.cls.cn/detail/1", Category: "A股"},
		{URL: "https://www.cls.cn/detail/2", Category: "环球"},
	})
	assert.Equal(t, map[string]string{
		"https://www.cls.cn/detail/1": "头条",
		"https://www.cls.cn/detail/2": "环球",
	}, m)
}
