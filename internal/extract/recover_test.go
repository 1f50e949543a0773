package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
)

const recoverTeaser = "中国人民银行决定下调金融机构存款准备金率0.5个百分点，释放长期资金约1万亿元。"

func homepageWithTeaser() string {
	return `<html><body>财联社-主流财经新闻集团 上证指数 深证成指 电报
<ul>
<li><a href="/detail/111">其他新闻标题</a><p>其他新闻的摘要内容，这里有足够长的文字来测试不要误取其它文章的摘要。</p></li>
<li><a href="/detail/1690001?from=home">央行宣布降准0.5个百分点</a><p>` + recoverTeaser + `</p></li>
</ul></body></html>`
}

func TestRecoverFromHomepage(t *testing.T) {
	t.Parallel()

	p := New(DefaultConfig(), nil, nil)
	url := "https://www.cls.cn/detail/1690001"
	article, ok := p.Recover(homepageWithTeaser(), url)
	require.True(t, ok)
	assert.Equal(t, "央行宣布降准0.5个百分点", article.Title)
	assert.Equal(t, recoverTeaser, article.Body)
	assert.Equal(t, crawler.StrategyRecovery, article.Strategy)
	assert.Equal(t, crawler.ArticleID(url), article.ID)
}

func TestRecoverRequiresExactDetailMatch(t *testing.T) {
	t.Parallel()

	p := New(DefaultConfig(), nil, nil)
	_, ok := p.Recover(homepageWithTeaser(), "https://www.cls.cn/detail/169000")
	assert.False(t, ok)

	_, ok = p.Recover(homepageWithTeaser(), "https://www.cls.cn/detail/999")
	assert.False(t, ok)
}

func TestRecoverRejectsShortBlocks(t *testing.T) {
	t.Parallel()

	page := `<html><body><div><a href="/detail/5">标题文字</a><span>太短</span></div></body></html>`
	_, ok := New(DefaultConfig(), nil, nil).Recover(page, "https://www.cls.cn/detail/5")
	assert.False(t, ok)
}

func TestMatchesDetail(t *testing.T) {
	t.Parallel()

	assert.True(t, matchesDetail("/detail/12", "/detail/12"))
	assert.True(t, matchesDetail("https://www.cls.cn/detail/12?x=1", "/detail/12"))
	assert.True(t, matchesDetail("/detail/12#top", "/detail/12"))
	assert.False(t, matchesDetail("/detail/123", "/detail/12"))
	assert.False(t, matchesDetail("/depth?id=12", "/detail/12"))
}
