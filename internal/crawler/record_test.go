package crawler

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArticleToRecordFallbacks(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 20, 9, 30, 0, 0, time.UTC)
	body := strings.Repeat("财", 250)
	rec := Article{
		Body:      body,
		Category:  "头条",
		SourceURL: "https://www.cls.cn/detail/99",
	}.ToRecord(now)

	assert.Equal(t, "财联社新闻_99", rec.Title)
	assert.Equal(t, DefaultAuthor, rec.Author)
	assert.Equal(t, "2025-05-20 09:30:00", rec.Date)
	assert.Equal(t, "2025-05-20", rec.Time)
	assert.Equal(t, ArticleID("https://www.cls.cn/detail/99"), rec.ID)
	assert.Equal(t, "头条", rec.Type)
	assert.Equal(t, 0, rec.ReadNumber)
	assert.Equal(t, strings.Repeat("财", 200)+"...", rec.Abstract)
}

func TestAbstractShortBodyUnchanged(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "短正文", Abstract("短正文"))
}

func TestMergeKeepsNonEmptyFields(t *testing.T) {
	t.Parallel()

	existing := Record{ID: "a", Title: "旧标题", Content: "旧正文", Author: "记者甲", ReadNumber: 3}
	merged := Merge(existing, Record{ID: "a", Title: "新标题", Content: "  ", Author: ""})

	assert.Equal(t, "新标题", merged.Title)
	assert.Equal(t, "旧正文", merged.Content)
	assert.Equal(t, "记者甲", merged.Author)
	assert.Equal(t, 3, merged.ReadNumber)
}
