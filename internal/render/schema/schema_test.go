package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingHTML = `<html><body>
<div class="list">
  <a href="/detail/2040068"> 特朗普金卡计划 </a>
  <a href="/detail/2040052">哈佛国际学生</a>
  <a href="/telegraph">电报</a>
</div>
</body></html>`

func TestApplyDetailLinks(t *testing.T) {
	t.Parallel()

	raw, err := Apply(*DetailLinks(""), listingHTML)
	require.NoError(t, err)

	var items []struct {
		AllLinks []struct {
			Href string `json:"href"`
			Text string `json:"text"`
		} `json:"all_links"`
	}
	require.NoError(t, json.Unmarshal(raw, &items))
	require.Len(t, items, 1)
	require.Len(t, items[0].AllLinks, 2)
	assert.Equal(t, "/detail/2040068", items[0].AllLinks[0].Href)
	assert.Equal(t, "特朗普金卡计划", items[0].AllLinks[0].Text)
	assert.Equal(t, "/detail/2040052", items[0].AllLinks[1].Href)
}

func TestApplyNoMatchesYieldsEmptyList(t *testing.T) {
	t.Parallel()

	raw, err := Apply(*DetailLinks(""), "<html><body><p>nothing</p></body></html>")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"all_links":[]}]`, string(raw))
}
