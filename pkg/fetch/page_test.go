package fetch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title> ずんだもん - 解説 </title>
  <meta name="description" content="ずんだもんの口調について">
  <style>.x { color: red }</style>
  <script>var tracking = true;</script>
</head>
<body>
  <header>サイトヘッダー</header>
  <nav>メニュー</nav>
  <article>
    <h1>ずんだもんとは</h1>
    <p>一人称は「ボク」、語尾は「なのだ」。</p>
  </article>
  <footer>コピーライト</footer>
</body>
</html>`

func TestExtractPage(t *testing.T) {
	page, err := ExtractPage([]byte(samplePage), "https://example.com/zunda", PageOptions{})
	require.NoError(t, err)

	assert.Equal(t, "ずんだもん - 解説", page.Title)
	assert.Equal(t, "ずんだもんの口調について", page.Description)
	assert.Contains(t, page.Text, "一人称は「ボク」、語尾は「なのだ」。")
	assert.Contains(t, page.Text, "ずんだもんとは")
	assert.NotContains(t, page.Text, "tracking")
	assert.NotContains(t, page.Text, "color")
	assert.NotContains(t, page.Text, "サイトヘッダー")
	assert.NotContains(t, page.Text, "メニュー")
	assert.NotContains(t, page.Text, "コピーライト")
	assert.NotContains(t, page.Text, "\n")
}

func TestExtractPageCharLimit(t *testing.T) {
	page, err := ExtractPage([]byte(samplePage), "https://example.com/zunda", PageOptions{CharLimit: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, len([]rune(page.Text)))
}

func TestExtractPageMissingTitle(t *testing.T) {
	page, err := ExtractPage([]byte("<p>本文のみ</p>"), "https://example.com", PageOptions{})
	require.NoError(t, err)
	assert.Equal(t, UnknownTitle, page.Title)
	assert.Equal(t, "", page.Description)
	assert.Equal(t, "本文のみ", page.Text)
}

func TestExtractPageReadabilityFallsBack(t *testing.T) {
	page, err := ExtractPage([]byte("<p>短い</p>"), "https://example.com", PageOptions{Readability: true})
	require.NoError(t, err)
	assert.Contains(t, page.Text, "短い")
}

func TestQueryHelpers(t *testing.T) {
	doc, err := ParseHTML([]byte(`<div class="result"><a class="result__a" href="https://a.example">A</a></div>
<div class="result"><a class="result__a" href="https://b.example">B</a></div>`), "text/html")
	require.NoError(t, err)

	results := QueryAll(doc, "div.result")
	require.Len(t, results, 2)

	link := QueryFirst(results[1], "h2 a", "a.result__a")
	require.NotNil(t, link)
	assert.Equal(t, "https://b.example", Attr(link, "href"))
	assert.Equal(t, "B", strings.TrimSpace(NodeText(link)))

	assert.Nil(t, QueryFirst(doc, "span.none"))
	assert.Nil(t, QueryAll(doc, "[[invalid"))
}

func encodeShiftJIS(t *testing.T, s string) []byte {
	t.Helper()
	b, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return b
}

func TestExtractPageDecodesLegacyCharsets(t *testing.T) {
	const doc = `<html><head><meta charset="Shift_JIS"><title>口癖まとめ</title></head>
<body><p>語尾は「なのだ」。</p></body></html>`

	tests := []struct {
		name        string
		body        []byte
		contentType string
	}{
		{name: "meta charset", body: encodeShiftJIS(t, doc), contentType: "text/html"},
		{name: "header charset", body: encodeShiftJIS(t, strings.Replace(doc, `<meta charset="Shift_JIS">`, "", 1)), contentType: "text/html; charset=Shift_JIS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := ExtractPage(tt.body, "https://example.com/kuchiguse", PageOptions{ContentType: tt.contentType})
			require.NoError(t, err)
			assert.Equal(t, "口癖まとめ", page.Title)
			assert.Contains(t, page.Text, "なのだ")
		})
	}
}

func TestExtractPageDecodesEUCJP(t *testing.T) {
	body, err := japanese.EUCJP.NewEncoder().Bytes([]byte(`<p>ボクはずんだもんなのだ</p>`))
	require.NoError(t, err)

	page, err := ExtractPage(body, "https://example.com", PageOptions{ContentType: "text/html; charset=EUC-JP"})
	require.NoError(t, err)
	assert.Contains(t, page.Text, "ボクはずんだもんなのだ")
}

func TestDecodeHTMLKeepsUTF8(t *testing.T) {
	body := []byte(strings.Repeat("<!-- padding -->", 100) + "<p>一人称はボク</p>")
	assert.Equal(t, body, DecodeHTML(body, "text/html"))
}

func TestParseHTMLUsesContentType(t *testing.T) {
	doc, err := ParseHTML(encodeShiftJIS(t, `<a href="/w">ずんだもん</a>`), "text/html; charset=shift_jis")
	require.NoError(t, err)
	assert.Equal(t, "ずんだもん", NodeText(QueryFirst(doc, "a")))
}
