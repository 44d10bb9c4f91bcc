package fetch

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"
	"github.com/ncolesummers/character-prompt-agent/pkg/textproc"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// UnknownTitle is used when a page has no <title>
const UnknownTitle = "不明"

// Page is the text extracted from one HTML document
type Page struct {
	URL         string
	Title       string
	Description string
	Text        string
}

// PageOptions controls page extraction
type PageOptions struct {
	// CharLimit caps Text in runes when positive
	CharLimit int
	// Readability extracts the main article instead of the whole body
	Readability bool
	// ContentType is the response Content-Type header, used to pick the
	// charset before falling back to <meta charset> sniffing
	ContentType string
}

var strippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Noscript: true,
}

// ExtractPage parses body and returns its title, meta description and cleaned text
func ExtractPage(body []byte, pageURL string, opts PageOptions) (*Page, error) {
	body = DecodeHTML(body, opts.ContentType)
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	page := &Page{
		URL:         pageURL,
		Title:       UnknownTitle,
		Description: metaDescription(doc),
	}
	if title := QueryFirst(doc, "title"); title != nil {
		if t := strings.TrimSpace(NodeText(title)); t != "" {
			page.Title = t
		}
	}

	var text string
	if opts.Readability {
		text = articleText(body, pageURL)
	}
	if text == "" {
		text = visibleText(doc)
	}
	page.Text = textproc.CleanText(text, opts.CharLimit)

	return page, nil
}

func articleText(body []byte, pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		return ""
	}
	return article.TextContent
}

func metaDescription(doc *html.Node) string {
	for _, n := range QueryAll(doc, "meta") {
		if strings.EqualFold(Attr(n, "name"), "description") {
			return strings.TrimSpace(Attr(n, "content"))
		}
	}
	return ""
}

// visibleText collects every text node outside script, style and page chrome
func visibleText(doc *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && strippedElements[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}

// DecodeHTML converts body to UTF-8. A charset in contentType wins; a BOM
// or <meta charset> is used when body is not already valid UTF-8. body is
// returned unchanged when no decoder applies.
func DecodeHTML(body []byte, contentType string) []byte {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" || (!certain && utf8.Valid(body)) {
		return body
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return decoded
}

// ParseHTML decodes body to UTF-8 and parses it
func ParseHTML(body []byte, contentType string) (*html.Node, error) {
	doc, err := html.Parse(bytes.NewReader(DecodeHTML(body, contentType)))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

var selectorCache sync.Map

func compile(selector string) cascadia.Selector {
	if cached, ok := selectorCache.Load(selector); ok {
		return cached.(cascadia.Selector)
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil
	}
	selectorCache.Store(selector, sel)
	return sel
}

// QueryAll returns every node under n matching the CSS selector
func QueryAll(n *html.Node, selector string) []*html.Node {
	sel := compile(selector)
	if sel == nil || n == nil {
		return nil
	}
	return sel.MatchAll(n)
}

// QueryFirst returns the first match of the first selector that matches anything
func QueryFirst(n *html.Node, selectors ...string) *html.Node {
	if n == nil {
		return nil
	}
	for _, selector := range selectors {
		sel := compile(selector)
		if sel == nil {
			continue
		}
		if found := sel.MatchFirst(n); found != nil {
			return found
		}
	}
	return nil
}

// NodeText returns the concatenated text content of n
func NodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// Attr returns the value of attribute key on n
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
