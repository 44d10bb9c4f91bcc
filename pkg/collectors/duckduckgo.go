package collectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/fetch"
	"github.com/ncolesummers/character-prompt-agent/pkg/textproc"
	"golang.org/x/net/html"
)

const duckDuckGoQuery = "複数パターン検索（DuckDuckGo）"

// searchPageOptions are used for search engine result pages
var searchPageOptions = &fetch.Options{MaxRetries: 1, Timeout: 15 * time.Second}

// duckDuckGoSelectors are tried in order until one yields results
var duckDuckGoSelectors = []struct {
	container, title, description string
}{
	{"div.result", "a.result__a", "a.result__snippet"},
	{"div.web-result", "a.result__link", ".result__snippet"},
	{"div.results_links", "a", ".result__snippet"},
	{".result", "a", ".snippet"},
}

// DuckDuckGoCollector scrapes DuckDuckGo result pages. Results are built
// from snippets only; linked pages are not fetched.
type DuckDuckGoCollector struct {
	base
	baseURL string
}

// NewDuckDuckGoCollector creates a DuckDuckGo collector
func NewDuckDuckGoCollector(deps Deps) *DuckDuckGoCollector {
	deps = deps.withDefaults()
	return &DuckDuckGoCollector{
		base:    newBase(string(domain.BackendDuckDuckGo), deps),
		baseURL: strings.TrimRight(deps.Config.Search.DuckDuckGoBaseURL, "/"),
	}
}

// Collect searches every configured pattern
func (c *DuckDuckGoCollector) Collect(ctx context.Context, name string) (*domain.CollectionResult, error) {
	return c.instrument(ctx, duckDuckGoQuery, func(ctx context.Context) (*domain.CollectionResult, error) {
		patterns := config.ExpandPatterns(c.cfg.Search.Patterns, name)
		results, err := c.collectPatterns(ctx, patterns, func(ctx context.Context, pattern string) ([]domain.SearchResult, error) {
			var found []domain.SearchResult
			err := c.retryRateLimited(ctx, pattern, func(ctx context.Context) error {
				var err error
				found, err = c.searchPattern(ctx, pattern, name)
				return err
			})
			return found, err
		}, c.delay)
		if err != nil {
			return domain.NewErrorResult(fmt.Sprintf("DuckDuckGo検索エラー: %v", err), duckDuckGoQuery, c.name), err
		}

		c.logger.Info(ctx, "duckduckgo search finished", map[string]interface{}{
			"character_name": name,
			"results":        len(results),
		})
		return domain.NewCollectionResult(results, duckDuckGoQuery, c.name), nil
	})
}

// searchPattern tries the HTML, Lite and plain endpoints in order
func (c *DuckDuckGoCollector) searchPattern(ctx context.Context, query, name string) ([]domain.SearchResult, error) {
	strategies := []struct {
		label string
		path  string
		query url.Values
		parse func(*html.Node, string, string) []domain.SearchResult
	}{
		{"html", "/html/", url.Values{"q": {query}, "kl": {"jp-jp"}}, parseDuckDuckGoHTML},
		{"lite", "/lite/", url.Values{"q": {query}, "kl": {"jp-jp"}}, parseDuckDuckGoLite},
		{"simple", "/", url.Values{"q": {query}, "ia": {"web"}}, parseDuckDuckGoSimple},
	}

	for _, s := range strategies {
		doc, err := c.fetchResultsPage(ctx, c.baseURL+s.path+"?"+s.query.Encode())
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) || ctx.Err() != nil {
				return nil, err
			}
			c.logger.Debug(ctx, "duckduckgo strategy failed", map[string]interface{}{
				"strategy": s.label,
				"error":    err.Error(),
			})
			continue
		}
		if doc == nil {
			continue
		}

		results := s.parse(doc, name, query)
		if len(results) > 0 {
			c.logger.Debug(ctx, "duckduckgo strategy succeeded", map[string]interface{}{
				"strategy": s.label,
				"results":  len(results),
			})
			return results, nil
		}
	}
	return []domain.SearchResult{}, nil
}

// fetchResultsPage returns nil without error when the page is not a plain 200
func (c *DuckDuckGoCollector) fetchResultsPage(ctx context.Context, target string) (*html.Node, error) {
	resp, err := c.fetcher.Get(ctx, target, searchPageOptions)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	return fetch.ParseHTML(resp.Body, resp.Header.Get("Content-Type"))
}

func parseDuckDuckGoHTML(doc *html.Node, name, query string) []domain.SearchResult {
	results := []domain.SearchResult{}

	for _, sel := range duckDuckGoSelectors {
		elements := fetch.QueryAll(doc, sel.container)
		if len(elements) > 10 {
			elements = elements[:10]
		}
		for _, el := range elements {
			link := fetch.QueryFirst(el, sel.title)
			if link == nil {
				continue
			}
			title := nodeText(link)
			href := decodeDuckDuckGoRedirect(fetch.Attr(link, "href"))
			description := nodeText(fetch.QueryFirst(el, sel.description))
			if title == "" || href == "" {
				continue
			}
			results = append(results, snippetResult(href, title, description, description+" "+title, name, query))
		}
		if len(results) > 0 {
			return results
		}
	}

	for i, link := range fetch.QueryAll(doc, "a[href]") {
		if i >= 20 {
			break
		}
		href := fetch.Attr(link, "href")
		title := nodeText(link)
		if strings.HasPrefix(href, "http") && !strings.Contains(href, "duckduckgo") && textproc.RuneLen(title) > 5 {
			results = append(results, snippetResult(href, title, title, title, name, query))
			if len(results) >= 5 {
				break
			}
		}
	}
	return results
}

func parseDuckDuckGoLite(doc *html.Node, name, query string) []domain.SearchResult {
	results := []domain.SearchResult{}
	for _, link := range fetch.QueryAll(doc, "a") {
		href := fetch.Attr(link, "href")
		title := nodeText(link)
		if strings.HasPrefix(href, "http") && textproc.RuneLen(title) > 5 {
			results = append(results, snippetResult(href, title, title, title, name, query))
			if len(results) >= 10 {
				break
			}
		}
	}
	return results
}

func parseDuckDuckGoSimple(doc *html.Node, name, query string) []domain.SearchResult {
	results := []domain.SearchResult{}
	lowerName := strings.ToLower(name)
	for _, link := range fetch.QueryAll(doc, "a[href]") {
		href := fetch.Attr(link, "href")
		title := nodeText(link)
		if strings.HasPrefix(href, "http") &&
			!strings.Contains(href, "duckduckgo") &&
			textproc.RuneLen(title) > 10 &&
			strings.Contains(strings.ToLower(title), lowerName) {
			results = append(results, snippetResult(href, title, title, title, name, query))
			if len(results) >= 5 {
				break
			}
		}
	}
	return results
}

// decodeDuckDuckGoRedirect unwraps //duckduckgo.com/l/?uddg=<target> links
func decodeDuckDuckGoRedirect(href string) string {
	if !strings.HasPrefix(href, "//duckduckgo.com/l/?uddg=") {
		return href
	}
	encoded := strings.SplitN(href, "uddg=", 2)[1]
	if i := strings.Index(encoded, "&"); i >= 0 {
		encoded = encoded[:i]
	}
	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return encoded
	}
	return decoded
}

// snippetResult builds a result whose content is the search snippet itself
func snippetResult(href, title, description, patternText, name, query string) domain.SearchResult {
	r := domain.NewSearchResult(href, title, description, description)
	r.SpeechPatterns = textproc.ExtractBasicPatterns(patternText, name)
	r.Source = string(domain.BackendDuckDuckGo)
	r.SearchQuery = query
	return r
}

// nodeText returns the text of n with whitespace runs collapsed
func nodeText(n *html.Node) string {
	return strings.Join(strings.Fields(fetch.NodeText(n)), " ")
}
