package collectors

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/fetch"
	"github.com/ncolesummers/character-prompt-agent/pkg/textproc"
)

const bingQuery = "複数パターン検索（Bing）"

var bingContainerSelectors = []string{"li.b_algo", ".b_algo", "ol#b_results li"}

// BingCollector scrapes Bing result pages and fetches each linked page
type BingCollector struct {
	base
	baseURL string
}

// NewBingCollector creates a Bing collector
func NewBingCollector(deps Deps) *BingCollector {
	deps = deps.withDefaults()
	return &BingCollector{
		base:    newBase(string(domain.BackendBing), deps),
		baseURL: strings.TrimRight(deps.Config.Search.BingBaseURL, "/"),
	}
}

// Collect searches every configured pattern and enriches each hit with its page text
func (c *BingCollector) Collect(ctx context.Context, name string) (*domain.CollectionResult, error) {
	return c.instrument(ctx, bingQuery, func(ctx context.Context) (*domain.CollectionResult, error) {
		patterns := config.ExpandPatterns(c.cfg.Search.Patterns, name)
		if len(patterns) == 0 {
			return domain.NewCollectionResult(nil, bingQuery, c.name), nil
		}
		perPattern := max(1, c.cfg.Search.GoogleResults/len(patterns))

		results, err := c.collectPatterns(ctx, patterns, func(ctx context.Context, pattern string) ([]domain.SearchResult, error) {
			var hits []searchHit
			err := c.retryRateLimited(ctx, pattern, func(ctx context.Context) error {
				var err error
				hits, err = c.search(ctx, pattern, perPattern)
				return err
			})
			if err != nil {
				return nil, err
			}
			return c.enrichHits(ctx, hits, name, pattern)
		}, 2*c.delay)
		if err != nil {
			return domain.NewErrorResult(fmt.Sprintf("Bing検索エラー: %v", err), bingQuery, c.name), err
		}

		c.logger.Info(ctx, "bing search finished", map[string]interface{}{
			"character_name": name,
			"results":        len(results),
		})
		return domain.NewCollectionResult(results, bingQuery, c.name), nil
	})
}

// enrichHits fetches each hit in turn, pausing between pages
func (c *BingCollector) enrichHits(ctx context.Context, hits []searchHit, name, query string) ([]domain.SearchResult, error) {
	results := []domain.SearchResult{}
	for _, hit := range hits {
		if result, ok := c.enrichHit(ctx, hit, name, query); ok {
			results = append(results, result)
		}
		if err := c.pause(ctx, c.delay); err != nil {
			return results, err
		}
	}
	return results, nil
}

// search returns up to maxResults hits for query
func (c *BingCollector) search(ctx context.Context, query string, maxResults int) ([]searchHit, error) {
	params := url.Values{
		"q":       {query},
		"setlang": {"ja"},
		"count":   {strconv.Itoa(min(maxResults, 50))},
	}
	resp, err := c.fetcher.Get(ctx, c.baseURL+"/search?"+params.Encode(), searchPageOptions)
	if err != nil {
		return nil, err
	}
	doc, err := fetch.ParseHTML(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	elements := fetch.QueryAll(doc, bingContainerSelectors[0])
	for _, sel := range bingContainerSelectors[1:] {
		if len(elements) > 0 {
			break
		}
		elements = fetch.QueryAll(doc, sel)
	}
	if len(elements) > maxResults {
		elements = elements[:maxResults]
	}

	hits := []searchHit{}
	for _, el := range elements {
		link := fetch.QueryFirst(el, "h2 a, h3 a, .b_title a")
		if link == nil {
			continue
		}
		title := nodeText(link)
		href := fetch.Attr(link, "href")
		switch {
		case strings.HasPrefix(href, "/"):
			href = c.baseURL + href
		case !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://"):
			continue
		}
		description := nodeText(fetch.QueryFirst(el, ".b_caption p, .b_snippet, .b_descript"))
		if title != "" && href != "" {
			hits = append(hits, searchHit{Title: title, URL: href, Description: description})
		}
	}
	return hits, nil
}

// SearchVideoURLs finds YouTube watch links for name via a site-restricted query
func (c *BingCollector) SearchVideoURLs(ctx context.Context, name string) ([]string, error) {
	urls := []string{}
	if textproc.RuneLen(name) <= 2 {
		return urls, nil
	}

	query := fmt.Sprintf(`"%s" site:youtube.com`, name)
	var hits []searchHit
	err := c.retryRateLimited(ctx, query, func(ctx context.Context) error {
		var err error
		hits, err = c.search(ctx, query, 20)
		return err
	})
	if err != nil {
		c.logger.Warn(ctx, "video url search failed", map[string]interface{}{
			"query": query,
			"error": err.Error(),
		})
		return urls, err
	}

	urls = collectWatchURLs(hits, c.cfg.Search.YouTubeMaxURLs)
	c.logger.Info(ctx, "video url search finished", map[string]interface{}{
		"query": query,
		"urls":  len(urls),
	})
	return urls, c.pause(ctx, c.delay)
}

// collectWatchURLs keeps unique youtube.com/watch?v= links up to limit
func collectWatchURLs(hits []searchHit, limit int) []string {
	urls := []string{}
	seen := make(map[string]bool)
	for _, hit := range hits {
		if limit > 0 && len(urls) >= limit {
			break
		}
		if strings.Contains(hit.URL, "youtube.com/watch?v=") && !seen[hit.URL] {
			seen[hit.URL] = true
			urls = append(urls, hit.URL)
		}
	}
	return urls
}
