package collectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/fetch"
	"github.com/ncolesummers/character-prompt-agent/pkg/textproc"
	"golang.org/x/net/html"
)

const (
	googleQuery      = "複数パターン検索"
	googleAPIService = "Google Custom Search"
)

// googleAPIHints map structured search API failures to remediation text
var googleAPIHints = map[int]string{
	http.StatusForbidden:       "GOOGLE_API_KEYが無効か、Custom Search APIが有効化されていません",
	http.StatusTooManyRequests: "Google Custom Search APIの1日の利用上限に達しました。--use-bing を試すか時間をおいて再実行してください",
	http.StatusNotFound:        "検索エンジンID（GOOGLE_CX）が正しくありません",
}

// GoogleCollector searches Google through the Custom Search JSON API when
// credentials are configured and by scraping the results page otherwise
type GoogleCollector struct {
	base
	baseURL    string
	apiBaseURL string
	apiKey     string
	cx         string
	pageDelay  time.Duration
	videoDelay time.Duration
}

// NewGoogleCollector creates a Google collector
func NewGoogleCollector(deps Deps) *GoogleCollector {
	deps = deps.withDefaults()
	s := deps.Config.Search
	return &GoogleCollector{
		base:       newBase(string(domain.BackendGoogle), deps),
		baseURL:    strings.TrimRight(s.GoogleBaseURL, "/"),
		apiBaseURL: s.GoogleAPIBaseURL,
		apiKey:     s.GoogleAPIKey,
		cx:         s.GoogleCX,
		pageDelay:  config.Duration(s.GoogleDelay),
		videoDelay: config.Duration(s.YouTubeSearchDelay),
	}
}

// UsesAPI reports whether the structured search API path is active
func (c *GoogleCollector) UsesAPI() bool {
	return c.apiKey != "" && c.cx != ""
}

// Collect searches the Google pattern list and enriches each hit with its page text
func (c *GoogleCollector) Collect(ctx context.Context, name string) (*domain.CollectionResult, error) {
	return c.instrument(ctx, googleQuery, func(ctx context.Context) (*domain.CollectionResult, error) {
		patterns := config.ExpandPatterns(c.cfg.Search.GooglePatterns, name)
		if len(patterns) == 0 {
			return domain.NewCollectionResult(nil, googleQuery, c.name), nil
		}

		total := c.cfg.Search.GoogleResults
		if c.UsesAPI() {
			total = c.cfg.Search.GoogleAPIResults
		}
		perPattern := max(1, total/len(patterns))

		var apiErr *domain.APIError
		results, err := c.collectPatterns(ctx, patterns, func(ctx context.Context, pattern string) ([]domain.SearchResult, error) {
			var hits []searchHit
			err := c.retryRateLimited(ctx, pattern, func(ctx context.Context) error {
				var err error
				hits, err = c.search(ctx, pattern, perPattern)
				return err
			})
			if err != nil {
				if errors.As(err, &apiErr) {
					c.recorder.LogError("google_api_error", err.Error(), map[string]interface{}{
						"status_code": apiErr.StatusCode,
						"hint":        apiErr.Hint,
					})
				}
				return nil, err
			}
			return c.enrichHits(ctx, hits, name, pattern)
		}, c.pageDelay)
		if err != nil {
			return domain.NewErrorResult(fmt.Sprintf("Google検索エラー: %v", err), googleQuery, c.name), err
		}

		result := domain.NewCollectionResult(results, googleQuery, c.name)
		if !result.Found && apiErr != nil {
			result.Error = fmt.Sprintf("Google検索エラー: %v", apiErr)
			return result, apiErr
		}

		c.logger.Info(ctx, "google search finished", map[string]interface{}{
			"character_name": name,
			"results":        len(results),
			"api":            c.UsesAPI(),
		})
		return result, nil
	})
}

func (c *GoogleCollector) enrichHits(ctx context.Context, hits []searchHit, name, query string) ([]domain.SearchResult, error) {
	results := []domain.SearchResult{}
	for _, hit := range hits {
		if result, ok := c.enrichHit(ctx, hit, name, query); ok {
			results = append(results, result)
		}
		if err := c.pause(ctx, c.pageDelay); err != nil {
			return results, err
		}
	}
	return results, nil
}

// search returns up to maxResults hits using the active path
func (c *GoogleCollector) search(ctx context.Context, query string, maxResults int) ([]searchHit, error) {
	if c.UsesAPI() {
		return c.searchAPI(ctx, query, maxResults)
	}
	return c.searchPage(ctx, query, maxResults)
}

type customSearchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

type customSearchError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *GoogleCollector) searchAPI(ctx context.Context, query string, maxResults int) ([]searchHit, error) {
	params := url.Values{
		"key": {c.apiKey},
		"cx":  {c.cx},
		"q":   {query},
		"num": {strconv.Itoa(min(max(1, maxResults), 10))},
	}
	resp, err := c.fetcher.Get(ctx, c.apiBaseURL+"?"+params.Encode(), searchPageOptions)
	if err != nil {
		if status := fetch.StatusCode(err); status != 0 {
			return nil, c.apiError(status, err)
		}
		return nil, err
	}

	var decoded customSearchResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, fmt.Errorf("decode custom search response: %w", err)
	}

	hits := make([]searchHit, 0, len(decoded.Items))
	for _, item := range decoded.Items {
		if item.Link == "" {
			continue
		}
		hits = append(hits, searchHit{Title: item.Title, URL: item.Link, Description: item.Snippet})
		if len(hits) >= maxResults {
			break
		}
	}
	return hits, nil
}

// apiError converts a failed API request into an APIError carrying a hint
func (c *GoogleCollector) apiError(status int, err error) error {
	apiErr := &domain.APIError{
		Service:    googleAPIService,
		StatusCode: status,
		Hint:       googleAPIHints[status],
		Err:        err,
	}
	var statusErr *fetch.StatusError
	if errors.As(err, &statusErr) && len(statusErr.Body) > 0 {
		var body customSearchError
		if json.Unmarshal(statusErr.Body, &body) == nil && body.Error.Message != "" {
			apiErr.Err = fmt.Errorf("%s: %w", body.Error.Message, err)
		}
	}
	return apiErr
}

func (c *GoogleCollector) searchPage(ctx context.Context, query string, maxResults int) ([]searchHit, error) {
	params := url.Values{
		"q":   {query},
		"num": {strconv.Itoa(max(maxResults, 10))},
		"hl":  {"ja"},
	}
	resp, err := c.fetcher.Get(ctx, c.baseURL+"/search?"+params.Encode(), searchPageOptions)
	if err != nil {
		return nil, err
	}
	doc, err := fetch.ParseHTML(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	return parseGoogleResults(doc, maxResults), nil
}

// parseGoogleResults extracts outbound result links. Anchors that wrap a
// heading are preferred; plain external links are used when none exist.
func parseGoogleResults(doc *html.Node, maxResults int) []searchHit {
	var headed, plain []searchHit
	seen := make(map[string]bool)

	for _, a := range fetch.QueryAll(doc, "a[href]") {
		target := googleResultTarget(fetch.Attr(a, "href"))
		if target == "" || seen[target] {
			continue
		}
		if h3 := fetch.QueryFirst(a, "h3"); h3 != nil {
			seen[target] = true
			headed = append(headed, searchHit{Title: nodeText(h3), URL: target})
			continue
		}
		if title := nodeText(a); title != "" {
			plain = append(plain, searchHit{Title: title, URL: target})
		}
	}

	hits := headed
	if len(hits) == 0 {
		hits = plain
	}
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	if hits == nil {
		hits = []searchHit{}
	}
	return hits
}

// googleResultTarget resolves /url?q= redirects and drops Google's own links
func googleResultTarget(href string) string {
	if strings.HasPrefix(href, "/url?") {
		values, err := url.ParseQuery(strings.TrimPrefix(href, "/url?"))
		if err != nil {
			return ""
		}
		href = values.Get("q")
		if href == "" {
			href = values.Get("url")
		}
	}
	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		return ""
	}
	host := domain.DomainOf(href)
	if strings.Contains(host, "google.") || strings.HasSuffix(host, "googleusercontent.com") {
		return ""
	}
	return href
}

// SearchVideoURLs finds YouTube watch links for name via a site-restricted query
func (c *GoogleCollector) SearchVideoURLs(ctx context.Context, name string) ([]string, error) {
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
	return urls, c.pause(ctx, c.videoDelay)
}
