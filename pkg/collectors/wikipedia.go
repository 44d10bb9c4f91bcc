package collectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/textproc"
)

var errPageMissing = errors.New("page does not exist")

// WikipediaCollector looks a name up through the MediaWiki API and resolves
// disambiguation pages by scoring the linked candidates
type WikipediaCollector struct {
	base
	apiURL string
	wiki   config.WikipediaConfig
}

// NewWikipediaCollector creates a Wikipedia collector
func NewWikipediaCollector(deps Deps) *WikipediaCollector {
	deps = deps.withDefaults()
	wiki := deps.Config.Wikipedia
	baseURL := wiki.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.wikipedia.org", wiki.Language)
	}
	return &WikipediaCollector{
		base:   newBase("wikipedia", deps),
		apiURL: strings.TrimRight(baseURL, "/") + "/w/api.php",
		wiki:   wiki,
	}
}

// wikiPage is the subset of a MediaWiki page record that is used
type wikiPage struct {
	Title      string `json:"title"`
	Extract    string `json:"extract"`
	FullURL    string `json:"fullurl"`
	Missing    *bool  `json:"missing,omitempty"`
	Categories []struct {
		Title string `json:"title"`
	} `json:"categories"`
	Links []struct {
		Title string `json:"title"`
	} `json:"links"`
	PageProps map[string]string `json:"pageprops"`
}

func (p *wikiPage) isDisambiguation() bool {
	_, ok := p.PageProps["disambiguation"]
	return ok
}

type wikiQueryResponse struct {
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
		Pages []wikiPage `json:"pages"`
	} `json:"query"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error,omitempty"`
}

// Collect searches for name and returns the best matching article
func (c *WikipediaCollector) Collect(ctx context.Context, name string) (*domain.CollectionResult, error) {
	return c.instrument(ctx, name, func(ctx context.Context) (*domain.CollectionResult, error) {
		titles, err := c.search(ctx, name)
		if err != nil {
			return c.errorResult(fmt.Sprintf("Wikipedia取得エラー: %v", err), name), err
		}
		if len(titles) == 0 {
			return c.errorResult(fmt.Sprintf("'%s'に関するWikipediaページが見つかりませんでした", name), name), nil
		}

		page, err := c.page(ctx, titles[0])
		if errors.Is(err, errPageMissing) {
			return c.errorResult(fmt.Sprintf("'%s'のWikipediaページが存在しません", name), name), nil
		}
		if err != nil {
			return c.errorResult(fmt.Sprintf("Wikipedia取得エラー: %v", err), name), err
		}

		if !page.isDisambiguation() {
			return c.pageResult(page, name), nil
		}
		return c.resolveDisambiguation(ctx, page, name)
	})
}

// resolveDisambiguation picks the highest scoring linked candidate
func (c *WikipediaCollector) resolveDisambiguation(ctx context.Context, page *wikiPage, name string) (*domain.CollectionResult, error) {
	options := make([]string, 0, len(page.Links))
	for _, link := range page.Links {
		options = append(options, link.Title)
	}
	ranked := RankCandidates(options, name, c.wiki)
	if len(ranked) == 0 {
		return c.errorResult(fmt.Sprintf("曖昧さ回避エラー: %s に候補がありません", page.Title), name), nil
	}

	c.logger.Info(ctx, "resolving disambiguation page", map[string]interface{}{
		"page":       page.Title,
		"candidates": len(ranked),
		"selected":   ranked[0],
	})

	chosen, err := c.page(ctx, ranked[0])
	if err != nil {
		result := c.errorResult(fmt.Sprintf("曖昧さ回避エラー: %v", err), name)
		result.OtherOptions = limitStrings(ranked, 5)
		return result, nil
	}

	result := c.pageResult(chosen, name)
	result.Error = fmt.Sprintf("曖昧さ回避: %s を選択しました", ranked[0])
	result.OtherOptions = limitStrings(ranked[1:], c.wiki.MaxOtherOptions)
	return result, nil
}

// RankCandidates orders disambiguation candidates by how likely they are to
// describe a fictional character. Ties keep their original order.
func RankCandidates(candidates []string, name string, policy config.WikipediaConfig) []string {
	type scored struct {
		title string
		score int
	}
	list := make([]scored, 0, len(candidates))
	for _, title := range candidates {
		list = append(list, scored{title: title, score: ScoreCandidate(title, name, policy)})
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].score > list[j].score
	})

	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.title)
	}
	return out
}

// ScoreCandidate applies the configurable bonus and penalty keyword policy
func ScoreCandidate(title, name string, policy config.WikipediaConfig) int {
	score := 0
	if name != "" && strings.Contains(strings.ToLower(title), strings.ToLower(name)) {
		score += policy.NameMatchBonus
	}
	for _, kw := range policy.BonusKeywords {
		if strings.Contains(title, kw) {
			score += policy.KeywordBonus
		}
	}
	for _, kw := range policy.PenaltyKeywords {
		if strings.Contains(title, kw) {
			score -= policy.KeywordPenalty
		}
	}
	return score
}

func (c *WikipediaCollector) search(ctx context.Context, name string) ([]string, error) {
	params := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {name},
		"srlimit":  {strconv.Itoa(c.wiki.SearchResults)},
	}
	var resp wikiQueryResponse
	if err := c.query(ctx, params, &resp); err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(resp.Query.Search))
	for _, s := range resp.Query.Search {
		titles = append(titles, s.Title)
	}
	return titles, nil
}

func (c *WikipediaCollector) page(ctx context.Context, title string) (*wikiPage, error) {
	params := url.Values{
		"action":      {"query"},
		"titles":      {title},
		"prop":        {"extracts|categories|info|pageprops|links"},
		"explaintext": {"1"},
		"inprop":      {"url"},
		"cllimit":     {"max"},
		"clshow":      {"!hidden"},
		"pllimit":     {"max"},
		"plnamespace": {"0"},
		"redirects":   {"1"},
	}
	var resp wikiQueryResponse
	if err := c.query(ctx, params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Query.Pages) == 0 || resp.Query.Pages[0].Missing != nil {
		return nil, fmt.Errorf("%q: %w", title, errPageMissing)
	}
	return &resp.Query.Pages[0], nil
}

func (c *WikipediaCollector) query(ctx context.Context, params url.Values, out *wikiQueryResponse) error {
	params.Set("format", "json")
	params.Set("formatversion", "2")
	params.Set("utf8", "1")

	resp, err := c.fetcher.Get(ctx, c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode mediawiki response: %w", err)
	}
	if out.Error != nil {
		return fmt.Errorf("mediawiki %s: %s", out.Error.Code, out.Error.Info)
	}
	return nil
}

// pageResult converts an article into a single-item result
func (c *WikipediaCollector) pageResult(page *wikiPage, name string) *domain.CollectionResult {
	summary := introSection(page.Extract)
	result := domain.NewSearchResult(
		page.FullURL,
		page.Title,
		textproc.Truncate(summary, c.wiki.SummaryLimit),
		textproc.Truncate(page.Extract, c.wiki.ContentLimit),
	)
	result.Source = c.name
	result.SearchQuery = name

	categories := make([]string, 0, len(page.Categories))
	for _, cat := range page.Categories {
		categories = append(categories, stripNamespace(cat.Title))
	}
	result.Categories = limitStrings(categories, c.wiki.MaxCategories)

	return domain.NewCollectionResult([]domain.SearchResult{result}, name, c.name)
}

func (c *WikipediaCollector) errorResult(message, name string) *domain.CollectionResult {
	return domain.NewErrorResult(message, name, c.name)
}

// introSection returns the text before the first section heading
func introSection(extract string) string {
	if i := strings.Index(extract, "\n=="); i >= 0 {
		return strings.TrimSpace(extract[:i])
	}
	return strings.TrimSpace(extract)
}

// stripNamespace removes a "Category:" style prefix
func stripNamespace(title string) string {
	if i := strings.Index(title, ":"); i >= 0 {
		return title[i+1:]
	}
	return title
}

func limitStrings(values []string, n int) []string {
	if n >= 0 && len(values) > n {
		values = values[:n]
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
