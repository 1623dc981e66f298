package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v5"
	"github.com/chat-omega/fundonboarding/internal/cache"
	"github.com/chat-omega/fundonboarding/internal/config"
	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
	"github.com/gocolly/colly/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	maxSearchResults = 5
	maxSearchContent = 15000
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// WebSearchService runs research queries against an HTML search results page
// and returns the titles and snippets of the top results as one text block.
type WebSearchService struct {
	collector *colly.Collector
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	cache     *cache.Cache
	cacheTTL  time.Duration
	logger    *logger.Logger
	config    config.ResearchConfig
	engine    string
}

type searchOutcome struct {
	response   models.SearchResponse
	statusCode int
	err        error
}

func NewWebSearchService(cfg config.ResearchConfig, resultCache *cache.Cache, cacheTTL time.Duration, log *logger.Logger) (*WebSearchService, error) {
	if log == nil {
		log = logger.Discard()
	}

	endpoint, err := url.Parse(cfg.SearchURL)
	if err != nil || (endpoint.Scheme != "http" && endpoint.Scheme != "https") {
		return nil, models.NewValidationError("INVALID_SEARCH_URL", "Search URL must be an http(s) URL").
			WithMetadata("search_url", cfg.SearchURL)
	}

	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.SearchTimeout)

	service := &WebSearchService{
		collector: collector,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		cache:     resultCache,
		cacheTTL:  cacheTTL,
		logger:    log,
		config:    cfg,
		engine:    endpoint.Hostname(),
	}

	service.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "web_search",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		IsSuccessful: func(err error) bool {
			return err == nil || !models.IsRetryable(err)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	log.Info("Web Search Service initialized successfully",
		"engine", service.engine,
		"requests_per_second", cfg.RequestsPerSecond,
		"timeout", cfg.SearchTimeout,
		"offline", cfg.Offline)

	return service, nil
}

func (service *WebSearchService) Engine() string {
	return service.engine
}

// Search returns the combined result text for query. Responses are cached per
// query and engine when a cache is configured.
func (service *WebSearchService) Search(ctx context.Context, query string) (models.SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.SearchResponse{}, models.NewValidationError("EMPTY_QUERY", "Search query cannot be empty")
	}
	if service.config.Offline {
		return models.SearchResponse{}, models.NewExternalError("SEARCH_OFFLINE", "Web search is disabled").
			WithMetadata("query", query)
	}

	if service.cache == nil {
		return service.searchWithRetry(ctx, query)
	}

	response, fromCache, err := cache.GetOrCompute(ctx, service.cache, cache.WebSearchKey(query, service.engine),
		service.cacheTTL, []string{cache.TagWebSearch}, func(ctx context.Context) (models.SearchResponse, error) {
			return service.searchWithRetry(ctx, query)
		})
	if fromCache {
		service.logger.Debug("Search served from cache", "query", query)
	}
	return response, err
}

func (service *WebSearchService) searchWithRetry(ctx context.Context, query string) (models.SearchResponse, error) {
	startTime := time.Now()
	attempts := 0

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	response, err := backoff.Retry(ctx, func() (models.SearchResponse, error) {
		attempts++
		if err := service.limiter.Wait(ctx); err != nil {
			return models.SearchResponse{}, backoff.Permanent(
				models.NewTimeoutError("SEARCH_TIMEOUT", "Search rate limiter wait cancelled").WithCause(err))
		}

		result, err := service.breaker.Execute(func() (interface{}, error) {
			return service.fetch(ctx, query)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return models.SearchResponse{}, backoff.Permanent(
				models.NewExternalError("SEARCH_CIRCUIT_OPEN", "Web search temporarily unavailable").WithCause(err))
		}
		if err != nil {
			if !models.IsRetryable(err) {
				return models.SearchResponse{}, backoff.Permanent(err)
			}
			return models.SearchResponse{}, err
		}
		return result.(models.SearchResponse), nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(service.config.MaxRetries)+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			service.logger.WithError(err).Warn("Search attempt failed, retrying")
		}),
	)

	service.logger.LogService("web_search", "search", time.Since(startTime), map[string]interface{}{
		"query":          query,
		"attempts":       attempts,
		"content_length": len(response.Content),
	}, err)
	return response, err
}

// fetch performs one results page request. It returns once the page is
// processed or ctx is done.
func (service *WebSearchService) fetch(ctx context.Context, query string) (models.SearchResponse, error) {
	target, err := url.Parse(service.config.SearchURL)
	if err != nil {
		return models.SearchResponse{}, models.NewValidationError("INVALID_SEARCH_URL", "Invalid search URL").WithCause(err)
	}
	values := target.Query()
	values.Set("q", query)
	target.RawQuery = values.Encode()

	c := service.collector.Clone()
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	done := make(chan searchOutcome, 1)
	var outcome searchOutcome
	outcome.response = models.SearchResponse{Query: query, Engine: service.engine}

	c.OnResponse(func(r *colly.Response) {
		outcome.statusCode = r.StatusCode
	})
	c.OnHTML("html", func(e *colly.HTMLElement) {
		content, firstURL := extractSearchResults(e.DOM)
		outcome.response.Content = content
		outcome.response.URL = firstURL
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			outcome.statusCode = r.StatusCode
		}
		outcome.err = err
	})

	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcome.err = fmt.Errorf("search panic: %v", r)
			}
			done <- outcome
		}()
		if err := c.Visit(target.String()); err != nil && outcome.err == nil {
			outcome.err = err
		}
	}()

	select {
	case result := <-done:
		return result.response, classifySearchError(result.statusCode, result.err)
	case <-ctx.Done():
		return models.SearchResponse{}, models.NewTimeoutError("SEARCH_TIMEOUT", "Search request timed out").
			WithCause(ctx.Err()).
			WithMetadata("query", query)
	}
}

func classifySearchError(statusCode int, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case statusCode == http.StatusTooManyRequests, statusCode >= 500, statusCode == 0:
		return models.NewExternalError("SEARCH_FAILED", "Search request failed").
			WithCause(err).
			WithMetadata("status_code", statusCode)
	default:
		return models.NewValidationError("SEARCH_REJECTED", "Search request rejected").
			WithCause(err).
			WithMetadata("status_code", statusCode)
	}
}

// extractSearchResults joins the title and snippet of the top results. Pages
// without recognizable result blocks fall back to their body text.
func extractSearchResults(doc *goquery.Selection) (string, string) {
	var lines []string
	firstURL := ""

	doc.Find(".result, .web-result").EachWithBreak(func(i int, s *goquery.Selection) bool {
		title := cleanText(s.Find(".result__a, .result__title").First().Text())
		snippet := cleanText(s.Find(".result__snippet").First().Text())
		if title == "" && snippet == "" {
			return true
		}
		if firstURL == "" {
			if href, ok := s.Find(".result__a").First().Attr("href"); ok {
				firstURL = resolveResultURL(href)
			}
		}
		lines = append(lines, strings.TrimSpace(title+". "+snippet))
		return len(lines) < maxSearchResults
	})

	if len(lines) == 0 {
		lines = append(lines, cleanText(doc.Find("body").Text()))
	}

	content := strings.TrimSpace(strings.Join(lines, "\n"))
	if len(content) > maxSearchContent {
		content = content[:maxSearchContent]
	}
	return content, firstURL
}

// resolveResultURL unwraps redirect links of the form /l/?uddg=<target>.
func resolveResultURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func cleanText(text string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

func (service *WebSearchService) HealthCheck(ctx context.Context) error {
	if service.config.Offline {
		return nil
	}
	if service.breaker.State() == gobreaker.StateOpen {
		return models.NewExternalError("SEARCH_CIRCUIT_OPEN", "Web search circuit breaker is open")
	}
	return nil
}
