package agents

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chat-omega/fundonboarding/internal/cache"
	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	minResultQuality      = 0.3
	successfulQueryFloor  = 0.5
	maxStoredContentChars = 2000
)

type ResearchOptions struct {
	MaxParallelSearches int
	SearchTimeout       time.Duration
	CacheTTL            time.Duration
	Clock               func() time.Time
}

type ResearchAgent struct {
	*Base
	search  SearchClient
	cache   *cache.Cache
	opts    ResearchOptions
	limiter *semaphore.Weighted
}

func NewResearchAgent(sessionID string, search SearchClient, researchCache *cache.Cache, opts ResearchOptions, log *logger.Logger) (*ResearchAgent, error) {
	base, err := NewBase(models.AgentTypeResearch, sessionID, log)
	if err != nil {
		return nil, err
	}
	if search == nil {
		return nil, models.NewValidationError("NIL_SEARCH_CLIENT", "Research agent requires a search client")
	}
	if opts.MaxParallelSearches <= 0 {
		opts.MaxParallelSearches = 5
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 10 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	agent := &ResearchAgent{
		Base:    base,
		search:  search,
		cache:   researchCache,
		opts:    opts,
		limiter: semaphore.NewWeighted(int64(opts.MaxParallelSearches)),
	}
	agent.OnSetup(func(context.Context) error {
		return agent.SetConfidence("research_ready", 0.9)
	})
	return agent, nil
}

func (agent *ResearchAgent) Process(ctx context.Context, message models.Message) <-chan models.Message {
	return agent.Run(ctx, message, agent.process)
}

type fundOutcome struct {
	research  models.FundResearch
	fromCache bool
}

func (agent *ResearchAgent) process(ctx context.Context, message models.Message, emit Emit) error {
	if message.Type != models.MessageTypeDataProcessed {
		return nil
	}
	items, ok, err := Decode[[]models.PortfolioItem](message.Payload, KeyPortfolioItems)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if len(items) == 0 {
		return models.NewValidationError("EMPTY_PORTFOLIO", "No portfolio items to research")
	}

	if !emit(agent.Status("starting_deep_research", models.Payload{
		"total_funds": len(items),
		"stage":       "scoping",
		"message":     "Planning research strategy...",
	})) {
		return nil
	}

	plan := ResearchPlan(items)
	if !emit(agent.Status("research_planned", models.Payload{
		"total_queries": len(plan),
		"stage":         "research",
		"message":       fmt.Sprintf("Generated %d research queries", len(plan)),
	})) {
		return nil
	}

	outcomes := agent.researchFunds(ctx, items, plan)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var results []models.ResearchResult
	synthesized := make(map[string]*models.FundResearch, len(outcomes))
	cacheHits := 0
	for i := range outcomes {
		outcome := outcomes[i]
		research := outcome.research
		research.FromCache = outcome.fromCache
		if outcome.fromCache {
			cacheHits++
		}
		synthesized[research.Ticker] = &research
		results = append(results, research.Results...)
	}

	for i, result := range results {
		if !emit(agent.Status("research_result", models.Payload{
			"ticker":     result.Ticker,
			"query_type": result.QueryType,
			"confidence": result.Confidence,
			"progress":   float64(i+1) / float64(len(results)),
		})) {
			return nil
		}
	}

	if !emit(agent.Status("research_complete", models.Payload{
		"total_results": len(results),
		"stage":         "synthesis",
		"message":       "Analyzing research findings...",
	})) {
		return nil
	}

	summary := summarizeResearch(len(items), results, cacheHits)
	if err := agent.SetConfidence("research_quality", summary.ResearchQuality); err != nil {
		return err
	}

	emit(agent.NewMessage(models.MessageTypeDataProcessed, models.AgentTypeClassification, models.Payload{
		KeyPortfolioItems:  items,
		KeyResearchResults: results,
		KeySynthesizedData: synthesized,
		KeyResearchSummary: summary,
	}))
	return nil
}

// researchFunds researches every fund concurrently, consulting the cache
// first. Outcomes are returned in item order.
func (agent *ResearchAgent) researchFunds(ctx context.Context, items []models.PortfolioItem, plan []models.ResearchQuery) []fundOutcome {
	byTicker := make(map[string][]models.ResearchQuery)
	for _, query := range plan {
		byTicker[query.Ticker] = append(byTicker[query.Ticker], query)
	}

	outcomes := make([]fundOutcome, len(items))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(agent.opts.MaxParallelSearches)

	for i, item := range items {
		i, item := i, item
		group.Go(func() error {
			outcomes[i] = agent.researchFund(groupCtx, item, byTicker[item.NormalizedTicker()])
			return nil
		})
	}
	group.Wait()
	return outcomes
}

func (agent *ResearchAgent) researchFund(ctx context.Context, item models.PortfolioItem, queries []models.ResearchQuery) fundOutcome {
	ticker := item.NormalizedTicker()
	compute := func(ctx context.Context) (models.FundResearch, error) {
		results := agent.executeBatch(ctx, queries)
		return SynthesizeResearch(item, results, agent.opts.Clock()), nil
	}

	if agent.cache == nil {
		research, _ := compute(ctx)
		return fundOutcome{research: research}
	}

	key := cache.FundResearchKey(ticker)
	research, fromCache, err := cache.GetOrCompute(ctx, agent.cache, key, agent.opts.CacheTTL,
		[]string{cache.FundTag(ticker), cache.TagResearch}, compute)
	if err != nil {
		agent.logger.WithError(err).Warn("Research cache unavailable, researching directly")
		research, _ = compute(ctx)
		return fundOutcome{research: research}
	}

	// research with no usable signal is not worth keeping for a day
	if !fromCache && !research.HasSignal() {
		if err := agent.cache.Delete(ctx, key); err != nil {
			agent.logger.WithError(err).Warn("Failed to drop degraded research from cache")
		}
	}
	return fundOutcome{research: research, fromCache: fromCache}
}

// executeBatch runs one fund's queries in parallel under the batch timeout.
// Queries that fail or do not finish in time degrade to fallback results.
func (agent *ResearchAgent) executeBatch(ctx context.Context, queries []models.ResearchQuery) []models.ResearchResult {
	batchCtx, cancel := context.WithTimeout(ctx, 2*agent.opts.SearchTimeout)
	defer cancel()

	var mu sync.Mutex
	results := make([]models.ResearchResult, len(queries))
	finished := make([]bool, len(queries))

	var group errgroup.Group
	for i, query := range queries {
		i, query := i, query
		group.Go(func() error {
			result := agent.executeQuery(batchCtx, query)
			mu.Lock()
			results[i] = result
			finished[i] = true
			mu.Unlock()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		group.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-batchCtx.Done():
		agent.logger.Warn("Research batch timed out", "queries", len(queries))
	}

	mu.Lock()
	defer mu.Unlock()
	snapshot := make([]models.ResearchResult, len(queries))
	for i, query := range queries {
		if finished[i] {
			snapshot[i] = results[i]
			continue
		}
		snapshot[i] = models.NewFallbackResult(query, agent.opts.Clock(),
			models.NewTimeoutError("RESEARCH_TIMEOUT", "Research batch timed out"))
	}
	return snapshot
}

func (agent *ResearchAgent) executeQuery(ctx context.Context, query models.ResearchQuery) models.ResearchResult {
	if err := agent.limiter.Acquire(ctx, 1); err != nil {
		return models.NewFallbackResult(query, agent.opts.Clock(), err)
	}
	defer agent.limiter.Release(1)

	startTime := time.Now()
	response, err := agent.search.Search(ctx, query.QueryText)
	agent.logger.LogService("search", string(query.QueryType), time.Since(startTime), map[string]interface{}{
		"ticker": query.Ticker,
	}, err)
	if err != nil {
		return models.NewFallbackResult(query, agent.opts.Clock(), err)
	}

	extracted := ExtractFundData(response.Content, query.QueryType)
	extracted.SearchURL = response.URL
	confidence := ExtractionConfidence(extracted)
	if confidence <= minResultQuality {
		return models.NewFallbackResult(query, agent.opts.Clock(), nil)
	}

	content := truncateRunes(response.Content, maxStoredContentChars)
	source := response.URL
	if source == "" {
		source = response.Engine
	}

	return models.ResearchResult{
		Ticker:        query.Ticker,
		QueryType:     query.QueryType,
		SourceURL:     source,
		Content:       content,
		Confidence:    confidence,
		ExtractedData: extracted,
		Timestamp:     agent.opts.Clock(),
	}
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// ResearchPlan builds four queries per fund, ordered by priority.
func ResearchPlan(items []models.PortfolioItem) []models.ResearchQuery {
	var plan []models.ResearchQuery
	for _, item := range items {
		ticker := item.NormalizedTicker()
		plan = append(plan,
			models.ResearchQuery{
				Ticker: ticker, FundName: item.Name, QueryType: models.QueryTypeBasic, Priority: 1,
				QueryText: fmt.Sprintf("%s %s fund factsheet prospectus expense ratio", ticker, item.Name),
			},
			models.ResearchQuery{
				Ticker: ticker, FundName: item.Name, QueryType: models.QueryTypeHoldings, Priority: 1,
				QueryText: fmt.Sprintf("%s fund top holdings asset allocation composition", ticker),
			},
			models.ResearchQuery{
				Ticker: ticker, FundName: item.Name, QueryType: models.QueryTypeCategory, Priority: 1,
				QueryText: fmt.Sprintf("%s Morningstar category asset class investment type", ticker),
			},
			models.ResearchQuery{
				Ticker: ticker, FundName: item.Name, QueryType: models.QueryTypePerformance, Priority: 2,
				QueryText: fmt.Sprintf("%s fund performance returns risk profile volatility", ticker),
			},
		)
	}
	sort.SliceStable(plan, func(i, j int) bool { return plan[i].Priority < plan[j].Priority })
	return plan
}

var (
	categoryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Morningstar Category[:\s]+([^,\n]+)`),
		regexp.MustCompile(`(?i)Category[:\s]+([A-Z][^,\n]+Fund[^,\n]*)`),
		regexp.MustCompile(`(?i)Fund Category[:\s]+([^,\n]+)`),
	}
	expensePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Expense Ratio[:\s]+([\d.]+)%?`),
		regexp.MustCompile(`(?i)Management Fee[:\s]+([\d.]+)%?`),
		regexp.MustCompile(`(?i)Annual Fee[:\s]+([\d.]+)%?`),
	}
	assetClassPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Asset Class[:\s]+([^,\n]+)`),
		regexp.MustCompile(`(?i)Investment Type[:\s]+([^,\n]+)`),
		regexp.MustCompile(`(?i)Fund Type[:\s]+([^,\n]+)`),
	}
	holdingsPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)Top (\d+) Holdings?[:\s]*(.{0,500})`),
		regexp.MustCompile(`(?is)Largest Holdings?[:\s]*(.{0,500})`),
		regexp.MustCompile(`(?is)Major Holdings?[:\s]*(.{0,500})`),
	}
)

func firstMatch(patterns []*regexp.Regexp, content string) []string {
	for _, pattern := range patterns {
		if match := pattern.FindStringSubmatch(content); match != nil {
			return match
		}
	}
	return nil
}

// ExtractFundData pulls category, fee, asset class and holdings text out of
// search result content. Which fields are looked for depends on the query.
func ExtractFundData(content string, queryType models.QueryType) models.ExtractedData {
	extracted := models.ExtractedData{ContentLength: len(content)}

	switch queryType {
	case models.QueryTypeBasic, models.QueryTypeCategory:
		if match := firstMatch(categoryPatterns, content); match != nil {
			extracted.MorningstarCategory = strings.TrimSpace(match[1])
		}
		if match := firstMatch(expensePatterns, content); match != nil {
			if value, err := strconv.ParseFloat(match[1], 64); err == nil {
				extracted.ExpenseRatio = &value
			}
		}
		if match := firstMatch(assetClassPatterns, content); match != nil {
			extracted.AssetClass = strings.TrimSpace(match[1])
		}
	case models.QueryTypeHoldings:
		if match := firstMatch(holdingsPatterns, content); match != nil {
			extracted.HoldingsText = strings.TrimSpace(match[len(match)-1])
		}
	}
	return extracted
}

func ExtractionConfidence(data models.ExtractedData) float64 {
	confidence := 0.1
	if data.MorningstarCategory != "" {
		confidence += 0.3
	}
	if data.ExpenseRatio != nil {
		confidence += 0.2
	}
	if data.AssetClass != "" {
		confidence += 0.25
	}
	if data.HoldingsText != "" {
		confidence += 0.15
	}
	if data.ContentLength > 100 {
		confidence += 0.1
	}
	if data.ContentLength > 500 {
		confidence += 0.1
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

type candidate struct {
	value      interface{}
	confidence float64
	at         time.Time
}

// SynthesizeResearch merges one fund's results into a research profile. For
// each data point the highest-confidence value wins; the earlier result wins
// ties.
func SynthesizeResearch(item models.PortfolioItem, results []models.ResearchResult, now time.Time) models.FundResearch {
	research := models.FundResearch{
		Ticker:       item.NormalizedTicker(),
		FundName:     item.Name,
		DataPoints:   make(map[string]models.DataPoint),
		Sources:      []string{},
		Results:      results,
		ResearchedAt: now,
	}

	candidates := make(map[string][]candidate)
	var keys []string
	seenSources := make(map[string]bool)
	total := 0.0

	for _, result := range results {
		total += result.Confidence
		if result.SourceURL != "" && result.SourceURL != models.FallbackSource && !seenSources[result.SourceURL] {
			seenSources[result.SourceURL] = true
			research.Sources = append(research.Sources, result.SourceURL)
		}
		values := result.ExtractedData.Values()
		for _, key := range []string{models.DataPointMorningstarCategory, models.DataPointExpenseRatio, models.DataPointAssetClass, models.DataPointHoldingsText} {
			value, ok := values[key]
			if !ok {
				continue
			}
			if _, seen := candidates[key]; !seen {
				keys = append(keys, key)
			}
			candidates[key] = append(candidates[key], candidate{value: value, confidence: result.Confidence, at: result.Timestamp})
		}
	}
	if len(results) > 0 {
		research.OverallConfidence = total / float64(len(results))
	}

	for _, key := range keys {
		options := candidates[key]
		best := options[0]
		for _, option := range options[1:] {
			if option.confidence > best.confidence {
				best = option
			}
		}
		alternatives := []interface{}{}
		for _, option := range options {
			if option.value != best.value {
				alternatives = append(alternatives, option.value)
			}
		}
		research.DataPoints[key] = models.DataPoint{
			Value:        best.value,
			Confidence:   best.confidence,
			Alternatives: alternatives,
			ExtractedAt:  best.at,
		}
	}

	research.SuggestedCategories = SuggestCategories(research.DataPoints)
	return research
}

// SuggestCategories derives category suggestions from the Morningstar
// category, overridden by an explicit asset class when one was found.
func SuggestCategories(dataPoints map[string]models.DataPoint) models.SuggestedCategories {
	suggestions := models.SuggestedCategories{
		AssetClass: models.Suggestion{Value: models.AssetClassUnknown, Confidence: 0.1, Reasoning: "Insufficient data"},
	}
	sub := func(value string, confidence float64) *models.Suggestion {
		return &models.Suggestion{Value: value, Confidence: confidence * 0.8}
	}

	if dp, ok := dataPoints[models.DataPointMorningstarCategory]; ok {
		category := strings.ToLower(dp.StringValue())
		confidence := dp.Confidence

		switch {
		case containsAny(category, "equity", "stock", "large", "mid", "small"):
			suggestions.AssetClass = models.Suggestion{
				Value: models.AssetClassEquity, Confidence: confidence,
				Reasoning: "Morningstar category: " + category,
			}
			switch {
			case strings.Contains(category, "value"):
				suggestions.EquityStyle = sub("Value", confidence)
			case strings.Contains(category, "growth"):
				suggestions.EquityStyle = sub("Growth", confidence)
			case containsAny(category, "blend", "core"):
				suggestions.EquityStyle = sub("Blend", confidence)
			}
			switch {
			case strings.Contains(category, "large"):
				suggestions.EquitySize = sub("Large", confidence)
			case strings.Contains(category, "mid"):
				suggestions.EquitySize = sub("Mid", confidence)
			case strings.Contains(category, "small"):
				suggestions.EquitySize = sub("Small", confidence)
			}
		case containsAny(category, "bond", "fixed", "income", "treasury", "corporate"):
			suggestions.AssetClass = models.Suggestion{
				Value: models.AssetClassFixedIncome, Confidence: confidence,
				Reasoning: "Morningstar category: " + category,
			}
			switch {
			case containsAny(category, "government", "treasury"):
				suggestions.FixedIncomeType = sub("Government", confidence)
			case strings.Contains(category, "corporate"):
				suggestions.FixedIncomeType = sub("Corporate", confidence)
			case containsAny(category, "high yield", "junk"):
				suggestions.FixedIncomeType = sub("High Yield", confidence)
			}
		}
	}

	if dp, ok := dataPoints[models.DataPointAssetClass]; ok {
		assetClass := strings.ToLower(dp.StringValue())
		switch {
		case containsAny(assetClass, "equity", "stock"):
			suggestions.AssetClass = models.Suggestion{
				Value: models.AssetClassEquity, Confidence: dp.Confidence,
				Reasoning: "Explicit asset class: " + assetClass,
			}
		case containsAny(assetClass, "bond", "fixed", "income"):
			suggestions.AssetClass = models.Suggestion{
				Value: models.AssetClassFixedIncome, Confidence: dp.Confidence,
				Reasoning: "Explicit asset class: " + assetClass,
			}
		}
	}

	return suggestions
}

func summarizeResearch(funds int, results []models.ResearchResult, cacheHits int) models.ResearchSummary {
	summary := models.ResearchSummary{TotalFundsResearched: funds, CacheHits: cacheHits}
	if len(results) == 0 {
		return summary
	}
	total := 0.0
	for _, result := range results {
		total += result.Confidence
		if result.Confidence > successfulQueryFloor {
			summary.SuccessfulQueries++
		}
	}
	summary.ResearchQuality = total / float64(len(results))
	return summary
}

func containsAny(s string, substrings ...string) bool {
	for _, substring := range substrings {
		if strings.Contains(s, substring) {
			return true
		}
	}
	return false
}
