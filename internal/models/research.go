package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type QueryType string

const (
	QueryTypeBasic       QueryType = "basic"
	QueryTypeHoldings    QueryType = "holdings"
	QueryTypeCategory    QueryType = "category"
	QueryTypePerformance QueryType = "performance"
)

// Data point keys extracted from research content.
const (
	DataPointMorningstarCategory = "morningstar_category"
	DataPointExpenseRatio        = "expense_ratio"
	DataPointAssetClass          = "asset_class"
	DataPointHoldingsText        = "holdings_text"
)

const FallbackSource = "fallback"

type ResearchQuery struct {
	Ticker    string    `json:"ticker"`
	FundName  string    `json:"fund_name"`
	QueryText string    `json:"query_text"`
	QueryType QueryType `json:"query_type"`
	Priority  int       `json:"priority"`
}

// ExtractedData holds the fields pulled from a search result. ExpenseRatio is
// in percent units as printed in fund literature.
type ExtractedData struct {
	MorningstarCategory string   `json:"morningstar_category,omitempty"`
	ExpenseRatio        *float64 `json:"expense_ratio,omitempty"`
	AssetClass          string   `json:"asset_class,omitempty"`
	HoldingsText        string   `json:"holdings_text,omitempty"`
	SearchURL           string   `json:"search_url,omitempty"`
	ContentLength       int      `json:"content_length"`
}

func (data ExtractedData) Values() map[string]interface{} {
	values := make(map[string]interface{})
	if data.MorningstarCategory != "" {
		values[DataPointMorningstarCategory] = data.MorningstarCategory
	}
	if data.ExpenseRatio != nil {
		values[DataPointExpenseRatio] = *data.ExpenseRatio
	}
	if data.AssetClass != "" {
		values[DataPointAssetClass] = data.AssetClass
	}
	if data.HoldingsText != "" {
		values[DataPointHoldingsText] = data.HoldingsText
	}
	return values
}

type ResearchResult struct {
	Ticker        string        `json:"ticker"`
	QueryType     QueryType     `json:"query_type"`
	SourceURL     string        `json:"source_url"`
	Content       string        `json:"content"`
	Confidence    float64       `json:"confidence"`
	ExtractedData ExtractedData `json:"extracted_data"`
	Timestamp     time.Time     `json:"timestamp"`
	Error         string        `json:"error,omitempty"`
}

func NewFallbackResult(query ResearchQuery, at time.Time, cause error) ResearchResult {
	result := ResearchResult{
		Ticker:     query.Ticker,
		QueryType:  query.QueryType,
		SourceURL:  FallbackSource,
		Confidence: 0.1,
		Timestamp:  at,
	}
	if cause != nil {
		result.Error = cause.Error()
	}
	return result
}

type DataPoint struct {
	Value        interface{}   `json:"value"`
	Confidence   float64       `json:"confidence"`
	Alternatives []interface{} `json:"alternatives"`
	ExtractedAt  time.Time     `json:"extraction_timestamp"`
}

func (dp DataPoint) StringValue() string {
	value, _ := dp.Value.(string)
	return value
}

func (dp DataPoint) FloatValue() (float64, bool) {
	switch value := dp.Value.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	}
	return 0, false
}

type Suggestion struct {
	Value      string  `json:"suggestion"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

type SuggestedCategories struct {
	AssetClass      Suggestion  `json:"asset_class"`
	EquityStyle     *Suggestion `json:"equity_style,omitempty"`
	EquitySize      *Suggestion `json:"equity_size,omitempty"`
	FixedIncomeType *Suggestion `json:"fixed_income_type,omitempty"`
}

// FundResearch is the synthesized research profile for one ticker.
type FundResearch struct {
	Ticker              string               `json:"ticker"`
	FundName            string               `json:"fund_name"`
	DataPoints          map[string]DataPoint `json:"data_points"`
	SuggestedCategories SuggestedCategories  `json:"suggested_categories"`
	Sources             []string             `json:"sources"`
	OverallConfidence   float64              `json:"overall_confidence"`
	Results             []ResearchResult     `json:"results"`
	ResearchedAt        time.Time            `json:"researched_at"`
	FromCache           bool                 `json:"from_cache"`
}

func (research *FundResearch) DataPoint(key string) (DataPoint, bool) {
	if research == nil {
		return DataPoint{}, false
	}
	dp, ok := research.DataPoints[key]
	return dp, ok
}

// Fingerprint summarizes the inputs classification reads from research: the
// synthesized data points and the suggested categories. Timestamps are
// excluded. A nil profile has an empty fingerprint.
func (research *FundResearch) Fingerprint() string {
	if research == nil {
		return ""
	}

	keys := make([]string, 0, len(research.DataPoints))
	for key := range research.DataPoints {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		dp := research.DataPoints[key]
		fmt.Fprintf(&b, "%s=%v@%.4f;", key, dp.Value, dp.Confidence)
	}

	suggestion := func(name string, s *Suggestion) {
		if s != nil {
			fmt.Fprintf(&b, "%s=%s@%.4f;", name, s.Value, s.Confidence)
		}
	}
	categories := research.SuggestedCategories
	suggestion("asset_class", &categories.AssetClass)
	suggestion("equity_style", categories.EquityStyle)
	suggestion("equity_size", categories.EquitySize)
	suggestion("fixed_income_type", categories.FixedIncomeType)
	return b.String()
}

// HasSignal reports whether any query produced a non-fallback result.
func (research *FundResearch) HasSignal() bool {
	for _, result := range research.Results {
		if result.SourceURL != FallbackSource {
			return true
		}
	}
	return false
}

type ResearchSummary struct {
	TotalFundsResearched int     `json:"total_funds_researched"`
	SuccessfulQueries    int     `json:"successful_queries"`
	ResearchQuality      float64 `json:"research_quality"`
	CacheHits            int     `json:"cache_hits"`
}

// SearchResponse is the text a search engine returned for one query.
type SearchResponse struct {
	Query   string `json:"query"`
	Engine  string `json:"engine"`
	URL     string `json:"url"`
	Content string `json:"content"`
}
