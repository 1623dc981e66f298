// Package scoring turns classification evidence into a normalized trust score.
package scoring

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/chat-omega/fundonboarding/internal/models"
)

const (
	FactorSourceReliability   = "source_reliability"
	FactorSourceDiversity     = "source_diversity"
	FactorDataFreshness       = "data_freshness"
	FactorPatternMatch        = "pattern_match"
	FactorPatternSpecificity  = "pattern_specificity"
	FactorMethodAgreement     = "method_agreement"
	FactorHistoricalAccuracy  = "historical_accuracy"
	FactorDataCompleteness    = "data_completeness"
	FactorDataConsistency     = "data_consistency"
	FactorDomainSpecificity   = "domain_specificity"
	FactorContextualCoherence = "contextual_coherence"
)

// factorOrder fixes summation order so scores are bit-for-bit reproducible.
var factorOrder = []string{
	FactorSourceReliability, FactorSourceDiversity, FactorDataFreshness,
	FactorPatternMatch, FactorPatternSpecificity, FactorMethodAgreement,
	FactorHistoricalAccuracy, FactorDataCompleteness, FactorDataConsistency,
	FactorDomainSpecificity, FactorContextualCoherence,
}

// DefaultWeights sum to 1.2; Score divides by the applied total.
var DefaultWeights = map[string]float64{
	FactorSourceReliability:   0.20,
	FactorSourceDiversity:     0.10,
	FactorDataFreshness:       0.05,
	FactorPatternMatch:        0.15,
	FactorPatternSpecificity:  0.10,
	FactorMethodAgreement:     0.15,
	FactorHistoricalAccuracy:  0.10,
	FactorDataCompleteness:    0.10,
	FactorDataConsistency:     0.10,
	FactorDomainSpecificity:   0.15,
	FactorContextualCoherence: 0.10,
}

type Factors struct {
	SourceReliability   float64 `json:"source_reliability"`
	SourceDiversity     float64 `json:"source_diversity"`
	DataFreshness       float64 `json:"data_freshness"`
	PatternMatch        float64 `json:"pattern_match"`
	PatternSpecificity  float64 `json:"pattern_specificity"`
	MethodAgreement     float64 `json:"method_agreement"`
	HistoricalAccuracy  float64 `json:"historical_accuracy"`
	DataCompleteness    float64 `json:"data_completeness"`
	DataConsistency     float64 `json:"data_consistency"`
	DomainSpecificity   float64 `json:"domain_specificity"`
	ContextualCoherence float64 `json:"contextual_coherence"`
}

func (f Factors) Value(name string) (float64, bool) {
	switch name {
	case FactorSourceReliability:
		return f.SourceReliability, true
	case FactorSourceDiversity:
		return f.SourceDiversity, true
	case FactorDataFreshness:
		return f.DataFreshness, true
	case FactorPatternMatch:
		return f.PatternMatch, true
	case FactorPatternSpecificity:
		return f.PatternSpecificity, true
	case FactorMethodAgreement:
		return f.MethodAgreement, true
	case FactorHistoricalAccuracy:
		return f.HistoricalAccuracy, true
	case FactorDataCompleteness:
		return f.DataCompleteness, true
	case FactorDataConsistency:
		return f.DataConsistency, true
	case FactorDomainSpecificity:
		return f.DomainSpecificity, true
	case FactorContextualCoherence:
		return f.ContextualCoherence, true
	}
	return 0, false
}

func (f Factors) Validate() error {
	for _, name := range factorOrder {
		value, _ := f.Value(name)
		if math.IsNaN(value) || value < 0 || value > 1 {
			return models.NewInternalError("FACTOR_OUT_OF_RANGE", fmt.Sprintf("Factor %s must be within [0,1]", name)).
				WithMetadata("value", value)
		}
	}
	return nil
}

// Score is the weighted mean of the factors named in weights. Weight names
// that are not factors are ignored. A nil weights map uses DefaultWeights.
func Score(factors Factors, weights map[string]float64) float64 {
	if weights == nil {
		weights = DefaultWeights
	}

	score := 0.0
	total := 0.0
	for _, name := range factorOrder {
		weight, ok := weights[name]
		if !ok {
			continue
		}
		value, _ := factors.Value(name)
		score += value * weight
		total += weight
	}

	if total <= 0 {
		return 0
	}
	return clamp(score / total)
}

type Result struct {
	Overall     float64 `json:"overall"`
	Factors     Factors `json:"factors"`
	MethodBonus float64 `json:"method_bonus"`
	Penalty     float64 `json:"penalty"`
	Explanation string  `json:"explanation"`
}

type domainRating struct {
	domain string
	rating float64
}

type Scorer struct {
	weights            map[string]float64
	historicalAccuracy map[string]float64
	methodReliability  map[string]float64
	methodBonus        map[string]float64
	sourceReliability  []domainRating
}

func NewScorer() *Scorer {
	return &Scorer{
		weights: DefaultWeights,
		historicalAccuracy: map[string]float64{
			"rule_based":       0.85,
			"known_fund":       0.98,
			"morningstar":      0.92,
			"research_based":   0.78,
			"pattern_matching": 0.65,
		},
		methodReliability: map[string]float64{
			"known_fund":        0.95,
			"morningstar":       0.90,
			"rule_based":        0.80,
			"research_based":    0.75,
			"pattern_inference": 0.60,
			"unknown":           0.20,
		},
		methodBonus: map[string]float64{
			"known_fund":     0.1,
			"morningstar":    0.05,
			"rule_based":     0.0,
			"research_based": -0.05,
		},
		sourceReliability: []domainRating{
			{"morningstar.com", 0.95},
			{"vanguard.com", 0.98},
			{"ishares.com", 0.98},
			{"sec.gov", 0.99},
			{"yahoo.finance", 0.75},
			{"google.com", 0.40},
			{"wikipedia.org", 0.30},
			{"tavily", 0.70},
			{"serper", 0.65},
			{"duckduckgo", 0.50},
		},
	}
}

// WithWeights returns a copy of the scorer using the given weight table.
func (scorer *Scorer) WithWeights(weights map[string]float64) *Scorer {
	clone := *scorer
	clone.weights = weights
	return &clone
}

// CalculateConfidence scores one categorization against the research that
// produced it. research may be nil. now anchors freshness decay.
func (scorer *Scorer) CalculateConfidence(fc *models.FundCategorization, research *models.FundResearch, now time.Time) (Result, error) {
	if fc == nil {
		return Result{}, models.NewValidationError("NIL_CATEGORIZATION", "Categorization is required")
	}

	var sources []string
	var dataPoints map[string]models.DataPoint
	if research != nil {
		sources = research.Sources
		dataPoints = research.DataPoints
	}
	if len(sources) == 0 {
		sources = fc.ResearchSources
	}
	if len(dataPoints) == 0 {
		dataPoints = fc.DataPoints
	}

	factors := Factors{
		SourceReliability:   scorer.sourceReliabilityScore(sources),
		SourceDiversity:     sourceDiversityScore(sources),
		DataFreshness:       freshnessScore(dataPoints, now),
		PatternMatch:        scorer.patternMatchScore(fc),
		PatternSpecificity:  patternSpecificityScore(fc),
		MethodAgreement:     methodAgreementScore(fc),
		HistoricalAccuracy:  scorer.historicalAccuracyScore(fc.ClassificationMethod),
		DataCompleteness:    completenessScore(fc, dataPoints),
		DataConsistency:     consistencyScore(fc, dataPoints),
		DomainSpecificity:   domainSpecificityScore(fc),
		ContextualCoherence: coherenceScore(fc),
	}
	if err := factors.Validate(); err != nil {
		return Result{}, err
	}

	bonus := scorer.methodBonus[fc.ClassificationMethod]
	penalty := consistencyPenalty(fc)

	overall := Score(factors, scorer.weights)
	overall = math.Min(1.0, overall*(1.0+bonus))
	overall = clamp(overall - penalty)

	result := Result{
		Overall:     overall,
		Factors:     factors,
		MethodBonus: bonus,
		Penalty:     penalty,
	}
	result.Explanation = Explain(result)
	return result, nil
}

func (scorer *Scorer) sourceReliabilityScore(sources []string) float64 {
	if len(sources) == 0 {
		return 0.3
	}

	total := 0.0
	for _, source := range sources {
		lower := strings.ToLower(source)
		reliability := 0.5
		for _, rating := range scorer.sourceReliability {
			if strings.Contains(lower, rating.domain) {
				reliability = rating.rating
				break
			}
		}
		total += reliability
	}

	bonus := math.Min(0.1, float64(len(sources))*0.02)
	return math.Min(1.0, total/float64(len(sources))+bonus)
}

var sourceCategories = []struct {
	category string
	markers  []string
}{
	{"financial_data", []string{"morningstar", "yahoo", "bloomberg"}},
	{"regulatory", []string{"sec.gov", "regulatory"}},
	{"fund_company", []string{"vanguard", "ishares", "fidelity"}},
	{"news", []string{"news", "reuters", "wsj"}},
}

func sourceDiversityScore(sources []string) float64 {
	switch len(sources) {
	case 0:
		return 0.0
	case 1:
		return 0.3
	}

	categories := make(map[string]bool)
	for _, source := range sources {
		lower := strings.ToLower(source)
		category := "general"
		for _, candidate := range sourceCategories {
			if containsAny(lower, candidate.markers...) {
				category = candidate.category
				break
			}
		}
		categories[category] = true
	}

	diversity := float64(len(categories)) / 5.0
	bonus := math.Min(0.2, float64(len(sources)-1)*0.05)
	return math.Min(1.0, diversity+bonus)
}

func freshnessScore(dataPoints map[string]models.DataPoint, now time.Time) float64 {
	keys := make([]string, 0, len(dataPoints))
	for key := range dataPoints {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	total := 0.0
	count := 0
	for _, key := range keys {
		extractedAt := dataPoints[key].ExtractedAt
		if extractedAt.IsZero() {
			continue
		}
		age := now.Sub(extractedAt)
		switch {
		case age < time.Hour:
			total += 1.0
		case age < 24*time.Hour:
			total += 0.9
		case age < 7*24*time.Hour:
			total += 0.7
		case age < 30*24*time.Hour:
			total += 0.5
		default:
			total += 0.3
		}
		count++
	}

	if count == 0 {
		return 0.5
	}
	return total / float64(count)
}

var (
	vanguardTicker = regexp.MustCompile(`^V[A-Z]{2,3}$`)
	isharesTicker  = regexp.MustCompile(`^I[A-Z]{2,4}$`)
)

func (scorer *Scorer) patternMatchScore(fc *models.FundCategorization) float64 {
	base, ok := scorer.methodReliability[fc.ClassificationMethod]
	if !ok {
		base = 0.5
	}

	reasoning := strings.ToLower(fc.Reasoning)
	indicators := 0.0
	switch {
	case strings.Contains(reasoning, "exact match"):
		indicators += 0.3
	case strings.Contains(reasoning, "known fund"):
		indicators += 0.25
	case strings.Contains(reasoning, "morningstar category"):
		indicators += 0.2
	case strings.Contains(reasoning, "pattern"):
		indicators += 0.15
	case strings.Contains(reasoning, "inferred"):
		indicators += 0.05
	}

	if vanguardTicker.MatchString(fc.Ticker) || isharesTicker.MatchString(fc.Ticker) {
		indicators += 0.1
	}

	return math.Min(1.0, base+indicators)
}

func patternSpecificityScore(fc *models.FundCategorization) float64 {
	var specificity float64
	switch fc.AssetClass {
	case models.AssetClassEquity, models.AssetClassFixedIncome:
		specificity = 0.7
	case models.AssetClassCash:
		specificity = 0.9
	case models.AssetClassAlternatives:
		specificity = 0.6
	default:
		specificity = 0.3
	}

	bonus := math.Min(0.3, float64(fc.FilledSubCategories())*0.1)
	return math.Min(1.0, specificity+bonus)
}

func methodAgreementScore(fc *models.FundCategorization) float64 {
	if len(fc.AlternativeClassifications) == 0 {
		return 0.5
	}

	agreements := 0
	for _, alternative := range fc.AlternativeClassifications {
		if alternative.AssetClass == fc.AssetClass {
			agreements++
		}
	}
	ratio := float64(agreements) / float64(len(fc.AlternativeClassifications))

	bonus := 0.0
	if ratio >= 0.8 {
		bonus = 0.2
	} else if ratio >= 0.6 {
		bonus = 0.1
	}
	return math.Min(1.0, ratio+bonus)
}

func (scorer *Scorer) historicalAccuracyScore(method string) float64 {
	if accuracy, ok := scorer.historicalAccuracy[method]; ok {
		return accuracy
	}
	return 0.5
}

func completenessScore(fc *models.FundCategorization, dataPoints map[string]models.DataPoint) float64 {
	core := []string{fc.AssetClass, fc.Ticker, fc.FundName, fc.ClassificationMethod, fc.Reasoning}
	filledCore := 0
	for _, value := range core {
		if value != "" {
			filledCore++
		}
	}

	researchFields := []string{models.DataPointMorningstarCategory, models.DataPointExpenseRatio, models.DataPointHoldingsText}
	filledResearch := 0
	for _, field := range researchFields {
		if _, ok := dataPoints[field]; ok {
			filledResearch++
		}
	}

	completeness := float64(filledCore)/float64(len(core))*0.5 +
		float64(filledResearch)/float64(len(researchFields))*0.3 +
		subCategoryCompleteness(fc)*0.2
	return math.Min(1.0, completeness)
}

func subCategoryCompleteness(fc *models.FundCategorization) float64 {
	var fields []string
	switch fc.AssetClass {
	case models.AssetClassEquity:
		fields = []string{fc.EquityRegion, fc.EquityStyle, fc.EquitySize}
	case models.AssetClassFixedIncome:
		fields = []string{fc.FixedIncomeType, fc.FixedIncomeDuration}
	default:
		return 1.0
	}

	filled := 0
	for _, value := range fields {
		if value != "" {
			filled++
		}
	}
	return float64(filled) / float64(len(fields))
}

// consistencyScore checks the asset class against the researched Morningstar
// category and the expense ratio (percent) against a 0-3% bound.
func consistencyScore(fc *models.FundCategorization, dataPoints map[string]models.DataPoint) float64 {
	if len(dataPoints) == 0 {
		return 0.5
	}

	var checks []float64

	if dp, ok := dataPoints[models.DataPointMorningstarCategory]; ok {
		category := strings.ToLower(dp.StringValue())
		consistent := true
		switch fc.AssetClass {
		case models.AssetClassEquity:
			consistent = containsAny(category, "equity", "stock", "large", "mid", "small")
		case models.AssetClassFixedIncome:
			consistent = containsAny(category, "bond", "fixed", "income")
		}
		if consistent {
			checks = append(checks, 1.0)
		} else {
			checks = append(checks, 0.0)
		}
	}

	if dp, ok := dataPoints[models.DataPointExpenseRatio]; ok {
		if ratio, isNumber := dp.FloatValue(); isNumber {
			if ratio >= 0 && ratio <= 3 {
				checks = append(checks, 1.0)
			} else {
				checks = append(checks, 0.5)
			}
		}
	}

	if len(checks) == 0 {
		return 0.5
	}
	total := 0.0
	for _, check := range checks {
		total += check
	}
	return total / float64(len(checks))
}

func domainSpecificityScore(fc *models.FundCategorization) float64 {
	name := strings.ToLower(fc.FundName)
	score := 0.5

	if containsAny(name, "vanguard", "ishares", "fidelity", "schwab") {
		score += 0.1
	}
	if containsAny(name, "etf", "index", "mutual fund", "trust") {
		score += 0.1
	}
	if containsAny(name, "total market", "s&p 500", "russell", "msci") {
		score += 0.1
	}
	if containsAny(name, "international", "emerging", "global", "europe", "asia") {
		score += 0.1
	}
	if containsAny(name, "value", "growth", "dividend", "small cap", "large cap") {
		score += 0.1
	}

	return math.Min(1.0, score)
}

func coherenceScore(fc *models.FundCategorization) float64 {
	coherence := 0.7

	if fc.AssetClass == models.AssetClassEquity && fc.EquityRegion == "US" {
		coherence += 0.1
	}
	if fc.AssetClass == models.AssetClassFixedIncome && fc.FixedIncomeType == "Government" {
		coherence += 0.1
	}

	name := strings.ToLower(fc.FundName)
	if fc.AssetClass == models.AssetClassEquity && strings.Contains(name, "bond") {
		coherence -= 0.3
	} else if fc.AssetClass == models.AssetClassFixedIncome && containsAny(name, "equity", "stock") {
		coherence -= 0.3
	}

	return clamp(coherence)
}

func consistencyPenalty(fc *models.FundCategorization) float64 {
	name := strings.ToLower(fc.FundName)
	penalty := 0.0

	if fc.AssetClass == models.AssetClassFixedIncome && containsAny(name, "equity", "stock", "shares") {
		penalty += 0.2
	} else if fc.AssetClass == models.AssetClassEquity && containsAny(name, "bond", "treasury", "fixed income") {
		penalty += 0.2
	}

	if fc.AssetClass == models.AssetClassEquity {
		if fc.EquityRegion == "US" && containsAny(name, "international", "foreign", "global") {
			penalty += 0.1
		} else if fc.EquityRegion == "International" && strings.Contains(name, "us ") {
			penalty += 0.1
		}
	}

	return penalty
}

// PortfolioConfidence aggregates asset class confidence across a portfolio.
func PortfolioConfidence(categorizations []*models.FundCategorization) models.PortfolioConfidence {
	if len(categorizations) == 0 {
		return models.PortfolioConfidence{}
	}

	n := float64(len(categorizations))
	sum := 0.0
	minimum := math.Inf(1)
	maximum := math.Inf(-1)
	high := 0
	for _, fc := range categorizations {
		value := fc.AssetClassConfidence
		sum += value
		minimum = math.Min(minimum, value)
		maximum = math.Max(maximum, value)
		if value >= 0.8 {
			high++
		}
	}
	mean := sum / n

	variance := 0.0
	for _, fc := range categorizations {
		diff := fc.AssetClassConfidence - mean
		variance += diff * diff
	}

	return models.PortfolioConfidence{
		Overall:             mean,
		Average:             mean,
		Min:                 minimum,
		Max:                 maximum,
		Std:                 math.Sqrt(variance / n),
		HighConfidenceRatio: float64(high) / n,
	}
}

// Explain renders a short human readable summary of a result.
func Explain(result Result) string {
	var parts []string

	switch {
	case result.Overall >= 0.9:
		parts = append(parts, "Very high confidence")
	case result.Overall >= 0.8:
		parts = append(parts, "High confidence")
	case result.Overall >= 0.6:
		parts = append(parts, "Moderate confidence")
	case result.Overall >= 0.4:
		parts = append(parts, "Low confidence")
	default:
		parts = append(parts, "Very low confidence")
	}

	f := result.Factors
	if f.SourceReliability > 0.8 {
		parts = append(parts, "reliable data sources")
	}
	if f.MethodAgreement > 0.7 {
		parts = append(parts, "multiple methods agree")
	}
	if f.PatternMatch > 0.8 {
		parts = append(parts, "strong pattern match")
	}
	if f.DataCompleteness > 0.8 {
		parts = append(parts, "comprehensive data available")
	}
	if f.SourceReliability < 0.5 {
		parts = append(parts, "limited source reliability")
	}
	if f.DataCompleteness < 0.5 {
		parts = append(parts, "incomplete data")
	}
	if f.DataConsistency < 0.5 {
		parts = append(parts, "inconsistent information")
	}

	strongest, weakest := extremes(f)
	parts = append(parts, fmt.Sprintf("strongest factor %s", strongest), fmt.Sprintf("weakest factor %s", weakest))

	return strings.Join(parts, " - ")
}

func extremes(f Factors) (string, string) {
	strongest, weakest := factorOrder[0], factorOrder[0]
	high, _ := f.Value(strongest)
	low := high
	for _, name := range factorOrder[1:] {
		value, _ := f.Value(name)
		if value > high {
			strongest, high = name, value
		}
		if value < low {
			weakest, low = name, value
		}
	}
	return strongest, weakest
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func clamp(value float64) float64 {
	if math.IsNaN(value) || value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
