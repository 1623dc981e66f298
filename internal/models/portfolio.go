package models

import (
	"strings"
	"time"
)

const (
	AssetClassEquity       = "Equity"
	AssetClassFixedIncome  = "Fixed Income"
	AssetClassCash         = "Cash"
	AssetClassAlternatives = "Alternatives"
	AssetClassUnknown      = "Unknown"
)

type PortfolioItem struct {
	Ticker              string   `json:"ticker"`
	Name                string   `json:"name"`
	AssetClass          string   `json:"asset_class"`
	ExpenseRatio        *float64 `json:"expense_ratio,omitempty"`
	MorningstarCategory string   `json:"morningstar_category,omitempty"`

	ConservativePct    *float64 `json:"conservative_pct,omitempty"`
	ModConservativePct *float64 `json:"mod_conservative_pct,omitempty"`
	ModeratePct        *float64 `json:"moderate_pct,omitempty"`
	GrowthPct          *float64 `json:"growth_pct,omitempty"`
	AggressivePct      *float64 `json:"aggressive_pct,omitempty"`

	ConfidenceScore float64 `json:"confidence_score"`
}

func (item PortfolioItem) HasAllocations() bool {
	for _, pct := range []*float64{item.ConservativePct, item.ModConservativePct, item.ModeratePct, item.GrowthPct, item.AggressivePct} {
		if pct != nil {
			return true
		}
	}
	return false
}

func (item PortfolioItem) NormalizedTicker() string {
	return strings.ToUpper(strings.TrimSpace(item.Ticker))
}

type AlternativeClassification struct {
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
	AssetClass string  `json:"asset_class"`
	Reasoning  string  `json:"reasoning"`
}

type FundCategorization struct {
	Ticker               string  `json:"ticker"`
	FundName             string  `json:"fund_name"`
	AssetClass           string  `json:"asset_class"`
	AssetClassConfidence float64 `json:"asset_class_confidence"`

	EquityRegion        string `json:"equity_region,omitempty"`
	EquityStyle         string `json:"equity_style,omitempty"`
	EquitySize          string `json:"equity_size,omitempty"`
	FixedIncomeType     string `json:"fixed_income_type,omitempty"`
	FixedIncomeDuration string `json:"fixed_income_duration,omitempty"`

	ResearchSources     []string             `json:"research_sources"`
	DataPoints          map[string]DataPoint `json:"data_points,omitempty"`
	ExpenseRatio        *float64             `json:"expense_ratio,omitempty"`
	MorningstarCategory string               `json:"morningstar_category,omitempty"`

	ClassificationMethod       string                      `json:"classification_method"`
	Reasoning                  string                      `json:"reasoning"`
	AlternativeClassifications []AlternativeClassification `json:"alternative_classifications"`

	ConfidenceScore       float64 `json:"confidence_score"`
	ConfidenceExplanation string  `json:"confidence_explanation,omitempty"`

	ManualOverride    bool       `json:"manual_override"`
	OverrideReason    string     `json:"override_reason,omitempty"`
	OverrideBy        string     `json:"override_by,omitempty"`
	OverrideTimestamp *time.Time `json:"override_timestamp,omitempty"`
}

// SubCategory returns the value of a sub-category field by its question type.
func (fc *FundCategorization) SubCategory(questionType QuestionType) string {
	switch questionType {
	case QuestionEquityRegion:
		return fc.EquityRegion
	case QuestionEquityStyle:
		return fc.EquityStyle
	case QuestionEquitySize:
		return fc.EquitySize
	case QuestionFixedIncomeType:
		return fc.FixedIncomeType
	case QuestionFixedIncomeDuration:
		return fc.FixedIncomeDuration
	case QuestionAssetClass:
		return fc.AssetClass
	}
	return ""
}

// SetSubCategory assigns a sub-category field. It reports false for unknown types.
func (fc *FundCategorization) SetSubCategory(questionType QuestionType, value string) bool {
	switch questionType {
	case QuestionEquityRegion:
		fc.EquityRegion = value
	case QuestionEquityStyle:
		fc.EquityStyle = value
	case QuestionEquitySize:
		fc.EquitySize = value
	case QuestionFixedIncomeType:
		fc.FixedIncomeType = value
	case QuestionFixedIncomeDuration:
		fc.FixedIncomeDuration = value
	default:
		return false
	}
	return true
}

func (fc *FundCategorization) FilledSubCategories() int {
	count := 0
	for _, value := range []string{fc.EquityRegion, fc.EquityStyle, fc.EquitySize, fc.FixedIncomeType, fc.FixedIncomeDuration} {
		if value != "" {
			count++
		}
	}
	return count
}

// ApplyOverride replaces the asset class with a user decision. Sub-categories
// belonging to the previous asset class are cleared.
func (fc *FundCategorization) ApplyOverride(assetClass, reason, by string, subCategories map[string]string, at time.Time) {
	if assetClass != fc.AssetClass {
		fc.EquityRegion, fc.EquityStyle, fc.EquitySize = "", "", ""
		fc.FixedIncomeType, fc.FixedIncomeDuration = "", ""
	}
	fc.AssetClass = assetClass
	fc.AssetClassConfidence = 1.0
	fc.ManualOverride = true
	fc.OverrideReason = reason
	fc.OverrideBy = by
	fc.OverrideTimestamp = &at

	for key, value := range subCategories {
		fc.SetSubCategory(QuestionType(key), value)
	}
}

func (fc *FundCategorization) Clone() *FundCategorization {
	clone := *fc
	clone.ResearchSources = append([]string(nil), fc.ResearchSources...)
	clone.AlternativeClassifications = append([]AlternativeClassification(nil), fc.AlternativeClassifications...)
	if fc.DataPoints != nil {
		clone.DataPoints = make(map[string]DataPoint, len(fc.DataPoints))
		for k, v := range fc.DataPoints {
			clone.DataPoints[k] = v
		}
	}
	return &clone
}

type QuestionType string

const (
	QuestionAssetClass          QuestionType = "asset_class"
	QuestionEquityRegion        QuestionType = "equity_region"
	QuestionEquityStyle         QuestionType = "equity_style"
	QuestionEquitySize          QuestionType = "equity_size"
	QuestionFixedIncomeType     QuestionType = "fixed_income_type"
	QuestionFixedIncomeDuration QuestionType = "fixed_income_duration"
)

var questionTypes = []QuestionType{
	QuestionAssetClass, QuestionEquityRegion, QuestionEquityStyle, QuestionEquitySize,
	QuestionFixedIncomeType, QuestionFixedIncomeDuration,
}

func QuestionID(ticker string, questionType QuestionType) string {
	return ticker + "_" + string(questionType)
}

// ParseQuestionID splits "TICKER_type" on the known question type suffix, so
// tickers containing underscores still parse.
func ParseQuestionID(questionID string) (string, QuestionType, bool) {
	for _, questionType := range questionTypes {
		suffix := "_" + string(questionType)
		if strings.HasSuffix(questionID, suffix) && len(questionID) > len(suffix) {
			return strings.TrimSuffix(questionID, suffix), questionType, true
		}
	}
	return "", "", false
}

type QuestionOption struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	Recommended bool   `json:"recommended,omitempty"`
}

type CategoryQuestion struct {
	QuestionID            string              `json:"question_id"`
	Ticker                string              `json:"ticker"`
	FundName              string              `json:"fund_name"`
	QuestionType          QuestionType        `json:"question_type"`
	QuestionText          string              `json:"question"`
	Options               []QuestionOption    `json:"options"`
	AllowCustom           bool                `json:"allow_custom"`
	CurrentClassification *FundCategorization `json:"current_classification,omitempty"`
	ConfidenceScore       float64             `json:"confidence"`
	Reasoning             string              `json:"reasoning,omitempty"`
	Priority              int                 `json:"priority"`
	CreatedAt             time.Time           `json:"created_at"`
}

func (q CategoryQuestion) ToChatMessage() Payload {
	return Payload{
		"type":        "categorization_question",
		"question_id": q.QuestionID,
		"ticker":      q.Ticker,
		"fund_name":   q.FundName,
		"question":    q.QuestionText,
		"options":     q.Options,
		"context": map[string]interface{}{
			"current_classification": q.CurrentClassification,
			"confidence":             q.ConfidenceScore,
			"reasoning":              q.Reasoning,
		},
		"metadata": map[string]interface{}{
			"question_type": q.QuestionType,
			"priority":      q.Priority,
			"allow_custom":  q.AllowCustom,
		},
	}
}

type AssetClassBreakdown struct {
	Count         int      `json:"count"`
	Percentage    float64  `json:"percentage"`
	AvgConfidence float64  `json:"avg_confidence"`
	Funds         []string `json:"funds"`
}

type CategorizationSummary struct {
	TotalFunds               int                            `json:"total_funds"`
	AverageConfidence        float64                        `json:"average_confidence"`
	HighConfidencePercentage float64                        `json:"high_confidence_percentage"`
	AssetClassBreakdown      map[string]AssetClassBreakdown `json:"asset_class_breakdown"`
	RequiresUserInput        int                            `json:"requires_user_input"`
	ManualOverrides          int                            `json:"manual_overrides"`
}

// Summarize aggregates categorizations in the given order.
func Summarize(categorizations []*FundCategorization, reviewThreshold, highConfidence float64) CategorizationSummary {
	summary := CategorizationSummary{
		TotalFunds:          len(categorizations),
		AssetClassBreakdown: make(map[string]AssetClassBreakdown),
	}
	if len(categorizations) == 0 {
		return summary
	}

	total := 0.0
	high := 0
	confidenceSums := make(map[string]float64)
	for _, fc := range categorizations {
		total += fc.AssetClassConfidence
		if fc.AssetClassConfidence >= highConfidence {
			high++
		}
		if fc.AssetClassConfidence < reviewThreshold {
			summary.RequiresUserInput++
		}
		if fc.ManualOverride {
			summary.ManualOverrides++
		}

		breakdown := summary.AssetClassBreakdown[fc.AssetClass]
		breakdown.Count++
		breakdown.Funds = append(breakdown.Funds, fc.Ticker)
		summary.AssetClassBreakdown[fc.AssetClass] = breakdown
		confidenceSums[fc.AssetClass] += fc.AssetClassConfidence
	}

	n := float64(len(categorizations))
	summary.AverageConfidence = total / n
	summary.HighConfidencePercentage = float64(high) / n * 100
	for assetClass, breakdown := range summary.AssetClassBreakdown {
		breakdown.Percentage = float64(breakdown.Count) / n * 100
		breakdown.AvgConfidence = confidenceSums[assetClass] / float64(breakdown.Count)
		summary.AssetClassBreakdown[assetClass] = breakdown
	}

	return summary
}
