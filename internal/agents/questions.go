package agents

import (
	"fmt"
	"time"

	"github.com/chat-omega/fundonboarding/internal/models"
)

var (
	assetClassOptions = []models.QuestionOption{
		{Value: models.AssetClassEquity, Label: "Equity"},
		{Value: models.AssetClassFixedIncome, Label: "Fixed Income"},
		{Value: models.AssetClassCash, Label: "Cash & Cash Equivalents"},
		{Value: models.AssetClassAlternatives, Label: "Alternative Investments"},
	}
	equityRegionOptions = []models.QuestionOption{
		{Value: "US", Label: "United States"},
		{Value: "International", Label: "International Developed"},
		{Value: "Emerging", Label: "Emerging Markets"},
		{Value: "Global", Label: "Global/World"},
	}
	equityStyleOptions = []models.QuestionOption{
		{Value: "Value", Label: "Value"},
		{Value: "Growth", Label: "Growth"},
		{Value: "Blend", Label: "Blend/Core"},
	}
	equitySizeOptions = []models.QuestionOption{
		{Value: "Large", Label: "Large Cap"},
		{Value: "Mid", Label: "Mid Cap"},
		{Value: "Small", Label: "Small Cap"},
		{Value: "Micro", Label: "Micro Cap"},
	}
	fixedIncomeTypeOptions = []models.QuestionOption{
		{Value: "Government", Label: "Government/Treasury"},
		{Value: "Corporate", Label: "Corporate"},
		{Value: "Municipal", Label: "Municipal"},
		{Value: "High Yield", Label: "High Yield/Junk"},
	}
	fixedIncomeDurationOptions = []models.QuestionOption{
		{Value: "Short", Label: "Short Duration (< 3 years)"},
		{Value: "Intermediate", Label: "Intermediate Duration (3-10 years)"},
		{Value: "Long", Label: "Long Duration (> 10 years)"},
	}
)

// GenerateQuestions lists the review questions for one categorization in
// asking order: the asset class first when it is below the review threshold,
// then any missing sub-categories of the current class.
func GenerateQuestions(fc *models.FundCategorization, reviewThreshold float64, now time.Time) []models.CategoryQuestion {
	var questions []models.CategoryQuestion
	add := func(questionType models.QuestionType, text string, options []models.QuestionOption, priority int) {
		questions = append(questions, models.CategoryQuestion{
			QuestionID:            models.QuestionID(fc.Ticker, questionType),
			Ticker:                fc.Ticker,
			FundName:              fc.FundName,
			QuestionType:          questionType,
			QuestionText:          text,
			Options:               options,
			CurrentClassification: fc.Clone(),
			ConfidenceScore:       fc.AssetClassConfidence,
			Reasoning:             fc.Reasoning,
			Priority:              priority,
			CreatedAt:             now,
		})
	}

	if fc.AssetClassConfidence < reviewThreshold {
		options := make([]models.QuestionOption, len(assetClassOptions))
		for i, option := range assetClassOptions {
			option.Recommended = option.Value == fc.AssetClass
			options[i] = option
		}
		add(models.QuestionAssetClass,
			fmt.Sprintf("How should %s (%s) be classified?", fc.Ticker, fc.FundName), options, 1)
	}

	switch fc.AssetClass {
	case models.AssetClassEquity:
		if fc.EquityRegion == "" {
			add(models.QuestionEquityRegion,
				fmt.Sprintf("What geographic region does %s focus on?", fc.Ticker), equityRegionOptions, 2)
		}
		if fc.EquityStyle == "" {
			add(models.QuestionEquityStyle,
				fmt.Sprintf("What investment style does %s follow?", fc.Ticker), equityStyleOptions, 2)
		}
		if fc.EquitySize == "" {
			add(models.QuestionEquitySize,
				fmt.Sprintf("What market cap focus does %s have?", fc.Ticker), equitySizeOptions, 2)
		}
	case models.AssetClassFixedIncome:
		if fc.FixedIncomeType == "" {
			add(models.QuestionFixedIncomeType,
				fmt.Sprintf("What type of bonds does %s hold?", fc.Ticker), fixedIncomeTypeOptions, 2)
		}
		if fc.FixedIncomeDuration == "" {
			add(models.QuestionFixedIncomeDuration,
				fmt.Sprintf("What duration focus does %s have?", fc.Ticker), fixedIncomeDurationOptions, 2)
		}
	}

	return questions
}

// ReviewReasons explains why a categorization needs a human look. An empty
// result means it does not.
func ReviewReasons(fc *models.FundCategorization, reviewThreshold float64) []string {
	var reasons []string
	if fc.AssetClassConfidence < reviewThreshold {
		reasons = append(reasons, fmt.Sprintf("Low confidence (%.1f%%)", fc.AssetClassConfidence*100))
	}
	switch fc.AssetClass {
	case models.AssetClassEquity:
		if fc.EquityRegion == "" {
			reasons = append(reasons, "Missing region classification")
		}
		if fc.EquityStyle == "" {
			reasons = append(reasons, "Missing style classification")
		}
		if fc.EquitySize == "" {
			reasons = append(reasons, "Missing size classification")
		}
	case models.AssetClassFixedIncome:
		if fc.FixedIncomeType == "" {
			reasons = append(reasons, "Missing type classification")
		}
		if fc.FixedIncomeDuration == "" {
			reasons = append(reasons, "Missing duration classification")
		}
	}
	return reasons
}
