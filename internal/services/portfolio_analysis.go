package services

import (
	"fmt"
	"strings"

	"github.com/chat-omega/fundonboarding/internal/models"
)

// PortfolioAnalysis aggregates the records extracted from fund documents.
type PortfolioAnalysis struct {
	TotalFunds          int      `json:"total_funds"`
	AverageExpenseRatio *float64 `json:"average_expense_ratio,omitempty"`
	OverallConfidence   float64  `json:"overall_confidence"`
	DataCompleteness    float64  `json:"data_completeness"`
}

func AnalyzeExtraction(results []models.ExtractionResult) PortfolioAnalysis {
	var (
		analysis   PortfolioAnalysis
		ratioSum   float64
		ratioCount int
		confidence float64
	)
	for _, result := range results {
		if !result.Succeeded() {
			continue
		}
		for _, record := range result.Records {
			analysis.TotalFunds++
			confidence += record.Confidence
			if ratio, ok := record.Float("expense_ratio"); ok {
				ratioSum += ratio
				ratioCount++
			}
		}
	}

	if analysis.TotalFunds > 0 {
		analysis.OverallConfidence = confidence / float64(analysis.TotalFunds)
		analysis.DataCompleteness = analysis.OverallConfidence
	}
	if ratioCount > 0 {
		average := ratioSum / float64(ratioCount)
		analysis.AverageExpenseRatio = &average
	}
	return analysis
}

// Insights renders the analysis as a chat message. Expense ratios are in
// percent.
func (analysis PortfolioAnalysis) Insights() string {
	if analysis.TotalFunds == 0 {
		return "Analysis complete! Your fund data has been extracted and is ready for review."
	}

	insights := []string{
		fmt.Sprintf("Portfolio overview: %d funds analyzed with %.0f%% confidence.", analysis.TotalFunds, analysis.OverallConfidence*100),
	}
	if analysis.AverageExpenseRatio != nil {
		ratio := *analysis.AverageExpenseRatio
		insights = append(insights, fmt.Sprintf("Average expense ratio: %.2f%%.", ratio))
		switch {
		case ratio < 0.5:
			insights = append(insights, "Your portfolio is built from low-cost funds.")
		case ratio > 1.0:
			insights = append(insights, "Consider reviewing expense ratios, some funds may be costly.")
		}
	}
	return strings.Join(insights, " ")
}
