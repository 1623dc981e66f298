package services_test

import (
	"math"
	"strings"
	"testing"

	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/services"
)

func record(confidence float64, fields map[string]interface{}) models.ExtractedRecord {
	return models.ExtractedRecord{Fields: fields, Confidence: confidence}
}

func TestAnalyzeExtraction(t *testing.T) {
	results := []models.ExtractionResult{
		{
			Document: "vti_factsheet.pdf",
			Records:  []models.ExtractedRecord{record(0.9, map[string]interface{}{"expense_ratio": 0.03})},
		},
		{
			Document: "annual_report.pdf",
			Records: []models.ExtractedRecord{
				record(0.7, map[string]interface{}{"expense_ratio": 0.05}),
				record(0.8, map[string]interface{}{"fund_name": "Growth Fund"}),
			},
		},
		{Document: "broken.pdf", Error: "download failed"},
	}

	analysis := services.AnalyzeExtraction(results)

	if analysis.TotalFunds != 3 {
		t.Errorf("Expected 3 funds, got %d", analysis.TotalFunds)
	}
	if math.Abs(analysis.OverallConfidence-0.8) > 1e-9 {
		t.Errorf("Expected overall confidence 0.8, got %f", analysis.OverallConfidence)
	}
	if analysis.AverageExpenseRatio == nil || math.Abs(*analysis.AverageExpenseRatio-0.04) > 1e-9 {
		t.Errorf("Expected average expense ratio 0.04, got %v", analysis.AverageExpenseRatio)
	}
}

func TestPortfolioAnalysisInsights(t *testing.T) {
	ratio := func(v float64) *float64 { return &v }

	tests := []struct {
		name     string
		analysis services.PortfolioAnalysis
		want     string
		notWant  string
	}{
		{
			name:     "no funds",
			analysis: services.PortfolioAnalysis{},
			want:     "ready for review",
		},
		{
			name:     "low cost",
			analysis: services.PortfolioAnalysis{TotalFunds: 2, OverallConfidence: 0.9, AverageExpenseRatio: ratio(0.1)},
			want:     "low-cost",
			notWant:  "costly",
		},
		{
			name:     "costly",
			analysis: services.PortfolioAnalysis{TotalFunds: 1, OverallConfidence: 0.6, AverageExpenseRatio: ratio(1.4)},
			want:     "costly",
		},
		{
			name:     "no expense data",
			analysis: services.PortfolioAnalysis{TotalFunds: 1, OverallConfidence: 0.5},
			want:     "1 funds analyzed with 50% confidence",
			notWant:  "expense ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := tt.analysis.Insights()
			if !strings.Contains(text, tt.want) {
				t.Errorf("Expected insights to contain %q, got %q", tt.want, text)
			}
			if tt.notWant != "" && strings.Contains(text, tt.notWant) {
				t.Errorf("Expected insights without %q, got %q", tt.notWant, text)
			}
		})
	}
}
