package models_test

import (
	"testing"
	"time"

	"github.com/chat-omega/fundonboarding/internal/models"
)

func TestSessionTransitions(t *testing.T) {
	session := models.NewSession("session-1")

	steps := []struct {
		to       models.Stage
		progress float64
	}{
		{models.StageFileUploaded, models.ProgressFileUploaded},
		{models.StageResearching, models.ProgressResearching},
		{models.StageClassifying, models.ProgressClassifying},
		{models.StageReviewNeeded, models.ProgressReviewNeeded},
		{models.StageAnsweringQuestions, models.ProgressReviewNeeded},
		{models.StageComplete, models.ProgressComplete},
	}

	for _, step := range steps {
		if _, err := session.Transition(step.to, step.progress); err != nil {
			t.Fatalf("Failed to move to %s: %v", step.to, err)
		}
	}

	if len(session.StageHistory) != len(steps) {
		t.Errorf("Expected %d transitions recorded, got %d", len(steps), len(session.StageHistory))
	}
	if session.StageHistory[0].From != models.StageGreeting {
		t.Errorf("Expected first transition from greeting, got %s", session.StageHistory[0].From)
	}
	if !session.IsComplete() {
		t.Error("Expected session to be complete")
	}
}

func TestSessionRejectsInvalidTransition(t *testing.T) {
	tests := []struct {
		name string
		from []models.Stage
		to   models.Stage
	}{
		{"greeting to classifying", nil, models.StageClassifying},
		{"greeting to researching", nil, models.StageResearching},
		{"uploaded to complete", []models.Stage{models.StageFileUploaded}, models.StageComplete},
		{"researching to review", []models.Stage{models.StageFileUploaded, models.StageResearching}, models.StageReviewNeeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := models.NewSession("session-1")
			for _, stage := range tt.from {
				if _, err := session.Transition(stage, 0.5); err != nil {
					t.Fatalf("Setup transition to %s failed: %v", stage, err)
				}
			}
			before := session.Stage
			if _, err := session.Transition(tt.to, 0.5); err == nil {
				t.Errorf("Expected error moving to %s", tt.to)
			}
			if session.Stage != before {
				t.Errorf("Expected stage to stay %s, got %s", before, session.Stage)
			}
		})
	}
}

func TestQuestionIDParsing(t *testing.T) {
	tests := []struct {
		id       string
		ticker   string
		qType    models.QuestionType
		parsable bool
	}{
		{"VTI_asset_class", "VTI", models.QuestionAssetClass, true},
		{"BRK_B_equity_style", "BRK_B", models.QuestionEquityStyle, true},
		{"BND_fixed_income_duration", "BND", models.QuestionFixedIncomeDuration, true},
		{"_asset_class", "", "", false},
		{"VTI_colour", "", "", false},
	}

	for _, tt := range tests {
		ticker, qType, ok := models.ParseQuestionID(tt.id)
		if ok != tt.parsable {
			t.Errorf("Expected parsable=%v for %s, got %v", tt.parsable, tt.id, ok)
			continue
		}
		if ticker != tt.ticker || qType != tt.qType {
			t.Errorf("Expected %s/%s for %s, got %s/%s", tt.ticker, tt.qType, tt.id, ticker, qType)
		}
	}
}

func TestApplyOverride(t *testing.T) {
	fc := &models.FundCategorization{
		Ticker:               "XYZQ",
		AssetClass:           models.AssetClassEquity,
		AssetClassConfidence: 0.1,
		EquityRegion:         "US",
	}

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	fc.ApplyOverride(models.AssetClassFixedIncome, "User provided answer", "user", map[string]string{"fixed_income_type": "Corporate"}, at)

	if fc.AssetClassConfidence != 1.0 {
		t.Errorf("Expected confidence 1.0, got %v", fc.AssetClassConfidence)
	}
	if !fc.ManualOverride {
		t.Error("Expected manual override flag")
	}
	if fc.EquityRegion != "" {
		t.Errorf("Expected equity region cleared, got %s", fc.EquityRegion)
	}
	if fc.FixedIncomeType != "Corporate" {
		t.Errorf("Expected fixed income type Corporate, got %s", fc.FixedIncomeType)
	}
	if fc.OverrideTimestamp == nil || !fc.OverrideTimestamp.Equal(at) {
		t.Errorf("Expected override timestamp %v, got %v", at, fc.OverrideTimestamp)
	}
}

func TestSummarize(t *testing.T) {
	categorizations := []*models.FundCategorization{
		{Ticker: "VTI", AssetClass: models.AssetClassEquity, AssetClassConfidence: 0.95},
		{Ticker: "BND", AssetClass: models.AssetClassFixedIncome, AssetClassConfidence: 0.95},
		{Ticker: "XYZQ", AssetClass: models.AssetClassEquity, AssetClassConfidence: 0.1},
	}

	summary := models.Summarize(categorizations, 0.7, 0.8)

	if summary.TotalFunds != 3 {
		t.Errorf("Expected 3 funds, got %d", summary.TotalFunds)
	}
	if summary.RequiresUserInput != 1 {
		t.Errorf("Expected 1 fund requiring input, got %d", summary.RequiresUserInput)
	}
	equity := summary.AssetClassBreakdown[models.AssetClassEquity]
	if equity.Count != 2 {
		t.Errorf("Expected 2 equity funds, got %d", equity.Count)
	}
	if equity.Funds[0] != "VTI" || equity.Funds[1] != "XYZQ" {
		t.Errorf("Expected equity funds in input order, got %v", equity.Funds)
	}
	if summary.AverageConfidence < 0.66 || summary.AverageConfidence > 0.67 {
		t.Errorf("Expected average confidence ~0.667, got %v", summary.AverageConfidence)
	}
}
