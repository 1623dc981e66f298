package agents_test

import (
	"testing"

	"github.com/chat-omega/fundonboarding/internal/agents"
	"github.com/chat-omega/fundonboarding/internal/models"
)

func TestGenerateQuestionsForLowConfidenceEquity(t *testing.T) {
	fc := &models.FundCategorization{
		Ticker:               "XYZQ",
		FundName:             "Mystery Holdings Trust",
		AssetClass:           models.AssetClassEquity,
		AssetClassConfidence: 0.1,
	}

	questions := agents.GenerateQuestions(fc, 0.7, fixedNow)

	wantTypes := []models.QuestionType{
		models.QuestionAssetClass, models.QuestionEquityRegion,
		models.QuestionEquityStyle, models.QuestionEquitySize,
	}
	if len(questions) != len(wantTypes) {
		t.Fatalf("Expected %d questions, got %d", len(wantTypes), len(questions))
	}
	for i, want := range wantTypes {
		if questions[i].QuestionType != want {
			t.Errorf("Expected %s at %d, got %s", want, i, questions[i].QuestionType)
		}
	}

	first := questions[0]
	if first.QuestionID != "XYZQ_asset_class" {
		t.Errorf("Expected XYZQ_asset_class, got %s", first.QuestionID)
	}
	if first.QuestionText != "How should XYZQ (Mystery Holdings Trust) be classified?" {
		t.Errorf("Unexpected question text %q", first.QuestionText)
	}
	recommended := ""
	for _, option := range first.Options {
		if option.Recommended {
			recommended = option.Value
		}
	}
	if recommended != models.AssetClassEquity {
		t.Errorf("Expected Equity to be recommended, got %q", recommended)
	}
	if first.Options[2].Label != "Cash & Cash Equivalents" {
		t.Errorf("Expected cash label, got %s", first.Options[2].Label)
	}
}

func TestGenerateQuestionsSkipsFilledSubCategories(t *testing.T) {
	fc := &models.FundCategorization{
		Ticker:               "AGGX",
		AssetClass:           models.AssetClassFixedIncome,
		AssetClassConfidence: 0.9,
		FixedIncomeType:      "Government",
	}

	questions := agents.GenerateQuestions(fc, 0.7, fixedNow)
	if len(questions) != 1 {
		t.Fatalf("Expected 1 question, got %d", len(questions))
	}
	if questions[0].QuestionType != models.QuestionFixedIncomeDuration {
		t.Errorf("Expected duration question, got %s", questions[0].QuestionType)
	}
	if len(questions[0].Options) != 3 {
		t.Errorf("Expected 3 duration options, got %d", len(questions[0].Options))
	}
}

func TestGenerateQuestionsForCompleteFund(t *testing.T) {
	fc := &models.FundCategorization{
		Ticker:               "GLD",
		AssetClass:           models.AssetClassAlternatives,
		AssetClassConfidence: 0.95,
	}
	if questions := agents.GenerateQuestions(fc, 0.7, fixedNow); len(questions) != 0 {
		t.Errorf("Expected no questions, got %d", len(questions))
	}
}

func TestReviewReasons(t *testing.T) {
	fc := &models.FundCategorization{
		Ticker:               "BNDX",
		AssetClass:           models.AssetClassFixedIncome,
		AssetClassConfidence: 0.5,
	}
	reasons := agents.ReviewReasons(fc, 0.7)
	want := []string{"Low confidence (50.0%)", "Missing type classification", "Missing duration classification"}
	if len(reasons) != len(want) {
		t.Fatalf("Expected %v, got %v", want, reasons)
	}
	for i := range want {
		if reasons[i] != want[i] {
			t.Errorf("Expected %q at %d, got %q", want[i], i, reasons[i])
		}
	}
}
