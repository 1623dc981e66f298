package agents_test

import (
	"context"
	"testing"
	"time"

	"github.com/chat-omega/fundonboarding/internal/agents"
	"github.com/chat-omega/fundonboarding/internal/cache"
	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/scoring"
)

func TestClassifyKnownFunds(t *testing.T) {
	tests := []struct {
		ticker      string
		name        string
		wantClass   string
		wantFilled  int
		wantSubType models.QuestionType
		wantSub     string
	}{
		{"VTI", "Vanguard Total Stock Market ETF", models.AssetClassEquity, 3, models.QuestionEquitySize, "Large"},
		{"BND", "Vanguard Total Bond Market ETF", models.AssetClassFixedIncome, 2, models.QuestionFixedIncomeDuration, "Intermediate"},
		{"GLD", "SPDR Gold Shares", models.AssetClassAlternatives, 0, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ticker, func(t *testing.T) {
			fc := agents.ClassifyFund(models.PortfolioItem{Ticker: tt.ticker, Name: tt.name}, nil)

			if fc.AssetClass != tt.wantClass {
				t.Errorf("Expected %s, got %s", tt.wantClass, fc.AssetClass)
			}
			if fc.AssetClassConfidence != 0.95 {
				t.Errorf("Expected confidence 0.95, got %f", fc.AssetClassConfidence)
			}
			if fc.ClassificationMethod != agents.MethodKnownFund {
				t.Errorf("Expected known_fund, got %s", fc.ClassificationMethod)
			}
			if fc.FilledSubCategories() != tt.wantFilled {
				t.Errorf("Expected %d sub-categories, got %d", tt.wantFilled, fc.FilledSubCategories())
			}
			if tt.wantSubType != "" && fc.SubCategory(tt.wantSubType) != tt.wantSub {
				t.Errorf("Expected %s=%s, got %s", tt.wantSubType, tt.wantSub, fc.SubCategory(tt.wantSubType))
			}
			if len(agents.ReviewReasons(fc, 0.7)) != 0 {
				t.Errorf("Expected no review reasons, got %v", agents.ReviewReasons(fc, 0.7))
			}
		})
	}
}

func TestClassifyKnownFundKeepsRuleAsAlternative(t *testing.T) {
	fc := agents.ClassifyFund(models.PortfolioItem{Ticker: "VTI", Name: "Vanguard Total Stock Market ETF"}, nil)

	if len(fc.AlternativeClassifications) != 1 {
		t.Fatalf("Expected 1 alternative, got %d", len(fc.AlternativeClassifications))
	}
	alt := fc.AlternativeClassifications[0]
	if alt.Method != agents.MethodRuleBased || alt.Confidence != 0.9 {
		t.Errorf("Expected rule_based at 0.9, got %s at %f", alt.Method, alt.Confidence)
	}
	if alt.Reasoning != "Matched pattern: ^VT[ISMX]" {
		t.Errorf("Expected matched pattern reasoning, got %s", alt.Reasoning)
	}
}

func TestClassifyByRules(t *testing.T) {
	tests := []struct {
		name           string
		item           models.PortfolioItem
		wantClass      string
		wantConfidence float64
	}{
		{"money market before bond", models.PortfolioItem{Ticker: "SWVXX", Name: "Schwab Money Market Fund"}, models.AssetClassCash, 0.9},
		{"bond keyword", models.PortfolioItem{Ticker: "FXNAX", Name: "Fidelity US Bond Index"}, models.AssetClassFixedIncome, 0.8},
		{"international keyword", models.PortfolioItem{Ticker: "FSPSX", Name: "Fidelity International Index"}, models.AssetClassEquity, 0.7},
		{"commodity keyword", models.PortfolioItem{Ticker: "PDBC", Name: "Invesco Optimum Yield Diversified Commodity"}, models.AssetClassAlternatives, 0.75},
		{"provided asset class", models.PortfolioItem{Ticker: "ABCDX", Name: "Acme Fund", AssetClass: "Debt"}, models.AssetClassFixedIncome, 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := agents.ClassifyFund(tt.item, nil)
			if fc.AssetClass != tt.wantClass {
				t.Errorf("Expected %s, got %s", tt.wantClass, fc.AssetClass)
			}
			if fc.AssetClassConfidence != tt.wantConfidence {
				t.Errorf("Expected %f, got %f", tt.wantConfidence, fc.AssetClassConfidence)
			}
			if fc.ClassificationMethod != agents.MethodRuleBased {
				t.Errorf("Expected rule_based, got %s", fc.ClassificationMethod)
			}
		})
	}
}

func TestClassifyUnknownFundDefaults(t *testing.T) {
	fc := agents.ClassifyFund(models.PortfolioItem{Ticker: "XYZQ", Name: "Mystery Holdings Trust"}, nil)

	if fc.AssetClass != models.AssetClassEquity || fc.AssetClassConfidence != 0.1 {
		t.Errorf("Expected Equity at 0.1, got %s at %f", fc.AssetClass, fc.AssetClassConfidence)
	}
	if fc.ClassificationMethod != agents.MethodUnknown {
		t.Errorf("Expected unknown method, got %s", fc.ClassificationMethod)
	}
	if fc.Reasoning != "No classification method succeeded" {
		t.Errorf("Unexpected reasoning %q", fc.Reasoning)
	}
}

func TestClassifyTieGoesToEarlierAttempt(t *testing.T) {
	item := models.PortfolioItem{Ticker: "ABCX", Name: "Alpha Core Fund"}
	research := agents.SynthesizeResearch(item, []models.ResearchResult{{
		Ticker: "ABCX", QueryType: models.QueryTypeCategory, SourceURL: "https://www.morningstar.com/funds/abcx",
		Confidence: 0.85, Timestamp: fixedNow,
		ExtractedData: models.ExtractedData{MorningstarCategory: "Intermediate Government Bond"},
	}}, fixedNow)

	fc := agents.ClassifyFund(item, &research)

	if fc.ClassificationMethod != agents.MethodResearchBased {
		t.Errorf("Expected research_based to win the tie, got %s", fc.ClassificationMethod)
	}
	if fc.AssetClass != models.AssetClassFixedIncome {
		t.Errorf("Expected Fixed Income, got %s", fc.AssetClass)
	}
	if fc.FixedIncomeType != "Government" {
		t.Errorf("Expected Government, got %s", fc.FixedIncomeType)
	}
	if fc.MorningstarCategory != "Intermediate Government Bond" {
		t.Errorf("Expected morningstar category to be recorded, got %s", fc.MorningstarCategory)
	}
	if len(fc.AlternativeClassifications) != 1 || fc.AlternativeClassifications[0].Method != agents.MethodMorningstar {
		t.Errorf("Expected morningstar alternative, got %+v", fc.AlternativeClassifications)
	}
	if len(fc.ResearchSources) != 1 {
		t.Errorf("Expected research sources to be carried, got %v", fc.ResearchSources)
	}
}

func TestNormalizeAssetClass(t *testing.T) {
	tests := map[string]string{
		"US Stock":         models.AssetClassEquity,
		"fixed income":     models.AssetClassFixedIncome,
		"Money Market":     models.AssetClassCash,
		"Hedge strategies": models.AssetClassAlternatives,
		"something else":   models.AssetClassEquity,
	}
	for input, want := range tests {
		if got := agents.NormalizeAssetClass(input); got != want {
			t.Errorf("Expected %q -> %s, got %s", input, want, got)
		}
	}
}

func newClassification(t *testing.T, c *cache.Cache) *agents.ClassificationAgent {
	t.Helper()
	agent, err := agents.NewClassificationAgent("session-1", scoring.NewScorer(), c, agents.ClassificationOptions{
		ReviewThreshold: 0.7,
		HighConfidence:  0.8,
		CacheTTL:        time.Hour,
		Clock:           fixedClock,
	}, nil)
	if err != nil {
		t.Fatalf("NewClassificationAgent failed: %v", err)
	}
	if err := agent.Initialize(context.Background(), models.NewAgentContext("session-1")); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return agent
}

func classificationResult(t *testing.T, items ...models.PortfolioItem) models.Message {
	t.Helper()
	return classifyWith(t, newClassification(t, nil), map[string]*models.FundResearch{}, items...)
}

func classifyWith(t *testing.T, agent *agents.ClassificationAgent, research map[string]*models.FundResearch, items ...models.PortfolioItem) models.Message {
	t.Helper()
	input := newInput(t, "session-1", models.MessageTypeDataProcessed, models.Payload{
		agents.KeyPortfolioItems:  items,
		agents.KeySynthesizedData: research,
	})
	result := lastMessage(t, agents.Drain(agent.Process(context.Background(), input)))
	if result.Type != models.MessageTypeDataProcessed {
		t.Fatalf("Expected data_processed, got %s: %v", result.Type, result.Payload)
	}
	return result
}

func TestClassificationAgentKnownPortfolioFinalizes(t *testing.T) {
	result := classificationResult(t,
		models.PortfolioItem{Ticker: "VTI", Name: "Vanguard Total Stock Market ETF"},
		models.PortfolioItem{Ticker: "BND", Name: "Vanguard Total Bond Market ETF"},
		models.PortfolioItem{Ticker: "GLD", Name: "SPDR Gold Shares"},
	)

	if result.PayloadString("next_action") != agents.NextActionFinalize {
		t.Errorf("Expected finalize, got %s", result.PayloadString("next_action"))
	}
	summary, _, _ := agents.Decode[models.CategorizationSummary](result.Payload, agents.KeySummary)
	if summary.RequiresUserInput != 0 {
		t.Errorf("Expected no funds requiring input, got %d", summary.RequiresUserInput)
	}
	if summary.AverageConfidence < 0.95-1e-9 {
		t.Errorf("Expected average confidence >= 0.95, got %f", summary.AverageConfidence)
	}
	interactions, _, _ := agents.Decode[[]agents.Interaction](result.Payload, agents.KeyInteractionNeeded)
	if len(interactions) != 0 {
		t.Errorf("Expected no interactions, got %d", len(interactions))
	}

	categorizations, _, _ := agents.Decode[[]*models.FundCategorization](result.Payload, agents.KeyCategorizations)
	for _, fc := range categorizations {
		if fc.ConfidenceScore <= 0 || fc.ConfidenceScore > 1 {
			t.Errorf("Expected scorer confidence in (0,1] for %s, got %f", fc.Ticker, fc.ConfidenceScore)
		}
		if fc.ConfidenceExplanation == "" {
			t.Errorf("Expected confidence explanation for %s", fc.Ticker)
		}
	}
}

func TestClassificationAgentUnknownFundNeedsReview(t *testing.T) {
	result := classificationResult(t, models.PortfolioItem{Ticker: "XYZQ", Name: "Mystery Holdings Trust"})

	if result.PayloadString("next_action") != agents.NextActionUserReview {
		t.Errorf("Expected user_review, got %s", result.PayloadString("next_action"))
	}
	interactions, _, _ := agents.Decode[[]agents.Interaction](result.Payload, agents.KeyInteractionNeeded)
	if len(interactions) != 1 {
		t.Fatalf("Expected 1 interaction, got %d", len(interactions))
	}
	interaction := interactions[0]
	if interaction.Reasons[0] != "Low confidence (10.0%)" {
		t.Errorf("Expected low confidence reason, got %v", interaction.Reasons)
	}
	if len(interaction.SuggestedQuestions) != 4 {
		t.Errorf("Expected 4 suggested questions, got %d", len(interaction.SuggestedQuestions))
	}
}

func TestClassificationCacheFollowsResearch(t *testing.T) {
	agent := newClassification(t, newResearchCache(t))
	item := models.PortfolioItem{Ticker: "XYZQ", Name: "Mystery Holdings Trust"}

	firstClass := func(result models.Message) *models.FundCategorization {
		t.Helper()
		categorizations, _, err := agents.Decode[[]*models.FundCategorization](result.Payload, agents.KeyCategorizations)
		if err != nil || len(categorizations) != 1 {
			t.Fatalf("Expected 1 categorization, got %d (err=%v)", len(categorizations), err)
		}
		return categorizations[0]
	}

	before := firstClass(classifyWith(t, agent, map[string]*models.FundResearch{}, item))
	if before.ClassificationMethod != agents.MethodUnknown {
		t.Fatalf("Expected unknown method without research, got %s", before.ClassificationMethod)
	}

	research := &models.FundResearch{
		Ticker:   "XYZQ",
		FundName: item.Name,
		SuggestedCategories: models.SuggestedCategories{
			AssetClass: models.Suggestion{Value: models.AssetClassFixedIncome, Confidence: 0.9},
		},
	}
	after := firstClass(classifyWith(t, agent, map[string]*models.FundResearch{"XYZQ": research}, item))

	if after.AssetClass != models.AssetClassFixedIncome {
		t.Errorf("Expected Fixed Income, got %s", after.AssetClass)
	}
	if after.AssetClassConfidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %f", after.AssetClassConfidence)
	}
	if after.ClassificationMethod != agents.MethodResearchBased {
		t.Errorf("Expected research_based, got %s", after.ClassificationMethod)
	}
}

func TestResearchFingerprint(t *testing.T) {
	var missing *models.FundResearch
	if missing.Fingerprint() != "" {
		t.Errorf("Expected empty fingerprint for nil research, got %q", missing.Fingerprint())
	}

	base := models.FundResearch{
		DataPoints: map[string]models.DataPoint{
			models.DataPointMorningstarCategory: {Value: "Large Blend", Confidence: 0.85, ExtractedAt: fixedNow},
		},
		SuggestedCategories: models.SuggestedCategories{
			AssetClass: models.Suggestion{Value: models.AssetClassEquity, Confidence: 0.85},
		},
	}
	later := base
	later.DataPoints = map[string]models.DataPoint{
		models.DataPointMorningstarCategory: {Value: "Large Blend", Confidence: 0.85, ExtractedAt: fixedNow.Add(time.Hour)},
	}
	if base.Fingerprint() != later.Fingerprint() {
		t.Error("Expected extraction time to be ignored")
	}

	changed := base
	changed.SuggestedCategories.AssetClass = models.Suggestion{Value: models.AssetClassFixedIncome, Confidence: 0.9}
	if base.Fingerprint() == changed.Fingerprint() {
		t.Error("Expected a different suggested asset class to change the fingerprint")
	}
}
