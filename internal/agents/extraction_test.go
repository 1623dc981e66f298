package agents_test

import (
	"context"
	"math"
	"testing"

	"github.com/chat-omega/fundonboarding/internal/agents"
	"github.com/chat-omega/fundonboarding/internal/models"
)

func newExtraction(t *testing.T, storage agents.BlobStorage, classifier agents.DocumentClassifier, extractor agents.ExtractionBackend) *agents.ExtractionAgent {
	t.Helper()
	agent, err := agents.NewExtractionAgent("session-1", storage, classifier, extractor, 0.7, nil)
	if err != nil {
		t.Fatalf("NewExtractionAgent failed: %v", err)
	}
	if err := agent.Initialize(context.Background(), models.NewAgentContext("session-1")); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return agent
}

func TestExtractionAgentDegradesPerDocument(t *testing.T) {
	storage := &fakeStorage{}
	goodURI, _ := storage.Upload(context.Background(), []byte("%PDF factsheet"), "vti.pdf")
	brokenURI, _ := storage.Upload(context.Background(), []byte("%PDF scan"), "broken.pdf")

	classifier := &fakeClassifier{
		classification: models.DocumentClassification{Type: models.DocumentSingleFund, Confidence: 0.9},
		failFor:        "broken.pdf",
	}
	extractor := &fakeExtractor{records: []models.ExtractedRecord{{
		Fields: map[string]interface{}{
			"fund_name":     "Vanguard Total Stock Market ETF",
			"ticker":        "VTI",
			"expense_ratio": 0.03,
		},
	}}}
	agent := newExtraction(t, storage, classifier, extractor)

	input := newInput(t, "session-1", models.MessageTypeRequestAction, models.Payload{
		agents.KeyAction: agents.ActionStartExtraction,
		agents.KeyDocuments: []models.Document{
			{Name: "vti.pdf", URI: goodURI, Ticker: "VTI"},
			{Name: "broken.pdf", URI: brokenURI},
			{Name: "missing.pdf", URI: "mem://missing.pdf"},
		},
	})
	result := lastMessage(t, agents.Drain(agent.Process(context.Background(), input)))
	if result.Type != models.MessageTypeDataProcessed {
		t.Fatalf("Expected data_processed, got %s", result.Type)
	}

	results, _, _ := agents.Decode[[]models.ExtractionResult](result.Payload, agents.KeyExtractionResults)
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if !results[0].Succeeded() {
		t.Errorf("Expected vti.pdf to succeed, got %s", results[0].Error)
	}
	if results[0].RequiresReview {
		t.Errorf("Expected confident extraction not to need review, got %f", results[0].Confidence)
	}
	if results[0].Records[0].FieldConfidence["expense_ratio"] != 0.95 {
		t.Errorf("Expected expense ratio field confidence 0.95, got %f", results[0].Records[0].FieldConfidence["expense_ratio"])
	}
	for _, failed := range results[1:] {
		if failed.Succeeded() {
			t.Errorf("Expected %s to fail", failed.Document)
		}
	}

	summary, _, _ := agents.Decode[models.ExtractionSummary](result.Payload, agents.KeyExtractionSummary)
	if summary.TotalDocuments != 3 || summary.Successful != 1 || summary.Failed != 2 {
		t.Errorf("Unexpected summary %+v", summary)
	}
}

func TestExtractionAgentRequiresDocuments(t *testing.T) {
	agent := newExtraction(t, nil, &fakeClassifier{}, &fakeExtractor{})
	input := newInput(t, "session-1", models.MessageTypeRequestAction, models.Payload{
		agents.KeyAction: agents.ActionStartExtraction,
	})
	result := lastMessage(t, agents.Drain(agent.Process(context.Background(), input)))
	if result.Type != models.MessageTypeError {
		t.Errorf("Expected error message, got %s", result.Type)
	}
}

func TestSummarizeExtraction(t *testing.T) {
	summary := agents.SummarizeExtraction([]models.ExtractionResult{
		{Document: "a", Confidence: 0.9},
		{Document: "b", Confidence: 0.5, RequiresReview: true},
	})
	if math.Abs(summary.AverageConfidence-0.7) > 1e-9 {
		t.Errorf("Expected average 0.7, got %f", summary.AverageConfidence)
	}
	if summary.RequiresReview != 1 {
		t.Errorf("Expected 1 requiring review, got %d", summary.RequiresReview)
	}
}
