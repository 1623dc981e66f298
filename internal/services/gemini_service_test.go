package services_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chat-omega/fundonboarding/internal/config"
	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/services"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (generator *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	generator.mu.Lock()
	defer generator.mu.Unlock()

	call := generator.calls
	generator.calls++
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		generator.prompts = append(generator.prompts, contents[0].Parts[0].Text)
	}
	if call < len(generator.errs) && generator.errs[call] != nil {
		return nil, generator.errs[call]
	}
	text := ""
	if len(generator.responses) > 0 {
		text = generator.responses[min(call, len(generator.responses)-1)]
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}, nil
}

func newGemini(generator *fakeGenerator, retries int) *services.GeminiService {
	return services.NewGeminiServiceWithGenerator(generator, config.GeminiConfig{
		Model:      "test-model",
		Timeout:    time.Second,
		MaxRetries: retries,
		RetryDelay: time.Millisecond,
	}, nil)
}

func TestGeminiClassifyParsesFencedJSON(t *testing.T) {
	generator := &fakeGenerator{responses: []string{"```json\n{\"document_type\": \"multi_fund\", \"confidence\": 1.4, \"reasoning\": \"Several funds\", \"fund_count_estimate\": 3}\n```"}}
	service := newGemini(generator, 1)

	classification, err := service.Classify(context.Background(), models.Document{Name: "asset_manager_annual_report.pdf", Data: []byte("%PDF")})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if classification.Type != models.DocumentMultiFund {
		t.Errorf("Expected multi_fund, got %s", classification.Type)
	}
	if classification.Confidence != 1 {
		t.Errorf("Expected confidence clamped to 1, got %f", classification.Confidence)
	}
	if classification.FundCount == nil || *classification.FundCount != 3 {
		t.Errorf("Expected fund count 3, got %v", classification.FundCount)
	}
	if !strings.Contains(generator.prompts[0], "ASSET_MANAGER_ANNUAL_REPORT.PDF") {
		t.Errorf("Expected file name in prompt, got %q", generator.prompts[0])
	}
}

func TestGeminiClassifyFallsBackToFileName(t *testing.T) {
	tests := []struct {
		name           string
		wantType       models.DocumentType
		wantConfidence float64
	}{
		{"VTI.pdf", models.DocumentSingleFund, 0.6},
		{"fidelity_asset_manager.pdf", models.DocumentMultiFund, 0.6},
		{"statement.pdf", models.DocumentSingleFund, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator := &fakeGenerator{errs: []error{errors.New("quota exceeded")}}
			service := newGemini(generator, 1)

			classification, err := service.Classify(context.Background(), models.Document{Name: tt.name})
			if err != nil {
				t.Fatalf("Expected fallback instead of error, got %v", err)
			}
			if classification.Type != tt.wantType {
				t.Errorf("Expected %s, got %s", tt.wantType, classification.Type)
			}
			if classification.Confidence != tt.wantConfidence {
				t.Errorf("Expected %f, got %f", tt.wantConfidence, classification.Confidence)
			}
		})
	}
}

func TestGeminiExtractSingleFund(t *testing.T) {
	generator := &fakeGenerator{responses: []string{`{"fund_name": "Vanguard  Total Stock Market ETF", "ticker": null, "expense_ratio": 9, "nav": 250.5, "benchmark": "N/A"}`}}
	service := newGemini(generator, 1)

	records, err := service.Extract(context.Background(), models.Document{Name: "vti.pdf"}, models.DocumentClassification{Type: models.DocumentSingleFund})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	record := records[0]
	if record.String("ticker") != "VTI" {
		t.Errorf("Expected ticker from file name, got %q", record.String("ticker"))
	}
	if record.String("fund_name") != "Vanguard Total Stock Market ETF" {
		t.Errorf("Expected normalized fund name, got %q", record.String("fund_name"))
	}
	if ratio, _ := record.Float("expense_ratio"); ratio != 0.09 {
		t.Errorf("Expected expense ratio 0.09, got %f", ratio)
	}
	if record.String("fund_type") != "ETF" {
		t.Errorf("Expected fund type ETF, got %q", record.String("fund_type"))
	}
	if _, ok := record.Fields["benchmark"]; ok {
		t.Error("Expected N/A benchmark to be dropped")
	}
}

func TestGeminiExtractMultiFund(t *testing.T) {
	generator := &fakeGenerator{responses: []string{`{"funds": [{"fund_name": "Asset Manager 20%", "equity_pct": 20}, {"fund_name": "Asset Manager 70%", "equity_pct": 70}]}`}}
	service := newGemini(generator, 1)

	records, err := service.Extract(context.Background(), models.Document{Name: "AMF.pdf"}, models.DocumentClassification{Type: models.DocumentMultiFund})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[1].String("fund_name") != "Asset Manager 70%" {
		t.Errorf("Expected document order, got %q", records[1].String("fund_name"))
	}
	if _, ok := records[0].Fields["ticker"]; ok {
		t.Error("Expected no file name ticker for multi-fund documents")
	}
	if !strings.Contains(generator.prompts[0], `{"funds": [...]}`) {
		t.Error("Expected multi-fund prompt shape")
	}
}

func TestGeminiRetriesTransientFailures(t *testing.T) {
	generator := &fakeGenerator{
		errs:      []error{errors.New("503 unavailable")},
		responses: []string{"", `{"fund_name": "SPDR Gold Shares", "ticker": "GLD"}`},
	}
	service := newGemini(generator, 2)

	records, err := service.Extract(context.Background(), models.Document{Name: "gld.pdf"}, models.DocumentClassification{Type: models.DocumentSingleFund})
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if generator.calls != 2 {
		t.Errorf("Expected 2 calls, got %d", generator.calls)
	}
	if records[0].String("ticker") != "GLD" {
		t.Errorf("Expected GLD, got %q", records[0].String("ticker"))
	}
}

func TestGeminiExtractRejectsInvalidJSON(t *testing.T) {
	service := newGemini(&fakeGenerator{responses: []string{"I could not read this document"}}, 1)

	_, err := service.Extract(context.Background(), models.Document{Name: "x.pdf"}, models.DocumentClassification{})
	appErr, ok := models.AsAppError(err)
	if !ok || appErr.Code != "GEMINI_INVALID_JSON" {
		t.Errorf("Expected GEMINI_INVALID_JSON, got %v", err)
	}
}

func TestNewGeminiServiceRequiresKey(t *testing.T) {
	if _, err := services.NewGeminiService(config.GeminiConfig{}, nil); !models.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}
