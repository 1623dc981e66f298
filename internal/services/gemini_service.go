package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/chat-omega/fundonboarding/internal/config"
	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
	"github.com/sony/gobreaker"
	"google.golang.org/genai"
)

// ContentGenerator is the subset of the Gemini models API the service calls.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiService classifies fund documents and extracts structured fund data
// from them.
type GeminiService struct {
	models  ContentGenerator
	breaker *gobreaker.CircuitBreaker
	config  config.GeminiConfig
	logger  *logger.Logger
}

type generationRequest struct {
	Operation string
	Prompt    string
	Document  models.Document
	MaxTokens int32
}

var (
	jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)
	tickerFilePattern = regexp.MustCompile(`^[A-Z]{2,5}$`)

	singleFundFilePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^V[A-Z]{2,3}\.PDF$`),
		regexp.MustCompile(`^I[A-Z]{2,4}\.PDF$`),
		regexp.MustCompile(`^[A-Z]{3,4}_.*\.PDF$`),
		regexp.MustCompile(`.*ETF.*FACT.*SHEET.*\.PDF$`),
		regexp.MustCompile(`^(SPY|QQQ|IWM)\.PDF$`),
	}
	multiFundFilePatterns = []*regexp.Regexp{
		regexp.MustCompile(`.*ASSET.MANAGER.*\.PDF$`),
		regexp.MustCompile(`.*ANNUAL.REPORT.*\.PDF$`),
		regexp.MustCompile(`.*CONSOLIDATED.*\.PDF$`),
		regexp.MustCompile(`.*MULTI.*FUND.*\.PDF$`),
	}
)

func NewGeminiService(cfg config.GeminiConfig, log *logger.Logger) (*GeminiService, error) {
	if cfg.APIKey == "" {
		return nil, models.NewValidationError("GEMINI_API_KEY_REQUIRED", "Gemini API key required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, models.WrapExternalError("gemini", err)
	}

	service := NewGeminiServiceWithGenerator(client.Models, cfg, log)
	service.logger.Info("AI service Initialized Successfully - Gemini API",
		"model", cfg.Model,
		"max_retries", cfg.MaxRetries)
	return service, nil
}

func NewGeminiServiceWithGenerator(generator ContentGenerator, cfg config.GeminiConfig, log *logger.Logger) *GeminiService {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	return &GeminiService{
		models: generator,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "gemini",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
		config: cfg,
		logger: log,
	}
}

// Classify decides whether a document describes one fund or several. When the
// model cannot answer, the file name decides with reduced confidence.
func (service *GeminiService) Classify(ctx context.Context, document models.Document) (models.DocumentClassification, error) {
	name := strings.ToUpper(filepath.Base(documentFileName(document)))
	hint, pattern := filenameHint(name)

	text, err := service.generate(ctx, generationRequest{
		Operation: "classify_document",
		Prompt:    buildClassificationPrompt(name, pattern),
		Document:  document,
		MaxTokens: 1024,
	})
	if err != nil {
		if ctx.Err() != nil {
			return models.DocumentClassification{}, err
		}
		return fallbackClassification(hint, err), nil
	}

	var parsed struct {
		DocumentType      string   `json:"document_type"`
		Confidence        float64  `json:"confidence"`
		Reasoning         string   `json:"reasoning"`
		FundCountEstimate *int     `json:"fund_count_estimate"`
		FundNames         []string `json:"fund_names"`
	}
	if err := decodeJSONObject(text, &parsed); err != nil {
		return fallbackClassification(hint, err), nil
	}

	classification := models.DocumentClassification{
		Type:       models.DocumentType(parsed.DocumentType),
		Confidence: clamp01(parsed.Confidence),
		Reasoning:  parsed.Reasoning,
		FundCount:  parsed.FundCountEstimate,
		FundNames:  parsed.FundNames,
	}
	switch classification.Type {
	case models.DocumentSingleFund, models.DocumentMultiFund:
	default:
		classification.Type = models.DocumentUnknown
	}
	if classification.Reasoning == "" {
		classification.Reasoning = "AI classification completed"
	}
	return classification, nil
}

// Extract pulls fund fields out of the document, one record per fund.
func (service *GeminiService) Extract(ctx context.Context, document models.Document, classification models.DocumentClassification) ([]models.ExtractedRecord, error) {
	stem := strings.ToUpper(strings.TrimSuffix(filepath.Base(documentFileName(document)), filepath.Ext(documentFileName(document))))
	multi := classification.Type == models.DocumentMultiFund

	text, err := service.generate(ctx, generationRequest{
		Operation: "extract_fund_data",
		Prompt:    buildExtractionPrompt(stem, multi),
		Document:  document,
		MaxTokens: 4096,
	})
	if err != nil {
		return nil, err
	}

	var parsed map[string]interface{}
	if err := decodeJSONObject(text, &parsed); err != nil {
		return nil, models.NewExternalError("GEMINI_INVALID_JSON", "Invalid JSON in Gemini response").WithCause(err)
	}

	var funds []map[string]interface{}
	if list, ok := parsed["funds"].([]interface{}); ok {
		for _, item := range list {
			if fund, ok := item.(map[string]interface{}); ok {
				funds = append(funds, fund)
			}
		}
	} else {
		funds = append(funds, parsed)
	}

	records := make([]models.ExtractedRecord, 0, len(funds))
	for _, fund := range funds {
		fields := enrichFundFields(fund, stem, len(funds) == 1)
		if len(fields) == 0 {
			continue
		}
		records = append(records, models.ExtractedRecord{Fields: fields})
	}
	return records, nil
}

func (service *GeminiService) generate(ctx context.Context, request generationRequest) (string, error) {
	startTime := time.Now()
	attempts := 0

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = service.config.RetryDelay

	text, err := backoff.Retry(ctx, func() (string, error) {
		attempts++
		result, err := service.breaker.Execute(func() (interface{}, error) {
			return service.makeGenerationRequest(ctx, request)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", backoff.Permanent(models.NewExternalError("GEMINI_CIRCUIT_OPEN", "Gemini temporarily unavailable").WithCause(err))
		}
		if err != nil {
			return "", err
		}
		return result.(string), nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(service.config.MaxRetries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			service.logger.WithFields(logger.Fields{
				"operation":   request.Operation,
				"attempt":     attempts,
				"max_retries": service.config.MaxRetries,
				"error":       err,
			}).Warn("Generate Content Failed")
		}),
	)

	service.logger.LogService("gemini", request.Operation, time.Since(startTime), map[string]interface{}{
		"document":        request.Document.Name,
		"prompt_length":   len(request.Prompt),
		"response_length": len(text),
		"attempts":        attempts,
	}, err)
	if err != nil {
		if _, ok := models.AsAppError(err); ok {
			return "", err
		}
		return "", models.WrapExternalError("gemini", err)
	}
	return text, nil
}

func (service *GeminiService) makeGenerationRequest(ctx context.Context, request generationRequest) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, service.config.Timeout)
	defer cancel()

	temperature := float32(0.1)
	topP := float32(0.95)
	generationConfig := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		TopP:            &topP,
		MaxOutputTokens: request.MaxTokens,
	}

	parts := []*genai.Part{genai.NewPartFromText(request.Prompt)}
	if len(request.Document.Data) > 0 {
		mimeType := request.Document.ContentType
		if mimeType == "" {
			mimeType = "application/pdf"
		}
		if strings.HasPrefix(mimeType, "text/") {
			parts = append(parts, genai.NewPartFromText(string(request.Document.Data)))
		} else {
			parts = append(parts, genai.NewPartFromBytes(request.Document.Data, mimeType))
		}
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	result, err := service.models.GenerateContent(genCtx, service.config.Model, contents, generationConfig)
	if err != nil {
		return "", fmt.Errorf("failed to generate gemini request: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return "", errors.New("no response candidates generated")
	}

	candidate := result.Candidates[0]
	text := ""
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			text += part.Text
		}
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty response from gemini")
	}
	return text, nil
}

func (service *GeminiService) HealthCheck(ctx context.Context) error {
	if service.breaker.State() == gobreaker.StateOpen {
		return models.NewExternalError("GEMINI_CIRCUIT_OPEN", "Gemini circuit breaker is open")
	}
	return nil
}

func (service *GeminiService) Close() error {
	service.logger.Info("Gemini Client Closed Successfully")
	return nil
}

func documentFileName(document models.Document) string {
	for _, name := range []string{document.Name, document.FilePath, document.URI} {
		if name != "" {
			return name
		}
	}
	return "document.pdf"
}

func filenameHint(name string) (models.DocumentType, string) {
	for _, pattern := range singleFundFilePatterns {
		if pattern.MatchString(name) {
			return models.DocumentSingleFund, pattern.String()
		}
	}
	for _, pattern := range multiFundFilePatterns {
		if pattern.MatchString(name) {
			return models.DocumentMultiFund, pattern.String()
		}
	}
	return models.DocumentUnknown, ""
}

func fallbackClassification(hint models.DocumentType, cause error) models.DocumentClassification {
	switch hint {
	case models.DocumentSingleFund, models.DocumentMultiFund:
		return models.DocumentClassification{
			Type:       hint,
			Confidence: 0.6,
			Reasoning:  fmt.Sprintf("Filename pattern suggests %s. AI error: %v", hint, cause),
		}
	}
	return models.DocumentClassification{
		Type:       models.DocumentSingleFund,
		Confidence: 0.3,
		Reasoning:  fmt.Sprintf("Unknown pattern, defaulting to single fund. AI error: %v", cause),
	}
}

func decodeJSONObject(text string, target interface{}) error {
	text = strings.TrimSpace(text)
	if match := jsonObjectPattern.FindString(text); match != "" {
		text = match
	}
	return json.Unmarshal([]byte(text), target)
}

// enrichFundFields drops null fields and repairs the usual model slips:
// expense ratios given in basis points and missing tickers that the file
// name carries.
func enrichFundFields(fund map[string]interface{}, stem string, single bool) map[string]interface{} {
	fields := make(map[string]interface{}, len(fund))
	for key, value := range fund {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			v = strings.TrimSpace(whitespacePattern.ReplaceAllString(v, " "))
			if v == "" || strings.EqualFold(v, "n/a") {
				continue
			}
			fields[key] = v
		default:
			fields[key] = v
		}
	}

	if ratio, ok := fields["expense_ratio"].(float64); ok && ratio > 5 {
		fields["expense_ratio"] = ratio / 100
	}
	if _, ok := fields["ticker"]; !ok && single && tickerFilePattern.MatchString(stem) {
		fields["ticker"] = stem
	}
	if _, ok := fields["fund_type"]; !ok {
		name, _ := fields["fund_name"].(string)
		if strings.Contains(name, "ETF") {
			fields["fund_type"] = "ETF"
		}
	}
	return fields
}

func clamp01(value float64) float64 {
	switch {
	case value < 0:
		return 0
	case value > 1:
		return 1
	}
	return value
}

func buildClassificationPrompt(filename, pattern string) string {
	if pattern == "" {
		pattern = "No pattern match"
	}
	return fmt.Sprintf(`You are a financial document classifier. Analyze the attached document to determine if it contains data for a SINGLE fund or MULTIPLE funds.

DOCUMENT FILENAME: %s
FILENAME PATTERN HINT: %s

SINGLE FUND documents typically contain one ETF or mutual fund fact sheet, a single ticker, one set of performance data and holdings.
MULTI FUND documents typically contain several fund names in a table of contents, consolidated annual reports, or fund family documents with several investment objectives.

Return ONLY a valid JSON object with this exact structure:
{
  "document_type": "single_fund" or "multi_fund",
  "confidence": 0.0-1.0,
  "reasoning": "Brief explanation",
  "fund_count_estimate": integer or null,
  "fund_names": ["fund names found"] or null
}

Base the decision primarily on content. If unsure, lean towards "single_fund". Use confidence 0.8+ for clear cases and 0.5-0.7 for uncertain ones.

JSON:`, filename, pattern)
}

func buildExtractionPrompt(stem string, multi bool) string {
	shape := "Return ONLY a valid JSON object with these fields"
	if multi {
		shape = `The document covers several funds. Return ONLY a valid JSON object {"funds": [...]} with one object per fund, in document order, each with these fields`
	}
	return fmt.Sprintf(`You are a financial document analyst. Extract fund information from the attached fund document.

DOCUMENT FILENAME: %s

%s:
  fund_name, ticker, fund_type, inception_date (YYYY-MM-DD), report_date (YYYY-MM-DD),
  equity_pct, fixed_income_pct, money_market_pct, other_pct,
  nav, net_assets_usd, expense_ratio, management_fee, minimum_investment,
  dividend_yield, distribution_frequency, one_year_return, portfolio_turnover,
  number_of_holdings, top_10_holdings, sector_allocation, geographic_allocation,
  fund_manager, management_company, benchmark, investment_objective

RULES:
1. Numbers as numbers, not strings.
2. Percentages as plain numbers (0.03%% becomes 0.03).
3. Use null for missing values, never empty strings or "N/A".
4. If the ticker is not in the document, try the filename: %s
5. Use the main retail share class.

JSON:`, stem, shape, stem)
}
