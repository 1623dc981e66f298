package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
)

const ActionStartExtraction = "start_extraction"

type ExtractionAgent struct {
	*Base
	storage         BlobStorage
	classifier      DocumentClassifier
	backend         ExtractionBackend
	reviewThreshold float64
}

func NewExtractionAgent(sessionID string, storage BlobStorage, classifier DocumentClassifier, backend ExtractionBackend, reviewThreshold float64, log *logger.Logger) (*ExtractionAgent, error) {
	base, err := NewBase(models.AgentTypeExtraction, sessionID, log)
	if err != nil {
		return nil, err
	}
	if classifier == nil || backend == nil {
		return nil, models.NewValidationError("EXTRACTION_UNAVAILABLE", "Document extraction requires a classifier and an extraction backend")
	}
	if reviewThreshold <= 0 {
		reviewThreshold = 0.7
	}
	return &ExtractionAgent{
		Base:            base,
		storage:         storage,
		classifier:      classifier,
		backend:         backend,
		reviewThreshold: reviewThreshold,
	}, nil
}

func (agent *ExtractionAgent) Process(ctx context.Context, message models.Message) <-chan models.Message {
	return agent.Run(ctx, message, agent.process)
}

func (agent *ExtractionAgent) process(ctx context.Context, message models.Message, emit Emit) error {
	if message.Type != models.MessageTypeRequestAction || message.PayloadString(KeyAction) != ActionStartExtraction {
		return nil
	}
	documents, ok, err := Decode[[]models.Document](message.Payload, KeyDocuments)
	if err != nil {
		return err
	}
	if !ok || len(documents) == 0 {
		return models.NewValidationError("NO_DOCUMENTS", "start_extraction requires at least one document")
	}

	if !emit(agent.Status("starting_extraction", models.Payload{
		"total_documents": len(documents),
		"stage":           "extraction",
	})) {
		return nil
	}

	results := make([]models.ExtractionResult, 0, len(documents))
	for i, document := range documents {
		result := agent.extractDocument(ctx, document)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		results = append(results, result)

		if !emit(agent.Status("document_processed", models.Payload{
			"document":        result.Document,
			"records":         len(result.Records),
			"confidence":      result.Confidence,
			"requires_review": result.RequiresReview,
			"progress":        float64(i+1) / float64(len(documents)),
		})) {
			return nil
		}
	}

	summary := SummarizeExtraction(results)
	if err := agent.SetConfidence("extraction_quality", summary.AverageConfidence); err != nil {
		return err
	}

	emit(agent.NewMessage(models.MessageTypeDataProcessed, models.AgentTypeChatOrchestrator, models.Payload{
		KeyExtractionResults: results,
		KeyExtractionSummary: summary,
	}))
	return nil
}

// extractDocument never fails the batch: a broken document is reported in its
// own result.
func (agent *ExtractionAgent) extractDocument(ctx context.Context, document models.Document) models.ExtractionResult {
	result := models.ExtractionResult{
		Document: documentName(document),
		Ticker:   document.Ticker,
		Records:  []models.ExtractedRecord{},
	}
	fail := func(err error) models.ExtractionResult {
		agent.logger.WithFields(logger.Fields{"document": result.Document}).WithError(err).Warn("Document extraction failed")
		result.Error = err.Error()
		result.RequiresReview = true
		return result
	}

	if len(document.Data) == 0 {
		data, err := agent.load(ctx, document)
		if err != nil {
			return fail(err)
		}
		document.Data = data
	}

	classification, err := agent.classifier.Classify(ctx, document)
	if err != nil {
		return fail(models.WrapExternalError("document_classifier", err))
	}
	result.Classification = &classification

	records, err := agent.backend.Extract(ctx, document, classification)
	if err != nil {
		return fail(models.WrapExternalError("extraction_backend", err))
	}
	if len(records) == 0 {
		return fail(models.NewValidationError("NO_RECORDS", "No fund data found in document"))
	}

	total := 0.0
	for i := range records {
		if records[i].FieldConfidence == nil {
			records[i].FieldConfidence = models.FieldConfidence(records[i].Fields)
		}
		if records[i].Confidence == 0 {
			records[i].Confidence = meanConfidence(records[i].FieldConfidence)
		}
		total += records[i].Confidence
	}
	result.Records = records
	result.Confidence = total / float64(len(records))
	result.RequiresReview = result.Confidence < agent.reviewThreshold
	return result
}

func (agent *ExtractionAgent) load(ctx context.Context, document models.Document) ([]byte, error) {
	switch {
	case document.URI != "":
		if agent.storage == nil {
			return nil, models.NewValidationError("STORAGE_UNAVAILABLE", "No blob storage configured for uri").
				WithMetadata("uri", document.URI)
		}
		data, err := agent.storage.Download(ctx, document.URI)
		if err != nil {
			return nil, models.WrapExternalError("storage", err)
		}
		return data, nil
	case document.FilePath != "":
		data, err := os.ReadFile(document.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read document: %w", err)
		}
		return data, nil
	}
	return nil, models.NewValidationError("MISSING_DOCUMENT", "Document has no uri or file path")
}

func SummarizeExtraction(results []models.ExtractionResult) models.ExtractionSummary {
	summary := models.ExtractionSummary{TotalDocuments: len(results)}
	total := 0.0
	for _, result := range results {
		if !result.Succeeded() {
			summary.Failed++
			summary.RequiresReview++
			continue
		}
		summary.Successful++
		total += result.Confidence
		if result.RequiresReview {
			summary.RequiresReview++
		}
	}
	if summary.Successful > 0 {
		summary.AverageConfidence = total / float64(summary.Successful)
	}
	return summary
}

func documentName(document models.Document) string {
	if document.Name != "" {
		return document.Name
	}
	if source := firstNonEmpty(document.FilePath, document.URI); source != "" {
		return filepath.Base(source)
	}
	return "document"
}

func meanConfidence(values map[string]float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, value := range values {
		total += value
	}
	return total / float64(len(values))
}
