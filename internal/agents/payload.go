package agents

import (
	"encoding/json"

	"github.com/chat-omega/fundonboarding/internal/models"
)

// Payload keys shared between stages and the orchestrator.
const (
	KeyAction              = "action"
	KeyPortfolioItems      = "portfolio_items"
	KeyResearchResults     = "research_results"
	KeySynthesizedData     = "synthesized_data"
	KeyResearchSummary     = "research_summary"
	KeyCategorizations     = "categorizations"
	KeySummary             = "summary"
	KeyInteractionNeeded   = "interaction_needed"
	KeyExtractionResults   = "extraction_results"
	KeyExtractionSummary   = "extraction_summary"
	KeyDocuments           = "documents"
	KeyConfidenceScore     = "confidence_score"
	KeyPortfolioConfidence = "portfolio_confidence"
)

// Decode reads payload[key] as T. In-process payloads carry typed values and
// are returned as is; payloads that crossed a JSON boundary are re-decoded.
func Decode[T any](payload models.Payload, key string) (T, bool, error) {
	var zero T
	raw, ok := payload[key]
	if !ok || raw == nil {
		return zero, false, nil
	}
	if typed, ok := raw.(T); ok {
		return typed, true, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return zero, false, models.NewValidationError("INVALID_PAYLOAD", "Payload field cannot be encoded").
			WithMetadata("key", key).WithCause(err)
	}
	var decoded T
	if err := json.Unmarshal(data, &decoded); err != nil {
		return zero, false, models.NewValidationError("INVALID_PAYLOAD", "Payload field has an unexpected shape").
			WithMetadata("key", key).WithCause(err)
	}
	return decoded, true, nil
}
