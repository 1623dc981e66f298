package agents

import (
	"context"

	"github.com/chat-omega/fundonboarding/internal/models"
)

// SearchClient runs one web search and returns the combined text of the
// results page.
type SearchClient interface {
	Search(ctx context.Context, query string) (models.SearchResponse, error)
}

type DocumentClassifier interface {
	Classify(ctx context.Context, document models.Document) (models.DocumentClassification, error)
}

// ExtractionBackend returns one record for a single-fund document or one per
// fund, in document order, for a multi-fund document.
type ExtractionBackend interface {
	Extract(ctx context.Context, document models.Document, classification models.DocumentClassification) ([]models.ExtractedRecord, error)
}

type BlobStorage interface {
	Upload(ctx context.Context, data []byte, name string) (string, error)
	Download(ctx context.Context, uri string) ([]byte, error)
}
