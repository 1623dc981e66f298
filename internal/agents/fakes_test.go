package agents_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/chat-omega/fundonboarding/internal/models"
)

// fakeSearch answers queries whose text contains a known substring.
type fakeSearch struct {
	mu        sync.Mutex
	responses map[string]string
	calls     []string
	delay     time.Duration
	err       error
}

func (search *fakeSearch) Search(ctx context.Context, query string) (models.SearchResponse, error) {
	search.mu.Lock()
	search.calls = append(search.calls, query)
	responses := search.responses
	delay := search.delay
	failure := search.err
	search.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return models.SearchResponse{}, ctx.Err()
		}
	}
	if failure != nil {
		return models.SearchResponse{}, failure
	}
	for fragment, content := range responses {
		if strings.Contains(query, fragment) {
			return models.SearchResponse{Query: query, Engine: "fake", URL: "https://www.morningstar.com/etfs/x", Content: content}, nil
		}
	}
	return models.SearchResponse{Query: query, Engine: "fake"}, nil
}

func (search *fakeSearch) CallCount() int {
	search.mu.Lock()
	defer search.mu.Unlock()
	return len(search.calls)
}

type fakeClassifier struct {
	classification models.DocumentClassification
	failFor        string
}

func (classifier *fakeClassifier) Classify(ctx context.Context, document models.Document) (models.DocumentClassification, error) {
	if classifier.failFor != "" && document.Name == classifier.failFor {
		return models.DocumentClassification{}, errors.New("classifier unavailable")
	}
	return classifier.classification, nil
}

type fakeExtractor struct {
	records []models.ExtractedRecord
}

func (extractor *fakeExtractor) Extract(ctx context.Context, document models.Document, classification models.DocumentClassification) ([]models.ExtractedRecord, error) {
	return extractor.records, nil
}

type fakeStorage struct {
	objects map[string][]byte
}

func (storage *fakeStorage) Upload(ctx context.Context, data []byte, name string) (string, error) {
	if storage.objects == nil {
		storage.objects = make(map[string][]byte)
	}
	uri := "mem://" + name
	storage.objects[uri] = data
	return uri, nil
}

func (storage *fakeStorage) Download(ctx context.Context, uri string) ([]byte, error) {
	data, ok := storage.objects[uri]
	if !ok {
		return nil, models.NewNotFoundError("OBJECT_NOT_FOUND", "No such object")
	}
	return data, nil
}
