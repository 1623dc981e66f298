package models

import "strings"

type DocumentType string

const (
	DocumentSingleFund DocumentType = "single_fund"
	DocumentMultiFund  DocumentType = "multi_fund"
	DocumentUnknown    DocumentType = "unknown"
)

type Document struct {
	Name        string `json:"name"`
	URI         string `json:"uri,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
	Ticker      string `json:"ticker,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"-"`
}

type DocumentClassification struct {
	Type       DocumentType `json:"type"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning"`
	FundCount  *int         `json:"fund_count,omitempty"`
	FundNames  []string     `json:"fund_names,omitempty"`
}

// ExtractedRecord is one fund's worth of structured fields pulled from a document.
type ExtractedRecord struct {
	Fields          map[string]interface{} `json:"fields"`
	Confidence      float64                `json:"confidence"`
	FieldConfidence map[string]float64     `json:"field_confidence"`
}

func (record ExtractedRecord) String(key string) string {
	value, _ := record.Fields[key].(string)
	return value
}

func (record ExtractedRecord) Float(key string) (float64, bool) {
	value, ok := record.Fields[key].(float64)
	return value, ok
}

type ExtractionResult struct {
	Document       string                  `json:"document"`
	Ticker         string                  `json:"ticker,omitempty"`
	Classification *DocumentClassification `json:"classification,omitempty"`
	Records        []ExtractedRecord       `json:"records"`
	Confidence     float64                 `json:"confidence"`
	RequiresReview bool                    `json:"requires_review"`
	Error          string                  `json:"error,omitempty"`
}

func (result ExtractionResult) Succeeded() bool {
	return result.Error == ""
}

type ExtractionSummary struct {
	TotalDocuments    int     `json:"total_documents"`
	Successful        int     `json:"successful"`
	Failed            int     `json:"failed"`
	AverageConfidence float64 `json:"average_confidence"`
	RequiresReview    int     `json:"requires_review"`
}

// FieldConfidence scores individual extracted fields by type and plausibility.
func FieldConfidence(fields map[string]interface{}) map[string]float64 {
	confidence := make(map[string]float64, len(fields))
	for name, value := range fields {
		switch v := value.(type) {
		case nil:
			confidence[name] = 0.0
		case string:
			if strings.TrimSpace(v) != "" {
				confidence[name] = 0.9
			} else {
				confidence[name] = 0.0
			}
		case float64:
			switch {
			case strings.HasSuffix(name, "_pct") && v >= 0 && v <= 100:
				confidence[name] = 0.95
			case name == "expense_ratio" && v >= 0 && v <= 5:
				confidence[name] = 0.95
			case v > 0:
				confidence[name] = 0.9
			default:
				confidence[name] = 0.5
			}
		default:
			confidence[name] = 0.8
		}
	}
	return confidence
}
