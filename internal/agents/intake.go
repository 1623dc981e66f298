package agents

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
)

const (
	ActionProcessFile = "process_file"

	KeyContent  = "content"
	KeyFilePath = "file_path"
	KeyURI      = "uri"
	KeyFileName = "file_name"
)

// Per-item parsing confidence weights.
const (
	intakeTickerWeight      = 0.3
	intakeNameWeight        = 0.2
	intakeAssetClassWeight  = 0.2
	intakeExpenseWeight     = 0.1
	intakeAllocationsWeight = 0.2
)

type IntakeAgent struct {
	*Base
	storage BlobStorage
}

func NewIntakeAgent(sessionID string, storage BlobStorage, log *logger.Logger) (*IntakeAgent, error) {
	base, err := NewBase(models.AgentTypeIntake, sessionID, log)
	if err != nil {
		return nil, err
	}
	return &IntakeAgent{Base: base, storage: storage}, nil
}

func (agent *IntakeAgent) Process(ctx context.Context, message models.Message) <-chan models.Message {
	return agent.Run(ctx, message, agent.process)
}

func (agent *IntakeAgent) process(ctx context.Context, message models.Message, emit Emit) error {
	if message.Type != models.MessageTypeRequestAction {
		return nil
	}
	if action := message.PayloadString(KeyAction); action != "" && action != ActionProcessFile {
		return nil
	}

	name := message.PayloadString(KeyFileName)
	if name == "" {
		if source := firstNonEmpty(message.PayloadString(KeyFilePath), message.PayloadString(KeyURI)); source != "" {
			name = filepath.Base(source)
		}
	}

	if !emit(agent.Status("processing_file", models.Payload{"file_name": name, "stage": "reading"})) {
		return nil
	}

	if err := checkPortfolioFormat(name); err != nil {
		return err
	}

	data, err := agent.readContent(ctx, message)
	if err != nil {
		return err
	}

	items, err := ParsePortfolioCSV(data)
	if err != nil {
		return err
	}

	confidence := PortfolioConfidence(items)
	if err := agent.SetConfidence("portfolio_parsing", confidence); err != nil {
		return err
	}

	emit(agent.NewMessage(models.MessageTypeDataProcessed, models.AgentTypeResearch, models.Payload{
		KeyPortfolioItems:  items,
		KeyConfidenceScore: confidence,
		"total_funds":      len(items),
		"file_processed":   name,
	}))
	return nil
}

func (agent *IntakeAgent) readContent(ctx context.Context, message models.Message) ([]byte, error) {
	switch content := message.Payload[KeyContent].(type) {
	case []byte:
		return content, nil
	case string:
		if content != "" {
			return []byte(content), nil
		}
	}

	if path := message.PayloadString(KeyFilePath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, models.NewValidationError("FILE_NOT_FOUND", "Portfolio file does not exist").
					WithMetadata("file_path", path)
			}
			return nil, fmt.Errorf("failed to read portfolio file: %w", err)
		}
		return data, nil
	}

	if uri := message.PayloadString(KeyURI); uri != "" {
		if agent.storage == nil {
			return nil, models.NewValidationError("STORAGE_UNAVAILABLE", "No blob storage configured for uri").
				WithMetadata("uri", uri)
		}
		data, err := agent.storage.Download(ctx, uri)
		if err != nil {
			return nil, models.WrapExternalError("storage", err).WithMetadata("uri", uri)
		}
		return data, nil
	}

	return nil, models.NewValidationError("MISSING_FILE", "No portfolio content, file path or uri provided")
}

func checkPortfolioFormat(name string) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", "":
		return nil
	case ".xlsx", ".xls":
		return models.NewValidationError("UNSUPPORTED_FORMAT", "Excel portfolios are not supported, export the sheet as CSV").
			WithMetadata("file_name", name)
	default:
		return models.NewValidationError("UNSUPPORTED_FORMAT", "Portfolio files must be CSV").
			WithMetadata("file_name", name)
	}
}

type column int

const (
	columnUnknown column = iota
	columnTicker
	columnName
	columnAssetClass
	columnExpenseRatio
	columnMorningstar
	columnConservative
	columnModConservative
	columnModerate
	columnGrowth
	columnAggressive
)

var headerColumns = map[string]column{
	"ticker":              columnTicker,
	"symbol":              columnTicker,
	"name":                columnName,
	"fundname":            columnName,
	"assetclass":          columnAssetClass,
	"expenseratio":        columnExpenseRatio,
	"morningstarcategory": columnMorningstar,
	"conservative":        columnConservative,
	"modconservative":     columnModConservative,
	"moderate":            columnModerate,
	"growth":              columnGrowth,
	"aggressive":          columnAggressive,
}

// normalizeHeader folds "Mod. Conservative (%)" into "modconservative".
func normalizeHeader(header string) string {
	header = strings.ToLower(header)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		}
		return -1
	}, header)
}

// ParsePortfolioCSV reads portfolio rows. Rows without a ticker or a name are
// skipped; a file with no usable rows is a validation error.
func ParsePortfolioCSV(data []byte) ([]models.PortfolioItem, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, models.NewValidationError("EMPTY_PORTFOLIO", "Portfolio file is empty")
		}
		return nil, models.NewValidationError("INVALID_CSV", "Portfolio file is not valid CSV").WithCause(err)
	}

	columns := make([]column, len(header))
	for i, name := range header {
		columns[i] = headerColumns[normalizeHeader(name)]
	}

	var items []models.PortfolioItem
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, models.NewValidationError("INVALID_CSV", "Portfolio file is not valid CSV").WithCause(err)
		}

		item := parseRow(columns, record)
		if item.Ticker == "" || item.Name == "" {
			continue
		}
		item.ConfidenceScore = itemConfidence(item)
		items = append(items, item)
	}

	if len(items) == 0 {
		return nil, models.NewValidationError("NO_VALID_ROWS", "No valid portfolio items found in file")
	}
	return items, nil
}

func parseRow(columns []column, record []string) models.PortfolioItem {
	var item models.PortfolioItem
	for i, value := range record {
		if i >= len(columns) {
			break
		}
		value = strings.TrimSpace(value)
		switch columns[i] {
		case columnTicker:
			item.Ticker = strings.ToUpper(value)
		case columnName:
			item.Name = value
		case columnAssetClass:
			item.AssetClass = value
		case columnExpenseRatio:
			item.ExpenseRatio = parsePercent(value)
		case columnMorningstar:
			item.MorningstarCategory = value
		case columnConservative:
			item.ConservativePct = parsePercent(value)
		case columnModConservative:
			item.ModConservativePct = parsePercent(value)
		case columnModerate:
			item.ModeratePct = parsePercent(value)
		case columnGrowth:
			item.GrowthPct = parsePercent(value)
		case columnAggressive:
			item.AggressivePct = parsePercent(value)
		}
	}
	return item
}

func parsePercent(value string) *float64 {
	value = strings.TrimSpace(strings.TrimSuffix(strings.ReplaceAll(value, ",", ""), "%"))
	if value == "" || strings.EqualFold(value, "nan") {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &parsed
}

func itemConfidence(item models.PortfolioItem) float64 {
	score := 0.0
	if strings.TrimSpace(item.Ticker) != "" {
		score += intakeTickerWeight
	}
	if strings.TrimSpace(item.Name) != "" {
		score += intakeNameWeight
	}
	if strings.TrimSpace(item.AssetClass) != "" {
		score += intakeAssetClassWeight
	}
	if item.ExpenseRatio != nil {
		score += intakeExpenseWeight
	}
	for _, pct := range []*float64{item.ConservativePct, item.ModConservativePct, item.ModeratePct, item.GrowthPct, item.AggressivePct} {
		if pct != nil && *pct > 0 {
			score += intakeAllocationsWeight
			break
		}
	}
	return score
}

// PortfolioConfidence is the mean per-item parsing confidence.
func PortfolioConfidence(items []models.PortfolioItem) float64 {
	if len(items) == 0 {
		return 0
	}
	total := 0.0
	for _, item := range items {
		total += itemConfidence(item)
	}
	return total / float64(len(items))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
