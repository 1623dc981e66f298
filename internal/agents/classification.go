package agents

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/chat-omega/fundonboarding/internal/cache"
	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
	"github.com/chat-omega/fundonboarding/internal/scoring"
)

// Classification methods, in the order they are attempted.
const (
	MethodKnownFund     = "known_fund"
	MethodRuleBased     = "rule_based"
	MethodResearchBased = "research_based"
	MethodMorningstar   = "morningstar"
	MethodUnknown       = "unknown"
	MethodManual        = "manual_override"
)

const (
	NextActionUserReview = "user_review"
	NextActionFinalize   = "finalize"
)

type knownFund struct {
	assetClass  string
	region      string
	style       string
	size        string
	fiType      string
	fiDuration  string
	description string
}

var knownFunds = map[string]knownFund{
	"VTI":   {assetClass: models.AssetClassEquity, region: "US", style: "Blend", size: "Large", description: "Vanguard Total Stock Market ETF"},
	"VTV":   {assetClass: models.AssetClassEquity, region: "US", style: "Value", size: "Large", description: "Vanguard Value ETF"},
	"VUG":   {assetClass: models.AssetClassEquity, region: "US", style: "Growth", size: "Large", description: "Vanguard Growth ETF"},
	"VTSMX": {assetClass: models.AssetClassEquity, region: "US", style: "Blend", size: "Large", description: "Vanguard Total Stock Market Index Fund"},
	"IVV":   {assetClass: models.AssetClassEquity, region: "US", style: "Blend", size: "Large", description: "iShares Core S&P 500 ETF"},
	"IWM":   {assetClass: models.AssetClassEquity, region: "US", style: "Blend", size: "Small", description: "iShares Russell 2000 ETF"},
	"BND":   {assetClass: models.AssetClassFixedIncome, fiType: "Government", fiDuration: "Intermediate", description: "Vanguard Total Bond Market ETF"},
	"AGG":   {assetClass: models.AssetClassFixedIncome, fiType: "Government", fiDuration: "Intermediate", description: "iShares Core U.S. Aggregate Bond ETF"},
	"VTIAX": {assetClass: models.AssetClassEquity, region: "International", style: "Blend", size: "Large", description: "Vanguard Total International Stock Index Fund"},
	"EEM":   {assetClass: models.AssetClassEquity, region: "Emerging", style: "Blend", size: "Large", description: "iShares MSCI Emerging Markets ETF"},
	"GLD":   {assetClass: models.AssetClassAlternatives, description: "SPDR Gold Shares"},
	"VNQ":   {assetClass: models.AssetClassAlternatives, description: "Vanguard Real Estate ETF"},
}

type classificationRule struct {
	pattern    *regexp.Regexp
	source     string
	assetClass string
	sub        map[models.QuestionType]string
	confidence float64
	priority   int
}

func newRule(pattern, assetClass string, sub map[models.QuestionType]string, confidence float64, priority int) classificationRule {
	return classificationRule{
		pattern:    regexp.MustCompile("(?i)" + pattern),
		source:     pattern,
		assetClass: assetClass,
		sub:        sub,
		confidence: confidence,
		priority:   priority,
	}
}

var classificationRules = func() []classificationRule {
	rules := []classificationRule{
		newRule(`^VT[ISMX]`, models.AssetClassEquity,
			map[models.QuestionType]string{models.QuestionEquityRegion: "US", models.QuestionEquityStyle: "Blend"}, 0.9, 1),
		newRule(`^VTV`, models.AssetClassEquity,
			map[models.QuestionType]string{models.QuestionEquityRegion: "US", models.QuestionEquityStyle: "Value"}, 0.9, 1),
		newRule(`^VUG`, models.AssetClassEquity,
			map[models.QuestionType]string{models.QuestionEquityRegion: "US", models.QuestionEquityStyle: "Growth"}, 0.9, 1),
		newRule(`^IVV|^IWM|^IJR|^IJH`, models.AssetClassEquity,
			map[models.QuestionType]string{models.QuestionEquityRegion: "US"}, 0.85, 1),
		newRule(`bond|treasury|corporate.*bond|municipal.*bond`, models.AssetClassFixedIncome, nil, 0.8, 2),
		newRule(`international|foreign|europe|asia|pacific|emerging|frontier`, models.AssetClassEquity,
			map[models.QuestionType]string{models.QuestionEquityRegion: "International"}, 0.7, 3),
		newRule(`reit|commodity|gold|silver|oil|gas`, models.AssetClassAlternatives, nil, 0.75, 2),
		newRule(`money.*market|cash|stable.*value|treasury.*bill`, models.AssetClassCash, nil, 0.9, 1),
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].priority < rules[j].priority })
	return rules
}()

// attempt is one method's opinion of a fund.
type attempt struct {
	method     string
	assetClass string
	confidence float64
	reasoning  string
	sub        map[models.QuestionType]string
}

type ClassificationOptions struct {
	ReviewThreshold float64
	HighConfidence  float64
	CacheTTL        time.Duration
	Clock           func() time.Time
}

type ClassificationAgent struct {
	*Base
	scorer *scoring.Scorer
	cache  *cache.Cache
	opts   ClassificationOptions
}

func NewClassificationAgent(sessionID string, scorer *scoring.Scorer, classificationCache *cache.Cache, opts ClassificationOptions, log *logger.Logger) (*ClassificationAgent, error) {
	base, err := NewBase(models.AgentTypeClassification, sessionID, log)
	if err != nil {
		return nil, err
	}
	if scorer == nil {
		scorer = scoring.NewScorer()
	}
	if opts.ReviewThreshold <= 0 {
		opts.ReviewThreshold = 0.7
	}
	if opts.HighConfidence <= 0 {
		opts.HighConfidence = 0.8
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 12 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	agent := &ClassificationAgent{Base: base, scorer: scorer, cache: classificationCache, opts: opts}
	agent.OnSetup(func(context.Context) error {
		return agent.SetConfidence("classification_ready", 0.95)
	})
	return agent, nil
}

func (agent *ClassificationAgent) Process(ctx context.Context, message models.Message) <-chan models.Message {
	return agent.Run(ctx, message, agent.process)
}

func (agent *ClassificationAgent) process(ctx context.Context, message models.Message, emit Emit) error {
	if message.Type != models.MessageTypeDataProcessed {
		return nil
	}
	items, ok, err := Decode[[]models.PortfolioItem](message.Payload, KeyPortfolioItems)
	if err != nil || !ok {
		return err
	}
	if len(items) == 0 {
		return models.NewValidationError("EMPTY_PORTFOLIO", "No portfolio items to classify")
	}
	research, _, err := Decode[map[string]*models.FundResearch](message.Payload, KeySynthesizedData)
	if err != nil {
		return err
	}

	if !emit(agent.Status("starting_classification", models.Payload{
		"total_funds": len(items),
		"stage":       "analysis",
		"message":     "Analyzing fund characteristics...",
	})) {
		return nil
	}

	categorizations := make([]*models.FundCategorization, 0, len(items))
	for i, item := range items {
		ticker := item.NormalizedTicker()
		if !emit(agent.Status("classifying_fund", models.Payload{
			"ticker":    ticker,
			"fund_name": item.Name,
			"progress":  float64(i) / float64(len(items)),
			"stage":     "classification",
		})) {
			return nil
		}

		fundResearch := research[ticker]
		fc := agent.classify(ctx, item, fundResearch)

		result, err := agent.scorer.CalculateConfidence(fc, fundResearch, agent.opts.Clock())
		if err != nil {
			return err
		}
		fc.ConfidenceScore = result.Overall
		fc.ConfidenceExplanation = result.Explanation
		categorizations = append(categorizations, fc)

		if !emit(agent.Status("fund_classified", models.Payload{
			"ticker":         ticker,
			"asset_class":    fc.AssetClass,
			"confidence":     fc.AssetClassConfidence,
			"sub_categories": fc.FilledSubCategories(),
			"method":         fc.ClassificationMethod,
		})) {
			return nil
		}
	}

	summary := models.Summarize(categorizations, agent.opts.ReviewThreshold, agent.opts.HighConfidence)
	highCount := 0
	for _, fc := range categorizations {
		if fc.AssetClassConfidence >= agent.opts.HighConfidence {
			highCount++
		}
	}
	if !emit(agent.Status("classification_complete", models.Payload{
		"total_classified":      len(categorizations),
		"average_confidence":    summary.AverageConfidence,
		"high_confidence_count": highCount,
		"stage":                 "complete",
	})) {
		return nil
	}

	if err := agent.SetConfidence("classification_quality", summary.AverageConfidence); err != nil {
		return err
	}

	nextAction := NextActionFinalize
	if summary.RequiresUserInput > 0 {
		nextAction = NextActionUserReview
	}

	emit(agent.NewMessage(models.MessageTypeDataProcessed, models.AgentTypeChatOrchestrator, models.Payload{
		"type":                 "categorization_results",
		KeyPortfolioItems:      items,
		KeyCategorizations:     categorizations,
		KeySummary:             summary,
		KeyInteractionNeeded:   InteractionNeeded(categorizations, agent.opts.ReviewThreshold, agent.opts.Clock()),
		KeyPortfolioConfidence: scoring.PortfolioConfidence(categorizations),
		"next_action":          nextAction,
	}))
	return nil
}

func (agent *ClassificationAgent) classify(ctx context.Context, item models.PortfolioItem, research *models.FundResearch) *models.FundCategorization {
	if agent.cache == nil {
		return ClassifyFund(item, research)
	}

	ticker := item.NormalizedTicker()
	key := cache.ClassificationKey(ticker, item.Name, research.Fingerprint())
	fc, _, err := cache.GetOrComputeIf(ctx, agent.cache, key, agent.opts.CacheTTL,
		[]string{cache.FundTag(ticker), cache.TagClassification},
		func(context.Context) (*models.FundCategorization, error) {
			return ClassifyFund(item, research), nil
		},
		func(fc *models.FundCategorization) bool {
			return fc.ClassificationMethod != MethodUnknown
		})
	if err != nil {
		agent.logger.WithFields(logger.Fields{"ticker": ticker}).WithError(err).Warn("Classification cache unavailable")
		return ClassifyFund(item, research)
	}
	// the cached value is shared through singleflight
	return fc.Clone()
}

// ClassifyFund runs every classification method and keeps the most confident
// answer. The others are recorded as alternatives. research may be nil.
func ClassifyFund(item models.PortfolioItem, research *models.FundResearch) *models.FundCategorization {
	ticker := item.NormalizedTicker()
	fc := &models.FundCategorization{
		Ticker:                     ticker,
		FundName:                   item.Name,
		AssetClass:                 models.AssetClassEquity,
		AssetClassConfidence:       0.1,
		ClassificationMethod:       MethodUnknown,
		Reasoning:                  "No classification method succeeded",
		ExpenseRatio:               item.ExpenseRatio,
		MorningstarCategory:        item.MorningstarCategory,
		ResearchSources:            []string{},
		AlternativeClassifications: []models.AlternativeClassification{},
	}

	var attempts []attempt
	if known, ok := classifyKnownFund(ticker); ok {
		attempts = append(attempts, known)
	}
	if rule, ok := classifyByRules(ticker, item.Name, item.AssetClass); ok {
		attempts = append(attempts, rule)
	}
	if research != nil {
		if suggested, ok := classifyByResearch(research.SuggestedCategories); ok {
			attempts = append(attempts, suggested)
		}
		if dp, ok := research.DataPoint(models.DataPointMorningstarCategory); ok {
			if category := dp.StringValue(); category != "" {
				fc.MorningstarCategory = category
				if mapped, ok := classifyByMorningstar(category); ok {
					mapped.confidence = dp.Confidence
					attempts = append(attempts, mapped)
				}
			}
		}
		fc.ResearchSources = append(fc.ResearchSources, research.Sources...)
		fc.DataPoints = research.DataPoints
		if fc.ExpenseRatio == nil {
			if dp, ok := research.DataPoint(models.DataPointExpenseRatio); ok {
				if value, ok := dp.FloatValue(); ok {
					fc.ExpenseRatio = &value
				}
			}
		}
	}

	if len(attempts) == 0 {
		return fc
	}

	best := 0
	for i := 1; i < len(attempts); i++ {
		if attempts[i].confidence > attempts[best].confidence {
			best = i
		}
	}

	winner := attempts[best]
	fc.AssetClass = winner.assetClass
	fc.AssetClassConfidence = winner.confidence
	fc.ClassificationMethod = winner.method
	fc.Reasoning = winner.reasoning
	for questionType, value := range winner.sub {
		fc.SetSubCategory(questionType, value)
	}
	for i, other := range attempts {
		if i == best {
			continue
		}
		fc.AlternativeClassifications = append(fc.AlternativeClassifications, models.AlternativeClassification{
			Method:     other.method,
			Confidence: other.confidence,
			AssetClass: other.assetClass,
			Reasoning:  other.reasoning,
		})
	}
	return fc
}

func classifyKnownFund(ticker string) (attempt, bool) {
	fund, ok := knownFunds[ticker]
	if !ok {
		return attempt{}, false
	}
	sub := make(map[models.QuestionType]string)
	for questionType, value := range map[models.QuestionType]string{
		models.QuestionEquityRegion:        fund.region,
		models.QuestionEquityStyle:         fund.style,
		models.QuestionEquitySize:          fund.size,
		models.QuestionFixedIncomeType:     fund.fiType,
		models.QuestionFixedIncomeDuration: fund.fiDuration,
	} {
		if value != "" {
			sub[questionType] = value
		}
	}
	return attempt{
		method:     MethodKnownFund,
		assetClass: fund.assetClass,
		confidence: 0.95,
		reasoning:  "Known fund: " + fund.description,
		sub:        sub,
	}, true
}

func classifyByRules(ticker, name, providedAssetClass string) (attempt, bool) {
	text := strings.ToLower(ticker + " " + name)
	for _, rule := range classificationRules {
		if rule.pattern.MatchString(text) {
			return attempt{
				method:     MethodRuleBased,
				assetClass: rule.assetClass,
				confidence: rule.confidence,
				reasoning:  "Matched pattern: " + rule.source,
				sub:        rule.sub,
			}, true
		}
	}
	if strings.TrimSpace(providedAssetClass) != "" {
		return attempt{
			method:     MethodRuleBased,
			assetClass: NormalizeAssetClass(providedAssetClass),
			confidence: 0.4,
			reasoning:  "Using provided asset class: " + providedAssetClass,
		}, true
	}
	return attempt{}, false
}

func classifyByResearch(suggested models.SuggestedCategories) (attempt, bool) {
	if suggested.AssetClass.Value == "" || suggested.AssetClass.Value == models.AssetClassUnknown {
		return attempt{}, false
	}
	reasoning := suggested.AssetClass.Reasoning
	if reasoning == "" {
		reasoning = "Based on research analysis"
	}
	sub := make(map[models.QuestionType]string)
	if suggested.EquityStyle != nil {
		sub[models.QuestionEquityStyle] = suggested.EquityStyle.Value
	}
	if suggested.EquitySize != nil {
		sub[models.QuestionEquitySize] = suggested.EquitySize.Value
	}
	if suggested.FixedIncomeType != nil {
		sub[models.QuestionFixedIncomeType] = suggested.FixedIncomeType.Value
	}
	return attempt{
		method:     MethodResearchBased,
		assetClass: suggested.AssetClass.Value,
		confidence: suggested.AssetClass.Confidence,
		reasoning:  reasoning,
		sub:        sub,
	}, true
}

// classifyByMorningstar maps a Morningstar category name onto an asset
// class and whatever sub-categories its wording implies. The returned
// attempt carries no confidence; callers use the data point's.
func classifyByMorningstar(category string) (attempt, bool) {
	lower := strings.ToLower(category)
	result := attempt{
		method:    MethodMorningstar,
		reasoning: "Morningstar category: " + category,
		sub:       make(map[models.QuestionType]string),
	}

	switch {
	case containsAny(lower, "equity", "stock", "large", "mid", "small"):
		result.assetClass = models.AssetClassEquity
		switch {
		case strings.Contains(lower, "large"):
			result.sub[models.QuestionEquitySize] = "Large"
		case strings.Contains(lower, "mid"):
			result.sub[models.QuestionEquitySize] = "Mid"
		case strings.Contains(lower, "small"):
			result.sub[models.QuestionEquitySize] = "Small"
		}
		switch {
		case strings.Contains(lower, "value"):
			result.sub[models.QuestionEquityStyle] = "Value"
		case strings.Contains(lower, "growth"):
			result.sub[models.QuestionEquityStyle] = "Growth"
		case containsAny(lower, "blend", "core"):
			result.sub[models.QuestionEquityStyle] = "Blend"
		}
		switch {
		case containsAny(lower, "us ", "domestic", "america"):
			result.sub[models.QuestionEquityRegion] = "US"
		case containsAny(lower, "international", "foreign", "europe", "pacific"):
			result.sub[models.QuestionEquityRegion] = "International"
		case containsAny(lower, "emerging", "frontier"):
			result.sub[models.QuestionEquityRegion] = "Emerging"
		case containsAny(lower, "global", "world"):
			result.sub[models.QuestionEquityRegion] = "Global"
		}
	case containsAny(lower, "bond", "fixed", "income", "treasury", "corporate"):
		result.assetClass = models.AssetClassFixedIncome
		switch {
		case containsAny(lower, "government", "treasury"):
			result.sub[models.QuestionFixedIncomeType] = "Government"
		case strings.Contains(lower, "corporate"):
			result.sub[models.QuestionFixedIncomeType] = "Corporate"
		case containsAny(lower, "municipal", "muni"):
			result.sub[models.QuestionFixedIncomeType] = "Municipal"
		case containsAny(lower, "high yield", "junk"):
			result.sub[models.QuestionFixedIncomeType] = "High Yield"
		}
		switch {
		case strings.Contains(lower, "short"):
			result.sub[models.QuestionFixedIncomeDuration] = "Short"
		case strings.Contains(lower, "long"):
			result.sub[models.QuestionFixedIncomeDuration] = "Long"
		case containsAny(lower, "intermediate", "medium"):
			result.sub[models.QuestionFixedIncomeDuration] = "Intermediate"
		}
	case containsAny(lower, "commodity", "reit", "alternative", "hedge"):
		result.assetClass = models.AssetClassAlternatives
	case containsAny(lower, "money market", "cash", "stable value"):
		result.assetClass = models.AssetClassCash
	default:
		return attempt{}, false
	}
	return result, true
}

// NormalizeAssetClass folds free-form asset class text onto the four
// supported classes. Unrecognized text becomes Equity.
func NormalizeAssetClass(assetClass string) string {
	lower := strings.ToLower(strings.TrimSpace(assetClass))
	switch {
	case containsAny(lower, "equity", "stock", "shares"):
		return models.AssetClassEquity
	case containsAny(lower, "bond", "fixed", "income", "debt"):
		return models.AssetClassFixedIncome
	case containsAny(lower, "cash", "money market", "stable"):
		return models.AssetClassCash
	case containsAny(lower, "alternative", "commodity", "reit", "hedge"):
		return models.AssetClassAlternatives
	}
	return models.AssetClassEquity
}

// Interaction describes one fund that needs user review.
type Interaction struct {
	Ticker                string                    `json:"ticker"`
	FundName              string                    `json:"fund_name"`
	Reasons               []string                  `json:"reasons"`
	CurrentClassification *models.FundCategorization `json:"current_classification"`
	SuggestedQuestions    []models.CategoryQuestion `json:"suggested_questions"`
}

func InteractionNeeded(categorizations []*models.FundCategorization, reviewThreshold float64, now time.Time) []Interaction {
	interactions := []Interaction{}
	for _, fc := range categorizations {
		reasons := ReviewReasons(fc, reviewThreshold)
		if len(reasons) == 0 {
			continue
		}
		interactions = append(interactions, Interaction{
			Ticker:                fc.Ticker,
			FundName:              fc.FundName,
			Reasons:               reasons,
			CurrentClassification: fc.Clone(),
			SuggestedQuestions:    GenerateQuestions(fc, reviewThreshold, now),
		})
	}
	return interactions
}
