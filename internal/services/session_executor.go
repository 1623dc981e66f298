package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/chat-omega/fundonboarding/internal/agents"
	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
	"github.com/chat-omega/fundonboarding/internal/scoring"
)

// ActionExecutor runs one action for one session. It holds the session lock
// for its whole lifetime and is the only code that mutates the session.
type ActionExecutor struct {
	orchestrator *Orchestrator
	state        *sessionState
	session      *models.Session
	ctx          context.Context
	out          chan<- models.StreamEvent
	logger       *logger.Logger
}

func (executor *ActionExecutor) execute(action string, data models.Payload) {
	if data == nil {
		data = models.Payload{}
	}

	switch action {
	case ActionUploadFile:
		executor.uploadFile(data)
	case ActionStartProcessing, ActionStartCategorization:
		executor.startCategorization()
	case ActionAnswerQuestion:
		executor.answerQuestion(data)
	case ActionOverrideClassification:
		executor.overrideClassification(data)
	case ActionApproveClassifications:
		executor.approveClassifications()
	case ActionStartExtraction:
		executor.startExtraction(data)
	case ActionChatMessage:
		executor.chatMessage(data)
	default:
		executor.fail(models.AgentTypeChatOrchestrator,
			models.NewValidationError("UNKNOWN_ACTION", fmt.Sprintf("Unknown action %q", action)).
				WithMetadata("action", action))
	}
}

func (executor *ActionExecutor) emit(event models.StreamEvent) bool {
	if !sendEvent(executor.ctx, executor.out, event) {
		return false
	}
	executor.orchestrator.mirrorEvent(executor.ctx, executor.session.ID, event)
	return true
}

func (executor *ActionExecutor) chat(message, messageType string, extra models.Payload) bool {
	payload := models.Payload{"message": message, "message_type": messageType}
	for key, value := range extra {
		payload[key] = value
	}
	executor.session.AddChat(models.ChatRoleAssistant, message, payload)
	return executor.emit(models.NewStreamEvent(models.EventChat, payload))
}

func (executor *ActionExecutor) transition(to models.Stage, progress float64) bool {
	transition, err := executor.session.Transition(to, progress)
	if err != nil {
		executor.fail(models.AgentTypeChatOrchestrator, err)
		return false
	}
	if executor.orchestrator.metrics != nil {
		executor.orchestrator.metrics.StageTransition(transition.From, transition.To)
	}
	executor.logger.Debug("Stage transition", "from", string(transition.From), "to", string(transition.To), "progress", progress)
	executor.state.publish()

	return executor.emit(models.NewStreamEvent(models.EventStage, models.Payload{
		"stage":    string(transition.To),
		"previous": string(transition.From),
		"progress": transition.Progress,
	}))
}

func (executor *ActionExecutor) progress(progress float64, status string) bool {
	executor.session.SetProgress(progress)
	executor.state.publish()
	return executor.emit(models.NewStreamEvent(models.EventStatus, models.Payload{
		"status":   status,
		"stage":    string(executor.session.Stage),
		"progress": progress,
	}))
}

// fail reports an error raised by the orchestrator itself. It never advances
// the state machine.
func (executor *ActionExecutor) fail(agentType models.AgentType, err error) {
	event := errorEvent(agentType, err)
	executor.reportError(agentType, event)
}

// agentFailed reports an error message produced by a stage agent.
func (executor *ActionExecutor) agentFailed(agentType models.AgentType, message models.Message) {
	executor.reportError(agentType, models.EventFromMessage(message))
}

func (executor *ActionExecutor) reportError(agentType models.AgentType, event models.StreamEvent) {
	text, _ := event.Data["error"].(string)
	code := ""
	if details, ok := event.Data["details"].(models.Payload); ok {
		code, _ = details["code"].(string)
	}
	if executor.orchestrator.metrics != nil {
		executor.orchestrator.metrics.AgentError(agentType, code)
	}
	executor.logger.Warn("Action step failed", "agent", string(agentType), "code", code, "error", text)

	if !executor.emit(event) {
		return
	}
	executor.chat(errorChatText(agentType, text), "error", models.Payload{"code": code})
}

func errorChatText(agentType models.AgentType, text string) string {
	if agentType == models.AgentTypeChatOrchestrator {
		return text
	}
	return fmt.Sprintf("The %s step ran into a problem: %s", agentType, text)
}

func errorEvent(agentType models.AgentType, err error) models.StreamEvent {
	details := models.Payload{}
	if appErr, ok := models.AsAppError(err); ok {
		details["code"] = appErr.Code
		details["error_type"] = string(appErr.Type)
		details["retryable"] = appErr.Retryable
		for key, value := range appErr.Metadata {
			details[key] = value
		}
	}
	return models.NewStreamEvent(models.EventError, models.Payload{
		"error":   err.Error(),
		"agent":   string(agentType),
		"details": details,
	})
}

// agent returns the session's agent of the given kind, creating and
// initializing it on first use.
func (executor *ActionExecutor) agent(agentType models.AgentType) (agents.Agent, error) {
	registry := executor.orchestrator.registry
	agent, err := registry.Get(executor.session.ID, agentType)
	if err == nil {
		return agent, nil
	}
	if !models.IsNotFound(err) {
		return nil, err
	}
	if executor.orchestrator.factory == nil {
		return nil, models.NewInternalError("AGENT_FACTORY_MISSING", "No agent factory configured")
	}

	agent, err = executor.orchestrator.factory.Create(agentType, executor.session.ID)
	if err != nil {
		return nil, err
	}
	if err := agent.Initialize(executor.ctx, executor.session.Context); err != nil {
		return nil, err
	}
	if err := registry.Register(executor.ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// runAgent feeds one message to a stage agent, forwarding its status and
// error output, and returns the agent's data message. ok is false when the
// agent failed or the consumer went away.
func (executor *ActionExecutor) runAgent(agentType models.AgentType, message models.Message) (models.Message, bool) {
	agent, err := executor.agent(agentType)
	if err != nil {
		executor.fail(agentType, err)
		return models.Message{}, false
	}

	var (
		result models.Message
		found  bool
		failed bool
	)
	for output := range agents.HandleMessage(executor.ctx, agent, message) {
		switch output.Type {
		case models.MessageTypeStatusUpdate, models.MessageTypeValidationResult, models.MessageTypeChatResponse:
			executor.emit(models.EventFromMessage(output))
		case models.MessageTypeError:
			failed = true
			executor.agentFailed(agentType, output)
		case models.MessageTypeDataProcessed:
			result, found = output, true
		}
	}

	if executor.ctx.Err() != nil || failed {
		return models.Message{}, false
	}
	if !found {
		executor.fail(agentType, models.NewInternalError("AGENT_NO_RESULT", fmt.Sprintf("The %s agent produced no result", agentType)))
		return models.Message{}, false
	}
	return result, true
}

func (executor *ActionExecutor) newMessage(messageType models.MessageType, recipient models.AgentType, payload models.Payload) (models.Message, bool) {
	message, err := models.NewMessage(executor.session.ID, messageType, models.AgentTypeChatOrchestrator, payload)
	if err != nil {
		executor.fail(models.AgentTypeChatOrchestrator, err)
		return models.Message{}, false
	}
	return message.To(recipient), true
}

func (executor *ActionExecutor) uploadFile(data models.Payload) {
	name := payloadString(data, agents.KeyFileName)
	path := payloadString(data, agents.KeyFilePath)
	uri := payloadString(data, agents.KeyURI)
	if source := firstNonEmpty(path, uri); name == "" && source != "" {
		name = filepath.Base(source)
	}
	if name == "" {
		name = "portfolio.csv"
	}
	content := data[agents.KeyContent]
	if content == nil && path == "" && uri == "" {
		executor.fail(models.AgentTypeChatOrchestrator,
			models.NewValidationError("MISSING_FILE", "upload_file needs content, file_path or uri"))
		return
	}

	executor.session.AddChat(models.ChatRoleUser, "Uploaded "+name, nil)
	executor.resetCategorization()
	agentCtx := executor.session.Context
	agentCtx.UploadedFile = &models.UploadedFile{
		Name:        name,
		URI:         uri,
		Path:        path,
		ContentType: contentTypeFor(name),
		Size:        payloadSize(content),
		UploadedAt:  time.Now().UTC(),
	}
	agentCtx.PortfolioItems = []models.PortfolioItem{}

	if !executor.transition(models.StageFileUploaded, models.ProgressFileUploaded) {
		return
	}
	if !executor.chat(fmt.Sprintf("Got %s. Reading your portfolio...", name), "info", nil) {
		return
	}

	request, ok := executor.newMessage(models.MessageTypeRequestAction, models.AgentTypeIntake, models.Payload{
		agents.KeyAction:   agents.ActionProcessFile,
		agents.KeyFileName: name,
		agents.KeyContent:  content,
		agents.KeyFilePath: path,
		agents.KeyURI:      uri,
	})
	if !ok {
		return
	}

	parsed, ok := executor.runAgent(models.AgentTypeIntake, request)
	if !ok {
		return
	}
	items, _, err := agents.Decode[[]models.PortfolioItem](parsed.Payload, agents.KeyPortfolioItems)
	if err != nil {
		executor.fail(models.AgentTypeIntake, err)
		return
	}
	confidence, _, _ := agents.Decode[float64](parsed.Payload, agents.KeyConfidenceScore)

	agentCtx.PortfolioItems = items
	agentCtx.ConfidenceScores["portfolio_parsing"] = confidence
	if !executor.progress(models.ProgressPortfolioParsed, "portfolio_parsed") {
		return
	}
	if !executor.chat(portfolioSummary(items, confidence), "success", models.Payload{
		"total_funds": len(items),
		"confidence":  confidence,
	}) {
		return
	}

	executor.research(parsed)
}

// startCategorization re-runs research and classification on the parsed
// portfolio.
func (executor *ActionExecutor) startCategorization() {
	items := executor.session.Context.PortfolioItems
	if len(items) == 0 {
		executor.fail(models.AgentTypeChatOrchestrator,
			models.NewValidationError("NO_PORTFOLIO", "Upload a portfolio before starting categorization"))
		return
	}
	executor.resetCategorization()

	message, ok := executor.newMessage(models.MessageTypeDataProcessed, models.AgentTypeResearch, models.Payload{
		agents.KeyPortfolioItems: items,
	})
	if !ok {
		return
	}
	executor.research(message)
}

func (executor *ActionExecutor) resetCategorization() {
	agentCtx := executor.session.Context
	agentCtx.Research = make(map[string]*models.FundResearch)
	agentCtx.Categorizations = []*models.FundCategorization{}
	executor.session.Results = nil
	executor.session.ResetReview(nil)
	executor.session.AnsweredQuestions = make(map[string]bool)
}

func (executor *ActionExecutor) research(parsed models.Message) {
	if !executor.transition(models.StageResearching, models.ProgressResearching) {
		return
	}
	researched, ok := executor.runAgent(models.AgentTypeResearch, parsed.To(models.AgentTypeResearch))
	if !ok {
		return
	}

	synthesized, _, err := agents.Decode[map[string]*models.FundResearch](researched.Payload, agents.KeySynthesizedData)
	if err != nil {
		executor.fail(models.AgentTypeResearch, err)
		return
	}
	summary, _, _ := agents.Decode[models.ResearchSummary](researched.Payload, agents.KeyResearchSummary)
	for ticker, fundResearch := range synthesized {
		executor.session.Context.Research[ticker] = fundResearch
	}
	executor.session.Context.ConfidenceScores["research_quality"] = summary.ResearchQuality

	if !executor.progress(models.ProgressResearchCompleted, "research_completed") {
		return
	}
	if !executor.chat(fmt.Sprintf("Research finished for %d funds (%d successful lookups, %d from cache). Classifying now...",
		summary.TotalFundsResearched, summary.SuccessfulQueries, summary.CacheHits), "info", models.Payload{
		"research_summary": summary,
	}) {
		return
	}

	executor.classify(researched)
}

func (executor *ActionExecutor) classify(researched models.Message) {
	if !executor.transition(models.StageClassifying, models.ProgressClassifying) {
		return
	}
	classified, ok := executor.runAgent(models.AgentTypeClassification, researched.To(models.AgentTypeClassification))
	if !ok {
		return
	}

	categorizations, _, err := agents.Decode[[]*models.FundCategorization](classified.Payload, agents.KeyCategorizations)
	if err != nil {
		executor.fail(models.AgentTypeClassification, err)
		return
	}
	summary, _, err := agents.Decode[models.CategorizationSummary](classified.Payload, agents.KeySummary)
	if err != nil {
		executor.fail(models.AgentTypeClassification, err)
		return
	}
	interactions, _, err := agents.Decode[[]agents.Interaction](classified.Payload, agents.KeyInteractionNeeded)
	if err != nil {
		executor.fail(models.AgentTypeClassification, err)
		return
	}

	agentCtx := executor.session.Context
	agentCtx.Categorizations = categorizations
	for _, fc := range categorizations {
		agentCtx.ConfidenceScores[fc.Ticker] = fc.AssetClassConfidence
	}

	cfg := executor.orchestrator.config
	if summary.RequiresUserInput > 0 || summary.AverageConfidence < cfg.AverageThreshold {
		executor.startReview(summary, interactions)
		return
	}

	if !executor.chat(fmt.Sprintf("I categorized all %d funds with high confidence. Here are your results.", summary.TotalFunds), "success", nil) {
		return
	}
	executor.finalize()
}

func (executor *ActionExecutor) startReview(summary models.CategorizationSummary, interactions []agents.Interaction) {
	if !executor.transition(models.StageReviewNeeded, models.ProgressReviewNeeded) {
		return
	}

	tickers := make([]string, 0, len(interactions))
	for _, interaction := range interactions {
		tickers = append(tickers, interaction.Ticker)
	}
	executor.session.ResetReview(tickers)

	if !executor.chat(fmt.Sprintf("I analyzed your funds. %d of them need your input for an accurate categorization.", summary.RequiresUserInput),
		"info", models.Payload{"interaction_needed": interactions}) {
		return
	}
	executor.askNext(true)
}

// askNext sends the first unanswered question of the current review fund,
// moving through the review queue as funds run out of questions. Once the
// queue is exhausted the session completes.
func (executor *ActionExecutor) askNext(announce bool) {
	session := executor.session
	threshold := executor.orchestrator.config.ReviewThreshold

	for {
		ticker, ok := session.CurrentReviewTicker()
		if !ok {
			session.PendingQuestion = nil
			if !executor.chat("That's all the input I needed. Your portfolio categorization is complete.", "success", nil) {
				return
			}
			executor.finalize()
			return
		}

		fc, found := session.Context.Categorization(ticker)
		if found {
			for _, question := range agents.GenerateQuestions(fc, threshold, time.Now().UTC()) {
				if session.AnsweredQuestions[question.QuestionID] {
					continue
				}
				if announce && !executor.chat(fmt.Sprintf("Let's look at **%s** (%s). I need your help with the following:", fc.Ticker, fc.FundName), "info", nil) {
					return
				}
				executor.sendQuestion(question)
				return
			}
		}

		session.ReviewIndex++
		announce = true
		if len(session.ReviewQueue) > 0 {
			review := float64(session.ReviewIndex) / float64(len(session.ReviewQueue))
			session.SetProgress(models.ProgressReviewNeeded + (models.ProgressComplete-models.ProgressReviewNeeded)*review*0.9)
		}
	}
}

func (executor *ActionExecutor) sendQuestion(question models.CategoryQuestion) bool {
	executor.session.PendingQuestion = &question
	executor.state.publish()

	payload := question.ToChatMessage()
	executor.session.AddChat(models.ChatRoleAssistant, question.QuestionText, payload)
	if !executor.emit(models.NewStreamEvent(models.EventChat, payload)) {
		return false
	}
	return executor.emit(models.NewStreamEvent(models.EventQuestion, models.Payload{
		"question": question,
	}))
}

func (executor *ActionExecutor) inReview() bool {
	stage := executor.session.Stage
	return stage == models.StageReviewNeeded || stage == models.StageAnsweringQuestions
}

func (executor *ActionExecutor) answerQuestion(data models.Payload) {
	session := executor.session
	pending := session.PendingQuestion
	if !executor.inReview() || pending == nil {
		executor.fail(models.AgentTypeChatOrchestrator,
			models.NewValidationError("NO_PENDING_QUESTION", "There is no question waiting for an answer"))
		return
	}

	questionID := payloadString(data, "question_id")
	value := firstNonEmpty(strings.TrimSpace(payloadString(data, "custom_value")), strings.TrimSpace(payloadString(data, "selected_value")))
	ticker := firstNonEmpty(payloadString(data, "ticker"), pending.Ticker)

	var invalid error
	switch {
	case questionID != pending.QuestionID || !strings.EqualFold(ticker, pending.Ticker):
		invalid = models.NewValidationError("QUESTION_MISMATCH", "The answer does not match the pending question").
			WithMetadata("question_id", questionID).
			WithMetadata("pending_question_id", pending.QuestionID)
	case value == "":
		invalid = models.NewValidationError("MISSING_ANSWER", "Select an option or provide a custom value").
			WithMetadata("question_id", questionID)
	}
	if invalid != nil {
		executor.fail(models.AgentTypeChatOrchestrator, invalid)
		executor.sendQuestion(*pending)
		return
	}

	fc, ok := session.Context.Categorization(pending.Ticker)
	if !ok {
		executor.fail(models.AgentTypeChatOrchestrator, models.NewNotFoundError("FUND_NOT_FOUND", "No categorization for this ticker").
			WithMetadata("ticker", pending.Ticker))
		return
	}

	session.AddChat(models.ChatRoleUser, value, data)
	if pending.QuestionType == models.QuestionAssetClass {
		// Confidence goes to 1.0 so the asset class question is not generated again.
		fc.ApplyOverride(agents.NormalizeAssetClass(value), "User provided answer", "user", nil, time.Now().UTC())
	} else {
		fc.SetSubCategory(pending.QuestionType, value)
	}
	session.Context.ConfidenceScores[fc.Ticker] = fc.AssetClassConfidence
	session.AnsweredQuestions[pending.QuestionID] = true
	session.PendingQuestion = nil

	if session.Stage == models.StageReviewNeeded {
		if !executor.transition(models.StageAnsweringQuestions, session.Progress) {
			return
		}
	}
	if !executor.chat(fmt.Sprintf("Thank you! I've updated %s with your selection.", fc.Ticker), "success", nil) {
		return
	}
	executor.askNext(false)
}

func (executor *ActionExecutor) overrideClassification(data models.Payload) {
	if !executor.inReview() {
		executor.fail(models.AgentTypeChatOrchestrator,
			models.NewValidationError("INVALID_STAGE", "Classifications can only be changed while they are under review").
				WithMetadata("stage", string(executor.session.Stage)))
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(payloadString(data, "ticker")))
	assetClass := payloadString(data, "asset_class")
	if ticker == "" || assetClass == "" {
		executor.fail(models.AgentTypeChatOrchestrator,
			models.NewValidationError("MISSING_OVERRIDE_DATA", "Override needs a ticker and an asset class"))
		return
	}
	fc, ok := executor.session.Context.Categorization(ticker)
	if !ok {
		executor.fail(models.AgentTypeChatOrchestrator, models.NewNotFoundError("FUND_NOT_FOUND", "No categorization for this ticker").
			WithMetadata("ticker", ticker))
		return
	}
	subCategories, _, err := agents.Decode[map[string]string](data, "sub_categories")
	if err != nil {
		executor.fail(models.AgentTypeChatOrchestrator, err)
		return
	}

	reason := firstNonEmpty(payloadString(data, "reason"), "User override")
	fc.ApplyOverride(agents.NormalizeAssetClass(assetClass), reason, "user", subCategories, time.Now().UTC())
	executor.session.Context.ConfidenceScores[fc.Ticker] = fc.AssetClassConfidence
	executor.logger.Info("Classification overridden", "ticker", ticker, "asset_class", fc.AssetClass)

	if !executor.chat(fmt.Sprintf("Updated %s classification to %s.", ticker, fc.AssetClass), "success", nil) {
		return
	}

	pending := executor.session.PendingQuestion
	if pending != nil && pending.Ticker == ticker {
		executor.session.PendingQuestion = nil
		executor.askNext(false)
	}
}

func (executor *ActionExecutor) approveClassifications() {
	if !executor.inReview() {
		executor.fail(models.AgentTypeChatOrchestrator,
			models.NewValidationError("INVALID_STAGE", "There are no classifications awaiting approval").
				WithMetadata("stage", string(executor.session.Stage)))
		return
	}
	executor.session.PendingQuestion = nil
	if !executor.chat("Your portfolio categorization is now complete. Here's your final summary.", "success", nil) {
		return
	}
	executor.finalize()
}

// finalize completes the session and emits the final results.
func (executor *ActionExecutor) finalize() {
	session := executor.session
	if session.Stage != models.StageComplete {
		if !executor.transition(models.StageComplete, models.ProgressComplete) {
			return
		}
	}

	cfg := executor.orchestrator.config
	classifications := make([]*models.FundCategorization, 0, len(session.Context.Categorizations))
	for _, fc := range session.Context.Categorizations {
		classifications = append(classifications, fc.Clone())
	}
	results := &models.CategorizationResults{
		Classifications:     classifications,
		Summary:             models.Summarize(classifications, cfg.ReviewThreshold, cfg.HighConfidence),
		PortfolioConfidence: scoring.PortfolioConfidence(classifications),
		CompletedAt:         time.Now().UTC(),
	}
	session.Results = results
	session.PendingQuestion = nil
	executor.state.publish()

	executor.emit(models.NewStreamEvent(models.EventResults, models.Payload{
		"type": "categorization_complete",
		"categorization_data": models.Payload{
			"classifications": results.Classifications,
			"summary":         results.Summary,
		},
		"portfolio_confidence": results.PortfolioConfidence,
	}))
}

func (executor *ActionExecutor) startExtraction(data models.Payload) {
	documents, ok := data[agents.KeyDocuments]
	if !ok || documents == nil {
		executor.fail(models.AgentTypeChatOrchestrator,
			models.NewValidationError("MISSING_DOCUMENTS", "start_extraction needs a documents list"))
		return
	}

	request, ok := executor.newMessage(models.MessageTypeRequestAction, models.AgentTypeExtraction, models.Payload{
		agents.KeyAction:    agents.ActionStartExtraction,
		agents.KeyDocuments: documents,
	})
	if !ok {
		return
	}
	if !executor.chat("Extracting fund data from your documents...", "info", nil) {
		return
	}

	extracted, ok := executor.runAgent(models.AgentTypeExtraction, request)
	if !ok {
		return
	}
	results, _, err := agents.Decode[[]models.ExtractionResult](extracted.Payload, agents.KeyExtractionResults)
	if err != nil {
		executor.fail(models.AgentTypeExtraction, err)
		return
	}
	summary, _, _ := agents.Decode[models.ExtractionSummary](extracted.Payload, agents.KeyExtractionSummary)

	executor.session.Context.ExtractionResults = append(executor.session.Context.ExtractionResults, results...)
	executor.session.Context.ConfidenceScores["extraction"] = summary.AverageConfidence

	if !executor.chat(fmt.Sprintf("Extracted data from %d of %d documents (average confidence %.0f%%, %d need review).",
		summary.Successful, summary.TotalDocuments, summary.AverageConfidence*100, summary.RequiresReview), "success", models.Payload{
		agents.KeyExtractionSummary: summary,
	}) {
		return
	}

	analysis := AnalyzeExtraction(executor.session.Context.ExtractionResults)
	executor.chat(analysis.Insights(), "success", models.Payload{
		"portfolio_analysis": analysis,
		"stage":              "analysis_complete",
	})
}

func (executor *ActionExecutor) chatMessage(data models.Payload) {
	text := strings.TrimSpace(payloadString(data, "message"))
	if text == "" {
		executor.fail(models.AgentTypeChatOrchestrator, models.NewValidationError("EMPTY_MESSAGE", "Message is empty"))
		return
	}
	executor.session.AddChat(models.ChatRoleUser, text, nil)
	executor.chat(contextualReply(text, executor.session.Stage), "info", nil)
}

var stageReplies = map[models.Stage]string{
	models.StageGreeting:           "Ready to process your portfolio! Upload a CSV to get started.",
	models.StageFileUploaded:       "Your file is uploaded and being parsed.",
	models.StageResearching:        "I'm researching your funds right now.",
	models.StageClassifying:        "I'm classifying your funds right now.",
	models.StageReviewNeeded:       "Some funds need your input before the categorization is final.",
	models.StageAnsweringQuestions: "We're working through the review questions.",
	models.StageComplete:           "Categorization is complete. Your results are ready.",
}

func contextualReply(message string, stage models.Stage) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "status"):
		return stageReplies[stage]
	case containsWord(lower, "help", "what", "how"):
		return "I can help you categorize a portfolio. Upload a CSV and I'll research each fund, classify it, " +
			"and ask you about anything I'm unsure of."
	case containsWord(lower, "thanks", "thank you"):
		return "You're welcome! Let me know if you need anything else."
	}
	return "I understand you're asking about your portfolio analysis. Is there something specific you'd like to know?"
}

func containsWord(s string, words ...string) bool {
	for _, word := range words {
		if strings.Contains(s, word) {
			return true
		}
	}
	return false
}

func portfolioSummary(items []models.PortfolioItem, confidence float64) string {
	classes := make(map[string]int)
	for _, item := range items {
		if item.AssetClass != "" {
			classes[item.AssetClass]++
		}
	}
	return fmt.Sprintf("Parsed %d funds across %d asset classes (%.0f%% parsing confidence). Starting research...",
		len(items), len(classes), confidence*100)
}

func payloadString(data models.Payload, key string) string {
	value, _ := data[key].(string)
	return value
}

func payloadSize(content interface{}) int64 {
	switch v := content.(type) {
	case []byte:
		return int64(len(v))
	case string:
		return int64(len(v))
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
