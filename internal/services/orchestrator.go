package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chat-omega/fundonboarding/internal/agents"
	"github.com/chat-omega/fundonboarding/internal/cache"
	"github.com/chat-omega/fundonboarding/internal/config"
	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
)

// Session actions accepted by HandleAction.
const (
	ActionUploadFile             = "upload_file"
	ActionStartProcessing        = "start_processing"
	ActionStartCategorization    = "start_categorization"
	ActionAnswerQuestion         = "answer_question"
	ActionOverrideClassification = "override_classification"
	ActionApproveClassifications = "approve_classifications"
	ActionStartExtraction        = agents.ActionStartExtraction
	ActionChatMessage            = "chat_message"
)

const (
	storeSessionStateTimeout      = 5 * time.Second
	orchestratorShutdownTimeout   = 30 * time.Second
	orchestratorShutdownPollEvery = 1 * time.Second
)

type Orchestrator struct {
	registry     *agents.Registry
	factory      *agents.Factory
	cache        *cache.Cache
	redisService *RedisService
	metrics      *Metrics

	config config.PipelineConfig
	logger *logger.Logger

	healthChecks map[string]func(ctx context.Context) error

	sessions      sync.Map // session_id -> *sessionState
	activeActions sync.Map // session_id -> action name

	startTime time.Time
}

// sessionState guards one session. lock is held for the whole of an action,
// which makes the running executor the session's only writer. Readers get
// the snapshot and results published after each step.
type sessionState struct {
	lock    chan struct{}
	session *models.Session

	mu       sync.RWMutex
	snapshot models.SessionSnapshot
	results  *models.CategorizationResults
}

func newSessionState(session *models.Session) *sessionState {
	state := &sessionState{
		lock:    make(chan struct{}, 1),
		session: session,
	}
	state.publish()
	return state
}

func (state *sessionState) acquire(ctx context.Context) error {
	select {
	case state.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (state *sessionState) release() {
	<-state.lock
}

func (state *sessionState) publish() {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.snapshot = state.session.Snapshot()
	state.results = state.session.Results
}

func (state *sessionState) read() (models.SessionSnapshot, *models.CategorizationResults) {
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.snapshot, state.results
}

// NewOrchestrator wires the session state machine. resultCache, redisService
// and metrics are optional.
func NewOrchestrator(
	factory *agents.Factory,
	registry *agents.Registry,
	resultCache *cache.Cache,
	redisService *RedisService,
	metrics *Metrics,
	cfg config.PipelineConfig,
	log *logger.Logger) *Orchestrator {

	if log == nil {
		log = logger.Discard()
	}
	if registry == nil {
		registry = agents.NewRegistry(log)
	}
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = config.DefaultReviewThreshold
	}
	if cfg.AverageThreshold <= 0 {
		cfg.AverageThreshold = config.DefaultAverageThreshold
	}
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = config.DefaultAverageThreshold
	}

	orchestrator := &Orchestrator{
		registry:     registry,
		factory:      factory,
		cache:        resultCache,
		redisService: redisService,
		metrics:      metrics,
		config:       cfg,
		logger:       log,
		healthChecks: make(map[string]func(ctx context.Context) error),
		startTime:    time.Now(),
	}
	if resultCache != nil {
		orchestrator.healthChecks["cache"] = resultCache.HealthCheck
	}
	if redisService != nil {
		orchestrator.healthChecks["redis"] = redisService.HealthCheck
	}

	log.Info("Orchestrator Initialized Successfully",
		"review_threshold", cfg.ReviewThreshold,
		"average_threshold", cfg.AverageThreshold,
		"redis_enabled", redisService != nil,
		"cache_enabled", resultCache != nil)

	return orchestrator
}

// AddHealthCheck registers an extra dependency check for HealthCheck.
func (orchestrator *Orchestrator) AddHealthCheck(name string, check func(ctx context.Context) error) {
	orchestrator.healthChecks[name] = check
}

func (orchestrator *Orchestrator) CreateSession(ctx context.Context) (models.SessionSnapshot, error) {
	session := models.NewSession(models.GenerateSessionID())
	state := newSessionState(session)
	orchestrator.sessions.Store(session.ID, state)

	if orchestrator.metrics != nil {
		orchestrator.metrics.SessionOpened()
	}
	orchestrator.storeSessionState(ctx, state)
	orchestrator.logger.LogSession(session.ID, "session_created", 0, nil)

	snapshot, _ := state.read()
	return snapshot, nil
}

// GetSession returns the live snapshot, falling back to the one persisted in
// Redis for sessions this process no longer holds.
func (orchestrator *Orchestrator) GetSession(ctx context.Context, sessionID string) (models.SessionSnapshot, error) {
	if state, ok := orchestrator.loadSession(sessionID); ok {
		snapshot, _ := state.read()
		return snapshot, nil
	}
	if orchestrator.redisService != nil {
		snapshot, err := orchestrator.redisService.GetSessionState(ctx, sessionID)
		if err != nil {
			return models.SessionSnapshot{}, err
		}
		return *snapshot, nil
	}
	return models.SessionSnapshot{}, models.ErrSessionNotFound.WithMetadata("session_id", sessionID)
}

// Results returns the final categorization results once the session has
// completed.
func (orchestrator *Orchestrator) Results(sessionID string) (*models.CategorizationResults, error) {
	state, ok := orchestrator.loadSession(sessionID)
	if !ok {
		return nil, models.ErrSessionNotFound.WithMetadata("session_id", sessionID)
	}
	_, results := state.read()
	if results == nil {
		return nil, models.NewNotFoundError("RESULTS_NOT_READY", "Categorization has not completed").
			WithMetadata("session_id", sessionID)
	}
	return results, nil
}

// DeleteSession waits for any running action, shuts the session's agents
// down and forgets the session. Cached research is keyed by ticker and is
// left alone.
func (orchestrator *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	startTime := time.Now()
	state, ok := orchestrator.loadSession(sessionID)
	if !ok {
		return models.ErrSessionNotFound.WithMetadata("session_id", sessionID)
	}
	if err := state.acquire(ctx); err != nil {
		return models.NewTimeoutError("SESSION_BUSY", "Session is still processing an action").
			WithMetadata("session_id", sessionID).WithCause(err)
	}
	defer state.release()

	orchestrator.sessions.Delete(sessionID)
	if orchestrator.metrics != nil {
		orchestrator.metrics.SessionClosed()
	}

	err := orchestrator.registry.ShutdownSession(ctx, sessionID)
	if orchestrator.redisService != nil {
		if redisErr := orchestrator.redisService.DeleteSessionState(ctx, sessionID); redisErr != nil {
			orchestrator.logger.WithFields(logger.Fields{"session_id": sessionID}).WithError(redisErr).Warn("Failed to delete session state")
		}
	}
	orchestrator.logger.LogSession(sessionID, "session_deleted", time.Since(startTime), err)
	return err
}

func (orchestrator *Orchestrator) loadSession(sessionID string) (*sessionState, bool) {
	value, ok := orchestrator.sessions.Load(sessionID)
	if !ok {
		return nil, false
	}
	return value.(*sessionState), true
}

// HandleAction runs one client action against a session and streams the
// resulting events in production order. The channel is unbuffered and is
// closed when the action is done; cancelling ctx stops production at the
// next event.
func (orchestrator *Orchestrator) HandleAction(ctx context.Context, sessionID, action string, data models.Payload) <-chan models.StreamEvent {
	out := make(chan models.StreamEvent)

	go func() {
		defer close(out)
		startTime := time.Now()

		state, ok := orchestrator.loadSession(sessionID)
		if !ok {
			sendEvent(ctx, out, errorEvent(models.AgentTypeChatOrchestrator,
				models.ErrSessionNotFound.WithMetadata("session_id", sessionID)))
			return
		}
		if err := state.acquire(ctx); err != nil {
			return
		}
		defer state.release()

		orchestrator.activeActions.Store(sessionID, action)
		defer orchestrator.activeActions.Delete(sessionID)

		executor := &ActionExecutor{
			orchestrator: orchestrator,
			state:        state,
			session:      state.session,
			ctx:          ctx,
			out:          out,
			logger:       orchestrator.logger.With("session_id", sessionID, "action", action),
		}
		executor.execute(action, data)

		state.publish()
		orchestrator.storeSessionState(ctx, state)

		duration := time.Since(startTime)
		if orchestrator.metrics != nil {
			orchestrator.metrics.ObserveAction(action, duration)
		}
		orchestrator.logger.LogSession(sessionID, "action_"+action, duration, ctx.Err())
	}()

	return out
}

// storeSessionState persists the snapshot even when the client has already
// gone away.
func (orchestrator *Orchestrator) storeSessionState(ctx context.Context, state *sessionState) {
	if orchestrator.redisService == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeSessionStateTimeout)
	defer cancel()

	snapshot, _ := state.read()
	if err := orchestrator.redisService.StoreSessionState(storeCtx, snapshot); err != nil {
		orchestrator.logger.WithError(err).Error("Failed to store session state")
	}
}

func (orchestrator *Orchestrator) mirrorEvent(ctx context.Context, sessionID string, event models.StreamEvent) {
	if orchestrator.redisService == nil {
		return
	}
	if err := orchestrator.redisService.PublishEvent(ctx, sessionID, event); err != nil {
		orchestrator.logger.WithFields(logger.Fields{"session_id": sessionID}).WithError(err).Warn("Failed to mirror session event")
	}
}

func sendEvent(ctx context.Context, out chan<- models.StreamEvent, event models.StreamEvent) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func (orchestrator *Orchestrator) GetActiveSessionsCount() int {
	count := 0
	orchestrator.sessions.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func (orchestrator *Orchestrator) GetActiveActionsCount() int {
	count := 0
	orchestrator.activeActions.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func (orchestrator *Orchestrator) HealthCheck(ctx context.Context) error {
	names := make([]string, 0, len(orchestrator.healthChecks))
	for name := range orchestrator.healthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, serviceName := range names {
		if err := orchestrator.healthChecks[serviceName](ctx); err != nil {
			return fmt.Errorf("service %s health check failed: %w", serviceName, err)
		}
	}
	return nil
}

func (orchestrator *Orchestrator) GetStats() map[string]interface{} {
	uptime := time.Since(orchestrator.startTime)

	stages := make(map[string]int)
	orchestrator.sessions.Range(func(_, value interface{}) bool {
		snapshot, _ := value.(*sessionState).read()
		stages[string(snapshot.Stage)]++
		return true
	})

	return map[string]interface{}{
		"service":           "orchestrator",
		"uptime_seconds":    uptime.Seconds(),
		"active_sessions":   orchestrator.GetActiveSessionsCount(),
		"active_actions":    orchestrator.GetActiveActionsCount(),
		"registered_agents": orchestrator.registry.Count(),
		"sessions_by_stage": stages,
		"review_threshold":  orchestrator.config.ReviewThreshold,
		"average_threshold": orchestrator.config.AverageThreshold,
		"supported_actions": []string{
			ActionUploadFile, ActionStartProcessing, ActionStartCategorization, ActionAnswerQuestion,
			ActionOverrideClassification, ActionApproveClassifications, ActionStartExtraction, ActionChatMessage,
		},
	}
}

// Close waits for running actions to finish, then shuts every agent down.
func (orchestrator *Orchestrator) Close() error {
	orchestrator.logger.Info("Orchestrator shutting down")

	timeout := time.After(orchestratorShutdownTimeout)
	ticker := time.NewTicker(orchestratorShutdownPollEvery)
	defer ticker.Stop()

	for orchestrator.GetActiveActionsCount() > 0 {
		select {
		case <-timeout:
			orchestrator.logger.Warn("Timeout waiting for actions to complete", "active_actions", orchestrator.GetActiveActionsCount())
			return orchestrator.registry.ShutdownAll(context.Background())
		case <-ticker.C:
		}
	}

	orchestrator.logger.Info("All actions completed, orchestrator closed")
	return orchestrator.registry.ShutdownAll(context.Background())
}
