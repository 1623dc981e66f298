// Package agents implements the pipeline stages. Every stage satisfies Agent
// and shares lifecycle, confidence bookkeeping and message construction
// through an embedded *Base.
package agents

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateActive        State = "active"
	StateTerminated    State = "terminated"
)

// Emit hands one output message to the consumer. It reports false once the
// consumer has gone away; handlers must stop producing at that point.
type Emit func(models.Message) bool

// HandlerFunc does the work for one inbound message. A returned error is
// turned into an error message for the consumer.
type HandlerFunc func(ctx context.Context, message models.Message, emit Emit) error

type Agent interface {
	Type() models.AgentType
	SessionID() string
	State() State
	Capabilities() []models.AgentCapability

	Initialize(ctx context.Context, agentCtx *models.AgentContext) error
	// Process returns a single-pass sequence of output messages. The channel
	// is closed when the agent is done with the input.
	Process(ctx context.Context, message models.Message) <-chan models.Message
	Shutdown(ctx context.Context) error

	Handler(messageType models.MessageType) (HandlerFunc, bool)
	Run(ctx context.Context, message models.Message, handler HandlerFunc) <-chan models.Message
}

// HandleMessage routes a message through the agent's registered handler for
// its type, falling back to Process.
func HandleMessage(ctx context.Context, agent Agent, message models.Message) <-chan models.Message {
	if handler, ok := agent.Handler(message.Type); ok {
		return agent.Run(ctx, message, handler)
	}
	return agent.Process(ctx, message)
}

type hooks struct {
	setup   func(ctx context.Context) error
	cleanup func(ctx context.Context) error
}

type Base struct {
	agentType models.AgentType
	sessionID string
	logger    *logger.Logger
	hooks     hooks

	// lifecycle serializes Initialize and Shutdown. Hooks run under it but
	// not under mu, so they may use the confidence and handler setters.
	lifecycle sync.Mutex

	mu         sync.RWMutex
	state      State
	agentCtx   *models.AgentContext
	confidence map[string]float64
	handlers   map[models.MessageType]HandlerFunc
}

func NewBase(agentType models.AgentType, sessionID string, log *logger.Logger) (*Base, error) {
	if sessionID == "" {
		return nil, models.NewValidationError("EMPTY_SESSION_ID", "Agent requires a session id")
	}
	if !agentType.Valid() {
		return nil, models.NewValidationError("INVALID_AGENT_TYPE", "Unknown agent type").
			WithMetadata("agent_type", string(agentType))
	}
	if log == nil {
		log = logger.Discard()
	}

	return &Base{
		agentType:  agentType,
		sessionID:  sessionID,
		logger:     log.With("agent", string(agentType), "session_id", sessionID),
		state:      StateUninitialized,
		confidence: make(map[string]float64),
		handlers:   make(map[models.MessageType]HandlerFunc),
	}, nil
}

func (base *Base) Type() models.AgentType { return base.agentType }
func (base *Base) SessionID() string      { return base.sessionID }

func (base *Base) State() State {
	base.mu.RLock()
	defer base.mu.RUnlock()
	return base.state
}

func (base *Base) Capabilities() []models.AgentCapability {
	return models.DefaultAgentCapabilities()[base.agentType]
}

// OnSetup and OnCleanup install the per-agent resource hooks run by
// Initialize and Shutdown.
func (base *Base) OnSetup(fn func(ctx context.Context) error)   { base.hooks.setup = fn }
func (base *Base) OnCleanup(fn func(ctx context.Context) error) { base.hooks.cleanup = fn }

func (base *Base) RegisterHandler(messageType models.MessageType, handler HandlerFunc) {
	base.mu.Lock()
	defer base.mu.Unlock()
	base.handlers[messageType] = handler
}

func (base *Base) Handler(messageType models.MessageType) (HandlerFunc, bool) {
	base.mu.RLock()
	defer base.mu.RUnlock()
	handler, ok := base.handlers[messageType]
	return handler, ok
}

// Initialize is idempotent for an active agent. A terminated agent cannot be
// brought back.
func (base *Base) Initialize(ctx context.Context, agentCtx *models.AgentContext) error {
	base.lifecycle.Lock()
	defer base.lifecycle.Unlock()

	switch base.State() {
	case StateActive:
		return nil
	case StateTerminated:
		return models.NewInternalError("AGENT_TERMINATED", "Agent has already been shut down").
			WithMetadata("agent", string(base.agentType))
	}

	if agentCtx != nil && agentCtx.SessionID != base.sessionID {
		return models.NewValidationError("SESSION_MISMATCH", "Agent context belongs to another session").
			WithMetadata("agent_session", base.sessionID).
			WithMetadata("context_session", agentCtx.SessionID)
	}

	startTime := time.Now()
	if base.hooks.setup != nil {
		if err := base.hooks.setup(ctx); err != nil {
			return fmt.Errorf("failed to set up %s agent: %w", base.agentType, err)
		}
	}

	base.mu.Lock()
	base.agentCtx = agentCtx
	base.state = StateActive
	base.mu.Unlock()

	base.logger.LogAgent(base.sessionID, string(base.agentType), "initialize", time.Since(startTime), nil)
	return nil
}

func (base *Base) Shutdown(ctx context.Context) error {
	base.lifecycle.Lock()
	defer base.lifecycle.Unlock()

	base.mu.Lock()
	wasActive := base.state == StateActive
	base.state = StateTerminated
	base.agentCtx = nil
	base.mu.Unlock()

	if !wasActive {
		return nil
	}
	if base.hooks.cleanup != nil {
		if err := base.hooks.cleanup(ctx); err != nil {
			return fmt.Errorf("failed to clean up %s agent: %w", base.agentType, err)
		}
	}
	base.logger.LogAgent(base.sessionID, string(base.agentType), "shutdown", 0, nil)
	return nil
}

// Context returns the session context passed to Initialize. Agents read it;
// only the orchestrator writes to it.
func (base *Base) Context() *models.AgentContext {
	base.mu.RLock()
	defer base.mu.RUnlock()
	return base.agentCtx
}

func (base *Base) SetConfidence(key string, value float64) error {
	if value < 0 || value > 1 {
		return models.NewInternalError("CONFIDENCE_OUT_OF_RANGE", "Confidence must be within [0,1]").
			WithMetadata("key", key).WithMetadata("value", value)
	}
	base.mu.Lock()
	defer base.mu.Unlock()
	base.confidence[key] = value
	return nil
}

func (base *Base) Confidence(key string) (float64, bool) {
	base.mu.RLock()
	defer base.mu.RUnlock()
	value, ok := base.confidence[key]
	return value, ok
}

// OverallConfidence is the mean of every recorded confidence, or 0.
func (base *Base) OverallConfidence() float64 {
	base.mu.RLock()
	defer base.mu.RUnlock()
	if len(base.confidence) == 0 {
		return 0
	}
	total := 0.0
	for _, value := range base.confidence {
		total += value
	}
	return total / float64(len(base.confidence))
}

// NewMessage builds an outbound message from this agent.
func (base *Base) NewMessage(messageType models.MessageType, recipient models.AgentType, payload models.Payload) models.Message {
	message, err := models.NewMessage(base.sessionID, messageType, base.agentType, payload)
	if err != nil {
		// session id and message types are validated at construction
		panic(err)
	}
	return message.To(recipient)
}

func (base *Base) Status(status string, extra models.Payload) models.Message {
	payload := models.Payload{"status": status}
	for key, value := range extra {
		payload[key] = value
	}
	return base.NewMessage(models.MessageTypeStatusUpdate, models.AgentTypeChatOrchestrator, payload)
}

// ErrorMessage converts err into the error payload {error, agent, details}.
func (base *Base) ErrorMessage(err error, details models.Payload) models.Message {
	if details == nil {
		details = models.Payload{}
	}
	if appErr, ok := models.AsAppError(err); ok {
		details["code"] = appErr.Code
		details["error_type"] = string(appErr.Type)
		details["retryable"] = appErr.Retryable
		for key, value := range appErr.Metadata {
			if _, exists := details[key]; !exists {
				details[key] = value
			}
		}
	}

	return base.NewMessage(models.MessageTypeError, models.AgentTypeChatOrchestrator, models.Payload{
		"error":   err.Error(),
		"agent":   string(base.agentType),
		"details": details,
	})
}

// Run executes handler on its own goroutine and streams what it emits over an
// unbuffered channel, so output order is production order and production
// stalls when the consumer stops reading. Handler errors and panics become a
// trailing error message.
func (base *Base) Run(ctx context.Context, message models.Message, handler HandlerFunc) <-chan models.Message {
	out := make(chan models.Message)

	go func() {
		defer close(out)
		startTime := time.Now()
		emitted := 0

		emit := func(msg models.Message) bool {
			select {
			case out <- msg:
				emitted++
				return true
			case <-ctx.Done():
				return false
			}
		}

		if message.SessionID() != base.sessionID {
			emit(base.ErrorMessage(models.NewValidationError("SESSION_MISMATCH", "Message belongs to another session").
				WithMetadata("message_session", message.SessionID()), nil))
			return
		}
		if state := base.State(); state != StateActive {
			emit(base.ErrorMessage(models.NewInternalError("AGENT_NOT_ACTIVE", "Agent is not active").
				WithMetadata("state", string(state)), nil))
			return
		}

		err := base.safeCall(ctx, message, handler, emit)
		if err != nil && ctx.Err() == nil {
			base.logger.WithError(err).Warn("Agent processing failed")
			emit(base.ErrorMessage(err, models.Payload{"message_id": message.ID}))
		}

		base.logger.LogAgent(base.sessionID, string(base.agentType), "process", time.Since(startTime), map[string]interface{}{
			"message_type": string(message.Type),
			"emitted":      emitted,
			"cancelled":    ctx.Err() != nil,
		})
	}()

	return out
}

func (base *Base) safeCall(ctx context.Context, message models.Message, handler HandlerFunc, emit Emit) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			base.logger.Error("Agent panicked", "panic", fmt.Sprintf("%v", recovered), "stack", string(debug.Stack()))
			err = models.NewInternalError("AGENT_PANIC", fmt.Sprintf("%s agent failed unexpectedly: %v", base.agentType, recovered))
		}
	}()
	return handler(ctx, message, emit)
}

// Drain collects every message from a sequence. It is meant for tests and
// headless callers that do not stream.
func Drain(messages <-chan models.Message) []models.Message {
	var collected []models.Message
	for message := range messages {
		collected = append(collected, message)
	}
	return collected
}
