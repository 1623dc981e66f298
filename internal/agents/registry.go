package agents

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
)

type registryKey struct {
	sessionID string
	agentType models.AgentType
}

// Registry holds the live agents of every session, at most one per
// (session, agent type). It is shared across sessions.
type Registry struct {
	mu           sync.RWMutex
	agents       map[registryKey]Agent
	capabilities map[models.AgentType][]models.AgentCapability
	logger       *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Discard()
	}
	return &Registry{
		agents:       make(map[registryKey]Agent),
		capabilities: models.DefaultAgentCapabilities(),
		logger:       log,
	}
}

// Register stores agent under its session and type. An agent already held
// under that key is shut down before it is replaced.
func (registry *Registry) Register(ctx context.Context, agent Agent) error {
	key := registryKey{sessionID: agent.SessionID(), agentType: agent.Type()}

	registry.mu.Lock()
	previous, exists := registry.agents[key]
	registry.agents[key] = agent
	registry.mu.Unlock()

	if exists && previous != agent {
		if err := previous.Shutdown(ctx); err != nil {
			registry.logger.WithError(err).Warn("Failed to shut down replaced agent")
			return err
		}
		registry.logger.Debug("Replaced agent", "session_id", key.sessionID, "agent", string(key.agentType))
	}
	return nil
}

func (registry *Registry) Get(sessionID string, agentType models.AgentType) (Agent, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	agent, ok := registry.agents[registryKey{sessionID: sessionID, agentType: agentType}]
	if !ok {
		return nil, models.ErrAgentNotFound.
			WithMetadata("session_id", sessionID).
			WithMetadata("agent", string(agentType))
	}
	return agent, nil
}

// SessionAgents returns a session's agents ordered by type.
func (registry *Registry) SessionAgents(sessionID string) []Agent {
	registry.mu.RLock()
	var agents []Agent
	for key, agent := range registry.agents {
		if key.sessionID == sessionID {
			agents = append(agents, agent)
		}
	}
	registry.mu.RUnlock()

	sort.Slice(agents, func(i, j int) bool { return agents[i].Type() < agents[j].Type() })
	return agents
}

// ShutdownSession removes and shuts down every agent of a session. All agents
// are attempted even when some fail.
func (registry *Registry) ShutdownSession(ctx context.Context, sessionID string) error {
	registry.mu.Lock()
	var agents []Agent
	for key, agent := range registry.agents {
		if key.sessionID == sessionID {
			agents = append(agents, agent)
			delete(registry.agents, key)
		}
	}
	registry.mu.Unlock()

	var errs []error
	for _, agent := range agents {
		if err := agent.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(agents) > 0 {
		registry.logger.Info("Shut down session agents", "session_id", sessionID, "count", len(agents))
	}
	return errors.Join(errs...)
}

// ShutdownAll is used on process stop.
func (registry *Registry) ShutdownAll(ctx context.Context) error {
	registry.mu.RLock()
	sessions := make(map[string]struct{})
	for key := range registry.agents {
		sessions[key.sessionID] = struct{}{}
	}
	registry.mu.RUnlock()

	var errs []error
	for sessionID := range sessions {
		if err := registry.ShutdownSession(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (registry *Registry) Count() int {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return len(registry.agents)
}

func (registry *Registry) Capabilities(agentType models.AgentType) []models.AgentCapability {
	return registry.capabilities[agentType]
}

// AgentsAccepting lists the agent types advertising a capability for
// messageType, in type order.
func (registry *Registry) AgentsAccepting(messageType models.MessageType) []models.AgentType {
	var types []models.AgentType
	for agentType, capabilities := range registry.capabilities {
		for _, capability := range capabilities {
			if capability.Accepts(messageType) {
				types = append(types, agentType)
				break
			}
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
