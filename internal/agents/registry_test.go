package agents_test

import (
	"context"
	"testing"

	"github.com/chat-omega/fundonboarding/internal/agents"
	"github.com/chat-omega/fundonboarding/internal/models"
)

func TestRegistryReplaceShutsDownPrevious(t *testing.T) {
	registry := agents.NewRegistry(nil)
	ctx := context.Background()

	first := activeStub(t, nil)
	second := activeStub(t, nil)

	if err := registry.Register(ctx, first); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := registry.Register(ctx, second); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if first.State() != agents.StateTerminated {
		t.Errorf("Expected replaced agent to be terminated, got %s", first.State())
	}
	if registry.Count() != 1 {
		t.Errorf("Expected 1 agent, got %d", registry.Count())
	}

	got, err := registry.Get("session-1", models.AgentTypeResearch)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != agents.Agent(second) {
		t.Error("Expected the replacement agent to be registered")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	registry := agents.NewRegistry(nil)
	_, err := registry.Get("missing", models.AgentTypeIntake)
	if !models.IsNotFound(err) {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestRegistryShutdownSession(t *testing.T) {
	registry := agents.NewRegistry(nil)
	ctx := context.Background()

	research := activeStub(t, nil)
	intake := newStubAgent(t, "session-1", models.AgentTypeIntake, nil)
	other := newStubAgent(t, "session-2", models.AgentTypeIntake, nil)
	for _, agent := range []agents.Agent{research, intake, other} {
		if err := registry.Register(ctx, agent); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	if got := len(registry.SessionAgents("session-1")); got != 2 {
		t.Errorf("Expected 2 agents in session-1, got %d", got)
	}

	if err := registry.ShutdownSession(ctx, "session-1"); err != nil {
		t.Fatalf("ShutdownSession failed: %v", err)
	}
	if research.State() != agents.StateTerminated || intake.State() != agents.StateTerminated {
		t.Error("Expected session-1 agents to be terminated")
	}
	if other.State() == agents.StateTerminated {
		t.Error("Expected session-2 agent to be untouched")
	}
	if registry.Count() != 1 {
		t.Errorf("Expected 1 remaining agent, got %d", registry.Count())
	}
}

func TestRegistryAgentsAccepting(t *testing.T) {
	registry := agents.NewRegistry(nil)
	got := registry.AgentsAccepting(models.MessageTypeRequestAction)
	want := []models.AgentType{models.AgentTypeChatOrchestrator, models.AgentTypeExtraction, models.AgentTypeIntake}

	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, got[i])
		}
	}

	capabilities := registry.Capabilities(models.AgentTypeClassification)
	if len(capabilities) != 1 || !capabilities[0].RequiresHumanReview {
		t.Errorf("Expected classification to require human review, got %+v", capabilities)
	}
}

func TestFactoryCreatesEveryStage(t *testing.T) {
	factory := agents.NewFactory(agents.Dependencies{
		Search:     &fakeSearch{},
		Classifier: &fakeClassifier{},
		Extractor:  &fakeExtractor{},
	})

	for _, agentType := range []models.AgentType{
		models.AgentTypeIntake, models.AgentTypeResearch,
		models.AgentTypeClassification, models.AgentTypeExtraction,
	} {
		agent, err := factory.Create(agentType, "session-1")
		if err != nil {
			t.Fatalf("Create %s failed: %v", agentType, err)
		}
		if agent.Type() != agentType {
			t.Errorf("Expected %s, got %s", agentType, agent.Type())
		}
		if agent.State() != agents.StateUninitialized {
			t.Errorf("Expected new %s agent to be uninitialized", agentType)
		}
	}

	if _, err := factory.Create(models.AgentTypeValidation, "session-1"); !models.IsValidation(err) {
		t.Errorf("Expected validation error for unsupported kind, got %v", err)
	}
}

func TestFactoryReportsMissingCollaborators(t *testing.T) {
	factory := agents.NewFactory(agents.Dependencies{})

	agent, err := factory.Create(models.AgentTypeExtraction, "session-1")
	if err == nil {
		t.Fatal("Expected extraction without collaborators to fail")
	}
	if agent != nil {
		t.Errorf("Expected nil agent, got %T", agent)
	}
}
