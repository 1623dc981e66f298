package agents_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chat-omega/fundonboarding/internal/agents"
	"github.com/chat-omega/fundonboarding/internal/models"
)

type stubAgent struct {
	*agents.Base
	handler agents.HandlerFunc
}

func (agent *stubAgent) Process(ctx context.Context, message models.Message) <-chan models.Message {
	return agent.Run(ctx, message, agent.handler)
}

func newStubAgent(t *testing.T, sessionID string, agentType models.AgentType, handler agents.HandlerFunc) *stubAgent {
	t.Helper()
	base, err := agents.NewBase(agentType, sessionID, nil)
	if err != nil {
		t.Fatalf("Failed to create base: %v", err)
	}
	return &stubAgent{Base: base, handler: handler}
}

func activeStub(t *testing.T, handler agents.HandlerFunc) *stubAgent {
	t.Helper()
	agent := newStubAgent(t, "session-1", models.AgentTypeResearch, handler)
	if err := agent.Initialize(context.Background(), models.NewAgentContext("session-1")); err != nil {
		t.Fatalf("Failed to initialize agent: %v", err)
	}
	return agent
}

func newInput(t *testing.T, sessionID string, messageType models.MessageType, payload models.Payload) models.Message {
	t.Helper()
	message, err := models.NewMessage(sessionID, messageType, models.AgentTypeChatOrchestrator, payload)
	if err != nil {
		t.Fatalf("Failed to create message: %v", err)
	}
	return message
}

func TestLifecycle(t *testing.T) {
	agent := newStubAgent(t, "session-1", models.AgentTypeIntake, nil)
	setupCalls := 0
	agent.OnSetup(func(context.Context) error {
		setupCalls++
		return nil
	})

	if agent.State() != agents.StateUninitialized {
		t.Errorf("Expected uninitialized, got %s", agent.State())
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := agent.Initialize(ctx, models.NewAgentContext("session-1")); err != nil {
			t.Fatalf("Initialize %d failed: %v", i, err)
		}
	}
	if setupCalls != 1 {
		t.Errorf("Expected setup to run once, got %d", setupCalls)
	}
	if agent.State() != agents.StateActive {
		t.Errorf("Expected active, got %s", agent.State())
	}

	if err := agent.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if agent.State() != agents.StateTerminated {
		t.Errorf("Expected terminated, got %s", agent.State())
	}
	if err := agent.Initialize(ctx, nil); err == nil {
		t.Error("Expected terminated agent to refuse initialization")
	}
}

func TestHooksMayRecordConfidence(t *testing.T) {
	research, err := agents.NewResearchAgent("session-1", &fakeSearch{}, nil, agents.ResearchOptions{}, nil)
	if err != nil {
		t.Fatalf("Failed to create research agent: %v", err)
	}
	classification, err := agents.NewClassificationAgent("session-1", nil, nil, agents.ClassificationOptions{}, nil)
	if err != nil {
		t.Fatalf("Failed to create classification agent: %v", err)
	}
	stub := newStubAgent(t, "session-1", models.AgentTypeIntake, nil)
	stub.OnCleanup(func(context.Context) error {
		return stub.SetConfidence("cleanup", 0.5)
	})

	tests := []struct {
		name  string
		agent agents.Agent
		key   string
		want  float64
	}{
		{"research", research, "research_ready", 0.9},
		{"classification", classification, "classification_ready", 0.95},
		{"cleanup hook", stub, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				if err := tt.agent.Initialize(ctx, models.NewAgentContext("session-1")); err != nil {
					done <- err
					return
				}
				done <- tt.agent.Shutdown(ctx)
			}()

			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("Expected lifecycle to succeed, got %v", err)
				}
			case <-ctx.Done():
				t.Fatal("Expected Initialize and Shutdown to return, got a timeout")
			}

			if tt.agent.State() != agents.StateTerminated {
				t.Errorf("Expected terminated, got %s", tt.agent.State())
			}
			if tt.key == "" {
				return
			}
			recorder, ok := tt.agent.(interface {
				Confidence(key string) (float64, bool)
			})
			if !ok {
				t.Fatalf("Expected %s agent to expose confidence", tt.name)
			}
			if got, _ := recorder.Confidence(tt.key); got != tt.want {
				t.Errorf("Expected %s confidence %.2f, got %.2f", tt.key, tt.want, got)
			}
		})
	}
}

func TestInitializeRejectsForeignContext(t *testing.T) {
	agent := newStubAgent(t, "session-1", models.AgentTypeIntake, nil)
	err := agent.Initialize(context.Background(), models.NewAgentContext("session-2"))
	if !models.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestNewBaseValidation(t *testing.T) {
	if _, err := agents.NewBase(models.AgentTypeIntake, "", nil); !models.IsValidation(err) {
		t.Errorf("Expected validation error for empty session, got %v", err)
	}
	if _, err := agents.NewBase(models.AgentType("broker"), "session-1", nil); !models.IsValidation(err) {
		t.Errorf("Expected validation error for unknown type, got %v", err)
	}
}

func TestRunPreservesEmitOrder(t *testing.T) {
	agent := activeStub(t, nil)
	agent.handler = func(ctx context.Context, message models.Message, emit agents.Emit) error {
		for _, status := range []string{"one", "two", "three"} {
			if !emit(agent.Status(status, nil)) {
				return nil
			}
		}
		return nil
	}

	input := newInput(t, "session-1", models.MessageTypeDataProcessed, nil)
	messages := agents.Drain(agent.Process(context.Background(), input))

	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(messages))
	}
	for i, want := range []string{"one", "two", "three"} {
		if got := messages[i].PayloadString("status"); got != want {
			t.Errorf("Expected status %s at %d, got %s", want, i, got)
		}
		if messages[i].SessionID() != "session-1" {
			t.Errorf("Expected session-1, got %s", messages[i].SessionID())
		}
	}
}

func TestRunConvertsErrorsAndPanics(t *testing.T) {
	tests := []struct {
		name     string
		handler  agents.HandlerFunc
		wantCode string
	}{
		{
			name: "returned error",
			handler: func(context.Context, models.Message, agents.Emit) error {
				return models.NewValidationError("BAD_INPUT", "bad input")
			},
			wantCode: "BAD_INPUT",
		},
		{
			name: "panic",
			handler: func(context.Context, models.Message, agents.Emit) error {
				panic("boom")
			},
			wantCode: "AGENT_PANIC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := activeStub(t, tt.handler)
			input := newInput(t, "session-1", models.MessageTypeDataProcessed, nil)
			messages := agents.Drain(agent.Process(context.Background(), input))

			if len(messages) != 1 {
				t.Fatalf("Expected 1 message, got %d", len(messages))
			}
			msg := messages[0]
			if msg.Type != models.MessageTypeError {
				t.Fatalf("Expected error message, got %s", msg.Type)
			}
			if msg.PayloadString("agent") != string(models.AgentTypeResearch) {
				t.Errorf("Expected agent research, got %s", msg.PayloadString("agent"))
			}
			details, _ := msg.Payload["details"].(models.Payload)
			if details["code"] != tt.wantCode {
				t.Errorf("Expected code %s, got %v", tt.wantCode, details["code"])
			}
			if details["message_id"] != input.ID {
				t.Errorf("Expected message id %s, got %v", input.ID, details["message_id"])
			}
		})
	}
}

func TestRunRejectsForeignSession(t *testing.T) {
	called := false
	agent := activeStub(t, func(context.Context, models.Message, agents.Emit) error {
		called = true
		return nil
	})

	input := newInput(t, "session-2", models.MessageTypeDataProcessed, nil)
	messages := agents.Drain(agent.Process(context.Background(), input))

	if called {
		t.Error("Expected handler not to run for another session")
	}
	if len(messages) != 1 || messages[0].Type != models.MessageTypeError {
		t.Fatalf("Expected a single error message, got %v", messages)
	}
}

func TestRunRequiresActiveAgent(t *testing.T) {
	agent := newStubAgent(t, "session-1", models.AgentTypeResearch, func(context.Context, models.Message, agents.Emit) error {
		return nil
	})
	input := newInput(t, "session-1", models.MessageTypeDataProcessed, nil)
	messages := agents.Drain(agent.Process(context.Background(), input))

	if len(messages) != 1 || messages[0].Type != models.MessageTypeError {
		t.Fatalf("Expected a single error message, got %v", messages)
	}
}

func TestRunStopsWhenConsumerCancels(t *testing.T) {
	produced := make(chan int, 1)
	var agent *stubAgent
	agent = activeStub(t, func(ctx context.Context, message models.Message, emit agents.Emit) error {
		count := 0
		for emit(agent.Status("tick", nil)) {
			count++
		}
		produced <- count
		return errors.New("stopped")
	})

	ctx, cancel := context.WithCancel(context.Background())
	out := agent.Process(ctx, newInput(t, "session-1", models.MessageTypeDataProcessed, nil))
	<-out
	<-out
	cancel()

	count := <-produced
	if count < 2 {
		t.Errorf("Expected at least 2 delivered messages, got %d", count)
	}
	for range out {
	}
}

func TestHandleMessagePrefersRegisteredHandler(t *testing.T) {
	agent := activeStub(t, func(ctx context.Context, message models.Message, emit agents.Emit) error {
		return errors.New("process should not run")
	})
	agent.RegisterHandler(models.MessageTypeRequestAction, func(ctx context.Context, message models.Message, emit agents.Emit) error {
		emit(agent.Status("handled", nil))
		return nil
	})

	messages := agents.Drain(agents.HandleMessage(context.Background(), agent,
		newInput(t, "session-1", models.MessageTypeRequestAction, nil)))
	if len(messages) != 1 || messages[0].PayloadString("status") != "handled" {
		t.Errorf("Expected handler output, got %v", messages)
	}

	messages = agents.Drain(agents.HandleMessage(context.Background(), agent,
		newInput(t, "session-1", models.MessageTypeDataProcessed, nil)))
	if len(messages) != 1 || messages[0].Type != models.MessageTypeError {
		t.Errorf("Expected fallback to Process, got %v", messages)
	}
}

func TestConfidenceBookkeeping(t *testing.T) {
	agent := newStubAgent(t, "session-1", models.AgentTypeIntake, nil)

	if agent.OverallConfidence() != 0 {
		t.Errorf("Expected 0 with no scores, got %f", agent.OverallConfidence())
	}
	if err := agent.SetConfidence("a", 0.5); err != nil {
		t.Fatalf("SetConfidence failed: %v", err)
	}
	if err := agent.SetConfidence("b", 1.0); err != nil {
		t.Fatalf("SetConfidence failed: %v", err)
	}
	if got := agent.OverallConfidence(); got != 0.75 {
		t.Errorf("Expected 0.75, got %f", got)
	}
	if err := agent.SetConfidence("c", 1.5); err == nil {
		t.Error("Expected out of range confidence to be rejected")
	}
	if value, ok := agent.Confidence("a"); !ok || value != 0.5 {
		t.Errorf("Expected a=0.5, got %f (%v)", value, ok)
	}
}
