package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeStatusUpdate     MessageType = "status_update"
	MessageTypeDataProcessed    MessageType = "data_processed"
	MessageTypeRequestAction    MessageType = "request_action"
	MessageTypeValidationResult MessageType = "validation_result"
	MessageTypeChatResponse     MessageType = "chat_response"
	MessageTypeError            MessageType = "error"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeStatusUpdate, MessageTypeDataProcessed, MessageTypeRequestAction,
		MessageTypeValidationResult, MessageTypeChatResponse, MessageTypeError:
		return true
	}
	return false
}

type AgentType string

const (
	AgentTypeNone             AgentType = ""
	AgentTypeIntake           AgentType = "intake"
	AgentTypeResearch         AgentType = "research"
	AgentTypeClassification   AgentType = "classification"
	AgentTypeExtraction       AgentType = "extraction"
	AgentTypeValidation       AgentType = "validation"
	AgentTypeChatOrchestrator AgentType = "chat_orchestrator"
)

func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeIntake, AgentTypeResearch, AgentTypeClassification,
		AgentTypeExtraction, AgentTypeValidation, AgentTypeChatOrchestrator:
		return true
	}
	return false
}

type Payload map[string]interface{}

// Message is the unit exchanged between the orchestrator and stage agents.
// The session id is fixed at construction and has no setter.
type Message struct {
	ID        string
	Type      MessageType
	Sender    AgentType
	Recipient AgentType
	Payload   Payload
	Timestamp time.Time

	sessionID string
}

func NewMessage(sessionID string, messageType MessageType, sender AgentType, payload Payload) (Message, error) {
	if sessionID == "" {
		return Message{}, NewValidationError("EMPTY_SESSION_ID", "Message requires a session id")
	}
	if !messageType.Valid() {
		return Message{}, NewValidationError("INVALID_MESSAGE_TYPE", "Unknown message type").
			WithMetadata("type", string(messageType))
	}
	if payload == nil {
		payload = Payload{}
	}

	return Message{
		ID:        uuid.New().String(),
		Type:      messageType,
		Sender:    sender,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		sessionID: sessionID,
	}, nil
}

func (m Message) SessionID() string {
	return m.sessionID
}

// To returns a copy of the message addressed to recipient.
func (m Message) To(recipient AgentType) Message {
	m.Recipient = recipient
	return m
}

func (m Message) PayloadString(key string) string {
	value, _ := m.Payload[key].(string)
	return value
}

type wireMessage struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Sender    AgentType   `json:"sender,omitempty"`
	Recipient AgentType   `json:"recipient,omitempty"`
	Data      Payload     `json:"data"`
	SessionID string      `json:"session_id"`
	Timestamp time.Time   `json:"timestamp"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		ID:        m.ID,
		Type:      m.Type,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Data:      m.Payload,
		SessionID: m.sessionID,
		Timestamp: m.Timestamp,
	})
}

// UnmarshalJSON decodes an inbound control message. Only request_action,
// data_processed, status_update and error are accepted from the wire.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.SessionID == "" {
		return NewValidationError("EMPTY_SESSION_ID", "Message requires a session id")
	}
	switch wire.Type {
	case MessageTypeRequestAction, MessageTypeDataProcessed, MessageTypeStatusUpdate, MessageTypeError:
	default:
		return NewValidationError("INVALID_MESSAGE_TYPE", "Unsupported inbound message type").
			WithMetadata("type", string(wire.Type))
	}

	if wire.ID == "" {
		wire.ID = uuid.New().String()
	}
	if wire.Timestamp.IsZero() {
		wire.Timestamp = time.Now().UTC()
	}
	if wire.Data == nil {
		wire.Data = Payload{}
	}

	*m = Message{
		ID:        wire.ID,
		Type:      wire.Type,
		Sender:    wire.Sender,
		Recipient: wire.Recipient,
		Payload:   wire.Data,
		Timestamp: wire.Timestamp,
		sessionID: wire.SessionID,
	}
	return nil
}

func GenerateSessionID() string {
	return uuid.New().String()
}
