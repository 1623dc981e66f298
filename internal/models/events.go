package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventConnected EventType = "connected"
	EventChat      EventType = "chat"
	EventStatus    EventType = "status"
	EventStage     EventType = "stage"
	EventQuestion  EventType = "question"
	EventResults   EventType = "results"
	EventError     EventType = "error"
)

// StreamEvent is the client-facing wire shape. Timestamp is unix seconds.
type StreamEvent struct {
	Type      EventType `json:"type"`
	Data      Payload   `json:"data"`
	Timestamp float64   `json:"timestamp"`
	MessageID string    `json:"messageId"`
}

func NewStreamEvent(eventType EventType, data Payload) StreamEvent {
	if data == nil {
		data = Payload{}
	}
	now := time.Now()
	return StreamEvent{
		Type:      eventType,
		Data:      data,
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
		MessageID: uuid.New().String(),
	}
}

// EventFromMessage maps an agent message onto its stream event, keeping the
// message id so clients can correlate.
func EventFromMessage(message Message) StreamEvent {
	var eventType EventType
	switch message.Type {
	case MessageTypeChatResponse:
		eventType = EventChat
	case MessageTypeError:
		eventType = EventError
	default:
		eventType = EventStatus
	}
	event := NewStreamEvent(eventType, message.Payload)
	event.MessageID = message.ID
	event.Timestamp = float64(message.Timestamp.UnixNano()) / float64(time.Second)
	return event
}
