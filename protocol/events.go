package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a real-time event frame.
type EventType string

// Server-to-client events.
const (
	EventAuthenticated   EventType = "authenticated"
	EventError           EventType = "error"
	EventPing            EventType = "ping"
	EventPong            EventType = "pong"
	EventNewMessage      EventType = "new_message"
	EventMessageStatus   EventType = "message_status_update"
	EventMessageDeleted  EventType = "message_deleted"
	EventTypingIndicator EventType = "typing_indicator"
	EventUserOnline      EventType = "user_online"
	EventUserOffline     EventType = "user_offline"
)

// Client-to-server events. Best-effort signaling only; anything needing
// guaranteed delivery goes through the relay's request/response API.
const (
	EventTypingStart      EventType = "typing_start"
	EventTypingStop       EventType = "typing_stop"
	EventMessageDelivered EventType = "message_delivered"
	EventMessageRead      EventType = "message_read"
)

// Event is one real-time frame, identical in shape whether it arrived over
// the push socket or a poll batch.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event with a marshaled payload.
func NewEvent(eventType EventType, payload interface{}) (Event, error) {
	if payload == nil {
		return Event{Type: eventType}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Data: data}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s event has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// NewMessageData is the payload of a new_message event.
type NewMessageData struct {
	Message Envelope `json:"message"`
}

// StatusUpdateData is the payload of a message_status_update event.
// Status is "delivered" or "read".
type StatusUpdateData struct {
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageDeletedData is the payload of a message_deleted event.
type MessageDeletedData struct {
	MessageID          string `json:"message_id"`
	ConversationID     string `json:"conversation_id"`
	DeletedForEveryone bool   `json:"deleted_for_everyone"`
}

// TypingIndicatorData is the payload of a typing_indicator event.
type TypingIndicatorData struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// PresenceData is the payload of user_online and user_offline events.
type PresenceData struct {
	UserID   string    `json:"user_id"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// TypingData is the client-to-server payload of typing_start/typing_stop.
type TypingData struct {
	ConversationID string `json:"conversation_id"`
}

// ReceiptData is the client-to-server payload of message_delivered and
// message_read.
type ReceiptData struct {
	MessageID string `json:"message_id"`
}
