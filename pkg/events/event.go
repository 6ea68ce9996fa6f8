package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types published for design sessions. The bus subject is
// "design.<type>".
const (
	SessionCreated           = "session.created"
	SessionClosed            = "session.closed"
	SessionReset             = "session.reset"
	GenerationCompleted      = "generation.completed"
	GenerationDegraded       = "generation.degraded"
	GenerationCacheHit       = "generation.cache_hit"
	VisualizationRateLimited = "visualization.rate_limited"
)

// Event defines the contract for all design events.
type Event interface {
	// EventType returns the dotted event code, e.g. "generation.completed".
	EventType() string

	// SessionID returns the design session the event belongs to.
	SessionID() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// BaseEvent is the one concrete event shape; the type string carries the
// meaning.
type BaseEvent struct {
	Type       string                 `json:"type"`
	Session    string                 `json:"session_id"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func New(eventType, sessionID string, data map[string]interface{}) BaseEvent {
	return BaseEvent{
		Type:       eventType,
		Session:    sessionID,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) SessionID() string {
	return e.Session
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// Subject returns the bus subject for an event type.
func Subject(eventType string) string {
	return "design." + eventType
}

// Marshal encodes any event into the wire envelope.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(BaseEvent{
		Type:       e.EventType(),
		Session:    e.SessionID(),
		Data:       e.Payload(),
		OccurredAt: e.Timestamp(),
	})
}

// Unmarshal decodes a wire envelope.
func Unmarshal(data []byte) (BaseEvent, error) {
	var e BaseEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return BaseEvent{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if e.Type == "" {
		return BaseEvent{}, fmt.Errorf("failed to decode event: missing type")
	}
	return e, nil
}
