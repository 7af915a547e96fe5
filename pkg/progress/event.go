package progress

import (
	"time"
)

// EventType is one of the closed set of bus event types.
type EventType string

const (
	ExtractionStart    EventType = "extraction:start"
	ExtractionProgress EventType = "extraction:progress"
	ExtractionComplete EventType = "extraction:complete"
	ExtractionError    EventType = "extraction:error"

	MigrationStart    EventType = "migration:start"
	MigrationProgress EventType = "migration:progress"
	MigrationComplete EventType = "migration:complete"
	MigrationError    EventType = "migration:error"

	AgentStart    EventType = "agent:start"
	AgentProgress EventType = "agent:progress"
	AgentComplete EventType = "agent:complete"
	AgentError    EventType = "agent:error"

	SystemHealth EventType = "system:health"
	SystemInfo   EventType = "system:info"
)

var eventTypes = []EventType{
	ExtractionStart, ExtractionProgress, ExtractionComplete, ExtractionError,
	MigrationStart, MigrationProgress, MigrationComplete, MigrationError,
	AgentStart, AgentProgress, AgentComplete, AgentError,
	SystemHealth, SystemInfo,
}

// EventTypes returns the accepted event types.
func EventTypes() []EventType {
	return append([]EventType(nil), eventTypes...)
}

// Valid reports whether t belongs to the closed set.
func (t EventType) Valid() bool {
	for _, known := range eventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is one broadcast message. IDs sort lexicographically in emit order.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// Emitter is the write side of the bus handed to producers.
type Emitter interface {
	Emit(t EventType, data map[string]interface{}) error
}

// Sink receives events for one subscriber. A Send error removes the subscriber.
type Sink interface {
	Send(ev Event) error
}

// Keepaliver is implemented by streaming sinks that need periodic no-op writes
// to keep idle connections open. Keepalives never enter history.
type Keepaliver interface {
	Keepalive() error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event) error

func (f SinkFunc) Send(ev Event) error { return f(ev) }

type nopEmitter struct{}

func (nopEmitter) Emit(EventType, map[string]interface{}) error { return nil }

// Discard is an Emitter that drops every event.
var Discard Emitter = nopEmitter{}
