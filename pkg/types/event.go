package types

import "time"

type EventType string

const (
	EventSessionCreated     EventType = "SessionCreated"
	EventStateChanged       EventType = "StateChanged"
	EventValidated          EventType = "Validated"
	EventTraceFailed        EventType = "TraceFailed"
	EventCatalogUnavailable EventType = "CatalogUnavailable"
	EventColoResolved       EventType = "ColoResolved"
	EventLatencyMeasured    EventType = "LatencyMeasured"
	EventClientLookupFailed EventType = "ClientLookupFailed"
	EventClientLocated      EventType = "ClientLocated"
	EventRoutingWarning     EventType = "RoutingWarning"
	EventSessionReset       EventType = "SessionReset"
)

type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"ts"`
	SessionID string         `json:"session_id,omitempty"`
	State     State          `json:"state,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}
