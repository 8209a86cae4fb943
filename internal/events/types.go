// Package events provides the pub/sub bus carrying filter-framework change
// notifications. Consumers that cache resolved pools or filters subscribe here
// and re-resolve when a relevant event arrives.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// Pool events
	EventPoolCreated EventType = "pool.created"
	EventPoolRenamed EventType = "pool.renamed"
	EventPoolDeleted EventType = "pool.deleted"
	EventPoolMoved   EventType = "pool.moved"
	EventPoolChanged EventType = "pool.changed"

	// Filter events
	EventFilterCreated EventType = "filter.created"
	EventFilterRenamed EventType = "filter.renamed"
	EventFilterDeleted EventType = "filter.deleted"
	EventFilterChanged EventType = "filter.changed"

	// Profile events
	EventProfileTainted   EventType = "profile.tainted"
	EventProfileCommitted EventType = "profile.committed"

	// Reference events
	EventReferenceBroken EventType = "reference.broken"
)

// Event is the core message passed through the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "manager", "profile", "reference"
	Data      any       `json:"data"`
}

// PoolData is the payload for pool events.
type PoolData struct {
	Profile string `json:"profile"`
	Config  string `json:"config"`
	Pool    string `json:"pool"`
	OldName string `json:"old_name,omitempty"`
	Target  string `json:"target,omitempty"` // destination manager for moves
}

// FilterData is the payload for filter events.
type FilterData struct {
	Profile string `json:"profile"`
	Pool    string `json:"pool"`
	Filter  string `json:"filter"`
	OldName string `json:"old_name,omitempty"`
}

// ProfileData is the payload for profile events.
type ProfileData struct {
	Profile    string `json:"profile"`
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// ReferenceData is the payload for reference events.
type ReferenceData struct {
	Consumer  string `json:"consumer"`
	Reference string `json:"reference"`
}
