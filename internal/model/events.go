package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the domain events the bus carries.
type EventType string

const (
	EventZoneCreated   EventType = "zone_created"
	EventZoneUpdated   EventType = "zone_updated"
	EventZoneDeleted   EventType = "zone_deleted"
	EventRecordCreated EventType = "record_created"
	EventRecordUpdated EventType = "record_updated"
	EventRecordDeleted EventType = "record_deleted"

	EventForwarderCreated      EventType = "forwarder_created"
	EventForwarderUpdated      EventType = "forwarder_updated"
	EventForwarderDeleted      EventType = "forwarder_deleted"
	EventForwarderStatusChange EventType = "forwarder_status_change"

	EventRPZRuleCreated EventType = "rpz_rule_created"
	EventRPZRuleUpdated EventType = "rpz_rule_updated"
	EventRPZRuleDeleted EventType = "rpz_rule_deleted"
	EventFeedRefreshed  EventType = "threat_feed_refreshed"
	EventBulkImport     EventType = "bulk_import_completed"

	EventConfigChange    EventType = "config_change"
	EventBackupCreated   EventType = "backup_created"
	EventBackupRestored  EventType = "backup_restored"
	EventSecurityAlert   EventType = "security_alert"
	EventQueryLog        EventType = "query_log"
	EventSystemStartup   EventType = "system_startup"
	EventSystemShutdown  EventType = "system_shutdown"
	EventRollbackFailed  EventType = "rollback_failed"
	EventConnection      EventType = "connection_state"
	EventSchedulerFailed EventType = "scheduled_task_failed"
)

// EventCategory groups event types for subscription filtering.
type EventCategory string

const (
	CategoryHealth     EventCategory = "health"
	CategoryDNS        EventCategory = "dns"
	CategorySecurity   EventCategory = "security"
	CategorySystem     EventCategory = "system"
	CategoryUser       EventCategory = "user"
	CategoryAudit      EventCategory = "audit"
	CategoryConnection EventCategory = "connection"
	CategoryBulk       EventCategory = "bulk"
	CategoryError      EventCategory = "error"
)

// EventSeverity orders events by operator urgency.
type EventSeverity string

const (
	SeverityDebug    EventSeverity = "debug"
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

var severityRank = map[EventSeverity]int{
	SeverityDebug:    0,
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at or above min in severity order.
func (s EventSeverity) AtLeast(min EventSeverity) bool {
	return severityRank[s] >= severityRank[min]
}

// EventPriority controls delivery scheduling on the bus.
type EventPriority string

const (
	PriorityLow      EventPriority = "low"
	PriorityNormal   EventPriority = "normal"
	PriorityHigh     EventPriority = "high"
	PriorityCritical EventPriority = "critical"
	PriorityUrgent   EventPriority = "urgent"
)

// Bypass reports whether this priority skips batching entirely.
func (p EventPriority) Bypass() bool {
	return p == PriorityCritical || p == PriorityUrgent
}

// Event is one value fanned out by the bus. Events are copied into
// subscriber queues; nothing owns them after emit.
type Event struct {
	ID       uuid.UUID     `json:"id"`
	Type     EventType     `json:"type"`
	Category EventCategory `json:"category"`
	Severity EventSeverity `json:"severity"`
	Priority EventPriority `json:"priority"`
	Source   string        `json:"source"`

	// Data is the typed payload, one struct per event type where the
	// producer has one, else a map. It is JSON-encoded on the wire and in
	// the store next to the Type discriminator.
	Data any `json:"data"`

	CorrelationID string    `json:"correlation_id,omitempty"`
	TraceID       string    `json:"trace_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`

	// Persist asks the store gateway to keep this event. Defaults from
	// configuration at emit time.
	Persist bool `json:"-"`
}

// SubscriptionFilter selects which events a subscriber receives. Empty
// slices are open ("match everything"); "*" in Types is the admin wildcard.
type SubscriptionFilter struct {
	Types       []EventType     `json:"event_types,omitempty"`
	Categories  []EventCategory `json:"categories,omitempty"`
	MinSeverity EventSeverity   `json:"min_severity,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	UserFilters map[string]string `json:"user_filters,omitempty"`
}

// Matches reports whether e passes this filter.
func (f SubscriptionFilter) Matches(e Event) bool {
	if len(f.Types) > 0 && !containsType(f.Types, e.Type) {
		return false
	}
	if len(f.Categories) > 0 && !containsCategory(f.Categories, e.Category) {
		return false
	}
	if f.MinSeverity != "" && !e.Severity.AtLeast(f.MinSeverity) {
		return false
	}
	return true
}

func containsType(ts []EventType, t EventType) bool {
	for _, v := range ts {
		if v == t || v == "*" {
			return true
		}
	}
	return false
}

func containsCategory(cs []EventCategory, c EventCategory) bool {
	for _, v := range cs {
		if v == c || v == "*" {
			return true
		}
	}
	return false
}

// EventFilter narrows a stored-event listing.
type EventFilter struct {
	Types      []EventType
	Categories []EventCategory
	Severities []EventSeverity
	Since      *time.Time
	Until      *time.Time
	Limit      int
}
