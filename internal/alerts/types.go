package alerts

import (
	"fmt"
	"time"
)

// Severity is ordinal-ranked: URGENT outranks CRITICAL outranks WARNING
// outranks INFO.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
	SeverityUrgent   Severity = "URGENT"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
	SeverityUrgent:   3,
}

// Rank returns the ordinal rank of s (higher is more severe).
func (s Severity) Rank() int { return severityRank[s] }

// slaMinutes is the fixed SLA policy table.
var slaMinutes = map[Severity]int{
	SeverityUrgent:   15,
	SeverityCritical: 60,
	SeverityWarning:  240,
	SeverityInfo:     1440,
}

// SLA returns the attention window granted to an alert of this severity.
func (s Severity) SLA() time.Duration {
	m, ok := slaMinutes[s]
	if !ok {
		m = slaMinutes[SeverityInfo]
	}
	return time.Duration(m) * time.Minute
}

// Status is the alert lifecycle state. RESOLVED is terminal.
type Status string

const (
	StatusActive        Status = "ACTIVE"
	StatusAcknowledged  Status = "ACKNOWLEDGED"
	StatusInvestigating Status = "INVESTIGATING"
	StatusEscalated     Status = "ESCALATED"
	StatusResolved      Status = "RESOLVED"
)

// EntityKind enumerates the entity types an alert can reference.
type EntityKind string

const (
	EntityNone    EntityKind = ""
	EntityOrder   EntityKind = "order"
	EntityVariant EntityKind = "variant"
	EntityDispute EntityKind = "dispute"
)

// EntityRef is a typed reference to the subject of an alert.
type EntityRef struct {
	Kind EntityKind `dynamodbav:"kind,omitempty" json:"kind,omitempty"`
	ID   string     `dynamodbav:"id,omitempty" json:"id,omitempty"`
}

// Alert is the item stored in the alerts DynamoDB table. Never hard-deleted.
type Alert struct {
	AlertID          string     `dynamodbav:"alert_id"` // PK
	Type             string     `dynamodbav:"alert_type"`
	Severity         Severity   `dynamodbav:"severity"`
	Status           Status     `dynamodbav:"status"`
	Message          string     `dynamodbav:"message"`
	Entity           EntityRef  `dynamodbav:"entity"`
	DedupKey         string     `dynamodbav:"dedup_key"`
	Occurrences      int        `dynamodbav:"occurrences"`
	LastOccurrenceAt time.Time  `dynamodbav:"last_occurrence_at"`
	SLADeadline      int64      `dynamodbav:"sla_deadline"` // epoch seconds
	EscalationReason string     `dynamodbav:"escalation_reason,omitempty"`
	Resolved         bool       `dynamodbav:"resolved"`
	ResolvedAt       *time.Time `dynamodbav:"resolved_at,omitempty"`
	ResolutionNotes  string     `dynamodbav:"resolution_notes,omitempty"`
	Tags             []string   `dynamodbav:"tags,omitempty"`
	CreatedAt        time.Time  `dynamodbav:"created_at"`
	UpdatedAt        time.Time  `dynamodbav:"updated_at"`
}

// HistoryEntry is the append-only audit row written on every state-changing
// alert operation.
type HistoryEntry struct {
	HistoryID string            `dynamodbav:"history_id"` // PK
	AlertID   string            `dynamodbav:"alert_id"`
	Action    string            `dynamodbav:"action"`
	Actor     string            `dynamodbav:"actor,omitempty"`
	Meta      map[string]string `dynamodbav:"meta,omitempty"`
	Timestamp time.Time         `dynamodbav:"timestamp"`
}

// Config describes an alert to create or deduplicate.
type Config struct {
	Type     string
	Severity Severity
	Message  string
	Entity   EntityRef
	DedupKey string // optional; derived from Type+Entity when empty
	Tags     []string
}

// dedupKey returns the explicit key, or the derived type-entityKind-entityId.
func (c Config) dedupKey() string {
	if c.DedupKey != "" {
		return c.DedupKey
	}
	return fmt.Sprintf("%s-%s-%s", c.Type, c.Entity.Kind, c.Entity.ID)
}

// Filters narrows ListActive results. Zero values match everything.
type Filters struct {
	Severity   Severity
	Type       string
	EntityKind EntityKind
}
