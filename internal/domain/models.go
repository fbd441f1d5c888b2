// Package domain defines the persistence models for conversation turns,
// raw webhook events, scheduled jobs, and per-sender tool state. These types
// are mapped with GORM and form the core data layer of the application.
package domain

import (
	"encoding/json"
	"time"
)

// TurnKind discriminates the variants of a persisted conversation turn.
type TurnKind string

const (
	TurnText     TurnKind = "text"
	TurnImage    TurnKind = "image"
	TurnDocument TurnKind = "document"
)

// ConversationTurn is one inbound message plus the agent's derived history
// delta for a conversation. Turns form an append-only per-sender log:
// a row is created when the message arrives (raw payload captured verbatim)
// and updated exactly once to attach the agent delta after the agent call.
//
// Fields:
//   - Sender: conversation key (phone-like contact id); partition component.
//   - Timestamp: platform-assigned message time; sort component.
//   - Kind: turn discriminator (text|image|document); completes the key so a
//     duplicate platform delivery of the same id collides instead of forking.
//   - MessageID: platform message id, kept for reply correlation and audit.
//   - Payload: raw inbound event JSON, verbatim, for audit/reprocessing.
//   - Delta: serialized agent-protocol messages produced by the agent call;
//     empty until the agent has run, and left empty when the agent fails.
type ConversationTurn struct {
	Sender    string          `json:"sender"     gorm:"type:varchar(32);primaryKey"`
	Timestamp time.Time       `json:"timestamp"  gorm:"primaryKey"`
	Kind      TurnKind        `json:"kind"       gorm:"type:varchar(16);primaryKey"`
	MessageID string          `json:"message_id" gorm:"type:varchar(128);not null;index"`
	Payload   json.RawMessage `json:"payload"    gorm:"not null"`
	Delta     json.RawMessage `json:"delta,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TableName returns the database table name for ConversationTurn.
func (ConversationTurn) TableName() string { return "turns" }

// EventKind discriminates raw webhook event records.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventStatus  EventKind = "status"
)

// EventRecord is the audit row written for every delivered webhook event,
// message and status alike. The (Kind, PlatformID) key makes duplicate
// platform deliveries idempotent: re-inserting the same id is a no-op.
type EventRecord struct {
	Kind       EventKind       `json:"kind"        gorm:"type:varchar(16);primaryKey"`
	PlatformID string          `json:"platform_id" gorm:"type:varchar(128);primaryKey"`
	Sender     string          `json:"sender"      gorm:"type:varchar(32);index"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"     gorm:"not null"`
	CreatedAt  time.Time       `json:"created_at"`
}

// TableName returns the database table name for EventRecord.
func (EventRecord) TableName() string { return "events" }

// JobStatus is the scheduled-job state machine tag.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// CanTransition reports whether moving from s to next follows the job state
// machine: pending → running → {completed | failed}, and completed → pending
// on recurrence. Failed is terminal until the job is recreated.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning
	case JobRunning:
		return next == JobCompleted || next == JobFailed
	case JobCompleted:
		return next == JobPending
	default:
		return false
	}
}

// ScheduledJob is a cron-scheduled unit of work owned by a sender.
//
// Fields:
//   - OwnerID: conversation/owner key; partition component.
//   - Idx: monotonic sequence number within the owner; completes the key.
//   - Schedule: cron expression, validated at creation time.
//   - NextRun: next due time; always strictly in the future once computed.
//   - LastRun: the run that was last completed (the due time, not wall clock).
//   - Status: state machine tag, see JobStatus.
//   - Payload: opaque job data handed to the job body (e.g. {to, message}).
//   - Error: diagnostic recorded by mark-failed; empty otherwise.
//   - OneShot: delete-after-success policy carried on the row.
type ScheduledJob struct {
	OwnerID   string          `json:"owner_id" gorm:"type:varchar(32);primaryKey"`
	Idx       int             `json:"index"    gorm:"column:idx;primaryKey;autoIncrement:false"`
	Schedule  string          `json:"schedule" gorm:"type:varchar(64);not null"`
	NextRun   time.Time       `json:"next_run" gorm:"index:idx_due,priority:2"`
	LastRun   *time.Time      `json:"last_run,omitempty"`
	Status    JobStatus       `json:"status"   gorm:"type:varchar(16);not null;default:'pending';index:idx_due,priority:1"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error,omitempty" gorm:"type:text"`
	OneShot   bool            `json:"one_shot"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TableName returns the database table name for ScheduledJob.
func (ScheduledJob) TableName() string { return "jobs" }

// ToolState is the opaque per-sender auxiliary state consumed by the agent:
// a todo list, a logbook, a cron-job list. One row per (sender, kind).
type ToolState struct {
	Sender    string          `json:"sender" gorm:"type:varchar(32);primaryKey"`
	Kind      string          `json:"kind"   gorm:"type:varchar(16);primaryKey"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TableName returns the database table name for ToolState.
func (ToolState) TableName() string { return "tool_state" }
