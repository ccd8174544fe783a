package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem ActorType = "system"
	ActorTypeUser   ActorType = "user"
)

const (
	ActionInvoiceCreated   = "invoice.created"
	ActionInvoicePaid      = "invoice.paid"
	ActionInvoiceUnpaid    = "invoice.unpaid"
	ActionInvoiceCredited  = "invoice.credited"
	ActionReminderSent     = "invoice.reminder_sent"
	ActionScheduledPayment = "project.scheduled_payment_created"
	ActionProjectCreated   = "project.created"
)

const (
	TargetInvoice = "invoice"
	TargetProject = "project"
)

// AuditLog is an append-only record of a state change.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorType  string            `gorm:"column:actor_type;not null" json:"actor_type"`
	ActorID    *string           `gorm:"column:actor_id" json:"actor_id,omitempty"`
	Action     string            `gorm:"column:action;not null;index" json:"action"`
	TargetType string            `gorm:"column:target_type;not null" json:"target_type"`
	TargetID   *string           `gorm:"column:target_id;index" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata;type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"column:created_at;not null" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	BeforeID   snowflake.ID
	Limit      int
}
