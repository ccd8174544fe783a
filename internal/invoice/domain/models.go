package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/kitchenbill/internal/clock"
)

type InvoiceType string

const (
	InvoiceTypePartial InvoiceType = "partial"
	InvoiceTypeFinal   InvoiceType = "final"
	InvoiceTypeCredit  InvoiceType = "credit"
)

func (t InvoiceType) Valid() bool {
	switch t {
	case InvoiceTypePartial, InvoiceTypeFinal, InvoiceTypeCredit:
		return true
	}
	return false
}

// ScheduleType records which slot of the payment schedule an invoice bills.
type ScheduleType string

const (
	ScheduleTypeFirst  ScheduleType = "first"
	ScheduleTypeSecond ScheduleType = "second"
	ScheduleTypeFinal  ScheduleType = "final"
	ScheduleTypeManual ScheduleType = "manual"
)

func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleTypeFirst, ScheduleTypeSecond, ScheduleTypeFinal, ScheduleTypeManual:
		return true
	}
	return false
}

type ReminderType string

const (
	ReminderFirst  ReminderType = "first"
	ReminderSecond ReminderType = "second"
	ReminderFinal  ReminderType = "final"
)

// ReminderSequence is the fixed escalation order.
var ReminderSequence = []ReminderType{ReminderFirst, ReminderSecond, ReminderFinal}

func (t ReminderType) Valid() bool {
	switch t {
	case ReminderFirst, ReminderSecond, ReminderFinal:
		return true
	}
	return false
}

// Stage is the 1-based position of t in the escalation.
func (t ReminderType) Stage() int {
	for i, r := range ReminderSequence {
		if r == t {
			return i + 1
		}
	}
	return 0
}

// Invoice is a billing document for a project. Amount is gross and signed:
// negative only for credits.
type Invoice struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	ProjectID     snowflake.ID `gorm:"column:project_id;not null;index;uniqueIndex:ux_invoices_project_schedule_second,where:schedule_type = 'second'" json:"project_id"`
	InvoiceNumber string       `gorm:"column:invoice_number;not null;uniqueIndex:ux_invoices_number" json:"invoice_number"`
	NumberYear    int          `gorm:"column:number_year;not null;index:idx_invoices_number_seq" json:"-"`
	NumberSeq     int64        `gorm:"column:number_seq;not null;index:idx_invoices_number_seq" json:"-"`
	Type          InvoiceType  `gorm:"column:type;not null;index" json:"type"`

	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	NetAmount decimal.Decimal `gorm:"column:net_amount;type:numeric(14,2);not null" json:"net_amount"`
	TaxAmount decimal.Decimal `gorm:"column:tax_amount;type:numeric(14,2);not null" json:"tax_amount"`
	TaxRate   decimal.Decimal `gorm:"column:tax_rate;type:numeric(5,2);not null" json:"tax_rate"`

	InvoiceDate time.Time  `gorm:"column:invoice_date;not null" json:"invoice_date"`
	DueDate     *time.Time `gorm:"column:due_date" json:"due_date,omitempty"`
	IsPaid      bool       `gorm:"column:is_paid;not null;default:false" json:"is_paid"`
	PaidDate    *time.Time `gorm:"column:paid_date" json:"paid_date,omitempty"`

	ScheduleType *ScheduleType `gorm:"column:schedule_type" json:"schedule_type,omitempty"`
	Description  string        `gorm:"column:description" json:"description,omitempty"`
	Notes        string        `gorm:"column:notes" json:"notes,omitempty"`

	OriginalInvoiceID     *snowflake.ID `gorm:"column:original_invoice_id;uniqueIndex:ux_invoices_credit_original" json:"original_invoice_id,omitempty"`
	OriginalInvoiceNumber *string       `gorm:"column:original_invoice_number" json:"original_invoice_number,omitempty"`

	Reminders []Reminder `gorm:"foreignKey:InvoiceID" json:"reminders"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }

// Reminder is one sent dunning stage. Rows are append-only.
type Reminder struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID snowflake.ID `gorm:"column:invoice_id;not null;uniqueIndex:ux_invoice_reminders_stage,priority:1" json:"invoice_id"`
	Type      ReminderType `gorm:"column:type;not null;uniqueIndex:ux_invoice_reminders_stage,priority:2" json:"type"`
	SentAt    time.Time    `gorm:"column:sent_at;not null" json:"sent_at"`
}

func (Reminder) TableName() string { return "invoice_reminders" }

func (i Invoice) IsCredit() bool {
	return i.Type == InvoiceTypeCredit
}

// HasScheduleType reports whether the invoice bills slot t.
func (i Invoice) HasScheduleType(t ScheduleType) bool {
	return i.ScheduleType != nil && *i.ScheduleType == t
}

// EffectiveDueDate is the explicit due date or invoice date plus the default
// payment terms, as a UTC calendar day.
func (i Invoice) EffectiveDueDate(defaultTermsDays int) time.Time {
	if i.DueDate != nil && !i.DueDate.IsZero() {
		return clock.Day(*i.DueDate)
	}
	return clock.Day(i.InvoiceDate).AddDate(0, 0, defaultTermsDays)
}

// HasReminder reports whether stage t has been recorded.
func (i Invoice) HasReminder(t ReminderType) bool {
	for _, r := range i.Reminders {
		if r.Type == t {
			return true
		}
	}
	return false
}

// LastReminder returns the most recent reminder, if any.
func (i Invoice) LastReminder() (Reminder, bool) {
	if len(i.Reminders) == 0 {
		return Reminder{}, false
	}
	last := i.Reminders[0]
	for _, r := range i.Reminders[1:] {
		if r.SentAt.After(last.SentAt) {
			last = r
		}
	}
	return last, true
}
