package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/kitchenbill/internal/invoice/domain"
)

// NextReminder describes the escalation state of one invoice.
type NextReminder struct {
	InvoiceID     snowflake.ID                `json:"invoice_id"`
	InvoiceNumber string                      `json:"invoice_number"`
	DueDate       *time.Time                  `json:"due_date,omitempty"`
	OverdueDays   *int                        `json:"overdue_days,omitempty"`
	Type          *invoicedomain.ReminderType `json:"type,omitempty"`
	CanSend       bool                        `json:"can_send"`
	LateInterest  decimal.Decimal             `json:"late_interest"`
}

type SendRequest struct {
	InvoiceID snowflake.ID               `json:"-"`
	Type      invoicedomain.ReminderType `json:"type"`
	// Recipient overrides the project's customer email.
	Recipient string `json:"recipient"`
}

type Service interface {
	NextReminder(ctx context.Context, invoiceID snowflake.ID) (NextReminder, error)
	RecordReminderSent(ctx context.Context, invoiceID snowflake.ID, t invoicedomain.ReminderType) (invoicedomain.Invoice, error)
	Send(ctx context.Context, req SendRequest) (invoicedomain.Invoice, error)
	DueReminders(ctx context.Context) ([]NextReminder, error)
}
