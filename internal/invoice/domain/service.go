package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/kitchenbill/internal/paymentschedule"
	"gorm.io/gorm"
)

type CreateInvoiceRequest struct {
	ProjectID    snowflake.ID     `json:"project_id"`
	Type         InvoiceType      `json:"type"`
	Amount       decimal.Decimal  `json:"amount"`
	TaxRate      *decimal.Decimal `json:"tax_rate,omitempty"`
	InvoiceDate  *time.Time       `json:"invoice_date,omitempty"`
	DueDate      *time.Time       `json:"due_date,omitempty"`
	ScheduleType *ScheduleType    `json:"schedule_type,omitempty"`
	Description  string           `json:"description"`
	Notes        string           `json:"notes"`
}

type ListInvoiceRequest struct {
	ProjectID *snowflake.ID
	Type      *InvoiceType
	IsPaid    *bool
	Overdue   *bool
	PageToken string
	PageSize  int
}

type ListInvoiceResponse struct {
	Invoices      []InvoiceView `json:"invoices"`
	NextPageToken string        `json:"next_page_token,omitempty"`
	HasMore       bool          `json:"has_more"`
}

// InvoiceView is an invoice with its derived state.
type InvoiceView struct {
	Invoice
	EffectiveDueDate time.Time `json:"effective_due_date"`
	Status           Status    `json:"status"`
	OverdueDays      int       `json:"overdue_days"`
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	// CreateScheduledPayment bills a deposit slot of the project schedule and
	// sets the project flag in the same transaction.
	CreateScheduledPayment(ctx context.Context, projectID snowflake.ID, slot paymentschedule.Slot) (Invoice, error)
	// CreateFinalInvoice bills the project gross minus every partial invoice
	// that has not been reversed.
	CreateFinalInvoice(ctx context.Context, projectID snowflake.ID) (Invoice, error)
	MarkPaid(ctx context.Context, id snowflake.ID, paidDate time.Time) (Invoice, error)
	MarkUnpaid(ctx context.Context, id snowflake.ID) (Invoice, error)
	IssueCredit(ctx context.Context, originalID snowflake.ID, reason string) (Invoice, error)
	GetByID(ctx context.Context, id snowflake.ID) (InvoiceView, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	ListByProject(ctx context.Context, projectID snowflake.ID) ([]Invoice, error)
	ImportLegacy(ctx context.Context, rows []map[string]any) ([]Invoice, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindCreditFor(ctx context.Context, db *gorm.DB, originalID snowflake.ID) (*Invoice, error)
	FindByNumber(ctx context.Context, db *gorm.DB, number string) (*Invoice, error)
	FindByProjectSchedule(ctx context.Context, db *gorm.DB, projectID snowflake.ID, scheduleType ScheduleType) (*Invoice, error)
	ListByProject(ctx context.Context, db *gorm.DB, projectID snowflake.ID) ([]*Invoice, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Invoice, error)
	CreditedIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]struct{}, error)
	MaxSequence(ctx context.Context, db *gorm.DB, year int) (int64, error)
	UpdatePayment(ctx context.Context, db *gorm.DB, id snowflake.ID, paid bool, paidDate *time.Time, now time.Time) error
	InsertReminder(ctx context.Context, db *gorm.DB, reminder *Reminder) error
}

// ListFilter narrows a repository listing. Overdue is evaluated by the
// service because it depends on the default payment terms.
type ListFilter struct {
	ProjectID *snowflake.ID
	Type      *InvoiceType
	IsPaid    *bool
	AfterID   *snowflake.ID
	Limit     int
}

var (
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidInvoiceType     = errors.New("invalid_invoice_type")
	ErrInvalidScheduleType    = errors.New("invalid_schedule_type")
	ErrInvalidPaidDate        = errors.New("invalid_paid_date")
	ErrInvalidReminderType    = errors.New("invalid_reminder_type")
	ErrInvalidLegacyRow       = errors.New("invalid_legacy_row")
	ErrInvalidPageToken       = errors.New("invalid_page_token")
	ErrInvoiceNotFound        = errors.New("invoice_not_found")
	ErrAlreadyCredited        = errors.New("already_credited")
	ErrCreditOfCredit         = errors.New("credit_of_credit")
	ErrCreditNotPayable       = errors.New("credit_not_payable")
	ErrScheduledPaymentExists = errors.New("scheduled_payment_exists")
	ErrNothingToInvoice       = errors.New("nothing_to_invoice")
	ErrIllegalTransition      = errors.New("illegal_reminder_transition")
)
