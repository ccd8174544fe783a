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

type ItemInput struct {
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitNetPrice decimal.Decimal `json:"unit_net_price"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
}

type CreateProjectRequest struct {
	OrderNumber     string                    `json:"order_number"`
	CustomerName    string                    `json:"customer_name"`
	CustomerEmail   string                    `json:"customer_email"`
	DeliveryDate    *time.Time                `json:"delivery_date"`
	PaymentSchedule *paymentschedule.Schedule `json:"payment_schedule"`
	Items           []ItemInput               `json:"items"`
	// GrossTotal is used only when Items is empty.
	GrossTotal decimal.Decimal `json:"gross_total"`
	Notes      string          `json:"notes"`
}

type ListProjectRequest struct {
	SecondPaymentCreated *bool
	HasDeliveryDate      *bool
	Limit                int
}

// PaymentPlan is the computed deposit plan of a project.
type PaymentPlan struct {
	ProjectID            snowflake.ID             `json:"project_id"`
	Schedule             paymentschedule.Schedule `json:"schedule"`
	DefaultSchedule      bool                     `json:"default_schedule"`
	Valid                bool                     `json:"valid"`
	Amounts              *paymentschedule.Amounts `json:"amounts,omitempty"`
	SecondPaymentDueDate *time.Time               `json:"second_payment_due_date,omitempty"`
	DaysUntilSecondDue   *int                     `json:"days_until_second_due,omitempty"`
	SecondPaymentDue     bool                     `json:"second_payment_due"`
	FirstPaymentCreated  bool                     `json:"first_payment_created"`
	SecondPaymentCreated bool                     `json:"second_payment_created"`
}

type Service interface {
	Create(ctx context.Context, req CreateProjectRequest) (Project, error)
	GetByID(ctx context.Context, id snowflake.ID) (Project, error)
	List(ctx context.Context, req ListProjectRequest) ([]Project, error)
	PaymentPlan(ctx context.Context, id snowflake.ID) (PaymentPlan, error)
	DueSecondPayments(ctx context.Context) ([]Project, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, project *Project) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Project, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Project, error)
	List(ctx context.Context, db *gorm.DB, filter ListProjectRequest) ([]*Project, error)
	// MarkSlotCreated flips the slot flag from false to true and reports
	// whether this call did the flip.
	MarkSlotCreated(ctx context.Context, db *gorm.DB, id snowflake.ID, slot paymentschedule.Slot, now time.Time) (bool, error)
}

var (
	ErrProjectNotFound     = errors.New("project_not_found")
	ErrInvalidOrderNumber  = errors.New("invalid_order_number")
	ErrInvalidCustomerName = errors.New("invalid_customer_name")
	ErrInvalidGrossTotal   = errors.New("invalid_gross_total")
	ErrInvalidItem         = errors.New("invalid_item")
	ErrDuplicateOrder      = errors.New("duplicate_order_number")
)
