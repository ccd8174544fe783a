package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/kitchenbill/internal/paymentschedule"
)

// Project is a customer order. Billing reads its totals, items and dates and
// writes back only the scheduled-payment flags.
type Project struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrderNumber   string          `gorm:"column:order_number;not null;uniqueIndex:ux_projects_order_number" json:"order_number"`
	CustomerName  string          `gorm:"column:customer_name;not null" json:"customer_name"`
	CustomerEmail string          `gorm:"column:customer_email" json:"customer_email,omitempty"`
	GrossTotal    decimal.Decimal `gorm:"column:gross_total;type:numeric(14,2);not null" json:"gross_total"`
	NetTotal      decimal.Decimal `gorm:"column:net_total;type:numeric(14,2);not null" json:"net_total"`
	TaxTotal      decimal.Decimal `gorm:"column:tax_total;type:numeric(14,2);not null" json:"tax_total"`
	DeliveryDate  *time.Time      `gorm:"column:delivery_date" json:"delivery_date,omitempty"`

	PaymentSchedule *paymentschedule.Schedule `gorm:"column:payment_schedule;type:text;serializer:json" json:"payment_schedule,omitempty"`

	FirstPaymentCreated  bool `gorm:"column:first_payment_created;not null;default:false" json:"first_payment_created"`
	SecondPaymentCreated bool `gorm:"column:second_payment_created;not null;default:false" json:"second_payment_created"`

	Notes string `gorm:"column:notes" json:"notes,omitempty"`

	Items []Item `gorm:"foreignKey:ProjectID" json:"items,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Project) TableName() string { return "projects" }

// Item is an order line priced net per unit at its own tax rate.
type Item struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	ProjectID    snowflake.ID    `gorm:"column:project_id;not null;index" json:"project_id"`
	Position     int             `gorm:"column:position;not null" json:"position"`
	Description  string          `gorm:"column:description;not null" json:"description"`
	Quantity     decimal.Decimal `gorm:"column:quantity;type:numeric(12,3);not null" json:"quantity"`
	UnitNetPrice decimal.Decimal `gorm:"column:unit_net_price;type:numeric(14,2);not null" json:"unit_net_price"`
	TaxRate      decimal.Decimal `gorm:"column:tax_rate;type:numeric(5,2);not null" json:"tax_rate"`
	NetTotal     decimal.Decimal `gorm:"column:net_total;type:numeric(14,2);not null" json:"net_total"`
	TaxTotal     decimal.Decimal `gorm:"column:tax_total;type:numeric(14,2);not null" json:"tax_total"`
	GrossTotal   decimal.Decimal `gorm:"column:gross_total;type:numeric(14,2);not null" json:"gross_total"`
}

func (Item) TableName() string { return "project_items" }

// Terms projects the fields the payment calculator reads.
func (p Project) Terms() paymentschedule.Terms {
	return paymentschedule.Terms{
		GrossTotal:           p.GrossTotal,
		DeliveryDate:         p.DeliveryDate,
		Schedule:             p.PaymentSchedule,
		SecondPaymentCreated: p.SecondPaymentCreated,
	}
}

// Schedule returns the project's schedule or the default one.
func (p Project) Schedule() paymentschedule.Schedule {
	return paymentschedule.Resolve(p.PaymentSchedule)
}

// SlotCreated reports the flag guarding a scheduled deposit.
func (p Project) SlotCreated(slot paymentschedule.Slot) bool {
	switch slot {
	case paymentschedule.SlotFirst:
		return p.FirstPaymentCreated
	case paymentschedule.SlotSecond:
		return p.SecondPaymentCreated
	default:
		return false
	}
}

// ItemsGrossTotal sums the item gross totals. It returns false when the
// project carries no items.
func (p Project) ItemsGrossTotal() (decimal.Decimal, bool) {
	if len(p.Items) == 0 {
		return decimal.Zero, false
	}
	total := decimal.Zero
	for _, item := range p.Items {
		total = total.Add(item.GrossTotal)
	}
	return total, true
}
