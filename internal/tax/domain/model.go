package domain

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// AggregateTaxRate is the flat VAT rate used to split project totals and
// deposits, independent of the rates printed on individual line items.
const AggregateTaxRate = 20

// InvoiceRef is the part of an invoice the decomposition reads.
type InvoiceRef struct {
	ID     snowflake.ID
	Number string
	Amount decimal.Decimal
}

// PriorPayment is a partial invoice already billed, split at the aggregate
// rate.
type PriorPayment struct {
	InvoiceID     snowflake.ID    `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Gross         decimal.Decimal `json:"gross"`
	Net           decimal.Decimal `json:"net"`
	Tax           decimal.Decimal `json:"tax"`
}

// Breakdown is the VAT decomposition of a final invoice.
type Breakdown struct {
	ProjectGross  decimal.Decimal `json:"project_gross"`
	ProjectNet    decimal.Decimal `json:"project_net"`
	ProjectTax    decimal.Decimal `json:"project_tax"`
	FromItems     bool            `json:"from_items"`
	PriorPayments []PriorPayment  `json:"prior_payments"`
	PriorNetSum   decimal.Decimal `json:"prior_net_sum"`
	PriorTaxSum   decimal.Decimal `json:"prior_tax_sum"`
	RestGross     decimal.Decimal `json:"rest_gross"`
	RestNet       decimal.Decimal `json:"rest_net"`
	RestTax       decimal.Decimal `json:"rest_tax"`
}

// ReconciliationWarning reports that the final invoice amount differs from
// the project gross minus prior payments. It never blocks the breakdown.
type ReconciliationWarning struct {
	Expected   decimal.Decimal `json:"expected"`
	Actual     decimal.Decimal `json:"actual"`
	Difference decimal.Decimal `json:"difference"`
}

func (w *ReconciliationWarning) Error() string {
	return "reconciliation_warning: final amount " + w.Actual.StringFixed(2) +
		" expected " + w.Expected.StringFixed(2)
}
