package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// FinalInvoiceBreakdown is a decomposition together with the warning raised
// while computing it.
type FinalInvoiceBreakdown struct {
	InvoiceID snowflake.ID           `json:"invoice_id"`
	ProjectID snowflake.ID           `json:"project_id"`
	Breakdown Breakdown              `json:"breakdown"`
	Warning   *ReconciliationWarning `json:"warning,omitempty"`
}

type Service interface {
	FinalInvoiceBreakdown(ctx context.Context, invoiceID snowflake.ID) (FinalInvoiceBreakdown, error)
}
