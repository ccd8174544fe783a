package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLegacyRowCoercesLooseTypes(t *testing.T) {
	for _, raw := range []any{"true", 1, "1", true} {
		inv, err := ParseLegacyRow(map[string]any{
			"project_id":     "1001",
			"invoice_number": "R-2024-0003",
			"type":           "Partial",
			"amount":         "300.50",
			"invoice_date":   "2024-05-01",
			"is_paid":        raw,
		})
		require.NoError(t, err, "is_paid=%v", raw)
		assert.True(t, inv.IsPaid)
		require.NotNil(t, inv.PaidDate)
		assert.True(t, inv.PaidDate.Equal(time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)))
		assert.Equal(t, InvoiceTypePartial, inv.Type)
		assert.Equal(t, "300.50", inv.Amount.StringFixed(2))
	}

	inv, err := ParseLegacyRow(map[string]any{
		"project_id":     int64(1001),
		"invoice_number": "R-2024-0004",
		"type":           "final",
		"amount":         700,
		"invoice_date":   time.Date(2024, time.June, 3, 14, 0, 0, 0, time.UTC),
		"is_paid":        "0",
		"due_date":       "",
		"schedule_type":  "final",
	})
	require.NoError(t, err)
	assert.False(t, inv.IsPaid)
	assert.Nil(t, inv.PaidDate)
	assert.Nil(t, inv.DueDate)
	assert.True(t, inv.HasScheduleType(ScheduleTypeFinal))
	assert.True(t, inv.InvoiceDate.Equal(time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC)))
}

func TestParseLegacyRowRejectsMalformedRows(t *testing.T) {
	base := func() map[string]any {
		return map[string]any{
			"project_id":     "1001",
			"invoice_number": "R-2024-0003",
			"type":           "partial",
			"amount":         "300",
			"invoice_date":   "2024-05-01",
		}
	}

	row := base()
	row["type"] = "storno"
	_, err := ParseLegacyRow(row)
	assert.ErrorIs(t, err, ErrInvalidLegacyRow)
	assert.ErrorIs(t, err, ErrInvalidInvoiceType)

	row = base()
	row["amount"] = "-300"
	_, err = ParseLegacyRow(row)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	row = base()
	row["type"] = "credit"
	_, err = ParseLegacyRow(row)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	row = base()
	row["type"] = "credit"
	row["amount"] = "-300"
	row["is_paid"] = "true"
	_, err = ParseLegacyRow(row)
	assert.ErrorIs(t, err, ErrCreditNotPayable)

	row = base()
	row["is_paid"] = "vielleicht"
	_, err = ParseLegacyRow(row)
	assert.ErrorIs(t, err, ErrInvalidLegacyRow)

	row = base()
	delete(row, "project_id")
	_, err = ParseLegacyRow(row)
	assert.ErrorIs(t, err, ErrInvalidLegacyRow)

	row = base()
	row["amount"] = "abc"
	_, err = ParseLegacyRow(row)
	assert.ErrorIs(t, err, ErrInvalidLegacyRow)
}
