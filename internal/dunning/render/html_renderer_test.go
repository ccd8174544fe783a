package render

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "1.234,56 €", FormatMoney(decimal.RequireFromString("1234.56")))
	assert.Equal(t, "300,00 €", FormatMoney(decimal.NewFromInt(300)))
	assert.Equal(t, "1.000.000,10 €", FormatMoney(decimal.RequireFromString("1000000.1")))
	assert.Equal(t, "-50,00 €", FormatMoney(decimal.NewFromInt(-50)))
}

func TestRenderStages(t *testing.T) {
	r := NewRenderer()
	input := RenderInput{
		InvoiceNumber: "R-2026-0007",
		InvoiceDate:   time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		DueDate:       time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC),
		OverdueDays:   10,
		Amount:        decimal.RequireFromString("1234.56"),
		CustomerName:  "Familie <Huber>",
		OrderNumber:   "A-1001",
	}

	for stage, days := range map[string]string{"first": "7 Tage", "second": "5 Tage", "final": "3 Tage"} {
		input.Stage = stage
		out, err := r.Render(input)
		require.NoError(t, err, stage)
		assert.Contains(t, out.Subject, "Rechnung R-2026-0007")
		assert.Contains(t, out.HTML, days)
		assert.Contains(t, out.HTML, "1.234,56 €")
		assert.Contains(t, out.HTML, "15.03.2026")
		assert.Contains(t, out.HTML, "10 Tage überfällig")
		assert.Contains(t, out.HTML, "Ihr Unternehmen")
		assert.Contains(t, out.HTML, "Familie &lt;Huber&gt;")
	}

	input.Stage = "final"
	out, err := r.Render(input)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Subject, "Letzte Mahnung"))
	assert.Contains(t, out.HTML, "Inkassobüro")

	input.Stage = "fourth"
	_, err = r.Render(input)
	assert.Error(t, err)
}

func TestDeadlineDays(t *testing.T) {
	assert.Equal(t, 7, DeadlineDays("first"))
	assert.Equal(t, 5, DeadlineDays("second"))
	assert.Equal(t, 3, DeadlineDays("final"))
}
