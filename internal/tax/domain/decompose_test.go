package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got.StringFixed(2))
}

func TestDecomposeFinalAfterOnePartial(t *testing.T) {
	final := InvoiceRef{ID: 2, Number: "R-2026-0002", Amount: d("700.00")}
	partials := []InvoiceRef{{ID: 1, Number: "R-2026-0001", Amount: d("300.00")}}

	b, warning, err := Decompose(final, partials, []decimal.Decimal{d("1000.00")})
	require.NoError(t, err)
	assert.Nil(t, warning)
	assert.True(t, b.FromItems)

	assertAmount(t, "1000.00", b.ProjectGross)
	assertAmount(t, "833.33", b.ProjectNet)
	assertAmount(t, "166.67", b.ProjectTax)

	require.Len(t, b.PriorPayments, 1)
	assertAmount(t, "250.00", b.PriorPayments[0].Net)
	assertAmount(t, "50.00", b.PriorPayments[0].Tax)
	assert.Equal(t, "R-2026-0001", b.PriorPayments[0].InvoiceNumber)

	assertAmount(t, "583.33", b.RestNet)
	assertAmount(t, "116.67", b.RestTax)
	assertAmount(t, "700.00", b.RestGross)
}

func TestDecomposeUsesFlatRateForMixedItems(t *testing.T) {
	// 10% and 20% items still split at the aggregate rate
	items := []decimal.Decimal{d("110.00"), d("120.00")}
	final := InvoiceRef{Amount: d("230.00")}

	b, warning, err := Decompose(final, nil, items)
	require.NoError(t, err)
	assert.Nil(t, warning)
	assertAmount(t, "230.00", b.ProjectGross)
	assertAmount(t, "191.67", b.ProjectNet)
	assertAmount(t, "38.33", b.ProjectTax)
	assertAmount(t, "191.67", b.RestNet)
}

func TestDecomposeWithoutItemsFallsBackToInvoices(t *testing.T) {
	final := InvoiceRef{Amount: d("300.00")}
	partials := []InvoiceRef{{Amount: d("300.00")}, {Amount: d("400.00")}}

	b, warning, err := Decompose(final, partials, nil)
	require.NoError(t, err)
	assert.Nil(t, warning)
	assert.False(t, b.FromItems)
	assertAmount(t, "1000.00", b.ProjectGross)
	assertAmount(t, "250.00", b.RestNet)
	assertAmount(t, "50.00", b.RestTax)
}

func TestDecomposeReportsReconciliationWarning(t *testing.T) {
	final := InvoiceRef{Amount: d("700.00")}
	partials := []InvoiceRef{{Amount: d("300.00")}}

	// items changed after the deposit was billed
	b, warning, err := Decompose(final, partials, []decimal.Decimal{d("1100.00")})
	require.NoError(t, err)
	require.NotNil(t, warning)
	assertAmount(t, "800.00", warning.Expected)
	assertAmount(t, "700.00", warning.Actual)
	assertAmount(t, "-100.00", warning.Difference)
	assertAmount(t, "700.00", b.RestGross)
}

func TestDecomposeRestAddsUp(t *testing.T) {
	final := InvoiceRef{Amount: d("333.34")}
	partials := []InvoiceRef{{Amount: d("333.33")}, {Amount: d("333.33")}}

	b, _, err := Decompose(final, partials, []decimal.Decimal{d("1000.00")})
	require.NoError(t, err)
	assert.True(t, b.PriorNetSum.Add(b.RestNet).Equal(b.ProjectNet))
	assert.True(t, b.PriorTaxSum.Add(b.RestTax).Equal(b.ProjectTax))
}
