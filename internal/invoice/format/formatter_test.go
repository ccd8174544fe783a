package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatInvoiceNumber(t *testing.T) {
	issued := time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC)

	got, err := FormatInvoiceNumber(TemplateForPrefix("R-"), issued, 7)
	require.NoError(t, err)
	assert.Equal(t, "R-2026-0007", got)

	got, err = FormatInvoiceNumber(TemplateForPrefix(""), issued, 12345)
	require.NoError(t, err)
	assert.Equal(t, "R-2026-12345", got)

	got, err = FormatInvoiceNumber("K{YY}{MM}/{SEQ}", issued, 3)
	require.NoError(t, err)
	assert.Equal(t, "K2603/3", got)
}

func TestFormatInvoiceNumberRejects(t *testing.T) {
	issued := time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC)

	_, err := FormatInvoiceNumber("", issued, 1)
	assert.Error(t, err)

	_, err = FormatInvoiceNumber("R-{YYYY}-{SEQ4}", issued, 0)
	assert.Error(t, err)

	_, err = FormatInvoiceNumber("R-{YYYY}-{NOPE}", issued, 1)
	assert.Error(t, err)
}

func TestParseInvoiceNumber(t *testing.T) {
	template := TemplateForPrefix("R-")

	year, seq, ok := ParseInvoiceNumber(template, "R-2025-0042")
	require.True(t, ok)
	assert.Equal(t, 2025, year)
	assert.Equal(t, int64(42), seq)

	_, _, ok = ParseInvoiceNumber(template, "RE-2025-0042")
	assert.False(t, ok)

	_, _, ok = ParseInvoiceNumber(template, "R-2025-0000")
	assert.False(t, ok)

	_, _, ok = ParseInvoiceNumber("INV.{YYYY}.{SEQ}", "INV.2024.9")
	assert.True(t, ok)
}
