package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/kitchenbill/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n-1)
}

func ptr[T any](v T) *T { return &v }

func overdueInvoice(reminders ...invoicedomain.Reminder) invoicedomain.Invoice {
	return invoicedomain.Invoice{
		Type:        invoicedomain.InvoiceTypePartial,
		Amount:      decimal.NewFromInt(300),
		InvoiceDate: day(1),
		DueDate:     ptr(day(5)),
		Reminders:   reminders,
	}
}

func TestDueDate(t *testing.T) {
	inv := invoicedomain.Invoice{InvoiceDate: time.Date(2026, time.March, 1, 15, 30, 0, 0, time.UTC)}
	due := DueDate(inv, 14)
	require.NotNil(t, due)
	assert.Equal(t, time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC), *due)

	inv.DueDate = ptr(time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, *inv.DueDate, *DueDate(inv, 14))

	assert.Nil(t, DueDate(invoicedomain.Invoice{}, 14))
}

func TestOverdueDays(t *testing.T) {
	due := day(10)
	assert.Equal(t, -2, *OverdueDays(&due, day(8)))
	assert.Equal(t, 0, *OverdueDays(&due, day(10).Add(23*time.Hour)))
	assert.Equal(t, 5, *OverdueDays(&due, day(15)))
	assert.Nil(t, OverdueDays(nil, day(1)))
}

func TestNextReminderTypeIsMonotonic(t *testing.T) {
	next, ok := NextReminderType(nil)
	require.True(t, ok)
	assert.Equal(t, invoicedomain.ReminderFirst, next)

	reminders := []invoicedomain.Reminder{{Type: invoicedomain.ReminderFirst, SentAt: day(10)}}
	next, ok = NextReminderType(reminders)
	require.True(t, ok)
	assert.Equal(t, invoicedomain.ReminderSecond, next)

	reminders = append(reminders, invoicedomain.Reminder{Type: invoicedomain.ReminderSecond, SentAt: day(18)})
	next, ok = NextReminderType(reminders)
	require.True(t, ok)
	assert.Equal(t, invoicedomain.ReminderFinal, next)

	reminders = append(reminders, invoicedomain.Reminder{Type: invoicedomain.ReminderFinal, SentAt: day(30)})
	_, ok = NextReminderType(reminders)
	assert.False(t, ok)
}

func TestCanSendRespectsGap(t *testing.T) {
	inv := overdueInvoice(invoicedomain.Reminder{Type: invoicedomain.ReminderFirst, SentAt: day(10)})

	assert.False(t, CanSend(inv, invoicedomain.ReminderSecond, 7, 14, day(15)))
	assert.True(t, CanSend(inv, invoicedomain.ReminderSecond, 7, 14, day(18)))
	assert.True(t, CanSend(inv, invoicedomain.ReminderSecond, 7, 14, day(17)))
	assert.False(t, CanSend(inv, invoicedomain.ReminderFirst, 7, 14, day(18)))
	assert.False(t, CanSend(inv, invoicedomain.ReminderFinal, 7, 14, day(30)))
}

func TestCanSendRejects(t *testing.T) {
	inv := overdueInvoice()
	assert.True(t, CanSend(inv, invoicedomain.ReminderFirst, 7, 14, day(5)))
	assert.False(t, CanSend(inv, invoicedomain.ReminderFirst, 7, 14, day(4)), "not yet due")
	assert.False(t, CanSend(inv, invoicedomain.ReminderSecond, 0, 14, day(20)), "out of order")
	assert.False(t, CanSend(inv, invoicedomain.ReminderType("fourth"), 0, 14, day(20)))

	paid := inv
	paid.IsPaid = true
	paid.PaidDate = ptr(day(6))
	assert.False(t, CanSend(paid, invoicedomain.ReminderFirst, 7, 14, day(20)))

	credit := inv
	credit.Type = invoicedomain.InvoiceTypeCredit
	credit.Amount = decimal.NewFromInt(-300)
	assert.False(t, CanSend(credit, invoicedomain.ReminderFirst, 7, 14, day(20)))

	assert.False(t, CanSend(invoicedomain.Invoice{Type: invoicedomain.InvoiceTypePartial}, invoicedomain.ReminderFirst, 7, 14, day(20)), "no due date")

	done := overdueInvoice(
		invoicedomain.Reminder{Type: invoicedomain.ReminderFirst, SentAt: day(6)},
		invoicedomain.Reminder{Type: invoicedomain.ReminderSecond, SentAt: day(13)},
		invoicedomain.Reminder{Type: invoicedomain.ReminderFinal, SentAt: day(20)},
	)
	for _, stage := range invoicedomain.ReminderSequence {
		assert.False(t, CanSend(done, stage, 0, 14, day(200)))
	}
}

func TestPolicyGaps(t *testing.T) {
	p := Policy{DefaultTermsDays: 14, MinGapDaysSecond: 7, MinGapDaysFinal: 10}
	assert.Equal(t, 0, p.MinGapDays(invoicedomain.ReminderFirst))
	assert.Equal(t, 7, p.MinGapDays(invoicedomain.ReminderSecond))
	assert.Equal(t, 10, p.MinGapDays(invoicedomain.ReminderFinal))

	inv := overdueInvoice(
		invoicedomain.Reminder{Type: invoicedomain.ReminderFirst, SentAt: day(6)},
		invoicedomain.Reminder{Type: invoicedomain.ReminderSecond, SentAt: day(13)},
	)
	assert.False(t, CanSendWithPolicy(inv, invoicedomain.ReminderFinal, p, day(20)))
	assert.True(t, CanSendWithPolicy(inv, invoicedomain.ReminderFinal, p, day(23)))
}

func TestLateInterest(t *testing.T) {
	rate := decimal.RequireFromString("9.2")
	// 1000 * 9.2% / 365 * 30 = 7.5616...
	assert.Equal(t, "7.56", LateInterest(decimal.NewFromInt(1000), 30, rate).StringFixed(2))
	assert.True(t, LateInterest(decimal.NewFromInt(1000), 0, rate).IsZero())
	assert.True(t, LateInterest(decimal.NewFromInt(-1000), 30, rate).IsZero())
}
