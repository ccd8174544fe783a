package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/kitchenbill/internal/clock"
	invoicedomain "github.com/smallbiznis/kitchenbill/internal/invoice/domain"
	"github.com/smallbiznis/kitchenbill/internal/money"
)

const daysPerYear = 365

// Policy is the escalation configuration in effect for one evaluation.
type Policy struct {
	DefaultTermsDays int
	MinGapDaysSecond int
	MinGapDaysFinal  int
	LateInterestRate decimal.Decimal
}

// MinGapDays is the minimum number of days between the previous reminder
// and stage t. The first reminder has no gap.
func (p Policy) MinGapDays(t invoicedomain.ReminderType) int {
	switch t {
	case invoicedomain.ReminderSecond:
		return p.MinGapDaysSecond
	case invoicedomain.ReminderFinal:
		return p.MinGapDaysFinal
	default:
		return 0
	}
}

// DueDate returns the explicit due date or the invoice date plus the default
// terms. It is nil when the invoice has no date at all.
func DueDate(inv invoicedomain.Invoice, defaultTermsDays int) *time.Time {
	if (inv.DueDate == nil || inv.DueDate.IsZero()) && inv.InvoiceDate.IsZero() {
		return nil
	}
	due := inv.EffectiveDueDate(defaultTermsDays)
	return &due
}

// OverdueDays is the number of whole days between due and now, negative
// before the due date. It is nil without a due date.
func OverdueDays(due *time.Time, now time.Time) *int {
	if due == nil {
		return nil
	}
	days := clock.DaysBetween(*due, now)
	return &days
}

// NextReminderType is the single stage that may be sent next. It reports
// false once the final stage has been sent.
func NextReminderType(reminders []invoicedomain.Reminder) (invoicedomain.ReminderType, bool) {
	if len(reminders) == 0 {
		return invoicedomain.ReminderFirst, true
	}
	last, _ := invoicedomain.Invoice{Reminders: reminders}.LastReminder()
	switch last.Type {
	case invoicedomain.ReminderFirst:
		return invoicedomain.ReminderSecond, true
	case invoicedomain.ReminderSecond:
		return invoicedomain.ReminderFinal, true
	default:
		return "", false
	}
}

// CanSend reports whether stage t may be sent for inv at now.
func CanSend(inv invoicedomain.Invoice, t invoicedomain.ReminderType, minGapDays, defaultTermsDays int, now time.Time) bool {
	if !t.Valid() || inv.IsCredit() || inv.IsPaid {
		return false
	}
	next, ok := NextReminderType(inv.Reminders)
	if !ok || next != t {
		return false
	}
	overdue := OverdueDays(DueDate(inv, defaultTermsDays), now)
	if overdue == nil || *overdue < 0 {
		return false
	}
	if inv.HasReminder(t) {
		return false
	}
	if t == invoicedomain.ReminderFirst {
		return true
	}
	last, ok := inv.LastReminder()
	if !ok {
		return false
	}
	return clock.DaysBetween(last.SentAt, now) >= minGapDays
}

// CanSendWithPolicy applies CanSend with the stage gap taken from p.
func CanSendWithPolicy(inv invoicedomain.Invoice, t invoicedomain.ReminderType, p Policy, now time.Time) bool {
	return CanSend(inv, t, p.MinGapDays(t), p.DefaultTermsDays, now)
}

// LateInterest is simple daily interest on amount at ratePercent per year.
func LateInterest(amount decimal.Decimal, overdueDays int, ratePercent decimal.Decimal) decimal.Decimal {
	if overdueDays <= 0 || !amount.IsPositive() {
		return decimal.Zero
	}
	interest := amount.
		Mul(ratePercent).
		Div(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(daysPerYear)).
		Mul(decimal.NewFromInt(int64(overdueDays)))
	return money.Round2(interest)
}
