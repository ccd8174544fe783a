package paymentschedule

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/kitchenbill/internal/clock"
	"github.com/smallbiznis/kitchenbill/internal/money"
)

// Terms is the subset of a project the calculator reads.
type Terms struct {
	GrossTotal           decimal.Decimal
	DeliveryDate         *time.Time
	Schedule             *Schedule
	SecondPaymentCreated bool
}

// Amounts are the concrete currency amounts of the three scheduled payments.
type Amounts struct {
	First  decimal.Decimal `json:"first"`
	Second decimal.Decimal `json:"second"`
	Final  decimal.Decimal `json:"final"`
}

// For returns the amount of the given slot.
func (a Amounts) For(slot Slot) decimal.Decimal {
	switch slot {
	case SlotFirst:
		return a.First
	case SlotSecond:
		return a.Second
	default:
		return a.Final
	}
}

// CalculateAmounts splits the gross total by the resolved schedule. The final
// amount is the remainder, so First+Second+Final always equals the gross
// total. It returns false when there is no gross total to split.
func CalculateAmounts(t Terms) (*Amounts, bool) {
	if !t.GrossTotal.IsPositive() {
		return nil, false
	}
	s := Resolve(t.Schedule)
	gross := money.Round2(t.GrossTotal)
	first := money.PercentOf(gross, money.Percent(s.FirstPercent))
	second := money.PercentOf(gross, money.Percent(s.SecondPercent))
	return &Amounts{
		First:  first,
		Second: second,
		Final:  gross.Sub(first).Sub(second),
	}, true
}

// SecondPaymentDueDate is the delivery date minus the schedule lead days.
func SecondPaymentDueDate(t Terms) *time.Time {
	if t.DeliveryDate == nil || t.DeliveryDate.IsZero() {
		return nil
	}
	s := Resolve(t.Schedule)
	due := clock.Day(*t.DeliveryDate).AddDate(0, 0, -s.SecondDueDaysBeforeDelivery)
	return &due
}

// DaysUntilSecondPaymentDue is negative once the due date has passed.
func DaysUntilSecondPaymentDue(t Terms, now time.Time) *int {
	due := SecondPaymentDueDate(t)
	if due == nil {
		return nil
	}
	days := clock.DaysBetween(now, *due)
	return &days
}

// IsSecondPaymentDue reports whether the second deposit should be invoiced
// now. Nothing is cached; only the persisted flag suppresses it.
func IsSecondPaymentDue(t Terms, now time.Time) bool {
	if t.SecondPaymentCreated {
		return false
	}
	days := DaysUntilSecondPaymentDue(t, now)
	return days != nil && *days <= 0
}
