package domain

import (
	"time"

	"github.com/smallbiznis/kitchenbill/internal/clock"
)

type Status string

const (
	StatusDraft         Status = "draft"
	StatusSent          Status = "sent"
	StatusOverdue       Status = "overdue"
	StatusReminded1     Status = "reminded_1"
	StatusReminded2     Status = "reminded_2"
	StatusRemindedFinal Status = "reminded_final"
	StatusPaid          Status = "paid"
	StatusCredited      Status = "credited"
)

// StatusOf derives the display status of inv. credited marks an original
// that a credit note reverses; credit notes themselves are always credited.
func StatusOf(inv Invoice, now time.Time, dueDate time.Time, credited bool) Status {
	if credited || inv.IsCredit() {
		return StatusCredited
	}
	if inv.IsPaid {
		return StatusPaid
	}

	switch {
	case inv.HasReminder(ReminderFinal):
		return StatusRemindedFinal
	case inv.HasReminder(ReminderSecond):
		return StatusReminded2
	case inv.HasReminder(ReminderFirst):
		return StatusReminded1
	}

	today := clock.Day(now)
	if today.After(clock.Day(dueDate)) {
		return StatusOverdue
	}
	if clock.Day(inv.InvoiceDate).After(today) {
		return StatusDraft
	}
	return StatusSent
}
