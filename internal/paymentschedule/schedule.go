// Package paymentschedule models the deposit split attached to a project and
// derives the concrete amounts and due dates from it.
package paymentschedule

import (
	"errors"
	"sync/atomic"
)

var ErrInvalidSchedule = errors.New("invalid_schedule")

const (
	DefaultFirstPercent                = 30
	DefaultSecondPercent               = 40
	DefaultFinalPercent                = 30
	DefaultSecondDueDaysBeforeDelivery = 21
)

// Schedule is the percentage split of a project's gross total into a first
// deposit, a second deposit and the final invoice.
type Schedule struct {
	FirstPercent                int  `json:"first_percent" gorm:"column:first_percent"`
	SecondPercent               int  `json:"second_percent" gorm:"column:second_percent"`
	FinalPercent                int  `json:"final_percent" gorm:"column:final_percent"`
	SecondDueDaysBeforeDelivery int  `json:"second_due_days_before_delivery" gorm:"column:second_due_days_before_delivery"`
	AutoCreateFirst             bool `json:"auto_create_first" gorm:"column:auto_create_first"`
	AutoCreateSecond            bool `json:"auto_create_second" gorm:"column:auto_create_second"`
}

// Slot identifies one of the scheduled payments.
type Slot string

const (
	SlotFirst  Slot = "first"
	SlotSecond Slot = "second"
	SlotFinal  Slot = "final"
)

func (s Slot) Valid() bool {
	switch s {
	case SlotFirst, SlotSecond, SlotFinal:
		return true
	}
	return false
}

// IsValid reports whether the three percentages sum to exactly 100.
func IsValid(s Schedule) bool {
	return s.FirstPercent+s.SecondPercent+s.FinalPercent == 100
}

// Validate is the strict form of IsValid used on writes.
func (s Schedule) Validate() error {
	if !IsValid(s) {
		return ErrInvalidSchedule
	}
	if s.FirstPercent < 0 || s.SecondPercent < 0 || s.FinalPercent < 0 {
		return ErrInvalidSchedule
	}
	if s.SecondDueDaysBeforeDelivery <= 0 {
		return ErrInvalidSchedule
	}
	return nil
}

var fallback atomic.Pointer[Schedule]

func init() {
	fallback.Store(&Schedule{
		FirstPercent:                DefaultFirstPercent,
		SecondPercent:               DefaultSecondPercent,
		FinalPercent:                DefaultFinalPercent,
		SecondDueDaysBeforeDelivery: DefaultSecondDueDaysBeforeDelivery,
		AutoCreateFirst:             true,
		AutoCreateSecond:            true,
	})
}

// Default returns the fallback schedule applied to projects without one.
func Default() Schedule {
	return *fallback.Load()
}

// SetDefault replaces the fallback schedule. Invalid schedules are rejected
// and the previous fallback stays in place.
func SetDefault(s Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	fallback.Store(&s)
	return nil
}

// Resolve returns s, or the default schedule when s is nil.
func Resolve(s *Schedule) Schedule {
	if s == nil {
		return Default()
	}
	return *s
}
