package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock supplies the current time. Everything that computes due dates or
// overdue days takes a Clock so tests can pin time.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func provideClock() Clock {
	return SystemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(provideClock),
)

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the signed number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}
