package paymentschedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid(Schedule{FirstPercent: 30, SecondPercent: 40, FinalPercent: 30}))
	assert.False(t, IsValid(Schedule{FirstPercent: 30, SecondPercent: 40, FinalPercent: 20}))
	assert.True(t, IsValid(Default()))
}

func TestResolve(t *testing.T) {
	assert.Equal(t, Default(), Resolve(nil))

	s := Schedule{FirstPercent: 50, SecondPercent: 0, FinalPercent: 50, SecondDueDaysBeforeDelivery: 10}
	assert.Equal(t, s, Resolve(&s))
}

func TestSetDefaultRejectsInvalid(t *testing.T) {
	before := Default()
	err := SetDefault(Schedule{FirstPercent: 10, SecondPercent: 10, FinalPercent: 10, SecondDueDaysBeforeDelivery: 5})
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	assert.Equal(t, before, Default())
}
