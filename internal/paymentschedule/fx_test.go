package paymentschedule

import (
	"testing"

	"github.com/smallbiznis/kitchenbill/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestBindDefaultAppliesConfig(t *testing.T) {
	previous := Default()
	t.Cleanup(func() { _ = SetDefault(previous) })

	cfg := config.DefaultDunningConfig()
	cfg.DefaultSchedule = config.ScheduleDefault{FirstPercent: 40, SecondPercent: 40, FinalPercent: 20, SecondLeadDays: 14}
	BindDefault(config.NewStaticDunningConfigHolder(cfg), zaptest.NewLogger(t))

	got := Default()
	assert.Equal(t, 40, got.FirstPercent)
	assert.Equal(t, 40, got.SecondPercent)
	assert.Equal(t, 20, got.FinalPercent)
	assert.Equal(t, 14, got.SecondDueDaysBeforeDelivery)
}

func TestBindDefaultKeepsPreviousOnInvalid(t *testing.T) {
	previous := Default()
	t.Cleanup(func() { _ = SetDefault(previous) })

	cfg := config.DefaultDunningConfig()
	cfg.DefaultSchedule = config.ScheduleDefault{FirstPercent: 50, SecondPercent: 50, FinalPercent: 50}
	BindDefault(config.NewStaticDunningConfigHolder(cfg), zaptest.NewLogger(t))

	assert.Equal(t, previous, Default())
}
