package paymentschedule

import (
	"github.com/smallbiznis/kitchenbill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("paymentschedule",
	fx.Invoke(BindDefault),
)

// BindDefault keeps the fallback schedule in step with the dunning config.
func BindDefault(holder *config.DunningConfigHolder, log *zap.Logger) {
	log = log.Named("paymentschedule")
	holder.Subscribe(func(cfg config.DunningConfig) {
		s := Default()
		s.FirstPercent = cfg.DefaultSchedule.FirstPercent
		s.SecondPercent = cfg.DefaultSchedule.SecondPercent
		s.FinalPercent = cfg.DefaultSchedule.FinalPercent
		s.SecondDueDaysBeforeDelivery = cfg.DefaultSchedule.SecondLeadDays
		if err := SetDefault(s); err != nil {
			log.Warn("default schedule rejected, keeping previous", zap.Error(err))
			return
		}
		log.Info("default schedule updated",
			zap.Int("first_percent", s.FirstPercent),
			zap.Int("second_percent", s.SecondPercent),
			zap.Int("final_percent", s.FinalPercent),
			zap.Int("second_lead_days", s.SecondDueDaysBeforeDelivery),
		)
	})
}
