package config

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DunningConfig is the reminder and deposit policy. It is read from
// dunning.yml and reloaded when the file changes.
type DunningConfig struct {
	DefaultTermsDays  int             `mapstructure:"defaultTermsDays"`
	MinGapDaysSecond  int             `mapstructure:"minGapDaysSecond"`
	MinGapDaysFinal   int             `mapstructure:"minGapDaysFinal"`
	LateInterestRate  float64         `mapstructure:"lateInterestRate"`
	AutoSendReminders bool            `mapstructure:"autoSendReminders"`
	DefaultSchedule   ScheduleDefault `mapstructure:"defaultSchedule"`
}

type ScheduleDefault struct {
	FirstPercent   int `mapstructure:"firstPercent"`
	SecondPercent  int `mapstructure:"secondPercent"`
	FinalPercent   int `mapstructure:"finalPercent"`
	SecondLeadDays int `mapstructure:"secondLeadDays"`
}

func DefaultDunningConfig() DunningConfig {
	return DunningConfig{
		DefaultTermsDays:  14,
		MinGapDaysSecond:  7,
		MinGapDaysFinal:   7,
		LateInterestRate:  9.2,
		AutoSendReminders: false,
		DefaultSchedule: ScheduleDefault{
			FirstPercent:   30,
			SecondPercent:  40,
			FinalPercent:   30,
			SecondLeadDays: 21,
		},
	}
}

type DunningConfigHolder struct {
	current atomic.Value // holds DunningConfig

	mu        sync.Mutex
	listeners []func(DunningConfig)
}

// NewStaticDunningConfigHolder returns a holder that never reloads.
func NewStaticDunningConfigHolder(cfg DunningConfig) *DunningConfigHolder {
	holder := &DunningConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewDunningConfigHolder(log *zap.Logger) (*DunningConfigHolder, error) {
	return loadDunningConfigHolder(log,
		"/var/lib/kitchenbill/config", // Volume-mounted config
		"/etc/kitchenbill",            // System config
		".",                           // Current directory (dev mode)
	)
}

func loadDunningConfigHolder(log *zap.Logger, paths ...string) (*DunningConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("dunning.config")

	v := viper.New()
	v.SetConfigName("dunning")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("KITCHENBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultDunningConfig()
	v.SetDefault("dunning.defaultTermsDays", defaults.DefaultTermsDays)
	v.SetDefault("dunning.minGapDaysSecond", defaults.MinGapDaysSecond)
	v.SetDefault("dunning.minGapDaysFinal", defaults.MinGapDaysFinal)
	v.SetDefault("dunning.lateInterestRate", defaults.LateInterestRate)
	v.SetDefault("dunning.autoSendReminders", defaults.AutoSendReminders)
	v.SetDefault("dunning.defaultSchedule.firstPercent", defaults.DefaultSchedule.FirstPercent)
	v.SetDefault("dunning.defaultSchedule.secondPercent", defaults.DefaultSchedule.SecondPercent)
	v.SetDefault("dunning.defaultSchedule.finalPercent", defaults.DefaultSchedule.FinalPercent)
	v.SetDefault("dunning.defaultSchedule.secondLeadDays", defaults.DefaultSchedule.SecondLeadDays)

	found := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		found = false
	}

	cfg, err := unmarshalDunning(v)
	if err != nil {
		return nil, err
	}
	if err := validateDunningConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticDunningConfigHolder(cfg)
	if !found {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalDunning(v)
		if err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateDunningConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// unmarshalDunning goes through AllSettings so that keys missing from the
// file still pick up their defaults.
func unmarshalDunning(v *viper.Viper) (DunningConfig, error) {
	var wrapper struct {
		Dunning DunningConfig `mapstructure:"dunning"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return DunningConfig{}, err
	}
	return wrapper.Dunning, nil
}

func (h *DunningConfigHolder) Get() DunningConfig {
	return h.current.Load().(DunningConfig)
}

// Subscribe calls fn with the current config and again after every reload.
func (h *DunningConfigHolder) Subscribe(fn func(DunningConfig)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
	fn(h.Get())
}

func (h *DunningConfigHolder) store(cfg DunningConfig) {
	h.current.Store(cfg)
	h.mu.Lock()
	listeners := slices.Clone(h.listeners)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

func validateDunningConfig(cfg DunningConfig) error {
	if cfg.DefaultTermsDays < 0 {
		return errors.New("dunning.defaultTermsDays cannot be negative")
	}
	if cfg.MinGapDaysSecond < 0 || cfg.MinGapDaysFinal < 0 {
		return errors.New("dunning.minGapDays cannot be negative")
	}
	if cfg.LateInterestRate < 0 {
		return errors.New("dunning.lateInterestRate cannot be negative")
	}
	s := cfg.DefaultSchedule
	if s.FirstPercent+s.SecondPercent+s.FinalPercent != 100 {
		return errors.New("dunning.defaultSchedule percentages must sum to 100")
	}
	if s.SecondLeadDays <= 0 {
		return errors.New("dunning.defaultSchedule.secondLeadDays must be positive")
	}
	return nil
}
