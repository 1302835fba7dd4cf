package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// FraudPolicy holds the conversion risk thresholds. Any triggered rule keeps the
// purchase pending and extends its verification delay.
type FraudPolicy struct {
	MaxConversionsPerHour int           `mapstructure:"maxConversionsPerHour"`
	MinClickToConversion  time.Duration `mapstructure:"minClickToConversion"`
	HighOrderAmount       float64       `mapstructure:"highOrderAmount"`
	AllowedCurrencies     []string      `mapstructure:"allowedCurrencies"`
}

func DefaultFraudPolicy() FraudPolicy {
	return FraudPolicy{
		MaxConversionsPerHour: 5,
		MinClickToConversion:  30 * time.Second,
		HighOrderAmount:       50000,
		AllowedCurrencies:     []string{"INR"},
	}
}

// CurrencyAllowed reports whether conversions in currency skip the currency flag.
func (p FraudPolicy) CurrencyAllowed(currency string) bool {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	for _, allowed := range p.AllowedCurrencies {
		if strings.EqualFold(strings.TrimSpace(allowed), currency) {
			return true
		}
	}
	return false
}

type PolicyHolder struct {
	current atomic.Value // holds FraudPolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(policy FraudPolicy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(policy)
	return holder
}

// NewPolicyHolder loads affiliate.fraud from the policy file and watches it for
// changes. Without a file the defaults apply and nothing is watched.
func NewPolicyHolder(cfg Config, log *zap.Logger) (*PolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.policy")

	v := viper.New()
	defaults := DefaultFraudPolicy()
	v.SetDefault("affiliate.fraud.maxConversionsPerHour", defaults.MaxConversionsPerHour)
	v.SetDefault("affiliate.fraud.minClickToConversion", defaults.MinClickToConversion)
	v.SetDefault("affiliate.fraud.highOrderAmount", defaults.HighOrderAmount)
	v.SetDefault("affiliate.fraud.allowedCurrencies", []string{cfg.Affiliate.DefaultCurrency})

	path := strings.TrimSpace(cfg.Affiliate.PolicyFile)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var policy FraudPolicy
	if err := v.UnmarshalKey("affiliate.fraud", &policy); err != nil {
		return nil, err
	}
	if err := validateFraudPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if path == "" {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated FraudPolicy
		if err := v.UnmarshalKey("affiliate.fraud", &updated); err != nil {
			log.Warn("policy reload failed", zap.Error(err))
			return
		}
		if err := validateFraudPolicy(updated); err != nil {
			log.Warn("invalid policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PolicyHolder) Get() FraudPolicy {
	if h == nil {
		return DefaultFraudPolicy()
	}
	return h.current.Load().(FraudPolicy)
}

func validateFraudPolicy(policy FraudPolicy) error {
	if policy.MaxConversionsPerHour <= 0 {
		return errors.New("affiliate.fraud.maxConversionsPerHour must be positive")
	}
	if policy.MinClickToConversion < 0 {
		return errors.New("affiliate.fraud.minClickToConversion cannot be negative")
	}
	if policy.HighOrderAmount <= 0 {
		return errors.New("affiliate.fraud.highOrderAmount must be positive")
	}
	if len(policy.AllowedCurrencies) == 0 {
		return errors.New("affiliate.fraud.allowedCurrencies cannot be empty")
	}
	return nil
}
