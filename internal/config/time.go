package config

import "time"

const (
	defaultDeliveryTimeout     = 10 * time.Second
	defaultRateWindowRetention = time.Hour
	defaultSweepInterval       = 10 * time.Minute
	defaultAnomalyHorizon      = 2 * time.Minute
	defaultSuspicionBlock      = time.Hour

	defaultDeactivationThreshold = 10
)

type Timer struct {
	Days    uint32 `json:"days,omitempty"`
	Hours   uint32 `json:"hours,omitempty"`
	Minutes uint32 `json:"minutes,omitempty"`
	Seconds uint32 `json:"seconds,omitempty"`
}

func (t Timer) Duration() time.Duration {
	return time.Duration(CalculateMillisecondsOfPeriod(t)) * time.Millisecond
}

func CalculateMillisecondsOfPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

// DurationOr returns the timer's duration, or fallback when it is unset.
func DurationOr(timer Timer, fallback time.Duration) time.Duration {
	if d := timer.Duration(); d > 0 {
		return d
	}
	return fallback
}

func (c WebhookConfig) DeliveryTimeout() time.Duration {
	return DurationOr(c.Timeout, defaultDeliveryTimeout)
}

// Threshold is the failure streak that deactivates a subscription. Unset or
// non-positive values fall back to the default so the breaker cannot be
// switched off by omission.
func (c WebhookConfig) Threshold() int {
	if c.DeactivationThreshold > 0 {
		return c.DeactivationThreshold
	}
	return defaultDeactivationThreshold
}

func (c MaintenanceConfig) Retention() time.Duration {
	return DurationOr(c.RateWindowRetention, defaultRateWindowRetention)
}

func (c MaintenanceConfig) SweepInterval() time.Duration {
	return DurationOr(c.SweepTimer, defaultSweepInterval)
}

func (c AnomalyConfig) HorizonDuration() time.Duration {
	return DurationOr(c.Horizon, defaultAnomalyHorizon)
}

func (c AnomalyConfig) BlockPenalty() time.Duration {
	return DurationOr(c.BlockDuration, defaultSuspicionBlock)
}

func (c AnomalyConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMs) * time.Millisecond
}
