package anomaly

import (
	"sync"
	"time"

	"moltguard/internal/config"
	"moltguard/internal/domain"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	ReasonRapidRequests = "rapid consecutive requests"
	ReasonBurstVolume   = "burst volume"

	burstWindow      = time.Minute
	maxHistoryPerKey = 256
	defaultMaxKeys   = 10000
	defaultHorizon   = 2 * time.Minute
	defaultMinGap    = 500 * time.Millisecond
	defaultPerMinute = 10
)

type Verdict struct {
	Suspicious bool
	Reason     string
	Details    domain.Metadata
}

type Options struct {
	Now                func() time.Time
	Horizon            time.Duration
	MinInterval        time.Duration
	PerMinuteThreshold int
	MaxTrackedKeys     int
}

// OptionsFromConfig maps the anomaly settings onto detector options.
func OptionsFromConfig(cfg config.AnomalyConfig) Options {
	return Options{
		Horizon:            cfg.HorizonDuration(),
		MinInterval:        cfg.MinInterval(),
		PerMinuteThreshold: cfg.PerMinuteThreshold,
		MaxTrackedKeys:     cfg.MaxTrackedKeys,
	}
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Horizon <= 0 {
		o.Horizon = defaultHorizon
	}
	if o.MinInterval <= 0 {
		o.MinInterval = defaultMinGap
	}
	if o.PerMinuteThreshold <= 0 {
		o.PerMinuteThreshold = defaultPerMinute
	}
	if o.MaxTrackedKeys <= 0 {
		o.MaxTrackedKeys = defaultMaxKeys
	}
	return o
}

type historyKey struct {
	actor      string
	actionType string
}

// Detector keeps a short rolling history of action timestamps per
// (actor, action type). State is process-local and lost on restart.
type Detector struct {
	mu      sync.Mutex
	opts    Options
	history *expirable.LRU[historyKey, []time.Time]
}

func NewDetector(opts Options) *Detector {
	opts = opts.withDefaults()
	return &Detector{
		opts:    opts,
		history: expirable.NewLRU[historyKey, []time.Time](opts.MaxTrackedKeys, nil, opts.Horizon),
	}
}

// Configure applies new thresholds. Changing the horizon or key cap resets
// the tracked history.
func (d *Detector) Configure(opts Options) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if opts.Now == nil {
		opts.Now = d.opts.Now
	}
	opts = opts.withDefaults()

	if opts.Horizon != d.opts.Horizon || opts.MaxTrackedKeys != d.opts.MaxTrackedKeys {
		d.history = expirable.NewLRU[historyKey, []time.Time](opts.MaxTrackedKeys, nil, opts.Horizon)
	}
	d.opts = opts
}

// Evaluate must run before the action is recorded. Only a clean verdict
// adds the current timestamp to the history.
func (d *Detector) Evaluate(actor, actionType string) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.opts.Now()
	key := historyKey{actor: actor, actionType: actionType}

	previous, _ := d.history.Get(key)
	recent := prune(previous, now.Add(-d.opts.Horizon))

	if n := len(recent); n > 0 {
		gap := now.Sub(recent[n-1])
		if gap < d.opts.MinInterval {
			d.history.Add(key, recent)
			return Verdict{
				Suspicious: true,
				Reason:     ReasonRapidRequests,
				Details:    domain.Metadata{"interval_ms": gap.Milliseconds(), "min_interval_ms": d.opts.MinInterval.Milliseconds()},
			}
		}
	}

	inLastMinute := 0
	cutoff := now.Add(-burstWindow)
	for _, ts := range recent {
		if ts.After(cutoff) {
			inLastMinute++
		}
	}
	if inLastMinute >= d.opts.PerMinuteThreshold {
		d.history.Add(key, recent)
		return Verdict{
			Suspicious: true,
			Reason:     ReasonBurstVolume,
			Details:    domain.Metadata{"count_last_minute": inLastMinute, "threshold": d.opts.PerMinuteThreshold},
		}
	}

	recent = append(recent, now)
	if len(recent) > maxHistoryPerKey {
		recent = recent[len(recent)-maxHistoryPerKey:]
	}
	d.history.Add(key, recent)
	return Verdict{}
}

// Tracked returns the number of keys currently held.
func (d *Detector) Tracked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.history.Len()
}

// prune returns a fresh slice holding the timestamps after cutoff.
func prune(history []time.Time, cutoff time.Time) []time.Time {
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
