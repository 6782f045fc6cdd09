package abuse

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var gateDecisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moltguard_gate_decisions_total",
	Help: "Number of guard pipeline decisions by action type and outcome",
}, []string{"action", "outcome"})

var suspiciousEventCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moltguard_suspicious_events_total",
	Help: "Number of suspicious activity verdicts by reason",
}, []string{"reason"})
