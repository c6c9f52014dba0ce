package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertVerifyFailureSpike AlertType = "verify_failure_spike"
	AlertIssueSpike         AlertType = "issue_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultFailureWindow    = 1 * time.Minute
	defaultFailureThreshold = 100
	defaultIssueWindow      = 1 * time.Minute
	defaultIssueThreshold   = 1000
)

// metricsCollector watches audit events in sliding windows and raises an
// alert when a rate crosses its threshold. Each alert resets its window so
// one spike produces one alert.
type metricsCollector struct {
	mu      sync.Mutex
	now     func() time.Time
	alertFn AlertFunc
	windows map[AlertType]*alertWindow
}

type alertWindow struct {
	times     []time.Time
	window    time.Duration
	threshold int
	message   string
}

func newMetricsCollector(alertFn AlertFunc, now func() time.Time) *metricsCollector {
	return &metricsCollector{
		now:     now,
		alertFn: alertFn,
		windows: map[AlertType]*alertWindow{
			AlertVerifyFailureSpike: {
				window:    defaultFailureWindow,
				threshold: defaultFailureThreshold,
				message:   "captcha verification failure rate exceeds threshold",
			},
			AlertIssueSpike: {
				window:    defaultIssueWindow,
				threshold: defaultIssueThreshold,
				message:   "captcha issuance rate exceeds threshold",
			},
		},
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditVerifyFailure:
		m.record(AlertVerifyFailureSpike)
	case AuditChallengeIssued:
		m.record(AlertIssueSpike)
	}
}

func (m *metricsCollector) record(t AlertType) {
	m.mu.Lock()
	w := m.windows[t]
	now := m.now()
	w.times = trimWindow(append(w.times, now), now, w.window)
	if len(w.times) < w.threshold {
		m.mu.Unlock()
		return
	}
	evt := AlertEvent{
		Type:      t,
		Message:   w.message,
		Count:     len(w.times),
		Threshold: w.threshold,
		Timestamp: now,
	}
	w.times = w.times[:0]
	m.mu.Unlock()

	m.alertFn(evt)
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
