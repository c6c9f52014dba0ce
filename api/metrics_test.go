package api

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyFailureSpikeAlert(t *testing.T) {
	var mu sync.Mutex
	var alerts []AlertEvent
	clock := newTestClock()
	collector := newMetricsCollector(func(e AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	}, clock.Now)
	collector.windows[AlertVerifyFailureSpike].threshold = 5

	for i := 0; i < 4; i++ {
		collector.recordEvent(AuditVerifyFailure)
	}
	mu.Lock()
	assert.Empty(t, alerts, "no alert below threshold")
	mu.Unlock()

	collector.recordEvent(AuditVerifyFailure)
	mu.Lock()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertVerifyFailureSpike, alerts[0].Type)
	assert.Equal(t, 5, alerts[0].Count)
	assert.Equal(t, clock.Now(), alerts[0].Timestamp)
	mu.Unlock()

	// The window was reset by the alert.
	collector.recordEvent(AuditVerifyFailure)
	mu.Lock()
	assert.Len(t, alerts, 1)
	mu.Unlock()
}

func TestIssueSpikeAlert(t *testing.T) {
	var alerts []AlertEvent
	collector := newMetricsCollector(func(e AlertEvent) { alerts = append(alerts, e) }, newTestClock().Now)
	collector.windows[AlertIssueSpike].threshold = 3

	collector.recordEvent(AuditChallengeIssued)
	collector.recordEvent(AuditVerifyFailure)
	collector.recordEvent(AuditChallengeIssued)
	collector.recordEvent(AuditChallengeIssued)

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertIssueSpike, alerts[0].Type)
}

func TestAlertWindowSlides(t *testing.T) {
	var alerts []AlertEvent
	clock := newTestClock()
	collector := newMetricsCollector(func(e AlertEvent) { alerts = append(alerts, e) }, clock.Now)
	collector.windows[AlertVerifyFailureSpike].threshold = 3

	collector.recordEvent(AuditVerifyFailure)
	collector.recordEvent(AuditVerifyFailure)
	clock.Advance(defaultFailureWindow + time.Second)
	collector.recordEvent(AuditVerifyFailure)

	assert.Empty(t, alerts, "old failures fell out of the window")
}

func TestMetricsCollectorWithoutAlertFunc(t *testing.T) {
	var nilCollector *metricsCollector
	assert.NotPanics(t, func() {
		nilCollector.recordEvent(AuditVerifyFailure)
		newMetricsCollector(nil, time.Now).recordEvent(AuditVerifyFailure)
	})
}
