package triage

import (
	"sync"

	"github.com/sentinelworks/triage/internal/models"
)

// metricsRegistry tracks aggregate triage counters. Failed sessions
// are excluded from the auto-resolved/escalated buckets.
type metricsRegistry struct {
	mu             sync.Mutex
	totalSessions  int
	autoResolved   int
	humanEscalated int
	learningEvents int
	failed         int
	dispatched     int
}

func (m *metricsRegistry) sessionStarted() {
	m.mu.Lock()
	m.totalSessions++
	m.mu.Unlock()
}

func (m *metricsRegistry) autoResolvedSession() {
	m.mu.Lock()
	m.autoResolved++
	m.mu.Unlock()
}

func (m *metricsRegistry) escalatedSession() {
	m.mu.Lock()
	m.humanEscalated++
	m.mu.Unlock()
}

func (m *metricsRegistry) failedSession() {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
}

func (m *metricsRegistry) learningEvent() {
	m.mu.Lock()
	m.learningEvents++
	m.mu.Unlock()
}

func (m *metricsRegistry) dispatchedSession() {
	m.mu.Lock()
	m.dispatched++
	m.mu.Unlock()
}

func (m *metricsRegistry) snapshot(pending int) models.Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	rate := 0.0
	if m.totalSessions > 0 {
		rate = float64(m.autoResolved) / float64(m.totalSessions)
	}
	return models.Metrics{
		TotalSessions:    m.totalSessions,
		AutoResolved:     m.autoResolved,
		HumanEscalated:   m.humanEscalated,
		LearningEvents:   m.learningEvents,
		FailedSessions:   m.failed,
		Dispatched:       m.dispatched,
		PendingApprovals: pending,
		SuccessRate:      rate,
	}
}
