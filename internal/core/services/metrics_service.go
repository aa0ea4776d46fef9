package services

import (
	"sync"
	"time"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"
)

// MetricsSnapshot is a point-in-time copy of the in-process counters.
type MetricsSnapshot struct {
	TakesStarted       int            `json:"takes_started"`
	TakesCompleted     map[string]int `json:"takes_completed"`
	TakesCancelled     int            `json:"takes_cancelled"`
	TakesFailed        map[string]int `json:"takes_failed"`
	Profiles           map[string]int `json:"profiles"`
	Exports            int            `json:"exports"`
	ExportFailures     int            `json:"export_failures"`
	LastExportSeconds  float64        `json:"last_export_seconds"`
	PersistenceSkipped map[string]int `json:"persistence_skipped"`
	ActivePlayback     int            `json:"active_playback"`
	LibraryTotal       int            `json:"library_total"`
	LibraryValid       int            `json:"library_valid"`
	HandlesLive        int            `json:"handles_live"`
	Timestamp          time.Time      `json:"timestamp"`
}

// MetricsService keeps game counters in memory. It backs the stats endpoint
// and the service tests; Prometheus export is layered on with MultiMetrics.
type MetricsService struct {
	mu sync.RWMutex

	takesStarted   int
	takesCompleted map[domain.RecordingKind]int
	takesCancelled int
	takesFailed    map[string]int
	profiles       map[string]int

	exports        int
	exportFailures int
	lastExport     float64

	persistenceSkipped map[string]int
	activePlayback     int
	libraryTotal       int
	libraryValid       int
	handlesLive        int
}

func NewMetricsService() *MetricsService {
	return &MetricsService{
		takesCompleted:     make(map[domain.RecordingKind]int),
		takesFailed:        make(map[string]int),
		profiles:           make(map[string]int),
		persistenceSkipped: make(map[string]int),
	}
}

func (m *MetricsService) TakeStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.takesStarted++
}

func (m *MetricsService) TakeCompleted(kind domain.RecordingKind, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.takesCompleted[kind]++
}

func (m *MetricsService) TakeCancelled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.takesCancelled++
}

func (m *MetricsService) TakeFailed(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.takesFailed[reason]++
}

func (m *MetricsService) ProfileNegotiated(component, mimeType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[component+":"+domain.BaseMime(mimeType)]++
}

func (m *MetricsService) ExportFinished(seconds float64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exports++
	if err != nil {
		m.exportFailures++
		return
	}
	m.lastExport = seconds
}

func (m *MetricsService) PersistenceSkipped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistenceSkipped[reason]++
}

func (m *MetricsService) ActivePlayback(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active {
		m.activePlayback = 1
	} else {
		m.activePlayback = 0
	}
}

func (m *MetricsService) LibrarySize(total, valid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.libraryTotal = total
	m.libraryValid = valid
}

func (m *MetricsService) HandlesLive(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlesLive = n
}

func (m *MetricsService) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	completed := make(map[string]int, len(m.takesCompleted))
	for k, v := range m.takesCompleted {
		completed[string(k)] = v
	}
	return MetricsSnapshot{
		TakesStarted:       m.takesStarted,
		TakesCompleted:     completed,
		TakesCancelled:     m.takesCancelled,
		TakesFailed:        copyCounts(m.takesFailed),
		Profiles:           copyCounts(m.profiles),
		Exports:            m.exports,
		ExportFailures:     m.exportFailures,
		LastExportSeconds:  m.lastExport,
		PersistenceSkipped: copyCounts(m.persistenceSkipped),
		ActivePlayback:     m.activePlayback,
		LibraryTotal:       m.libraryTotal,
		LibraryValid:       m.libraryValid,
		HandlesLive:        m.handlesLive,
		Timestamp:          time.Now(),
	}
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// MultiMetrics fans every observation out to several sinks.
type MultiMetrics []ports.MetricsService

func (mm MultiMetrics) TakeStarted() {
	for _, m := range mm {
		m.TakeStarted()
	}
}

func (mm MultiMetrics) TakeCompleted(kind domain.RecordingKind, seconds float64) {
	for _, m := range mm {
		m.TakeCompleted(kind, seconds)
	}
}

func (mm MultiMetrics) TakeCancelled() {
	for _, m := range mm {
		m.TakeCancelled()
	}
}

func (mm MultiMetrics) TakeFailed(reason string) {
	for _, m := range mm {
		m.TakeFailed(reason)
	}
}

func (mm MultiMetrics) ProfileNegotiated(component, mimeType string) {
	for _, m := range mm {
		m.ProfileNegotiated(component, mimeType)
	}
}

func (mm MultiMetrics) ExportFinished(seconds float64, err error) {
	for _, m := range mm {
		m.ExportFinished(seconds, err)
	}
}

func (mm MultiMetrics) PersistenceSkipped(reason string) {
	for _, m := range mm {
		m.PersistenceSkipped(reason)
	}
}

func (mm MultiMetrics) ActivePlayback(active bool) {
	for _, m := range mm {
		m.ActivePlayback(active)
	}
}

func (mm MultiMetrics) LibrarySize(total, valid int) {
	for _, m := range mm {
		m.LibrarySize(total, valid)
	}
}

func (mm MultiMetrics) HandlesLive(n int) {
	for _, m := range mm {
		m.HandlesLive(n)
	}
}

var (
	_ ports.MetricsService = (*MetricsService)(nil)
	_ ports.MetricsService = MultiMetrics(nil)
)
