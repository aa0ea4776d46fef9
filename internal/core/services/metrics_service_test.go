package services

import (
	"errors"
	"testing"

	"dubsync/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestMetricsService_Snapshot(t *testing.T) {
	m := NewMetricsService()

	m.TakeStarted()
	m.TakeStarted()
	m.TakeCompleted(domain.RecordingAudioOnly, 2.5)
	m.TakeCancelled()
	m.TakeFailed("capture_unavailable")
	m.ProfileNegotiated("capture", "audio/wav;codecs=1")
	m.ExportFinished(1.5, nil)
	m.ExportFinished(0.1, errors.New("boom"))
	m.PersistenceSkipped("quota")
	m.ActivePlayback(true)
	m.LibrarySize(5, 3)
	m.HandlesLive(7)

	s := m.Snapshot()
	assert.Equal(t, 2, s.TakesStarted)
	assert.Equal(t, 1, s.TakesCompleted["audio"])
	assert.Equal(t, 1, s.TakesCancelled)
	assert.Equal(t, 1, s.TakesFailed["capture_unavailable"])
	assert.Equal(t, 1, s.Profiles["capture:audio/wav"])
	assert.Equal(t, 2, s.Exports)
	assert.Equal(t, 1, s.ExportFailures)
	assert.Equal(t, 1.5, s.LastExportSeconds)
	assert.Equal(t, 1, s.PersistenceSkipped["quota"])
	assert.Equal(t, 1, s.ActivePlayback)
	assert.Equal(t, 5, s.LibraryTotal)
	assert.Equal(t, 3, s.LibraryValid)
	assert.Equal(t, 7, s.HandlesLive)

	// Snapshot maps are copies.
	s.TakesFailed["capture_unavailable"] = 99
	assert.Equal(t, 1, m.Snapshot().TakesFailed["capture_unavailable"])
}

func TestMultiMetrics_FansOut(t *testing.T) {
	a, b := NewMetricsService(), NewMetricsService()
	mm := MultiMetrics{a, b}

	mm.TakeStarted()
	mm.LibrarySize(3, 3)
	mm.ActivePlayback(true)
	mm.ActivePlayback(false)

	for _, m := range []*MetricsService{a, b} {
		s := m.Snapshot()
		assert.Equal(t, 1, s.TakesStarted)
		assert.Equal(t, 3, s.LibraryValid)
		assert.Equal(t, 0, s.ActivePlayback)
	}
}
