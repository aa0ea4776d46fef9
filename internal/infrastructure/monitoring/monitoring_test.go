package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"dubsync/internal/core/domain"
	"dubsync/internal/infrastructure/media/virtual"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPrometheusCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusCollector(reg)

	p.TakeStarted()
	p.TakeCompleted(domain.RecordingVideoAudio, 12)
	p.TakeFailed("capture_unavailable")
	p.ProfileNegotiated("export", "video/webm;codecs=vp9,opus")
	p.ExportFinished(3, nil)
	p.ExportFinished(1, errors.New("boom"))
	p.PersistenceSkipped("quota")
	p.LibrarySize(5, 3)
	p.HandlesLive(4)
	p.ActivePlayback(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.takesStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.takesCompleted.WithLabelValues("video")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.takesFailed.WithLabelValues("capture_unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.profilesNegotiated.WithLabelValues("export", "video/webm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.exportFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.persistenceSkipped.WithLabelValues("quota")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.librarySize.WithLabelValues("valid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.librarySize.WithLabelValues("placeholder")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.handlesLive))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.activePlayback))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestPrometheusCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusCollector(prometheus.NewRegistry())
		NewPrometheusCollector(prometheus.NewRegistry())
	})
}

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker(zaptest.NewLogger(t).Sugar())
	handles := virtual.NewHandleRegistry()

	h.AddStoreCheck(func(ctx context.Context) error { return nil }, 0, time.Second)
	h.AddHandleCheck(handles, 1, 0, time.Second)
	assert.True(t, h.IsReady(context.Background()))

	handles.Create(domain.NewBlob([]byte{1}, "audio/wav"))
	handles.Create(domain.NewBlob([]byte{2}, "audio/wav"))
	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["store"])
	assert.Contains(t, status.Checks["media_handles"], "exceed")
}

func TestHealthChecker_StoreFailure(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddStoreCheck(func(ctx context.Context) error { return errors.New("redis down") }, 0, time.Second)

	status := h.GetReadinessStatus(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "redis down", status.Checks["store"])
}
