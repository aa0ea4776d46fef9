package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"
	"dubsync/internal/infrastructure/media/virtual"
	"dubsync/internal/infrastructure/scheduler"
	"dubsync/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	t       *testing.T
	sched   *scheduler.Manual
	host    *virtual.Host
	metrics *MetricsService
	logger  *zap.SugaredLogger
	cfg     *config.Config
	probe   ports.MediaProbe
	store   ports.GameSessionStore
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithPersister(t, nil)
}

func newFixtureWithPersister(t *testing.T, persister ports.StatePersister) *fixture {
	t.Helper()
	sched := scheduler.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	host := virtual.NewHost(sched, virtual.DefaultOptions())
	logger := zaptest.NewLogger(t).Sugar()
	metrics := NewMetricsService()
	probe := NewMediaProbe(host, logger)
	cfg := config.DefaultConfig()

	return &fixture{
		t:       t,
		sched:   sched,
		host:    host,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		probe:   probe,
		store:   NewGameSessionStore(host, probe, persister, sched, StoreOptionsFromConfig(cfg), metrics, logger),
	}
}

func (f *fixture) clip(d time.Duration) *domain.Blob {
	f.t.Helper()
	data, err := virtual.SynthesizeClip(virtual.ClipSpec{Width: 320, Height: 180, FPS: 30, Duration: d})
	require.NoError(f.t, err)
	return domain.NewBlob(data, virtual.ClipMimeType)
}

func (f *fixture) wav(d time.Duration) *domain.Blob {
	f.t.Helper()
	data, err := virtual.SynthesizeAudio(d, 330, 44100)
	require.NoError(f.t, err)
	return domain.NewBlob(data, virtual.AudioMimeType)
}

func (f *fixture) addVideos(n int, d time.Duration) []*domain.Video {
	f.t.Helper()
	var out []*domain.Video
	for i := 0; i < n; i++ {
		v, err := f.store.AddVideo(context.Background(), "clip.dubv", f.clip(d))
		require.NoError(f.t, err)
		out = append(out, v)
	}
	return out
}

func (f *fixture) captureFactory() ports.CaptureFactory {
	return NewCaptureFactory(f.host, f.sched, CaptureOptionsFromConfig(f.cfg), f.metrics, f.logger)
}

// countingCapture records how many times Start was reached.
type countingCapture struct {
	ports.CaptureSession
	starts *atomic.Int32
}

func (c countingCapture) Start(ctx context.Context, kind domain.RecordingKind) error {
	c.starts.Add(1)
	return c.CaptureSession.Start(ctx, kind)
}

func (f *fixture) countingFactory(starts *atomic.Int32) ports.CaptureFactory {
	inner := f.captureFactory()
	return func() ports.CaptureSession {
		return countingCapture{CaptureSession: inner(), starts: starts}
	}
}

// drive advances virtual time in small steps until done is closed.
func (f *fixture) drive(done <-chan struct{}) {
	f.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		select {
		case <-done:
			return
		default:
		}
		if time.Now().After(deadline) {
			f.t.Fatal("timed out driving the virtual clock")
		}
		f.sched.Advance(10 * time.Millisecond)
		time.Sleep(50 * time.Microsecond)
	}
}

func (f *fixture) audioRecording(d time.Duration) *domain.Recording {
	f.t.Helper()
	blob := f.wav(d)
	rec, err := domain.NewAudioRecording(
		domain.RecordingID(time.Now().Format(time.RFC3339Nano)),
		"",
		domain.Artifact{Blob: blob, Handle: f.host.Handles().Create(blob)},
		f.sched.Now(),
	)
	require.NoError(f.t, err)
	return rec
}
