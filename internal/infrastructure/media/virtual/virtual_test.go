package virtual

import (
	"context"
	"testing"
	"time"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"
	"dubsync/internal/infrastructure/scheduler"

	"github.com/gabriel-vasile/mimetype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHost(t *testing.T) (*Host, *scheduler.Manual) {
	t.Helper()
	sched := scheduler.NewManual(time.Time{})
	return NewHost(sched, DefaultOptions()), sched
}

func testClip(t *testing.T, d time.Duration) []byte {
	t.Helper()
	data, err := SynthesizeClip(ClipSpec{Width: 640, Height: 360, FPS: 30, Duration: d})
	require.NoError(t, err)
	return data
}

func TestClip_RoundTrip(t *testing.T) {
	data := testClip(t, 2*time.Second)

	assert.True(t, mimetype.Detect(data).Is(ClipMimeType))

	clip, err := DecodeClip(data)
	require.NoError(t, err)
	assert.Equal(t, 640, clip.Header.Width)
	assert.Equal(t, 360, clip.Header.Height)
	assert.Len(t, clip.Header.Frames, 60)
	assert.InDelta(t, 2.0, bufferDuration(clip.Audio), 0.01)
}

func TestClip_DecodeCorrupt(t *testing.T) {
	data := testClip(t, time.Second)

	_, err := DecodeClip(data[:12])
	assert.ErrorIs(t, err, ErrCorruptClip)

	_, err = DecodeClip([]byte("not a clip"))
	assert.ErrorIs(t, err, ErrCorruptClip)
}

func TestHandleRegistry_Counts(t *testing.T) {
	r := NewHandleRegistry()
	h := r.Create(domain.NewBlob([]byte{1}, "video/x-dubv"))

	blob, err := r.Resolve(h)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, blob.Data)

	assert.True(t, r.Release(h))
	assert.False(t, r.Release(h))

	_, err = r.Resolve(h)
	assert.ErrorIs(t, err, domain.ErrHandleInvalid)

	created, released := r.Counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, released)
	assert.Equal(t, 0, r.Live())
}

func TestElement_PlaysToEnd(t *testing.T) {
	host, sched := newTestHost(t)
	h := host.Handles().Create(domain.NewBlob(testClip(t, time.Second), ClipMimeType))

	el := host.NewElement()
	meta, err := el.Load(context.Background(), h)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, meta.Duration, 0.001)
	assert.True(t, meta.HasVideo)

	var updates []float64
	ended := 0
	el.OnTimeUpdate(func(s float64) { updates = append(updates, s) })
	el.OnEnded(func() { ended++ })

	require.NoError(t, el.Play(context.Background()))
	sched.Advance(500 * time.Millisecond)
	assert.InDelta(t, 0.5, el.CurrentTime(), 0.001)
	assert.False(t, el.Ended())

	sched.Advance(time.Second)
	assert.True(t, el.Ended())
	assert.True(t, el.Paused())
	assert.Equal(t, 1, ended)
	assert.InDelta(t, 1.0, el.CurrentTime(), 0.001)
	assert.NotEmpty(t, updates)
	assert.Equal(t, 0, sched.Pending())
}

func TestElement_PauseSeek(t *testing.T) {
	host, sched := newTestHost(t)
	h := host.Handles().Create(domain.NewBlob(testClip(t, 2*time.Second), ClipMimeType))
	el := host.NewElement()
	_, err := el.Load(context.Background(), h)
	require.NoError(t, err)

	require.NoError(t, el.Play(context.Background()))
	sched.Advance(750 * time.Millisecond)
	el.Pause()
	sched.Advance(time.Second)
	assert.InDelta(t, 0.75, el.CurrentTime(), 0.001)

	el.Seek(0)
	assert.Equal(t, 0.0, el.CurrentTime())
}

func TestElement_LoadRejectsUnknownContent(t *testing.T) {
	host, _ := newTestHost(t)
	h := host.Handles().Create(domain.NewBlob([]byte("garbage bytes"), "video/mp4"))

	_, err := host.NewElement().Load(context.Background(), h)
	assert.ErrorIs(t, err, domain.ErrUnsupportedMedia)
}

func TestElement_AutoplayBlocked(t *testing.T) {
	host, _ := newTestHost(t)
	h := host.Handles().Create(domain.NewBlob(testClip(t, time.Second), ClipMimeType))
	el := host.NewElement()
	_, err := el.Load(context.Background(), h)
	require.NoError(t, err)

	host.SetAutoplayBlocked(true)
	assert.ErrorIs(t, el.Play(context.Background()), ErrAutoplayBlocked)
	assert.True(t, el.Paused())
}

func TestGetUserMedia_Failures(t *testing.T) {
	host, _ := newTestHost(t)
	ctx := context.Background()

	host.SetPermissionDenied(true)
	_, err := host.GetUserMedia(ctx, ports.UserMediaOptions{Audio: &ports.AudioConstraints{}})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	host.SetPermissionDenied(false)
	host.SetDevices(true, false)
	_, err = host.GetUserMedia(ctx, ports.UserMediaOptions{
		Audio: &ports.AudioConstraints{},
		Video: &ports.VideoConstraints{},
	})
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, 0, host.LiveDeviceTracks())

	_, err = host.GetUserMedia(ctx, ports.UserMediaOptions{Audio: &ports.AudioConstraints{MinSampleRate: 96000}})
	assert.ErrorIs(t, err, ErrOverconstrained)
}

func TestRecorder_AudioOnly(t *testing.T) {
	host, sched := newTestHost(t)
	ctx := context.Background()

	s, err := host.GetUserMedia(ctx, ports.UserMediaOptions{Audio: &ports.AudioConstraints{SampleRate: 48000}})
	require.NoError(t, err)
	assert.Equal(t, 1, host.LiveDeviceTracks())

	rec, err := host.NewRecorder(s, ports.RecorderOptions{MimeType: AudioMimeType})
	require.NoError(t, err)
	assert.Equal(t, AudioMimeType, rec.MimeType())

	var chunks [][]byte
	rec.OnData(func(c []byte) { chunks = append(chunks, c) })
	require.NoError(t, rec.Start())
	sched.Advance(1500 * time.Millisecond)
	require.NoError(t, rec.Stop(ctx))
	s.Stop()
	assert.Equal(t, 0, host.LiveDeviceTracks())

	blob := domain.JoinChunks(chunks, rec.MimeType())
	buf, err := DecodeWAV(blob.Data)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, bufferDuration(buf), 0.01)

	assert.ErrorIs(t, rec.Stop(ctx), ErrRecorderState)
}

func TestRecorder_VideoProducesClip(t *testing.T) {
	host, sched := newTestHost(t)
	ctx := context.Background()

	s, err := host.GetUserMedia(ctx, ports.UserMediaOptions{
		Audio: &ports.AudioConstraints{},
		Video: &ports.VideoConstraints{Width: 1280, Height: 720, FrameRate: 30, MinFrameRate: 24},
	})
	require.NoError(t, err)

	rec, err := host.NewRecorder(s, ports.RecorderOptions{})
	require.NoError(t, err)
	assert.Equal(t, ClipMimeType, rec.MimeType())

	var chunks [][]byte
	rec.OnData(func(c []byte) { chunks = append(chunks, c) })
	require.NoError(t, rec.Start())
	sched.Advance(time.Second)
	require.NoError(t, rec.Stop(ctx))

	clip, err := DecodeClip(domain.JoinChunks(chunks, ClipMimeType).Data)
	require.NoError(t, err)
	assert.Equal(t, 1280, clip.Header.Width)
	assert.Equal(t, 720, clip.Header.Height)
	assert.Len(t, clip.Header.Frames, 30)
}

func TestRecorder_RejectsUnsupportedType(t *testing.T) {
	host, _ := newTestHost(t)
	s, err := host.GetUserMedia(context.Background(), ports.UserMediaOptions{Audio: &ports.AudioConstraints{}})
	require.NoError(t, err)
	defer s.Stop()

	assert.False(t, host.IsTypeSupported("audio/webm;codecs=opus"))
	_, err = host.NewRecorder(s, ports.RecorderOptions{MimeType: "audio/webm;codecs=opus"})
	assert.ErrorIs(t, err, ErrTypeNotSupport)
}

func TestAudioGraph_MixesAtGains(t *testing.T) {
	host, sched := newTestHost(t)
	ctx := context.Background()

	video := host.NewElement()
	_, err := video.Load(ctx, host.Handles().Create(domain.NewBlob(testClip(t, time.Second), ClipMimeType)))
	require.NoError(t, err)

	graph, err := host.NewAudioGraph()
	require.NoError(t, err)
	src, err := graph.ElementSource(video)
	require.NoError(t, err)
	out, err := graph.Destination(graph.Gain(src, 0))
	require.NoError(t, err)

	rec, err := host.NewRecorder(out, ports.RecorderOptions{})
	require.NoError(t, err)
	var chunks [][]byte
	rec.OnData(func(c []byte) { chunks = append(chunks, c) })
	require.NoError(t, rec.Start())
	require.NoError(t, video.Play(ctx))
	sched.Advance(500 * time.Millisecond)
	require.NoError(t, rec.Stop(ctx))

	buf, err := DecodeWAV(domain.JoinChunks(chunks, AudioMimeType).Data)
	require.NoError(t, err)
	samples := make([][2]float64, buf.Len())
	n, _ := buf.Streamer(0, buf.Len()).Stream(samples)
	for _, s := range samples[:n] {
		assert.InDelta(t, 0, s[0], 1e-3)
	}

	require.NoError(t, graph.Close())
	_, err = graph.ElementSource(video)
	assert.ErrorIs(t, err, ErrGraphClosed)
}

func TestSurface_CaptureLimitsFrameRate(t *testing.T) {
	host, sched := newTestHost(t)
	ctx := context.Background()
	el := host.NewElement()
	_, err := el.Load(ctx, host.Handles().Create(domain.NewBlob(testClip(t, time.Second), ClipMimeType)))
	require.NoError(t, err)

	surface, err := host.NewSurface(640, 360)
	require.NoError(t, err)
	rec, err := host.NewRecorder(surface.CaptureStream(30), ports.RecorderOptions{})
	require.NoError(t, err)
	var chunks [][]byte
	rec.OnData(func(c []byte) { chunks = append(chunks, c) })
	require.NoError(t, rec.Start())
	require.NoError(t, el.Play(ctx))

	timer := sched.Every(time.Second/60, func() { _ = surface.DrawFrame(el) })
	sched.Advance(time.Second)
	timer.Stop()
	require.NoError(t, rec.Stop(ctx))

	clip, err := DecodeClip(domain.JoinChunks(chunks, ClipMimeType).Data)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(clip.Header.Frames), 31)
	assert.GreaterOrEqual(t, len(clip.Header.Frames), 29)
}
