package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"
	"dubsync/pkg/tracing"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chunkBuffer accumulates encoded chunks delivered by a recorder.
type chunkBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (b *chunkBuffer) append(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, append([]byte(nil), chunk...))
}

func (b *chunkBuffer) blob(mimeType string) *domain.Blob {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.JoinChunks(b.chunks, mimeType)
}

type captureRun struct {
	kind      domain.RecordingKind
	stream    ports.MediaStream
	main      ports.Recorder
	mainBuf   *chunkBuffer
	mainProf  domain.FormatProfile
	audio     ports.Recorder
	audioBuf  *chunkBuffer
	audioProf domain.FormatProfile
	startedAt time.Time
}

// stopRecorders stops every recorder and always releases the device tracks.
func (r *captureRun) stopRecorders(ctx context.Context) error {
	defer r.stream.Stop()

	var errs []error
	if err := r.main.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if r.audio != nil {
		if err := r.audio.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type captureSession struct {
	host      ports.MediaHost
	scheduler ports.Scheduler
	opts      CaptureOptions
	metrics   ports.MetricsService
	logger    *zap.SugaredLogger

	mu  sync.Mutex
	run *captureRun
}

func NewCaptureSession(
	host ports.MediaHost,
	scheduler ports.Scheduler,
	opts CaptureOptions,
	metrics ports.MetricsService,
	logger *zap.SugaredLogger,
) ports.CaptureSession {
	return &captureSession{
		host:      host,
		scheduler: scheduler,
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
	}
}

// NewCaptureFactory returns a factory producing independent capture sessions
// sharing the same host and options.
func NewCaptureFactory(
	host ports.MediaHost,
	scheduler ports.Scheduler,
	opts CaptureOptions,
	metrics ports.MetricsService,
	logger *zap.SugaredLogger,
) ports.CaptureFactory {
	return func() ports.CaptureSession {
		return NewCaptureSession(host, scheduler, opts, metrics, logger)
	}
}

func (c *captureSession) userMediaOptions(kind domain.RecordingKind) ports.UserMediaOptions {
	audio := c.opts.Audio
	opts := ports.UserMediaOptions{Audio: &audio}
	if kind == domain.RecordingVideoAudio {
		video := c.opts.Video
		opts.Video = &video
	}
	return opts
}

func recorderOptions(p domain.FormatProfile) ports.RecorderOptions {
	return ports.RecorderOptions{
		MimeType:           p.MimeType,
		AudioBitsPerSecond: p.AudioBitsPerSecond,
		VideoBitsPerSecond: p.VideoBitsPerSecond,
	}
}

func (c *captureSession) Start(ctx context.Context, kind domain.RecordingKind) (err error) {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidRecordingKind, kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil {
		return domain.ErrCaptureActive
	}

	ctx, span := tracing.TraceCapture(ctx, "start", string(kind))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	stream, err := c.host.GetUserMedia(ctx, c.userMediaOptions(kind))
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCaptureUnavailable, err)
	}

	run := &captureRun{kind: kind, stream: stream, mainBuf: &chunkBuffer{}}
	release := func() {
		for _, r := range []ports.Recorder{run.main, run.audio} {
			if r != nil {
				r.OnData(nil)
				_ = r.Stop(context.Background())
			}
		}
		stream.Stop()
	}

	candidates, fallback := c.opts.AudioProfiles, c.opts.FallbackAudio
	if kind == domain.RecordingVideoAudio {
		candidates, fallback = c.opts.VideoProfiles, c.opts.FallbackVideo
	}
	run.mainProf = SelectProfile(c.host.IsTypeSupported, candidates, fallback)
	run.main, err = c.host.NewRecorder(stream, recorderOptions(run.mainProf))
	if err != nil {
		release()
		return fmt.Errorf("%w: recorder: %w", domain.ErrCaptureUnavailable, err)
	}
	run.main.OnData(run.mainBuf.append)

	// Video takes also record the microphone alone so the round always
	// carries a standalone audio artifact.
	if kind == domain.RecordingVideoAudio {
		audioTracks := stream.AudioTracks()
		if len(audioTracks) == 0 {
			release()
			return fmt.Errorf("%w: stream has no audio track", domain.ErrCaptureUnavailable)
		}
		run.audioBuf = &chunkBuffer{}
		run.audioProf = SelectProfile(c.host.IsTypeSupported, c.opts.AudioProfiles, c.opts.FallbackAudio)
		run.audio, err = c.host.NewRecorder(c.host.NewStream(audioTracks...), recorderOptions(run.audioProf))
		if err != nil {
			release()
			return fmt.Errorf("%w: audio recorder: %w", domain.ErrCaptureUnavailable, err)
		}
		run.audio.OnData(run.audioBuf.append)
	}

	if err := run.main.Start(); err != nil {
		release()
		return fmt.Errorf("%w: start: %w", domain.ErrCaptureUnavailable, err)
	}
	if run.audio != nil {
		if err := run.audio.Start(); err != nil {
			release()
			return fmt.Errorf("%w: start audio: %w", domain.ErrCaptureUnavailable, err)
		}
	}

	run.startedAt = c.scheduler.Now()
	c.run = run

	c.metrics.ProfileNegotiated("capture", run.main.MimeType())
	c.logger.Infow("capture started",
		"kind", kind,
		"mime_type", run.main.MimeType(),
		"audio_bps", run.mainProf.AudioBitsPerSecond,
		"video_bps", run.mainProf.VideoBitsPerSecond)
	return nil
}

func (c *captureSession) Stop(ctx context.Context) (*domain.CaptureResult, error) {
	c.mu.Lock()
	run := c.run
	c.run = nil
	c.mu.Unlock()
	if run == nil {
		return nil, domain.ErrNotCapturing
	}

	ctx, span := tracing.TraceCapture(ctx, "stop", string(run.kind))
	defer span.End()

	if err := run.stopRecorders(ctx); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to finalize capture: %w", err)
	}

	result := &domain.CaptureResult{
		Kind:     run.kind,
		Duration: c.scheduler.Now().Sub(run.startedAt).Seconds(),
	}
	main := run.mainBuf.blob(run.main.MimeType())
	if run.kind == domain.RecordingVideoAudio {
		result.Video = main
		result.VideoProfile = run.mainProf
		result.Audio = run.audioBuf.blob(run.audio.MimeType())
		result.AudioProfile = run.audioProf
		if result.Video.Empty() {
			return nil, fmt.Errorf("%w: no video data", domain.ErrEmptyRecording)
		}
	} else {
		result.Audio = main
		result.AudioProfile = run.mainProf
	}
	if result.Audio.Empty() {
		return nil, domain.ErrEmptyRecording
	}

	c.logger.Infow("capture stopped",
		"kind", run.kind,
		"duration", result.Duration,
		"audio_bytes", result.Audio.Size(),
		"video_bytes", result.Video.Size())
	return result, nil
}

func (c *captureSession) Abort() {
	c.mu.Lock()
	run := c.run
	c.run = nil
	c.mu.Unlock()
	if run == nil {
		return
	}

	run.main.OnData(nil)
	if run.audio != nil {
		run.audio.OnData(nil)
	}
	if err := run.stopRecorders(context.Background()); err != nil {
		c.logger.Debugw("recorder stop during abort", "error", err)
	}
	c.logger.Infow("capture aborted", "kind", run.kind)
}

func (c *captureSession) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}
