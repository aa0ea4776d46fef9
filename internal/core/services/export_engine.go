package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"
	"dubsync/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var phaseOrder = map[domain.ExportPhase]int{
	domain.ExportPreparing:  1,
	domain.ExportProcessing: 2,
	domain.ExportFinalizing: 3,
	domain.ExportComplete:   4,
}

// progressReporter forwards export progress. Neither the value nor the
// phase ever goes backwards, so a late frame callback cannot report
// processing after finalizing.
type progressReporter struct {
	mu    sync.Mutex
	fn    domain.ProgressFunc
	last  float64
	phase domain.ExportPhase
	log   *zap.SugaredLogger
}

func (p *progressReporter) report(phase domain.ExportPhase, progress float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if phaseOrder[phase] < phaseOrder[p.phase] {
		return
	}
	progress = math.Min(math.Max(progress, p.last), 100)
	p.last = progress
	if phase != p.phase {
		p.log.Debugw("export phase", "phase", phase, "progress", progress)
		p.phase = phase
	}
	if p.fn != nil {
		p.fn(domain.ExportProgress{Phase: phase, Progress: progress})
	}
}

type exportEngine struct {
	host      ports.MediaHost
	scheduler ports.Scheduler
	opts      ExportOptions
	metrics   ports.MetricsService
	logger    *zap.SugaredLogger
}

func NewExportEngine(
	host ports.MediaHost,
	scheduler ports.Scheduler,
	opts ExportOptions,
	metrics ports.MetricsService,
	logger *zap.SugaredLogger,
) ports.ExportEngine {
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = time.Second / 60
	}
	return &exportEngine{
		host:      host,
		scheduler: scheduler,
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
	}
}

// ExportWithDubbing renders the video frame by frame onto a surface while
// mixing its attenuated audio with the dubbing, and stops at the first end
// of media. Callbacks to onProgress are serialized.
func (e *exportEngine) ExportWithDubbing(ctx context.Context, video, dubbing domain.Handle, onProgress domain.ProgressFunc) (res *domain.ExportResult, err error) {
	started := time.Now()
	ctx, span := tracing.TraceExport(ctx, string(video), string(dubbing))
	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: %w", domain.ErrExportFailed, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Errorw("export failed", "video", video, "error", err)
		}
		e.metrics.ExportFinished(time.Since(started).Seconds(), err)
		span.End()
	}()

	progress := &progressReporter{fn: onProgress, log: e.logger}
	progress.report(domain.ExportPreparing, 0)

	videoEl, audioEl := e.host.NewElement(), e.host.NewElement()
	defer videoEl.Close()
	defer audioEl.Close()

	var videoMeta, audioMeta ports.MediaMetadata
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		videoMeta, err = videoEl.Load(gctx, video)
		return err
	})
	g.Go(func() (err error) {
		audioMeta, err = audioEl.Load(gctx, dubbing)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load media: %w", err)
	}
	if videoMeta.Duration <= 0 || audioMeta.Duration <= 0 {
		return nil, domain.ErrUnusableMedia
	}
	if !videoMeta.HasVideo || videoMeta.Width <= 0 || videoMeta.Height <= 0 {
		return nil, fmt.Errorf("%w: source has no video frames", domain.ErrUnsupportedMedia)
	}
	progress.report(domain.ExportPreparing, 25)

	surface, err := e.host.NewSurface(videoMeta.Width, videoMeta.Height)
	if err != nil {
		return nil, fmt.Errorf("surface: %w", err)
	}
	canvas := surface.CaptureStream(e.opts.FPS)

	graph, err := e.host.NewAudioGraph()
	if err != nil {
		return nil, fmt.Errorf("audio graph: %w", err)
	}
	defer graph.Close()

	originalSrc, err := graph.ElementSource(videoEl)
	if err != nil {
		return nil, fmt.Errorf("original source: %w", err)
	}
	dubbingSrc, err := graph.ElementSource(audioEl)
	if err != nil {
		return nil, fmt.Errorf("dubbing source: %w", err)
	}
	mixed, err := graph.Destination(
		graph.Gain(originalSrc, e.opts.OriginalGain),
		graph.Gain(dubbingSrc, e.opts.DubbingGain),
	)
	if err != nil {
		return nil, fmt.Errorf("mix destination: %w", err)
	}

	combined := e.host.NewStream(append(canvas.VideoTracks(), mixed.AudioTracks()...)...)
	defer combined.Stop()
	profile := SelectProfile(e.host.IsTypeSupported, e.opts.Profiles, e.opts.Fallback)
	recorder, err := e.host.NewRecorder(combined, recorderOptions(profile))
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	chunks := &chunkBuffer{}
	recorder.OnData(chunks.append)
	e.metrics.ProfileNegotiated("export", recorder.MimeType())
	span.SetAttributes(attribute.String("export.mime_type", recorder.MimeType()))
	progress.report(domain.ExportPreparing, 50)

	// The original reaches the output only through the attenuated mix.
	videoEl.SetMuted(true)
	if err := recorder.Start(); err != nil {
		return nil, fmt.Errorf("start recorder: %w", err)
	}
	abortRecorder := func() {
		recorder.OnData(nil)
		_ = recorder.Stop(context.Background())
	}

	videoEl.Seek(0)
	audioEl.Seek(0)
	pg, pctx := errgroup.WithContext(ctx)
	pg.Go(func() error { return videoEl.Play(pctx) })
	pg.Go(func() error { return audioEl.Play(pctx) })
	if err := pg.Wait(); err != nil {
		videoEl.Pause()
		audioEl.Pause()
		abortRecorder()
		return nil, fmt.Errorf("%w: %w", domain.ErrPlaybackStartFailed, err)
	}

	var (
		done     = make(chan struct{})
		doneOnce sync.Once
		stopped  atomic.Bool
		drawErr  atomic.Pointer[error]
	)
	finish := func() {
		stopped.Store(true)
		doneOnce.Do(func() { close(done) })
	}
	videoEl.OnEnded(finish)
	audioEl.OnEnded(finish)

	duration := videoMeta.Duration
	frames := e.scheduler.Every(e.opts.FrameInterval, func() {
		if stopped.Load() {
			return
		}
		if videoEl.Ended() || audioEl.Ended() {
			finish()
			return
		}
		if err := surface.DrawFrame(videoEl); err != nil {
			drawErr.Store(&err)
			finish()
			return
		}
		progress.report(domain.ExportProcessing, 60+videoEl.CurrentTime()/duration*30)
	})

	select {
	case <-done:
	case <-ctx.Done():
		finish()
	}
	frames.Stop()
	videoEl.Pause()
	audioEl.Pause()

	if err := ctx.Err(); err != nil {
		abortRecorder()
		return nil, err
	}
	if errp := drawErr.Load(); errp != nil {
		abortRecorder()
		return nil, fmt.Errorf("draw frame: %w", *errp)
	}

	if err := recorder.Stop(ctx); err != nil {
		return nil, fmt.Errorf("stop recorder: %w", err)
	}
	blob := chunks.blob(recorder.MimeType())
	if blob.Empty() {
		return nil, fmt.Errorf("%w: encoder produced no data", domain.ErrEmptyRecording)
	}
	progress.report(domain.ExportFinalizing, 95)

	rendered := math.Min(videoEl.CurrentTime(), audioEl.CurrentTime())
	progress.report(domain.ExportComplete, 100)
	e.logger.Infow("export complete",
		"mime_type", blob.Type,
		"bytes", blob.Size(),
		"duration", rendered,
		"frames", surfaceDraws(surface))
	return &domain.ExportResult{
		Blob:     blob,
		MimeType: blob.Type,
		Duration: rendered,
	}, nil
}

func surfaceDraws(s ports.Surface) int {
	if c, ok := s.(interface{ Draws() int }); ok {
		return c.Draws()
	}
	return -1
}
