package virtual

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"

	"github.com/gopxl/beep/v2"
)

var (
	ErrRecorderState  = errors.New("recorder in wrong state")
	ErrTypeNotSupport = errors.New("mime type not supported")
)

type recorderState int

const (
	recorderInactive recorderState = iota
	recorderRecording
	recorderStopped
)

// Recorder encodes audio-only streams as WAV and streams with video as
// clips.
type Recorder struct {
	host     *Host
	stream   ports.MediaStream
	mimeType string
	hasVideo bool

	mu        sync.Mutex
	state     recorderState
	start     time.Time
	audioTaps []audioTap
	videoTaps []videoTap
	onData    func([]byte)
}

func (h *Host) NewRecorder(s ports.MediaStream, opts ports.RecorderOptions) (ports.Recorder, error) {
	if s == nil || len(s.Tracks()) == 0 {
		return nil, fmt.Errorf("%w: empty stream", ErrRecorderState)
	}
	if opts.MimeType != "" && !h.IsTypeSupported(opts.MimeType) {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotSupport, opts.MimeType)
	}

	hasVideo := len(s.VideoTracks()) > 0
	family := "audio"
	mimeType := AudioMimeType
	if hasVideo {
		family = "video"
		mimeType = ClipMimeType
	}
	if opts.MimeType != "" && domain.MimeFamily(opts.MimeType) == family {
		mimeType = opts.MimeType
	}
	return &Recorder{host: h, stream: s, mimeType: mimeType, hasVideo: hasVideo}, nil
}

func (r *Recorder) MimeType() string {
	return r.mimeType
}

func (r *Recorder) OnData(fn func(chunk []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onData = fn
}

func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != recorderInactive {
		return ErrRecorderState
	}

	now := r.host.scheduler.Now()
	for _, t := range r.stream.Tracks() {
		if !t.Live() {
			return fmt.Errorf("%w: track %s ended", ErrRecorderState, t.ID())
		}
		switch src := t.(type) {
		case audioSource:
			r.audioTaps = append(r.audioTaps, src.openAudio(now))
		case videoSource:
			r.videoTaps = append(r.videoTaps, src.openVideo(now))
		default:
			return fmt.Errorf("%w: foreign track %s", ErrRecorderState, t.ID())
		}
	}
	r.start = now
	r.state = recorderRecording
	return nil
}

func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != recorderRecording {
		r.mu.Unlock()
		return ErrRecorderState
	}
	r.state = recorderStopped
	end := r.host.scheduler.Now()
	start := r.start
	audioTaps, videoTaps := r.audioTaps, r.videoTaps
	onData := r.onData
	r.mu.Unlock()

	data, err := r.encode(start, end, audioTaps, videoTaps)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if onData == nil {
		return nil
	}
	for off := 0; off < len(data); off += r.host.opts.ChunkSize {
		n := off + r.host.opts.ChunkSize
		if n > len(data) {
			n = len(data)
		}
		onData(data[off:n])
	}
	return nil
}

func (r *Recorder) encode(start, end time.Time, audioTaps []audioTap, videoTaps []videoTap) ([]byte, error) {
	d := end.Sub(start)
	if d < 0 {
		d = 0
	}
	rate := r.host.opts.MixSampleRate
	format := beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2}
	n := rate.N(d)

	var parts []beep.Streamer
	for _, tap := range audioTaps {
		s, f := tap.finish(end)
		if f.SampleRate != rate {
			s = beep.Resample(4, f.SampleRate, rate, s)
		}
		if f.Precision > format.Precision {
			format.Precision = f.Precision
		}
		parts = append(parts, s)
	}
	audio := beep.Take(n, beep.Seq(beep.Mix(parts...), beep.Silence(-1)))

	if !r.hasVideo {
		return EncodeWAV(audio, format)
	}

	var vc videoCapture
	if len(videoTaps) > 0 {
		vc = videoTaps[0].finish(end)
	}
	header := ClipHeader{
		Width:    vc.width,
		Height:   vc.height,
		FPS:      vc.fps,
		Duration: d.Seconds(),
		Frames:   vc.frames,
	}
	return EncodeClip(header, audio, format)
}
