package virtual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dubsync/internal/core/ports"

	"github.com/gopxl/beep/v2"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceNotFound   = errors.New("requested device not found")
	ErrOverconstrained  = errors.New("constraints cannot be satisfied")
)

type micTrack struct {
	*track
	format beep.Format
	toneHz float64
	level  float64
}

func (m *micTrack) openAudio(start time.Time) audioTap {
	return &micTap{mic: m, start: start}
}

type micTap struct {
	mic   *micTrack
	start time.Time
}

func (t *micTap) finish(end time.Time) (beep.Streamer, beep.Format) {
	f := t.mic.format
	d := end.Sub(t.start)
	if d < 0 {
		d = 0
	}
	s, err := toneStreamer(f.SampleRate, t.mic.toneHz, d, t.mic.level)
	if err != nil {
		return beep.Silence(f.SampleRate.N(d)), f
	}
	return s, f
}

type cameraTrack struct {
	*track
	width  int
	height int
	fps    int
}

func (c *cameraTrack) openVideo(start time.Time) videoTap {
	return &cameraTap{cam: c, start: start}
}

type cameraTap struct {
	cam   *cameraTrack
	start time.Time
}

func (t *cameraTap) finish(end time.Time) videoCapture {
	d := end.Sub(t.start).Seconds()
	n := int(d * float64(t.cam.fps))
	frames := make([]float64, n)
	for i := range frames {
		frames[i] = float64(i) / float64(t.cam.fps)
	}
	return videoCapture{frames: frames, width: t.cam.width, height: t.cam.height, fps: t.cam.fps}
}

func (h *Host) GetUserMedia(ctx context.Context, opts ports.UserMediaOptions) (ports.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Audio == nil && opts.Video == nil {
		return nil, fmt.Errorf("%w: no media requested", ErrOverconstrained)
	}

	h.mu.Lock()
	denied, hasMic, hasCam := h.permissionDenied, h.hasMic, h.hasCamera
	h.mu.Unlock()

	if denied {
		return nil, ErrPermissionDenied
	}
	if opts.Audio != nil && !hasMic {
		return nil, fmt.Errorf("%w: microphone", ErrDeviceNotFound)
	}
	if opts.Video != nil && !hasCam {
		return nil, fmt.Errorf("%w: camera", ErrDeviceNotFound)
	}

	var tracks []ports.MediaTrack
	if opts.Audio != nil {
		mic, err := h.openMic(*opts.Audio)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, mic)
	}
	if opts.Video != nil {
		cam, err := h.openCamera(*opts.Video)
		if err != nil {
			for _, t := range tracks {
				t.Stop()
			}
			return nil, err
		}
		tracks = append(tracks, cam)
	}
	return newStream(tracks...), nil
}

func (h *Host) openMic(c ports.AudioConstraints) (*micTrack, error) {
	rate := c.SampleRate
	if rate <= 0 || rate > h.opts.MicMaxSampleRate {
		rate = h.opts.MicMaxSampleRate
	}
	if c.MinSampleRate > 0 && rate < c.MinSampleRate {
		return nil, fmt.Errorf("%w: sample rate %d below %d", ErrOverconstrained, rate, c.MinSampleRate)
	}
	precision := 2
	if c.SampleSize >= 24 {
		precision = 3
	}

	h.deviceOpened()
	return &micTrack{
		track:  newTrack(ports.TrackAudio, h.deviceClosed),
		format: beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 2, Precision: precision},
		toneHz: h.opts.MicToneHz,
		level:  0.3,
	}, nil
}

func (h *Host) openCamera(c ports.VideoConstraints) (*cameraTrack, error) {
	if c.MinFrameRate > h.opts.CameraMaxFPS {
		return nil, fmt.Errorf("%w: frame rate %d above %d", ErrOverconstrained, c.MinFrameRate, h.opts.CameraMaxFPS)
	}
	width, height := c.Width, c.Height
	if width <= 0 || width > h.opts.CameraMaxWidth {
		width = h.opts.CameraMaxWidth
	}
	if height <= 0 || height > h.opts.CameraMaxHeight {
		height = h.opts.CameraMaxHeight
	}
	fps := c.FrameRate
	if fps <= 0 || fps > h.opts.CameraMaxFPS {
		fps = h.opts.CameraMaxFPS
	}

	h.deviceOpened()
	return &cameraTrack{
		track:  newTrack(ports.TrackVideo, h.deviceClosed),
		width:  width,
		height: height,
		fps:    fps,
	}, nil
}
