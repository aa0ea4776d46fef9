package virtual

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"dubsync/internal/core/ports"
)

var ErrNoVideo = errors.New("element has no video")

type drawnFrame struct {
	at        time.Time
	timestamp float64
}

// Surface records every frame drawn onto it. A capture stream samples the
// draws at no more than its frame rate.
type Surface struct {
	host   *Host
	width  int
	height int

	mu    sync.Mutex
	draws []drawnFrame
}

func (h *Host) NewSurface(width, height int) (ports.Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid surface size %dx%d", width, height)
	}
	return &Surface{host: h, width: width, height: height}, nil
}

func (s *Surface) Width() int  { return s.width }
func (s *Surface) Height() int { return s.height }

func (s *Surface) DrawFrame(el ports.MediaElement) error {
	e, ok := el.(*Element)
	if !ok {
		return fmt.Errorf("foreign element %T", el)
	}
	ts, _, _, ok := e.frameAt()
	if !ok {
		return ErrNoVideo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draws = append(s.draws, drawnFrame{at: s.host.scheduler.Now(), timestamp: ts})
	return nil
}

// Draws returns the number of frames drawn so far.
func (s *Surface) Draws() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.draws)
}

func (s *Surface) CaptureStream(fps int) ports.MediaStream {
	if fps <= 0 {
		fps = 30
	}
	return newStream(&surfaceTrack{track: newTrack(ports.TrackVideo, nil), surface: s, fps: fps})
}

type surfaceTrack struct {
	*track
	surface *Surface
	fps     int
}

func (t *surfaceTrack) openVideo(start time.Time) videoTap {
	t.surface.mu.Lock()
	defer t.surface.mu.Unlock()
	return &surfaceTap{track: t, from: len(t.surface.draws)}
}

type surfaceTap struct {
	track *surfaceTrack
	from  int
}

func (t *surfaceTap) finish(end time.Time) videoCapture {
	s := t.track.surface
	s.mu.Lock()
	defer s.mu.Unlock()

	// one millisecond of slack absorbs timer rounding
	minGap := time.Second/time.Duration(t.track.fps) - time.Millisecond
	var (
		frames []float64
		last   time.Time
	)
	for i, d := range s.draws[t.from:] {
		if d.at.After(end) {
			break
		}
		if i > 0 && d.at.Sub(last) < minGap {
			continue
		}
		frames = append(frames, d.timestamp)
		last = d.at
	}
	return videoCapture{frames: frames, width: s.width, height: s.height, fps: t.track.fps}
}
