package virtual

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gopxl/beep/v2"
)

var (
	ErrNotLoaded       = errors.New("element has no source")
	ErrAutoplayBlocked = errors.New("play request blocked by host")
	ErrElementClosed   = errors.New("element closed")
)

// Element is a playback element driven by the host scheduler. Current time
// is derived from the scheduler clock, periodic ticks only publish time
// updates and detect the end of media.
type Element struct {
	host *Host

	mu       sync.Mutex
	handle   domain.Handle
	meta     ports.MediaMetadata
	clip     *ClipHeader
	audio    *beep.Buffer
	position float64
	anchor   time.Time
	playing  bool
	ended    bool
	muted    bool
	closed   bool
	ticker   ports.Timer
	onTime   func(float64)
	onEnded  func()
}

func (e *Element) Load(ctx context.Context, handle domain.Handle) (ports.MediaMetadata, error) {
	if err := ctx.Err(); err != nil {
		return ports.MediaMetadata{}, err
	}
	blob, err := e.host.handles.Resolve(handle)
	if err != nil {
		return ports.MediaMetadata{}, err
	}

	var (
		meta  ports.MediaMetadata
		clip  *ClipHeader
		audio *beep.Buffer
	)
	mt := mimetype.Detect(blob.Data)
	switch {
	case mt.Is(ClipMimeType):
		c, err := DecodeClip(blob.Data)
		if err != nil {
			return ports.MediaMetadata{}, err
		}
		clip, audio = &c.Header, c.Audio
		meta = ports.MediaMetadata{
			Duration: c.Header.Duration,
			Width:    c.Header.Width,
			Height:   c.Header.Height,
			HasVideo: true,
			HasAudio: audio.Len() > 0,
		}
	case mt.Is(AudioMimeType):
		audio, err = DecodeWAV(blob.Data)
		if err != nil {
			return ports.MediaMetadata{}, err
		}
		meta = ports.MediaMetadata{Duration: bufferDuration(audio), HasAudio: true}
	default:
		return ports.MediaMetadata{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedMedia, mt.String())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ports.MediaMetadata{}, ErrElementClosed
	}
	e.stopTickerLocked()
	e.handle = handle
	e.meta = meta
	e.clip = clip
	e.audio = audio
	e.position = 0
	e.playing = false
	e.ended = false
	return meta, nil
}

func (e *Element) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.host.autoplayBlocked() {
		return ErrAutoplayBlocked
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrElementClosed
	}
	if e.handle == "" {
		return ErrNotLoaded
	}
	if e.playing {
		return nil
	}
	if e.ended || e.position >= e.meta.Duration {
		e.position = 0
	}
	e.ended = false
	e.playing = true
	e.anchor = e.host.scheduler.Now()
	e.ticker = e.host.scheduler.Every(e.host.opts.TimeUpdateInterval, e.tick)
	return nil
}

func (e *Element) tick() {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return
	}
	ct := e.currentTimeLocked()
	onTime := e.onTime
	var onEnded func()
	if ct >= e.meta.Duration {
		e.position = e.meta.Duration
		e.playing = false
		e.ended = true
		e.stopTickerLocked()
		onEnded = e.onEnded
	}
	e.mu.Unlock()

	if onTime != nil {
		onTime(ct)
	}
	if onEnded != nil {
		onEnded()
	}
}

func (e *Element) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playing {
		return
	}
	e.position = e.currentTimeLocked()
	e.playing = false
	e.stopTickerLocked()
}

func (e *Element) Seek(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}
	if e.meta.Duration > 0 && seconds > e.meta.Duration {
		seconds = e.meta.Duration
	}
	e.position = seconds
	e.anchor = e.host.scheduler.Now()
	e.ended = false
}

func (e *Element) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTimeLocked()
}

func (e *Element) currentTimeLocked() float64 {
	if !e.playing {
		return e.position
	}
	ct := e.position + e.host.scheduler.Now().Sub(e.anchor).Seconds()
	if ct > e.meta.Duration {
		ct = e.meta.Duration
	}
	return ct
}

func (e *Element) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meta.Duration
}

func (e *Element) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.playing
}

func (e *Element) Ended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ended
}

func (e *Element) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
}

func (e *Element) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

func (e *Element) OnTimeUpdate(fn func(seconds float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTime = fn
}

func (e *Element) OnEnded(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = fn
}

func (e *Element) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTickerLocked()
	e.closed = true
	e.playing = false
	e.onTime = nil
	e.onEnded = nil
}

func (e *Element) stopTickerLocked() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
}

// frameAt returns the source timestamp of the frame shown at the current
// playback position.
func (e *Element) frameAt() (float64, int, int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clip == nil {
		return 0, 0, 0, false
	}
	ct := e.currentTimeLocked()
	ts := 0.0
	for _, f := range e.clip.Frames {
		if f > ct {
			break
		}
		ts = f
	}
	return ts, e.clip.Width, e.clip.Height, true
}

// audioFrom returns the decoded audio and the current playback position.
func (e *Element) audioFrom() (*beep.Buffer, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.audio, e.currentTimeLocked()
}
