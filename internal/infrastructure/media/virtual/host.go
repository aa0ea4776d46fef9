// Package virtual is an in-process media host. It plays clips on a
// scheduler-driven clock, records from synthetic devices and renders audio
// with beep.
package virtual

import (
	"strings"
	"sync"
	"time"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"

	"github.com/gopxl/beep/v2"
)

type Options struct {
	SupportedTypes     []string
	TimeUpdateInterval time.Duration
	MixSampleRate      beep.SampleRate
	MicMaxSampleRate   int
	MicToneHz          float64
	CameraMaxWidth     int
	CameraMaxHeight    int
	CameraMaxFPS       int
	ChunkSize          int
}

func DefaultOptions() Options {
	return Options{
		SupportedTypes:     []string{AudioMimeType, ClipMimeType},
		TimeUpdateInterval: 250 * time.Millisecond,
		MixSampleRate:      48000,
		MicMaxSampleRate:   48000,
		MicToneHz:          440,
		CameraMaxWidth:     1920,
		CameraMaxHeight:    1080,
		CameraMaxFPS:       30,
		ChunkSize:          64 * 1024,
	}
}

type Host struct {
	opts      Options
	scheduler ports.Scheduler
	handles   *HandleRegistry

	mu               sync.Mutex
	permissionDenied bool
	hasMic           bool
	hasCamera        bool
	blockAutoplay    bool
	liveDevices      int
}

func NewHost(scheduler ports.Scheduler, opts Options) *Host {
	def := DefaultOptions()
	if len(opts.SupportedTypes) == 0 {
		opts.SupportedTypes = def.SupportedTypes
	}
	if opts.TimeUpdateInterval <= 0 {
		opts.TimeUpdateInterval = def.TimeUpdateInterval
	}
	if opts.MixSampleRate == 0 {
		opts.MixSampleRate = def.MixSampleRate
	}
	if opts.MicMaxSampleRate == 0 {
		opts.MicMaxSampleRate = def.MicMaxSampleRate
	}
	if opts.MicToneHz == 0 {
		opts.MicToneHz = def.MicToneHz
	}
	if opts.CameraMaxWidth == 0 {
		opts.CameraMaxWidth = def.CameraMaxWidth
	}
	if opts.CameraMaxHeight == 0 {
		opts.CameraMaxHeight = def.CameraMaxHeight
	}
	if opts.CameraMaxFPS == 0 {
		opts.CameraMaxFPS = def.CameraMaxFPS
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	return &Host{
		opts:      opts,
		scheduler: scheduler,
		handles:   NewHandleRegistry(),
		hasMic:    true,
		hasCamera: true,
	}
}

func (h *Host) Handles() ports.HandleRegistry {
	return h.handles
}

// Registry exposes the concrete registry for handle accounting.
func (h *Host) Registry() *HandleRegistry {
	return h.handles
}

func (h *Host) NewElement() ports.MediaElement {
	return &Element{host: h}
}

func (h *Host) NewStream(tracks ...ports.MediaTrack) ports.MediaStream {
	return newStream(tracks...)
}

// IsTypeSupported matches the full type, or the base type when neither side
// names codecs.
func (h *Host) IsTypeSupported(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		return false
	}
	for _, t := range h.opts.SupportedTypes {
		t = strings.ToLower(t)
		if t == mimeType {
			return true
		}
		if !strings.Contains(t, ";") && !strings.Contains(mimeType, ";") && t == domain.BaseMime(mimeType) {
			return true
		}
	}
	return false
}

func (h *Host) SetPermissionDenied(denied bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.permissionDenied = denied
}

func (h *Host) SetDevices(mic, camera bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hasMic, h.hasCamera = mic, camera
}

func (h *Host) SetAutoplayBlocked(blocked bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blockAutoplay = blocked
}

func (h *Host) autoplayBlocked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blockAutoplay
}

// LiveDeviceTracks counts microphone and camera tracks not yet stopped.
func (h *Host) LiveDeviceTracks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.liveDevices
}

func (h *Host) deviceOpened() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveDevices++
}

func (h *Host) deviceClosed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveDevices--
}

var _ ports.MediaHost = (*Host)(nil)
