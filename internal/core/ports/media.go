package ports

import (
	"context"

	"dubsync/internal/core/domain"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

type MediaTrack interface {
	ID() string
	Kind() TrackKind
	// Stop releases the underlying device. Stopping twice is a no-op.
	Stop()
	Live() bool
}

type MediaStream interface {
	Tracks() []MediaTrack
	AudioTracks() []MediaTrack
	VideoTracks() []MediaTrack
	// Stop stops every track of the stream.
	Stop()
}

type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	MinSampleRate    int
	SampleSize       int
	MaxSampleSize    int
	LowLatency       bool
}

type VideoConstraints struct {
	Width        int
	Height       int
	FrameRate    int
	MinFrameRate int
}

// UserMediaOptions mirrors a device capture request. A nil section is not
// requested.
type UserMediaOptions struct {
	Audio *AudioConstraints
	Video *VideoConstraints
}

type MediaMetadata struct {
	Duration float64
	Width    int
	Height   int
	HasVideo bool
	HasAudio bool
}

// MediaElement is a playback element bound to a single handle.
type MediaElement interface {
	Load(ctx context.Context, handle domain.Handle) (MediaMetadata, error)
	Play(ctx context.Context) error
	Pause()
	Seek(seconds float64)
	CurrentTime() float64
	Duration() float64
	Paused() bool
	Ended() bool
	SetMuted(muted bool)
	Muted() bool
	OnTimeUpdate(fn func(seconds float64))
	OnEnded(fn func())
	Close()
}

type RecorderOptions struct {
	MimeType           string
	AudioBitsPerSecond int
	VideoBitsPerSecond int
}

// Recorder encodes a stream into chunks delivered through OnData. Stop
// flushes the final chunks before returning.
type Recorder interface {
	Start() error
	Stop(ctx context.Context) error
	MimeType() string
	OnData(fn func(chunk []byte))
}

// Surface is a drawing target whose content can be captured as a video track.
type Surface interface {
	Width() int
	Height() int
	DrawFrame(el MediaElement) error
	CaptureStream(fps int) MediaStream
}

type AudioNode interface{}

type AudioGraph interface {
	ElementSource(el MediaElement) (AudioNode, error)
	Gain(src AudioNode, value float64) AudioNode
	Destination(nodes ...AudioNode) (MediaStream, error)
	Close() error
}

type HandleRegistry interface {
	Create(blob *domain.Blob) domain.Handle
	// Release reports false when the handle is unknown or already released.
	Release(h domain.Handle) bool
	Resolve(h domain.Handle) (*domain.Blob, error)
	Live() int
}

type MediaHost interface {
	Handles() HandleRegistry
	NewElement() MediaElement
	GetUserMedia(ctx context.Context, opts UserMediaOptions) (MediaStream, error)
	IsTypeSupported(mimeType string) bool
	NewStream(tracks ...MediaTrack) MediaStream
	NewRecorder(stream MediaStream, opts RecorderOptions) (Recorder, error)
	NewSurface(width, height int) (Surface, error)
	NewAudioGraph() (AudioGraph, error)
}
