package virtual

import (
	"sync"
	"time"

	"dubsync/internal/core/ports"

	"github.com/google/uuid"
	"github.com/gopxl/beep/v2"
)

// audioTap captures audio from the moment it was opened. finish renders
// exactly the audio heard between open and end.
type audioTap interface {
	finish(end time.Time) (beep.Streamer, beep.Format)
}

type audioSource interface {
	ports.MediaTrack
	openAudio(start time.Time) audioTap
}

// videoCapture holds the frames captured by a video tap. Frames are source
// timestamps in seconds.
type videoCapture struct {
	frames []float64
	width  int
	height int
	fps    int
}

type videoTap interface {
	finish(end time.Time) videoCapture
}

type videoSource interface {
	ports.MediaTrack
	openVideo(start time.Time) videoTap
}

type track struct {
	id     string
	kind   ports.TrackKind
	onStop func()

	mu   sync.Mutex
	live bool
}

func newTrack(kind ports.TrackKind, onStop func()) *track {
	return &track{id: uuid.NewString(), kind: kind, live: true, onStop: onStop}
}

func (t *track) ID() string            { return t.id }
func (t *track) Kind() ports.TrackKind { return t.kind }

func (t *track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *track) Stop() {
	t.mu.Lock()
	wasLive := t.live
	t.live = false
	t.mu.Unlock()
	if wasLive && t.onStop != nil {
		t.onStop()
	}
}

type stream struct {
	tracks []ports.MediaTrack
}

func newStream(tracks ...ports.MediaTrack) *stream {
	return &stream{tracks: tracks}
}

func (s *stream) Tracks() []ports.MediaTrack {
	return append([]ports.MediaTrack(nil), s.tracks...)
}

func (s *stream) AudioTracks() []ports.MediaTrack {
	return s.byKind(ports.TrackAudio)
}

func (s *stream) VideoTracks() []ports.MediaTrack {
	return s.byKind(ports.TrackVideo)
}

func (s *stream) byKind(kind ports.TrackKind) []ports.MediaTrack {
	var out []ports.MediaTrack
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

func (s *stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}
