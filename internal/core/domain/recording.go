package domain

import (
	"fmt"
	"time"
)

type RecordingID string

type RecordingKind string

const (
	RecordingAudioOnly  RecordingKind = "audio"
	RecordingVideoAudio RecordingKind = "video"
)

func (k RecordingKind) Valid() bool {
	return k == RecordingAudioOnly || k == RecordingVideoAudio
}

func ParseRecordingKind(s string) (RecordingKind, error) {
	k := RecordingKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecordingKind, s)
	}
	return k, nil
}

// Artifact is a recorded blob together with its playable handle.
type Artifact struct {
	Blob   *Blob
	Handle Handle
}

// Recording is a tagged union over RecordingKind. The video artifact is
// only reachable through VideoArtifact and only exists for RecordingVideoAudio;
// the audio artifact is always a standalone audio blob.
type Recording struct {
	ID        RecordingID
	RoundID   RoundID
	Kind      RecordingKind
	Audio     Artifact
	CreatedAt time.Time

	video *Artifact
}

func NewAudioRecording(id RecordingID, round RoundID, audio Artifact, at time.Time) (*Recording, error) {
	if audio.Blob.Empty() {
		return nil, ErrEmptyRecording
	}
	return &Recording{ID: id, RoundID: round, Kind: RecordingAudioOnly, Audio: audio, CreatedAt: at}, nil
}

func NewVideoRecording(id RecordingID, round RoundID, audio, video Artifact, at time.Time) (*Recording, error) {
	if audio.Blob.Empty() {
		return nil, ErrEmptyRecording
	}
	if video.Blob.Empty() {
		return nil, fmt.Errorf("%w: missing video artifact", ErrEmptyRecording)
	}
	if audio.Blob == video.Blob {
		return nil, fmt.Errorf("%w: audio artifact must be demuxed", ErrInvalidRecordingKind)
	}
	v := video
	return &Recording{ID: id, RoundID: round, Kind: RecordingVideoAudio, Audio: audio, CreatedAt: at, video: &v}, nil
}

func (r *Recording) VideoArtifact() (Artifact, bool) {
	if r == nil || r.video == nil {
		return Artifact{}, false
	}
	return *r.video, true
}

// Handles lists every playable handle owned by the recording.
func (r *Recording) Handles() []Handle {
	if r == nil {
		return nil
	}
	var hs []Handle
	if r.Audio.Handle != "" {
		hs = append(hs, r.Audio.Handle)
	}
	if r.video != nil && r.video.Handle != "" {
		hs = append(hs, r.video.Handle)
	}
	return hs
}

func (r *Recording) Clone() *Recording {
	if r == nil {
		return nil
	}
	c := *r
	if r.video != nil {
		v := *r.video
		c.video = &v
	}
	return &c
}
