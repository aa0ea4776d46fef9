package virtual

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/generators"
	"github.com/gopxl/beep/v2/wav"
)

const (
	ClipMimeType  = "video/x-dubv"
	AudioMimeType = "audio/wav"

	clipMagic   = "DUBV"
	clipVersion = 1
)

func init() {
	mimetype.Lookup("application/octet-stream").Extend(isClip, ClipMimeType, ".dubv")
}

func isClip(raw []byte, _ uint32) bool {
	return bytes.HasPrefix(raw, []byte(clipMagic))
}

var ErrCorruptClip = errors.New("corrupt clip container")

// ClipHeader describes the video part of a clip. Frames holds the source
// timestamp, in seconds, of every encoded frame.
type ClipHeader struct {
	Version  int       `json:"version"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	FPS      int       `json:"fps"`
	Duration float64   `json:"duration"`
	Frames   []float64 `json:"frames"`
}

// Clip is a decoded clip: video header plus PCM audio.
type Clip struct {
	Header ClipHeader
	Audio  *beep.Buffer
}

// EncodeClip writes the container: magic, big-endian header length, JSON
// header, then a WAV payload.
func EncodeClip(header ClipHeader, audio beep.Streamer, format beep.Format) ([]byte, error) {
	header.Version = clipVersion
	hdr, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to encode clip header: %w", err)
	}
	pcm, err := EncodeWAV(audio, format)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(clipMagic)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(hdr)))
	buf.Write(hdr)
	buf.Write(pcm)
	return buf.Bytes(), nil
}

func DecodeClip(data []byte) (*Clip, error) {
	if !isClip(data, 0) || len(data) < len(clipMagic)+4 {
		return nil, ErrCorruptClip
	}
	n := binary.BigEndian.Uint32(data[len(clipMagic):])
	start := len(clipMagic) + 4
	if uint64(start)+uint64(n) > uint64(len(data)) {
		return nil, ErrCorruptClip
	}

	var header ClipHeader
	if err := json.Unmarshal(data[start:start+int(n)], &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptClip, err)
	}
	if header.Version != clipVersion || header.Width <= 0 || header.Height <= 0 {
		return nil, ErrCorruptClip
	}

	audio, err := DecodeWAV(data[start+int(n):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptClip, err)
	}
	return &Clip{Header: header, Audio: audio}, nil
}

// EncodeWAV drains s into a WAV file.
func EncodeWAV(s beep.Streamer, format beep.Format) ([]byte, error) {
	w := &writeSeeker{}
	if err := wav.Encode(w, s, format); err != nil {
		return nil, fmt.Errorf("failed to encode wav: %w", err)
	}
	return w.buf, nil
}

// DecodeWAV fully decodes a WAV file into memory.
func DecodeWAV(data []byte) (*beep.Buffer, error) {
	s, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode wav: %w", err)
	}
	defer s.Close()

	buf := beep.NewBuffer(format)
	buf.Append(s)
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to decode wav: %w", err)
	}
	return buf, nil
}

func bufferDuration(b *beep.Buffer) float64 {
	if b == nil || b.Format().SampleRate == 0 {
		return 0
	}
	return b.Format().SampleRate.D(b.Len()).Seconds()
}

// ClipSpec describes a synthetic clip.
type ClipSpec struct {
	Width      int
	Height     int
	FPS        int
	Duration   time.Duration
	ToneHz     float64
	SampleRate beep.SampleRate
}

// SynthesizeClip renders a clip with evenly spaced frames and a sine tone
// soundtrack.
func SynthesizeClip(spec ClipSpec) ([]byte, error) {
	if spec.FPS <= 0 {
		spec.FPS = 30
	}
	if spec.SampleRate == 0 {
		spec.SampleRate = 44100
	}
	if spec.ToneHz == 0 {
		spec.ToneHz = 220
	}

	frames := int(spec.Duration.Seconds() * float64(spec.FPS))
	header := ClipHeader{
		Width:    spec.Width,
		Height:   spec.Height,
		FPS:      spec.FPS,
		Duration: spec.Duration.Seconds(),
		Frames:   make([]float64, frames),
	}
	for i := range header.Frames {
		header.Frames[i] = float64(i) / float64(spec.FPS)
	}

	format := beep.Format{SampleRate: spec.SampleRate, NumChannels: 2, Precision: 2}
	tone, err := toneStreamer(format.SampleRate, spec.ToneHz, spec.Duration, 0.5)
	if err != nil {
		return nil, err
	}
	return EncodeClip(header, tone, format)
}

// SynthesizeAudio renders a WAV sine tone.
func SynthesizeAudio(d time.Duration, toneHz float64, sr beep.SampleRate) ([]byte, error) {
	format := beep.Format{SampleRate: sr, NumChannels: 2, Precision: 2}
	tone, err := toneStreamer(sr, toneHz, d, 0.5)
	if err != nil {
		return nil, err
	}
	return EncodeWAV(tone, format)
}

func toneStreamer(sr beep.SampleRate, hz float64, d time.Duration, level float64) (beep.Streamer, error) {
	sine, err := generators.SineTone(sr, hz)
	if err != nil {
		return nil, fmt.Errorf("failed to build tone: %w", err)
	}
	return beep.Take(sr.N(d), &effects.Gain{Streamer: sine, Gain: level - 1}), nil
}

// writeSeeker is the in-memory io.WriteSeeker wav.Encode needs.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(w.pos) + offset
	case io.SeekEnd:
		next = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	w.pos = int(next)
	return next, nil
}
