package services

import (
	"time"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"
	"dubsync/pkg/config"
)

// CaptureOptions configures device constraints and encoder negotiation.
type CaptureOptions struct {
	AudioProfiles []domain.FormatProfile
	VideoProfiles []domain.FormatProfile
	FallbackAudio domain.FormatProfile
	FallbackVideo domain.FormatProfile
	Audio         ports.AudioConstraints
	Video         ports.VideoConstraints
}

const defaultCountdownTick = time.Second

type RoundOptions struct {
	CountdownSeconds int
	CountdownTick    time.Duration
	// TimeUpdateRate bounds time-update publications per second.
	TimeUpdateRate float64
}

type ExportOptions struct {
	FPS           int
	FrameInterval time.Duration
	OriginalGain  float64
	DubbingGain   float64
	Profiles      []domain.FormatProfile
	Fallback      domain.FormatProfile
}

type StoreOptions struct {
	RoundsPerSession int
	MinLibrary       int
}

func CaptureOptionsFromConfig(cfg *config.Config) CaptureOptions {
	c := cfg.Capture
	return CaptureOptions{
		AudioProfiles: c.AudioProfiles,
		VideoProfiles: c.VideoProfiles,
		FallbackAudio: domain.FormatProfile{AudioBitsPerSecond: c.FallbackAudioBitsPerSecond},
		FallbackVideo: domain.FormatProfile{
			AudioBitsPerSecond: c.FallbackAudioBitsPerSecond,
			VideoBitsPerSecond: c.FallbackVideoBitsPerSecond,
		},
		Audio: ports.AudioConstraints{
			EchoCancellation: c.Audio.EchoCancellation,
			NoiseSuppression: c.Audio.NoiseSuppression,
			AutoGainControl:  c.Audio.AutoGainControl,
			SampleRate:       c.Audio.SampleRate,
			MinSampleRate:    c.Audio.MinSampleRate,
			SampleSize:       c.Audio.SampleSize,
			MaxSampleSize:    c.Audio.MaxSampleSize,
			LowLatency:       c.Audio.LowLatency,
		},
		Video: ports.VideoConstraints{
			Width:        c.Video.Width,
			Height:       c.Video.Height,
			FrameRate:    c.Video.FrameRate,
			MinFrameRate: c.Video.MinFrameRate,
		},
	}
}

func RoundOptionsFromConfig(cfg *config.Config) RoundOptions {
	return RoundOptions{
		CountdownSeconds: cfg.Game.CountdownSeconds,
		CountdownTick:    cfg.Game.CountdownTick,
		TimeUpdateRate:   cfg.Game.TimeUpdateRate,
	}
}

func ExportOptionsFromConfig(cfg *config.Config) ExportOptions {
	e := cfg.Export
	return ExportOptions{
		FPS:           e.FPS,
		FrameInterval: e.FrameInterval,
		OriginalGain:  e.OriginalGain,
		DubbingGain:   e.DubbingGain,
		Profiles:      e.Profiles,
		Fallback: domain.FormatProfile{
			AudioBitsPerSecond: e.AudioBitsPerSecond,
			VideoBitsPerSecond: e.VideoBitsPerSecond,
		},
	}
}

func StoreOptionsFromConfig(cfg *config.Config) StoreOptions {
	return StoreOptions{
		RoundsPerSession: cfg.Game.RoundsPerSession,
		MinLibrary:       cfg.Game.MinLibrary,
	}
}

// SelectProfile returns the first candidate the host can encode, or the
// fallback (host default container, bitrates only) when none matches.
func SelectProfile(supported func(mimeType string) bool, candidates []domain.FormatProfile, fallback domain.FormatProfile) domain.FormatProfile {
	for _, p := range candidates {
		if p.MimeType != "" && supported(p.MimeType) {
			return p
		}
	}
	fallback.MimeType = ""
	return fallback
}
