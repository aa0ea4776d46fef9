package domain

// CaptureResult holds the materials produced by one finished capture.
// Video is nil for RecordingAudioOnly.
type CaptureResult struct {
	Kind         RecordingKind
	Audio        *Blob
	Video        *Blob
	AudioProfile FormatProfile
	VideoProfile FormatProfile
	Duration     float64
}
