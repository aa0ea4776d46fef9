package domain

import "errors"

var (
	ErrProbeFailed          = errors.New("media probe failed")
	ErrCaptureUnavailable   = errors.New("capture unavailable")
	ErrCaptureActive        = errors.New("capture already active")
	ErrNotCapturing         = errors.New("capture not active")
	ErrEmptyRecording       = errors.New("recording produced no audio")
	ErrInsufficientLibrary  = errors.New("insufficient library")
	ErrPersistenceFailed    = errors.New("persistence failed")
	ErrQuotaExceeded        = errors.New("storage quota exceeded")
	ErrExportFailed         = errors.New("export failed")
	ErrPlaybackStartFailed  = errors.New("playback start failed")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrTakeCancelled        = errors.New("take cancelled")
	ErrNoSession            = errors.New("no active session")
	ErrSessionCompleted     = errors.New("session already completed")
	ErrVideoNotFound        = errors.New("video not found")
	ErrRoundNotFound        = errors.New("round not found")
	ErrRoundNotCompleted    = errors.New("round not completed")
	ErrUnsupportedMedia     = errors.New("unsupported media")
	ErrUnusableMedia        = errors.New("media duration unknown")
	ErrInvalidMode          = errors.New("invalid game mode")
	ErrInvalidRecordingKind = errors.New("invalid recording kind")
	ErrHandleInvalid        = errors.New("invalid media handle")
)

var ErrKeyNotFound = errors.New("key not found")
