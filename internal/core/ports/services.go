package ports

import (
	"context"

	"dubsync/internal/core/domain"
)

type MediaProbe interface {
	// ProbeDuration returns the intrinsic duration in seconds, or 0 when the
	// content cannot be loaded. It never fails.
	ProbeDuration(ctx context.Context, blob *domain.Blob) float64
}

type CaptureSession interface {
	Start(ctx context.Context, kind domain.RecordingKind) error
	Stop(ctx context.Context) (*domain.CaptureResult, error)
	// Abort stops any in-flight capture and discards its data.
	Abort()
	Active() bool
}

type CaptureFactory func() CaptureSession

type SessionEvent string

const (
	SessionCreated  SessionEvent = "session_created"
	SessionReplaced SessionEvent = "session_replaced"
	SessionReset    SessionEvent = "session_reset"
	RoundAdvanced   SessionEvent = "round_advanced"
	RoundRecorded   SessionEvent = "round_recorded"
	LibraryChanged  SessionEvent = "library_changed"
)

type GameSessionStore interface {
	AddVideo(ctx context.Context, name string, blob *domain.Blob) (*domain.Video, error)
	ReattachVideo(ctx context.Context, id domain.VideoID, blob *domain.Blob) (*domain.Video, error)
	DeleteVideo(ctx context.Context, id domain.VideoID) error
	Library() []*domain.Video
	VideoByID(id domain.VideoID) (*domain.Video, error)

	CreateSession(ctx context.Context, mode domain.GameMode) (*domain.GameSession, error)
	CurrentSession() (*domain.GameSession, error)
	CurrentRound() (*domain.GameRound, error)
	IsLastRound() bool
	CompletedRounds() []*domain.GameRound
	SetRecording(ctx context.Context, roundIndex int, rec *domain.Recording) error
	// SetRecordingIf attaches rec only while current reports true. current
	// runs under the store lock, so the check and the attach are atomic.
	SetRecordingIf(ctx context.Context, roundIndex int, rec *domain.Recording, current func() bool) error
	Advance(ctx context.Context) (*domain.GameSession, error)

	Restore(ctx context.Context) error
	ResetAll(ctx context.Context)
	Watch(fn func(SessionEvent, *domain.GameSession)) (cancel func())
}

type RoundStateMachine interface {
	State() domain.TakeState
	SetRecordingKind(kind domain.RecordingKind) error
	StartTake(ctx context.Context) error
	StopTake(ctx context.Context) error
	Restart(ctx context.Context) error
	RestartRound(ctx context.Context)
	Advance(ctx context.Context) error
	Subscribe(fn func(domain.TakeState)) (unsubscribe func())
	Close()
}

type ReviewPair struct {
	RoundIndex int
	Video      MediaElement
	Audio      MediaElement
}

type PlaybackSynchronizer interface {
	Toggle(ctx context.Context, index int) error
	Active() int
	SetOriginalMuted(muted bool)
	StopAll()
	Close()
}

type ExportEngine interface {
	ExportWithDubbing(ctx context.Context, video, dubbing domain.Handle, onProgress domain.ProgressFunc) (*domain.ExportResult, error)
}

type ImportFile struct {
	Name     string
	MimeType string
	Content  []byte
}

type ImportFailure struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type ImportReport struct {
	Imported []*domain.Video `json:"imported"`
	Failed   []ImportFailure `json:"failed"`
}

type Importer interface {
	ImportBatch(ctx context.Context, files []ImportFile) ImportReport
}

type MetricsService interface {
	TakeStarted()
	TakeCompleted(kind domain.RecordingKind, seconds float64)
	TakeCancelled()
	TakeFailed(reason string)
	ProfileNegotiated(component, mimeType string)
	ExportFinished(seconds float64, err error)
	PersistenceSkipped(reason string)
	ActivePlayback(active bool)
	LibrarySize(total, valid int)
	HandlesLive(n int)
}
