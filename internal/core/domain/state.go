package domain

type TakePhase string

const (
	PhaseIdle         TakePhase = "idle"
	PhaseCountingDown TakePhase = "counting_down"
	PhaseRecording    TakePhase = "recording"
	PhaseStopping     TakePhase = "stopping"
	PhaseStopped      TakePhase = "stopped"
	PhaseComplete     TakePhase = "complete"
)

// TakeState is the transient per-round runtime state. It is never persisted.
type TakeState struct {
	Phase          TakePhase     `json:"phase"`
	RoundIndex     int           `json:"round_index"`
	IsCountingDown bool          `json:"is_counting_down"`
	Countdown      int           `json:"countdown"`
	IsPlaying      bool          `json:"is_playing"`
	IsRecording    bool          `json:"is_recording"`
	CurrentTime    float64       `json:"current_time"`
	CanRecord      bool          `json:"can_record"`
	RecordingKind  RecordingKind `json:"recording_kind"`
	LastError      string        `json:"last_error,omitempty"`
}

func NewTakeState(roundIndex int, kind RecordingKind) TakeState {
	if !kind.Valid() {
		kind = RecordingAudioOnly
	}
	return TakeState{
		Phase:         PhaseIdle,
		RoundIndex:    roundIndex,
		CanRecord:     true,
		RecordingKind: kind,
	}
}
