package http

import (
	"time"

	"dubsync/internal/core/domain"
)

type recordingView struct {
	ID        domain.RecordingID   `json:"id"`
	Kind      domain.RecordingKind `json:"kind"`
	MimeType  string               `json:"mime_type"`
	Size      int64                `json:"size"`
	HasVideo  bool                 `json:"has_video"`
	CreatedAt time.Time            `json:"created_at"`
}

type roundView struct {
	Index      int            `json:"index"`
	ID         domain.RoundID `json:"id"`
	Video      *domain.Video  `json:"video"`
	Completed  bool           `json:"completed"`
	Unrestored bool           `json:"unrestored,omitempty"`
	Recording  *recordingView `json:"recording,omitempty"`
}

type sessionView struct {
	ID                domain.SessionID `json:"id"`
	Mode              domain.GameMode  `json:"mode"`
	CurrentRoundIndex int              `json:"current_round_index"`
	IsLastRound       bool             `json:"is_last_round"`
	Completed         bool             `json:"completed"`
	CreatedAt         time.Time        `json:"created_at"`
	Rounds            []roundView      `json:"rounds"`
}

func newSessionView(s *domain.GameSession) *sessionView {
	if s == nil {
		return nil
	}
	v := &sessionView{
		ID:                s.ID,
		Mode:              s.Mode,
		CurrentRoundIndex: s.CurrentRoundIndex,
		IsLastRound:       s.IsLastRound(),
		Completed:         s.Completed,
		CreatedAt:         s.CreatedAt,
		Rounds:            make([]roundView, 0, len(s.Rounds)),
	}
	for i, r := range s.Rounds {
		rv := roundView{
			Index:      i,
			ID:         r.ID,
			Video:      r.Video,
			Completed:  r.Completed,
			Unrestored: r.Unrestored,
		}
		if rec := r.Recording; rec != nil {
			_, hasVideo := rec.VideoArtifact()
			rv.Recording = &recordingView{
				ID:        rec.ID,
				Kind:      rec.Kind,
				Size:      rec.Audio.Blob.Size(),
				HasVideo:  hasVideo,
				CreatedAt: rec.CreatedAt,
			}
			if rec.Audio.Blob != nil {
				rv.Recording.MimeType = rec.Audio.Blob.Type
			}
		}
		v.Rounds = append(v.Rounds, rv)
	}
	return v
}
