package domain

import (
	"fmt"
	"time"
)

type SessionID string
type RoundID string

type GameMode string

const (
	ModeMeme    GameMode = "meme"
	ModeSerious GameMode = "serious"
)

func ParseGameMode(s string) (GameMode, error) {
	switch GameMode(s) {
	case ModeMeme, ModeSerious:
		return GameMode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

type GameRound struct {
	ID        RoundID
	Video     *Video
	Recording *Recording
	Completed bool

	// Unrestored is set on a round restored from persisted state whose
	// video recording was not persisted.
	Unrestored bool
}

type GameSession struct {
	ID                SessionID
	Mode              GameMode
	Rounds            []*GameRound
	CurrentRoundIndex int
	Completed         bool
	CreatedAt         time.Time
}

func (s *GameSession) CurrentRound() *GameRound {
	if s == nil || s.CurrentRoundIndex < 0 || s.CurrentRoundIndex >= len(s.Rounds) {
		return nil
	}
	return s.Rounds[s.CurrentRoundIndex]
}

func (s *GameSession) IsLastRound() bool {
	return s != nil && s.CurrentRoundIndex == len(s.Rounds)-1
}

func (s *GameSession) Round(index int) (*GameRound, error) {
	if s == nil {
		return nil, ErrNoSession
	}
	if index < 0 || index >= len(s.Rounds) {
		return nil, fmt.Errorf("%w: index %d", ErrRoundNotFound, index)
	}
	return s.Rounds[index], nil
}

// Attach binds rec to the round at index and marks it completed. The
// previously attached recording, if any, is returned so its handles can be
// released by the owner.
func (s *GameSession) Attach(index int, rec *Recording) (*Recording, error) {
	round, err := s.Round(index)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: nil recording", ErrInvalidTransition)
	}
	prev := round.Recording
	rec.RoundID = round.ID
	round.Recording = rec
	round.Completed = true
	round.Unrestored = false
	return prev, nil
}

// Advance moves forward one round, or completes the session when the
// current round is the last one.
func (s *GameSession) Advance() error {
	if s == nil {
		return ErrNoSession
	}
	if s.Completed {
		return ErrSessionCompleted
	}
	round := s.CurrentRound()
	if round == nil || !round.Completed {
		return ErrRoundNotCompleted
	}
	if s.IsLastRound() {
		s.Completed = true
		return nil
	}
	s.CurrentRoundIndex++
	return nil
}

func (s *GameSession) CompletedRounds() []*GameRound {
	if s == nil {
		return nil
	}
	var out []*GameRound
	for _, r := range s.Rounds {
		if r.Completed {
			out = append(out, r)
		}
	}
	return out
}

// Handles lists the handles owned by the session's recordings.
func (s *GameSession) Handles() []Handle {
	if s == nil {
		return nil
	}
	var hs []Handle
	for _, r := range s.Rounds {
		hs = append(hs, r.Recording.Handles()...)
	}
	return hs
}

// Clone deep-copies the session structure. Blobs are shared, they are
// never mutated after creation.
func (s *GameSession) Clone() *GameSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Rounds = make([]*GameRound, len(s.Rounds))
	for i, r := range s.Rounds {
		rc := *r
		rc.Video = r.Video.Clone()
		rc.Recording = r.Recording.Clone()
		c.Rounds[i] = &rc
	}
	return &c
}
