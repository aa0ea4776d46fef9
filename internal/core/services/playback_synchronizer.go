package services

import (
	"context"
	"fmt"
	"sync"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const noActivePair = -1

// playbackSynchronizer replays (video, dubbing) pairs for review with at
// most one pair playing at a time.
type playbackSynchronizer struct {
	pairs   []ports.ReviewPair
	metrics ports.MetricsService
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	active int
	gen    uint64
}

// NewPlaybackSynchronizer takes ownership of the pair elements; Close
// releases them.
func NewPlaybackSynchronizer(pairs []ports.ReviewPair, metrics ports.MetricsService, logger *zap.SugaredLogger) ports.PlaybackSynchronizer {
	s := &playbackSynchronizer{
		pairs:   pairs,
		metrics: metrics,
		logger:  logger,
		active:  noActivePair,
	}
	for i := range pairs {
		pairs[i].Video.OnEnded(func() { s.onVideoEnded(i) })
	}
	return s
}

// BuildReviewPairs loads one element pair per completed round. Rounds
// without a playable video or dubbing are skipped.
func BuildReviewPairs(ctx context.Context, host ports.MediaHost, rounds []*domain.GameRound) ([]ports.ReviewPair, error) {
	var pairs []ports.ReviewPair
	closeAll := func() {
		for _, p := range pairs {
			p.Video.Close()
			p.Audio.Close()
		}
	}

	for i, r := range rounds {
		if !r.Completed || r.Recording == nil || !r.Video.Playable() || r.Recording.Audio.Handle == "" {
			continue
		}
		pair := ports.ReviewPair{RoundIndex: i, Video: host.NewElement(), Audio: host.NewElement()}
		pairs = append(pairs, pair)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			_, err := pair.Video.Load(gctx, r.Video.Handle)
			return err
		})
		g.Go(func() error {
			_, err := pair.Audio.Load(gctx, r.Recording.Audio.Handle)
			return err
		})
		if err := g.Wait(); err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to load review pair for round %d: %w", i, err)
		}
	}
	return pairs, nil
}

func (s *playbackSynchronizer) Toggle(ctx context.Context, index int) error {
	if index < 0 || index >= len(s.pairs) {
		return fmt.Errorf("%w: review pair %d", domain.ErrRoundNotFound, index)
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	if s.active == index {
		pair := s.pairs[index]
		pair.Video.Pause()
		pair.Audio.Pause()
		s.active = noActivePair
		s.mu.Unlock()
		s.metrics.ActivePlayback(false)
		return nil
	}

	for i, p := range s.pairs {
		p.Video.Pause()
		p.Audio.Pause()
		if i != index {
			p.Video.Seek(0)
			p.Audio.Seek(0)
		}
	}
	target := s.pairs[index]
	target.Video.Seek(0)
	target.Audio.Seek(0)
	s.active = noActivePair
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return target.Video.Play(gctx) })
	g.Go(func() error { return target.Audio.Play(gctx) })
	if err := g.Wait(); err != nil {
		target.Video.Pause()
		target.Audio.Pause()
		target.Video.Seek(0)
		target.Audio.Seek(0)
		s.metrics.ActivePlayback(false)
		s.logger.Warnw("review playback failed to start", "round_index", target.RoundIndex, "error", err)
		return fmt.Errorf("%w: %w", domain.ErrPlaybackStartFailed, err)
	}

	s.mu.Lock()
	if gen != s.gen {
		// Another toggle or stop won the race.
		s.mu.Unlock()
		return nil
	}
	s.active = index
	s.mu.Unlock()
	s.metrics.ActivePlayback(true)
	return nil
}

func (s *playbackSynchronizer) onVideoEnded(index int) {
	s.mu.Lock()
	if s.active != index {
		s.mu.Unlock()
		return
	}
	s.active = noActivePair
	s.gen++
	s.pairs[index].Audio.Pause()
	s.mu.Unlock()
	s.metrics.ActivePlayback(false)
}

func (s *playbackSynchronizer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetOriginalMuted mutes the source videos so only the dubbing is heard.
func (s *playbackSynchronizer) SetOriginalMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pairs {
		p.Video.SetMuted(muted)
	}
}

func (s *playbackSynchronizer) StopAll() {
	s.mu.Lock()
	s.gen++
	for _, p := range s.pairs {
		p.Video.Pause()
		p.Audio.Pause()
		p.Video.Seek(0)
		p.Audio.Seek(0)
	}
	s.active = noActivePair
	s.mu.Unlock()
	s.metrics.ActivePlayback(false)
}

func (s *playbackSynchronizer) Close() {
	s.StopAll()
	for _, p := range s.pairs {
		p.Video.Close()
		p.Audio.Close()
	}
}
