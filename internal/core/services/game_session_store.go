package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"
	"dubsync/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type gameSessionStore struct {
	host      ports.MediaHost
	probe     ports.MediaProbe
	persister ports.StatePersister
	scheduler ports.Scheduler
	opts      StoreOptions
	metrics   ports.MetricsService
	logger    *zap.SugaredLogger
	shuffle   func(n int, swap func(i, j int))

	mu      sync.RWMutex
	library []*domain.Video
	session *domain.GameSession

	// persistMu is taken while mu is still held so snapshots are written in
	// mutation order.
	persistMu sync.Mutex

	watchMu     sync.Mutex
	watchers    map[int]func(ports.SessionEvent, *domain.GameSession)
	nextWatcher int
}

// NewGameSessionStore creates the process-wide store. persister may be nil,
// in which case nothing is persisted.
func NewGameSessionStore(
	host ports.MediaHost,
	probe ports.MediaProbe,
	persister ports.StatePersister,
	scheduler ports.Scheduler,
	opts StoreOptions,
	metrics ports.MetricsService,
	logger *zap.SugaredLogger,
) ports.GameSessionStore {
	if opts.RoundsPerSession <= 0 {
		opts.RoundsPerSession = 3
	}
	if opts.MinLibrary < opts.RoundsPerSession {
		opts.MinLibrary = opts.RoundsPerSession
	}
	return &gameSessionStore{
		host:      host,
		probe:     probe,
		persister: persister,
		scheduler: scheduler,
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
		shuffle:   rand.Shuffle,
		watchers:  make(map[int]func(ports.SessionEvent, *domain.GameSession)),
	}
}

func (s *gameSessionStore) AddVideo(ctx context.Context, name string, blob *domain.Blob) (*domain.Video, error) {
	if blob.Empty() {
		return nil, fmt.Errorf("%w: empty content for %q", domain.ErrUnsupportedMedia, name)
	}

	// A failed probe stores duration 0: the video is imported but not
	// eligible for play.
	duration := s.probe.ProbeDuration(ctx, blob)
	video := &domain.Video{
		ID:           domain.VideoID(uuid.NewString()),
		Name:         name,
		Duration:     duration,
		Size:         blob.Size(),
		MimeType:     blob.Type,
		ImportedAt:   s.scheduler.Now(),
		HasValidFile: true,
		Content:      blob,
		Handle:       s.host.Handles().Create(blob),
	}

	s.mu.Lock()
	s.library = append(s.library, video)
	out := video.Clone()
	s.commitLibraryLocked(ctx)

	if duration == 0 {
		s.logger.Warnw("video imported with unknown duration", "video_id", video.ID, "name", name)
	} else {
		s.logger.Infow("video imported", "video_id", video.ID, "name", name, "duration", duration)
	}
	s.notify(ports.LibraryChanged, nil)
	return out, nil
}

func (s *gameSessionStore) ReattachVideo(ctx context.Context, id domain.VideoID, blob *domain.Blob) (*domain.Video, error) {
	if blob.Empty() {
		return nil, fmt.Errorf("%w: empty content", domain.ErrUnsupportedMedia)
	}
	if _, err := s.VideoByID(id); err != nil {
		return nil, err
	}

	duration := s.probe.ProbeDuration(ctx, blob)

	s.mu.Lock()
	video := s.findLocked(id)
	if video == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrVideoNotFound, id)
	}
	if video.Handle != "" {
		s.host.Handles().Release(video.Handle)
	}
	video.Content = blob
	video.Handle = s.host.Handles().Create(blob)
	video.HasValidFile = true
	video.Duration = duration
	video.Size = blob.Size()
	video.MimeType = blob.Type

	// Rounds hold copies of the video; refresh them so a restored session
	// becomes playable again.
	if s.session != nil {
		for _, r := range s.session.Rounds {
			if r.Video != nil && r.Video.ID == id {
				r.Video = video.Clone()
			}
		}
	}
	out := video.Clone()
	session := s.session.Clone()
	s.commitLibraryLocked(ctx)

	s.logger.Infow("video content reattached", "video_id", id, "duration", duration)
	s.notify(ports.LibraryChanged, session)
	return out, nil
}

func (s *gameSessionStore) DeleteVideo(ctx context.Context, id domain.VideoID) error {
	s.mu.Lock()
	idx := -1
	for i, v := range s.library {
		if v.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrVideoNotFound, id)
	}
	video := s.library[idx]
	s.library = append(s.library[:idx:idx], s.library[idx+1:]...)
	if video.Handle != "" {
		s.host.Handles().Release(video.Handle)
		video.Handle = ""
		video.HasValidFile = false
	}
	s.commitLibraryLocked(ctx)

	s.logger.Infow("video deleted", "video_id", id)
	s.notify(ports.LibraryChanged, nil)
	return nil
}

func (s *gameSessionStore) Library() []*domain.Video {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Video, len(s.library))
	for i, v := range s.library {
		out[i] = v.Clone()
	}
	return out
}

func (s *gameSessionStore) VideoByID(id domain.VideoID) (*domain.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v := s.findLocked(id); v != nil {
		return v.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrVideoNotFound, id)
}

func (s *gameSessionStore) findLocked(id domain.VideoID) *domain.Video {
	for _, v := range s.library {
		if v.ID == id {
			return v
		}
	}
	return nil
}

func (s *gameSessionStore) CreateSession(ctx context.Context, mode domain.GameMode) (*domain.GameSession, error) {
	if _, err := domain.ParseGameMode(string(mode)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	var eligible []*domain.Video
	for _, v := range s.library {
		if v.Eligible() {
			eligible = append(eligible, v)
		}
	}
	if len(eligible) < s.opts.MinLibrary {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d of %d valid videos", domain.ErrInsufficientLibrary, len(eligible), s.opts.MinLibrary)
	}

	s.shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })
	session := &domain.GameSession{
		ID:        domain.SessionID(uuid.NewString()),
		Mode:      mode,
		Rounds:    make([]*domain.GameRound, s.opts.RoundsPerSession),
		CreatedAt: s.scheduler.Now(),
	}
	for i := range session.Rounds {
		session.Rounds[i] = &domain.GameRound{
			ID:    domain.RoundID(uuid.NewString()),
			Video: eligible[i].Clone(),
		}
	}

	event := ports.SessionCreated
	if prev := s.session; prev != nil {
		s.releaseLocked(prev.Handles())
		event = ports.SessionReplaced
	}
	s.session = session
	out := session.Clone()
	s.commitSessionLocked(ctx)

	_, span := tracing.TraceSession(ctx, "create", string(session.ID))
	span.End()
	s.logger.Infow("session created", "session_id", session.ID, "mode", mode, "replaced", event == ports.SessionReplaced)
	s.notify(event, out.Clone())
	return out, nil
}

func (s *gameSessionStore) CurrentSession() (*domain.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, domain.ErrNoSession
	}
	return s.session.Clone(), nil
}

func (s *gameSessionStore) CurrentRound() (*domain.GameRound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, domain.ErrNoSession
	}
	round := s.session.Clone().CurrentRound()
	if round == nil {
		return nil, domain.ErrRoundNotFound
	}
	return round, nil
}

func (s *gameSessionStore) IsLastRound() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.IsLastRound()
}

func (s *gameSessionStore) CompletedRounds() []*domain.GameRound {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Clone().CompletedRounds()
}

// SetRecording binds rec to a round, replacing and releasing any previous
// recording of that round.
func (s *gameSessionStore) SetRecording(ctx context.Context, roundIndex int, rec *domain.Recording) error {
	return s.SetRecordingIf(ctx, roundIndex, rec, nil)
}

func (s *gameSessionStore) SetRecordingIf(ctx context.Context, roundIndex int, rec *domain.Recording, current func() bool) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return domain.ErrNoSession
	}
	if current != nil && !current() {
		s.mu.Unlock()
		return domain.ErrTakeCancelled
	}
	prev, err := s.session.Attach(roundIndex, rec)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if prev != nil && prev != rec {
		s.releaseLocked(prev.Handles())
	}
	session := s.session.Clone()
	s.commitSessionLocked(ctx)

	s.logger.Infow("round recorded", "session_id", session.ID, "round_index", roundIndex, "kind", rec.Kind)
	s.notify(ports.RoundRecorded, session)
	return nil
}

func (s *gameSessionStore) Advance(ctx context.Context) (*domain.GameSession, error) {
	s.mu.Lock()
	if err := s.session.Advance(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	session := s.session.Clone()
	s.commitSessionLocked(ctx)

	s.logger.Infow("round advanced", "session_id", session.ID, "round_index", session.CurrentRoundIndex, "completed", session.Completed)
	s.notify(ports.RoundAdvanced, session.Clone())
	return session, nil
}

// Restore replaces the in-memory state with the persisted one. Videos come
// back as placeholders, audio recordings get fresh handles.
func (s *gameSessionStore) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	videos, err := s.persister.LoadLibrary(ctx)
	if err != nil {
		s.metrics.PersistenceSkipped("restore")
		return err
	}
	session, err := s.persister.LoadSession(ctx)
	if err != nil {
		s.metrics.PersistenceSkipped("restore")
		return err
	}

	s.mu.Lock()
	s.releaseAllLocked()
	s.library = make([]*domain.Video, len(videos))
	for i := range videos {
		v := videos[i]
		v.HasValidFile = false
		v.Handle = ""
		v.Content = nil
		s.library[i] = &v
	}
	if session != nil {
		for _, r := range session.Rounds {
			if r.Recording != nil && r.Recording.Audio.Blob != nil {
				r.Recording.Audio.Handle = s.host.Handles().Create(r.Recording.Audio.Blob)
			}
		}
	}
	s.session = session
	out := s.session.Clone()
	s.reportLibraryLocked()
	s.mu.Unlock()

	s.logger.Infow("state restored", "videos", len(videos), "session", session != nil)
	s.notify(ports.LibraryChanged, out)
	return nil
}

func (s *gameSessionStore) ResetAll(ctx context.Context) {
	s.mu.Lock()
	s.releaseAllLocked()
	s.library = nil
	s.session = nil
	s.reportLibraryLocked()
	s.persistMu.Lock()
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Clear(ctx); err != nil {
			s.persistenceSkipped("clear", err)
		}
	}
	s.persistMu.Unlock()

	s.logger.Infow("store reset")
	s.notify(ports.SessionReset, nil)
}

func (s *gameSessionStore) Watch(fn func(ports.SessionEvent, *domain.GameSession)) func() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn
	return func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		delete(s.watchers, id)
	}
}

func (s *gameSessionStore) notify(event ports.SessionEvent, session *domain.GameSession) {
	s.watchMu.Lock()
	fns := make([]func(ports.SessionEvent, *domain.GameSession), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	for _, fn := range fns {
		fn(event, session.Clone())
	}
}

func (s *gameSessionStore) releaseLocked(handles []domain.Handle) {
	for _, h := range handles {
		if h != "" {
			s.host.Handles().Release(h)
		}
	}
}

func (s *gameSessionStore) releaseAllLocked() {
	for _, v := range s.library {
		if v.Handle != "" {
			s.host.Handles().Release(v.Handle)
			v.Handle = ""
		}
	}
	s.releaseLocked(s.session.Handles())
}

func (s *gameSessionStore) reportLibraryLocked() {
	valid := 0
	for _, v := range s.library {
		if v.Eligible() {
			valid++
		}
	}
	s.metrics.LibrarySize(len(s.library), valid)
	s.metrics.HandlesLive(s.host.Handles().Live())
}

// commitLibraryLocked unlocks mu and writes the library snapshot.
func (s *gameSessionStore) commitLibraryLocked(ctx context.Context) {
	s.reportLibraryLocked()
	snapshot := make([]domain.Video, len(s.library))
	for i, v := range s.library {
		snapshot[i] = v.Metadata()
	}
	s.persistMu.Lock()
	s.mu.Unlock()
	defer s.persistMu.Unlock()

	if s.persister == nil {
		return
	}
	if err := s.persister.SaveLibrary(ctx, snapshot); err != nil {
		s.persistenceSkipped("library", err)
	}
}

// commitSessionLocked unlocks mu and writes the session snapshot.
func (s *gameSessionStore) commitSessionLocked(ctx context.Context) {
	s.metrics.HandlesLive(s.host.Handles().Live())
	snapshot := s.session.Clone()
	s.persistMu.Lock()
	s.mu.Unlock()
	defer s.persistMu.Unlock()

	if s.persister == nil {
		return
	}
	if err := s.persister.SaveSession(ctx, snapshot); err != nil {
		s.persistenceSkipped("session", err)
	}
}

func (s *gameSessionStore) persistenceSkipped(what string, err error) {
	reason := "error"
	if errors.Is(err, domain.ErrQuotaExceeded) {
		reason = "quota"
	}
	s.metrics.PersistenceSkipped(reason)
	s.logger.Warnw("persistence skipped", "target", what, "reason", reason, "error", err)
}
