package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// roundStateMachine drives one take of the current round:
// idle -> counting_down -> recording -> stopping -> stopped.
// Every transition that abandons a take bumps epoch; scheduled callbacks
// carry the epoch they were armed with and do nothing once it is stale.
type roundStateMachine struct {
	store      ports.GameSessionStore
	host       ports.MediaHost
	scheduler  ports.Scheduler
	newCapture ports.CaptureFactory
	opts       RoundOptions
	metrics    ports.MetricsService
	logger     *zap.SugaredLogger
	limiter    *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     domain.TakeState
	epoch     uint64
	countdown ports.Timer
	element   ports.MediaElement
	capture   ports.CaptureSession
	closed    bool

	subMu   sync.Mutex
	subs    map[int]func(domain.TakeState)
	nextSub int

	unwatch func()
}

func NewRoundStateMachine(
	store ports.GameSessionStore,
	host ports.MediaHost,
	scheduler ports.Scheduler,
	newCapture ports.CaptureFactory,
	opts RoundOptions,
	metrics ports.MetricsService,
	logger *zap.SugaredLogger,
) ports.RoundStateMachine {
	if opts.CountdownSeconds <= 0 {
		opts.CountdownSeconds = 3
	}
	if opts.CountdownTick <= 0 {
		opts.CountdownTick = defaultCountdownTick
	}
	if opts.TimeUpdateRate <= 0 {
		opts.TimeUpdateRate = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &roundStateMachine{
		store:      store,
		host:       host,
		scheduler:  scheduler,
		newCapture: newCapture,
		opts:       opts,
		metrics:    metrics,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(opts.TimeUpdateRate), 1),
		ctx:        ctx,
		cancel:     cancel,
		element:    host.NewElement(),
		subs:       make(map[int]func(domain.TakeState)),
	}
	m.element.OnTimeUpdate(m.onTimeUpdate)
	m.element.OnEnded(m.onEnded)

	session, _ := store.CurrentSession()
	m.state = initialState(session, domain.RecordingAudioOnly)
	m.unwatch = store.Watch(m.onSessionEvent)
	return m
}

func initialState(session *domain.GameSession, kind domain.RecordingKind) domain.TakeState {
	if session == nil {
		st := domain.NewTakeState(0, kind)
		st.CanRecord = false
		return st
	}
	st := domain.NewTakeState(session.CurrentRoundIndex, kind)
	if session.Completed {
		st.Phase = domain.PhaseComplete
		st.CanRecord = false
	}
	return st
}

func (m *roundStateMachine) State() domain.TakeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *roundStateMachine) SetRecordingKind(kind domain.RecordingKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidRecordingKind, kind)
	}
	m.mu.Lock()
	if m.state.Phase != domain.PhaseIdle {
		phase := m.state.Phase
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot change recording kind while %s", domain.ErrInvalidTransition, phase)
	}
	m.state.RecordingKind = kind
	st := m.state
	m.mu.Unlock()

	m.publish(st)
	return nil
}

func (m *roundStateMachine) StartTake(ctx context.Context) error {
	m.mu.Lock()
	if m.closed || m.state.Phase != domain.PhaseIdle {
		phase := m.state.Phase
		m.mu.Unlock()
		return fmt.Errorf("%w: start take while %s", domain.ErrInvalidTransition, phase)
	}
	m.mu.Unlock()

	session, err := m.store.CurrentSession()
	if err != nil {
		return err
	}
	if session.Completed {
		return domain.ErrSessionCompleted
	}
	round := session.CurrentRound()
	if round == nil || !round.Video.Playable() {
		return fmt.Errorf("%w: round video has no playable content", domain.ErrHandleInvalid)
	}

	meta, err := m.element.Load(ctx, round.Video.Handle)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUnusableMedia, err)
	}
	if meta.Duration <= 0 {
		return domain.ErrUnusableMedia
	}

	m.mu.Lock()
	if m.closed || m.state.Phase != domain.PhaseIdle {
		m.mu.Unlock()
		return fmt.Errorf("%w: take already started", domain.ErrInvalidTransition)
	}
	m.epoch++
	epoch := m.epoch
	m.state.Phase = domain.PhaseCountingDown
	m.state.RoundIndex = session.CurrentRoundIndex
	m.state.IsCountingDown = true
	m.state.Countdown = m.opts.CountdownSeconds
	m.state.IsPlaying = false
	m.state.IsRecording = false
	m.state.CurrentTime = 0
	m.state.CanRecord = false
	m.state.LastError = ""
	m.countdown = m.scheduler.Every(m.opts.CountdownTick, func() { m.tick(epoch) })
	st := m.state
	m.mu.Unlock()

	m.metrics.TakeStarted()
	m.logger.Infow("take countdown started", "session_id", session.ID, "round_index", st.RoundIndex, "kind", st.RecordingKind)
	m.publish(st)
	return nil
}

func (m *roundStateMachine) tick(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.state.Phase != domain.PhaseCountingDown {
		m.mu.Unlock()
		return
	}
	m.state.Countdown--
	if m.state.Countdown > 0 {
		st := m.state
		m.mu.Unlock()
		m.publish(st)
		return
	}

	m.stopCountdownLocked()
	m.state.Phase = domain.PhaseRecording
	m.state.IsCountingDown = false
	m.state.Countdown = 0
	m.state.IsPlaying = true
	m.state.IsRecording = true
	capture := m.newCapture()
	m.capture = capture
	kind := m.state.RecordingKind
	el := m.element
	st := m.state
	m.mu.Unlock()
	m.publish(st)

	// Playback is requested before capture starts.
	el.Seek(0)
	if err := el.Play(m.ctx); err != nil {
		m.failTake(epoch, "playback", fmt.Errorf("%w: %w", domain.ErrPlaybackStartFailed, err))
		return
	}
	if err := capture.Start(m.ctx, kind); err != nil {
		el.Pause()
		el.Seek(0)
		m.failTake(epoch, "capture_unavailable", err)
		return
	}

	m.mu.Lock()
	stale := epoch != m.epoch || m.capture != capture
	m.mu.Unlock()
	if stale {
		capture.Abort()
		return
	}
	m.logger.Infow("take recording", "round_index", st.RoundIndex, "kind", kind)
}

// failTake returns the machine to a retryable idle state after a take
// could not start or finish.
func (m *roundStateMachine) failTake(epoch uint64, reason string, err error) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.epoch++
	m.stopCountdownLocked()
	capture := m.capture
	m.capture = nil
	m.state = m.resetStateLocked()
	m.state.LastError = err.Error()
	st := m.state
	m.mu.Unlock()

	if capture != nil {
		capture.Abort()
	}
	m.metrics.TakeFailed(reason)
	m.logger.Warnw("take failed", "round_index", st.RoundIndex, "reason", reason, "error", err)
	m.publish(st)
}

func (m *roundStateMachine) onTimeUpdate(seconds float64) {
	m.mu.Lock()
	if m.state.Phase != domain.PhaseRecording {
		m.mu.Unlock()
		return
	}
	m.state.CurrentTime = seconds
	st := m.state
	m.mu.Unlock()

	if m.limiter.AllowN(m.scheduler.Now(), 1) {
		m.publish(st)
	}
}

func (m *roundStateMachine) onEnded() {
	m.mu.Lock()
	epoch, phase := m.epoch, m.state.Phase
	m.mu.Unlock()
	if phase != domain.PhaseRecording {
		return
	}
	if err := m.finalize(m.ctx, epoch); err != nil && !errors.Is(err, domain.ErrTakeCancelled) {
		m.logger.Errorw("take finalize on media end failed", "error", err)
	}
}

func (m *roundStateMachine) StopTake(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Phase != domain.PhaseRecording {
		phase := m.state.Phase
		m.mu.Unlock()
		return fmt.Errorf("%w: stop take while %s", domain.ErrInvalidTransition, phase)
	}
	epoch := m.epoch
	m.mu.Unlock()
	return m.finalize(ctx, epoch)
}

// finalize is shared by an explicit stop and the natural end of media.
func (m *roundStateMachine) finalize(ctx context.Context, epoch uint64) error {
	m.mu.Lock()
	if epoch != m.epoch || m.state.Phase != domain.PhaseRecording {
		m.mu.Unlock()
		return fmt.Errorf("%w: no take in progress", domain.ErrInvalidTransition)
	}
	m.state.Phase = domain.PhaseStopping
	m.state.IsPlaying = false
	m.state.IsRecording = false
	capture := m.capture
	m.capture = nil
	roundIndex := m.state.RoundIndex
	el := m.element
	st := m.state
	m.mu.Unlock()
	m.publish(st)

	el.Pause()
	if capture == nil {
		err := fmt.Errorf("%w: capture missing", domain.ErrNotCapturing)
		m.failTake(epoch, "finalize", err)
		return err
	}
	result, err := capture.Stop(ctx)
	if err != nil {
		m.failTake(epoch, "finalize", err)
		return err
	}

	rec, err := m.buildRecording(result)
	if err != nil {
		m.failTake(epoch, "finalize", err)
		return err
	}

	// A restart bumps the epoch; checking it under the store lock keeps a
	// cancelled take from being attached.
	err = m.store.SetRecordingIf(ctx, roundIndex, rec, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return epoch == m.epoch
	})
	if errors.Is(err, domain.ErrTakeCancelled) {
		m.releaseRecording(rec)
		return err
	}
	if err != nil {
		m.releaseRecording(rec)
		m.failTake(epoch, "store", err)
		return err
	}

	m.mu.Lock()
	if epoch == m.epoch {
		m.state.Phase = domain.PhaseStopped
		m.state.CurrentTime = el.CurrentTime()
	}
	st = m.state
	m.mu.Unlock()

	m.metrics.TakeCompleted(result.Kind, result.Duration)
	m.logger.Infow("take completed", "round_index", roundIndex, "kind", result.Kind, "duration", result.Duration)
	m.publish(st)
	return nil
}

func (m *roundStateMachine) buildRecording(result *domain.CaptureResult) (*domain.Recording, error) {
	handles := m.host.Handles()
	id := domain.RecordingID(uuid.NewString())
	now := m.scheduler.Now()

	audio := domain.Artifact{Blob: result.Audio, Handle: handles.Create(result.Audio)}
	if result.Kind != domain.RecordingVideoAudio {
		rec, err := domain.NewAudioRecording(id, "", audio, now)
		if err != nil {
			handles.Release(audio.Handle)
		}
		return rec, err
	}

	video := domain.Artifact{Blob: result.Video, Handle: handles.Create(result.Video)}
	rec, err := domain.NewVideoRecording(id, "", audio, video, now)
	if err != nil {
		handles.Release(audio.Handle)
		handles.Release(video.Handle)
	}
	return rec, err
}

func (m *roundStateMachine) releaseRecording(rec *domain.Recording) {
	for _, h := range rec.Handles() {
		m.host.Handles().Release(h)
	}
}

// Restart abandons the finished take and re-arms the same round. The round
// keeps its recording until a new take overwrites it.
func (m *roundStateMachine) Restart(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Phase != domain.PhaseStopped && m.state.Phase != domain.PhaseIdle {
		phase := m.state.Phase
		m.mu.Unlock()
		return fmt.Errorf("%w: restart while %s", domain.ErrInvalidTransition, phase)
	}
	m.epoch++
	m.state = m.resetStateLocked()
	st := m.state
	m.mu.Unlock()

	m.element.Pause()
	m.element.Seek(0)
	m.publish(st)
	return nil
}

// RestartRound is a hard reset usable from every state.
func (m *roundStateMachine) RestartRound(ctx context.Context) {
	m.mu.Lock()
	m.epoch++
	m.stopCountdownLocked()
	capture := m.capture
	m.capture = nil
	inFlight := m.state.Phase == domain.PhaseCountingDown ||
		m.state.Phase == domain.PhaseRecording ||
		m.state.Phase == domain.PhaseStopping
	m.state = m.resetStateLocked()
	st := m.state
	m.mu.Unlock()

	if capture != nil {
		capture.Abort()
	}
	m.element.Pause()
	m.element.Seek(0)
	if inFlight {
		m.metrics.TakeCancelled()
		m.logger.Infow("take cancelled", "round_index", st.RoundIndex)
	}
	m.publish(st)
}

func (m *roundStateMachine) Advance(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Phase != domain.PhaseStopped && m.state.Phase != domain.PhaseIdle {
		phase := m.state.Phase
		m.mu.Unlock()
		return fmt.Errorf("%w: advance while %s", domain.ErrInvalidTransition, phase)
	}
	m.mu.Unlock()

	session, err := m.store.Advance(ctx)
	if err != nil {
		return err
	}
	m.resetTo(session)
	return nil
}

func (m *roundStateMachine) onSessionEvent(event ports.SessionEvent, session *domain.GameSession) {
	switch event {
	case ports.SessionCreated, ports.SessionReplaced, ports.SessionReset:
		m.resetTo(session)
	}
}

func (m *roundStateMachine) resetTo(session *domain.GameSession) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.epoch++
	m.stopCountdownLocked()
	capture := m.capture
	m.capture = nil
	m.state = initialState(session, m.state.RecordingKind)
	st := m.state
	m.mu.Unlock()

	if capture != nil {
		capture.Abort()
	}
	m.element.Pause()
	m.element.Seek(0)
	m.publish(st)
}

// resetStateLocked keeps the round and the chosen kind and clears all
// transient flags.
func (m *roundStateMachine) resetStateLocked() domain.TakeState {
	st := domain.NewTakeState(m.state.RoundIndex, m.state.RecordingKind)
	if m.state.Phase == domain.PhaseComplete {
		st.Phase = domain.PhaseComplete
		st.CanRecord = false
	}
	return st
}

func (m *roundStateMachine) stopCountdownLocked() {
	if m.countdown != nil {
		m.countdown.Stop()
		m.countdown = nil
	}
}

func (m *roundStateMachine) Subscribe(fn func(domain.TakeState)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs, id)
	}
}

func (m *roundStateMachine) publish(st domain.TakeState) {
	m.subMu.Lock()
	fns := make([]func(domain.TakeState), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func (m *roundStateMachine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.epoch++
	m.stopCountdownLocked()
	capture := m.capture
	m.capture = nil
	m.mu.Unlock()

	m.unwatch()
	m.cancel()
	if capture != nil {
		capture.Abort()
	}
	m.element.Close()
}
