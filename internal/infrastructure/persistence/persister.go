package persistence

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"
	"dubsync/pkg/circuitbreaker"
	"dubsync/pkg/retry"
	"dubsync/pkg/tracing"

	"go.uber.org/zap"
)

const (
	LibraryKey = "videos"
	SessionKey = "session"

	// VideoNotPersisted replaces the binary of video recordings, which are
	// too large for the local store.
	VideoNotPersisted = "VIDEO_TOO_LARGE_NOT_PERSISTED"
)

type recordingDoc struct {
	ID        domain.RecordingID   `json:"id"`
	Kind      domain.RecordingKind `json:"kind"`
	Audio     string               `json:"audio"`
	Video     string               `json:"video,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

type roundDoc struct {
	ID        domain.RoundID `json:"id"`
	Video     domain.Video   `json:"video"`
	Recording *recordingDoc  `json:"recording"`
	Completed bool           `json:"completed"`
}

type sessionDoc struct {
	ID                domain.SessionID `json:"id"`
	Mode              domain.GameMode  `json:"mode"`
	Rounds            []roundDoc       `json:"rounds"`
	CurrentRoundIndex int              `json:"current_round_index"`
	Completed         bool             `json:"completed"`
	CreatedAt         time.Time        `json:"created_at"`
}

// Persister implements ports.StatePersister over a KeyValueStore using
// JSON documents. Audio recordings are embedded as data URIs.
type Persister struct {
	kv     ports.KeyValueStore
	retry  retry.Config
	logger *zap.SugaredLogger
}

func NewPersister(kv ports.KeyValueStore, retryCfg retry.Config, logger *zap.SugaredLogger) *Persister {
	retryCfg.NonRetryableErrors = append(retryCfg.NonRetryableErrors, domain.ErrQuotaExceeded, context.Canceled, circuitbreaker.ErrOpen)
	return &Persister{kv: kv, retry: retryCfg, logger: logger}
}

func (p *Persister) write(ctx context.Context, key string, data []byte) error {
	ctx, span := tracing.TracePersistence(ctx, "set", key)
	defer span.End()

	err := retry.Retry(ctx, p.retry, func() error {
		return p.kv.Set(ctx, key, data)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (p *Persister) SaveLibrary(ctx context.Context, videos []domain.Video) error {
	meta := make([]domain.Video, len(videos))
	for i := range videos {
		meta[i] = videos[i].Metadata()
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: encode library: %v", domain.ErrPersistenceFailed, err)
	}
	if err := p.write(ctx, LibraryKey, data); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
	}
	return nil
}

// LoadLibrary returns placeholders: every restored video has no handle and
// HasValidFile cleared.
func (p *Persister) LoadLibrary(ctx context.Context) ([]domain.Video, error) {
	data, err := p.kv.Get(ctx, LibraryKey)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
	}
	var videos []domain.Video
	if err := json.Unmarshal(data, &videos); err != nil {
		return nil, fmt.Errorf("%w: decode library: %v", domain.ErrPersistenceFailed, err)
	}
	for i := range videos {
		videos[i].HasValidFile = false
	}
	return videos, nil
}

// SaveSession writes the session document. When the store is over quota
// the stale session entry is removed so a later reload does not resurrect
// an outdated session.
func (p *Persister) SaveSession(ctx context.Context, s *domain.GameSession) error {
	if s == nil {
		return p.deleteKey(ctx, SessionKey)
	}
	doc := encodeSession(s)
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode session: %v", domain.ErrPersistenceFailed, err)
	}

	err = p.write(ctx, SessionKey, data)
	if errors.Is(err, domain.ErrQuotaExceeded) {
		if delErr := p.kv.Delete(ctx, SessionKey); delErr != nil && p.logger != nil {
			p.logger.Warnw("failed to discard stale session entry", "error", delErr)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
	}
	return nil
}

func (p *Persister) LoadSession(ctx context.Context) (*domain.GameSession, error) {
	data, err := p.kv.Get(ctx, SessionKey)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
	}
	var doc sessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode session: %v", domain.ErrPersistenceFailed, err)
	}
	return decodeSession(doc), nil
}

func (p *Persister) Clear(ctx context.Context) error {
	var errs []error
	for _, key := range []string{LibraryKey, SessionKey} {
		if err := p.deleteKey(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Persister) deleteKey(ctx context.Context, key string) error {
	if err := p.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
	}
	return nil
}

func encodeSession(s *domain.GameSession) sessionDoc {
	doc := sessionDoc{
		ID:                s.ID,
		Mode:              s.Mode,
		CurrentRoundIndex: s.CurrentRoundIndex,
		Completed:         s.Completed,
		CreatedAt:         s.CreatedAt,
		Rounds:            make([]roundDoc, len(s.Rounds)),
	}
	for i, r := range s.Rounds {
		rd := roundDoc{ID: r.ID, Completed: r.Completed}
		if r.Video != nil {
			rd.Video = r.Video.Metadata()
		}
		if rec := r.Recording; rec != nil {
			d := &recordingDoc{ID: rec.ID, Kind: rec.Kind, CreatedAt: rec.CreatedAt}
			if rec.Kind == domain.RecordingAudioOnly {
				d.Audio = EncodeDataURI(rec.Audio.Blob)
			} else {
				d.Audio = VideoNotPersisted
				d.Video = VideoNotPersisted
			}
			rd.Recording = d
		}
		doc.Rounds[i] = rd
	}
	return doc
}

// decodeSession rebuilds a session. A round whose recording cannot be
// restored comes back not completed and flagged Unrestored.
func decodeSession(doc sessionDoc) *domain.GameSession {
	s := &domain.GameSession{
		ID:                doc.ID,
		Mode:              doc.Mode,
		CurrentRoundIndex: doc.CurrentRoundIndex,
		Completed:         doc.Completed,
		CreatedAt:         doc.CreatedAt,
		Rounds:            make([]*domain.GameRound, len(doc.Rounds)),
	}
	for i, rd := range doc.Rounds {
		v := rd.Video
		v.HasValidFile = false
		round := &domain.GameRound{ID: rd.ID, Video: &v}
		if rd.Recording != nil && rd.Completed {
			if rec := decodeRecording(rd.ID, rd.Recording); rec != nil {
				round.Recording = rec
				round.Completed = true
			} else {
				round.Unrestored = true
			}
		}
		s.Rounds[i] = round
	}
	if s.CurrentRoundIndex < 0 || s.CurrentRoundIndex >= len(s.Rounds) {
		s.CurrentRoundIndex = 0
	}
	return s
}

func decodeRecording(round domain.RoundID, d *recordingDoc) *domain.Recording {
	if d.Kind != domain.RecordingAudioOnly || d.Audio == VideoNotPersisted {
		return nil
	}
	blob, err := DecodeDataURI(d.Audio)
	if err != nil {
		return nil
	}
	rec, err := domain.NewAudioRecording(d.ID, round, domain.Artifact{Blob: blob}, d.CreatedAt)
	if err != nil {
		return nil
	}
	return rec
}

// EncodeDataURI renders a blob as data:<type>;base64,<payload>.
func EncodeDataURI(b *domain.Blob) string {
	if b == nil {
		return ""
	}
	return "data:" + b.Type + ";base64," + base64.StdEncoding.EncodeToString(b.Data)
}

var errBadDataURI = errors.New("malformed data uri")

func DecodeDataURI(s string) (*domain.Blob, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, errBadDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errBadDataURI
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, errBadDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadDataURI, err)
	}
	return domain.NewBlob(data, mimeType), nil
}

var _ ports.StatePersister = (*Persister)(nil)
