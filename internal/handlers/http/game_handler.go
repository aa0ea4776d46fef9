package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"
	"dubsync/internal/core/services"
	"dubsync/internal/infrastructure/signal"
	"dubsync/pkg/config"
	apperrors "dubsync/pkg/errors"
	"dubsync/pkg/utils"
	"dubsync/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	EventTakeState      = "take_state"
	EventSession        = "session"
	EventLibrary        = "library"
	EventExportProgress = "export_progress"
)

// GameHandler is the HTTP boundary the UI drives the game through. Errors
// are attached to the gin context and rendered by the error middleware.
type GameHandler struct {
	store    ports.GameSessionStore
	machine  ports.RoundStateMachine
	importer ports.Importer
	exporter ports.ExportEngine
	host     ports.MediaHost
	events   ports.EventBroadcaster
	metrics  ports.MetricsService
	cfg      *config.Config
	logger   *zap.SugaredLogger

	reviewMu    sync.Mutex
	review      ports.PlaybackSynchronizer
	reviewPairs []ports.ReviewPair

	unwatch     func()
	unsubscribe func()
}

func NewGameHandler(
	store ports.GameSessionStore,
	machine ports.RoundStateMachine,
	importer ports.Importer,
	exporter ports.ExportEngine,
	host ports.MediaHost,
	events ports.EventBroadcaster,
	metrics ports.MetricsService,
	cfg *config.Config,
	logger *zap.SugaredLogger,
) *GameHandler {
	h := &GameHandler{
		store:    store,
		machine:  machine,
		importer: importer,
		exporter: exporter,
		host:     host,
		events:   events,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
	}

	h.unwatch = store.Watch(h.onSessionEvent)
	h.unsubscribe = machine.Subscribe(func(st domain.TakeState) {
		h.broadcast(EventTakeState, st)
	})
	return h
}

func (h *GameHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/videos", h.ImportVideos)
		api.GET("/videos", h.ListVideos)
		api.PUT("/videos/:id/content", h.ReattachVideo)
		api.DELETE("/videos/:id", h.DeleteVideo)

		api.POST("/sessions", h.CreateSession)
		api.GET("/session", h.GetSession)
		api.DELETE("/session", h.ResetAll)

		api.POST("/session/kind", h.SetRecordingKind)
		api.POST("/session/take/start", h.StartTake)
		api.POST("/session/take/stop", h.StopTake)
		api.POST("/session/take/restart", h.RestartTake)
		api.POST("/session/round/restart", h.RestartRound)
		api.POST("/session/round/advance", h.AdvanceRound)

		api.POST("/session/review/:index/toggle", h.ToggleReview)
		api.POST("/session/review/mute", h.MuteOriginal)
		api.POST("/session/review/stop", h.StopReview)

		api.GET("/session/rounds/:index/audio", h.DownloadAudio)
		api.POST("/session/rounds/:index/export", h.ExportRound)
	}
}

// SnapshotEvents returns the current state for newly connected clients.
func (h *GameHandler) SnapshotEvents() []signal.Event {
	events := []signal.Event{
		{Type: EventLibrary, Payload: h.store.Library()},
		{Type: EventTakeState, Payload: h.machine.State()},
	}
	if s, err := h.store.CurrentSession(); err == nil {
		events = append(events, signal.Event{Type: EventSession, Payload: gin.H{"session": newSessionView(s)}})
	}
	return events
}

func (h *GameHandler) onSessionEvent(ev ports.SessionEvent, s *domain.GameSession) {
	h.closeReview()
	if ev == ports.LibraryChanged {
		h.broadcast(EventLibrary, h.store.Library())
		return
	}
	h.broadcast(EventSession, gin.H{"event": ev, "session": newSessionView(s)})
}

func (h *GameHandler) broadcast(eventType string, payload interface{}) {
	if h.events != nil {
		h.events.Broadcast(eventType, payload)
	}
}

// Close detaches the handler from the store and the state machine.
func (h *GameHandler) Close() {
	h.unwatch()
	h.unsubscribe()
	h.closeReview()
}

func (h *GameHandler) ImportVideos(c *gin.Context) {
	form, err := h.readMultipart(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		_ = c.Error(apperrors.NewInvalidInputError("no files in field \"files\""))
		return
	}

	files := make([]ports.ImportFile, 0, len(headers))
	for _, fh := range headers {
		content, err := readPart(fh)
		if err != nil {
			_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "unreadable upload", http.StatusBadRequest))
			return
		}
		files = append(files, ports.ImportFile{
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Content:  content,
		})
	}

	report := h.importer.ImportBatch(c.Request.Context(), files)
	status := http.StatusCreated
	if len(report.Imported) == 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, report)
}

func (h *GameHandler) ListVideos(c *gin.Context) {
	videos := h.store.Library()
	valid := 0
	for _, v := range videos {
		if v.Eligible() {
			valid++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"videos":    videos,
		"total":     len(videos),
		"playable":  valid,
		"can_start": valid >= h.cfg.Game.MinLibrary,
	})
}

func (h *GameHandler) ReattachVideo(c *gin.Context) {
	id, err := videoIDParam(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	form, err := h.readMultipart(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	headers := form.File["file"]
	if len(headers) != 1 {
		_ = c.Error(apperrors.NewInvalidInputError("exactly one file expected in field \"file\""))
		return
	}

	content, err := readPart(headers[0])
	if err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "unreadable upload", http.StatusBadRequest))
		return
	}
	if len(content) == 0 {
		_ = c.Error(fmt.Errorf("%w: empty file", domain.ErrUnsupportedMedia))
		return
	}
	mimeType := services.ResolveMimeType(headers[0].Header.Get("Content-Type"), content)
	if domain.MimeFamily(mimeType) != "video" {
		_ = c.Error(fmt.Errorf("%w: %s is not a video", domain.ErrUnsupportedMedia, mimeType))
		return
	}

	video, err := h.store.ReattachVideo(c.Request.Context(), id, domain.NewBlob(content, mimeType))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"video": video})
}

func (h *GameHandler) DeleteVideo(c *gin.Context) {
	id, err := videoIDParam(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.store.DeleteVideo(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *GameHandler) CreateSession(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	mode, err := domain.ParseGameMode(req.Mode)
	if err != nil {
		_ = c.Error(err)
		return
	}
	session, err := h.store.CreateSession(c.Request.Context(), mode)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session": newSessionView(session),
		"state":   h.machine.State(),
	})
}

func (h *GameHandler) GetSession(c *gin.Context) {
	session, err := h.store.CurrentSession()
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session": newSessionView(session),
		"state":   h.machine.State(),
	})
}

func (h *GameHandler) ResetAll(c *gin.Context) {
	h.closeReview()
	h.store.ResetAll(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (h *GameHandler) SetRecordingKind(c *gin.Context) {
	var req struct {
		Kind string `json:"kind" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	kind, err := domain.ParseRecordingKind(req.Kind)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.machine.SetRecordingKind(kind); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.machine.State()})
}

func (h *GameHandler) StartTake(c *gin.Context) {
	h.transition(c, http.StatusAccepted, h.machine.StartTake)
}

func (h *GameHandler) StopTake(c *gin.Context) {
	h.transition(c, http.StatusOK, h.machine.StopTake)
}

func (h *GameHandler) RestartTake(c *gin.Context) {
	h.transition(c, http.StatusOK, h.machine.Restart)
}

func (h *GameHandler) RestartRound(c *gin.Context) {
	h.transition(c, http.StatusOK, func(ctx context.Context) error {
		h.machine.RestartRound(ctx)
		return nil
	})
}

func (h *GameHandler) AdvanceRound(c *gin.Context) {
	h.transition(c, http.StatusOK, h.machine.Advance)
}

func (h *GameHandler) transition(c *gin.Context, status int, fn func(context.Context) error) {
	if err := fn(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	resp := gin.H{"state": h.machine.State()}
	if session, err := h.store.CurrentSession(); err == nil {
		resp["session"] = newSessionView(session)
	}
	c.JSON(status, resp)
}

func (h *GameHandler) ToggleReview(c *gin.Context) {
	roundIndex, err := roundIndexParam(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.reviewMu.Lock()
	defer h.reviewMu.Unlock()

	if err := h.ensureReviewLocked(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	pos := -1
	for i, p := range h.reviewPairs {
		if p.RoundIndex == roundIndex {
			pos = i
			break
		}
	}
	if pos < 0 {
		_ = c.Error(fmt.Errorf("%w: round %d has no dubbing to review", domain.ErrRoundNotFound, roundIndex))
		return
	}

	if err := h.review.Toggle(c.Request.Context(), pos); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_round": h.activeRoundLocked()})
}

func (h *GameHandler) MuteOriginal(c *gin.Context) {
	var req struct {
		Muted bool `json:"muted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	h.reviewMu.Lock()
	defer h.reviewMu.Unlock()
	if err := h.ensureReviewLocked(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	h.review.SetOriginalMuted(req.Muted)
	c.JSON(http.StatusOK, gin.H{"muted": req.Muted, "active_round": h.activeRoundLocked()})
}

func (h *GameHandler) StopReview(c *gin.Context) {
	h.reviewMu.Lock()
	if h.review != nil {
		h.review.StopAll()
	}
	h.reviewMu.Unlock()
	c.JSON(http.StatusOK, gin.H{"active_round": -1})
}

// ensureReviewLocked builds the review synchronizer for the completed
// rounds of the current session. It is dropped on every session change.
func (h *GameHandler) ensureReviewLocked(ctx context.Context) error {
	if h.review != nil {
		return nil
	}
	session, err := h.store.CurrentSession()
	if err != nil {
		return err
	}
	pairs, err := services.BuildReviewPairs(ctx, h.host, session.Rounds)
	if err != nil {
		return err
	}
	h.reviewPairs = pairs
	h.review = services.NewPlaybackSynchronizer(pairs, h.metrics, h.logger)
	return nil
}

func (h *GameHandler) activeRoundLocked() int {
	if h.review == nil {
		return -1
	}
	pos := h.review.Active()
	if pos < 0 || pos >= len(h.reviewPairs) {
		return -1
	}
	return h.reviewPairs[pos].RoundIndex
}

func (h *GameHandler) closeReview() {
	h.reviewMu.Lock()
	defer h.reviewMu.Unlock()
	if h.review != nil {
		h.review.Close()
		h.review = nil
		h.reviewPairs = nil
	}
}

func (h *GameHandler) DownloadAudio(c *gin.Context) {
	round, err := h.completedRound(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	blob := round.Recording.Audio.Blob
	if blob.Empty() {
		if blob, err = h.host.Handles().Resolve(round.Recording.Audio.Handle); err != nil {
			_ = c.Error(err)
			return
		}
	}
	name := utils.DownloadName(h.cfg.Export.AudioFilePrefix, round.Video.Name, domain.ExtensionForMime(blob.Type))
	sendAttachment(c, name, blob)
}

func (h *GameHandler) ExportRound(c *gin.Context) {
	roundIndex, err := roundIndexParam(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	round, err := h.completedRound(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !round.Video.Playable() {
		_ = c.Error(fmt.Errorf("%w: re-import %q to export it", domain.ErrHandleInvalid, round.Video.Name))
		return
	}

	ctx := c.Request.Context()
	if h.cfg.Export.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Export.Timeout)
		defer cancel()
	}

	res, err := h.exporter.ExportWithDubbing(ctx, round.Video.Handle, round.Recording.Audio.Handle, func(p domain.ExportProgress) {
		h.broadcast(EventExportProgress, gin.H{
			"round_index": roundIndex,
			"phase":       p.Phase,
			"progress":    p.Progress,
		})
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	res.FileName = utils.DownloadName(h.cfg.Export.FilePrefix, round.Video.Name, domain.ExtensionForMime(res.MimeType))
	sendAttachment(c, res.FileName, res.Blob)
}

func (h *GameHandler) completedRound(c *gin.Context) (*domain.GameRound, error) {
	index, err := roundIndexParam(c)
	if err != nil {
		return nil, err
	}
	session, err := h.store.CurrentSession()
	if err != nil {
		return nil, err
	}
	round, err := session.Round(index)
	if err != nil {
		return nil, err
	}
	if !round.Completed || round.Recording == nil {
		return nil, fmt.Errorf("%w: round %d", domain.ErrRoundNotCompleted, index)
	}
	return round, nil
}

func (h *GameHandler) readMultipart(c *gin.Context) (*multipart.Form, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Server.MaxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.NewAppError(apperrors.ErrCodePayloadTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
		}
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "multipart form expected", http.StatusBadRequest)
	}
	return form, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func roundIndexParam(c *gin.Context) (int, error) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		return 0, apperrors.NewInvalidInputError(fmt.Sprintf("invalid round index %q", c.Param("index")))
	}
	return index, nil
}

func sendAttachment(c *gin.Context, name string, blob *domain.Blob) {
	contentType := blob.Type
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Data(http.StatusOK, contentType, blob.Data)
}

func videoIDParam(c *gin.Context) (domain.VideoID, error) {
	id := c.Param("id")
	if err := validation.ValidateID(id, "video ID"); err != nil {
		return "", apperrors.NewInvalidInputError(err.Error())
	}
	return domain.VideoID(id), nil
}

var _ ports.HTTPHandler = (*GameHandler)(nil)
