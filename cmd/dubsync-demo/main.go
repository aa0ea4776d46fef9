// Command dubsync-demo plays a scripted session against the virtual media
// host on a virtual clock and writes every dubbed export to disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"
	"dubsync/internal/core/services"
	"dubsync/internal/infrastructure/media/virtual"
	"dubsync/internal/infrastructure/persistence"
	"dubsync/internal/infrastructure/repositories/memory"
	"dubsync/internal/infrastructure/scheduler"
	"dubsync/pkg/config"
	"dubsync/pkg/logger"
	"dubsync/pkg/retry"
	"dubsync/pkg/utils"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"
)

const clockStep = 10 * time.Millisecond

type demo struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	sched    *scheduler.Manual
	host     *virtual.Host
	store    ports.GameSessionStore
	machine  ports.RoundStateMachine
	exporter ports.ExportEngine
	importer ports.Importer
	metrics  *services.MetricsService
	outDir   string
}

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	outDir := flag.String("out", "dubsync-out", "directory the exports are written to")
	mode := flag.String("mode", string(domain.ModeMeme), "game mode: meme or serious")
	kind := flag.String("kind", string(domain.RecordingAudioOnly), "recording kind: audio or video")
	clipLength := flag.Duration("clip", 2*time.Second, "length of each synthesized clip")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	zapLogger, err := logger.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	gameMode, err := domain.ParseGameMode(*mode)
	if err != nil {
		log.Fatalw("invalid mode", "error", err)
	}
	recordingKind, err := domain.ParseRecordingKind(*kind)
	if err != nil {
		log.Fatalw("invalid recording kind", "error", err)
	}

	d := newDemo(cfg, log, *outDir)
	defer d.machine.Close()

	if err := d.run(context.Background(), gameMode, recordingKind, *clipLength); err != nil {
		log.Fatalw("demo failed", "error", err)
	}
}

func newDemo(cfg *config.Config, log *zap.SugaredLogger, outDir string) *demo {
	sched := scheduler.NewManual(time.Now())
	host := virtual.NewHost(sched, virtual.DefaultOptions())
	metrics := services.NewMetricsService()

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Persistence.MaxRetries
	persister := persistence.NewPersister(memory.NewKVStore(cfg.Persistence.QuotaBytes), retryCfg, log)

	probe := services.NewMediaProbe(host, log)
	store := services.NewGameSessionStore(host, probe, persister, sched, services.StoreOptionsFromConfig(cfg), metrics, log)
	captures := services.NewCaptureFactory(host, sched, services.CaptureOptionsFromConfig(cfg), metrics, log)

	return &demo{
		cfg:      cfg,
		log:      log,
		sched:    sched,
		host:     host,
		store:    store,
		machine:  services.NewRoundStateMachine(store, host, sched, captures, services.RoundOptionsFromConfig(cfg), metrics, log),
		exporter: services.NewExportEngine(host, sched, services.ExportOptionsFromConfig(cfg), metrics, log),
		importer: services.NewImporter(store, log),
		metrics:  metrics,
		outDir:   outDir,
	}
}

func (d *demo) run(ctx context.Context, mode domain.GameMode, kind domain.RecordingKind, clipLength time.Duration) error {
	if err := d.importClips(ctx, clipLength); err != nil {
		return err
	}

	session, err := d.store.CreateSession(ctx, mode)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	d.log.Infow("session created", "session_id", session.ID, "mode", mode, "rounds", len(session.Rounds))

	if err := d.machine.SetRecordingKind(kind); err != nil {
		return err
	}

	for i := range session.Rounds {
		if err := d.playRound(ctx, i, clipLength); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(d.outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for i, round := range d.store.CompletedRounds() {
		if err := d.exportRound(ctx, i, round); err != nil {
			return err
		}
	}

	snap := d.metrics.Snapshot()
	d.log.Infow("demo finished",
		"takes_completed", snap.TakesCompleted,
		"exports", snap.Exports,
		"handles_live", d.host.Handles().Live(),
		"out", d.outDir,
	)
	return nil
}

func (d *demo) importClips(ctx context.Context, clipLength time.Duration) error {
	tones := []float64{220, 330, 440, 550}
	files := make([]ports.ImportFile, 0, len(tones))
	for i, tone := range tones {
		data, err := virtual.SynthesizeClip(virtual.ClipSpec{
			Width:    640,
			Height:   360,
			FPS:      d.cfg.Export.FPS,
			Duration: clipLength,
			ToneHz:   tone,
		})
		if err != nil {
			return fmt.Errorf("synthesize clip: %w", err)
		}
		files = append(files, ports.ImportFile{
			Name:     fmt.Sprintf("scene-%d.dubv", i+1),
			MimeType: virtual.ClipMimeType,
			Content:  data,
		})
	}

	report := d.importer.ImportBatch(ctx, files)
	for _, f := range report.Failed {
		d.log.Warnw("clip rejected", "name", f.Name, "reason", f.Reason)
	}
	if len(report.Imported) == 0 {
		return fmt.Errorf("no clip could be imported")
	}
	return nil
}

func (d *demo) playRound(ctx context.Context, index int, clipLength time.Duration) error {
	if err := d.machine.StartTake(ctx); err != nil {
		return fmt.Errorf("round %d: start take: %w", index, err)
	}

	limit := time.Duration(d.cfg.Game.CountdownSeconds)*d.cfg.Game.CountdownTick + 2*clipLength + time.Second
	stopped := d.sched.AdvanceUntil(func() bool {
		phase := d.machine.State().Phase
		return phase == domain.PhaseStopped || phase == domain.PhaseIdle
	}, clockStep, limit)
	st := d.machine.State()
	if !stopped || st.Phase != domain.PhaseStopped {
		return fmt.Errorf("round %d: take did not finish (phase %s, last error %q)", index, st.Phase, st.LastError)
	}
	d.log.Infow("take recorded", "round_index", index)

	if err := d.machine.Advance(ctx); err != nil {
		return fmt.Errorf("round %d: advance: %w", index, err)
	}
	return nil
}

func (d *demo) exportRound(ctx context.Context, index int, round *domain.GameRound) error {
	audio := round.Recording.Audio.Blob
	audioName := utils.DownloadName(d.cfg.Export.AudioFilePrefix, round.Video.Name, domain.ExtensionForMime(audio.Type))
	if err := renameio.WriteFile(filepath.Join(d.outDir, audioName), audio.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", audioName, err)
	}

	var (
		res  *domain.ExportResult
		err  error
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		res, err = d.exporter.ExportWithDubbing(ctx, round.Video.Handle, round.Recording.Audio.Handle, func(p domain.ExportProgress) {
			if p.Phase != domain.ExportProcessing {
				d.log.Infow("export progress", "round_index", index, "phase", p.Phase, "progress", p.Progress)
			}
		})
	}()
	d.driveUntil(done)
	if err != nil {
		return fmt.Errorf("round %d: %w", index, err)
	}

	name := utils.DownloadName(d.cfg.Export.FilePrefix, round.Video.Name, domain.ExtensionForMime(res.MimeType))
	if err := renameio.WriteFile(filepath.Join(d.outDir, name), res.Blob.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	d.log.Infow("export written", "file", name, "duration", res.Duration, "bytes", res.Blob.Size())
	return nil
}

// driveUntil advances the virtual clock while the export goroutine works,
// yielding briefly so it can register its frame loop.
func (d *demo) driveUntil(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		d.sched.Advance(clockStep)
		time.Sleep(50 * time.Microsecond)
	}
}
