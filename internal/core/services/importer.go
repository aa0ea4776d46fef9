package services

import (
	"context"
	"fmt"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"
	"dubsync/pkg/validation"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

type importer struct {
	store  ports.GameSessionStore
	logger *zap.SugaredLogger
}

// NewImporter adds uploaded files to the library. Only the video family is
// accepted; an untyped file is classified by sniffing its content.
func NewImporter(store ports.GameSessionStore, logger *zap.SugaredLogger) ports.Importer {
	return &importer{store: store, logger: logger}
}

func (i *importer) ImportBatch(ctx context.Context, files []ports.ImportFile) ports.ImportReport {
	report := ports.ImportReport{
		Imported: []*domain.Video{},
		Failed:   []ports.ImportFailure{},
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			report.Failed = append(report.Failed, ports.ImportFailure{Name: f.Name, Reason: err.Error()})
			continue
		}

		video, err := i.importOne(ctx, f)
		if err != nil {
			i.logger.Warnw("file skipped", "name", f.Name, "declared_type", f.MimeType, "error", err)
			report.Failed = append(report.Failed, ports.ImportFailure{Name: f.Name, Reason: err.Error()})
			continue
		}
		report.Imported = append(report.Imported, video)
	}

	i.logger.Infow("import batch finished", "imported", len(report.Imported), "failed", len(report.Failed))
	return report
}

func (i *importer) importOne(ctx context.Context, f ports.ImportFile) (*domain.Video, error) {
	if err := validation.ValidateFileName(f.Name); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedMedia, err)
	}
	if len(f.Content) == 0 {
		return nil, fmt.Errorf("%w: empty file", domain.ErrUnsupportedMedia)
	}
	mimeType := ResolveMimeType(f.MimeType, f.Content)
	if domain.MimeFamily(mimeType) != "video" {
		return nil, fmt.Errorf("%w: %s is not a video", domain.ErrUnsupportedMedia, mimeType)
	}
	return i.store.AddVideo(ctx, f.Name, domain.NewBlob(f.Content, mimeType))
}

// ResolveMimeType keeps a declared type unless it is missing or generic, in
// which case the content is sniffed.
func ResolveMimeType(declared string, content []byte) string {
	switch domain.BaseMime(declared) {
	case "", "application/octet-stream":
		return mimetype.Detect(content).String()
	}
	return declared
}
