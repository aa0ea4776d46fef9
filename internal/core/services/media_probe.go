package services

import (
	"context"
	"math"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"

	"go.uber.org/zap"
)

type mediaProbe struct {
	host   ports.MediaHost
	logger *zap.SugaredLogger
}

// NewMediaProbe probes durations with a throwaway element and handle.
func NewMediaProbe(host ports.MediaHost, logger *zap.SugaredLogger) ports.MediaProbe {
	return &mediaProbe{host: host, logger: logger}
}

func (p *mediaProbe) ProbeDuration(ctx context.Context, blob *domain.Blob) float64 {
	if blob.Empty() {
		return 0
	}

	handles := p.host.Handles()
	h := handles.Create(blob)
	defer handles.Release(h)

	el := p.host.NewElement()
	defer el.Close()

	meta, err := el.Load(ctx, h)
	if err != nil {
		p.logger.Debugw("duration probe failed", "type", blob.Type, "size", blob.Size(), "error", err)
		return 0
	}
	d := meta.Duration
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0
	}
	return d
}
