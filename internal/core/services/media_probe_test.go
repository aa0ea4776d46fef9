package services

import (
	"context"
	"testing"
	"time"

	"dubsync/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestMediaProbe_Durations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.InDelta(t, 2.0, f.probe.ProbeDuration(ctx, f.clip(2*time.Second)), 0.001)
	assert.InDelta(t, 1.5, f.probe.ProbeDuration(ctx, f.wav(1500*time.Millisecond)), 0.01)
}

func TestMediaProbe_UnreadableContentIsZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	valid := f.clip(time.Second).Data
	cases := map[string]*domain.Blob{
		"nil":       nil,
		"empty":     domain.NewBlob(nil, "video/mp4"),
		"garbage":   domain.NewBlob([]byte("definitely not media"), "video/mp4"),
		"truncated": domain.NewBlob(valid[:16], "video/x-dubv"),
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, 0.0, f.probe.ProbeDuration(ctx, blob))
			})
		})
	}
	assert.Equal(t, 0, f.host.Handles().Live())
}

func TestMediaProbe_ReleasesHandle(t *testing.T) {
	f := newFixture(t)

	f.probe.ProbeDuration(context.Background(), f.clip(time.Second))
	created, released := f.host.Registry().Counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, released)
}
