package monitoring

import (
	"context"
	"fmt"
	"time"

	"dubsync/internal/core/ports"
)

// AddStoreCheck checks the key/value backend behind persistence.
func (h *HealthChecker) AddStoreCheck(check func(ctx context.Context) error, interval, timeout time.Duration) {
	h.AddCheck("store", func(ctx context.Context) (bool, error) {
		if err := check(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddHandleCheck flags a handle leak once more than limit playable handles
// are alive at the same time.
func (h *HealthChecker) AddHandleCheck(handles ports.HandleRegistry, limit int, interval, timeout time.Duration) {
	h.AddCheck("media_handles", func(ctx context.Context) (bool, error) {
		if live := handles.Live(); live > limit {
			return false, fmt.Errorf("%d live handles exceed %d", live, limit)
		}
		return true, nil
	}, interval, timeout)
}

// GetReadinessStatus returns readiness status for load balancer
func (h *HealthChecker) GetReadinessStatus(ctx context.Context) HealthStatus {
	return h.CheckAll(ctx)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	status := h.CheckAll(ctx)
	return status.Status == "healthy"
}
