package monitoring

import (
	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.MetricsService on Prometheus
// collectors registered with the given registerer.
type PrometheusCollector struct {
	// Counters
	takesStarted       prometheus.Counter
	takesCompleted     *prometheus.CounterVec
	takesCancelled     prometheus.Counter
	takesFailed        *prometheus.CounterVec
	profilesNegotiated *prometheus.CounterVec
	exportFailures     prometheus.Counter
	persistenceSkipped *prometheus.CounterVec

	// Histograms
	takeDuration   *prometheus.HistogramVec
	exportDuration prometheus.Histogram

	// Gauges
	activePlayback prometheus.Gauge
	librarySize    *prometheus.GaugeVec
	handlesLive    prometheus.Gauge
}

func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		takesStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dubsync_takes_started_total",
			Help: "Total number of takes whose countdown started",
		}),

		takesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dubsync_takes_completed_total",
			Help: "Total number of takes bound to a round",
		}, []string{"kind"}),

		takesCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "dubsync_takes_cancelled_total",
			Help: "Total number of takes discarded by a round restart",
		}),

		takesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dubsync_takes_failed_total",
			Help: "Total number of takes that failed to start or finalize",
		}, []string{"reason"}),

		profilesNegotiated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dubsync_profiles_negotiated_total",
			Help: "Encoder profiles selected by capture and export",
		}, []string{"component", "mime_type"}),

		exportFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "dubsync_export_failures_total",
			Help: "Total number of failed exports",
		}),

		persistenceSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dubsync_persistence_skipped_total",
			Help: "Persistence writes skipped after a storage failure",
		}, []string{"reason"}),

		takeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dubsync_take_duration_seconds",
			Help:    "Recorded length of completed takes",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120},
		}, []string{"kind"}),

		exportDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dubsync_export_duration_seconds",
			Help:    "Wall time spent rendering successful exports",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),

		activePlayback: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dubsync_review_playback_active",
			Help: "1 while a review pair is playing",
		}),

		librarySize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dubsync_library_videos",
			Help: "Videos in the library by validity",
		}, []string{"state"}),

		handlesLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dubsync_media_handles_live",
			Help: "Playable media handles currently allocated",
		}),
	}
}

func (p *PrometheusCollector) TakeStarted() {
	p.takesStarted.Inc()
}

func (p *PrometheusCollector) TakeCompleted(kind domain.RecordingKind, seconds float64) {
	p.takesCompleted.WithLabelValues(string(kind)).Inc()
	p.takeDuration.WithLabelValues(string(kind)).Observe(seconds)
}

func (p *PrometheusCollector) TakeCancelled() {
	p.takesCancelled.Inc()
}

func (p *PrometheusCollector) TakeFailed(reason string) {
	p.takesFailed.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) ProfileNegotiated(component, mimeType string) {
	p.profilesNegotiated.WithLabelValues(component, domain.BaseMime(mimeType)).Inc()
}

func (p *PrometheusCollector) ExportFinished(seconds float64, err error) {
	if err != nil {
		p.exportFailures.Inc()
		return
	}
	p.exportDuration.Observe(seconds)
}

func (p *PrometheusCollector) PersistenceSkipped(reason string) {
	p.persistenceSkipped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) ActivePlayback(active bool) {
	if active {
		p.activePlayback.Set(1)
		return
	}
	p.activePlayback.Set(0)
}

func (p *PrometheusCollector) LibrarySize(total, valid int) {
	p.librarySize.WithLabelValues("valid").Set(float64(valid))
	p.librarySize.WithLabelValues("placeholder").Set(float64(total - valid))
}

func (p *PrometheusCollector) HandlesLive(n int) {
	p.handlesLive.Set(float64(n))
}

var _ ports.MetricsService = (*PrometheusCollector)(nil)
