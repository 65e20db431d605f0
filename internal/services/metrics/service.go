// Package metrics exports run metrics in the Prometheus textfile format.
package metrics

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Collector records stage durations from pipeline events and the outcome of
// a run, and writes them to a textfile for node_exporter.
type Collector struct {
	mu       sync.Mutex
	started  map[string]time.Time
	registry *prometheus.Registry
	logger   zerolog.Logger

	success       prometheus.Gauge
	duration      prometheus.Gauge
	lastSnapshot  prometheus.Gauge
	removed       prometheus.Gauge
	unparseable   prometheus.Gauge
	failures      prometheus.Gauge
	total         prometheus.Gauge
	snapshotBytes prometheus.Gauge
	uniqueBytes   prometheus.Gauge
	stageDuration *prometheus.GaugeVec
	stageFailed   *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(logger zerolog.Logger) *Collector {
	c := &Collector{
		started:  make(map[string]time.Time),
		registry: prometheus.NewRegistry(),
		logger:   logger,
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosnap_run_success",
			Help: "1 if the last run committed a snapshot, 0 otherwise.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosnap_run_duration_seconds",
			Help: "Duration of the last run.",
		}),
		lastSnapshot: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosnap_last_snapshot_timestamp_seconds",
			Help: "Id of the last committed snapshot.",
		}),
		removed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosnap_snapshots_removed",
			Help: "Outdated snapshots removed by the last run.",
		}),
		unparseable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosnap_snapshots_unparseable",
			Help: "Storage root entries whose age could not be determined.",
		}),
		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosnap_removal_failures",
			Help: "Outdated snapshots that could not be removed.",
		}),
		total: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosnap_snapshots_total",
			Help: "Finished snapshots kept after the last run.",
		}),
		snapshotBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosnap_snapshot_bytes",
			Help: "Apparent size of the last committed snapshot.",
		}),
		uniqueBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosnap_snapshot_unique_bytes",
			Help: "Bytes of the last snapshot not shared with other snapshots.",
		}),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gosnap_stage_duration_seconds",
			Help: "Duration of each pipeline stage in the last run.",
		}, []string{"stage"}),
		stageFailed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gosnap_stage_failed",
			Help: "1 for the stage the last run failed in.",
		}, []string{"stage"}),
	}

	c.registry.MustRegister(
		c.success, c.duration, c.lastSnapshot, c.removed, c.unparseable,
		c.failures, c.total, c.snapshotBytes, c.uniqueBytes, c.stageDuration, c.stageFailed,
	)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Emit implements events.Sink. Sync stages of several sources accumulate.
func (c *Collector) Emit(ev models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := ev.Stage + "\x00" + ev.Source
	switch ev.Status {
	case models.EventStarted:
		c.started[key] = ev.Time
	case models.EventCompleted, models.EventFailed:
		if start, ok := c.started[key]; ok {
			c.stageDuration.WithLabelValues(ev.Stage).Add(ev.Time.Sub(start).Seconds())
			delete(c.started, key)
		}
		if ev.Status == models.EventFailed {
			c.stageFailed.WithLabelValues(ev.Stage).Set(1)
		}
	}
}

// Observe records the outcome of a run. usage may be nil.
func (c *Collector) Observe(summary *models.RunSummary, usage *models.Usage, runErr error, elapsed time.Duration) {
	c.duration.Set(elapsed.Seconds())

	if runErr != nil || summary == nil {
		c.success.Set(0)
		return
	}

	c.success.Set(1)
	c.lastSnapshot.Set(float64(summary.SnapshotID))
	c.removed.Set(float64(summary.OutdatedCount()))
	c.unparseable.Set(float64(summary.UnparseableCount()))
	c.failures.Set(float64(len(summary.Failures)))
	c.total.Set(float64(len(summary.Retained)))
	if usage != nil {
		c.snapshotBytes.Set(float64(usage.Bytes))
		c.uniqueBytes.Set(float64(usage.UniqueBytes))
	}
}

// WriteTextfile atomically writes the metrics to path.
func (c *Collector) WriteTextfile(path string) error {
	if path == "" {
		return errors.New("metrics textfile path is empty")
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	c.logger.Debug().Str("path", path).Msg("metrics textfile written")
	return nil
}
