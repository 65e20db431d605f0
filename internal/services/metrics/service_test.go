package metrics

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// gaugeValue returns the value of the named gauge, optionally filtered by
// its stage label.
func gaugeValue(t *testing.T, c *Collector, name, stage string) (float64, bool) {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if stage == "" {
				return m.GetGauge().GetValue(), true
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "stage" && lp.GetValue() == stage {
					return m.GetGauge().GetValue(), true
				}
			}
		}
	}
	return 0, false
}

func TestEmit_StageDurations(t *testing.T) {
	c := NewCollector(testLogger())
	start := time.Unix(1000, 0)

	c.Emit(models.Event{Stage: models.StageClone, Status: models.EventStarted, Time: start})
	c.Emit(models.Event{Stage: models.StageClone, Status: models.EventCompleted, Time: start.Add(3 * time.Second)})

	c.Emit(models.Event{Stage: models.StageSync, Source: "/a", Status: models.EventStarted, Time: start})
	c.Emit(models.Event{Stage: models.StageSync, Source: "/b", Status: models.EventStarted, Time: start})
	c.Emit(models.Event{Stage: models.StageSync, Source: "/a", Status: models.EventCompleted, Time: start.Add(2 * time.Second)})
	c.Emit(models.Event{Stage: models.StageSync, Source: "/b", Status: models.EventCompleted, Time: start.Add(5 * time.Second)})

	v, ok := gaugeValue(t, c, "gosnap_stage_duration_seconds", models.StageClone)
	require.True(t, ok)
	assert.InDelta(t, 3.0, v, 1e-9)

	v, ok = gaugeValue(t, c, "gosnap_stage_duration_seconds", models.StageSync)
	require.True(t, ok)
	assert.InDelta(t, 7.0, v, 1e-9)
}

func TestEmit_FailedStage(t *testing.T) {
	c := NewCollector(testLogger())
	start := time.Unix(1000, 0)

	c.Emit(models.Event{Stage: models.StageCommit, Status: models.EventStarted, Time: start})
	c.Emit(models.Event{Stage: models.StageCommit, Status: models.EventFailed, Time: start.Add(time.Second), Err: errors.New("boom")})

	v, ok := gaugeValue(t, c, "gosnap_stage_failed", models.StageCommit)
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = gaugeValue(t, c, "gosnap_stage_failed", models.StageClone)
	assert.False(t, ok)
}

func TestEmit_CompletedWithoutStartIsIgnored(t *testing.T) {
	c := NewCollector(testLogger())

	c.Emit(models.Event{Stage: models.StageRetention, Status: models.EventCompleted, Time: time.Unix(5, 0)})

	_, ok := gaugeValue(t, c, "gosnap_stage_duration_seconds", models.StageRetention)
	assert.False(t, ok)
}

func TestObserve_Success(t *testing.T) {
	c := NewCollector(testLogger())
	summary := &models.RunSummary{
		SnapshotID:  1717243200,
		Retained:    []string{"1717156800", "1717243200"},
		Outdated:    []string{"1714000000"},
		Unparseable: []string{"latest", "notes"},
	}

	c.Observe(summary, &models.Usage{Bytes: 4096, UniqueBytes: 1024}, nil, 90*time.Second)

	for name, want := range map[string]float64{
		"gosnap_run_success":                     1,
		"gosnap_run_duration_seconds":            90,
		"gosnap_last_snapshot_timestamp_seconds": 1717243200,
		"gosnap_snapshots_removed":               1,
		"gosnap_snapshots_unparseable":           2,
		"gosnap_removal_failures":                0,
		"gosnap_snapshots_total":                 2,
		"gosnap_snapshot_bytes":                  4096,
		"gosnap_snapshot_unique_bytes":           1024,
	} {
		v, ok := gaugeValue(t, c, name, "")
		require.True(t, ok, name)
		assert.Equal(t, want, v, name)
	}
}

func TestObserve_Failure(t *testing.T) {
	c := NewCollector(testLogger())

	c.Observe(&models.RunSummary{SnapshotID: 42}, nil, errors.New("sync failed"), time.Second)

	v, ok := gaugeValue(t, c, "gosnap_run_success", "")
	require.True(t, ok)
	assert.Equal(t, 0.0, v)

	v, ok = gaugeValue(t, c, "gosnap_last_snapshot_timestamp_seconds", "")
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestWriteTextfile(t *testing.T) {
	c := NewCollector(testLogger())
	c.Observe(&models.RunSummary{SnapshotID: 7}, nil, nil, time.Second)

	path := filepath.Join(t.TempDir(), "gosnap.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "gosnap_run_success 1")
	assert.Contains(t, string(data), "gosnap_last_snapshot_timestamp_seconds 7")
}

func TestWriteTextfile_EmptyPath(t *testing.T) {
	c := NewCollector(testLogger())

	err := c.WriteTextfile("")

	assert.Error(t, err)
}

func TestWriteTextfile_MissingDirectory(t *testing.T) {
	c := NewCollector(testLogger())

	err := c.WriteTextfile(filepath.Join(t.TempDir(), "missing", "gosnap.prom"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "writing metrics textfile")
}
