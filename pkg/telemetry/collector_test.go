package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector(nil)

	c.SetSubscriptions(2, 3)
	c.EventIngested()
	c.EventIngested()
	c.EventsDropped(5)
	c.EventsDropped(0) // no-op
	c.IncidentDetected("created")
	c.IncidentDetected("updated")
	c.IncidentResolved(30 * time.Second)
	c.IncidentResolved(90 * time.Second)
	c.RemediationOutcome("succeeded")
	c.RemediationOutcome("succeeded")
	c.RemediationOutcome("failed")
	c.AlertLatency(100 * time.Millisecond)
	c.AlertLatency(300 * time.Millisecond)
	c.ConversationResponse(2 * time.Second)
	c.Error("detector", "upsert")

	s := c.Snapshot()
	assert.Equal(t, 2, s.ActiveSubscriptions)
	assert.Equal(t, 3, s.TotalSubscriptions)
	assert.Equal(t, uint64(2), s.EventsIngested)
	assert.Equal(t, uint64(5), s.EventsDropped)
	assert.Equal(t, uint64(2), s.IncidentsDetected)
	assert.Equal(t, uint64(2), s.IncidentsResolved)
	assert.Equal(t, uint64(2), s.RemediationByOutcome["succeeded"])
	assert.Equal(t, uint64(1), s.RemediationByOutcome["failed"])
	assert.InDelta(t, 60.0, s.AvgResolutionSeconds, 0.001)
	assert.InDelta(t, 200.0, s.AvgAlertLatencyMillis, 0.001)
	assert.InDelta(t, 2000.0, s.AvgResponseMillis, 0.001)
	assert.Equal(t, uint64(1), s.ErrorsByKind["detector:upsert"])
}

func TestCollectorZeroAverages(t *testing.T) {
	s := NewCollector(nil).Snapshot()
	assert.Zero(t, s.AvgResolutionSeconds)
	assert.Zero(t, s.AvgAlertLatencyMillis)
	assert.Zero(t, s.AvgResponseMillis)
	assert.NotNil(t, s.RemediationByOutcome)
	assert.NotNil(t, s.ErrorsByKind)
}

func TestCollectorSnapshotIsACopy(t *testing.T) {
	c := NewCollector(nil)
	c.RemediationOutcome("succeeded")

	s := c.Snapshot()
	s.RemediationByOutcome["succeeded"] = 99

	assert.Equal(t, uint64(1), c.Snapshot().RemediationByOutcome["succeeded"])
}

func TestCollectorRegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.EventIngested()

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
