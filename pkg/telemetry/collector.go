// Package telemetry aggregates pipeline counters and exposes a snapshot.
// Values are best-effort and may drift within the collection window.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector keeps running aggregates for the pipeline components and
// mirrors them into prometheus metrics.
type Collector struct {
	mu sync.Mutex

	activeSubscriptions int
	totalSubscriptions  int
	eventsIngested      uint64
	eventsDropped       uint64
	incidentsDetected   uint64
	incidentsResolved   uint64
	remediationOutcomes map[string]uint64
	resolutionTotal     time.Duration
	resolutionCount     uint64
	alertLatencyTotal   time.Duration
	alertLatencyCount   uint64
	responseTotal       time.Duration
	responseCount       uint64
	errorCounts         map[string]uint64

	promIngested   prometheus.Counter
	promDropped    prometheus.Counter
	promIncidents  *prometheus.CounterVec
	promRemediated *prometheus.CounterVec
	promErrors     *prometheus.CounterVec
	promAlertLat   prometheus.Histogram
}

// Snapshot is a point-in-time view of the aggregates.
type Snapshot struct {
	ActiveSubscriptions   int               `json:"active_subscriptions"`
	TotalSubscriptions    int               `json:"total_subscriptions"`
	EventsIngested        uint64            `json:"events_ingested"`
	EventsDropped         uint64            `json:"events_dropped"`
	IncidentsDetected     uint64            `json:"incidents_detected"`
	IncidentsResolved     uint64            `json:"incidents_resolved"`
	RemediationByOutcome  map[string]uint64 `json:"remediation_by_outcome"`
	AvgResolutionSeconds  float64           `json:"avg_resolution_seconds"`
	AvgAlertLatencyMillis float64           `json:"avg_alert_latency_ms"`
	AvgResponseMillis     float64           `json:"avg_response_ms"`
	ErrorsByKind          map[string]uint64 `json:"errors_by_kind"`
}

// NewCollector creates a collector and registers its prometheus metrics.
// A nil registry skips prometheus registration (tests).
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		remediationOutcomes: make(map[string]uint64),
		errorCounts:         make(map[string]uint64),
		promIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railwatch_log_events_ingested_total",
			Help: "Log events received from platform streams.",
		}),
		promDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railwatch_log_events_dropped_total",
			Help: "Log events dropped due to backpressure.",
		}),
		promIncidents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railwatch_incidents_total",
			Help: "Incidents by upsert outcome.",
		}, []string{"outcome"}),
		promRemediated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railwatch_remediations_total",
			Help: "Remediation actions by outcome.",
		}, []string{"outcome"}),
		promErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railwatch_errors_total",
			Help: "Errors by component and kind.",
		}, []string{"component", "kind"}),
		promAlertLat: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "railwatch_alert_latency_seconds",
			Help:    "Detection-to-alert latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(c.promIngested, c.promDropped, c.promIncidents,
			c.promRemediated, c.promErrors, c.promAlertLat)
	}
	return c
}

// SetSubscriptions records the supervisor's connection counts.
func (c *Collector) SetSubscriptions(active, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeSubscriptions = active
	c.totalSubscriptions = total
}

// EventIngested counts one normalized log event.
func (c *Collector) EventIngested() {
	c.mu.Lock()
	c.eventsIngested++
	c.mu.Unlock()
	c.promIngested.Inc()
}

// EventsDropped counts events evicted under backpressure.
func (c *Collector) EventsDropped(n uint64) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	c.eventsDropped += n
	c.mu.Unlock()
	c.promDropped.Add(float64(n))
}

// IncidentDetected counts an upsert outcome.
func (c *Collector) IncidentDetected(outcome string) {
	c.mu.Lock()
	c.incidentsDetected++
	c.mu.Unlock()
	c.promIncidents.WithLabelValues(outcome).Inc()
}

// IncidentResolved records a resolution and its time-to-resolve.
func (c *Collector) IncidentResolved(resolution time.Duration) {
	c.mu.Lock()
	c.incidentsResolved++
	c.resolutionTotal += resolution
	c.resolutionCount++
	c.mu.Unlock()
}

// RemediationOutcome counts one finished remediation action.
func (c *Collector) RemediationOutcome(outcome string) {
	c.mu.Lock()
	c.remediationOutcomes[outcome]++
	c.mu.Unlock()
	c.promRemediated.WithLabelValues(outcome).Inc()
}

// AlertLatency records detection-to-alert latency (target p95 < 10s).
func (c *Collector) AlertLatency(d time.Duration) {
	c.mu.Lock()
	c.alertLatencyTotal += d
	c.alertLatencyCount++
	c.mu.Unlock()
	c.promAlertLat.Observe(d.Seconds())
}

// ConversationResponse records one assistant response time.
func (c *Collector) ConversationResponse(d time.Duration) {
	c.mu.Lock()
	c.responseTotal += d
	c.responseCount++
	c.mu.Unlock()
}

// Error counts an error tagged with the component and kind.
func (c *Collector) Error(component, kind string) {
	c.mu.Lock()
	c.errorCounts[component+":"+kind]++
	c.mu.Unlock()
	c.promErrors.WithLabelValues(component, kind).Inc()
}

// Snapshot returns a copy of the current aggregates.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcomes := make(map[string]uint64, len(c.remediationOutcomes))
	for k, v := range c.remediationOutcomes {
		outcomes[k] = v
	}
	errs := make(map[string]uint64, len(c.errorCounts))
	for k, v := range c.errorCounts {
		errs[k] = v
	}

	s := Snapshot{
		ActiveSubscriptions:  c.activeSubscriptions,
		TotalSubscriptions:   c.totalSubscriptions,
		EventsIngested:       c.eventsIngested,
		EventsDropped:        c.eventsDropped,
		IncidentsDetected:    c.incidentsDetected,
		IncidentsResolved:    c.incidentsResolved,
		RemediationByOutcome: outcomes,
		ErrorsByKind:         errs,
	}
	if c.resolutionCount > 0 {
		s.AvgResolutionSeconds = c.resolutionTotal.Seconds() / float64(c.resolutionCount)
	}
	if c.alertLatencyCount > 0 {
		s.AvgAlertLatencyMillis = float64(c.alertLatencyTotal.Milliseconds()) / float64(c.alertLatencyCount)
	}
	if c.responseCount > 0 {
		s.AvgResponseMillis = float64(c.responseTotal.Milliseconds()) / float64(c.responseCount)
	}
	return s
}
