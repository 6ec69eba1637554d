// Package detector consumes normalized log events and turns them into
// deduplicated incidents via two lanes: fast pattern rules and a batched
// LLM classification call.
package detector

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/railwatch/railwatch/pkg/broker"
	"github.com/railwatch/railwatch/pkg/llm"
	"github.com/railwatch/railwatch/pkg/models"
	"github.com/railwatch/railwatch/pkg/telemetry"
)

const (
	defaultBatchWindow = 5 * time.Second
	llmTriggerScore    = 4
	contextLines       = 5
)

// IncidentUpserter persists incident candidates. *store.IncidentStore
// satisfies it.
type IncidentUpserter interface {
	Upsert(ctx context.Context, cand models.IncidentCandidate) (*models.Incident, models.UpsertOutcome, error)
}

// Classifier is the LLM lane's entry point. *llm.Router satisfies it.
type Classifier interface {
	Available() bool
	ClassifyWith(ctx context.Context, provider models.LLMProvider, serviceName string, lines []string) (*llm.Judgment, error)
}

// PolicySource resolves the per-service LLM provider preference.
type PolicySource interface {
	ProviderFor(ctx context.Context, serviceID string) models.LLMProvider
}

// LogRecorder optionally persists raw log events for diagnostics.
type LogRecorder interface {
	InsertLogEvent(ctx context.Context, ev models.LogEvent) error
}

// Options configure a Detector.
type Options struct {
	WindowSize  int
	BatchWindow time.Duration
}

// Detector is the log processor task. It owns the per-service windows;
// upserts and classification calls run outside the window locks.
type Detector struct {
	events     <-chan models.LogEvent
	store      IncidentUpserter
	classifier Classifier
	policies   PolicySource
	logs       LogRecorder
	bus        broker.Broker
	metrics    *telemetry.Collector
	opts       Options
	logger     *slog.Logger

	mu      sync.Mutex
	windows map[string]*window
	lanes   map[string]*llmLane

	wg sync.WaitGroup
}

// llmLane tracks the single-flight batched classification per service.
type llmLane struct {
	scheduled bool
	inFlight  bool
	trigger   models.LogEvent
	pattern   patternMatch
}

// New creates a detector consuming events. classifier, policies, logs,
// bus, and metrics may be nil; the corresponding lane or side effect is
// skipped.
func New(events <-chan models.LogEvent, store IncidentUpserter, classifier Classifier, policies PolicySource, logs LogRecorder, bus broker.Broker, metrics *telemetry.Collector, opts Options) *Detector {
	if opts.WindowSize <= 0 {
		opts.WindowSize = defaultWindowSize
	}
	if opts.BatchWindow <= 0 {
		opts.BatchWindow = defaultBatchWindow
	}
	return &Detector{
		events:     events,
		store:      store,
		classifier: classifier,
		policies:   policies,
		logs:       logs,
		bus:        bus,
		metrics:    metrics,
		opts:       opts,
		logger:     slog.Default().With("component", "detector"),
		windows:    make(map[string]*window),
		lanes:      make(map[string]*llmLane),
	}
}

// Run consumes the ingest channel until it closes or ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-d.events:
			if !ok {
				return nil
			}
			d.handleEvent(ctx, ev)
		}
	}
}

func (d *Detector) handleEvent(ctx context.Context, ev models.LogEvent) {
	if ev.ServiceID == "" {
		return
	}

	win := d.windowFor(ev.ServiceID)
	win.add(ev)

	if d.bus != nil {
		d.bus.Publish(broker.LogTopic(ev.ServiceID), ev)
	}
	if d.logs != nil {
		if err := d.logs.InsertLogEvent(ctx, ev); err != nil {
			d.logger.Warn("Failed to persist log event", "service_id", ev.ServiceID, "error", err)
		}
	}

	pm := evaluatePatterns(ev, win)

	switch {
	case pm.Matched && pm.Severity == models.SeverityCritical:
		// Critical pattern hits bypass the LLM lane entirely.
		d.emit(ctx, d.patternCandidate(ev, pm, win))
	case ev.SeverityScore >= llmTriggerScore && d.classifier != nil && d.classifier.Available():
		d.scheduleClassify(ctx, ev, pm)
	case pm.Matched:
		d.emit(ctx, d.patternCandidate(ev, pm, win))
	}
}

func (d *Detector) windowFor(serviceID string) *window {
	d.mu.Lock()
	defer d.mu.Unlock()
	win, ok := d.windows[serviceID]
	if !ok {
		win = newWindow(d.opts.WindowSize)
		d.windows[serviceID] = win
	}
	return win
}

// scheduleClassify arms the tumbling batch window for the service. A
// trigger arriving while a batch is pending or a call is in flight is
// coalesced into it.
func (d *Detector) scheduleClassify(ctx context.Context, ev models.LogEvent, pm patternMatch) {
	d.mu.Lock()
	lane, ok := d.lanes[ev.ServiceID]
	if !ok {
		lane = &llmLane{}
		d.lanes[ev.ServiceID] = lane
	}
	if ev.SeverityScore >= lane.trigger.SeverityScore {
		lane.trigger = ev
	}
	if pm.Matched && (!lane.pattern.Matched || pm.Severity.Rank() > lane.pattern.Severity.Rank()) {
		lane.pattern = pm
	}
	if lane.scheduled || lane.inFlight {
		d.mu.Unlock()
		return
	}
	lane.scheduled = true
	d.mu.Unlock()

	serviceID := ev.ServiceID
	d.wg.Add(1)
	time.AfterFunc(d.opts.BatchWindow, func() {
		defer d.wg.Done()
		d.classify(ctx, serviceID)
	})
}

// classify runs the LLM lane once for the service, falling back to the
// pattern-lane verdict with reduced confidence on provider failure.
func (d *Detector) classify(ctx context.Context, serviceID string) {
	d.mu.Lock()
	lane := d.lanes[serviceID]
	if lane == nil || lane.inFlight {
		d.mu.Unlock()
		return
	}
	lane.scheduled = false
	lane.inFlight = true
	trigger := lane.trigger
	pattern := lane.pattern
	lane.trigger = models.LogEvent{}
	lane.pattern = patternMatch{}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		lane.inFlight = false
		d.mu.Unlock()
	}()

	if ctx.Err() != nil {
		return
	}

	win := d.windowFor(serviceID)
	lines := win.lines()

	provider := models.ProviderAuto
	if d.policies != nil {
		provider = d.policies.ProviderFor(ctx, serviceID)
	}

	serviceName := trigger.ServiceName
	if serviceName == "" {
		serviceName = serviceID
	}

	cand := models.IncidentCandidate{
		ServiceID:     serviceID,
		ServiceName:   serviceName,
		EnvironmentID: trigger.EnvironmentID,
		Fingerprint:   Fingerprint(trigger.Message, trigger.Level, serviceID),
		LogContext:    logContext(lines),
	}

	j, err := d.classifier.ClassifyWith(ctx, provider, serviceName, lines)
	if err != nil {
		d.logger.Warn("LLM classification failed, using pattern verdict",
			"service_id", serviceID, "error", err)
		if d.metrics != nil {
			d.metrics.Error("detector", "llm_classify")
		}
		cand.Severity = pattern.Severity
		cand.RecommendedAction = pattern.Action
		cand.RootCause = pattern.Cause
		if !pattern.Matched {
			cand.Severity = severityFromScore(trigger.SeverityScore)
			cand.RecommendedAction = models.ActionTypeNone
			cand.RootCause = truncate(trigger.Message, 200)
		}
		cand.Confidence = 0.5
		cand.Reasoning = "pattern match"
	} else {
		cand.Severity = j.Severity
		cand.Confidence = j.Confidence
		cand.RootCause = j.RootCause
		cand.RecommendedAction = j.RecommendedAction
		cand.Reasoning = j.Reasoning
	}

	d.emit(ctx, cand)
}

// patternCandidate builds a candidate directly from the pattern lane.
func (d *Detector) patternCandidate(ev models.LogEvent, pm patternMatch, win *window) models.IncidentCandidate {
	serviceName := ev.ServiceName
	if serviceName == "" {
		serviceName = ev.ServiceID
	}
	return models.IncidentCandidate{
		ServiceID:         ev.ServiceID,
		ServiceName:       serviceName,
		EnvironmentID:     ev.EnvironmentID,
		Fingerprint:       Fingerprint(ev.Message, ev.Level, ev.ServiceID),
		Severity:          pm.Severity,
		Confidence:        0.9,
		RootCause:         pm.Cause,
		RecommendedAction: pm.Action,
		Reasoning:         "pattern match",
		LogContext:        logContext(win.lines()),
	}
}

// emit upserts the candidate and publishes on created or updated.
func (d *Detector) emit(ctx context.Context, cand models.IncidentCandidate) {
	inc, outcome, err := d.store.Upsert(ctx, cand)
	if err != nil {
		d.logger.Error("Incident upsert failed",
			"service_id", cand.ServiceID, "fingerprint", cand.Fingerprint, "error", err)
		if d.metrics != nil {
			d.metrics.Error("detector", "upsert")
		}
		return
	}
	if outcome == models.UpsertSkipped {
		return
	}

	if d.metrics != nil {
		d.metrics.IncidentDetected(string(outcome))
	}
	if d.bus != nil {
		msg := broker.IncidentDetected{Incident: inc, Outcome: outcome}
		d.bus.Publish(broker.TopicIncidentsNew, msg)
		d.bus.Publish(broker.TopicDashboardIncidents, msg)
	}
	d.logger.Info("Incident detected",
		"incident_id", inc.ID, "service_id", inc.ServiceID,
		"severity", inc.Severity, "outcome", outcome)
}

func severityFromScore(score int) models.Severity {
	switch {
	case score >= 5:
		return models.SeverityCritical
	case score >= 4:
		return models.SeverityHigh
	case score >= 3:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func logContext(lines []string) models.JSONMap {
	if len(lines) > contextLines {
		lines = lines[len(lines)-contextLines:]
	}
	return models.JSONMap{"recent_logs": lines}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}
