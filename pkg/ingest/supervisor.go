package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/railwatch/railwatch/pkg/broker"
	"github.com/railwatch/railwatch/pkg/models"
	"github.com/railwatch/railwatch/pkg/telemetry"
)

const stopWaitCeiling = 5 * time.Second

// ConnectionInfo is one entry of the supervisor's health snapshot.
type ConnectionInfo struct {
	Target    models.MonitoringTarget `json:"target"`
	Alive     bool                    `json:"alive"`
	Connected bool                    `json:"connected"`
	State     State                   `json:"state"`
}

// Supervisor owns the dynamic set of subscription tasks keyed by target.
// Restarts are driven by the supervisor, never by the task itself.
type Supervisor struct {
	sink             chan<- models.LogEvent
	metrics          *telemetry.Collector
	bus              broker.Broker
	opts             Options
	maxRetryAttempts int
	logger           *slog.Logger

	mu    sync.Mutex
	tasks map[string]*supervisedTask

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

type supervisedTask struct {
	target models.MonitoringTarget
	token  string
	sub    *Subscription
	cancel context.CancelFunc

	// restart accounting (per rolling hour)
	restarts    int
	windowStart time.Time
	quarantined bool
	stopping    bool
}

// NewSupervisor creates a supervisor. bus may be nil when connection
// status fan-out is not needed (tests).
func NewSupervisor(sink chan<- models.LogEvent, metrics *telemetry.Collector, bus broker.Broker, maxRetryAttempts int, opts Options) *Supervisor {
	if maxRetryAttempts <= 0 {
		maxRetryAttempts = 10
	}
	return &Supervisor{
		sink:             sink,
		metrics:          metrics,
		bus:              bus,
		opts:             opts,
		maxRetryAttempts: maxRetryAttempts,
		logger:           slog.Default().With("component", "subscription-supervisor"),
		tasks:            make(map[string]*supervisedTask),
		stopCh:           make(chan struct{}),
	}
}

// Start launches a subscription for the target. Idempotent: starting an
// already-running target returns the existing handle.
func (s *Supervisor) Start(ctx context.Context, target models.MonitoringTarget, token string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := target.Key()
	if t, ok := s.tasks[key]; ok && !t.stopping {
		if t.quarantined {
			return nil, fmt.Errorf("target %s is quarantined; stop and start to re-enable", key)
		}
		return t.sub, nil
	}

	t := &supervisedTask{
		target:      target,
		token:       token,
		windowStart: time.Now(),
	}
	s.tasks[key] = t
	s.launchLocked(ctx, t)
	return t.sub, nil
}

// launchLocked spawns the task goroutine. Caller holds s.mu.
func (s *Supervisor) launchLocked(ctx context.Context, t *supervisedTask) {
	taskCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.sub = NewSubscription(t.target, t.token, s.sink, s.metrics, s.opts)

	sub := t.sub
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := sub.Run(taskCtx)
		s.onTaskExit(ctx, t, sub, err)
	}()

	s.publishStatus(t.target, models.SubscriptionConnecting, "")
}

// onTaskExit applies the restart policy after an abnormal exit.
func (s *Supervisor) onTaskExit(ctx context.Context, t *supervisedTask, exited *Subscription, err error) {
	s.mu.Lock()
	if t.stopping || t.sub != exited {
		s.mu.Unlock()
		return
	}

	select {
	case <-s.stopCh:
		s.mu.Unlock()
		return
	default:
	}

	if ctx.Err() != nil || err == nil {
		// Normal exit (explicit stop or parent shutdown): no restart.
		s.mu.Unlock()
		s.publishStatus(t.target, models.SubscriptionDisconnected, "")
		return
	}

	now := time.Now()
	if now.Sub(t.windowStart) > time.Hour {
		t.windowStart = now
		t.restarts = 0
	}
	t.restarts++
	if t.restarts > s.maxRetryAttempts {
		t.quarantined = true
		s.mu.Unlock()
		s.logger.Error("Target quarantined after repeated failures",
			"target", t.target.Key(), "restarts_in_window", t.restarts)
		s.publishStatus(t.target, models.SubscriptionError, "quarantined")
		return
	}

	// Exponential backoff with jitter before relaunch.
	delay := BackoffForAttempt(t.restarts)
	delay += time.Duration(rand.Int64N(int64(delay / 4)))
	restarts := t.restarts
	s.mu.Unlock()

	s.logger.Warn("Subscription task exited abnormally, restarting",
		"target", t.target.Key(), "error", err, "delay", delay, "restarts_in_window", restarts)
	s.publishStatus(t.target, models.SubscriptionError, err.Error())

	select {
	case <-s.stopCh:
		return
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t.stopping || t.quarantined || t.sub != exited {
		return
	}
	s.launchLocked(ctx, t)
}

// Stop terminates the target's task, waiting up to 5s for it to exit.
// Idempotent: stopping an unknown target is a no-op.
func (s *Supervisor) Stop(target models.MonitoringTarget) {
	key := target.Key()

	s.mu.Lock()
	t, ok := s.tasks[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	t.stopping = true
	sub := t.sub
	cancel := t.cancel
	delete(s.tasks, key)
	s.mu.Unlock()

	sub.Stop()
	select {
	case <-sub.Done():
	case <-time.After(stopWaitCeiling):
		s.logger.Warn("Subscription did not exit within ceiling, cancelling", "target", key)
		cancel()
	}
	s.publishStatus(target, models.SubscriptionDisconnected, "")
}

// Restart stops then starts the target; sequential per target.
func (s *Supervisor) Restart(ctx context.Context, target models.MonitoringTarget, token string) (*Subscription, error) {
	s.Stop(target)
	return s.Start(ctx, target, token)
}

// SubscribeToLogs forwards to the running instance for the target.
func (s *Supervisor) SubscribeToLogs(ctx context.Context, target models.MonitoringTarget, opts SubscribeOptions) (string, error) {
	sub := s.lookup(target)
	if sub == nil {
		return "", fmt.Errorf("no running subscription for target %s", target.Key())
	}
	return sub.SubscribeToLogs(ctx, opts)
}

// Unsubscribe forwards to the running instance for the target.
func (s *Supervisor) Unsubscribe(ctx context.Context, target models.MonitoringTarget, subID string) error {
	sub := s.lookup(target)
	if sub == nil {
		return fmt.Errorf("no running subscription for target %s", target.Key())
	}
	return sub.Unsubscribe(ctx, subID)
}

func (s *Supervisor) lookup(target models.MonitoringTarget) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[target.Key()]; ok {
		return t.sub
	}
	return nil
}

// ListConnections returns `{target, alive, connected}` snapshots.
func (s *Supervisor) ListConnections() []ConnectionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]ConnectionInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		alive := false
		select {
		case <-t.sub.Done():
		default:
			alive = true
		}
		infos = append(infos, ConnectionInfo{
			Target:    t.target,
			Alive:     alive,
			Connected: t.sub.Connected(),
			State:     t.sub.Snapshot(),
		})
	}
	return infos
}

// Stats publishes the connection counts into telemetry and returns them.
func (s *Supervisor) Stats() (active, total int) {
	for _, info := range s.ListConnections() {
		total++
		if info.Connected {
			active++
		}
	}
	if s.metrics != nil {
		s.metrics.SetSubscriptions(active, total)
	}
	return active, total
}

// HasConnected reports whether at least one subscription is connected.
// Used by the health endpoint's log_stream component.
func (s *Supervisor) HasConnected() bool {
	active, _ := s.Stats()
	return active > 0
}

// Shutdown stops all targets and waits for their tasks.
func (s *Supervisor) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	targets := make([]models.MonitoringTarget, 0, len(s.tasks))
	for _, t := range s.tasks {
		targets = append(targets, t.target)
	}
	s.mu.Unlock()

	for _, target := range targets {
		s.Stop(target)
	}
	s.wg.Wait()
	s.logger.Info("Supervisor stopped")
}

func (s *Supervisor) publishStatus(target models.MonitoringTarget, status models.SubscriptionStatus, errMsg string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(broker.ConnectionTopic(target.ProjectID), broker.ConnectionStatus{
		Target: target,
		Status: status,
		Error:  errMsg,
	})
}
