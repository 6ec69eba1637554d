// Package ingest owns the long-lived log subscriptions: one GraphQL-over-
// WebSocket stream per monitoring target, with reconnect, backoff, and
// heartbeat, plus the supervisor that manages the set of streams.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/railwatch/railwatch/pkg/models"
	"github.com/railwatch/railwatch/pkg/telemetry"
)

// Backoff bounds from the subscription state invariant.
const (
	minBackoff = 5 * time.Second
	maxBackoff = 60 * time.Second
)

var errStopped = errors.New("subscription stopped")

// Conn is the transport used by a subscription. *websocket.Conn satisfies
// it through wsConn; tests substitute an in-memory implementation.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a transport connection to the given URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

// wsConn adapts coder/websocket to Conn.
type wsConn struct{ c *websocket.Conn }

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "bye")
}

// DefaultDialer dials with coder/websocket.
func DefaultDialer(ctx context.Context, rawURL string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{
		Subprotocols: []string{"graphql-transport-ws"},
	})
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(1 << 20)
	return &wsConn{c: c}, nil
}

// State is the snapshot of one subscription's connection state.
type State struct {
	Target             models.MonitoringTarget   `json:"target"`
	Status             models.SubscriptionStatus `json:"status"`
	LastHeartbeat      time.Time                 `json:"last_heartbeat"`
	ConnectionAttempts int                       `json:"connection_attempts"`
	BackoffMs          int64                     `json:"backoff_ms"`
	LastError          string                    `json:"last_error,omitempty"`
	Subscriptions      map[string]string         `json:"subscriptions"`
	BufferSize         int                       `json:"buffer_size"`
	Dropped            uint64                    `json:"dropped"`
}

// Options configure one subscription task.
type Options struct {
	Endpoint          string // wss endpoint; token is appended as URL parameter
	ConnectionTimeout time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	BufferCapacity    int
	Dialer            Dialer
	Subscribe         SubscribeOptions
}

func (o *Options) applyDefaults() {
	if o.ConnectionTimeout <= 0 {
		o.ConnectionTimeout = 30 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 45 * time.Second
	}
	if o.BufferCapacity <= 0 {
		o.BufferCapacity = 1000
	}
	if o.Dialer == nil {
		o.Dialer = DefaultDialer
	}
	if o.Endpoint == "" {
		o.Endpoint = "wss://backboard.railway.app/graphql/v2"
	}
}

// Subscription is the per-target state machine. It is owned by a single
// task started via Run; public methods are safe to call concurrently.
type Subscription struct {
	target  models.MonitoringTarget
	token   string
	opts    Options
	sink    chan<- models.LogEvent
	metrics *telemetry.Collector
	logger  *slog.Logger

	buffer *eventBuffer

	mu            sync.Mutex
	status        models.SubscriptionStatus
	lastHeartbeat time.Time
	attempts      int
	backoff       time.Duration
	lastError     string
	subs          map[string]subscribePayload
	conn          Conn
	writeMu       sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSubscription creates a subscription task for one target.
func NewSubscription(target models.MonitoringTarget, token string, sink chan<- models.LogEvent, metrics *telemetry.Collector, opts Options) *Subscription {
	opts.applyDefaults()
	return &Subscription{
		target:  target,
		token:   token,
		opts:    opts,
		sink:    sink,
		metrics: metrics,
		logger:  slog.Default().With("component", "log-subscription", "target", target.Key()),
		buffer:  newEventBuffer(opts.BufferCapacity),
		status:  models.SubscriptionDisconnected,
		backoff: minBackoff,
		subs:    make(map[string]subscribePayload),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run drives the state machine until Stop or context cancellation. It
// must be called exactly once, in its own goroutine.
func (s *Subscription) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.buffer.close()

	// Stop must unblock a pending read promptly; derive a context that
	// is cancelled when stop is requested.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	go s.pump(ctx)

	for {
		select {
		case <-s.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := s.connectAndServe(ctx)
		if errors.Is(err, errStopped) || ctx.Err() != nil {
			s.setStatus(models.SubscriptionDisconnected)
			return nil
		}

		delay := s.recordFailure(err)
		s.logger.Warn("Subscription error, scheduling reconnect",
			"error", err, "backoff", delay, "attempts", s.Snapshot().ConnectionAttempts)

		select {
		case <-s.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Stop requests a graceful shutdown: complete frames are sent and the
// state transitions to Disconnected without backoff rescheduling.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Done is closed when the task exits.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Connected reports whether the transport is acknowledged.
func (s *Subscription) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == models.SubscriptionConnected
}

// Snapshot returns a copy of the current state.
func (s *Subscription) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make(map[string]string, len(s.subs))
	for id, p := range s.subs {
		subs[id] = fmt.Sprintf("%v", p.Variables["filter"])
	}
	return State{
		Target:             s.target,
		Status:             s.status,
		LastHeartbeat:      s.lastHeartbeat,
		ConnectionAttempts: s.attempts,
		BackoffMs:          s.backoff.Milliseconds(),
		LastError:          s.lastError,
		Subscriptions:      subs,
		BufferSize:         s.buffer.len(),
		Dropped:            s.buffer.droppedCount(),
	}
}

// SubscribeToLogs registers an additional subscription and issues it if
// the transport is connected. Returns the subscription id.
func (s *Subscription) SubscribeToLogs(ctx context.Context, opts SubscribeOptions) (string, error) {
	id := uuid.New().String()
	payload := buildSubscription(s.target.EnvironmentID, s.target.ServiceID, opts)

	s.mu.Lock()
	s.subs[id] = payload
	conn := s.conn
	connected := s.status == models.SubscriptionConnected
	s.mu.Unlock()

	if connected && conn != nil {
		if err := s.writeSubscribe(ctx, conn, id, payload); err != nil {
			return "", err
		}
	}
	return id, nil
}

// Unsubscribe sends a complete frame for the id; the transport stays open.
func (s *Subscription) Unsubscribe(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.subs[id]
	delete(s.subs, id)
	conn := s.conn
	connected := s.status == models.SubscriptionConnected
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown subscription id %s", id)
	}
	if connected && conn != nil {
		return s.write(ctx, conn, marshalFrame(frame{ID: id, Type: frameComplete}))
	}
	return nil
}

// connectAndServe performs one Disconnected→Connecting→Connected cycle
// and serves frames until an error, heartbeat timeout, or stop.
func (s *Subscription) connectAndServe(ctx context.Context) error {
	s.mu.Lock()
	s.status = models.SubscriptionConnecting
	s.attempts++
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectionTimeout)
	conn, err := s.opts.Dialer(dialCtx, s.streamURL())
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	if err := s.write(ctx, conn, marshalFrame(frame{Type: frameConnectionInit})); err != nil {
		return fmt.Errorf("connection_init: %w", err)
	}

	if err := s.awaitAck(ctx, conn); err != nil {
		return err
	}

	s.onConnected()

	// Re-issue prior subscriptions; the first connection registers the
	// default one for the target.
	if err := s.issueSubscriptions(ctx, conn); err != nil {
		return err
	}

	// Heartbeat pinger owns its ticker; the read loop owns the conn reads.
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go s.pingLoop(pingCtx, conn)

	return s.readLoop(ctx, conn)
}

// streamURL appends the bearer token as a URL parameter.
func (s *Subscription) streamURL() string {
	u := s.opts.Endpoint
	sep := "?"
	if parsed, err := url.Parse(u); err == nil && parsed.RawQuery != "" {
		sep = "&"
	}
	return u + sep + "token=" + url.QueryEscape(s.token)
}

// awaitAck waits for connection_ack within the handshake timeout.
func (s *Subscription) awaitAck(ctx context.Context, conn Conn) error {
	ackCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectionTimeout)
	defer cancel()

	for {
		data, err := conn.Read(ackCtx)
		if err != nil {
			return fmt.Errorf("awaiting connection_ack: %w", err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("decoding handshake frame: %w", err)
		}
		switch f.Type {
		case frameConnectionAck:
			return nil
		case framePing:
			if err := s.write(ctx, conn, marshalFrame(frame{Type: framePong})); err != nil {
				return err
			}
		default:
			// Ignore anything else before the ack.
		}
	}
}

func (s *Subscription) onConnected() {
	s.mu.Lock()
	s.status = models.SubscriptionConnected
	s.attempts = 0
	s.backoff = minBackoff
	s.lastHeartbeat = time.Now()
	s.lastError = ""
	s.mu.Unlock()
	s.logger.Info("Subscription connected")
}

// issueSubscriptions sends subscribe frames for all registered queries,
// creating the default one when none exist yet.
func (s *Subscription) issueSubscriptions(ctx context.Context, conn Conn) error {
	s.mu.Lock()
	if len(s.subs) == 0 {
		id := uuid.New().String()
		s.subs[id] = buildSubscription(s.target.EnvironmentID, s.target.ServiceID, s.opts.Subscribe)
	}
	pending := make(map[string]subscribePayload, len(s.subs))
	for id, p := range s.subs {
		pending[id] = p
	}
	s.mu.Unlock()

	for id, payload := range pending {
		if err := s.writeSubscribe(ctx, conn, id, payload); err != nil {
			return fmt.Errorf("subscribe %s: %w", id, err)
		}
	}
	return nil
}

func (s *Subscription) writeSubscribe(ctx context.Context, conn Conn, id string, payload subscribePayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.write(ctx, conn, marshalFrame(frame{ID: id, Type: frameSubscribe, Payload: raw}))
}

// pingLoop sends a ping every heartbeat interval.
func (s *Subscription) pingLoop(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.write(ctx, conn, marshalFrame(frame{Type: framePing})); err != nil {
				return
			}
		}
	}
}

// readLoop consumes frames until error, heartbeat timeout, or stop. Each
// read is bounded by the heartbeat timeout: if no frame of any kind
// arrives in that window the subscription transitions to Error.
func (s *Subscription) readLoop(ctx context.Context, conn Conn) error {
	for {
		select {
		case <-s.stopCh:
			return s.gracefulComplete(ctx, conn)
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		readCtx, cancel := context.WithTimeout(ctx, s.opts.HeartbeatTimeout)
		data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			select {
			case <-s.stopCh:
				return s.gracefulComplete(ctx, conn)
			default:
			}
			if readCtx.Err() != nil && ctx.Err() == nil {
				return fmt.Errorf("heartbeat timeout after %s", s.opts.HeartbeatTimeout)
			}
			return fmt.Errorf("read: %w", err)
		}

		s.mu.Lock()
		s.lastHeartbeat = time.Now()
		s.mu.Unlock()

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn("Discarding undecodable frame", "error", err)
			continue
		}

		switch f.Type {
		case framePing:
			if err := s.write(ctx, conn, marshalFrame(frame{Type: framePong})); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
		case framePong, frameConnectionAck:
			// Heartbeat already recorded.
		case frameNext, frameData:
			s.handleNext(f)
		case frameError:
			msg := "subscription error"
			var ep errorPayload
			if err := json.Unmarshal(f.Payload, &ep); err == nil && len(ep) > 0 {
				msg = ep[0].Message
			}
			s.mu.Lock()
			delete(s.subs, f.ID)
			s.mu.Unlock()
			return errors.New(msg)
		case frameComplete:
			s.mu.Lock()
			delete(s.subs, f.ID)
			remaining := len(s.subs)
			s.mu.Unlock()
			s.logger.Info("Subscription completed by peer", "subscription_id", f.ID, "remaining", remaining)
		}
	}
}

// handleNext normalizes and buffers every log entry in a next frame.
func (s *Subscription) handleNext(f frame) {
	var payload nextPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		s.logger.Warn("Discarding undecodable next payload", "error", err)
		return
	}
	entries := payload.Data.EnvironmentLogs
	if len(entries) == 0 {
		entries = payload.Data.DeploymentLogs
	}
	before := s.buffer.droppedCount()
	for _, entry := range entries {
		ev := normalizeEntry(entry, s.target, "")
		if ev.ServiceID == "" {
			continue
		}
		s.buffer.push(ev)
		if s.metrics != nil {
			s.metrics.EventIngested()
		}
	}
	if s.metrics != nil {
		s.metrics.EventsDropped(s.buffer.droppedCount() - before)
	}
}

// gracefulComplete sends complete frames for all live subscriptions.
func (s *Subscription) gracefulComplete(ctx context.Context, conn Conn) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	completeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	for _, id := range ids {
		_ = s.write(completeCtx, conn, marshalFrame(frame{ID: id, Type: frameComplete}))
	}
	return errStopped
}

// recordFailure transitions to Error and returns the backoff delay:
// min(5000·2^(attempts−1), 60000) ms.
func (s *Subscription) recordFailure(err error) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = models.SubscriptionError
	if err != nil {
		s.lastError = err.Error()
	}
	s.backoff = BackoffForAttempt(s.attempts)
	return s.backoff
}

func (s *Subscription) setStatus(status models.SubscriptionStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// BackoffForAttempt computes min(5000·2^(attempt−1), 60000) ms, clamped
// to the [5s, 60s] invariant.
func BackoffForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 4 {
		return maxBackoff
	}
	d := minBackoff * time.Duration(1<<shift)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// write serializes frame writes; readLoop and pingLoop share the conn.
func (s *Subscription) write(ctx context.Context, conn Conn, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.Write(ctx, data)
}

// pump forwards buffered events into the shared ingest channel, keeping
// per-service ordering intact.
func (s *Subscription) pump(ctx context.Context) {
	for {
		ev, ok := s.buffer.pop()
		if !ok {
			return
		}
		select {
		case s.sink <- ev:
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}
