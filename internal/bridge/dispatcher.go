package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessagePublisher sends messages to the broker.
// Satisfied by *mqtt.Client; mocked in tests.
type MessagePublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// TopicBuilder constructs per-device topic strings.
// Satisfied by mqtt.Topics.
type TopicBuilder interface {
	DeviceCommand(deviceID string) string
}

// Outcome is the terminal result of a command.
type Outcome struct {
	Status  CommandStatus `json:"status"`
	Message string        `json:"message,omitempty"`
}

// Command is a dispatched command awaiting its response.
type Command struct {
	CorrelationID string
	DeviceID      string
	Action        string
	IssuedAt      time.Time

	done chan Outcome
}

// Wait blocks until the command reaches a terminal state or the
// context is cancelled. Every issued command terminates: a device
// response, a cancellation, or the timeout fires.
func (c *Command) Wait(ctx context.Context) (Outcome, error) {
	select {
	case outcome := <-c.done:
		return outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// pendingCommand is the dispatcher's internal slot for an in-flight command.
type pendingCommand struct {
	cmd   *Command
	timer *time.Timer
}

// Dispatcher issues commands to devices over MQTT and matches
// responses back by correlation id.
//
// Every command gets a fresh UUID correlation id, a per-command
// timeout, and exactly one terminal outcome: resolved, cancelled, or
// timed out. Late or duplicate responses are logged and dropped; a
// resolved command is never reopened. The pending table is bounded;
// at capacity the oldest in-flight command is force-expired to make
// room.
//
// All methods are safe for concurrent use.
type Dispatcher struct {
	publisher      MessagePublisher
	topics         TopicBuilder
	audit          CommandAuditRepository
	events         EventPublisher
	defaultTimeout time.Duration
	maxPending     int

	mu      sync.Mutex
	pending map[string]*pendingCommand
	order   []string // correlation ids in issue order, oldest first

	logger Logger
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// DefaultTimeout applies when Issue is called with a zero timeout.
	DefaultTimeout time.Duration

	// MaxPending bounds the in-flight command table. At the cap the
	// oldest pending command is force-expired.
	MaxPending int

	// Audit persists the command trail. Optional.
	Audit CommandAuditRepository

	// Events receives command_result and command_timeout events. Optional.
	Events EventPublisher
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher(publisher MessagePublisher, topics TopicBuilder, opts DispatcherOptions) *Dispatcher {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 10 * time.Second
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = 256
	}
	events := opts.Events
	if events == nil {
		events = noopPublisher{}
	}

	return &Dispatcher{
		publisher:      publisher,
		topics:         topics,
		audit:          opts.Audit,
		events:         events,
		defaultTimeout: opts.DefaultTimeout,
		maxPending:     opts.MaxPending,
		pending:        make(map[string]*pendingCommand),
		logger:         noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Issue publishes a command to a device and registers it for response
// matching. The returned Command carries the correlation id and can be
// waited on. A zero timeout uses the dispatcher default.
func (d *Dispatcher) Issue(ctx context.Context, deviceID, action string, params map[string]any, timeout time.Duration) (*Command, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidCommand)
	}
	if action == "" {
		return nil, fmt.Errorf("%w: action is required", ErrInvalidCommand)
	}
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	correlationID := uuid.New().String()
	payload, err := json.Marshal(map[string]any{
		"command":        action,
		"params":         params,
		"correlation_id": correlationID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling command: %w", err)
	}

	cmd := &Command{
		CorrelationID: correlationID,
		DeviceID:      deviceID,
		Action:        action,
		IssuedAt:      time.Now().UTC(),
		done:          make(chan Outcome, 1),
	}

	d.mu.Lock()
	d.evictIfFullLocked()
	d.pending[correlationID] = &pendingCommand{
		cmd:   cmd,
		timer: time.AfterFunc(timeout, func() { d.expire(correlationID) }),
	}
	d.order = append(d.order, correlationID)
	d.mu.Unlock()

	if err := d.publisher.Publish(d.topics.DeviceCommand(deviceID), payload, 1, false); err != nil {
		d.remove(correlationID)
		return nil, fmt.Errorf("publishing command: %w", err)
	}

	if d.audit != nil {
		record := &CommandRecord{
			CorrelationID: correlationID,
			DeviceID:      deviceID,
			Action:        action,
			Params:        params,
			Status:        CommandPending,
			IssuedAt:      cmd.IssuedAt,
		}
		if err := d.audit.Record(ctx, record); err != nil {
			d.logger.Error("failed to record command audit entry",
				"correlation_id", correlationID, "error", err)
		}
	}

	d.logger.Debug("command issued",
		"device_id", deviceID, "action", action,
		"correlation_id", correlationID, "timeout", timeout)
	return cmd, nil
}

// Resolve completes a pending command with the device's response.
// Returns false when the correlation id is unknown, already resolved,
// or already timed out; the response is dropped either way.
func (d *Dispatcher) Resolve(correlationID string, outcome Outcome) bool {
	d.mu.Lock()
	p, ok := d.pending[correlationID]
	if !ok {
		d.mu.Unlock()
		d.logger.Warn("response for unknown correlation id dropped",
			"correlation_id", correlationID, "status", outcome.Status)
		return false
	}
	p.timer.Stop()
	d.removeLocked(correlationID)
	d.mu.Unlock()

	d.finish(p.cmd, outcome, EventCommandResult)
	return true
}

// ResolveOldestForDevice completes the oldest pending command for a
// device. This is the degraded-mode fallback for firmware that omits
// the correlation id from responses; every use is logged loudly.
func (d *Dispatcher) ResolveOldestForDevice(deviceID string, outcome Outcome) (string, bool) {
	d.mu.Lock()
	var p *pendingCommand
	for _, id := range d.order {
		candidate, ok := d.pending[id]
		if ok && candidate.cmd.DeviceID == deviceID {
			p = candidate
			break
		}
	}
	if p == nil {
		d.mu.Unlock()
		d.logger.Warn("uncorrelated response with no pending command dropped",
			"device_id", deviceID, "status", outcome.Status)
		return "", false
	}
	p.timer.Stop()
	d.removeLocked(p.cmd.CorrelationID)
	d.mu.Unlock()

	d.logger.Warn("uncorrelated response matched to oldest pending command",
		"device_id", deviceID, "correlation_id", p.cmd.CorrelationID,
		"action", p.cmd.Action)
	d.finish(p.cmd, outcome, EventCommandResult)
	return p.cmd.CorrelationID, true
}

// Cancel aborts a pending command. The command completes with status
// failed; a response arriving afterwards is dropped like any other
// late response.
func (d *Dispatcher) Cancel(correlationID, reason string) bool {
	if reason == "" {
		reason = "cancelled"
	}

	d.mu.Lock()
	p, ok := d.pending[correlationID]
	if !ok {
		d.mu.Unlock()
		return false
	}
	p.timer.Stop()
	d.removeLocked(correlationID)
	d.mu.Unlock()

	d.logger.Info("command cancelled",
		"correlation_id", correlationID, "device_id", p.cmd.DeviceID, "reason", reason)
	d.finish(p.cmd, Outcome{Status: CommandFailed, Message: reason}, EventCommandResult)
	return true
}

// PendingCount returns the number of in-flight commands.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close expires every pending command. Used during shutdown so
// waiters are released rather than parked forever.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	var commands []*pendingCommand
	for _, p := range d.pending {
		p.timer.Stop()
		commands = append(commands, p)
	}
	d.pending = make(map[string]*pendingCommand)
	d.order = nil
	d.mu.Unlock()

	for _, p := range commands {
		d.finish(p.cmd, Outcome{Status: CommandFailed, Message: "dispatcher shutting down"}, EventCommandResult)
	}
}

// expire fires when a command's timeout elapses. A command that was
// resolved in the meantime is left alone, so the timed_out outcome is
// emitted at most once.
func (d *Dispatcher) expire(correlationID string) {
	d.mu.Lock()
	p, ok := d.pending[correlationID]
	if !ok {
		d.mu.Unlock()
		return
	}
	d.removeLocked(correlationID)
	d.mu.Unlock()

	d.logger.Warn("command timed out",
		"correlation_id", correlationID, "device_id", p.cmd.DeviceID,
		"action", p.cmd.Action)
	d.finish(p.cmd, Outcome{Status: CommandTimedOut, Message: "no response before deadline"}, EventCommandTimeout)
}

// evictIfFullLocked force-expires the oldest pending command when the
// table is at capacity. Callers must hold d.mu.
func (d *Dispatcher) evictIfFullLocked() {
	for len(d.pending) >= d.maxPending && len(d.order) > 0 {
		oldest := d.order[0]
		p, ok := d.pending[oldest]
		if !ok {
			d.order = d.order[1:]
			continue
		}
		p.timer.Stop()
		d.removeLocked(oldest)

		d.logger.Warn("pending command table full, force-expiring oldest",
			"correlation_id", oldest, "device_id", p.cmd.DeviceID)
		go d.finish(p.cmd, Outcome{Status: CommandTimedOut, Message: "evicted: pending command limit reached"}, EventCommandTimeout)
	}
}

// remove drops a pending command without emitting an outcome. Used
// when publish fails and the caller gets the error directly.
func (d *Dispatcher) remove(correlationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pending[correlationID]; ok {
		p.timer.Stop()
		d.removeLocked(correlationID)
	}
}

// removeLocked deletes a command from the pending table and issue
// order. Callers must hold d.mu.
func (d *Dispatcher) removeLocked(correlationID string) {
	delete(d.pending, correlationID)
	for i, id := range d.order {
		if id == correlationID {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// finish delivers the terminal outcome: wakes the waiter, completes
// the audit entry, and emits the fan-out event.
func (d *Dispatcher) finish(cmd *Command, outcome Outcome, eventType EventType) {
	now := time.Now().UTC()

	cmd.done <- outcome

	if d.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.audit.Complete(ctx, cmd.CorrelationID, outcome.Status, outcome.Message, now); err != nil {
			d.logger.Error("failed to complete command audit entry",
				"correlation_id", cmd.CorrelationID, "error", err)
		}
	}

	d.events.PublishEvent(Event{
		Type:      eventType,
		DeviceID:  cmd.DeviceID,
		Timestamp: now,
		Payload: map[string]any{
			"correlation_id": cmd.CorrelationID,
			"command":        cmd.Action,
			"status":         string(outcome.Status),
			"message":        outcome.Message,
		},
	})
}
