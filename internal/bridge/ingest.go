package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sprchuoi/Smart-Server/internal/device"
	"github.com/sprchuoi/Smart-Server/internal/infrastructure/mqtt"
)

// MQTTClient is the broker surface the ingestor needs.
// Satisfied by *mqtt.Client; mocked in tests.
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// DeviceRegistry applies device state mutations.
// Satisfied by *device.Registry.
type DeviceRegistry interface {
	UpsertStatus(ctx context.Context, deviceID string, payload map[string]any, receivedAt time.Time) (*device.Device, error)
	RecordSensor(ctx context.Context, deviceID, sensorType string, value float64, unit string, at time.Time) error
	MarkStale(ctx context.Context, now time.Time, timeout time.Duration) ([]string, error)
}

// TimeSeriesWriter mirrors readings and status flips into the
// time-series database. Optional; nil disables mirroring.
type TimeSeriesWriter interface {
	WriteSensorReading(deviceID, sensorType string, value float64, unit string, at time.Time)
	WriteDeviceStatus(deviceID, status string, at time.Time)
}

// responsePayload is the wire shape devices publish on their response channel.
type responsePayload struct {
	DeviceID      string `json:"device_id"`
	Command       string `json:"command"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}

// IngestorConfig configures an Ingestor.
type IngestorConfig struct {
	// StaleTimeout is how long a device may stay silent before the
	// sweep marks it offline.
	StaleTimeout time.Duration

	// SweepInterval is how often the staleness sweep runs.
	SweepInterval time.Duration
}

// Ingestor consumes device traffic from the broker and applies it to
// the registry and dispatcher.
//
// One message handler runs at a time per subscription, so updates for
// a device apply in the order the broker delivered them. Malformed
// payloads and unroutable topics are logged and dropped; the worker
// keeps running. The only fatal condition is registry contention,
// which is surfaced through the fatal callback so supervision can
// restart the process.
type Ingestor struct {
	client     MQTTClient
	topics     mqtt.Topics
	registry   DeviceRegistry
	dispatcher *Dispatcher
	events     EventPublisher
	tsdb       TimeSeriesWriter
	cfg        IngestorConfig

	onFatal func(error)

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewIngestor creates an ingestor. The time-series writer and event
// publisher may be nil.
func NewIngestor(client MQTTClient, topics mqtt.Topics, registry DeviceRegistry, dispatcher *Dispatcher, events EventPublisher, tsdb TimeSeriesWriter, cfg IngestorConfig) *Ingestor {
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 2 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if events == nil {
		events = noopPublisher{}
	}

	return &Ingestor{
		client:     client,
		topics:     topics,
		registry:   registry,
		dispatcher: dispatcher,
		events:     events,
		tsdb:       tsdb,
		cfg:        cfg,
		done:       make(chan struct{}),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the ingestor.
func (i *Ingestor) SetLogger(logger Logger) {
	i.logger = logger
}

// SetOnFatal registers a callback invoked when the ingestor hits an
// unrecoverable error. The callback runs on the handler goroutine.
func (i *Ingestor) SetOnFatal(callback func(error)) {
	i.onFatal = callback
}

// Start subscribes to the device topic tree and launches the
// staleness sweeper. It returns after subscriptions are registered.
func (i *Ingestor) Start(ctx context.Context) error {
	subscriptions := []struct {
		filter  string
		handler mqtt.MessageHandler
	}{
		{i.topics.AllDeviceStatus(), i.handleStatus},
		{i.topics.AllDeviceSensors(), i.handleSensor},
		{i.topics.AllDeviceResponses(), i.handleResponse},
	}

	for _, sub := range subscriptions {
		if err := i.client.Subscribe(sub.filter, 1, sub.handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", sub.filter, err)
		}
	}

	i.wg.Add(1)
	go i.sweepLoop(ctx)

	i.logger.Info("ingestor started",
		"stale_timeout", i.cfg.StaleTimeout,
		"sweep_interval", i.cfg.SweepInterval)
	return nil
}

// Stop shuts down the staleness sweeper. Subscriptions are torn down
// with the MQTT client itself.
func (i *Ingestor) Stop() {
	i.stopOnce.Do(func() {
		close(i.done)
	})
	i.wg.Wait()
}

// handleStatus applies a status announcement.
func (i *Ingestor) handleStatus(topic string, payload []byte) error {
	route, err := ParseTopic(topic)
	if err != nil {
		return err
	}

	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("%w: status on %s: %v", ErrMalformedPayload, topic, err)
	}

	ctx, cancel := i.handlerContext()
	defer cancel()

	now := time.Now().UTC()
	dev, err := i.registry.UpsertStatus(ctx, route.DeviceID, body, now)
	if err != nil {
		return i.classify(fmt.Errorf("upserting status for %s: %w", route.DeviceID, err))
	}

	i.events.PublishEvent(Event{
		Type:      EventDeviceStatus,
		DeviceID:  dev.ID,
		Timestamp: now,
		Payload: map[string]any{
			"status":           string(dev.Status),
			"type":             dev.Type,
			"firmware_version": dev.FirmwareVersion,
			"metadata":         dev.Metadata,
		},
	})

	if i.tsdb != nil {
		i.tsdb.WriteDeviceStatus(dev.ID, string(dev.Status), now)
	}

	return nil
}

// handleSensor applies one or more sensor readings from a message.
//
// Two payload shapes are accepted: {"value": 21.5, "unit": "C"} for a
// single reading on the topic's sensor type, or a flat numeric map
// where each field becomes a reading ({"temperature": 21.5, ...}).
func (i *Ingestor) handleSensor(topic string, payload []byte) error {
	route, err := ParseTopic(topic)
	if err != nil {
		return err
	}
	if route.Channel != ChannelSensor {
		i.logger.Warn("message on unknown channel dropped", "topic", topic, "channel", route.Channel)
		return nil
	}

	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("%w: sensor reading on %s: %v", ErrMalformedPayload, topic, err)
	}

	readings, err := extractReadings(route.SensorType, body)
	if err != nil {
		return fmt.Errorf("%w: sensor reading on %s: %v", ErrMalformedPayload, topic, err)
	}

	ctx, cancel := i.handlerContext()
	defer cancel()

	now := time.Now().UTC()
	for _, reading := range readings {
		if err := i.registry.RecordSensor(ctx, route.DeviceID, reading.SensorType, reading.Value, reading.Unit, now); err != nil {
			return i.classify(fmt.Errorf("recording %s reading for %s: %w", reading.SensorType, route.DeviceID, err))
		}

		i.events.PublishEvent(Event{
			Type:      EventSensorReading,
			DeviceID:  route.DeviceID,
			Timestamp: now,
			Payload: map[string]any{
				"sensor_type": reading.SensorType,
				"value":       reading.Value,
				"unit":        reading.Unit,
			},
		})

		if i.tsdb != nil {
			i.tsdb.WriteSensorReading(route.DeviceID, reading.SensorType, reading.Value, reading.Unit, now)
		}
	}

	return nil
}

// handleResponse matches a device response to its pending command.
func (i *Ingestor) handleResponse(topic string, payload []byte) error {
	route, err := ParseTopic(topic)
	if err != nil {
		return err
	}

	var body responsePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("%w: response on %s: %v", ErrMalformedPayload, topic, err)
	}

	outcome := Outcome{Message: body.Message}
	switch body.Status {
	case "success":
		outcome.Status = CommandSuccess
	case "error":
		outcome.Status = CommandError
	default:
		return fmt.Errorf("%w: response on %s has status %q", ErrMalformedPayload, topic, body.Status)
	}

	if body.CorrelationID != "" {
		if !i.dispatcher.Resolve(body.CorrelationID, outcome) {
			return fmt.Errorf("%w: %s", ErrUnknownCorrelation, body.CorrelationID)
		}
		return nil
	}

	// Firmware that omits the correlation id gets best-effort matching
	// against the oldest pending command for the device.
	if _, ok := i.dispatcher.ResolveOldestForDevice(route.DeviceID, outcome); !ok {
		return fmt.Errorf("%w: uncorrelated response from %s", ErrUnknownCorrelation, route.DeviceID)
	}
	return nil
}

// sweepLoop periodically marks silent devices offline.
func (i *Ingestor) sweepLoop(ctx context.Context) {
	defer i.wg.Done()

	ticker := time.NewTicker(i.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.done:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			i.sweep(ctx, now.UTC())
		}
	}
}

// sweep runs a single staleness pass and fans out the transitions.
func (i *Ingestor) sweep(ctx context.Context, now time.Time) {
	transitioned, err := i.registry.MarkStale(ctx, now, i.cfg.StaleTimeout)
	if err != nil {
		if isContentionError(err) {
			i.classify(err)
			return
		}
		i.logger.Error("staleness sweep failed", "error", err)
	}

	for _, id := range transitioned {
		i.events.PublishEvent(Event{
			Type:      EventDeviceStatus,
			DeviceID:  id,
			Timestamp: now,
			Payload: map[string]any{
				"status": string(device.StatusOffline),
				"reason": "stale",
			},
		})
		if i.tsdb != nil {
			i.tsdb.WriteDeviceStatus(id, string(device.StatusOffline), now)
		}
	}
}

// classify inspects a registry error. Contention on the store is
// promoted to ErrRegistryContention and reported as fatal; anything
// else passes through for the caller to log and drop.
func (i *Ingestor) classify(err error) error {
	if err == nil {
		return nil
	}
	if isContentionError(err) {
		fatal := fmt.Errorf("%w: %v", ErrRegistryContention, err)
		i.logger.Error("registry contention, ingest worker cannot continue", "error", err)
		if i.onFatal != nil {
			i.onFatal(fatal)
		}
		return fatal
	}
	return err
}

// handlerContext bounds registry work done on broker callbacks.
func (i *Ingestor) handlerContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// extractReadings decodes the accepted sensor payload shapes.
func extractReadings(sensorType string, body map[string]any) ([]device.SensorReading, error) {
	if raw, ok := body["value"]; ok {
		value, ok := toFloat(raw)
		if !ok {
			return nil, fmt.Errorf("value %v is not numeric", raw)
		}
		unit, _ := body["unit"].(string)
		return []device.SensorReading{{SensorType: sensorType, Value: value, Unit: unit}}, nil
	}

	readings := make([]device.SensorReading, 0, len(body))
	for field, raw := range body {
		value, ok := toFloat(raw)
		if !ok {
			// Non-numeric fields in a flat map are skipped, not fatal;
			// devices often tuck a string label next to the numbers.
			continue
		}
		readings = append(readings, device.SensorReading{SensorType: field, Value: value})
	}
	if len(readings) == 0 {
		return nil, fmt.Errorf("no numeric readings in payload")
	}
	return readings, nil
}

// toFloat converts the numeric types json.Unmarshal can produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// isContentionError reports whether an error is SQLite lock contention.
func isContentionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}
