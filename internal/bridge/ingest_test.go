package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sprchuoi/Smart-Server/internal/device"
	"github.com/sprchuoi/Smart-Server/internal/infrastructure/mqtt"
)

// mockMQTT captures subscriptions so tests can inject messages.
type mockMQTT struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	subErr   error
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockMQTT) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	if m.subErr != nil {
		return m.subErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) IsConnected() bool { return true }

// deliver invokes the handler registered for the given filter.
func (m *mockMQTT) deliver(t *testing.T, filter, topic string, payload []byte) error {
	t.Helper()
	m.mu.Lock()
	handler, ok := m.handlers[filter]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for filter %q", filter)
	}
	return handler(topic, payload)
}

// mockIngestRegistry implements DeviceRegistry for ingest tests.
type mockIngestRegistry struct {
	mu       sync.Mutex
	statuses []statusUpsert
	readings []sensorRecord
	stale    []string

	upsertErr error
	sensorErr error
	staleErr  error
}

type statusUpsert struct {
	deviceID string
	payload  map[string]any
}

type sensorRecord struct {
	deviceID   string
	sensorType string
	value      float64
	unit       string
}

func (m *mockIngestRegistry) UpsertStatus(_ context.Context, deviceID string, payload map[string]any, receivedAt time.Time) (*device.Device, error) {
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, statusUpsert{deviceID: deviceID, payload: payload})

	status := device.StatusOnline
	if s, ok := payload["status"].(string); ok && device.Status(s) == device.StatusOffline {
		status = device.StatusOffline
	}
	seen := receivedAt
	return &device.Device{ID: deviceID, Status: status, LastSeen: &seen, Metadata: device.Metadata{}}, nil
}

func (m *mockIngestRegistry) RecordSensor(_ context.Context, deviceID, sensorType string, value float64, unit string, _ time.Time) error {
	if m.sensorErr != nil {
		return m.sensorErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, sensorRecord{deviceID: deviceID, sensorType: sensorType, value: value, unit: unit})
	return nil
}

func (m *mockIngestRegistry) MarkStale(_ context.Context, _ time.Time, _ time.Duration) ([]string, error) {
	if m.staleErr != nil {
		return nil, m.staleErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.stale
	m.stale = nil
	return out, nil
}

func (m *mockIngestRegistry) recordedReadings() []sensorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sensorRecord, len(m.readings))
	copy(out, m.readings)
	return out
}

func newTestIngestor(t *testing.T, registry *mockIngestRegistry) (*Ingestor, *mockMQTT, *Dispatcher, *eventRecorder) {
	t.Helper()

	client := newMockMQTT()
	events := &eventRecorder{}
	dispatcher := NewDispatcher(&mockPublisher{}, testTopics{}, DispatcherOptions{Events: events})
	t.Cleanup(dispatcher.Close)

	topics := mqtt.Topics{Namespace: "smartserver"}
	ingestor := NewIngestor(client, topics, registry, dispatcher, events, nil, IngestorConfig{
		StaleTimeout:  time.Minute,
		SweepInterval: time.Hour, // sweeps are driven manually in tests
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := ingestor.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(ingestor.Stop)

	return ingestor, client, dispatcher, events
}

func TestIngestor_StatusMessage(t *testing.T) {
	registry := &mockIngestRegistry{}
	_, client, _, events := newTestIngestor(t, registry)

	err := client.deliver(t, "smartserver/devices/+/status",
		"smartserver/devices/esp32-1/status",
		[]byte(`{"status":"online","type":"thermostat","rssi":-55}`))
	if err != nil {
		t.Fatalf("status handler error = %v", err)
	}

	if len(registry.statuses) != 1 || registry.statuses[0].deviceID != "esp32-1" {
		t.Fatalf("statuses = %+v, want one upsert for esp32-1", registry.statuses)
	}

	got := events.ofType(EventDeviceStatus)
	if len(got) != 1 {
		t.Fatalf("emitted %d device_status events, want 1", len(got))
	}
	if got[0].DeviceID != "esp32-1" || got[0].Payload["status"] != "online" {
		t.Errorf("event = %+v, want esp32-1 online", got[0])
	}
}

func TestIngestor_MalformedStatusDropped(t *testing.T) {
	registry := &mockIngestRegistry{}
	_, client, _, events := newTestIngestor(t, registry)

	err := client.deliver(t, "smartserver/devices/+/status",
		"smartserver/devices/esp32-1/status",
		[]byte(`{not json`))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("handler error = %v, want ErrMalformedPayload", err)
	}

	if len(registry.statuses) != 0 {
		t.Errorf("registry received %d upserts from malformed payload, want 0", len(registry.statuses))
	}
	if len(events.all()) != 0 {
		t.Errorf("emitted %d events from malformed payload, want 0", len(events.all()))
	}

	// The handler must keep working for subsequent valid messages.
	if err := client.deliver(t, "smartserver/devices/+/status",
		"smartserver/devices/esp32-1/status",
		[]byte(`{"status":"online"}`)); err != nil {
		t.Fatalf("handler error after malformed message = %v", err)
	}
	if len(registry.statuses) != 1 {
		t.Errorf("registry upserts = %d, want 1", len(registry.statuses))
	}
}

func TestIngestor_SensorMessage(t *testing.T) {
	t.Run("value and unit shape", func(t *testing.T) {
		registry := &mockIngestRegistry{}
		_, client, _, events := newTestIngestor(t, registry)

		err := client.deliver(t, "smartserver/devices/+/sensor/#",
			"smartserver/devices/esp32-1/sensor/temperature",
			[]byte(`{"value":21.5,"unit":"C"}`))
		if err != nil {
			t.Fatalf("sensor handler error = %v", err)
		}

		readings := registry.recordedReadings()
		if len(readings) != 1 {
			t.Fatalf("recorded %d readings, want 1", len(readings))
		}
		want := sensorRecord{deviceID: "esp32-1", sensorType: "temperature", value: 21.5, unit: "C"}
		if readings[0] != want {
			t.Errorf("reading = %+v, want %+v", readings[0], want)
		}
		if got := len(events.ofType(EventSensorReading)); got != 1 {
			t.Errorf("emitted %d sensor_reading events, want 1", got)
		}
	})

	t.Run("flat numeric map shape", func(t *testing.T) {
		registry := &mockIngestRegistry{}
		_, client, _, events := newTestIngestor(t, registry)

		err := client.deliver(t, "smartserver/devices/+/sensor/#",
			"smartserver/devices/esp32-1/sensor/env",
			[]byte(`{"temperature":21.5,"humidity":40,"label":"kitchen"}`))
		if err != nil {
			t.Fatalf("sensor handler error = %v", err)
		}

		readings := registry.recordedReadings()
		if len(readings) != 2 {
			t.Fatalf("recorded %d readings, want 2 (non-numeric field skipped)", len(readings))
		}
		byType := map[string]float64{}
		for _, r := range readings {
			byType[r.sensorType] = r.value
		}
		if byType["temperature"] != 21.5 || byType["humidity"] != 40 {
			t.Errorf("readings = %v, want temperature 21.5 and humidity 40", byType)
		}
		if got := len(events.ofType(EventSensorReading)); got != 2 {
			t.Errorf("emitted %d sensor_reading events, want 2", got)
		}
	})

	t.Run("payload without numbers is malformed", func(t *testing.T) {
		registry := &mockIngestRegistry{}
		_, client, _, _ := newTestIngestor(t, registry)

		err := client.deliver(t, "smartserver/devices/+/sensor/#",
			"smartserver/devices/esp32-1/sensor/temperature",
			[]byte(`{"label":"kitchen"}`))
		if !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("handler error = %v, want ErrMalformedPayload", err)
		}
	})
}

func TestIngestor_ResponseMessage(t *testing.T) {
	t.Run("resolves by correlation id", func(t *testing.T) {
		registry := &mockIngestRegistry{}
		_, client, dispatcher, events := newTestIngestor(t, registry)

		cmd, err := dispatcher.Issue(context.Background(), "esp32-1", "turn_on", nil, time.Minute)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}

		err = client.deliver(t, "smartserver/devices/+/response",
			"smartserver/devices/esp32-1/response",
			[]byte(`{"device_id":"esp32-1","command":"turn_on","status":"success","message":"done","correlation_id":"`+cmd.CorrelationID+`"}`))
		if err != nil {
			t.Fatalf("response handler error = %v", err)
		}

		outcome, err := cmd.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		if outcome.Status != CommandSuccess || outcome.Message != "done" {
			t.Errorf("outcome = %+v, want success/done", outcome)
		}
		if got := len(events.ofType(EventCommandResult)); got != 1 {
			t.Errorf("emitted %d command_result events, want 1", got)
		}
	})

	t.Run("unknown correlation id is dropped", func(t *testing.T) {
		registry := &mockIngestRegistry{}
		_, client, dispatcher, _ := newTestIngestor(t, registry)

		// A present-but-unknown id must not fall back to a pending command.
		if _, err := dispatcher.Issue(context.Background(), "esp32-1", "turn_on", nil, time.Minute); err != nil {
			t.Fatalf("Issue() error = %v", err)
		}

		err := client.deliver(t, "smartserver/devices/+/response",
			"smartserver/devices/esp32-1/response",
			[]byte(`{"status":"success","correlation_id":"ghost"}`))
		if !errors.Is(err, ErrUnknownCorrelation) {
			t.Fatalf("handler error = %v, want ErrUnknownCorrelation", err)
		}
		if got := dispatcher.PendingCount(); got != 1 {
			t.Errorf("PendingCount() = %d, want 1 (pending command untouched)", got)
		}
	})

	t.Run("missing correlation id falls back to oldest pending", func(t *testing.T) {
		registry := &mockIngestRegistry{}
		_, client, dispatcher, _ := newTestIngestor(t, registry)

		cmd, err := dispatcher.Issue(context.Background(), "esp32-1", "turn_on", nil, time.Minute)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}

		err = client.deliver(t, "smartserver/devices/+/response",
			"smartserver/devices/esp32-1/response",
			[]byte(`{"device_id":"esp32-1","command":"turn_on","status":"error","message":"relay stuck"}`))
		if err != nil {
			t.Fatalf("response handler error = %v", err)
		}

		outcome, err := cmd.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		if outcome.Status != CommandError || outcome.Message != "relay stuck" {
			t.Errorf("outcome = %+v, want error/relay stuck", outcome)
		}
	})

	t.Run("invalid status is malformed", func(t *testing.T) {
		registry := &mockIngestRegistry{}
		_, client, _, _ := newTestIngestor(t, registry)

		err := client.deliver(t, "smartserver/devices/+/response",
			"smartserver/devices/esp32-1/response",
			[]byte(`{"status":"shrug","correlation_id":"x"}`))
		if !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("handler error = %v, want ErrMalformedPayload", err)
		}
	})
}

func TestIngestor_UnroutableTopic(t *testing.T) {
	registry := &mockIngestRegistry{}
	_, client, _, _ := newTestIngestor(t, registry)

	err := client.deliver(t, "smartserver/devices/+/status",
		"smartserver/devices//status",
		[]byte(`{"status":"online"}`))
	if !errors.Is(err, ErrUnroutable) {
		t.Fatalf("handler error = %v, want ErrUnroutable", err)
	}
	if len(registry.statuses) != 0 {
		t.Errorf("registry received %d upserts from unroutable topic, want 0", len(registry.statuses))
	}
}

func TestIngestor_Sweep(t *testing.T) {
	registry := &mockIngestRegistry{stale: []string{"esp32-quiet"}}
	ingestor, _, _, events := newTestIngestor(t, registry)

	ingestor.sweep(context.Background(), time.Now().UTC())

	got := events.ofType(EventDeviceStatus)
	if len(got) != 1 {
		t.Fatalf("emitted %d device_status events, want 1", len(got))
	}
	if got[0].DeviceID != "esp32-quiet" || got[0].Payload["status"] != "offline" {
		t.Errorf("event = %+v, want esp32-quiet offline", got[0])
	}
	if got[0].Payload["reason"] != "stale" {
		t.Errorf("event reason = %v, want stale", got[0].Payload["reason"])
	}
}

func TestIngestor_RegistryContentionIsFatal(t *testing.T) {
	registry := &mockIngestRegistry{upsertErr: errors.New("database is locked")}
	ingestor, client, _, _ := newTestIngestor(t, registry)

	var fatal error
	ingestor.SetOnFatal(func(err error) { fatal = err })

	err := client.deliver(t, "smartserver/devices/+/status",
		"smartserver/devices/esp32-1/status",
		[]byte(`{"status":"online"}`))
	if !errors.Is(err, ErrRegistryContention) {
		t.Fatalf("handler error = %v, want ErrRegistryContention", err)
	}
	if !errors.Is(fatal, ErrRegistryContention) {
		t.Errorf("fatal callback error = %v, want ErrRegistryContention", fatal)
	}
}

// Full round trip: a device comes online, gets a command, and acks it.
func TestIngestor_CommandRoundTrip(t *testing.T) {
	registry := &mockIngestRegistry{}
	_, client, dispatcher, events := newTestIngestor(t, registry)
	ctx := context.Background()

	if err := client.deliver(t, "smartserver/devices/+/status",
		"smartserver/devices/esp32-1/status",
		[]byte(`{"status":"online","type":"switch"}`)); err != nil {
		t.Fatalf("status handler error = %v", err)
	}

	cmd, err := dispatcher.Issue(ctx, "esp32-1", "turn_on", map[string]any{"level": 100}, time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if err := client.deliver(t, "smartserver/devices/+/response",
		"smartserver/devices/esp32-1/response",
		[]byte(`{"device_id":"esp32-1","command":"turn_on","status":"success","message":"on","correlation_id":"`+cmd.CorrelationID+`"}`)); err != nil {
		t.Fatalf("response handler error = %v", err)
	}

	outcome, err := cmd.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if outcome.Status != CommandSuccess {
		t.Errorf("outcome = %+v, want success", outcome)
	}

	types := make(map[EventType]int)
	for _, e := range events.all() {
		types[e.Type]++
	}
	if types[EventDeviceStatus] != 1 || types[EventCommandResult] != 1 {
		t.Errorf("event counts = %v, want one device_status and one command_result", types)
	}
}
