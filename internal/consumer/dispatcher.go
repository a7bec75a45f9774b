package consumer

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"vitals-station/internal/repository"
	"vitals-station/internal/router"

	"go.uber.org/zap"
)

// job is one fully-normalized message ready for routing.
type job func(ctx context.Context)

// Dispatcher normalizes raw transport messages and feeds them through a
// single worker goroutine. Serializing here keeps the session cache
// single-writer: one message is fully routed before the next one starts.
type Dispatcher struct {
	router  *router.Router
	history *repository.HistoryRepository
	devices *DeviceRegistry
	logger  *zap.Logger
	jobs    chan job
}

// NewDispatcher creates a dispatcher with a bounded inbound queue.
func NewDispatcher(
	rt *router.Router,
	history *repository.HistoryRepository,
	devices *DeviceRegistry,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		router:  rt,
		history: history,
		devices: devices,
		logger:  logger,
		jobs:    make(chan job, 256),
	}
}

// Run drains the job queue until the context is canceled. Exactly one Run
// loop must be active.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.jobs:
			j(ctx)
		}
	}
}

// HandleMessage parses one raw message and enqueues it for routing. Invalid
// payloads are logged to the ingest log and dropped; the transport never
// sees an error.
func (d *Dispatcher) HandleMessage(topic string, payload []byte) {
	route, ok := ParseTopic(topic)
	if !ok {
		d.logger.Debug("Ignoring message on unknown topic", zap.String("topic", topic))
		return
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		message := "invalid_json: " + err.Error()
		d.history.LogIngest(topic, route.DeviceType, "", string(payload), "error", &message)
		d.logger.Warn("Dropping malformed payload",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}

	idcard, _ := fieldString(raw, "idcard")
	d.history.LogIngest(topic, route.DeviceType, idcard, string(payload), "received", nil)

	if route.Combined {
		d.enqueue(d.combinedJob(idcard, raw))
		return
	}

	d.devices.Observe(route.PcuCode, route.DeviceType)

	if route.DeviceType == "cardreader" {
		timestamp, _ := fieldString(raw, "timestamp")
		d.enqueue(func(ctx context.Context) {
			d.router.RouteIdentification(ctx, idcard, timestamp)
		})
		return
	}

	value, ok := measurementValue(raw, route.DeviceType)
	if !ok {
		d.logger.Warn("Payload carries no measurement value",
			zap.String("topic", topic),
			zap.String("device_type", route.DeviceType),
		)
		return
	}
	timestamp, _ := fieldString(raw, "timestamp")

	ev := router.Event{
		Idcard:     idcard,
		DeviceType: route.DeviceType,
		Value:      value,
		MeasuredAt: timestamp,
	}
	d.enqueue(func(ctx context.Context) {
		d.router.RouteMeasurement(ctx, ev)
	})
}

func (d *Dispatcher) combinedJob(idcard string, raw map[string]any) job {
	timestamp, _ := fieldString(raw, "timestamp")
	cv := router.CombinedVitals{
		Weight:        fieldPtr(raw, "weight"),
		Height:        fieldPtr(raw, "height"),
		BloodPressure: firstFieldPtr(raw, "bp", "pressure"),
		Temperature:   firstFieldPtr(raw, "temp", "temperature"),
		Pulse:         fieldPtr(raw, "pulse"),
		MeasuredAt:    timestamp,
	}
	return func(ctx context.Context) {
		d.router.RouteCombined(ctx, idcard, cv)
	}
}

func (d *Dispatcher) enqueue(j job) {
	d.jobs <- j
}

// measurementValue pulls the reading out of a single-device payload. Devices
// name the field after themselves or use a generic "value" key.
func measurementValue(raw map[string]any, deviceType string) (string, bool) {
	aliases := []string{"value"}
	switch deviceType {
	case "weight":
		aliases = append(aliases, "weight")
	case "height":
		aliases = append(aliases, "height")
	case "bp", "bp2":
		aliases = append(aliases, "bp", "pressure")
	case "temp":
		aliases = append(aliases, "temp", "temperature")
	case "pulse":
		aliases = append(aliases, "pulse")
	case "spo2":
		aliases = append(aliases, "spo2")
	}
	return firstField(raw, aliases...)
}

func firstField(raw map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := fieldString(raw, key); ok {
			return s, true
		}
	}
	return "", false
}

func firstFieldPtr(raw map[string]any, keys ...string) *string {
	if s, ok := firstField(raw, keys...); ok {
		return &s
	}
	return nil
}

func fieldPtr(raw map[string]any, key string) *string {
	if s, ok := fieldString(raw, key); ok {
		return &s
	}
	return nil
}

// fieldString coerces a JSON field into a string. Devices disagree on
// whether readings arrive as numbers or strings.
func fieldString(raw map[string]any, key string) (string, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return "", false
		}
		return s, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
