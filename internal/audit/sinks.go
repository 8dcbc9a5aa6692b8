package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher is satisfied by *mqtt.Client.
type Publisher interface {
	PublishEvent(topic string, payload []byte) error
}

// MQTTSink publishes each entry as JSON to a per-action topic.
type MQTTSink struct {
	pub   Publisher
	topic func(action string) string
}

// NewMQTTSink creates a sink publishing to topic(entry.Action).
func NewMQTTSink(pub Publisher, topic func(action string) string) *MQTTSink {
	return &MQTTSink{pub: pub, topic: topic}
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Write implements Sink.
func (s *MQTTSink) Write(_ context.Context, e *Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshalling activity entry: %w", err)
	}
	return s.pub.PublishEvent(s.topic(e.Action), payload)
}

// PointWriter is satisfied by *influxdb.Client.
type PointWriter interface {
	WriteActivity(action, entity, outcome string, at time.Time)
}

// MetricsSink counts entries in a time-series store.
type MetricsSink struct {
	w PointWriter
}

// NewMetricsSink creates a sink writing one point per entry.
func NewMetricsSink(w PointWriter) *MetricsSink {
	return &MetricsSink{w: w}
}

// Name implements Sink.
func (s *MetricsSink) Name() string { return "influxdb" }

// Write implements Sink. The point write itself is asynchronous.
func (s *MetricsSink) Write(_ context.Context, e *Entry) error {
	outcome, _ := e.Metadata[MetaOutcome].(string) //nolint:errcheck // absent means success
	s.w.WriteActivity(e.Action, e.Entity, outcome, e.CreatedAt)
	return nil
}
