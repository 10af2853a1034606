// Package alerting delivers operator alerts raised when a submission reaches
// FAILED.
package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"efile/internal/platform/kafka"
	"efile/internal/retry"
)

// DefaultTopic receives alert records.
const DefaultTopic = "efile.alerts"

// Alert is one operator-facing notification.
type Alert struct {
	Type         string            `json:"type"`
	Severity     retry.Severity    `json:"severity"`
	SubmissionID string            `json:"submission_id,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Details      map[string]string `json:"details,omitempty"`
}

// Alerter is the delivery contract.
type Alerter interface {
	TriggerAlert(ctx context.Context, alert Alert) error
}

// LogAlerter writes alerts to the log at the level their severity maps to.
type LogAlerter struct {
	logger *slog.Logger
}

func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAlerter{logger: logger.With("component", "alerting")}
}

func (a *LogAlerter) TriggerAlert(ctx context.Context, alert Alert) error {
	attrs := []any{
		"alert_type", alert.Type,
		"severity", string(alert.Severity),
		"submission_id", alert.SubmissionID,
	}
	for _, k := range slices.Sorted(maps.Keys(alert.Details)) {
		attrs = append(attrs, k, alert.Details[k])
	}
	a.logger.Log(ctx, alert.Severity.Level(), "alert raised", attrs...)
	return nil
}

// KafkaAlerter publishes alerts as JSON keyed by submission id.
type KafkaAlerter struct {
	producer kafka.Producer
	topic    string
}

func NewKafkaAlerter(producer kafka.Producer, topic string) *KafkaAlerter {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaAlerter{producer: producer, topic: topic}
}

func (a *KafkaAlerter) TriggerAlert(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return a.producer.Produce(ctx, kafka.Message{
		Topic: a.topic,
		Key:   []byte(alert.SubmissionID),
		Value: payload,
		Headers: map[string]string{
			"alert_type": alert.Type,
			"severity":   string(alert.Severity),
		},
	})
}

// Fanout delivers to every alerter and joins their errors.
type Fanout []Alerter

func (f Fanout) TriggerAlert(ctx context.Context, alert Alert) error {
	var errs []error
	for _, a := range f {
		if err := a.TriggerAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps alerts in memory. Used by tests and the CLI dry-run path.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *Recorder) TriggerAlert(_ context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.alerts)
}
