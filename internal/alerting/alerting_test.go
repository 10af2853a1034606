package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"efile/internal/platform/kafka"
	"efile/internal/retry"
)

type captureProducer struct {
	msgs []kafka.Message
	err  error
}

func (p *captureProducer) Produce(_ context.Context, msgs ...kafka.Message) error {
	p.msgs = append(p.msgs, msgs...)
	return p.err
}

func sampleAlert() Alert {
	return Alert{
		Type:         "submission_failed",
		Severity:     retry.SeverityHigh,
		SubmissionID: "0b8f8d1e-3f4c-4a53-9c55-0c1f5b0b7a10",
		Timestamp:    time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC),
		Details:      map[string]string{"retry_count": "3", "error_type": "transmission_failure"},
	}
}

func TestKafkaAlerterPublishesJSON(t *testing.T) {
	p := &captureProducer{}
	a := NewKafkaAlerter(p, "")

	require.NoError(t, a.TriggerAlert(context.Background(), sampleAlert()))
	require.Len(t, p.msgs, 1)

	msg := p.msgs[0]
	assert.Equal(t, DefaultTopic, msg.Topic)
	assert.Equal(t, "0b8f8d1e-3f4c-4a53-9c55-0c1f5b0b7a10", string(msg.Key))
	assert.Equal(t, "HIGH", msg.Headers["severity"])

	var got Alert
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, sampleAlert(), got)
}

func TestLogAlerterUsesSeverityLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	require.NoError(t, NewLogAlerter(logger).TriggerAlert(context.Background(), sampleAlert()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "submission_failed", line["alert_type"])
	assert.Equal(t, "3", line["retry_count"])
}

func TestFanoutJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	failing := &captureProducer{err: errors.New("broker down")}
	f := Fanout{rec, NewKafkaAlerter(failing, "alerts")}

	err := f.TriggerAlert(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, rec.Alerts(), 1, "healthy alerters still receive the alert")
}
