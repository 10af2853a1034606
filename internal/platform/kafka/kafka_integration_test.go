//go:build integration

package kafka_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"efile/internal/platform/kafka"
	"efile/pkg/testutil/containers"
)

func TestProduceAndConsume(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	broker := containers.GetManager().GetRedpanda(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := kafka.New(kafka.Config{Brokers: broker.Brokers, ClientID: "efile-test", Partitions: 1, ReplicationFactor: 1}, slog.Default())
	require.NoError(t, err)
	defer client.Close()

	const topic = "efile.test.alerts"
	require.NoError(t, client.EnsureTopics(ctx, topic))
	require.NoError(t, client.EnsureTopics(ctx, topic), "existing topics are not an error")
	require.NoError(t, client.Ping(ctx))
	require.NoError(t, client.Produce(ctx, kafka.Message{Topic: topic, Key: []byte("k"), Value: []byte(`{"ok":true}`)}))

	consumer, err := kgo.NewClient(kgo.SeedBrokers(broker.Brokers...), kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.Empty(t, fetches.Errors())
	records := fetches.Records()
	require.Len(t, records, 1)
	require.Equal(t, `{"ok":true}`, string(records[0].Value))
}
