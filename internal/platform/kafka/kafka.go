// Package kafka wraps the franz-go client used by the alert publisher and the
// audit outbox relay.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Config holds broker connection settings.
type Config struct {
	Brokers           []string      `yaml:"brokers"`
	ClientID          string        `yaml:"client_id"`
	Partitions        int32         `yaml:"partitions"`
	ReplicationFactor int16         `yaml:"replication_factor"`
	ProduceTimeout    time.Duration `yaml:"produce_timeout"`
}

// Message is one record to produce.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer is what publishers depend on.
type Producer interface {
	Produce(ctx context.Context, msgs ...Message) error
}

// Client owns a franz-go client and its admin view.
type Client struct {
	cfg    Config
	cl     *kgo.Client
	admin  *kadm.Client
	logger *slog.Logger
}

// New connects lazily; franz-go dials brokers on first use.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}
	if cfg.ProduceTimeout <= 0 {
		cfg.ProduceTimeout = 10 * time.Second
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProduceRequestTimeout(cfg.ProduceTimeout),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}
	return &Client{
		cfg:    cfg,
		cl:     cl,
		admin:  kadm.NewClient(cl),
		logger: logger.With("component", "kafka"),
	}, nil
}

// EnsureTopics creates any missing topic. Existing topics are left alone.
func (c *Client) EnsureTopics(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	resp, err := c.admin.CreateTopics(ctx, c.cfg.Partitions, c.cfg.ReplicationFactor, nil, topics...)
	if err != nil {
		return fmt.Errorf("kafka: create topics: %w", err)
	}
	for topic, r := range resp {
		if r.Err == nil {
			c.logger.Info("created topic", "topic", topic)
			continue
		}
		if errors.Is(r.Err, kerr.TopicAlreadyExists) {
			continue
		}
		return fmt.Errorf("kafka: create topic %s: %w", topic, r.Err)
	}
	return nil
}

// Produce writes msgs synchronously and returns the first failure.
func (c *Client) Produce(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(msgs))
	for _, m := range msgs {
		r := &kgo.Record{Topic: m.Topic, Key: m.Key, Value: m.Value}
		for k, v := range m.Headers {
			r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
		records = append(records, r)
	}
	if err := c.cl.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("kafka: produce: %w", err)
	}
	return nil
}

// Ping checks broker reachability.
func (c *Client) Ping(ctx context.Context) error {
	return c.cl.Ping(ctx)
}

func (c *Client) Close() {
	c.cl.Close()
}
