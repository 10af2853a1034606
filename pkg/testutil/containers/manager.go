//go:build integration

// Package containers starts shared backing services for integration tests.
// Each container starts once per test binary and is reaped by Ryuk.
package containers

import (
	"sync"
	"testing"
)

// Manager hands out the shared containers.
type Manager struct {
	pgOnce sync.Once
	pg     *PostgresContainer
	pgErr  error

	redisOnce sync.Once
	redis     *RedisContainer
	redisErr  error

	kafkaOnce sync.Once
	kafka     *RedpandaContainer
	kafkaErr  error
}

var (
	managerOnce sync.Once
	manager     *Manager
)

// GetManager returns the process-wide manager.
func GetManager() *Manager {
	managerOnce.Do(func() { manager = &Manager{} })
	return manager
}

// GetPostgres returns the shared Postgres container, starting it on first use.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	m.pgOnce.Do(func() { m.pg, m.pgErr = startPostgres() })
	if m.pgErr != nil {
		t.Fatalf("failed to start postgres container: %v", m.pgErr)
	}
	return m.pg
}

func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	m.redisOnce.Do(func() { m.redis, m.redisErr = startRedis() })
	if m.redisErr != nil {
		t.Fatalf("failed to start redis container: %v", m.redisErr)
	}
	return m.redis
}

// GetRedpanda returns the shared Kafka-compatible broker.
func (m *Manager) GetRedpanda(t *testing.T) *RedpandaContainer {
	t.Helper()
	m.kafkaOnce.Do(func() { m.kafka, m.kafkaErr = startRedpanda() })
	if m.kafkaErr != nil {
		t.Fatalf("failed to start redpanda container: %v", m.kafkaErr)
	}
	return m.kafka
}
