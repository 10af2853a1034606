package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"efile/internal/retry"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadLayersFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "efile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: staging
database:
  driver: sqlite
  sqlite_path: /var/lib/efile/efile.db
retry:
  submission:
    max_retries: 5
    base_delay: 2s
kafka:
  brokers: [broker-1:9092]
`), 0o600))

	t.Setenv("EFILE_SERVER_ADDR", ":9090")
	t.Setenv("EFILE_POLLER_WORKERS", "2")
	t.Setenv("EFILE_KAFKA_BROKERS", "a:9092, b:9092,,a:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/var/lib/efile/efile.db", cfg.Database.SQLitePath)
	assert.Equal(t, retry.Policy{MaxRetries: 5, BaseDelay: 2 * time.Second}, cfg.Retry.Submission)
	assert.Equal(t, 2, cfg.Retry.Validation.MaxRetries, "untouched categories keep defaults")
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 2, cfg.Poller.Workers)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers, "environment wins over the file")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "postgres"
	cfg.Logging.Format = "xml"
	cfg.Poller.Workers = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url")
	assert.Contains(t, err.Error(), "logging.format")
	assert.Contains(t, err.Error(), "poller.workers")
}

func TestProductionRequiresAnAcknowledgmentRoot(t *testing.T) {
	cfg := Default()
	cfg.Environment = "production"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mef.ack_signing_root_ca")

	cfg.MeF.AckSigningRootCA = "/etc/efile/mef-root.pem"
	assert.NoError(t, cfg.Validate())

	cfg = Default()
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
