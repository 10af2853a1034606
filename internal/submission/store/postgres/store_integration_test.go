//go:build integration

package postgres_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"efile/internal/platform/database"
	"efile/internal/submission/store/postgres"
	"efile/internal/submission/store/storetest"
	"efile/pkg/testutil/containers"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)
	require.NoError(t, database.Migrate(context.Background(), pg.DB, slog.Default()))

	storetest.Run(t, func(t *testing.T) storetest.Store {
		require.NoError(t, pg.TruncateTables(context.Background(), "submissions"))
		return postgres.New(pg.DB)
	})
}
