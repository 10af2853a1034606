package sqlite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"efile/internal/submission/store/storetest"
)

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		s, err := Open("")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStoreOnDisk(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		s, err := Open(t.TempDir() + "/submissions.db")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
