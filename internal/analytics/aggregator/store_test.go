package aggregator

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlens/auditlens/internal/analytics"
	"github.com/auditlens/auditlens/pkg/config"
	"github.com/auditlens/auditlens/pkg/postgres"
)

// Runs against a real database when AUDITLENS_TEST_POSTGRES=1; connection
// settings come from the usual AUDITLENS_POSTGRES_* variables.
func newTestStore(t *testing.T, retention time.Duration) *Store {
	t.Helper()
	if os.Getenv("AUDITLENS_TEST_POSTGRES") != "1" {
		t.Skip("set AUDITLENS_TEST_POSTGRES=1 to run against PostgreSQL")
	}
	cfg, err := config.Load("")
	require.NoError(t, err)

	client, err := postgres.New(context.Background(), cfg.Postgres)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := NewStore(client, retention)
	require.NoError(t, store.EnsureSchema(context.Background()))
	_, err = client.DB.Exec(`TRUNCATE analytics_snapshots`)
	require.NoError(t, err)
	return store
}

func TestStore_SaveAndList(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	latest, err := store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveSnapshot(ctx, analytics.AggregatedStats{
			TotalLookups: int64(i + 1),
			CapturedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	latest, err = store.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(3), latest.TotalLookups)

	list, err := store.ListSnapshots(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(3), list[0].TotalLookups)
	assert.Equal(t, int64(2), list[1].TotalLookups)
}

func TestStore_PrunesOldSnapshots(t *testing.T) {
	store := newTestStore(t, time.Hour)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveSnapshot(ctx, analytics.AggregatedStats{TotalLookups: 1, CapturedAt: base}))
	require.NoError(t, store.SaveSnapshot(ctx, analytics.AggregatedStats{TotalLookups: 2, CapturedAt: base.Add(3 * time.Hour)}))

	list, err := store.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].TotalLookups)
}
