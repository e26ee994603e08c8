// Package aggregator provides persistent storage and periodic snapshotting
// of aggregated lookup statistics to PostgreSQL.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/auditlens/auditlens/internal/analytics"
	"github.com/auditlens/auditlens/pkg/logger"
	"github.com/auditlens/auditlens/pkg/postgres"
)

const schema = `CREATE TABLE IF NOT EXISTS analytics_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    data        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS analytics_snapshots_captured_at_idx
    ON analytics_snapshots (captured_at DESC)`

// StatsSource is implemented by *analytics.Aggregator.
type StatsSource interface {
	Stats() analytics.AggregatedStats
}

// Store persists lookup statistics snapshots in the analytics_snapshots
// table.
type Store struct {
	client    *postgres.Client
	db        *sql.DB
	retention time.Duration
	logger    *slog.Logger
}

// NewStore creates a Store. Snapshots older than retention are pruned on
// each save; zero keeps everything.
func NewStore(client *postgres.Client, retention time.Duration) *Store {
	return &Store{
		client:    client,
		db:        client.DB,
		retention: retention,
		logger:    logger.WithComponent("analytics-store"),
	}
}

// EnsureSchema creates the snapshot table and its index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating analytics_snapshots: %w", err)
	}
	return nil
}

func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	capturedAt := stats.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	var pruned int64
	err = s.client.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO analytics_snapshots (data, captured_at) VALUES ($1, $2)`,
			data, capturedAt,
		); err != nil {
			return fmt.Errorf("inserting snapshot: %w", err)
		}
		if s.retention <= 0 {
			return nil
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM analytics_snapshots WHERE captured_at < $1`,
			capturedAt.Add(-s.retention),
		)
		if err != nil {
			return fmt.Errorf("pruning snapshots: %w", err)
		}
		pruned, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}

	s.logger.Info("analytics snapshot saved",
		"total_lookups", stats.TotalLookups,
		"empty_results", stats.EmptyResults,
		"pruned", pruned,
	)
	return nil
}

// LatestSnapshot loads the most recent snapshot, or nil if none exist.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM analytics_snapshots ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}

	var stats analytics.AggregatedStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &stats, nil
}

// ListSnapshots returns the last limit snapshots, newest first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.AggregatedStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM analytics_snapshots ORDER BY captured_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]analytics.AggregatedStats, 0, limit)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		var stats analytics.AggregatedStats
		if err := json.Unmarshal(data, &stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		snapshots = append(snapshots, stats)
	}
	return snapshots, rows.Err()
}

// StartPeriodicSave snapshots src every interval until ctx is cancelled,
// then writes one final snapshot.
func (s *Store) StartPeriodicSave(ctx context.Context, src StatsSource, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.SaveSnapshot(ctx, src.Stats()); err != nil {
					s.logger.Error("periodic snapshot failed", "error", err)
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := s.SaveSnapshot(shutdownCtx, src.Stats()); err != nil {
					s.logger.Error("final snapshot failed", "error", err)
				}
				return
			}
		}
	}()
	s.logger.Info("periodic snapshot started", "interval", interval)
}
