package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// OutcomeStore implements domain.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool *pgxpool.Pool
}

// NewOutcomeStore creates an OutcomeStore backed by the given pool.
func NewOutcomeStore(pool *pgxpool.Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// Insert records one replication outcome.
func (s *OutcomeStore) Insert(ctx context.Context, o domain.ReplicationOutcome) error {
	const query = `
		INSERT INTO replication_outcomes (
			id, order_id, follower_id, success, tx_hash, error, observed_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.OrderID, o.FollowerID, o.Success, o.TxHash, o.Error, o.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert outcome %s: %w", o.ID, err)
	}
	return nil
}

// ListRecentByFollower returns a follower's latest outcomes, newest first.
func (s *OutcomeStore) ListRecentByFollower(ctx context.Context, followerID string, limit int) ([]domain.ReplicationOutcome, error) {
	query := `SELECT ` + outcomeSelectCols + `
		FROM replication_outcomes
		WHERE follower_id = $1
		ORDER BY observed_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, followerID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes for %s: %w", followerID, err)
	}
	defer rows.Close()
	return collectOutcomes(rows)
}

// ListBefore returns all outcomes observed before the cutoff, oldest first.
// Used by the archiver to page cold history out to blob storage.
func (s *OutcomeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ReplicationOutcome, error) {
	query := `SELECT ` + outcomeSelectCols + `
		FROM replication_outcomes
		WHERE observed_at < $1
		ORDER BY observed_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes before %s: %w", before, err)
	}
	defer rows.Close()
	return collectOutcomes(rows)
}

// DeleteBefore removes outcomes observed before the cutoff and reports how
// many rows went away.
func (s *OutcomeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM replication_outcomes WHERE observed_at < $1`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete outcomes before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

const outcomeSelectCols = `id, order_id, follower_id, success,
	COALESCE(tx_hash, ''), COALESCE(error, ''), observed_at`

func collectOutcomes(rows pgx.Rows) ([]domain.ReplicationOutcome, error) {
	var outcomes []domain.ReplicationOutcome
	for rows.Next() {
		var o domain.ReplicationOutcome
		err := rows.Scan(
			&o.ID, &o.OrderID, &o.FollowerID, &o.Success,
			&o.TxHash, &o.Error, &o.ObservedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
