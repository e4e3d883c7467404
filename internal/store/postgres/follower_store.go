package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// FollowerStore implements domain.FollowerStore using PostgreSQL.
type FollowerStore struct {
	pool *pgxpool.Pool
}

// NewFollowerStore creates a FollowerStore backed by the given pool.
func NewFollowerStore(pool *pgxpool.Pool) *FollowerStore {
	return &FollowerStore{pool: pool}
}

// Create inserts a new follower bot.
func (s *FollowerStore) Create(ctx context.Context, bot domain.FollowerBot) error {
	const query = `
		INSERT INTO follower_bots (
			id, target_address, signing_key, status,
			sizing_mode, sizing_multiplier, min_size, max_size,
			copy_trading_enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`

	_, err := s.pool.Exec(ctx, query,
		bot.ID, bot.TargetAddress, bot.SigningKey, string(bot.Status),
		string(bot.Sizing.Mode), bot.Sizing.Multiplier, bot.Sizing.MinSize, bot.Sizing.MaxSize,
		bot.CopyTradingEnabled,
	)
	if err != nil {
		return fmt.Errorf("postgres: create follower %s: %w", bot.ID, err)
	}
	return nil
}

// GetByID fetches one follower bot.
func (s *FollowerStore) GetByID(ctx context.Context, id string) (domain.FollowerBot, error) {
	query := `SELECT ` + followerSelectCols + ` FROM follower_bots WHERE id = $1`

	bot, err := scanFollower(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FollowerBot{}, fmt.Errorf("postgres: follower %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.FollowerBot{}, fmt.Errorf("postgres: get follower %s: %w", id, err)
	}
	return bot, nil
}

// List returns all follower bots, newest first.
func (s *FollowerStore) List(ctx context.Context) ([]domain.FollowerBot, error) {
	query := `SELECT ` + followerSelectCols + ` FROM follower_bots ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list followers: %w", err)
	}
	defer rows.Close()
	return collectFollowers(rows)
}

// ListActiveByTarget returns the dispatchable bots following a target:
// active status with copy trading enabled.
func (s *FollowerStore) ListActiveByTarget(ctx context.Context, targetAddress string) ([]domain.FollowerBot, error) {
	query := `SELECT ` + followerSelectCols + `
		FROM follower_bots
		WHERE target_address = $1 AND status = 'active' AND copy_trading_enabled
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, targetAddress)
	if err != nil {
		return nil, fmt.Errorf("postgres: list followers of %s: %w", targetAddress, err)
	}
	defer rows.Close()
	return collectFollowers(rows)
}

// ListTargets returns the distinct target addresses referenced by at least
// one non-stopped bot.
func (s *FollowerStore) ListTargets(ctx context.Context) ([]string, error) {
	const query = `
		SELECT DISTINCT target_address FROM follower_bots
		WHERE status <> 'stopped'
		ORDER BY target_address`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list targets: %w", err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("postgres: scan target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// UpdateStatus changes a bot's lifecycle status.
func (s *FollowerStore) UpdateStatus(ctx context.Context, id string, status domain.BotStatus) error {
	const query = `UPDATE follower_bots SET status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := s.pool.Exec(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update follower status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateSizing replaces a bot's sizing policy.
func (s *FollowerStore) UpdateSizing(ctx context.Context, id string, sizing domain.SizingPolicy) error {
	const query = `
		UPDATE follower_bots
		SET sizing_mode = $1, sizing_multiplier = $2, min_size = $3, max_size = $4, updated_at = NOW()
		WHERE id = $5`

	tag, err := s.pool.Exec(ctx, query,
		string(sizing.Mode), sizing.Multiplier, sizing.MinSize, sizing.MaxSize, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: update follower sizing %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const followerSelectCols = `id, target_address, signing_key, status,
	sizing_mode, sizing_multiplier, min_size, max_size,
	copy_trading_enabled, created_at, updated_at`

func scanFollower(scanner interface{ Scan(dest ...any) error }) (domain.FollowerBot, error) {
	var bot domain.FollowerBot
	var status, mode string

	err := scanner.Scan(
		&bot.ID, &bot.TargetAddress, &bot.SigningKey, &status,
		&mode, &bot.Sizing.Multiplier, &bot.Sizing.MinSize, &bot.Sizing.MaxSize,
		&bot.CopyTradingEnabled, &bot.CreatedAt, &bot.UpdatedAt,
	)
	if err != nil {
		return domain.FollowerBot{}, err
	}

	bot.Status = domain.BotStatus(status)
	bot.Sizing.Mode = domain.SizingMode(mode)
	return bot, nil
}

func collectFollowers(rows pgx.Rows) ([]domain.FollowerBot, error) {
	var bots []domain.FollowerBot
	for rows.Next() {
		bot, err := scanFollower(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan follower: %w", err)
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}
