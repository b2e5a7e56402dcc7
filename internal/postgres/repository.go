package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coneflip-overlay/server/internal/config"
	"github.com/coneflip-overlay/server/internal/domain"
)

// Repository provides PostgreSQL-based data access for player records,
// user skin state and the skin catalog.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS leaderboard (
			name VARCHAR(64) PRIMARY KEY,
			twitchid VARCHAR(64) NOT NULL DEFAULT '',
			wins INT NOT NULL DEFAULT 0,
			fails INT NOT NULL DEFAULT 0,
			winrate DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS user_skins (
			name VARCHAR(64) PRIMARY KEY,
			twitchid VARCHAR(64) NOT NULL DEFAULT '',
			skin VARCHAR(64) NOT NULL DEFAULT 'default',
			inventory TEXT[] NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS skins (
			name VARCHAR(64) PRIMARY KEY,
			visuals VARCHAR(255) NOT NULL,
			can_unbox BOOLEAN NOT NULL DEFAULT FALSE,
			unbox_weight DOUBLE PRECISION NOT NULL DEFAULT 0,
			position INT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leaderboard_twitchid ON leaderboard(twitchid)`,
		`CREATE INDEX IF NOT EXISTS idx_user_skins_twitchid ON user_skins(twitchid)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// GetAllPlayers retrieves every leaderboard record, unsorted. Ordering is the
// leaderboard engine's job.
func (r *Repository) GetAllPlayers(ctx context.Context) ([]domain.PlayerRecord, error) {
	query := `SELECT name, twitchid, wins, fails, winrate FROM leaderboard`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	defer rows.Close()

	var players []domain.PlayerRecord
	for rows.Next() {
		var p domain.PlayerRecord
		if err := rows.Scan(&p.Name, &p.TwitchID, &p.Wins, &p.Fails, &p.Winrate); err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// GetPlayer retrieves a player record by name.
func (r *Repository) GetPlayer(ctx context.Context, name string) (*domain.PlayerRecord, error) {
	query := `SELECT name, twitchid, wins, fails, winrate FROM leaderboard WHERE name = $1`
	var p domain.PlayerRecord
	err := r.pool.QueryRow(ctx, query, name).Scan(&p.Name, &p.TwitchID, &p.Wins, &p.Fails, &p.Winrate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return &p, nil
}

// GetPlayerByTwitchID retrieves a player record by Twitch account ID. Used to
// reconcile a renamed account back to its existing record.
func (r *Repository) GetPlayerByTwitchID(ctx context.Context, twitchID string) (*domain.PlayerRecord, error) {
	query := `SELECT name, twitchid, wins, fails, winrate FROM leaderboard WHERE twitchid = $1`
	var p domain.PlayerRecord
	err := r.pool.QueryRow(ctx, query, twitchID).Scan(&p.Name, &p.TwitchID, &p.Wins, &p.Fails, &p.Winrate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player by twitch id: %w", err)
	}
	return &p, nil
}

// UpsertPlayer writes a full player record. The caller computes the new
// counters and winrate; the write itself is a single atomic statement.
func (r *Repository) UpsertPlayer(ctx context.Context, p domain.PlayerRecord) error {
	query := `
		INSERT INTO leaderboard (name, twitchid, wins, fails, winrate)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name)
		DO UPDATE SET twitchid = CASE WHEN EXCLUDED.twitchid <> '' THEN EXCLUDED.twitchid ELSE leaderboard.twitchid END,
			wins = EXCLUDED.wins, fails = EXCLUDED.fails, winrate = EXCLUDED.winrate
	`
	_, err := r.pool.Exec(ctx, query, p.Name, p.TwitchID, p.Wins, p.Fails, p.Winrate)
	if err != nil {
		return fmt.Errorf("upserting player: %w", err)
	}
	return nil
}

// RenamePlayer moves the leaderboard record and skin state identified by a
// Twitch ID to a new login name. Both updates happen in one transaction so a
// half-renamed identity can never be observed.
func (r *Repository) RenamePlayer(ctx context.Context, twitchID, newName string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning rename: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE leaderboard SET name = $1 WHERE twitchid = $2`, newName, twitchID); err != nil {
		return fmt.Errorf("renaming leaderboard record: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE user_skins SET name = $1 WHERE twitchid = $2`, newName, twitchID); err != nil {
		return fmt.Errorf("renaming skin record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing rename: %w", err)
	}
	return nil
}

// GetUserSkins retrieves a player's skin state by name.
func (r *Repository) GetUserSkins(ctx context.Context, name string) (*domain.UserSkinState, error) {
	query := `SELECT name, twitchid, skin, inventory FROM user_skins WHERE name = $1`
	var u domain.UserSkinState
	err := r.pool.QueryRow(ctx, query, name).Scan(&u.Name, &u.TwitchID, &u.Selected, &u.Inventory)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoSkins
		}
		return nil, fmt.Errorf("getting user skins: %w", err)
	}
	return &u, nil
}

// GetAllUserSkins retrieves every user skin record, for the overlay's bulk
// skin lookup on load.
func (r *Repository) GetAllUserSkins(ctx context.Context) ([]domain.UserSkinState, error) {
	query := `SELECT name, twitchid, skin, inventory FROM user_skins`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing user skins: %w", err)
	}
	defer rows.Close()

	var users []domain.UserSkinState
	for rows.Next() {
		var u domain.UserSkinState
		if err := rows.Scan(&u.Name, &u.TwitchID, &u.Selected, &u.Inventory); err != nil {
			return nil, fmt.Errorf("scanning user skins: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpsertUserSkins writes a full user skin state.
func (r *Repository) UpsertUserSkins(ctx context.Context, u domain.UserSkinState) error {
	query := `
		INSERT INTO user_skins (name, twitchid, skin, inventory)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name)
		DO UPDATE SET twitchid = CASE WHEN EXCLUDED.twitchid <> '' THEN EXCLUDED.twitchid ELSE user_skins.twitchid END,
			skin = EXCLUDED.skin, inventory = EXCLUDED.inventory
	`
	_, err := r.pool.Exec(ctx, query, u.Name, u.TwitchID, u.Selected, u.Inventory)
	if err != nil {
		return fmt.Errorf("upserting user skins: %w", err)
	}
	return nil
}

// ReplaceSkins replaces the whole skin catalog in one transaction
// (delete-all + bulk insert). Position preserves the config file order, which
// the weighted draw walks deterministically.
func (r *Repository) ReplaceSkins(ctx context.Context, skins []domain.SkinDefinition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning catalog replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM skins`); err != nil {
		return fmt.Errorf("clearing skin catalog: %w", err)
	}

	query := `INSERT INTO skins (name, visuals, can_unbox, unbox_weight, position) VALUES ($1, $2, $3, $4, $5)`
	for i, s := range skins {
		if _, err := tx.Exec(ctx, query, s.Name, s.Visuals, s.CanUnbox, s.UnboxWeight, i); err != nil {
			return fmt.Errorf("inserting skin %q: %w", s.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing catalog replace: %w", err)
	}
	return nil
}

// GetSkins retrieves the persisted skin catalog in config order.
func (r *Repository) GetSkins(ctx context.Context) ([]domain.SkinDefinition, error) {
	query := `SELECT name, visuals, can_unbox, unbox_weight FROM skins ORDER BY position`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing skins: %w", err)
	}
	defer rows.Close()

	var skins []domain.SkinDefinition
	for rows.Next() {
		var s domain.SkinDefinition
		if err := rows.Scan(&s.Name, &s.Visuals, &s.CanUnbox, &s.UnboxWeight); err != nil {
			return nil, fmt.Errorf("scanning skin: %w", err)
		}
		skins = append(skins, s)
	}
	return skins, rows.Err()
}
