package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/coneflip-overlay/server/internal/domain"
)

// PlayerStore is the record store contract the engine reads and writes
// through. Each call is atomic; read-modify-write sequencing is the engine's
// responsibility.
type PlayerStore interface {
	GetAllPlayers(ctx context.Context) ([]domain.PlayerRecord, error)
	GetPlayer(ctx context.Context, name string) (*domain.PlayerRecord, error)
	UpsertPlayer(ctx context.Context, p domain.PlayerRecord) error
}

// Engine is the single source of truth for ranking and aggregate stats. It
// keeps a short-lived sorted snapshot of all records; the snapshot is
// advisory and safe to recompute at any time.
type Engine struct {
	store    PlayerStore
	cacheTTL time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	snapshot []domain.PlayerRecord
	asOf     time.Time

	// per-player locks serialize concurrent win/fail updates for the same
	// name, so increments are never lost to a read-modify-write race
	keysMu sync.Mutex
	keys   map[string]*sync.Mutex

	now func() time.Time
}

// NewEngine creates a leaderboard engine over the given record store.
func NewEngine(store PlayerStore, cacheTTL time.Duration, logger *slog.Logger) *Engine {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Second
	}
	return &Engine{
		store:    store,
		cacheTTL: cacheTTL,
		logger:   logger,
		keys:     make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

// GetLeaderboard returns the sorted snapshot of all player records,
// recomputing it from the store when the cache is absent or older than the
// freshness window.
func (e *Engine) GetLeaderboard(ctx context.Context) ([]domain.PlayerRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.snapshot != nil && e.now().Sub(e.asOf) < e.cacheTTL {
		return e.snapshot, nil
	}
	return e.rebuildLocked(ctx)
}

// rebuildLocked recomputes the sorted snapshot. Caller holds e.mu.
func (e *Engine) rebuildLocked(ctx context.Context) ([]domain.PlayerRecord, error) {
	players, err := e.store.GetAllPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading leaderboard: %w", domain.ErrDataUnavailable, err)
	}
	Sort(players)
	e.snapshot = players
	e.asOf = e.now()
	return e.snapshot, nil
}

// Sort orders records in place by the leaderboard ranking rule:
// higher wins first; among records with wins the higher winrate first; then
// fewer fails; then name. Two zero-win records are never compared on winrate
// (both are 0.00) and fall straight through to the fails tiebreak.
func Sort(players []domain.PlayerRecord) {
	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if a.Wins > 0 && a.Winrate != b.Winrate {
			return a.Winrate > b.Winrate
		}
		if a.Fails != b.Fails {
			return a.Fails < b.Fails
		}
		return a.Name < b.Name
	})
}

// GetPlayer returns the player's standing in the current sorted snapshot.
// Absent players are not an error; HasPlayed is false.
func (e *Engine) GetPlayer(ctx context.Context, name string) (domain.PlayerStanding, error) {
	snapshot, err := e.GetLeaderboard(ctx)
	if err != nil {
		return domain.PlayerStanding{}, err
	}
	for i, p := range snapshot {
		if p.Name == name {
			return domain.PlayerStanding{
				HasPlayed: true,
				Rank:      fmt.Sprintf("%d/%d", i+1, len(snapshot)),
				Wins:      p.Wins,
				Fails:     p.Fails,
				Winrate:   p.Winrate,
			}, nil
		}
	}
	return domain.PlayerStanding{HasPlayed: false}, nil
}

// TopPlayer returns the record currently holding rank 1, or nil when the
// board is empty.
func (e *Engine) TopPlayer(ctx context.Context) (*domain.PlayerRecord, error) {
	snapshot, err := e.GetLeaderboard(ctx)
	if err != nil {
		return nil, err
	}
	if len(snapshot) == 0 {
		return nil, nil
	}
	top := snapshot[0]
	return &top, nil
}

// UpdatePlayer applies a win or fail to the named player, creating the record
// on first flip, and returns the freshly sorted snapshot. Callers detect a
// rank-1 change by diffing against the snapshot they held before the call.
func (e *Engine) UpdatePlayer(ctx context.Context, name string, isWin bool) ([]domain.PlayerRecord, error) {
	unlock := e.lockKey(name)
	defer unlock()

	record, err := e.store.GetPlayer(ctx, name)
	switch {
	case errors.Is(err, domain.ErrPlayerNotFound):
		record = &domain.PlayerRecord{Name: name}
	case err != nil:
		return nil, fmt.Errorf("%w: reading player %q: %w", domain.ErrDataUnavailable, name, err)
	}

	if isWin {
		record.Wins++
	} else {
		record.Fails++
	}
	record.Winrate = domain.ComputeWinrate(record.Wins, record.Fails)

	if err := e.store.UpsertPlayer(ctx, *record); err != nil {
		return nil, fmt.Errorf("%w: writing player %q: %w", domain.ErrDataUnavailable, name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot = nil
	return e.rebuildLocked(ctx)
}

// CalculateStats aggregates every record with at least one game played.
// The average is over each qualifying player's individual rate, recomputed
// from the counters so a drifted stored winrate cannot skew it.
func (e *Engine) CalculateStats(ctx context.Context) (domain.LeaderboardStats, error) {
	snapshot, err := e.GetLeaderboard(ctx)
	if err != nil {
		return domain.LeaderboardStats{}, err
	}

	var stats domain.LeaderboardStats
	var totalRate float64
	for _, p := range snapshot {
		games := p.GamesPlayed()
		if games == 0 {
			continue
		}
		stats.PlayerCount++
		stats.TotalGamesPlayed += games
		totalRate += float64(p.Wins) / float64(games) * 100
	}
	if stats.PlayerCount > 0 {
		stats.AverageWinRate = math.Round(totalRate/float64(stats.PlayerCount)*100) / 100
	}
	return stats, nil
}

// lockKey acquires the per-player mutex for name and returns its unlock func.
func (e *Engine) lockKey(name string) func() {
	e.keysMu.Lock()
	m, ok := e.keys[name]
	if !ok {
		m = &sync.Mutex{}
		e.keys[name] = m
	}
	e.keysMu.Unlock()
	m.Lock()
	return m.Unlock
}
