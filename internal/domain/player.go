package domain

import "math"

// DefaultSkin is the reserved skin every player implicitly owns. It is never
// part of the unbox pool and is always a legal swap target.
const DefaultSkin = "default"

// PlayerRecord is a single row of the coneflip leaderboard. Name is the
// lowercase, trimmed primary key; TwitchID is kept so a renamed account can be
// reconciled back to the same record.
type PlayerRecord struct {
	Name     string  `json:"name"`
	TwitchID string  `json:"twitchid,omitempty"`
	Wins     int     `json:"wins"`
	Fails    int     `json:"fails"`
	Winrate  float64 `json:"winrate"`
}

// GamesPlayed returns the number of decided flips for the record.
func (p PlayerRecord) GamesPlayed() int {
	return p.Wins + p.Fails
}

// ComputeWinrate derives the winrate percentage from wins and fails,
// rounded to 2 decimals. Zero games played yields 0.00.
func ComputeWinrate(wins, fails int) float64 {
	total := wins + fails
	if total == 0 {
		return 0
	}
	return math.Round(float64(wins)/float64(total)*100*100) / 100
}

// PlayerStanding is the per-player view over the sorted snapshot. Rank is
// positional ("3/17"), so it can move without the player flipping a cone.
type PlayerStanding struct {
	HasPlayed bool    `json:"hasPlayed"`
	Rank      string  `json:"rank,omitempty"`
	Wins      int     `json:"wins,omitempty"`
	Fails     int     `json:"fails,omitempty"`
	Winrate   float64 `json:"winrate,omitempty"`
}

// LeaderboardStats aggregates every record with at least one game played.
// AverageWinRate is the unweighted mean of per-player rates, not a global
// wins/total ratio; every active player counts the same regardless of volume.
type LeaderboardStats struct {
	PlayerCount      int     `json:"playerCount"`
	TotalGamesPlayed int     `json:"totalGamesPlayed"`
	AverageWinRate   float64 `json:"averageWinRate"`
}
