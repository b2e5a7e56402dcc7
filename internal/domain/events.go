package domain

import "time"

// Overlay event names. These are the wire-level event identifiers the browser
// overlay listens for; renaming one breaks deployed overlays.
const (
	EventAddCone            = "addCone"
	EventAddConeDuel        = "addConeDuel"
	EventRefreshLeaderboard = "refreshLb"
	EventShowLeaderboard    = "showLb"
	EventGoldSkin           = "goldSkin"
	EventGoldCelebration    = "newGoldCelebration"
	EventSkinRefresh        = "skinRefresh"
	EventUnboxSkinAnim      = "unboxSkinAnim"
	EventUnboxConeReward    = "unboxConeReward"
	EventBuyConeReward      = "buyConeReward"
	EventRestart            = "restart"
)

// Game event types published to the audit stream.
const (
	GameEventWin   = "win"
	GameEventFail  = "fail"
	GameEventUnbox = "unbox"
	GameEventDuel  = "duel"
	GameEventBuy   = "buy"
)

// GameEvent is the audit record produced to Kafka for every state-changing
// game action. Consumers (analytics, the events-tail tool) treat it as
// append-only history.
type GameEvent struct {
	Type      string    `json:"type"`
	Player    string    `json:"player"`
	Target    string    `json:"target,omitempty"`
	Skin      string    `json:"skin,omitempty"`
	Win       bool      `json:"win,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
