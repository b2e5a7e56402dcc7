package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coneflip-overlay/server/internal/config"
	"github.com/coneflip-overlay/server/internal/domain"
	"github.com/coneflip-overlay/server/internal/eventsub"
	"github.com/coneflip-overlay/server/internal/leaderboard"
	"github.com/coneflip-overlay/server/internal/skins"
)

// IdentityStore is the subset of the repository the service needs for
// Twitch ID reconciliation.
type IdentityStore interface {
	GetPlayer(ctx context.Context, name string) (*domain.PlayerRecord, error)
	GetPlayerByTwitchID(ctx context.Context, twitchID string) (*domain.PlayerRecord, error)
	UpsertPlayer(ctx context.Context, p domain.PlayerRecord) error
	RenamePlayer(ctx context.Context, twitchID, newName string) error
}

// IdentityResolver resolves a login name to its Twitch account ID.
type IdentityResolver interface {
	UserID(ctx context.Context, login string) (string, error)
}

// Broadcaster pushes events to connected overlay clients.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// Sayer sends a line to the channel's chat.
type Sayer interface {
	Say(text string)
}

// EventPublisher records game actions on the audit stream.
type EventPublisher interface {
	Publish(event domain.GameEvent)
}

// GameService orchestrates the coneflip game: it reconciles player identity,
// queues cones on the overlay, applies results to the leaderboard and routes
// reward redemptions. It is the single writer behind both the HTTP API and
// the EventSub listener.
type GameService struct {
	lb      *leaderboard.Engine
	skins   *skins.Engine
	store   IdentityStore
	ids     IdentityResolver
	hub     Broadcaster
	chat    Sayer
	audit   EventPublisher
	rewards config.RewardsConfig
	logger  *slog.Logger
}

// NewGameService creates the orchestration service. chat and audit may be nil.
func NewGameService(
	lb *leaderboard.Engine,
	skinEngine *skins.Engine,
	store IdentityStore,
	ids IdentityResolver,
	hub Broadcaster,
	chat Sayer,
	audit EventPublisher,
	rewards config.RewardsConfig,
	logger *slog.Logger,
) *GameService {
	return &GameService{
		lb:      lb,
		skins:   skinEngine,
		store:   store,
		ids:     ids,
		hub:     hub,
		chat:    chat,
		audit:   audit,
		rewards: rewards,
		logger:  logger,
	}
}

// NormalizeName lowercases, trims and strips a leading @ from a player name.
func NormalizeName(name string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "@")
}

// EnsurePlayer reconciles the player's identity before a cone is queued. A
// known name passes through; an unknown name is resolved to its Twitch ID,
// and either an existing record under that ID is renamed (account rename, in
// both the leaderboard and skin stores) or a fresh zero record is inserted.
func (s *GameService) EnsurePlayer(ctx context.Context, name string) error {
	_, err := s.store.GetPlayer(ctx, name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrPlayerNotFound) {
		return fmt.Errorf("%w: reading player %q: %w", domain.ErrDataUnavailable, name, err)
	}

	twitchID, err := s.ids.UserID(ctx, name)
	if err != nil {
		return err
	}

	_, err = s.store.GetPlayerByTwitchID(ctx, twitchID)
	switch {
	case err == nil:
		if err := s.store.RenamePlayer(ctx, twitchID, name); err != nil {
			return fmt.Errorf("%w: renaming player to %q: %w", domain.ErrDataUnavailable, name, err)
		}
		s.logger.Info("reconciled renamed account", "name", name, "twitch_id", twitchID)
	case errors.Is(err, domain.ErrPlayerNotFound):
		record := domain.PlayerRecord{Name: name, TwitchID: twitchID}
		if err := s.store.UpsertPlayer(ctx, record); err != nil {
			return fmt.Errorf("%w: creating player %q: %w", domain.ErrDataUnavailable, name, err)
		}
	default:
		return fmt.Errorf("%w: looking up twitch id %q: %w", domain.ErrDataUnavailable, twitchID, err)
	}
	return nil
}

// QueueCone reconciles the player and drops a cone on the overlay.
func (s *GameService) QueueCone(ctx context.Context, name string) error {
	name = NormalizeName(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be blank", domain.ErrInvalidRequest)
	}
	if err := s.EnsurePlayer(ctx, name); err != nil {
		return err
	}
	s.hub.Broadcast(domain.EventAddCone, name)
	return nil
}

// QueueDuel reconciles the challenger and drops a duel pair on the overlay.
// Duelling yourself is rejected.
func (s *GameService) QueueDuel(ctx context.Context, name, target string) error {
	name = NormalizeName(name)
	target = NormalizeName(target)
	if name == "" || target == "" {
		return fmt.Errorf("%w: name and target cannot be blank", domain.ErrInvalidRequest)
	}
	if name == target {
		return fmt.Errorf("%w: cannot duel yourself", domain.ErrInvalidRequest)
	}
	if err := s.EnsurePlayer(ctx, name); err != nil {
		return err
	}
	s.hub.Broadcast(domain.EventAddConeDuel, map[string]string{"name": name, "target": target})
	s.publish(domain.GameEvent{Type: domain.GameEventDuel, Player: name, Target: target})
	return nil
}

// ReportResult applies a decided flip to the leaderboard and refreshes every
// overlay. A rank-1 change additionally triggers the gold skin handover and
// its celebration.
func (s *GameService) ReportResult(ctx context.Context, name string, isWin bool) {
	name = NormalizeName(name)
	if name == "" {
		return
	}

	var priorTop string
	if top, err := s.lb.TopPlayer(ctx); err == nil && top != nil {
		priorTop = top.Name
	}

	snapshot, err := s.lb.UpdatePlayer(ctx, name, isWin)
	if err != nil {
		s.logger.Error("failed to apply flip result", "name", name, "win", isWin, "error", err)
		return
	}

	if len(snapshot) > 0 && snapshot[0].Name != priorTop {
		s.hub.Broadcast(domain.EventGoldSkin, snapshot[0].Name)
		s.hub.Broadcast(domain.EventGoldCelebration, snapshot[0].Name)
	}
	s.hub.Broadcast(domain.EventRefreshLeaderboard, snapshot)

	eventType := domain.GameEventFail
	if isWin {
		eventType = domain.GameEventWin
	}
	s.publish(domain.GameEvent{Type: eventType, Player: name, Win: isWin})
}

// Unbox draws a random skin for the player and plays the unbox animation.
// The overlay reports unboxfinished when the animation ends, which relays the
// result message to chat.
func (s *GameService) Unbox(ctx context.Context, name string) (*domain.UnboxResult, error) {
	name = NormalizeName(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name cannot be blank", domain.ErrInvalidRequest)
	}

	result, err := s.skins.SetRandomSkin(ctx, name)
	if err != nil {
		return nil, err
	}

	s.hub.Broadcast(domain.EventUnboxSkinAnim, map[string]string{
		"skin":    result.Skin,
		"name":    result.Player,
		"message": result.AnimMessage,
	})
	s.hub.Broadcast(domain.EventUnboxConeReward, map[string]string{
		"name":   result.Player,
		"result": result.Message,
	})
	s.hub.Broadcast(domain.EventSkinRefresh, nil)
	s.publish(domain.GameEvent{Type: domain.GameEventUnbox, Player: name, Skin: result.Skin})
	return result, nil
}

// BuySkin grants and equips a specific skin via the channel point buy reward.
func (s *GameService) BuySkin(ctx context.Context, name, skin string) (string, error) {
	name = NormalizeName(name)
	skin = strings.ToLower(strings.TrimSpace(skin))
	if name == "" || skin == "" {
		return "", fmt.Errorf("%w: name and skin cannot be blank", domain.ErrInvalidRequest)
	}

	msg, err := s.skins.SetSkin(ctx, name, skin)
	if err != nil {
		return "", err
	}

	s.hub.Broadcast(domain.EventBuyConeReward, map[string]string{"name": name, "result": msg})
	s.hub.Broadcast(domain.EventSkinRefresh, nil)
	s.publish(domain.GameEvent{Type: domain.GameEventBuy, Player: name, Skin: skin})
	return msg, nil
}

// GiveSkin grants and equips a skin without a reward attached (admin path).
func (s *GameService) GiveSkin(ctx context.Context, name, skin string) (string, error) {
	name = NormalizeName(name)
	skin = strings.ToLower(strings.TrimSpace(skin))
	if name == "" || skin == "" {
		return "", fmt.Errorf("%w: name and skin cannot be blank", domain.ErrInvalidRequest)
	}

	msg, err := s.skins.SetSkin(ctx, name, skin)
	if err != nil {
		return "", err
	}
	s.hub.Broadcast(domain.EventSkinRefresh, nil)
	return msg, nil
}

// SwapSkin equips an owned or entitled skin and refreshes overlay visuals.
func (s *GameService) SwapSkin(ctx context.Context, name, skin string) (string, error) {
	name = NormalizeName(name)
	skin = strings.ToLower(strings.TrimSpace(skin))
	if name == "" || skin == "" {
		return "", fmt.Errorf("%w: name and skin cannot be blank", domain.ErrInvalidRequest)
	}

	msg, err := s.skins.SwapSkin(ctx, name, skin)
	if err != nil {
		return "", err
	}
	s.hub.Broadcast(domain.EventSkinRefresh, nil)
	return msg, nil
}

// ShowLeaderboard tells every overlay to display the leaderboard panel,
// optionally focused on one player.
func (s *GameService) ShowLeaderboard(target string) {
	s.hub.Broadcast(domain.EventShowLeaderboard, NormalizeName(target))
}

// RestartOverlays tells every overlay to reload itself.
func (s *GameService) RestartOverlays() {
	s.hub.Broadcast(domain.EventRestart, nil)
}

// UnboxFinished relays the unbox result message to chat once the overlay
// animation has played out.
func (s *GameService) UnboxFinished(ctx context.Context, message string) {
	if message == "" {
		return
	}
	if s.chat != nil {
		s.chat.Say(message)
	}
}

// HandleRedemption routes a channel point redemption to its game action.
func (s *GameService) HandleRedemption(ctx context.Context, r eventsub.Redemption) {
	switch r.RewardID {
	case s.rewards.Cone:
		if err := s.QueueCone(ctx, r.UserLogin); err != nil {
			s.logger.Error("cone reward failed", "user", r.UserLogin, "error", err)
		}

	case s.rewards.Duel:
		if err := s.QueueDuel(ctx, r.UserLogin, r.UserInput); err != nil {
			if domain.IsValidationError(err) {
				s.logger.Warn("duel reward rejected", "user", r.UserLogin, "error", err)
			} else {
				s.logger.Error("duel reward failed", "user", r.UserLogin, "error", err)
			}
		}

	case s.rewards.Unbox:
		if _, err := s.Unbox(ctx, r.UserLogin); err != nil {
			s.logger.Error("unbox reward failed", "user", r.UserLogin, "error", err)
			s.say(fmt.Sprintf("%s, an error occurred during unbox cone reward.", r.UserLogin))
		}

	case s.rewards.Buy:
		if r.UserInput == "" {
			s.say(fmt.Sprintf("%s, please provide a skin for buy cone reward.", r.UserLogin))
			return
		}
		msg, err := s.BuySkin(ctx, r.UserLogin, r.UserInput)
		if err != nil {
			s.logger.Error("buy reward failed", "user", r.UserLogin, "error", err)
			s.say(fmt.Sprintf("%s, an error occurred during buy cone reward.", r.UserLogin))
			return
		}
		s.say(fmt.Sprintf("%s bought: %s", r.UserLogin, msg))
	}
}

func (s *GameService) say(text string) {
	if s.chat != nil {
		s.chat.Say(text)
	}
}

func (s *GameService) publish(event domain.GameEvent) {
	if s.audit != nil {
		s.audit.Publish(event)
	}
}
