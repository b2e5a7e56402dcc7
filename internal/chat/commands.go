package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coneflip-overlay/server/internal/domain"
	"github.com/coneflip-overlay/server/internal/leaderboard"
	"github.com/coneflip-overlay/server/internal/service"
	"github.com/coneflip-overlay/server/internal/skins"
	"github.com/coneflip-overlay/server/internal/twitch"
)

// Sayer sends a reply line to the channel.
type Sayer interface {
	Say(text string)
}

// Broadcaster pushes events to connected overlay clients, used by the admin
// simulation commands which bypass identity reconciliation.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// Router parses "!" commands from chat and dispatches them to the game
// engines. Admin commands are restricted to the configured admin logins.
type Router struct {
	game   *service.GameService
	lb     *leaderboard.Engine
	skins  *skins.Engine
	say    Sayer
	hub    Broadcaster
	admins map[string]bool
	logger *slog.Logger
}

// NewRouter creates a chat command router.
func NewRouter(
	game *service.GameService,
	lb *leaderboard.Engine,
	skinEngine *skins.Engine,
	say Sayer,
	hub Broadcaster,
	admins []string,
	logger *slog.Logger,
) *Router {
	adminSet := make(map[string]bool, len(admins))
	for _, a := range admins {
		adminSet[strings.ToLower(strings.TrimSpace(a))] = true
	}
	return &Router{
		game:   game,
		lb:     lb,
		skins:  skinEngine,
		say:    say,
		hub:    hub,
		admins: adminSet,
		logger: logger,
	}
}

// Handle processes one chat message. Non-command messages are ignored.
func (r *Router) Handle(ctx context.Context, msg twitch.ChatMessage) {
	if !strings.HasPrefix(msg.Text, "!") {
		return
	}

	fields := strings.Fields(msg.Text[1:])
	if len(fields) == 0 {
		return
	}
	command := strings.ToLower(fields[0])
	args := fields[1:]
	sender := strings.ToLower(msg.User)

	switch command {
	case "leaderboard":
		target := sender
		if len(args) > 0 {
			target = args[0]
		}
		r.game.ShowLeaderboard(target)
		r.say.Say("Showing cone leaderboard...")

	case "coneflip":
		target := sender
		if len(args) > 0 {
			target = args[0]
		}
		r.coneflip(ctx, sender, target)

	case "conestats":
		r.conestats(ctx)

	case "myskins":
		target := sender
		if len(args) > 0 {
			target = args[0]
		}
		r.myskins(ctx, target)

	case "setskin":
		if len(args) < 1 {
			r.logger.Debug("setskin without a skin argument", "user", sender)
			return
		}
		r.setskin(ctx, sender, args[0])

	case "coneskins":
		r.coneskins(sender)

	case "conehelp":
		r.say.Say(fmt.Sprintf("@%s, Available commands: coneflip, conestats, leaderboard, myskins, setskin, coneskins.", sender))

	case "giveskin":
		if !r.admins[sender] {
			return
		}
		if len(args) < 2 {
			r.logger.Debug("giveskin without name and skin", "user", sender)
			return
		}
		r.giveskin(ctx, sender, args[0], args[1])

	case "simcone":
		if !r.admins[sender] || len(args) < 1 {
			return
		}
		r.hub.Broadcast(domain.EventAddCone, service.NormalizeName(args[0]))

	case "simduel":
		if !r.admins[sender] || len(args) < 2 {
			return
		}
		name := service.NormalizeName(args[0])
		target := service.NormalizeName(args[1])
		if name == "" || target == "" {
			return
		}
		if name == target {
			r.say.Say(fmt.Sprintf("@%s, you cannot duel yourself.", sender))
			return
		}
		r.hub.Broadcast(domain.EventAddConeDuel, map[string]string{"name": name, "target": target})

	case "refreshcones":
		if !r.admins[sender] {
			return
		}
		r.game.RestartOverlays()
		r.say.Say(fmt.Sprintf("@%s, cones have been refreshed.", sender))
	}
}

func (r *Router) coneflip(ctx context.Context, sender, target string) {
	target = service.NormalizeName(target)
	standing, err := r.lb.GetPlayer(ctx, target)
	if err != nil {
		r.logger.Error("failed to fetch coneflip stats", "target", target, "error", err)
		r.say.Say(fmt.Sprintf("@%s, an error occurred while fetching stats for %s.", sender, target))
		return
	}
	if !standing.HasPlayed {
		r.say.Say(fmt.Sprintf("%s hasn't coneflipped yet.", target))
		return
	}
	r.say.Say(fmt.Sprintf("%s coneflip stats: Rank %s (Ws: %d, Ls: %d, WR%%: %.2f%%).",
		target, standing.Rank, standing.Wins, standing.Fails, standing.Winrate))
}

func (r *Router) conestats(ctx context.Context) {
	stats, err := r.lb.CalculateStats(ctx)
	if err != nil {
		r.logger.Error("failed to calculate leaderboard stats", "error", err)
		return
	}
	r.say.Say(fmt.Sprintf("%d cones have been redeemed by %d players with an average winrate of %.2f%%!",
		stats.TotalGamesPlayed, stats.PlayerCount, stats.AverageWinRate))
}

func (r *Router) myskins(ctx context.Context, target string) {
	target = service.NormalizeName(target)
	inv, err := r.skins.ListInventory(ctx, target)
	if err != nil {
		if errors.Is(err, domain.ErrNoSkins) {
			r.say.Say(fmt.Sprintf("%s doesn't have any skins.", target))
			return
		}
		r.logger.Error("failed to list skins", "target", target, "error", err)
		return
	}
	r.say.Say(fmt.Sprintf("%s owns: %s | Currently selected: %s",
		target, strings.Join(inv.Owned, ", "), inv.Selected))
}

func (r *Router) setskin(ctx context.Context, sender, skin string) {
	msg, err := r.game.SwapSkin(ctx, sender, skin)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoSkins):
			r.say.Say(fmt.Sprintf("%s doesn't have any skins.", sender))
		case errors.Is(err, domain.ErrSkinNotOwned):
			r.say.Say(fmt.Sprintf("%s doesn't own this skin. WeirdChamp .", sender))
		default:
			r.logger.Error("failed to swap skin", "user", sender, "skin", skin, "error", err)
		}
		return
	}
	r.say.Say(msg)
}

func (r *Router) coneskins(sender string) {
	odds, err := r.skins.CalculateOdds()
	if err != nil {
		r.logger.Error("failed to calculate skin odds", "error", err)
		return
	}
	r.say.Say(fmt.Sprintf("@%s, cone skin odds: %s. Use !myskins to view your owned skins", sender, odds))
}

func (r *Router) giveskin(ctx context.Context, sender, name, skin string) {
	msg, err := r.game.GiveSkin(ctx, name, skin)
	if err != nil {
		if domain.IsValidationError(err) {
			r.logger.Warn("giveskin rejected", "admin", sender, "name", name, "skin", skin, "error", err)
		} else {
			r.logger.Error("giveskin failed", "admin", sender, "name", name, "skin", skin, "error", err)
		}
		return
	}
	r.say.Say(msg)
}
