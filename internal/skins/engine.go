package skins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/coneflip-overlay/server/internal/domain"
)

// UserSkinStore is the persistence contract for per-player skin state.
type UserSkinStore interface {
	GetUserSkins(ctx context.Context, name string) (*domain.UserSkinState, error)
	UpsertUserSkins(ctx context.Context, u domain.UserSkinState) error
}

// CatalogStore persists the skin catalog wholesale on reload.
type CatalogStore interface {
	ReplaceSkins(ctx context.Context, skins []domain.SkinDefinition) error
}

// RankProvider exposes the current rank-1 holder, for the gold entitlement.
type RankProvider interface {
	TopPlayer(ctx context.Context) (*domain.PlayerRecord, error)
}

// SubscriptionChecker reports a viewer's subscription tier (0 = none).
type SubscriptionChecker interface {
	SubscriptionTier(ctx context.Context, login string) (int, error)
}

// IdentityResolver resolves a login name to its platform account ID.
type IdentityResolver interface {
	UserID(ctx context.Context, login string) (string, error)
}

// InventoryView is the read-time merge of persisted inventory, the implicit
// default skin and entitlement grants.
type InventoryView struct {
	Owned    []string `json:"owned"`
	Selected string   `json:"selected"`
}

// Engine validates skin ownership and assignment and performs the weighted
// unbox draw against the loaded catalog.
type Engine struct {
	store        UserSkinStore
	catalogStore CatalogStore
	catalog      atomic.Pointer[Catalog]
	rules        []EntitlementRule
	ranks        RankProvider
	subs         SubscriptionChecker
	ids          IdentityResolver
	logger       *slog.Logger

	randFloat func() float64
}

// NewEngine creates a skin engine. catalogStore, ranks, subs and ids may be
// nil; the matching behaviours (catalog persistence, gold and subscriber
// entitlements, Twitch ID stamping) degrade gracefully.
func NewEngine(
	store UserSkinStore,
	catalogStore CatalogStore,
	catalog *Catalog,
	rules []EntitlementRule,
	ranks RankProvider,
	subs SubscriptionChecker,
	ids IdentityResolver,
	logger *slog.Logger,
) *Engine {
	e := &Engine{
		store:        store,
		catalogStore: catalogStore,
		rules:        rules,
		ranks:        ranks,
		subs:         subs,
		ids:          ids,
		logger:       logger,
		randFloat:    rand.Float64,
	}
	if catalog == nil {
		catalog = NewCatalog(nil)
	}
	e.catalog.Store(catalog)
	return e
}

// Catalog returns the currently loaded catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog.Load()
}

// Reload loads the skin config file, persists the catalog wholesale and swaps
// the in-memory catalog atomically.
func (e *Engine) Reload(ctx context.Context, path string) error {
	catalog, err := LoadCatalog(path)
	if err != nil {
		return err
	}
	if e.catalogStore != nil {
		if err := e.catalogStore.ReplaceSkins(ctx, catalog.All()); err != nil {
			return fmt.Errorf("persisting skin catalog: %w", err)
		}
	}
	e.catalog.Store(catalog)
	e.logger.Info("skin catalog loaded", "skins", len(catalog.All()))
	return nil
}

// IsValidSkin reports whether the named skin exists in the loaded catalog.
func (e *Engine) IsValidSkin(name string) bool {
	return e.Catalog().Contains(name)
}

// SetSkin grants the skin to the player (idempotently) and equips it. This is
// the grant-and-equip path used by admin gives, buys and unbox finalization.
func (e *Engine) SetSkin(ctx context.Context, name, skin string) (string, error) {
	if !e.IsValidSkin(skin) {
		return "", domain.ErrInvalidSkin
	}

	user, err := e.store.GetUserSkins(ctx, name)
	switch {
	case errors.Is(err, domain.ErrNoSkins):
		user = &domain.UserSkinState{Name: name, Selected: domain.DefaultSkin}
		if e.ids != nil {
			if id, err := e.ids.UserID(ctx, name); err == nil {
				user.TwitchID = id
			}
		}
	case err != nil:
		return "", fmt.Errorf("%w: reading skins for %q: %w", domain.ErrDataUnavailable, name, err)
	}

	if !contains(user.Inventory, skin) {
		user.Inventory = append(user.Inventory, skin)
	}
	user.Selected = skin

	if err := e.store.UpsertUserSkins(ctx, *user); err != nil {
		return "", fmt.Errorf("%w: writing skins for %q: %w", domain.ErrDataUnavailable, name, err)
	}
	return fmt.Sprintf("Skin for %s updated to %s.", name, skin), nil
}

// SetRandomSkin performs a weighted draw over the unboxable catalog entries.
// Drawing a skin the player already owns changes nothing; a first-time draw
// is granted and equipped via SetSkin.
func (e *Engine) SetRandomSkin(ctx context.Context, name string) (*domain.UnboxResult, error) {
	pool := e.Catalog().Unboxable()
	var total float64
	for _, s := range pool {
		total += s.UnboxWeight
	}
	if len(pool) == 0 || total <= 0 {
		return nil, domain.ErrNoDrawableSkins
	}

	r := e.randFloat() * total
	var drawn domain.SkinDefinition
	var cumulative float64
	for _, s := range pool {
		cumulative += s.UnboxWeight
		if cumulative >= r {
			drawn = s
			break
		}
	}

	odds := drawn.UnboxWeight / total * 100

	user, err := e.store.GetUserSkins(ctx, name)
	if err != nil && !errors.Is(err, domain.ErrNoSkins) {
		return nil, fmt.Errorf("%w: reading skins for %q: %w", domain.ErrDataUnavailable, name, err)
	}
	if user != nil && contains(user.Inventory, drawn.Name) {
		return &domain.UnboxResult{
			Player:      name,
			Skin:        drawn.Name,
			Odds:        odds,
			Duplicate:   true,
			Message:     fmt.Sprintf("%s unboxed \"%s\" ... again GAGAGA better luck next time (%.1f%%)..", name, drawn.Name, odds),
			AnimMessage: fmt.Sprintf("%s unboxed \"%s\" ... again (%.1f%%) GAGAGA Better luck next time... ", name, drawn.Name, odds),
		}, nil
	}

	if _, err := e.SetSkin(ctx, name, drawn.Name); err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("%s unboxed \"%s\" skin (%.1f%%).", name, drawn.Name, odds)
	return &domain.UnboxResult{
		Player:      name,
		Skin:        drawn.Name,
		Odds:        odds,
		Message:     msg,
		AnimMessage: msg,
	}, nil
}

// SwapSkin equips a skin the player already owns, without touching the
// inventory. The default skin is always allowed, as are read-time
// entitlement grants; those equip without ever being persisted as owned.
func (e *Engine) SwapSkin(ctx context.Context, name, skin string) (string, error) {
	user, err := e.store.GetUserSkins(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrNoSkins) {
			return "", domain.ErrNoSkins
		}
		return "", fmt.Errorf("%w: reading skins for %q: %w", domain.ErrDataUnavailable, name, err)
	}

	if !user.Owns(skin) && !contains(e.entitledSkins(ctx, name), skin) {
		return "", domain.ErrSkinNotOwned
	}

	user.Selected = skin
	if err := e.store.UpsertUserSkins(ctx, *user); err != nil {
		return "", fmt.Errorf("%w: writing skins for %q: %w", domain.ErrDataUnavailable, name, err)
	}
	return fmt.Sprintf("Swapped %s's skin to %s.", name, skin), nil
}

// ListInventory returns the owned skin set merged with the implicit default
// and any entitlement grants, plus the currently equipped skin.
func (e *Engine) ListInventory(ctx context.Context, name string) (*InventoryView, error) {
	user, err := e.store.GetUserSkins(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrNoSkins) {
			return nil, domain.ErrNoSkins
		}
		return nil, fmt.Errorf("%w: reading skins for %q: %w", domain.ErrDataUnavailable, name, err)
	}

	owned := []string{domain.DefaultSkin}
	for _, s := range user.Inventory {
		if !contains(owned, s) {
			owned = append(owned, s)
		}
	}
	for _, s := range e.entitledSkins(ctx, name) {
		if !contains(owned, s) {
			owned = append(owned, s)
		}
	}

	return &InventoryView{Owned: owned, Selected: user.Selected}, nil
}

// CalculateOdds renders every unboxable skin's share of the total weight,
// descending, e.g. `red (40.0%), blue (40.0%), gold (20.0%)`.
func (e *Engine) CalculateOdds() (string, error) {
	pool := e.Catalog().Unboxable()
	var total float64
	for _, s := range pool {
		total += s.UnboxWeight
	}
	if len(pool) == 0 || total <= 0 {
		return "", domain.ErrNoDrawableSkins
	}

	sorted := make([]domain.SkinDefinition, len(pool))
	copy(sorted, pool)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UnboxWeight > sorted[j].UnboxWeight
	})

	parts := make([]string, len(sorted))
	for i, s := range sorted {
		parts[i] = fmt.Sprintf("%s (%.1f%%)", s.Name, s.UnboxWeight/total*100)
	}
	return strings.Join(parts, ", "), nil
}

// entitledSkins evaluates the entitlement rules for a player. Rule inputs
// that cannot be fetched degrade to their zero values; a flaky subscription
// check must not block a swap to an owned skin.
func (e *Engine) entitledSkins(ctx context.Context, name string) []string {
	if len(e.rules) == 0 {
		return nil
	}

	var top *domain.PlayerRecord
	if e.ranks != nil {
		t, err := e.ranks.TopPlayer(ctx)
		if err != nil {
			e.logger.Warn("failed to resolve top player for entitlements", "error", err)
		} else {
			top = t
		}
	}

	subTier := 0
	if e.subs != nil {
		tier, err := e.subs.SubscriptionTier(ctx, name)
		if err != nil {
			e.logger.Warn("failed to check subscription for entitlements", "name", name, "error", err)
		} else {
			subTier = tier
		}
	}

	var skins []string
	for _, rule := range e.rules {
		if skin, granted := rule(name, top, subTier); granted {
			skins = append(skins, skin)
		}
	}
	return skins
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
