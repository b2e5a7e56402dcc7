package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coneflip-overlay/server/internal/config"
	"github.com/coneflip-overlay/server/internal/domain"
	"github.com/coneflip-overlay/server/internal/eventsub"
	"github.com/coneflip-overlay/server/internal/leaderboard"
	"github.com/coneflip-overlay/server/internal/skins"
)

// fakeRepo backs both the leaderboard engine and the identity store.
type fakeRepo struct {
	mu      sync.Mutex
	records map[string]domain.PlayerRecord
	skins   map[string]domain.UserSkinState
	renames []string
}

func newFakeRepo(records ...domain.PlayerRecord) *fakeRepo {
	r := &fakeRepo{
		records: make(map[string]domain.PlayerRecord),
		skins:   make(map[string]domain.UserSkinState),
	}
	for _, rec := range records {
		r.records[rec.Name] = rec
	}
	return r
}

func (r *fakeRepo) GetAllPlayers(ctx context.Context) ([]domain.PlayerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PlayerRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func (r *fakeRepo) GetPlayer(ctx context.Context, name string) (*domain.PlayerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	return &rec, nil
}

func (r *fakeRepo) GetPlayerByTwitchID(ctx context.Context, twitchID string) (*domain.PlayerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.TwitchID == twitchID {
			return &rec, nil
		}
	}
	return nil, domain.ErrPlayerNotFound
}

func (r *fakeRepo) UpsertPlayer(ctx context.Context, p domain.PlayerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[p.Name] = p
	return nil
}

func (r *fakeRepo) RenamePlayer(ctx context.Context, twitchID, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, rec := range r.records {
		if rec.TwitchID == twitchID {
			delete(r.records, name)
			rec.Name = newName
			r.records[newName] = rec
			r.renames = append(r.renames, name+"->"+newName)
			return nil
		}
	}
	return domain.ErrPlayerNotFound
}

func (r *fakeRepo) GetUserSkins(ctx context.Context, name string) (*domain.UserSkinState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.skins[name]
	if !ok {
		return nil, domain.ErrNoSkins
	}
	return &st, nil
}

func (r *fakeRepo) UpsertUserSkins(ctx context.Context, u domain.UserSkinState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skins[u.Name] = u
	return nil
}

type fakeResolver struct {
	ids map[string]string
}

func (f fakeResolver) UserID(ctx context.Context, login string) (string, error) {
	id, ok := f.ids[login]
	if !ok {
		return "", domain.ErrTwitchIDNotFound
	}
	return id, nil
}

type recordedEvent struct {
	event   string
	payload interface{}
}

type fakeHub struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (h *fakeHub) Broadcast(event string, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, recordedEvent{event, payload})
}

func (h *fakeHub) names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	for i, e := range h.events {
		out[i] = e.event
	}
	return out
}

type fakeSayer struct {
	mu    sync.Mutex
	lines []string
}

func (s *fakeSayer) Say(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []domain.GameEvent
}

func (a *fakeAudit) Publish(event domain.GameEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(sink{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type sink struct{}

func (sink) Write(p []byte) (int, error) { return len(p), nil }

func testRewards() config.RewardsConfig {
	return config.RewardsConfig{Cone: "r-cone", Duel: "r-duel", Unbox: "r-unbox", Buy: "r-buy"}
}

func newTestService(repo *fakeRepo, ids map[string]string) (*GameService, *fakeHub, *fakeSayer, *fakeAudit) {
	logger := quietLogger()
	lb := leaderboard.NewEngine(repo, time.Millisecond, logger)
	catalog := skins.NewCatalog([]domain.SkinDefinition{
		{Name: "default"},
		{Name: "red", CanUnbox: true, UnboxWeight: 100},
	})
	skinEngine := skins.NewEngine(repo, nil, catalog, nil, nil, nil, nil, logger)

	hub := &fakeHub{}
	say := &fakeSayer{}
	audit := &fakeAudit{}
	game := NewGameService(lb, skinEngine, repo, fakeResolver{ids: ids}, hub, say, audit, testRewards(), logger)
	return game, hub, say, audit
}

func TestEnsurePlayerCreatesZeroRecord(t *testing.T) {
	repo := newFakeRepo()
	game, _, _, _ := newTestService(repo, map[string]string{"alice": "42"})

	if err := game.EnsurePlayer(context.Background(), "alice"); err != nil {
		t.Fatalf("EnsurePlayer: %v", err)
	}

	rec, ok := repo.records["alice"]
	if !ok {
		t.Fatal("no record created")
	}
	if rec.TwitchID != "42" || rec.Wins != 0 || rec.Fails != 0 {
		t.Fatalf("record = %+v, want zero record with twitch id 42", rec)
	}
}

func TestEnsurePlayerReconcilesRename(t *testing.T) {
	repo := newFakeRepo(domain.PlayerRecord{Name: "oldnick", TwitchID: "42", Wins: 7, Fails: 3, Winrate: 70})
	game, _, _, _ := newTestService(repo, map[string]string{"newnick": "42"})

	if err := game.EnsurePlayer(context.Background(), "newnick"); err != nil {
		t.Fatalf("EnsurePlayer: %v", err)
	}

	if _, ok := repo.records["oldnick"]; ok {
		t.Fatal("old record still present after rename")
	}
	rec, ok := repo.records["newnick"]
	if !ok {
		t.Fatal("renamed record missing")
	}
	if rec.Wins != 7 {
		t.Fatalf("rename lost history: %+v", rec)
	}
}

func TestEnsurePlayerUnknownTwitchID(t *testing.T) {
	game, _, _, _ := newTestService(newFakeRepo(), map[string]string{})

	err := game.EnsurePlayer(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrTwitchIDNotFound) {
		t.Fatalf("err = %v, want ErrTwitchIDNotFound", err)
	}
}

func TestQueueConeBroadcasts(t *testing.T) {
	game, hub, _, _ := newTestService(newFakeRepo(), map[string]string{"alice": "42"})

	if err := game.QueueCone(context.Background(), "@Alice "); err != nil {
		t.Fatalf("QueueCone: %v", err)
	}

	if len(hub.events) != 1 || hub.events[0].event != domain.EventAddCone {
		t.Fatalf("events = %v, want one addCone", hub.names())
	}
	if hub.events[0].payload != "alice" {
		t.Fatalf("payload = %v, want normalized name", hub.events[0].payload)
	}
}

func TestQueueDuelRejectsSelf(t *testing.T) {
	game, hub, _, _ := newTestService(newFakeRepo(), map[string]string{"alice": "42"})

	err := game.QueueDuel(context.Background(), "alice", "@alice")
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if len(hub.events) != 0 {
		t.Fatalf("self-duel broadcast events: %v", hub.names())
	}
}

func TestReportResultGoldHandover(t *testing.T) {
	repo := newFakeRepo(domain.PlayerRecord{Name: "bob", Wins: 1, Fails: 5, Winrate: 16.67})
	game, hub, _, audit := newTestService(repo, nil)
	ctx := context.Background()

	// alice overtakes bob on her second win
	game.ReportResult(ctx, "alice", true)
	game.ReportResult(ctx, "alice", true)

	var goldFor interface{}
	for _, e := range hub.events {
		if e.event == domain.EventGoldSkin {
			goldFor = e.payload
		}
	}
	if goldFor != "alice" {
		t.Fatalf("gold skin holder = %v, want alice (events %v)", goldFor, hub.names())
	}

	refreshes := 0
	for _, e := range hub.events {
		if e.event == domain.EventRefreshLeaderboard {
			refreshes++
		}
	}
	if refreshes != 2 {
		t.Fatalf("refreshLb count = %d, want one per result", refreshes)
	}

	if len(audit.events) != 2 || audit.events[0].Type != domain.GameEventWin {
		t.Fatalf("audit events = %+v", audit.events)
	}
}

func TestReportResultNoHandoverWhenTopHolds(t *testing.T) {
	repo := newFakeRepo(
		domain.PlayerRecord{Name: "bob", Wins: 10, Winrate: 100},
		domain.PlayerRecord{Name: "alice", Wins: 1, Winrate: 100},
	)
	game, hub, _, _ := newTestService(repo, nil)

	game.ReportResult(context.Background(), "alice", true)

	for _, e := range hub.events {
		if e.event == domain.EventGoldSkin || e.event == domain.EventGoldCelebration {
			t.Fatalf("gold events fired without a rank-1 change: %v", hub.names())
		}
	}
}

func TestUnboxBroadcastsAndAudits(t *testing.T) {
	game, hub, _, audit := newTestService(newFakeRepo(), nil)

	result, err := game.Unbox(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Unbox: %v", err)
	}
	if result.Skin != "red" {
		t.Fatalf("skin = %q, want red (only drawable)", result.Skin)
	}

	want := []string{domain.EventUnboxSkinAnim, domain.EventUnboxConeReward, domain.EventSkinRefresh}
	got := hub.names()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	if len(audit.events) != 1 || audit.events[0].Type != domain.GameEventUnbox {
		t.Fatalf("audit events = %+v", audit.events)
	}
}

func TestUnboxDuplicateUsesOverlayText(t *testing.T) {
	game, hub, _, _ := newTestService(newFakeRepo(), nil)
	ctx := context.Background()

	if _, err := game.Unbox(ctx, "alice"); err != nil {
		t.Fatalf("first unbox: %v", err)
	}
	result, err := game.Unbox(ctx, "alice")
	if err != nil {
		t.Fatalf("second unbox: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected duplicate draw with a single drawable skin")
	}
	if result.Message != `alice unboxed "red" ... again GAGAGA better luck next time (100.0%)..` {
		t.Fatalf("chat message = %q", result.Message)
	}

	var anims []map[string]string
	for _, e := range hub.events {
		if e.event == domain.EventUnboxSkinAnim {
			anims = append(anims, e.payload.(map[string]string))
		}
	}
	if len(anims) != 2 {
		t.Fatalf("unboxSkinAnim broadcasts = %d, want 2", len(anims))
	}
	want := `alice unboxed "red" ... again (100.0%) GAGAGA Better luck next time... `
	if anims[1]["message"] != want {
		t.Fatalf("anim message = %q, want %q", anims[1]["message"], want)
	}
}

func TestUnboxFinishedRelaysToChat(t *testing.T) {
	game, _, say, _ := newTestService(newFakeRepo(), nil)

	game.UnboxFinished(context.Background(), `alice unboxed "red" skin (100.0%).`)
	game.UnboxFinished(context.Background(), "")

	if len(say.lines) != 1 {
		t.Fatalf("chat lines = %v, want exactly one", say.lines)
	}
}

func TestHandleRedemptionBuyRequiresInput(t *testing.T) {
	game, _, say, _ := newTestService(newFakeRepo(), nil)

	game.HandleRedemption(context.Background(), eventsub.Redemption{
		RewardID:  "r-buy",
		UserLogin: "alice",
	})

	if len(say.lines) != 1 || say.lines[0] != "alice, please provide a skin for buy cone reward." {
		t.Fatalf("chat lines = %v", say.lines)
	}
}

func TestHandleRedemptionBuy(t *testing.T) {
	repo := newFakeRepo()
	game, hub, say, _ := newTestService(repo, nil)

	game.HandleRedemption(context.Background(), eventsub.Redemption{
		RewardID:  "r-buy",
		UserLogin: "alice",
		UserInput: "red",
	})

	if st := repo.skins["alice"]; st.Selected != "red" {
		t.Fatalf("skin state = %+v, want red equipped", st)
	}
	if len(say.lines) != 1 || say.lines[0] != "alice bought: Skin for alice updated to red." {
		t.Fatalf("chat lines = %v", say.lines)
	}

	sawBuy := false
	for _, e := range hub.events {
		if e.event == domain.EventBuyConeReward {
			sawBuy = true
		}
	}
	if !sawBuy {
		t.Fatalf("no buyConeReward broadcast: %v", hub.names())
	}
}
