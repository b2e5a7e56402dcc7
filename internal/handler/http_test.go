package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coneflip-overlay/server/internal/config"
	"github.com/coneflip-overlay/server/internal/domain"
	"github.com/coneflip-overlay/server/internal/leaderboard"
	"github.com/coneflip-overlay/server/internal/seventv"
	"github.com/coneflip-overlay/server/internal/service"
	"github.com/coneflip-overlay/server/internal/skins"
	"github.com/coneflip-overlay/server/internal/websocket"
)

type fakeRepo struct {
	mu      sync.Mutex
	records map[string]domain.PlayerRecord
	skins   map[string]domain.UserSkinState
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		records: make(map[string]domain.PlayerRecord),
		skins:   make(map[string]domain.UserSkinState),
	}
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
	return nil, domain.ErrPlayerNotFound
}

func (r *fakeRepo) UpsertPlayer(ctx context.Context, p domain.PlayerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[p.Name] = p
	return nil
}

func (r *fakeRepo) RenamePlayer(ctx context.Context, twitchID, newName string) error {
	return nil
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

func (r *fakeRepo) GetAllUserSkins(ctx context.Context) ([]domain.UserSkinState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.UserSkinState, 0, len(r.skins))
	for _, st := range r.skins {
		out = append(out, st)
	}
	return out, nil
}

func (r *fakeRepo) UpsertUserSkins(ctx context.Context, u domain.UserSkinState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skins[u.Name] = u
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(sink{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type sink struct{}

func (sink) Write(p []byte) (int, error) { return len(p), nil }

func newTestServer(t *testing.T, repo *fakeRepo) *httptest.Server {
	t.Helper()
	logger := quietLogger()
	lb := leaderboard.NewEngine(repo, time.Millisecond, logger)
	catalog := skins.NewCatalog([]domain.SkinDefinition{
		{Name: "default", Visuals: "cone.png"},
		{Name: "red", Visuals: "cone_red.png", CanUnbox: true, UnboxWeight: 100},
	})
	skinEngine := skins.NewEngine(repo, nil, catalog, nil, nil, nil, nil, logger)

	hub := websocket.NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	game := service.NewGameService(lb, skinEngine, repo, nil, hub, nil, nil, config.RewardsConfig{}, logger)
	sevenTV := seventv.NewClient(&config.SevenTVConfig{}, "streamer", logger)

	h := NewHandler(game, lb, skinEngine, repo, sevenTV, hub, "", logger)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, newFakeRepo())

	for _, path := range []string{"/health", "/ready"} {
		status, _ := get(t, srv.URL+path)
		if status != http.StatusOK {
			t.Errorf("%s status = %d", path, status)
		}
	}
}

func TestLeaderboardPlayerText(t *testing.T) {
	repo := newFakeRepo()
	repo.records["alice"] = domain.PlayerRecord{Name: "alice", Wins: 5, Fails: 1, Winrate: 83.33}
	srv := newTestServer(t, repo)

	status, body := get(t, srv.URL+"/api/leaderboard?name=Alice")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	want := "alice cone stats: 1/1 (Ws: 5 / Ls: 1 / WR%: 83.33)"
	if body != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}

func TestLeaderboardUnknownPlayerText(t *testing.T) {
	srv := newTestServer(t, newFakeRepo())

	_, body := get(t, srv.URL+"/api/leaderboard?name=ghost")
	if body != "ghost never tried coneflipping." {
		t.Fatalf("body = %q", body)
	}
}

func TestLeaderboardJSON(t *testing.T) {
	repo := newFakeRepo()
	repo.records["alice"] = domain.PlayerRecord{Name: "alice", Wins: 2, Winrate: 100}
	repo.records["bob"] = domain.PlayerRecord{Name: "bob", Wins: 5, Winrate: 100}
	srv := newTestServer(t, repo)

	status, body := get(t, srv.URL+"/api/leaderboard")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}

	var snapshot []domain.PlayerRecord
	if err := json.Unmarshal([]byte(body), &snapshot); err != nil {
		t.Fatalf("invalid JSON %q: %v", body, err)
	}
	if len(snapshot) != 2 || snapshot[0].Name != "bob" {
		t.Fatalf("snapshot = %+v, want bob first", snapshot)
	}
}

func TestDuelSelfRejected(t *testing.T) {
	srv := newTestServer(t, newFakeRepo())

	_, body := get(t, srv.URL+"/api/cones/duel?name=alice&target=alice")
	if body != "You cannot duel yourself." {
		t.Fatalf("body = %q", body)
	}
}

func TestDuelBlankRejected(t *testing.T) {
	srv := newTestServer(t, newFakeRepo())

	_, body := get(t, srv.URL+"/api/cones/duel?name=alice")
	if body != "Name and target cannot be blank or invalid." {
		t.Fatalf("body = %q", body)
	}
}

func TestAvailableSkins(t *testing.T) {
	srv := newTestServer(t, newFakeRepo())

	status, body := get(t, srv.URL+"/api/skins/available")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}

	var skins map[string]string
	if err := json.Unmarshal([]byte(body), &skins); err != nil {
		t.Fatalf("invalid JSON %q: %v", body, err)
	}
	if skins["red"] != "/skins/cone_red.png" {
		t.Fatalf("skins = %v", skins)
	}
}

func TestGiveSkinBlankParams(t *testing.T) {
	srv := newTestServer(t, newFakeRepo())

	_, body := get(t, srv.URL+"/api/skins/give?name=alice")
	if body != "Name and skin cannot be blank or invalid." {
		t.Fatalf("body = %q", body)
	}
}

func TestGiveSkin(t *testing.T) {
	repo := newFakeRepo()
	srv := newTestServer(t, repo)

	_, body := get(t, srv.URL+"/api/skins/give?name=alice&skin=red")
	if body != "Skin for alice updated to red." {
		t.Fatalf("body = %q", body)
	}
	if st := repo.skins["alice"]; st.Selected != "red" {
		t.Fatalf("state = %+v", st)
	}
}

func TestUserSkinsJSON(t *testing.T) {
	repo := newFakeRepo()
	repo.skins["alice"] = domain.UserSkinState{Name: "alice", Selected: "red", Inventory: []string{"red"}}
	srv := newTestServer(t, repo)

	status, body := get(t, srv.URL+"/api/skins/users")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}

	var states []domain.UserSkinState
	if err := json.Unmarshal([]byte(body), &states); err != nil {
		t.Fatalf("invalid JSON %q: %v", body, err)
	}
	if len(states) != 1 || states[0].Selected != "red" {
		t.Fatalf("states = %+v", states)
	}
}
