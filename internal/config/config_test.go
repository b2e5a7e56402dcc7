package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Leaderboard.CacheTTL != 5*time.Second {
		t.Fatalf("cache ttl = %v, want default 5s", cfg.Leaderboard.CacheTTL)
	}
	if cfg.Skins.ConfigPath != "skins.json" {
		t.Fatalf("skins path = %q, want default", cfg.Skins.ConfigPath)
	}
	if cfg.Twitch.IDCacheTTL != 24*time.Hour {
		t.Fatalf("id cache ttl = %v, want default 24h", cfg.Twitch.IDCacheTTL)
	}
	if cfg.Kafka.Topic != "coneflip-events" {
		t.Fatalf("kafka topic = %q, want default", cfg.Kafka.Topic)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "secret-token")
	path := writeConfig(t, "twitch:\n  bot_access_token: ${TEST_BOT_TOKEN}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Twitch.BotAccessToken != "secret-token" {
		t.Fatalf("token = %q, want expanded env value", cfg.Twitch.BotAccessToken)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Port != 3000 {
		t.Fatalf("port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Twitch.SubCacheTTL != 5*time.Minute {
		t.Fatalf("sub cache ttl = %v, want 5m", cfg.Twitch.SubCacheTTL)
	}
}

func TestPostgresConnectionString(t *testing.T) {
	pg := PostgresConfig{Host: "db", Port: 5432, User: "cone", Password: "flip", Database: "overlay"}
	want := "postgres://cone:flip@db:5432/overlay?sslmode=disable"
	if got := pg.ConnectionString(); got != want {
		t.Fatalf("connection string = %q, want %q", got, want)
	}
}
