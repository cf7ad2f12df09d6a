package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("default address %q", cfg.Server.Address)
	}
	if cfg.Server.SessionDeadline != 10*time.Minute {
		t.Fatalf("default session deadline %s", cfg.Server.SessionDeadline)
	}
	if cfg.LLM.Provider.MaxRetries != 3 || cfg.LLM.Provider.RetryBaseDelay != time.Second {
		t.Fatalf("default retry settings %+v", cfg.LLM.Provider)
	}
	if cfg.LLM.Routing.Writer.MaxTokens != 8192 {
		t.Fatalf("default writer budget %d", cfg.LLM.Routing.Writer.MaxTokens)
	}
	if cfg.Storage.Archive != "memory" {
		t.Fatalf("default archive %q", cfg.Storage.Archive)
	}
	if cfg.Search.Endpoint != "https://api.exa.ai" {
		t.Fatalf("default search endpoint %q", cfg.Search.Endpoint)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  address: ":9090"
  session_deadline: 5m
llm:
  routing:
    orchestrator:
      model: test-orch
      max_tokens: 1234
storage:
  archive: redis
  redis:
    host: cache.internal
    port: "6380"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("address %q", cfg.Server.Address)
	}
	if cfg.Server.SessionDeadline != 5*time.Minute {
		t.Fatalf("session deadline %s", cfg.Server.SessionDeadline)
	}
	if cfg.LLM.Routing.Orchestrator.Model != "test-orch" || cfg.LLM.Routing.Orchestrator.MaxTokens != 1234 {
		t.Fatalf("orchestrator routing %+v", cfg.LLM.Routing.Orchestrator)
	}
	// Values the file omits keep their defaults.
	if cfg.LLM.Routing.Searcher.MaxTokens != 2048 {
		t.Fatalf("searcher budget %d", cfg.LLM.Routing.Searcher.MaxTokens)
	}
	if cfg.Storage.Redis.Addr() != "cache.internal:6380" {
		t.Fatalf("redis addr %q", cfg.Storage.Redis.Addr())
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("EXA_API_KEY", "exa-test")
	t.Setenv("PORT", "3000")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/research")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LLM.Provider.APIKey != "sk-test" {
		t.Fatalf("api key %q", cfg.LLM.Provider.APIKey)
	}
	if cfg.Search.APIKey != "exa-test" {
		t.Fatalf("search key %q", cfg.Search.APIKey)
	}
	if cfg.Server.Address != ":3000" {
		t.Fatalf("address %q", cfg.Server.Address)
	}
	if cfg.Storage.Postgres.DSN() != "postgres://u:p@db/research" {
		t.Fatalf("dsn %q", cfg.Storage.Postgres.DSN())
	}
}

func TestLoadConfigRejectsBadArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  archive: etcd\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "storage.archive") {
		t.Fatalf("expected archive validation error, got %v", err)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestPostgresDSNFromParts(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: "5432", User: "app", Pass: "pw", DBName: "research", SSLMode: "disable"}
	want := "host=db port=5432 user=app password=pw dbname=research sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("dsn %q", got)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := (PostgresConfig{Host: "db"}).Validate(); err == nil {
		t.Fatal("expected validation error for missing parts")
	}
}
