package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Store != "memory" {
		t.Errorf("Store = %v, want memory", cfg.Store)
	}
	if cfg.Redis.Prefix != defaultRedisPrefix {
		t.Errorf("Redis.Prefix = %v", cfg.Redis.Prefix)
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runlog.yaml")
	yaml := `
store: redis
redis:
  addr: localhost:6379
  prefix: "custom:"
  session_ttl: 1h
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Store != "redis" {
		t.Errorf("Store = %v, want redis", cfg.Store)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %v", cfg.Redis.Addr)
	}
	if cfg.Redis.Prefix != "custom:" {
		t.Errorf("Redis.Prefix = %v", cfg.Redis.Prefix)
	}
	if cfg.Redis.SessionTTL != time.Hour {
		t.Errorf("Redis.SessionTTL = %v", cfg.Redis.SessionTTL)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("RUNLOG_STORE", "file")
	t.Setenv("RUNLOG_BASE_DIR", "/tmp/runlog-test")
	t.Setenv("RUNLOG_REDIS_TTL", "30m")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Store != "file" {
		t.Errorf("Store = %v, want file", cfg.Store)
	}
	if cfg.BaseDir != "/tmp/runlog-test" {
		t.Errorf("BaseDir = %v", cfg.BaseDir)
	}
	if cfg.Redis.SessionTTL != 30*time.Minute {
		t.Errorf("Redis.SessionTTL = %v", cfg.Redis.SessionTTL)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Store != "memory" {
		t.Errorf("Store = %v, want defaults", cfg.Store)
	}
}

func TestOpenStore(t *testing.T) {
	store, err := OpenStore(Config{Store: "memory"})
	if err != nil {
		t.Fatalf("OpenStore(memory) error = %v", err)
	}
	_ = store.Close()

	store, err = OpenStore(Config{Store: "file", BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("OpenStore(file) error = %v", err)
	}
	_ = store.Close()

	if _, err := OpenStore(Config{Store: "bogus"}); err == nil {
		t.Error("expected error for unknown store type")
	}
}
