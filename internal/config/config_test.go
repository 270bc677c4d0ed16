package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr || cfg.MonsterCount != DefaultMonsterCount {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.TickInterval != DefaultTickInterval || cfg.PeerTimeout != DefaultPeerTimeout {
		t.Fatalf("duration defaults not applied: %+v", cfg)
	}
}

func TestLoadFileLayer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deepfall.toml")
	content := `
listen_addr = ":9999"
monster_count = 4
tick_interval = "25ms"

[logging]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" || cfg.MonsterCount != 4 {
		t.Fatalf("file layer ignored: %+v", cfg)
	}
	if cfg.TickInterval != 25*time.Millisecond {
		t.Fatalf("tick interval = %v, want 25ms", cfg.TickInterval)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Logging.Level)
	}
	//1.- Untouched fields keep their defaults.
	if cfg.OpsAddr != DefaultOpsAddr || cfg.PeerTimeout != DefaultPeerTimeout {
		t.Fatalf("defaults lost under file layer: %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deepfall.toml")
	content := "monster_count = 7\npeer_timeout = \"3s\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DEEPFALL_MONSTERS", "2")
	t.Setenv("DEEPFALL_PEER_TIMEOUT", "1s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MonsterCount != 2 || cfg.PeerTimeout != time.Second {
		t.Fatalf("env layer ignored: %+v", cfg)
	}
}

func TestLoadReportsAllProblems(t *testing.T) {
	t.Setenv("DEEPFALL_MONSTERS", "lots")
	t.Setenv("DEEPFALL_TICK_INTERVAL", "-5ms")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected an error for invalid overrides")
	}
	msg := err.Error()
	for _, want := range []string{"DEEPFALL_MONSTERS", "DEEPFALL_TICK_INTERVAL"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q does not mention %s", msg, want)
		}
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
