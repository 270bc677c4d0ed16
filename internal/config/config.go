// Package config loads the server's runtime tunables. Values layer in
// order: built-in defaults, then an optional TOML file, then environment
// overrides. Invalid overrides are collected and reported together.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultListenAddr is the UDP address the game transport binds.
	DefaultListenAddr = ":28215"
	// DefaultOpsAddr is the HTTP address of the ops plane.
	DefaultOpsAddr = ":28216"
	// DefaultMonsterCount is the roster size of a fresh run.
	DefaultMonsterCount = 10
	// DefaultDungeonWidth and DefaultDungeonHeight bound generated maps.
	DefaultDungeonWidth  = 75
	DefaultDungeonHeight = 75
	// DefaultTickInterval paces the state loop.
	DefaultTickInterval = 10 * time.Millisecond
	// DefaultPeerTimeout evicts silent peers.
	DefaultPeerTimeout = 5 * time.Second
	// DefaultReconnectDelay separates run completion from the reconnect ask.
	DefaultReconnectDelay = 5 * time.Second

	DefaultLogLevel      = "info"
	DefaultLogPath       = "deepfall.log"
	DefaultLogMaxSizeMB  = 100
	DefaultLogMaxBackups = 10
	DefaultLogCompress   = true
)

// duration lets TOML carry durations as strings like "250ms".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// LoggingConfig captures structured logging options.
type LoggingConfig struct {
	Level      string `toml:"level"`
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	Compress   bool   `toml:"compress"`
}

// Config captures all runtime tunables.
type Config struct {
	ListenAddr     string        `toml:"listen_addr"`
	OpsAddr        string        `toml:"ops_addr"`
	MonsterCount   int           `toml:"monster_count"`
	DungeonWidth   int           `toml:"dungeon_width"`
	DungeonHeight  int           `toml:"dungeon_height"`
	TickInterval   time.Duration `toml:"-"`
	PeerTimeout    time.Duration `toml:"-"`
	ReconnectDelay time.Duration `toml:"-"`
	Logging        LoggingConfig `toml:"logging"`
}

// fileConfig mirrors Config for decoding: string durations, and pointers
// where absence must be distinguishable from the zero value.
type fileConfig struct {
	ListenAddr     string      `toml:"listen_addr"`
	OpsAddr        string      `toml:"ops_addr"`
	MonsterCount   *int        `toml:"monster_count"`
	DungeonWidth   *int        `toml:"dungeon_width"`
	DungeonHeight  *int        `toml:"dungeon_height"`
	TickInterval   duration    `toml:"tick_interval"`
	PeerTimeout    duration    `toml:"peer_timeout"`
	ReconnectDelay duration    `toml:"reconnect_delay"`
	Logging        fileLogging `toml:"logging"`
}

type fileLogging struct {
	Level      string `toml:"level"`
	Path       string `toml:"path"`
	MaxSizeMB  *int   `toml:"max_size_mb"`
	MaxBackups *int   `toml:"max_backups"`
	Compress   *bool  `toml:"compress"`
}

func defaults() *Config {
	return &Config{
		ListenAddr:     DefaultListenAddr,
		OpsAddr:        DefaultOpsAddr,
		MonsterCount:   DefaultMonsterCount,
		DungeonWidth:   DefaultDungeonWidth,
		DungeonHeight:  DefaultDungeonHeight,
		TickInterval:   DefaultTickInterval,
		PeerTimeout:    DefaultPeerTimeout,
		ReconnectDelay: DefaultReconnectDelay,
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Path:       DefaultLogPath,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			Compress:   DefaultLogCompress,
		},
	}
}

// Load assembles the configuration. path may be empty to skip the file
// layer; a named file that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if strings.TrimSpace(path) != "" {
		var file fileConfig
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		applyFile(cfg, &file)
	}

	var problems []string
	applyEnv(cfg, &problems)

	if cfg.MonsterCount < 0 {
		problems = append(problems, "monster_count must be non-negative")
	}
	if cfg.DungeonWidth < 10 || cfg.DungeonHeight < 10 {
		problems = append(problems, "dungeon dimensions must be at least 10x10")
	}
	if cfg.TickInterval <= 0 {
		problems = append(problems, "tick_interval must be positive")
	}
	if cfg.PeerTimeout <= 0 {
		problems = append(problems, "peer_timeout must be positive")
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

func applyFile(cfg *Config, file *fileConfig) {
	if strings.TrimSpace(file.ListenAddr) != "" {
		cfg.ListenAddr = file.ListenAddr
	}
	if strings.TrimSpace(file.OpsAddr) != "" {
		cfg.OpsAddr = file.OpsAddr
	}
	if file.MonsterCount != nil {
		cfg.MonsterCount = *file.MonsterCount
	}
	if file.DungeonWidth != nil {
		cfg.DungeonWidth = *file.DungeonWidth
	}
	if file.DungeonHeight != nil {
		cfg.DungeonHeight = *file.DungeonHeight
	}
	if file.TickInterval != 0 {
		cfg.TickInterval = time.Duration(file.TickInterval)
	}
	if file.PeerTimeout != 0 {
		cfg.PeerTimeout = time.Duration(file.PeerTimeout)
	}
	if file.ReconnectDelay != 0 {
		cfg.ReconnectDelay = time.Duration(file.ReconnectDelay)
	}
	if strings.TrimSpace(file.Logging.Level) != "" {
		cfg.Logging.Level = file.Logging.Level
	}
	if strings.TrimSpace(file.Logging.Path) != "" {
		cfg.Logging.Path = file.Logging.Path
	}
	if file.Logging.MaxSizeMB != nil {
		cfg.Logging.MaxSizeMB = *file.Logging.MaxSizeMB
	}
	if file.Logging.MaxBackups != nil {
		cfg.Logging.MaxBackups = *file.Logging.MaxBackups
	}
	if file.Logging.Compress != nil {
		cfg.Logging.Compress = *file.Logging.Compress
	}
}

func applyEnv(cfg *Config, problems *[]string) {
	if raw := strings.TrimSpace(os.Getenv("DEEPFALL_ADDR")); raw != "" {
		cfg.ListenAddr = raw
	}
	if raw := strings.TrimSpace(os.Getenv("DEEPFALL_OPS_ADDR")); raw != "" {
		cfg.OpsAddr = raw
	}
	if raw := strings.TrimSpace(os.Getenv("DEEPFALL_MONSTERS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			*problems = append(*problems, fmt.Sprintf("DEEPFALL_MONSTERS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MonsterCount = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("DEEPFALL_DUNGEON_WIDTH")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			*problems = append(*problems, fmt.Sprintf("DEEPFALL_DUNGEON_WIDTH must be a positive integer, got %q", raw))
		} else {
			cfg.DungeonWidth = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("DEEPFALL_DUNGEON_HEIGHT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			*problems = append(*problems, fmt.Sprintf("DEEPFALL_DUNGEON_HEIGHT must be a positive integer, got %q", raw))
		} else {
			cfg.DungeonHeight = value
		}
	}
	for _, env := range []struct {
		name string
		dst  *time.Duration
	}{
		{"DEEPFALL_TICK_INTERVAL", &cfg.TickInterval},
		{"DEEPFALL_PEER_TIMEOUT", &cfg.PeerTimeout},
		{"DEEPFALL_RECONNECT_DELAY", &cfg.ReconnectDelay},
	} {
		raw := strings.TrimSpace(os.Getenv(env.name))
		if raw == "" {
			continue
		}
		value, err := time.ParseDuration(raw)
		if err != nil || value <= 0 {
			*problems = append(*problems, fmt.Sprintf("%s must be a positive duration, got %q", env.name, raw))
		} else {
			*env.dst = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("DEEPFALL_LOG_LEVEL")); raw != "" {
		cfg.Logging.Level = raw
	}
	if raw := strings.TrimSpace(os.Getenv("DEEPFALL_LOG_PATH")); raw != "" {
		cfg.Logging.Path = raw
	}
}
