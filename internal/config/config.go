package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Game    GameConfig    `yaml:"game"`
	Economy EconomyConfig `yaml:"economy"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr" env:"SHAKER_LISTEN_ADDR, overwrite"`
	HTTPPort       int      `yaml:"http_port" env:"SHAKER_HTTP_PORT, overwrite"`
	StaticDir      string   `yaml:"static_dir" env:"SHAKER_STATIC_DIR, overwrite"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"SHAKER_ALLOWED_ORIGINS, overwrite"`
}

// StorageConfig holds snapshot persistence settings
type StorageConfig struct {
	Path            string        `yaml:"path" env:"SHAKER_STORAGE_PATH, overwrite"`
	PersistInterval time.Duration `yaml:"persist_interval" env:"SHAKER_PERSIST_INTERVAL, overwrite"`
}

// GameConfig holds loop intervals and rule settings
type GameConfig struct {
	LeaderboardInterval  time.Duration `yaml:"leaderboard_interval" env:"SHAKER_LEADERBOARD_INTERVAL, overwrite"`
	PassiveInterval      time.Duration `yaml:"passive_interval" env:"SHAKER_PASSIVE_INTERVAL, overwrite"`
	BlockSweepInterval   time.Duration `yaml:"block_sweep_interval" env:"SHAKER_BLOCK_SWEEP_INTERVAL, overwrite"`
	EventSweepInterval   time.Duration `yaml:"event_sweep_interval" env:"SHAKER_EVENT_SWEEP_INTERVAL, overwrite"`
	AuditSize            int           `yaml:"audit_size" env:"SHAKER_AUDIT_SIZE, overwrite"`
	ProtectedNames       []string      `yaml:"protected_names" env:"SHAKER_PROTECTED_NAMES, overwrite"`
	BlockDurationMinutes int           `yaml:"block_duration_minutes" env:"SHAKER_BLOCK_DURATION_MINUTES, overwrite"`
	CooldownMinutes      int           `yaml:"cooldown_minutes" env:"SHAKER_COOLDOWN_MINUTES, overwrite"`
	TokenLength          int           `yaml:"token_length" env:"SHAKER_TOKEN_LENGTH, overwrite"`
}

// EconomyConfig holds the upgrade cost curve constants
type EconomyConfig struct {
	PerActionK float64 `yaml:"per_action_k"`
	PerActionC float64 `yaml:"per_action_c"`
	PassiveK   float64 `yaml:"passive_k"`
	PassiveC   float64 `yaml:"passive_c"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level" env:"SHAKER_LOG_LEVEL, overwrite"`
	Pretty bool   `yaml:"pretty" env:"SHAKER_LOG_PRETTY, overwrite"`
}

// Load reads configuration from a YAML file, then applies SHAKER_* environment overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, envconfig.OsLookuper())
}

// Parse decodes YAML and applies overrides from the given lookuper
func Parse(data []byte, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	// Note: StaticDir intentionally has no default - empty means don't serve static files

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "/var/lib/shaker/state.json"
	}
	if cfg.Storage.PersistInterval == 0 {
		cfg.Storage.PersistInterval = 30 * time.Second
	}

	if cfg.Game.LeaderboardInterval == 0 {
		cfg.Game.LeaderboardInterval = 2 * time.Second
	}
	if cfg.Game.PassiveInterval == 0 {
		cfg.Game.PassiveInterval = 30 * time.Second
	}
	if cfg.Game.BlockSweepInterval == 0 {
		cfg.Game.BlockSweepInterval = time.Second
	}
	if cfg.Game.EventSweepInterval == 0 {
		cfg.Game.EventSweepInterval = time.Second
	}
	if cfg.Game.AuditSize <= 0 {
		cfg.Game.AuditSize = 100
	}
	if cfg.Game.BlockDurationMinutes <= 0 {
		cfg.Game.BlockDurationMinutes = 1
	}
	if cfg.Game.CooldownMinutes <= 0 {
		cfg.Game.CooldownMinutes = 5
	}
	if cfg.Game.TokenLength < 4 {
		cfg.Game.TokenLength = 8
	}

	if cfg.Economy.PerActionK == 0 {
		cfg.Economy.PerActionK = 5000
	}
	if cfg.Economy.PerActionC == 0 {
		cfg.Economy.PerActionC = 800
	}
	if cfg.Economy.PassiveK == 0 {
		cfg.Economy.PassiveK = 6000
	}
	if cfg.Economy.PassiveC == 0 {
		cfg.Economy.PassiveC = 1500
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Default returns a config with every default applied, for CLI fallbacks and tests
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}
