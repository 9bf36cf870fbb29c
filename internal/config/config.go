package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"doran/internal/intent"
)

// EngineConfig tunes candidate scoring and the canned replies.
type EngineConfig struct {
	// ThresholdProfile names the base per-intent table: lenient or strict.
	ThresholdProfile string             `yaml:"threshold_profile"`
	Thresholds       map[string]float64 `yaml:"thresholds,omitempty"`
	IntentBoost      float64            `yaml:"intent_boost"`
	OverlapBoost     float64            `yaml:"overlap_boost"`
	FuzzyThreshold   float64            `yaml:"fuzzy_threshold"`
	ContextWindow    int                `yaml:"context_window"`
	ContextMin       float64            `yaml:"context_min"`
	ContextDecay     float64            `yaml:"context_decay"`
	FallbackMessages []string           `yaml:"fallback_messages"`
	EmptyPrompt      string             `yaml:"empty_prompt"`
}

// TFIDFConfig controls vocabulary construction.
type TFIDFConfig struct {
	NgramMax int     `yaml:"ngram_max"`
	MinDF    int     `yaml:"min_df"`
	MaxDF    float64 `yaml:"max_df"`
}

// StoreConfig selects the rule and email backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Seed   string `yaml:"seed"`
}

// RedisConfig contains connection details for the redis session backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// SessionConfig selects the history backend.
type SessionConfig struct {
	Type       string        `yaml:"type"`
	MaxHistory int           `yaml:"max_history"`
	TTL        time.Duration `yaml:"ttl"`
	Redis      *RedisConfig  `yaml:"redis,omitempty"`
}

// MediaConfig holds the public prefix of uploaded media.
type MediaConfig struct {
	StaticPrefix string `yaml:"static_prefix"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig selects log level and output format (console or json).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Engine  EngineConfig  `yaml:"engine"`
	TFIDF   TFIDFConfig   `yaml:"tfidf"`
	Store   StoreConfig   `yaml:"store"`
	Session SessionConfig `yaml:"session"`
	Media   MediaConfig   `yaml:"media"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/doran/config.yaml.
// If neither exists, it writes defaults to ~/.config/doran/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides file settings from the environment. Call it after .env is loaded.
func (c *AppConfig) ApplyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("DORAN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("DORAN_THRESHOLD_PROFILE"); v != "" {
		c.Engine.ThresholdProfile = v
	}
	if v := os.Getenv("DORAN_STORE"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("DORAN_SEED"); v != "" {
		c.Store.Seed = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DSN = v
		if c.Store.Driver == "" || c.Store.Driver == "memory" {
			c.Store.Driver = "postgres"
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Session.Type = "redis"
		if c.Session.Redis == nil {
			c.Session.Redis = &RedisConfig{}
		}
		c.Session.Redis.Addr = v
	}
	if v := os.Getenv("DORAN_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Session.TTL = d
		}
	}
	if v := os.Getenv("DORAN_MAX_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.MaxHistory = n
		}
	}
}

// Thresholds resolves the configured profile and per-intent overrides.
func (c *AppConfig) Thresholds() (intent.Thresholds, error) {
	base, err := intent.Profile(c.Engine.ThresholdProfile)
	if err != nil {
		return nil, err
	}
	return base.Merge(c.Engine.Thresholds)
}

// Validate rejects settings the engine cannot run with.
func (c *AppConfig) Validate() error {
	th, err := c.Thresholds()
	if err != nil {
		return err
	}
	if err := th.Validate(); err != nil {
		return err
	}
	for name, v := range map[string]float64{
		"engine.fuzzy_threshold": c.Engine.FuzzyThreshold,
		"engine.context_min":     c.Engine.ContextMin,
		"engine.context_decay":   c.Engine.ContextDecay,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s out of range: %v", name, v)
		}
	}
	if len(c.Engine.FallbackMessages) == 0 {
		return errors.New("engine.fallback_messages must not be empty")
	}
	if c.TFIDF.MaxDF <= 0 || c.TFIDF.MaxDF > 1 {
		return fmt.Errorf("tfidf.max_df out of range: %v", c.TFIDF.MaxDF)
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Session.Type {
	case "memory":
	case "redis":
		if c.Session.Redis == nil || c.Session.Redis.Addr == "" {
			return errors.New("session.redis.addr is required for the redis session store")
		}
	default:
		return fmt.Errorf("unknown session type %q", c.Session.Type)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "doran", "config.yaml"), nil
}

// DefaultFallbackMessages are rotated round-robin when nothing matches.
var DefaultFallbackMessages = []string{
	"I'm sorry, I didn't quite get that. Could you please rephrase?",
	"Hmm, I'm not sure I understand. Can you try asking differently?",
	"Apologies, I couldn't find an answer. Could you ask something else?",
}

// DefaultEmptyPrompt answers blank input.
const DefaultEmptyPrompt = "Please type a message to chat with DORAN."

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

// Default returns the built-in configuration.
func Default() *AppConfig { return defaultConfig() }

func applyConfigDefaults(cfg *AppConfig) {
	e := &cfg.Engine
	if e.ThresholdProfile == "" {
		e.ThresholdProfile = intent.ProfileLenient
	}
	if e.IntentBoost == 0 {
		e.IntentBoost = 0.10
	}
	if e.OverlapBoost == 0 {
		e.OverlapBoost = 0.15
	}
	if e.FuzzyThreshold == 0 {
		e.FuzzyThreshold = 0.70
	}
	if e.ContextWindow == 0 {
		e.ContextWindow = 3
	}
	if e.ContextMin == 0 {
		e.ContextMin = 0.5
	}
	if e.ContextDecay == 0 {
		e.ContextDecay = 0.8
	}
	if len(e.FallbackMessages) == 0 {
		e.FallbackMessages = append([]string(nil), DefaultFallbackMessages...)
	}
	if e.EmptyPrompt == "" {
		e.EmptyPrompt = DefaultEmptyPrompt
	}

	if cfg.TFIDF.NgramMax == 0 {
		cfg.TFIDF.NgramMax = 2
	}
	if cfg.TFIDF.MinDF == 0 {
		cfg.TFIDF.MinDF = 1
	}
	if cfg.TFIDF.MaxDF == 0 {
		cfg.TFIDF.MaxDF = 0.95
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Session.Type == "" {
		cfg.Session.Type = "memory"
	}
	if cfg.Session.MaxHistory == 0 {
		cfg.Session.MaxHistory = 10
	}
	if cfg.Session.Type == "redis" && cfg.Session.Redis != nil && cfg.Session.Redis.KeyPrefix == "" {
		cfg.Session.Redis.KeyPrefix = "doran:session:"
	}
	if cfg.Media.StaticPrefix == "" {
		cfg.Media.StaticPrefix = "/static/"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 5 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}
