package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel              = "gpt-4o-mini"
	DefaultBaseURL            = "https://api.openai.com"
	DefaultMaxTokens          = 3000
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 18420
	DefaultRequestsPerMinute  = 60
	DefaultConversationWindow = 20
	DefaultIntimacyDailyCap   = 30
	DefaultRetentionTurns     = 500
	DefaultRetentionSchedule  = "0 0 4 * * *"
)

// DefaultAllowedActions is the closed action whitelist; deployments may
// extend it via chat.allowedActions.
var DefaultAllowedActions = []string{"APPEAR_EDGE", "PLAY_ANIM", "SPEAK", "MOVE", "EMOTE", "SLEEP"}

type Config struct {
	Server    ServerConfig    `json:"server"`
	Provider  ProviderConfig  `json:"provider"`
	RateLimit RateLimitConfig `json:"rateLimit"`
	Chat      ChatConfig      `json:"chat"`
	Storage   StorageConfig   `json:"storage"`
	Retention RetentionConfig `json:"retention"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ProviderConfig points at an OpenAI-compatible completion endpoint.
type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
	Model   string `json:"model,omitempty"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
}

type ChatConfig struct {
	MaxTokens          int      `json:"maxTokens"`
	ConversationWindow int      `json:"conversationWindow"`
	IntimacyDailyCap   int      `json:"intimacyDailyCap"`
	AllowedActions     []string `json:"allowedActions,omitempty"`
}

type StorageConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

type RetentionConfig struct {
	KeepTurns int    `json:"keepTurns"`
	Schedule  string `json:"schedule,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Provider: ProviderConfig{
			BaseURL: DefaultBaseURL,
			Model:   DefaultModel,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: DefaultRequestsPerMinute,
		},
		Chat: ChatConfig{
			MaxTokens:          DefaultMaxTokens,
			ConversationWindow: DefaultConversationWindow,
			IntimacyDailyCap:   DefaultIntimacyDailyCap,
		},
		Retention: RetentionConfig{
			KeepTurns: DefaultRetentionTurns,
			Schedule:  DefaultRetentionSchedule,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".screenmate")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("SCREENMATE_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("SCREENMATE_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("SCREENMATE_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if dbPath := os.Getenv("SCREENMATE_DB_PATH"); dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if port := os.Getenv("SCREENMATE_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if rpm := os.Getenv("SCREENMATE_REQUESTS_PER_MINUTE"); rpm != "" {
		if parsed, err := strconv.Atoi(rpm); err == nil && parsed > 0 {
			cfg.RateLimit.RequestsPerMinute = parsed
		}
	}

	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = DefaultBaseURL
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = DefaultModel
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = filepath.Join(ConfigDir(), "data", "screenmate.db")
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.Chat.MaxTokens <= 0 {
		cfg.Chat.MaxTokens = DefaultMaxTokens
	}
	if cfg.Chat.ConversationWindow <= 0 {
		cfg.Chat.ConversationWindow = DefaultConversationWindow
	}
	if cfg.Chat.IntimacyDailyCap <= 0 {
		cfg.Chat.IntimacyDailyCap = DefaultIntimacyDailyCap
	}
	if len(cfg.Chat.AllowedActions) == 0 {
		cfg.Chat.AllowedActions = append([]string(nil), DefaultAllowedActions...)
	}
	if cfg.Retention.KeepTurns <= 0 {
		cfg.Retention.KeepTurns = DefaultRetentionTurns
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = DefaultRetentionSchedule
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
