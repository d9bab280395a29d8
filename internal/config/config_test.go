package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Provider.Model != DefaultModel {
		t.Errorf("model = %q, want %q", cfg.Provider.Model, DefaultModel)
	}
	if cfg.Provider.BaseURL != DefaultBaseURL {
		t.Errorf("baseUrl = %q, want %q", cfg.Provider.BaseURL, DefaultBaseURL)
	}
	if cfg.Server.Host != DefaultHost {
		t.Errorf("host = %q, want %q", cfg.Server.Host, DefaultHost)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.RateLimit.RequestsPerMinute != DefaultRequestsPerMinute {
		t.Errorf("requestsPerMinute = %d, want %d", cfg.RateLimit.RequestsPerMinute, DefaultRequestsPerMinute)
	}
	if cfg.Chat.ConversationWindow != DefaultConversationWindow {
		t.Errorf("conversationWindow = %d, want %d", cfg.Chat.ConversationWindow, DefaultConversationWindow)
	}
	if cfg.Chat.IntimacyDailyCap != DefaultIntimacyDailyCap {
		t.Errorf("intimacyDailyCap = %d, want %d", cfg.Chat.IntimacyDailyCap, DefaultIntimacyDailyCap)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("SCREENMATE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.Model != DefaultModel {
		t.Errorf("expected default model %q, got %q", DefaultModel, cfg.Provider.Model)
	}
	if len(cfg.Chat.AllowedActions) != len(DefaultAllowedActions) {
		t.Errorf("expected default action whitelist, got %v", cfg.Chat.AllowedActions)
	}
	if cfg.Storage.DBPath == "" {
		t.Error("dbPath should have a default")
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("SCREENMATE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfgDir := filepath.Join(tmpDir, ".screenmate")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	testCfg := map[string]any{
		"provider": map[string]any{
			"apiKey": "sk-test",
			"model":  "gpt-4o",
		},
		"rateLimit": map[string]any{
			"requestsPerMinute": 5,
		},
		"chat": map[string]any{
			"conversationWindow": 4,
			"allowedActions":     []string{"SPEAK", "MOVE", "PAYDAY"},
		},
	}
	data, _ := json.Marshal(testCfg)
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.APIKey != "sk-test" {
		t.Errorf("apiKey = %q, want sk-test", cfg.Provider.APIKey)
	}
	if cfg.Provider.Model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", cfg.Provider.Model)
	}
	if cfg.RateLimit.RequestsPerMinute != 5 {
		t.Errorf("requestsPerMinute = %d, want 5", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.Chat.ConversationWindow != 4 {
		t.Errorf("conversationWindow = %d, want 4", cfg.Chat.ConversationWindow)
	}
	if len(cfg.Chat.AllowedActions) != 3 {
		t.Errorf("allowedActions = %v, want the 3 configured entries", cfg.Chat.AllowedActions)
	}
	// Unset fields fall back to defaults.
	if cfg.Chat.MaxTokens != DefaultMaxTokens {
		t.Errorf("maxTokens = %d, want default %d", cfg.Chat.MaxTokens, DefaultMaxTokens)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("SCREENMATE_API_KEY", "sk-env")
	t.Setenv("SCREENMATE_BASE_URL", "http://localhost:9999")
	t.Setenv("SCREENMATE_MODEL", "test-model")
	t.Setenv("SCREENMATE_PORT", "8088")
	t.Setenv("SCREENMATE_REQUESTS_PER_MINUTE", "7")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.APIKey != "sk-env" {
		t.Errorf("apiKey = %q, want sk-env", cfg.Provider.APIKey)
	}
	if cfg.Provider.BaseURL != "http://localhost:9999" {
		t.Errorf("baseUrl = %q", cfg.Provider.BaseURL)
	}
	if cfg.Provider.Model != "test-model" {
		t.Errorf("model = %q", cfg.Provider.Model)
	}
	if cfg.Server.Port != 8088 {
		t.Errorf("port = %d, want 8088", cfg.Server.Port)
	}
	if cfg.RateLimit.RequestsPerMinute != 7 {
		t.Errorf("requestsPerMinute = %d, want 7", cfg.RateLimit.RequestsPerMinute)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("SCREENMATE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg := DefaultConfig()
	cfg.Provider.APIKey = "sk-roundtrip"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if loaded.Provider.APIKey != "sk-roundtrip" {
		t.Errorf("apiKey = %q, want sk-roundtrip", loaded.Provider.APIKey)
	}
}
