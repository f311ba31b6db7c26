// Package config manages the server configuration (nira.toml) with
// environment-variable overrides and optional hot reload.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds everything the server needs to start.
type Config struct {
	Port      int           `toml:"port"`
	DBPath    string        `toml:"db_path"`
	Providers []string      `toml:"providers"`
	Keys      KeysConfig    `toml:"keys"`
	Auth      AuthConfig    `toml:"auth"`
	Persona   PersonaConfig `toml:"persona"`
	Log       LogConfig     `toml:"log"`
}

// KeysConfig carries the upstream API keys. Every field can be overridden
// by its environment variable.
type KeysConfig struct {
	Groq      string `toml:"groq"`
	Gemini    string `toml:"gemini"`
	Anthropic string `toml:"anthropic"`
	Tavily    string `toml:"tavily"`
	Sarvam    string `toml:"sarvam"`
}

// AuthConfig carries the API tokens guarding the HTTP surface.
type AuthConfig struct {
	Token      string `toml:"token"`
	AdminToken string `toml:"admin_token"`
}

// PersonaConfig tunes prompt composition.
type PersonaConfig struct {
	PromptTokenBudget int `toml:"prompt_token_budget"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// Default returns sensible defaults for a local deployment.
func Default() Config {
	return Config{
		Port:      8080,
		DBPath:    "nira.db",
		Providers: []string{"groq", "gemini", "claude"},
		Persona: PersonaConfig{
			PromptTokenBudget: 6000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path (missing file is fine, defaults apply)
// and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("config: load %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv lets environment variables override file values. Deploy targets
// usually inject secrets this way rather than through the TOML file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("NIRA_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.Keys.Groq = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Keys.Gemini = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Keys.Anthropic = v
	}
	if v := os.Getenv("TAVILY_API_KEY"); v != "" {
		cfg.Keys.Tavily = v
	}
	if v := os.Getenv("SARVAM_API_KEY"); v != "" {
		cfg.Keys.Sarvam = v
	}
	if v := os.Getenv("NIRA_AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("NIRA_ADMIN_TOKEN"); v != "" {
		cfg.Auth.AdminToken = v
	}
}

// Save writes the config to path. Used by tooling, not the server.
func Save(path string, cfg Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
