package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Catalog  CatalogConfig  `json:"catalog"`
	Database DatabaseConfig `json:"database"`
	Notify   NotifyConfig   `json:"notify"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type CatalogConfig struct {
	Path string `json:"path"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type NotifyConfig struct {
	Slack   SlackNotifyConfig   `json:"slack"`
	Discord DiscordNotifyConfig `json:"discord"`
}

type SlackNotifyConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordNotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: 3000, LogLevel: "info"},
		Catalog: CatalogConfig{Path: "data/studio-config.json"},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable
// references. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	cfg := Default()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "data/studio-config.json"
	}
	return cfg, nil
}
