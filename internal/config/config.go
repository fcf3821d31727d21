package config

import (
	"fmt"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	OpenAI  OpenAIConfig
	API     APIConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// APIConfig controls the management API. Token is the bearer token
// required on every route except /health.
type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/replybot/config.json, then applies REPLYBOT_*
// environment overrides. Secrets (the OpenAI API key and the management
// API token) come from the environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.OpenAI.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: OpenAI API key. Set it via environment variable REPLYBOT_OPENAI_API_KEY")
	}
	if cfg.API.Token == "" {
		return Config{}, fmt.Errorf("missing required config: management API token. Set it via environment variable REPLYBOT_API_TOKEN")
	}

	return cfg, nil
}
