package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	Token            string        `env:"TOKEN,required,notEmpty"`
	Provider         string        `env:"MODEL_PROVIDER"           envDefault:"gemini"`
	GeminiAPIKey     string        `env:"GEMINI_API_KEY"`
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY"`
	SummaryModel     string        `env:"SUMMARY_MODEL"`
	ChatModel        string        `env:"CHAT_MODEL"`
	DBPath           string        `env:"DB_PATH"                  envDefault:"db.sqlite"`
	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT"            envDefault:"30s"`
	UpdateTimeout    time.Duration `env:"UPDATE_TIMEOUT"           envDefault:"5m"`
	SessionIdleTTL   time.Duration `env:"SESSION_IDLE_TTL"         envDefault:"6h"`
	JournalRetention time.Duration `env:"JOURNAL_RETENTION"        envDefault:"720h"`
	LogLevel         slog.Level    `env:"LOG_LEVEL"                envDefault:"INFO"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch cfg.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return Config{}, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}

	if cfg.SummaryModel == "" {
		cfg.SummaryModel = defaultSummaryModel(cfg.Provider)
	}

	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel(cfg.Provider)
	}

	return cfg, nil
}

// APIKey returns the credential of the selected provider.
func (c Config) APIKey() string {
	if c.Provider == ProviderOpenAI {
		return strings.TrimSpace(c.OpenAIAPIKey)
	}

	return strings.TrimSpace(c.GeminiAPIKey)
}

func defaultSummaryModel(provider string) string {
	if provider == ProviderOpenAI {
		return "gpt-4.1"
	}

	return "gemini-2.5-flash"
}

func defaultChatModel(provider string) string {
	if provider == ProviderOpenAI {
		return "gpt-4.1-mini"
	}

	return "gemini-2.5-flash-lite"
}
