package config

import (
	"fmt"
	"os"

	"clash-intelligence/internal/domain"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	CoCAPIKey   string
	HomeClanTag string
	DBPath      string
	ServerPort  string
	LogLevel    string
	IngestCron  string
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		CoCAPIKey:   getEnv("COC_API_KEY", ""),
		HomeClanTag: domain.NormalizeTag(getEnv("HOME_CLAN_TAG", "#2PR8R8V8P")),
		DBPath:      getEnv("DB_PATH", "clash.db"),
		ServerPort:  getEnv("SERVER_PORT", "5050"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		IngestCron:  getEnv("INGEST_CRON", "0 30 5 * * *"),
	}

	if cfg.CoCAPIKey == "" {
		return nil, fmt.Errorf("COC_API_KEY is required")
	}
	if cfg.HomeClanTag == "" {
		return nil, fmt.Errorf("HOME_CLAN_TAG is required")
	}

	logger.Info().
		Str("home_clan_tag", cfg.HomeClanTag).
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Str("ingest_cron", cfg.IngestCron).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
