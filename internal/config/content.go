package config

import (
	"fmt"

	simpleconfig "github.com/tendant/simple-content/pkg/simplecontent/config"
)

// LoadContent builds the simple-content configuration from the environment
// (DATABASE_TYPE, DATABASE_URL, CONTENT_DB_SCHEMA, DEFAULT_STORAGE_BACKEND,
// FS_BASE_DIR, S3_*). Previews and event logging stay off for the worker.
func LoadContent() (*simpleconfig.ServerConfig, error) {
	cfg, err := simpleconfig.LoadServerConfig()
	if err != nil {
		return nil, fmt.Errorf("load simplecontent config: %w", err)
	}
	cfg.EnablePreviews = false
	cfg.EnableEventLogging = false

	if cfg.DatabaseType == "postgres" {
		if err := simpleconfig.PingPostgres(cfg.DatabaseURL, cfg.DBSchema); err != nil {
			return nil, fmt.Errorf("ping content database: %w", err)
		}
	}
	return cfg, nil
}
