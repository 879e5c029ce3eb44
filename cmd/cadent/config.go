package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all cadent host configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DataDir        string `json:"data_dir"`
	Backend        string `json:"backend"` // file | libsql
	DBPath         string `json:"db_path"`
	LogLevel       string `json:"log_level"`
	VacuumSchedule string `json:"vacuum_schedule"` // cron spec, libsql backend only
}

func defaultConfig() Config {
	return Config{
		DataDir:        cadentDir(),
		Backend:        "file",
		DBPath:         filepath.Join(cadentDir(), "cadent.db"),
		LogLevel:       "info",
		VacuumSchedule: "0 3 * * *",
	}
}

func cadentDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cadent"
	}
	return filepath.Join(home, ".cadent")
}

func settingsPath() string {
	return filepath.Join(cadentDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CADENT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CADENT_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("CADENT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CADENT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CADENT_VACUUM_SCHEDULE"); v != "" {
		cfg.VacuumSchedule = v
	}

	return cfg
}
