package repository

import (
	"recorder/internal/config"
	"time"
)

// LoadRedisConfigFromEnv loads Redis settings. The password comes from
// REDIS_PASSWORD or the file named by REDIS_PASSWORD_FILE.
func LoadRedisConfigFromEnv() RedisConfig {
	return RedisConfig{
		Addr:      config.GetEnv("REDIS_ADDR", "localhost:6379"),
		Password:  config.GetSecret("REDIS_PASSWORD"),
		DB:        config.GetIntEnv("REDIS_DB", 0),
		KeyPrefix: config.GetEnv("REDIS_KEY_PREFIX", "recorder"),
	}
}

// LoadSQLiteConfigFromEnv loads SQLite settings.
func LoadSQLiteConfigFromEnv() SQLiteConfig {
	return SQLiteConfig{
		Path:         config.GetEnv("SQLITE_PATH", "recorder.db"),
		BusyTimeout:  config.GetDurationEnv("SQLITE_BUSY_TIMEOUT", 5*time.Second),
		MaxOpenConns: config.GetIntEnv("SQLITE_MAX_OPEN_CONNS", 4),
	}
}

// LoadBadgerConfigFromEnv loads Badger settings.
func LoadBadgerConfigFromEnv() BadgerConfig {
	return BadgerConfig{Path: config.GetEnv("BADGER_PATH", "recorder-badger")}
}
