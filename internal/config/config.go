package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"lacrosse-alerts/internal/lacrosse"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	LaCrosseURL        string
	LaCrosseDeviceID   string
	LaCrosseDeviceName string
	PollInterval       time.Duration
	PollLogRetention   int

	MQTTEnabled         bool
	MQTTBroker          string
	MQTTPort            int
	MQTTClientID        string
	MQTTUsername        string
	MQTTPassword        string
	MQTTTopicPrefix     string
	MQTTDiscoveryPrefix string

	SQLiteDriver          string
	SQLiteDSN             string
	SQLitePath            string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration
	SQLiteLogSQL          bool
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	deviceID := strings.TrimSpace(os.Getenv("LACROSSE_DEVICE_ID"))
	if deviceID == "" {
		return Config{}, fmt.Errorf("LACROSSE_DEVICE_ID is required")
	}

	pollIntervalStr := envOr("POLL_INTERVAL", "5m")
	pollInterval, err := time.ParseDuration(pollIntervalStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid POLL_INTERVAL %q: %w", pollIntervalStr, err)
	}
	if pollInterval <= 0 {
		return Config{}, fmt.Errorf("POLL_INTERVAL must be positive, got %v", pollInterval)
	}

	pollLogRetention, err := envInt("POLL_LOG_RETENTION", "1000")
	if err != nil {
		return Config{}, err
	}
	if pollLogRetention < 1 {
		return Config{}, fmt.Errorf("POLL_LOG_RETENTION must be at least 1, got %d", pollLogRetention)
	}

	mqttEnabled, err := envBool("MQTT_ENABLED", "true")
	if err != nil {
		return Config{}, err
	}
	mqttPort, err := envInt("MQTT_PORT", "1883")
	if err != nil {
		return Config{}, err
	}

	maxOpenConns, err := envInt("SQLITE_MAX_OPEN_CONNS", "1")
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := envInt("SQLITE_MAX_IDLE_CONNS", "1")
	if err != nil {
		return Config{}, err
	}
	connMaxLifetimeStr := envOr("SQLITE_CONN_MAX_LIFETIME", "0s")
	connMaxLifetime, err := time.ParseDuration(connMaxLifetimeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SQLITE_CONN_MAX_LIFETIME %q: %w", connMaxLifetimeStr, err)
	}
	logSQL, err := envBool("SQLITE_LOG_SQL", "false")
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:   appEnv,
		LogLevel: level,
		HTTPAddr: envOr("HTTP_ADDR", ":8080"),

		LaCrosseURL:        envOr("LACROSSE_URL", lacrosse.DefaultBaseURL),
		LaCrosseDeviceID:   deviceID,
		LaCrosseDeviceName: envOr("LACROSSE_DEVICE_NAME", "LaCrosse"),
		PollInterval:       pollInterval,
		PollLogRetention:   pollLogRetention,

		MQTTEnabled:         mqttEnabled,
		MQTTBroker:          envOr("MQTT_BROKER", "localhost"),
		MQTTPort:            mqttPort,
		MQTTClientID:        envOr("MQTT_CLIENT_ID", "lacrosse-alerts-"+deviceID),
		MQTTUsername:        strings.TrimSpace(os.Getenv("MQTT_USERNAME")),
		MQTTPassword:        os.Getenv("MQTT_PASSWORD"),
		MQTTTopicPrefix:     strings.Trim(envOr("MQTT_TOPIC_PREFIX", "lacrosse"), "/"),
		MQTTDiscoveryPrefix: strings.Trim(envOr("MQTT_DISCOVERY_PREFIX", "homeassistant"), "/"),

		SQLiteDriver:          envOr("SQLITE_DRIVER", "sqlite3"),
		SQLiteDSN:             strings.TrimSpace(os.Getenv("SQLITE_DSN")),
		SQLitePath:            envOr("SQLITE_PATH", "data/lacrosse.db"),
		SQLiteMaxOpenConns:    maxOpenConns,
		SQLiteMaxIdleConns:    maxIdleConns,
		SQLiteConnMaxLifetime: connMaxLifetime,
		SQLiteLogSQL:          logSQL,
	}, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key, def string) (int, error) {
	s := envOr(key, def)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func envBool(key, def string) (bool, error) {
	s := envOr(key, def)
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
