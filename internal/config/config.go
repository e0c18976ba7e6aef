package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DoyleJ11/round-sync/internal/engine"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr            string                 `validate:"required"`
	UpstreamURL     string                 `validate:"omitempty,url"`
	Rooms           map[string]engine.Game `validate:"min=1"`
	ReconnectDelay  time.Duration          `validate:"gt=0"`
	DBDriver        string                 `validate:"omitempty,oneof=postgres sqlite"`
	DatabaseURL     string                 `validate:"required_with=DBDriver"`
	HistoryKeep     int                    `validate:"gte=0"`
	RedisAddr       string                 `validate:"omitempty,hostname_port"`
	RedisPassword   string                 `validate:"excluded_without=RedisAddr"`
	SnapshotTTL     time.Duration          `validate:"gte=0"`
	LogLevel        string                 `validate:"oneof=debug info warn error"`
	LogEncoding     string                 `validate:"oneof=json console"`
	HistoryPageSize int                    `validate:"gt=0,lte=100"`
	AllowedOrigins  []string               `validate:"dive,required"`
}

// Load reads .env when present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	var err error
	cfg := Config{
		Addr:          get("ADDR", ":8080"),
		UpstreamURL:   get("UPSTREAM_URL", ""),
		DBDriver:      get("DB_DRIVER", ""),
		DatabaseURL:   get("DATABASE_URL", ""),
		RedisAddr:     get("REDIS_ADDR", ""),
		RedisPassword: get("REDIS_PASSWORD", ""),
		LogLevel:      get("LOG_LEVEL", "info"),
		LogEncoding:   get("LOG_ENCODING", "json"),
	}

	if cfg.Rooms, err = ParseRooms(get("ROOMS", "coinflip:coinflip,crash:crash,jackpot:jackpot,plinko:plinko,dreamtower:dreamtower")); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectDelay, err = time.ParseDuration(get("RECONNECT_DELAY", "3s")); err != nil {
		return Config{}, fmt.Errorf("RECONNECT_DELAY: %w", err)
	}
	if cfg.SnapshotTTL, err = time.ParseDuration(get("SNAPSHOT_TTL", "10m")); err != nil {
		return Config{}, fmt.Errorf("SNAPSHOT_TTL: %w", err)
	}
	if cfg.HistoryKeep, err = strconv.Atoi(get("HISTORY_KEEP", "500")); err != nil {
		return Config{}, fmt.Errorf("HISTORY_KEEP: %w", err)
	}
	if cfg.HistoryPageSize, err = strconv.Atoi(get("HISTORY_PAGE_SIZE", "10")); err != nil {
		return Config{}, fmt.Errorf("HISTORY_PAGE_SIZE: %w", err)
	}

	cfg.AllowedOrigins = splitList(get("ALLOWED_ORIGINS", ""))

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ParseRooms reads "room:game,room:game". A bare name is both the room and the game.
func ParseRooms(s string) (map[string]engine.Game, error) {
	rooms := make(map[string]engine.Game)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, gameName, found := strings.Cut(item, ":")
		if !found {
			gameName = name
		}
		g, ok := engine.ParseGame(gameName)
		if !ok {
			return nil, fmt.Errorf("ROOMS: unknown game %q for room %q", gameName, name)
		}
		rooms[name] = g
	}
	return rooms, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c Config) RoomNames() []string {
	names := make([]string, 0, len(c.Rooms))
	for name := range c.Rooms {
		names = append(names, name)
	}
	return names
}
