package config

import (
	"testing"
	"time"

	"github.com/DoyleJ11/round-sync/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envOf(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 3*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 10, cfg.HistoryPageSize)
	assert.Len(t, cfg.Rooms, 5)
	assert.Equal(t, engine.GameDreamTower, cfg.Rooms["dreamtower"])
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{
		"ROOMS":           "main:crash, high-stakes:jackpot",
		"UPSTREAM_URL":    "wss://game.example.com/socket",
		"RECONNECT_DELAY": "500ms",
		"DB_DRIVER":       "sqlite",
		"DATABASE_URL":    "rounds.db",
		"LOG_LEVEL":       "debug",
		"ALLOWED_ORIGINS": "localhost:*, app.example.com,",
	}))
	require.NoError(t, err)

	assert.Equal(t, map[string]engine.Game{"main": engine.GameCrash, "high-stakes": engine.GameJackpot}, cfg.Rooms)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectDelay)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.ElementsMatch(t, []string{"main", "high-stakes"}, cfg.RoomNames())
	assert.Equal(t, []string{"localhost:*", "app.example.com"}, cfg.AllowedOrigins)
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown game":     {"ROOMS": "main:roulette"},
		"bad duration":     {"RECONNECT_DELAY": "soon"},
		"bad driver":       {"DB_DRIVER": "mysql", "DATABASE_URL": "x"},
		"driver no dsn":    {"DB_DRIVER": "postgres"},
		"bad level":        {"LOG_LEVEL": "loud"},
		"page too big":     {"HISTORY_PAGE_SIZE": "1000"},
		"negative keep":    {"HISTORY_KEEP": "-1"},
		"non-numeric keep": {"HISTORY_KEEP": "lots"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(envOf(env))
			assert.Error(t, err)
		})
	}
}
