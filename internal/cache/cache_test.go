package cache

import (
	"context"
	"testing"
	"time"

	"github.com/DoyleJ11/round-sync/internal/engine"
	"github.com/DoyleJ11/round-sync/internal/room"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "round-sync:snapshot:crash", Key("crash"))
	assert.NotEqual(t, Key("crash"), Key("crash-2"))
}

func TestUnreachableServer(t *testing.T) {
	c := New("127.0.0.1:1", "", time.Minute, zaptest.NewLogger(t))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.Error(t, c.Ping(ctx))
	assert.Error(t, c.Observe(ctx, room.Snapshot{Room: "crash", State: engine.NewEmptyState(engine.GameCrash)}, nil))

	_, err := c.Latest(ctx, "crash")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}
