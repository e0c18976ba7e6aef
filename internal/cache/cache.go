package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/round-sync/internal/engine"
	"github.com/DoyleJ11/round-sync/internal/room"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var ErrMiss = errors.New("snapshot not cached")

const keyPrefix = "round-sync:snapshot:"

// SnapshotCache keeps the latest snapshot of every room in redis so other processes
// can read room state without subscribing.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func New(addr, password string, ttl time.Duration, log *zap.Logger) *SnapshotCache {
	if log == nil {
		log = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	return &SnapshotCache{client: client, ttl: ttl, log: log.Named("cache")}
}

func (c *SnapshotCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Observe stores the snapshot under the room key.
func (c *SnapshotCache) Observe(ctx context.Context, snap room.Snapshot, _ []engine.Event) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, Key(snap.Room), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache snapshot %s: %w", snap.Room, err)
	}
	return nil
}

func (c *SnapshotCache) Latest(ctx context.Context, roomName string) (room.Snapshot, error) {
	val, err := c.client.Get(ctx, Key(roomName)).Bytes()
	if errors.Is(err, redis.Nil) {
		return room.Snapshot{}, ErrMiss
	}
	if err != nil {
		return room.Snapshot{}, err
	}

	var snap room.Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return room.Snapshot{}, err
	}
	return snap, nil
}

func (c *SnapshotCache) Close() error {
	return c.client.Close()
}

func Key(roomName string) string {
	return keyPrefix + roomName
}
