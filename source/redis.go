package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/leeineian/haruka/sys"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "haruka:track:"

// RedisCache shares built tracks between bot instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// ConnectRedis opens a client and verifies it with a PING.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, id string) (Track, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	data, err := c.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			sys.LogDebug("redis get %s: %v", id, err)
		}
		return Track{}, false
	}
	var t Track
	if json.Unmarshal(data, &t) != nil || t.ID == "" {
		return Track{}, false
	}
	return t, true
}

func (c *RedisCache) Put(ctx context.Context, t Track) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.client.Set(ctx, redisKeyPrefix+t.ID, data, c.ttl).Err()
}
