package directory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/matst80/portmux/internal/obs"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "portmux:proxy:"

// redisStore keeps the authoritative map in memory (the relay loop owns it)
// and mirrors each entry into Redis so external consumers and sibling
// instances can discover registered proxies. Mirror failures are logged,
// never propagated: the relay must not depend on Redis availability.
type redisStore struct {
	Store
	client *redis.Client
	keyTTL time.Duration
}

// NewRedisStore connects to Redis and returns a store mirroring entries as
// portmux:proxy:<id> keys with a TTL refreshed by a heartbeat.
func NewRedisStore(ctx context.Context, addr, password string, db int, keyTTL, heartbeat time.Duration) (Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	r := &redisStore{Store: NewMemoryStore(), client: rdb, keyTTL: keyTTL}
	go r.runHeartbeat(ctx, heartbeat)
	return r, nil
}

func (r *redisStore) Publish(id string, port int) {
	r.Store.Publish(id, port)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Set(ctx, redisKeyPrefix+id, strconv.Itoa(port), r.keyTTL).Err(); err != nil {
		obs.Error("directory.redis.publish", obs.Fields{"err": err.Error(), "proxy": id})
	}
}

func (r *redisStore) Remove(id string) bool {
	found := r.Store.Remove(id)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		obs.Error("directory.redis.remove", obs.Fields{"err": err.Error(), "proxy": id})
	}
	return found
}

func (r *redisStore) Close() error {
	return r.client.Close()
}

// runHeartbeat periodically re-publishes live entries so mirrored keys
// outlive their TTL for as long as the proxy stays registered.
func (r *redisStore) runHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for id, port := range r.Store.Snapshot() {
				setCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				err := r.client.Set(setCtx, redisKeyPrefix+id, strconv.Itoa(port), r.keyTTL).Err()
				cancel()
				if err != nil {
					obs.Error("directory.redis.heartbeat", obs.Fields{"err": err.Error(), "proxy": id})
				}
			}
		}
	}
}
