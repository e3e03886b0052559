package cache

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfold/ordermon/monitor/observability"
	"github.com/quantfold/ordermon/monitor/store"
)

// releaseScript deletes a key only when the caller still owns it. Running
// it server-side keeps check and delete atomic.
const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// RedisGateway implements Gateway on a Redis server.
type RedisGateway struct {
	client *redis.Client
}

// NewRedisGateway connects and verifies the connection.
func NewRedisGateway(addr, password string, db int) (*RedisGateway, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisGateway{client: client}, nil
}

func (g *RedisGateway) Close() error {
	return g.client.Close()
}

func (g *RedisGateway) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func observe(start time.Time) {
	observability.CacheLatency.Observe(time.Since(start).Seconds())
}

func (g *RedisGateway) UserStatus(ctx context.Context, userID int64) (store.UserState, bool) {
	defer observe(time.Now())
	val, err := g.client.Get(ctx, userStatusKey(userID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false
	}
	if err != nil {
		log.Printf("cache: get user status %d: %v", userID, err)
		return 0, false
	}
	return store.UserState(val), true
}

func (g *RedisGateway) SetUserStatus(ctx context.Context, userID int64, status store.UserState, ttl time.Duration) bool {
	defer observe(time.Now())
	if err := g.client.Set(ctx, userStatusKey(userID), int(status), ttl).Err(); err != nil {
		log.Printf("cache: set user status %d: %v", userID, err)
		return false
	}
	return true
}

func (g *RedisGateway) GroupStatus(ctx context.Context, groupID int64) (store.GroupState, bool) {
	defer observe(time.Now())
	val, err := g.client.Get(ctx, groupStatusKey(groupID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false
	}
	if err != nil {
		log.Printf("cache: get group status %d: %v", groupID, err)
		return 0, false
	}
	return store.GroupState(val), true
}

func (g *RedisGateway) SetGroupStatus(ctx context.Context, groupID int64, status store.GroupState, ttl time.Duration) bool {
	defer observe(time.Now())
	if err := g.client.Set(ctx, groupStatusKey(groupID), int(status), ttl).Err(); err != nil {
		log.Printf("cache: set group status %d: %v", groupID, err)
		return false
	}
	return true
}

func (g *RedisGateway) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	defer observe(time.Now())
	if err := g.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Printf("cache: set %s: %v", key, err)
		return false
	}
	return true
}

func (g *RedisGateway) AcquireUserLock(ctx context.Context, userID int64, workerID string, ttl time.Duration) bool {
	defer observe(time.Now())
	ok, err := g.client.SetNX(ctx, userLockKey(userID), workerID, ttl).Result()
	if err != nil {
		log.Printf("cache: acquire user lock %d: %v", userID, err)
		return false
	}
	return ok
}

func (g *RedisGateway) ReleaseUserLock(ctx context.Context, userID int64, workerID string) bool {
	defer observe(time.Now())
	res, err := g.client.Eval(ctx, releaseScript, []string{userLockKey(userID)}, workerID).Result()
	if err != nil {
		log.Printf("cache: release user lock %d: %v", userID, err)
		return false
	}
	if val, ok := res.(int64); ok && val == 1 {
		return true
	}
	// Lock already expired, or another worker reacquired it.
	log.Printf("cache: worker %s released user %d lock it no longer holds", workerID, userID)
	return false
}

func (g *RedisGateway) MarkOrderProcessing(ctx context.Context, orderID int64, workerID string, ttl time.Duration) bool {
	defer observe(time.Now())
	ok, err := g.client.SetNX(ctx, orderProcessingKey(orderID), workerID, ttl).Result()
	if err != nil {
		log.Printf("cache: mark order %d processing: %v", orderID, err)
		return false
	}
	return ok
}

func (g *RedisGateway) ClearOrderProcessing(ctx context.Context, orderID int64) {
	defer observe(time.Now())
	if err := g.client.Del(ctx, orderProcessingKey(orderID)).Err(); err != nil {
		log.Printf("cache: clear order %d processing: %v", orderID, err)
	}
}

func (g *RedisGateway) IsOrderProcessing(ctx context.Context, orderID int64) bool {
	defer observe(time.Now())
	n, err := g.client.Exists(ctx, orderProcessingKey(orderID)).Result()
	if err != nil {
		log.Printf("cache: check order %d processing: %v", orderID, err)
		return false
	}
	return n > 0
}

func (g *RedisGateway) PushQueue(ctx context.Context, name string, payload []byte) bool {
	defer observe(time.Now())
	if err := g.client.LPush(ctx, name, payload).Err(); err != nil {
		log.Printf("cache: push queue %s: %v", name, err)
		return false
	}
	return true
}

func (g *RedisGateway) PopQueue(ctx context.Context, name string) ([]byte, bool) {
	defer observe(time.Now())
	val, err := g.client.RPop(ctx, name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		log.Printf("cache: pop queue %s: %v", name, err)
		return nil, false
	}
	return val, true
}

func (g *RedisGateway) QueueLen(ctx context.Context, name string) int {
	defer observe(time.Now())
	n, err := g.client.LLen(ctx, name).Result()
	if err != nil {
		log.Printf("cache: queue len %s: %v", name, err)
		return 0
	}
	return int(n)
}

func (g *RedisGateway) RecordHeartbeat(ctx context.Context, workerID string, ttl time.Duration) bool {
	defer observe(time.Now())
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	if err := g.client.Set(ctx, heartbeatKey(workerID), ts, ttl).Err(); err != nil {
		log.Printf("cache: heartbeat %s: %v", workerID, err)
		return false
	}
	return true
}

func (g *RedisGateway) LiveWorkers(ctx context.Context) []string {
	defer observe(time.Now())
	var workers []string
	iter := g.client.Scan(ctx, 0, heartbeatPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		workers = append(workers, workerFromHeartbeatKey(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		log.Printf("cache: list live workers: %v", err)
	}
	return workers
}

func (g *RedisGateway) UpdateCounters(ctx context.Context, counters map[string]int64) bool {
	if len(counters) == 0 {
		return true
	}
	defer observe(time.Now())
	fields := make(map[string]interface{}, len(counters))
	for k, v := range counters {
		fields[k] = v
	}
	if err := g.client.HSet(ctx, statsKey, fields).Err(); err != nil {
		log.Printf("cache: update counters: %v", err)
		return false
	}
	return true
}

func (g *RedisGateway) Counters(ctx context.Context) map[string]int64 {
	defer observe(time.Now())
	raw, err := g.client.HGetAll(ctx, statsKey).Result()
	if err != nil {
		log.Printf("cache: read counters: %v", err)
		return map[string]int64{}
	}
	counters := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		counters[k] = n
	}
	return counters
}
