package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/platform"

	"github.com/redis/go-redis/v9"
)

var ErrMissingID = errors.New("snapshot: record has no payment id")

const namespace = "payrec:snapshot"

// RedisCache stores snapshots as JSON under payrec:snapshot:<payment id> with a TTL.
type RedisCache struct {
	client redis.UniversalClient // works with both single and cluster
	ttl    time.Duration
}

// NewRedisCache connects to addrs; more than one address uses a cluster client.
func NewRedisCache(addrs []string, password string, ttl time.Duration) *RedisCache {
	var rdb redis.UniversalClient
	if len(addrs) > 1 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Password: password,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addrs[0],
			Password: password,
			DB:       0,
		})
	}
	return NewRedisCacheWithClient(rdb, ttl)
}

func NewRedisCacheWithClient(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func key(paymentID string) string {
	return namespace + ":" + paymentID
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Save(ctx context.Context, rec platform.PaymentRecord) error {
	if rec.PaymentID == "" {
		return ErrMissingID
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(rec.PaymentID), data, c.ttl).Err()
}

func (c *RedisCache) Load(ctx context.Context, paymentID string) (*platform.PaymentRecord, error) {
	data, err := c.client.Get(ctx, key(paymentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec platform.PaymentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *RedisCache) Delete(ctx context.Context, paymentID string) error {
	return c.client.Del(ctx, key(paymentID)).Err()
}

// TTL reports how long the snapshot for paymentID has left.
func (c *RedisCache) TTL(ctx context.Context, paymentID string) (time.Duration, error) {
	return c.client.TTL(ctx, key(paymentID)).Result()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
