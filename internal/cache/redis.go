package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultBaseTTL   = 15 * time.Minute
	defaultMaxJitter = 5 * time.Minute
)

type Option func(*RedisCache)

// WithTTL overrides the base TTL and the upper bound of the random jitter
// added to it.
func WithTTL(base, maxJitter time.Duration) Option {
	return func(r *RedisCache) {
		r.baseTTL = base
		r.maxJitter = maxJitter
	}
}

func NewRedisCache(client redis.UniversalClient, opts ...Option) *RedisCache {
	r := &RedisCache{
		client:    client,
		baseTTL:   defaultBaseTTL,
		maxJitter: defaultMaxJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type RedisCache struct {
	client    redis.UniversalClient
	baseTTL   time.Duration
	maxJitter time.Duration
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if errUnmarshal := json.Unmarshal(data, &cart); errUnmarshal != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", errUnmarshal)
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}

	return &cart, nil
}

// setIfNewer stores ARGV[1] unless the cached cart already has a higher
// version, so a slow reader cannot overwrite a fresher write.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, doc = pcall(cjson.decode, cur)
	if ok and type(doc) == 'table' and tonumber(doc['version']) and tonumber(doc['version']) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// Set caches cart unless a newer version is already cached.
func (r *RedisCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	keys := []string{cacheKey(userID)}
	args := []interface{}{payload, cart.Version, r.ttl().Milliseconds()}
	if err := setIfNewer.Run(ctx, r.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// ttl spreads expirations so carts cached together do not expire together.
func (r *RedisCache) ttl() time.Duration {
	if r.maxJitter <= 0 {
		return r.baseTTL
	}
	return r.baseTTL + rand.N(r.maxJitter)
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}
