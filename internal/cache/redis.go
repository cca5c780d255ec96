package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/steemit/sbds/pkg/config"
	"github.com/steemit/sbds/pkg/logging"
)

const (
	namespace = "sbds"

	failedKey  = "failed:blocks"
	reasonsKey = "failed:reasons"
)

// Failure is a block number that could not be stored.
type Failure struct {
	BlockNum int64  `json:"block_num"`
	Stage    string `json:"stage"`
	Reason   string `json:"reason"`
}

// Cache wraps Redis client. It keeps the registry of failed blocks as a
// sorted set scored by block number, with the failure details in a hash.
// A nil *Cache is a disabled registry: writes are dropped and reads are
// empty.
type Cache struct {
	client *redis.Client
}

// New creates a new Redis cache client
func New(cfg *config.RedisConfig) (*Cache, error) {
	if !cfg.Enabled {
		logging.GetLogger().Info("Redis cache disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetLogger().Info("Redis connection established")

	return &Cache{client: client}, nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

func (c *Cache) namespaceKey(key string) string {
	return namespace + ":" + key
}

// AddFailed records failures, replacing earlier details for the same block.
func (c *Cache) AddFailed(ctx context.Context, failures ...Failure) error {
	if !c.enabled() || len(failures) == 0 {
		return nil
	}

	members := make([]*redis.Z, 0, len(failures))
	details := make(map[string]interface{}, len(failures))
	for _, f := range failures {
		member := strconv.FormatInt(f.BlockNum, 10)
		members = append(members, &redis.Z{Score: float64(f.BlockNum), Member: member})
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("failed to encode failure of block %d: %w", f.BlockNum, err)
		}
		details[member] = string(data)
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, c.namespaceKey(failedKey), members...)
		pipe.HSet(ctx, c.namespaceKey(reasonsKey), details)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record failed blocks: %w", err)
	}
	return nil
}

// RemoveFailed forgets the given block numbers.
func (c *Cache) RemoveFailed(ctx context.Context, nums ...int64) error {
	if !c.enabled() || len(nums) == 0 {
		return nil
	}

	members := make([]interface{}, 0, len(nums))
	fields := make([]string, 0, len(nums))
	for _, n := range nums {
		member := strconv.FormatInt(n, 10)
		members = append(members, member)
		fields = append(fields, member)
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, c.namespaceKey(failedKey), members...)
		pipe.HDel(ctx, c.namespaceKey(reasonsKey), fields...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove failed blocks: %w", err)
	}
	return nil
}

// FailedBlocks returns the registered block numbers in ascending order.
func (c *Cache) FailedBlocks(ctx context.Context) ([]int64, error) {
	if !c.enabled() {
		return nil, nil
	}

	members, err := c.client.ZRangeByScore(ctx, c.namespaceKey(failedKey), &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failed blocks: %w", err)
	}

	nums := make([]int64, 0, len(members))
	for _, m := range members {
		n, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid failed block member %q: %w", m, err)
		}
		nums = append(nums, n)
	}
	return nums, nil
}

// Failures returns the registered failures with their details.
func (c *Cache) Failures(ctx context.Context) ([]Failure, error) {
	nums, err := c.FailedBlocks(ctx)
	if err != nil || len(nums) == 0 {
		return nil, err
	}

	fields := make([]string, len(nums))
	for i, n := range nums {
		fields[i] = strconv.FormatInt(n, 10)
	}
	values, err := c.client.HMGet(ctx, c.namespaceKey(reasonsKey), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read failure details: %w", err)
	}

	failures := make([]Failure, len(nums))
	for i, n := range nums {
		failures[i].BlockNum = n
		s, ok := values[i].(string)
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(s), &failures[i]); err != nil {
			return nil, fmt.Errorf("invalid failure details for block %d: %w", n, err)
		}
	}
	return failures, nil
}

// CountFailed returns the number of registered failures.
func (c *Cache) CountFailed(ctx context.Context) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	return c.client.ZCard(ctx, c.namespaceKey(failedKey)).Result()
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if !c.enabled() {
		return nil
	}
	return c.client.Close()
}

// Health checks Redis health
func (c *Cache) Health(ctx context.Context) error {
	if !c.enabled() {
		return ErrCacheDisabled
	}
	return c.client.Ping(ctx).Err()
}

var (
	// ErrCacheDisabled is returned when cache operations are attempted but cache is disabled
	ErrCacheDisabled = fmt.Errorf("cache is disabled")
)
