package memory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mnemora/mnemora/config"
	"github.com/mnemora/mnemora/types"
)

const redisOpTimeout = 5 * time.Second

// RedisLifecycleIndex persists lifecycle metadata in Redis so sweeps survive
// restarts and multiple processes can share one side table. Records are JSON
// values keyed per item, with a set tracking all tracked IDs.
type RedisLifecycleIndex struct {
	client    *redis.Client
	keyPrefix string
}

var _ LifecycleIndex = (*RedisLifecycleIndex)(nil)

// NewRedisLifecycleIndex connects to Redis and verifies the connection.
func NewRedisLifecycleIndex(cfg config.RedisConfig) (*RedisLifecycleIndex, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewError(types.ErrStorage, "connect to redis: "+cfg.Addr).WithCause(err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mnemora:"
	}
	return &RedisLifecycleIndex{
		client:    client,
		keyPrefix: prefix + "lifecycle:",
	}, nil
}

// NewRedisLifecycleIndexWithClient wraps an existing client, used by tests.
func NewRedisLifecycleIndexWithClient(client *redis.Client, keyPrefix string) *RedisLifecycleIndex {
	if keyPrefix == "" {
		keyPrefix = "mnemora:"
	}
	return &RedisLifecycleIndex{client: client, keyPrefix: keyPrefix + "lifecycle:"}
}

// Close closes the underlying client.
func (x *RedisLifecycleIndex) Close() error {
	return x.client.Close()
}

func (x *RedisLifecycleIndex) recordKey(id string) string {
	return x.keyPrefix + "data:" + id
}

func (x *RedisLifecycleIndex) allKey() string {
	return x.keyPrefix + "all"
}

// Put stores the record and registers its ID in the index set.
func (x *RedisLifecycleIndex) Put(meta *types.LifecycleMetadata) error {
	if meta == nil || meta.ID == "" {
		return types.NewError(types.ErrStorage, "lifecycle record requires an id")
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return types.NewError(types.ErrSerialization, "encode lifecycle record").WithCause(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	pipe := x.client.Pipeline()
	pipe.Set(ctx, x.recordKey(meta.ID), data, 0)
	pipe.SAdd(ctx, x.allKey(), meta.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrStorage, "store lifecycle record").WithCause(err)
	}
	return nil
}

// Get loads the record by ID.
func (x *RedisLifecycleIndex) Get(id string) (*types.LifecycleMetadata, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := x.client.Get(ctx, x.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.NewError(types.ErrStorage, "load lifecycle record").WithCause(err)
	}

	var meta types.LifecycleMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, false, types.NewError(types.ErrSerialization, "decode lifecycle record").WithCause(err)
	}
	return &meta, true, nil
}

// Delete removes the record and deregisters its ID.
func (x *RedisLifecycleIndex) Delete(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	pipe := x.client.Pipeline()
	pipe.Del(ctx, x.recordKey(id))
	pipe.SRem(ctx, x.allKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrStorage, "delete lifecycle record").WithCause(err)
	}
	return nil
}

// List loads every tracked record. IDs whose data key has vanished are
// skipped silently.
func (x *RedisLifecycleIndex) List() ([]*types.LifecycleMetadata, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	ids, err := x.client.SMembers(ctx, x.allKey()).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "list lifecycle records").WithCause(err)
	}

	records := make([]*types.LifecycleMetadata, 0, len(ids))
	for _, id := range ids {
		meta, ok, err := x.Get(id)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, meta)
		}
	}
	return records, nil
}
