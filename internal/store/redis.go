package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis backs the adapter with a redis instance. Keys are namespaced under
// a fixed prefix so one instance can be shared with other services.
type Redis struct {
	client    *redis.Client
	namespace string
}

func NewRedis(client *redis.Client, namespace string) *Redis {
	if namespace == "" {
		namespace = "timecard"
	}
	return &Redis{client: client, namespace: namespace}
}

func (r *Redis) key(key string) string {
	return fmt.Sprintf("%s:%s", r.namespace, key)
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, r.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.key(key), value, 0).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *Redis) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pattern := r.key(prefix) + "*"
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	strip := len(r.namespace) + 1
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[strip:])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
