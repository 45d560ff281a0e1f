package objectstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps content as plain Redis string values without expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "mmrag:obj:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := checkPut(data); err != nil {
		return "", err
	}
	ref := Ref(data)
	if err := s.client.Set(ctx, s.prefix+ref, data, 0).Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", unavailable("failed to set object", err)
	}
	return ref, nil
}

func (s *RedisStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := checkRef(ref); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.prefix+ref).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(ref)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, unavailable("failed to get object", err)
	}
	return data, nil
}

// Ping tests connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("redis ping failed", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
