package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const scanBatch = 100

// RedisStore keeps each table in its own redis database.
type RedisStore struct {
	clients map[Table]*redis.Client
	logger  *zap.Logger
}

// NewRedisStore opens clients for both table databases and pings them. An unreachable server is
// not fatal: the queue buffers incoming writes until redis answers again.
func NewRedisStore(ctx context.Context, addr string, logger *zap.Logger) (*RedisStore, error) {
	s := &RedisStore{
		clients: make(map[Table]*redis.Client, 2),
		logger:  logger.With(zap.String("component", "RedisStore")),
	}
	for _, table := range []Table{Incoming, Working} {
		s.clients[table] = redis.NewClient(&redis.Options{Addr: addr, DB: int(table)})
	}

	for table, client := range s.clients {
		if err := client.Ping(ctx).Err(); err != nil {
			if ctx.Err() != nil {
				_ = s.Close()
				return nil, ctx.Err()
			}
			s.logger.Warn("Redis unreachable, continuing and retrying on use",
				zap.String("addr", addr), zap.Stringer("table", table), zap.Error(err))
			return s, nil
		}
	}
	s.logger.Info("Connected to redis", zap.String("addr", addr))
	return s, nil
}

func (s *RedisStore) client(table Table) (*redis.Client, error) {
	c, ok := s.clients[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %s", table)
	}
	return c, nil
}

func (s *RedisStore) Get(ctx context.Context, table Table, key string) ([]byte, error) {
	c, err := s.client(table)
	if err != nil {
		return nil, err
	}
	val, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return val, err
}

func (s *RedisStore) Set(ctx context.Context, table Table, key string, value []byte) error {
	c, err := s.client(table)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, value, 0).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, table Table, key string, value []byte) (bool, error) {
	c, err := s.client(table)
	if err != nil {
		return false, err
	}
	return c.SetNX(ctx, key, value, 0).Result()
}

func (s *RedisStore) Take(ctx context.Context, table Table, key string) ([]byte, error) {
	c, err := s.client(table)
	if err != nil {
		return nil, err
	}
	val, err := c.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return val, err
}

func (s *RedisStore) Delete(ctx context.Context, table Table, key string) error {
	c, err := s.client(table)
	if err != nil {
		return err
	}
	return c.Del(ctx, key).Err()
}

// Scan walks the table with SCAN; keys deleted between the SCAN and the GET are skipped.
func (s *RedisStore) Scan(ctx context.Context, table Table, fn func(key string, value []byte) error) error {
	c, err := s.client(table)
	if err != nil {
		return err
	}
	iter := c.Scan(ctx, 0, "*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := c.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s from %s: %w", key, table, err)
		}
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *RedisStore) Flush(ctx context.Context, table Table) error {
	c, err := s.client(table)
	if err != nil {
		return err
	}
	return c.FlushDB(ctx).Err()
}

func (s *RedisStore) Close() error {
	var err error
	for _, c := range s.clients {
		err = multierr.Append(err, c.Close())
	}
	return err
}
