package queue

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var tableBuckets = map[Table][]byte{
	Incoming: []byte("incoming"),
	Working:  []byte("working"),
}

// BoltStore keeps both tables as buckets of a single bbolt file, for single-host deployments.
type BoltStore struct {
	db     *bolt.DB
	logger *zap.Logger
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range tableBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	logger.With(zap.String("component", "BoltStore")).Info("Opened bolt store", zap.String("path", path))
	return &BoltStore{db: db, logger: logger}, nil
}

func bucket(tx *bolt.Tx, table Table) (*bolt.Bucket, error) {
	name, ok := tableBuckets[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %s", table)
	}
	return tx.Bucket(name), nil
}

func (s *BoltStore) Get(_ context.Context, table Table, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, table)
		if err != nil {
			return err
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *BoltStore) Set(_ context.Context, table Table, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, table)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

func (s *BoltStore) SetNX(_ context.Context, table Table, key string, value []byte) (bool, error) {
	set := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, table)
		if err != nil {
			return err
		}
		if b.Get([]byte(key)) != nil {
			return nil
		}
		set = true
		return b.Put([]byte(key), value)
	})
	return set, err
}

func (s *BoltStore) Take(_ context.Context, table Table, key string) ([]byte, error) {
	var out []byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, table)
		if err != nil {
			return err
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return b.Delete([]byte(key))
	})
	return out, err
}

func (s *BoltStore) Delete(_ context.Context, table Table, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, table)
		if err != nil {
			return err
		}
		return b.Delete([]byte(key))
	})
}

// Scan snapshots the table in one read transaction and calls fn outside of it,
// so fn may write to the store.
func (s *BoltStore) Scan(ctx context.Context, table Table, fn func(key string, value []byte) error) error {
	type entry struct {
		key   string
		value []byte
	}
	var entries []entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, table)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			entries = append(entries, entry{key: string(k), value: append([]byte(nil), v...)})
			return nil
		})
	})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) Flush(_ context.Context, table Table) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		name, ok := tableBuckets[table]
		if !ok {
			return fmt.Errorf("unknown table %s", table)
		}
		if err := tx.DeleteBucket(name); err != nil {
			return err
		}
		_, err := tx.CreateBucket(name)
		return err
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
