package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

// TargetChainFunc extracts the destination chain from raw VAA bytes.
type TargetChainFunc func(vaaBytes []byte) (vaaLib.ChainID, error)

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithAlreadyExecuted registers a callback for duplicate claims detected at the WORKING insert.
func WithAlreadyExecuted(fn func(Key)) Option {
	return func(q *Queue) { q.onAlreadyExecuted = fn }
}

type bufferedWrite struct {
	key   string
	value []byte
}

// Queue implements the INCOMING/WORKING handoff on top of a Store.
type Queue struct {
	store             Store
	logger            *zap.Logger
	targetChain       TargetChainFunc
	now               func() time.Time
	onAlreadyExecuted func(Key)

	mu       sync.Mutex
	overflow []bufferedWrite
}

// New creates a Queue. targetChain is used to filter items per worker chain.
func New(store Store, targetChain TargetChainFunc, logger *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		store:             store,
		logger:            logger.With(zap.String("component", "Queue")),
		targetChain:       targetChain,
		now:               time.Now,
		onAlreadyExecuted: func(Key) {},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// EnqueueIncoming upserts vaaBytes into INCOMING as a fresh Pending entry.
// When the store is unreachable the write is buffered and nil is returned.
func (q *Queue) EnqueueIncoming(ctx context.Context, key Key, vaaBytes []byte) error {
	value, err := NewPayload(vaaBytes, q.now()).encode()
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	q.putIncoming(ctx, key.String(), value)
	return nil
}

func (q *Queue) putIncoming(ctx context.Context, key string, value []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.flushLocked(ctx); err != nil {
		q.overflow = append(q.overflow, bufferedWrite{key: key, value: value})
		q.logger.Warn("Store unavailable, buffering write",
			zap.String("key", key), zap.Int("buffered", len(q.overflow)), zap.Error(err))
		return
	}
	if err := q.store.Set(ctx, Incoming, key, value); err != nil {
		q.overflow = append(q.overflow, bufferedWrite{key: key, value: value})
		q.logger.Warn("Store unavailable, buffering write",
			zap.String("key", key), zap.Int("buffered", len(q.overflow)), zap.Error(err))
	}
}

// Flush writes buffered INCOMING entries in FIFO order.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushLocked(ctx)
}

func (q *Queue) flushLocked(ctx context.Context) error {
	for len(q.overflow) > 0 {
		w := q.overflow[0]
		if err := q.store.Set(ctx, Incoming, w.key, w.value); err != nil {
			return err
		}
		q.overflow = q.overflow[1:]
		q.logger.Debug("Flushed buffered write", zap.String("key", w.key))
	}
	q.overflow = nil
	return nil
}

// Buffered returns the number of writes waiting in the overflow buffer.
func (q *Queue) Buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.overflow)
}

// ListIncomingFor returns the INCOMING items destined for chain whose backoff window has elapsed.
// Chain 0 matches every item.
func (q *Queue) ListIncomingFor(ctx context.Context, chain vaaLib.ChainID) ([]Item, error) {
	if err := q.Flush(ctx); err != nil {
		q.logger.Warn("Failed to flush buffered writes", zap.Error(err))
	}
	now := q.now()
	items, err := q.scan(ctx, Incoming, chain)
	if err != nil {
		return nil, err
	}
	eligible := items[:0]
	for _, it := range items {
		if Eligible(it.Payload, now) {
			eligible = append(eligible, it)
		}
	}
	return eligible, nil
}

// ListWorkingFor returns every WORKING item destined for chain. Chain 0 matches every item.
func (q *Queue) ListWorkingFor(ctx context.Context, chain vaaLib.ChainID) ([]Item, error) {
	return q.scan(ctx, Working, chain)
}

func (q *Queue) scan(ctx context.Context, table Table, chain vaaLib.ChainID) ([]Item, error) {
	var items []Item
	err := q.store.Scan(ctx, table, func(rawKey string, value []byte) error {
		key, err := ParseKey(rawKey)
		if err != nil {
			q.logger.Error("Skipping entry with malformed key", zap.Stringer("table", table), zap.Error(err))
			return nil
		}
		p, err := decodePayload(value)
		if err != nil {
			q.logger.Error("Skipping corrupt entry", zap.Stringer("table", table), zap.String("key", rawKey), zap.Error(err))
			return nil
		}
		if chain != 0 {
			target, err := q.payloadTarget(p)
			if err != nil {
				q.logger.Error("Skipping entry with unreadable VAA", zap.Stringer("table", table), zap.String("key", rawKey), zap.Error(err))
				return nil
			}
			if target != chain {
				return nil
			}
		}
		items = append(items, Item{Key: key, Payload: p})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", table, err)
	}
	return items, nil
}

func (q *Queue) payloadTarget(p Payload) (vaaLib.ChainID, error) {
	raw, err := p.VAA()
	if err != nil {
		return 0, err
	}
	return q.targetChain(raw)
}

// MoveToWorking claims key by removing it from INCOMING and inserting it into WORKING as Pending,
// stamped with the claim time. It returns false when the key was already taken or a WORKING entry already exists.
func (q *Queue) MoveToWorking(ctx context.Context, key Key) (bool, error) {
	raw, err := q.store.Take(ctx, Incoming, key.String())
	if errors.Is(err, ErrNotFound) {
		q.logger.Debug("Item already claimed", zap.Stringer("key", key))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to take %s from incoming: %w", key, err)
	}

	p, err := decodePayload(raw)
	if err != nil {
		q.logger.Error("Corrupt entry taken from incoming, restoring it", zap.Stringer("key", key), zap.Error(err))
		q.putIncoming(ctx, key.String(), raw)
		return false, err
	}
	// The auditor's grace period runs from the claim, not from the enqueue or last failure.
	p.Status = Pending
	p.Timestamp = q.now()
	value, err := p.encode()
	if err != nil {
		return false, err
	}

	ok, err := q.store.SetNX(ctx, Working, key.String(), value)
	if err != nil {
		q.putIncoming(ctx, key.String(), raw)
		return false, fmt.Errorf("failed to insert %s into working: %w", key, err)
	}
	if !ok {
		q.logger.Info("VAA already in working, dropping duplicate", zap.Stringer("key", key))
		q.onAlreadyExecuted(key)
		return false, nil
	}
	return true, nil
}

// RecordResult stores the outcome of a relay attempt on the WORKING entry.
// Any status other than Completed counts as a failed attempt.
func (q *Queue) RecordResult(ctx context.Context, key Key, status Status) (Payload, error) {
	p, err := q.Get(ctx, Working, key)
	if err != nil {
		return Payload{}, err
	}
	p.Status = status
	p.Timestamp = q.now()
	if status != Completed {
		p.Retries++
	}
	if err := q.put(ctx, Working, key, p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// DemoteToIncoming moves key from WORKING back to INCOMING. With reset the entry starts over as
// a fresh Pending payload, otherwise retries and timestamp are kept so the backoff still applies.
func (q *Queue) DemoteToIncoming(ctx context.Context, key Key, reset bool) error {
	raw, err := q.store.Take(ctx, Working, key.String())
	if err != nil {
		return fmt.Errorf("failed to take %s from working: %w", key, err)
	}
	p, err := decodePayload(raw)
	if err != nil {
		return err
	}
	if reset {
		p.Status = Pending
		p.Retries = 0
		p.Timestamp = q.now()
	}
	value, err := p.encode()
	if err != nil {
		return err
	}
	q.putIncoming(ctx, key.String(), value)
	return nil
}

// DemoteAllWorking moves every WORKING entry back to INCOMING, keeping its retries.
func (q *Queue) DemoteAllWorking(ctx context.Context) (int, error) {
	items, err := q.ListWorkingFor(ctx, 0)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, it := range items {
		if err := q.DemoteToIncoming(ctx, it.Key, false); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// ClearAll empties both tables and drops buffered writes.
func (q *Queue) ClearAll(ctx context.Context) error {
	q.mu.Lock()
	q.overflow = nil
	q.mu.Unlock()

	for _, table := range []Table{Incoming, Working} {
		if err := q.store.Flush(ctx, table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// Get returns the decoded payload stored under key.
func (q *Queue) Get(ctx context.Context, table Table, key Key) (Payload, error) {
	raw, err := q.store.Get(ctx, table, key.String())
	if err != nil {
		return Payload{}, err
	}
	return decodePayload(raw)
}

// Delete removes key from table.
func (q *Queue) Delete(ctx context.Context, table Table, key Key) error {
	return q.store.Delete(ctx, table, key.String())
}

// SetStatus overwrites the status of a WORKING entry without counting an attempt.
func (q *Queue) SetStatus(ctx context.Context, key Key, status Status) error {
	p, err := q.Get(ctx, Working, key)
	if err != nil {
		return err
	}
	p.Status = status
	p.Timestamp = q.now()
	return q.put(ctx, Working, key, p)
}

func (q *Queue) put(ctx context.Context, table Table, key Key, p Payload) error {
	value, err := p.encode()
	if err != nil {
		return err
	}
	return q.store.Set(ctx, table, key.String(), value)
}

// Depths counts entries per table and source/target chain pair.
func (q *Queue) Depths(ctx context.Context) ([]Depth, error) {
	type pair struct {
		table          Table
		source, target vaaLib.ChainID
	}
	counts := make(map[pair]int)
	for _, table := range []Table{Incoming, Working} {
		items, err := q.scan(ctx, table, 0)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			target, err := q.payloadTarget(it.Payload)
			if err != nil {
				target = 0
			}
			counts[pair{table, it.Key.EmitterChain, target}]++
		}
	}
	depths := make([]Depth, 0, len(counts))
	for p, n := range counts {
		depths = append(depths, Depth{Table: p.table, SourceChain: p.source, TargetChain: p.target, Count: n})
	}
	return depths, nil
}

// Close closes the underlying store.
func (q *Queue) Close() error {
	return q.store.Close()
}
