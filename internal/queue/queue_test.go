package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/wormhole-foundation/wormhole-sub007/internal/message"
	"github.com/wormhole-foundation/wormhole-sub007/internal/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func transferTarget(vaaBytes []byte) (vaaLib.ChainID, error) {
	v, err := message.ParseVAA(vaaBytes)
	if err != nil {
		return 0, err
	}
	tr, err := message.ParseTransfer(v.Payload)
	if err != nil {
		return 0, err
	}
	return tr.TargetChain, nil
}

func newQueue(t *testing.T, s Store, opts ...Option) (*Queue, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(s, transferTarget, zap.NewNop(), opts...), clock
}

func transferVAA(t *testing.T, seq uint64, target vaaLib.ChainID) (Key, []byte) {
	tr := testutil.Transfer(vaaLib.ChainIDSolana, target, testutil.Emitter(5), 10)
	raw := testutil.TransferVAA(t, vaaLib.ChainIDSolana, testutil.Emitter(1), seq, tr)
	v, err := message.ParseVAA(raw)
	require.NoError(t, err)
	return KeyFor(v), raw
}

func TestKeyRoundTrip(t *testing.T) {
	k := Key{EmitterChain: 2, EmitterAddress: testutil.Emitter(1).String(), Sequence: 42}
	parsed, err := ParseKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	_, err = ParseKey("2/zz/1")
	assert.Error(t, err)
	_, err = ParseKey("nope")
	assert.Error(t, err)
}

func TestEnqueueIncomingIsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t, newBoltStore(t))

	key, first := transferVAA(t, 1, vaaLib.ChainIDEthereum)
	_, second := transferVAA(t, 1, vaaLib.ChainIDBSC)
	require.NoError(t, q.EnqueueIncoming(ctx, key, first))
	require.NoError(t, q.EnqueueIncoming(ctx, key, second))

	items, err := q.ListIncomingFor(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	got, err := items[0].Payload.VAA()
	require.NoError(t, err)
	assert.Equal(t, second, got)
	assert.Equal(t, Pending, items[0].Payload.Status)
	assert.Equal(t, 0, items[0].Payload.Retries)
}

func TestListIncomingFiltersByTargetChain(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t, newBoltStore(t))

	k1, v1 := transferVAA(t, 1, vaaLib.ChainIDEthereum)
	k2, v2 := transferVAA(t, 2, vaaLib.ChainIDBSC)
	require.NoError(t, q.EnqueueIncoming(ctx, k1, v1))
	require.NoError(t, q.EnqueueIncoming(ctx, k2, v2))

	items, err := q.ListIncomingFor(ctx, vaaLib.ChainIDEthereum)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, k1, items[0].Key)

	all, err := q.ListIncomingFor(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCorruptEntriesAreSkipped(t *testing.T) {
	ctx := context.Background()
	s := newBoltStore(t)
	q, _ := newQueue(t, s)

	k, v := transferVAA(t, 1, vaaLib.ChainIDEthereum)
	require.NoError(t, q.EnqueueIncoming(ctx, k, v))
	require.NoError(t, s.Set(ctx, Incoming, "2/"+testutil.Emitter(1).String()+"/9", []byte("{not json")))
	require.NoError(t, s.Set(ctx, Incoming, "garbage", []byte("{}")))

	items, err := q.ListIncomingFor(ctx, vaaLib.ChainIDEthereum)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestMoveToWorking(t *testing.T) {
	ctx := context.Background()
	var duplicates atomic.Int32
	q, _ := newQueue(t, newBoltStore(t), WithAlreadyExecuted(func(Key) { duplicates.Add(1) }))

	k, v := transferVAA(t, 1, vaaLib.ChainIDEthereum)
	require.NoError(t, q.EnqueueIncoming(ctx, k, v))

	ok, err := q.MoveToWorking(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = q.Get(ctx, Incoming, k)
	assert.ErrorIs(t, err, ErrNotFound)
	p, err := q.Get(ctx, Working, k)
	require.NoError(t, err)
	assert.Equal(t, Pending, p.Status)

	// a second claim finds nothing in INCOMING
	ok, err = q.MoveToWorking(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(0), duplicates.Load())

	// a late duplicate re-populates INCOMING but is dropped at the WORKING insert
	require.NoError(t, q.EnqueueIncoming(ctx, k, v))
	ok, err = q.MoveToWorking(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(1), duplicates.Load())
	_, err = q.Get(ctx, Incoming, k)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMoveToWorkingStampsClaimTime(t *testing.T) {
	ctx := context.Background()
	q, clock := newQueue(t, newBoltStore(t))
	k, v := transferVAA(t, 1, vaaLib.ChainIDEthereum)
	require.NoError(t, q.EnqueueIncoming(ctx, k, v))

	clock.Advance(11 * time.Minute)
	ok, err := q.MoveToWorking(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)

	p, err := q.Get(ctx, Working, k)
	require.NoError(t, err)
	assert.True(t, clock.Now().Equal(p.Timestamp), "working entry must carry the claim time, got %s", p.Timestamp)
}

func TestMoveToWorkingRestoresCorruptEntry(t *testing.T) {
	ctx := context.Background()
	s := newBoltStore(t)
	q, _ := newQueue(t, s)
	k := Key{EmitterChain: vaaLib.ChainIDSolana, EmitterAddress: testutil.Emitter(1).String(), Sequence: 9}
	require.NoError(t, s.Set(ctx, Incoming, k.String(), []byte("{not json")))

	ok, err := q.MoveToWorking(ctx, k)
	assert.Error(t, err)
	assert.False(t, ok)

	raw, err := s.Get(ctx, Incoming, k.String())
	require.NoError(t, err)
	assert.Equal(t, []byte("{not json"), raw)
	_, err = s.Get(ctx, Working, k.String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentMoveToWorkingHasOneWinner(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q, _ := newQueue(t, s)
			k, v := transferVAA(t, 1, vaaLib.ChainIDEthereum)
			require.NoError(t, q.EnqueueIncoming(ctx, k, v))

			const callers = 8
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := q.MoveToWorking(ctx, k)
					assert.NoError(t, err)
					if ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())

			working, err := q.ListWorkingFor(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, working, 1)
		})
	}
}

func TestRecordResultAndDemote(t *testing.T) {
	ctx := context.Background()
	q, clock := newQueue(t, newBoltStore(t))
	k, v := transferVAA(t, 1, vaaLib.ChainIDEthereum)
	require.NoError(t, q.EnqueueIncoming(ctx, k, v))
	ok, err := q.MoveToWorking(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(time.Minute)
	p, err := q.RecordResult(ctx, k, Error)
	require.NoError(t, err)
	assert.Equal(t, Error, p.Status)
	assert.Equal(t, 1, p.Retries)
	assert.True(t, clock.Now().Equal(p.Timestamp))

	require.NoError(t, q.DemoteToIncoming(ctx, k, false))
	_, err = q.Get(ctx, Working, k)
	assert.ErrorIs(t, err, ErrNotFound)

	items, err := q.ListIncomingFor(ctx, vaaLib.ChainIDEthereum)
	require.NoError(t, err)
	assert.Empty(t, items, "item must wait out its backoff")

	clock.Advance(Backoff(1))
	items, err = q.ListIncomingFor(ctx, vaaLib.ChainIDEthereum)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Payload.Retries)

	completed, err := q.RecordResult(ctx, k, Completed)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, completed)
}

func TestDemoteWithReset(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t, newBoltStore(t))
	k, v := transferVAA(t, 1, vaaLib.ChainIDEthereum)
	require.NoError(t, q.EnqueueIncoming(ctx, k, v))
	_, err := q.MoveToWorking(ctx, k)
	require.NoError(t, err)
	_, err = q.RecordResult(ctx, k, Completed)
	require.NoError(t, err)

	require.NoError(t, q.DemoteToIncoming(ctx, k, true))
	p, err := q.Get(ctx, Incoming, k)
	require.NoError(t, err)
	assert.Equal(t, Pending, p.Status)
	assert.Equal(t, 0, p.Retries)

	err = q.DemoteToIncoming(ctx, k, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDemoteAllWorkingAndClearAll(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t, newBoltStore(t))
	for seq := uint64(1); seq <= 3; seq++ {
		k, v := transferVAA(t, seq, vaaLib.ChainIDEthereum)
		require.NoError(t, q.EnqueueIncoming(ctx, k, v))
		_, err := q.MoveToWorking(ctx, k)
		require.NoError(t, err)
	}

	moved, err := q.DemoteAllWorking(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, moved)
	working, err := q.ListWorkingFor(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, working)

	depths, err := q.Depths(ctx)
	require.NoError(t, err)
	require.Len(t, depths, 1)
	assert.Equal(t, Depth{Table: Incoming, SourceChain: vaaLib.ChainIDSolana, TargetChain: vaaLib.ChainIDEthereum, Count: 3}, depths[0])

	require.NoError(t, q.ClearAll(ctx))
	incoming, err := q.ListIncomingFor(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, incoming)
}

// flakyStore fails INCOMING writes while down is set.
type flakyStore struct {
	Store
	down atomic.Bool
}

func (f *flakyStore) Set(ctx context.Context, table Table, key string, value []byte) error {
	if f.down.Load() {
		return errors.New("connection refused")
	}
	return f.Store.Set(ctx, table, key, value)
}

func TestOverflowBufferFlushesInOrder(t *testing.T) {
	ctx := context.Background()
	s := &flakyStore{Store: newBoltStore(t)}
	q, _ := newQueue(t, s)

	k, first := transferVAA(t, 1, vaaLib.ChainIDEthereum)
	_, second := transferVAA(t, 1, vaaLib.ChainIDBSC)

	s.down.Store(true)
	require.NoError(t, q.EnqueueIncoming(ctx, k, first))
	require.NoError(t, q.EnqueueIncoming(ctx, k, second))
	assert.Equal(t, 2, q.Buffered())

	items, err := q.ListIncomingFor(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	s.down.Store(false)
	items, err = q.ListIncomingFor(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 0, q.Buffered())

	got, err := items[0].Payload.VAA()
	require.NoError(t, err)
	assert.Equal(t, second, got, "later buffered write must win")
}

func TestRedisUnreachableAtStartupBuffersWrites(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	addr := mr.Addr()
	mr.Close()

	s, err := NewRedisStore(ctx, addr, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	q, _ := newQueue(t, s)

	k, v := transferVAA(t, 1, vaaLib.ChainIDEthereum)
	require.NoError(t, q.EnqueueIncoming(ctx, k, v))
	assert.Equal(t, 1, q.Buffered())

	require.NoError(t, mr.Restart())
	t.Cleanup(mr.Close)
	require.NoError(t, q.Flush(ctx))
	assert.Equal(t, 0, q.Buffered())

	p, err := q.Get(ctx, Incoming, k)
	require.NoError(t, err)
	assert.Equal(t, Pending, p.Status)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0))
	assert.Equal(t, 10*time.Second, Backoff(1))
	assert.Equal(t, 1000*time.Second, Backoff(3))
	assert.Equal(t, 10000*time.Second, Backoff(4))
	assert.Equal(t, MaxBackoff, Backoff(5))
	assert.Equal(t, MaxBackoff, Backoff(1000))
}

func TestEligibilityBoundary(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		retries := rapid.IntRange(1, 40).Draw(t, "retries")
		failedAt := time.Unix(rapid.Int64Range(0, 1<<40).Draw(t, "failedAt"), 0)
		p := Payload{Status: Error, Retries: retries, Timestamp: failedAt}

		due := failedAt.Add(Backoff(retries))
		assert.False(t, Eligible(p, due.Add(-time.Nanosecond)))
		assert.True(t, Eligible(p, due))
		assert.True(t, Eligible(p, due.Add(time.Duration(rapid.Int64Range(0, int64(time.Hour)).Draw(t, "extra")))))
		assert.True(t, Backoff(retries) >= Backoff(retries-1))
	})
}
