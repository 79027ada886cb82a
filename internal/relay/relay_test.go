package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-foundation/wormhole-sub007/internal/backend"
	"github.com/wormhole-foundation/wormhole-sub007/internal/chains"
	"github.com/wormhole-foundation/wormhole-sub007/internal/config"
	"github.com/wormhole-foundation/wormhole-sub007/internal/message"
	"github.com/wormhole-foundation/wormhole-sub007/internal/metrics"
	"github.com/wormhole-foundation/wormhole-sub007/internal/queue"
	"github.com/wormhole-foundation/wormhole-sub007/internal/redeemer"
	"github.com/wormhole-foundation/wormhole-sub007/internal/testutil"
)

type chainStub struct {
	mu       sync.Mutex
	redeemed bool
	err      error
	submits  int

	// when set, Redeem signals entered and blocks until release is closed
	entered chan struct{}
	release chan struct{}
}

func (s *chainStub) IsRedeemed(context.Context, *redeemer.Request) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redeemed, s.err
}

func (s *chainStub) Redeem(context.Context, *redeemer.Request) (string, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	s.redeemed = true
	return "0xfeed", nil
}

func (s *chainStub) set(redeemed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redeemed, s.err = redeemed, err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	queue   *queue.Queue
	relayer *backend.TokenBridgeRelayer
	metrics *metrics.Metrics
	stub    *chainStub
	clock   *clock
	cfg     config.Relayer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := queue.NewRedisStore(context.Background(), mr.Addr(), zap.NewNop())
	require.NoError(t, err)

	h := &harness{
		metrics: metrics.New(),
		stub:    &chainStub{},
		clock:   &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		cfg: config.Relayer{
			SupportedChains: []config.ChainConfigInfo{{
				ChainID:            vaaLib.ChainIDEthereum,
				ChainName:          "Ethereum",
				NodeURL:            "http://localhost:8545",
				TokenBridgeAddress: "0x0290FB167208Af455bB137780163b7B7a9a10C16",
				WrappedAsset:       "0xDDb64fE46a91D46ee29420539FC25FD07c5FEa3E",
			}},
			PrivateKeys:    []config.PrivateKeys{{ChainID: vaaLib.ChainIDEthereum, PrivateKeys: []string{"k1", "k2"}}},
			WorkerInterval: time.Millisecond,
			AuditInterval:  time.Millisecond,
			AuditGrace:     10 * time.Minute,
			RestartDelay:   time.Millisecond,
		},
	}

	reds := redeemer.NewRegistry(zap.NewNop())
	reds.Register(chains.FamilyEVM, func(config.ChainConfigInfo, string, *zap.Logger) (redeemer.Redeemer, error) {
		return h.stub, nil
	})
	h.relayer = backend.NewTokenBridgeRelayer(h.cfg, reds, zap.NewNop())
	h.queue = queue.New(store, h.relayer.TargetChain, zap.NewNop(),
		queue.WithClock(h.clock.Now),
		queue.WithAlreadyExecuted(func(k queue.Key) { h.metrics.IncAlreadyExecuted(k.EmitterChain) }))
	t.Cleanup(func() { _ = h.queue.Close() })
	return h
}

func (h *harness) enqueue(t *testing.T, seq uint64, target vaaLib.ChainID) queue.Key {
	t.Helper()
	tr := testutil.Transfer(vaaLib.ChainIDSolana, target, testutil.Emitter(9), 10)
	raw := testutil.TransferVAA(t, vaaLib.ChainIDSolana, testutil.Emitter(1), seq, tr)
	v, err := message.ParseVAA(raw)
	require.NoError(t, err)
	key := queue.KeyFor(v)
	require.NoError(t, h.queue.EnqueueIncoming(context.Background(), key, raw))
	return key
}

func (h *harness) worker(chain vaaLib.ChainID) *Worker {
	info := backend.WorkerInfo{Index: 0, TargetChainID: chain, TargetChainName: "test", Credential: "k1"}
	return NewWorker(info, h.queue, h.relayer, h.metrics, time.Millisecond, zap.NewNop())
}

func (h *harness) auditor() *Auditor {
	info := backend.WorkerInfo{Index: 0, TargetChainID: vaaLib.ChainIDEthereum, TargetChainName: "Ethereum", Credential: "k1"}
	a := NewAuditor(info, h.queue, h.relayer, h.metrics, time.Millisecond, h.cfg.AuditGrace, zap.NewNop())
	a.now = h.clock.Now
	return a
}

func counter(t *testing.T, m *metrics.Metrics, name, chain string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "spy_relay_"+name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "chain" && l.GetValue() == chain {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestWorkerRedeemsTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := h.enqueue(t, 1, vaaLib.ChainIDEthereum)

	processed, err := h.worker(vaaLib.ChainIDEthereum).Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	p, err := h.queue.Get(ctx, queue.Working, key)
	require.NoError(t, err)
	assert.Equal(t, queue.Completed, p.Status)
	assert.Equal(t, 0, p.Retries)

	_, err = h.queue.Get(ctx, queue.Incoming, key)
	assert.ErrorIs(t, err, queue.ErrNotFound)

	assert.Equal(t, 1, h.stub.submits)
	assert.Equal(t, 1.0, counter(t, h.metrics, "successes", "2"))
}

func TestWorkerSkipsSubmitWhenAlreadyRedeemed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.stub.set(true, nil)
	key := h.enqueue(t, 1, vaaLib.ChainIDEthereum)

	_, err := h.worker(vaaLib.ChainIDEthereum).Poll(ctx)
	require.NoError(t, err)

	p, err := h.queue.Get(ctx, queue.Working, key)
	require.NoError(t, err)
	assert.Equal(t, queue.Completed, p.Status)
	assert.Equal(t, 0, h.stub.submits)
}

func TestWorkerRetriesTransientErrorsWithBackoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.stub.set(false, errors.New("dial tcp: connection refused"))
	key := h.enqueue(t, 1, vaaLib.ChainIDEthereum)
	w := h.worker(vaaLib.ChainIDEthereum)

	processed, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	p, err := h.queue.Get(ctx, queue.Incoming, key)
	require.NoError(t, err)
	assert.Equal(t, queue.Error, p.Status)
	assert.Equal(t, 1, p.Retries)
	_, err = h.queue.Get(ctx, queue.Working, key)
	assert.ErrorIs(t, err, queue.ErrNotFound)
	assert.Equal(t, 1.0, counter(t, h.metrics, "failures", "2"))

	processed, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	h.clock.Advance(queue.Backoff(1) - time.Nanosecond)
	processed, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	h.stub.set(false, nil)
	h.clock.Advance(time.Nanosecond)
	processed, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	p, err = h.queue.Get(ctx, queue.Working, key)
	require.NoError(t, err)
	assert.Equal(t, queue.Completed, p.Status)
}

func TestWorkerUnsupportedChainIsFatal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := h.enqueue(t, 1, 99)
	w := h.worker(99)

	processed, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	p, err := h.queue.Get(ctx, queue.Working, key)
	require.NoError(t, err)
	assert.Equal(t, queue.FatalError, p.Status)
	assert.Equal(t, 1.0, counter(t, h.metrics, "failures", "99"))

	processed, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, h.stub.submits)
}

func TestWorkerIgnoresOtherChains(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, 1, vaaLib.ChainIDBSC)

	processed, err := h.worker(vaaLib.ChainIDEthereum).Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
}

type panickingRelayer struct{ backend.Relayer }

func (panickingRelayer) Relay(context.Context, backend.WorkerInfo, []byte, bool) backend.RelayResult {
	panic("boom")
}

func TestWorkerRecoversRelayerPanics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := h.enqueue(t, 1, vaaLib.ChainIDEthereum)

	info := backend.WorkerInfo{TargetChainID: vaaLib.ChainIDEthereum, Credential: "k1"}
	w := NewWorker(info, h.queue, panickingRelayer{h.relayer}, h.metrics, time.Millisecond, zap.NewNop())
	processed, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	p, err := h.queue.Get(ctx, queue.Incoming, key)
	require.NoError(t, err)
	assert.Equal(t, queue.Error, p.Status)
	assert.Equal(t, 1, p.Retries)
}

func (h *harness) completed(t *testing.T, seq uint64) queue.Key {
	t.Helper()
	ctx := context.Background()
	key := h.enqueue(t, seq, vaaLib.ChainIDEthereum)
	ok, err := h.queue.MoveToWorking(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = h.queue.RecordResult(ctx, key, queue.Completed)
	require.NoError(t, err)
	return key
}

func TestAuditorDetectsRollback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := h.completed(t, 1)
	h.clock.Advance(h.cfg.AuditGrace)

	require.NoError(t, h.auditor().Audit(ctx))

	assert.Equal(t, 1.0, counter(t, h.metrics, "rollback", "2"))
	p, err := h.queue.Get(ctx, queue.Incoming, key)
	require.NoError(t, err)
	assert.Equal(t, queue.Pending, p.Status)
	assert.Equal(t, 0, p.Retries)
	_, err = h.queue.Get(ctx, queue.Working, key)
	assert.ErrorIs(t, err, queue.ErrNotFound)
	assert.Equal(t, 0, h.stub.submits)
}

func TestAuditorConfirmsCompletedItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := h.completed(t, 1)
	h.stub.set(true, nil)

	a := h.auditor()
	require.NoError(t, a.Audit(ctx))
	_, err := h.queue.Get(ctx, queue.Working, key)
	require.NoError(t, err, "items inside the grace period are left alone")

	h.clock.Advance(h.cfg.AuditGrace)
	require.NoError(t, a.Audit(ctx))
	_, err = h.queue.Get(ctx, queue.Working, key)
	assert.ErrorIs(t, err, queue.ErrNotFound)
	assert.Equal(t, 1.0, counter(t, h.metrics, "confirmed_successes", "2"))
}

func TestAuditorLeavesItemsWhenChainIsUnreachable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := h.completed(t, 1)
	h.stub.set(false, errors.New("timeout"))
	h.clock.Advance(h.cfg.AuditGrace)

	require.NoError(t, h.auditor().Audit(ctx))
	p, err := h.queue.Get(ctx, queue.Working, key)
	require.NoError(t, err)
	assert.Equal(t, queue.Completed, p.Status)
	assert.Equal(t, 0.0, counter(t, h.metrics, "rollback", "2"))
}

func TestAuditorReconcilesStalePendingItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	redeemedKey := h.enqueue(t, 1, vaaLib.ChainIDEthereum)
	staleKey := h.enqueue(t, 2, vaaLib.ChainIDEthereum)
	for _, k := range []queue.Key{redeemedKey, staleKey} {
		ok, err := h.queue.MoveToWorking(ctx, k)
		require.NoError(t, err)
		require.True(t, ok)
	}
	h.clock.Advance(h.cfg.AuditGrace)

	// Only the first item is redeemed on chain.
	a := h.auditor()
	a.relayer = selectiveRelayer{redeemed: redeemedKey.Sequence}
	require.NoError(t, a.Audit(ctx))

	p, err := h.queue.Get(ctx, queue.Working, redeemedKey)
	require.NoError(t, err)
	assert.Equal(t, queue.Completed, p.Status)

	p, err = h.queue.Get(ctx, queue.Incoming, staleKey)
	require.NoError(t, err)
	assert.Equal(t, queue.Pending, p.Status)
}

type selectiveRelayer struct{ redeemed uint64 }

func (selectiveRelayer) TargetChain([]byte) (vaaLib.ChainID, error) {
	return vaaLib.ChainIDEthereum, nil
}

func (r selectiveRelayer) Relay(_ context.Context, _ backend.WorkerInfo, vaaBytes []byte, _ bool) backend.RelayResult {
	v, err := message.ParseVAA(vaaBytes)
	if err != nil || v.Sequence != r.redeemed {
		return backend.RelayResult{Status: queue.Pending}
	}
	return backend.RelayResult{Status: queue.Completed}
}

func TestAuditorDiscardsFatalItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := h.enqueue(t, 1, vaaLib.ChainIDEthereum)
	ok, err := h.queue.MoveToWorking(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = h.queue.RecordResult(ctx, key, queue.FatalError)
	require.NoError(t, err)
	h.clock.Advance(h.cfg.AuditGrace)

	require.NoError(t, h.auditor().Audit(ctx))
	_, err = h.queue.Get(ctx, queue.Working, key)
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestAuditorLeavesInFlightRedemptionAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.stub.entered = make(chan struct{})
	h.stub.release = make(chan struct{})
	key := h.enqueue(t, 1, vaaLib.ChainIDEthereum)

	// the item waited in INCOMING longer than the grace period before being claimed
	h.clock.Advance(h.cfg.AuditGrace + time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := h.worker(vaaLib.ChainIDEthereum).Poll(ctx)
		done <- err
	}()
	<-h.stub.entered

	require.NoError(t, h.auditor().Audit(ctx))
	p, err := h.queue.Get(ctx, queue.Working, key)
	require.NoError(t, err, "claimed item must stay in working while it is being redeemed")
	assert.Equal(t, queue.Pending, p.Status)

	processed, err := h.worker(vaaLib.ChainIDEthereum).Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	close(h.stub.release)
	require.NoError(t, <-done)

	p, err = h.queue.Get(ctx, queue.Working, key)
	require.NoError(t, err)
	assert.Equal(t, queue.Completed, p.Status)
	assert.Equal(t, 1, h.stub.submits)
}

func TestAuditorRequeuesStrandedFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := h.enqueue(t, 1, vaaLib.ChainIDEthereum)
	ok, err := h.queue.MoveToWorking(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	// the worker recorded the failure but never demoted the item
	_, err = h.queue.RecordResult(ctx, key, queue.Error)
	require.NoError(t, err)

	a := h.auditor()
	require.NoError(t, a.Audit(ctx))
	_, err = h.queue.Get(ctx, queue.Working, key)
	require.NoError(t, err, "items inside the grace period are left alone")

	h.clock.Advance(h.cfg.AuditGrace)
	require.NoError(t, a.Audit(ctx))
	_, err = h.queue.Get(ctx, queue.Working, key)
	assert.ErrorIs(t, err, queue.ErrNotFound)
	p, err := h.queue.Get(ctx, queue.Incoming, key)
	require.NoError(t, err)
	assert.Equal(t, queue.Error, p.Status)
	assert.Equal(t, 1, p.Retries)

	processed, err := h.worker(vaaLib.ChainIDEthereum).Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	p, err = h.queue.Get(ctx, queue.Working, key)
	require.NoError(t, err)
	assert.Equal(t, queue.Completed, p.Status)
}

func TestWorkers(t *testing.T) {
	cfg := config.Relayer{
		SupportedChains: []config.ChainConfigInfo{
			{ChainID: vaaLib.ChainIDEthereum, ChainName: "Ethereum"},
			{ChainID: vaaLib.ChainIDSolana, ChainName: "Solana"},
		},
		PrivateKeys: []config.PrivateKeys{
			{ChainID: vaaLib.ChainIDSolana, PrivateKeys: []string{"s1"}},
			{ChainID: vaaLib.ChainIDEthereum, PrivateKeys: []string{"e1", "e2"}},
		},
	}
	assert.Equal(t, []backend.WorkerInfo{
		{Index: 0, TargetChainID: vaaLib.ChainIDEthereum, TargetChainName: "Ethereum", Credential: "e1"},
		{Index: 1, TargetChainID: vaaLib.ChainIDEthereum, TargetChainName: "Ethereum", Credential: "e2"},
		{Index: 2, TargetChainID: vaaLib.ChainIDSolana, TargetChainName: "Solana", Credential: "s1"},
	}, Workers(cfg))
}

func TestPoolRunsUntilCancelled(t *testing.T) {
	h := newHarness(t)
	key := h.enqueue(t, 1, vaaLib.ChainIDEthereum)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewPool(h.cfg, h.queue, h.relayer, h.metrics, zap.NewNop()).Run(ctx) }()

	require.Eventually(t, func() bool {
		p, err := h.queue.Get(context.Background(), queue.Working, key)
		return err == nil && p.Status == queue.Completed
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.stub.submits)
}

func TestPrepareDemotesWorkingItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := h.completed(t, 1)

	cfg := h.cfg
	cfg.DemoteWorkingOnInit = true
	require.NoError(t, NewPool(cfg, h.queue, h.relayer, h.metrics, zap.NewNop()).Prepare(ctx))
	_, err := h.queue.Get(ctx, queue.Incoming, key)
	require.NoError(t, err)

	cfg.ClearOnInit = true
	require.NoError(t, NewPool(cfg, h.queue, h.relayer, h.metrics, zap.NewNop()).Prepare(ctx))
	_, err = h.queue.Get(ctx, queue.Incoming, key)
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestSuperviseRestartsCrashedTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	runs := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		Supervise(ctx, zap.NewNop(), "flaky", time.Millisecond, func(ctx context.Context) error {
			mu.Lock()
			runs++
			n := runs
			mu.Unlock()
			switch n {
			case 1:
				panic("first run crashes")
			case 2:
				return errors.New("second run fails")
			default:
				<-ctx.Done()
				return ctx.Err()
			}
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs == 3
	}, 5*time.Second, time.Millisecond)
	cancel()
	<-done
}
