// Package backend bundles the relay policy: which VAAs the listener accepts and how the
// relayer redeems them.
package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-foundation/wormhole-sub007/internal/clients"
	"github.com/wormhole-foundation/wormhole-sub007/internal/config"
	"github.com/wormhole-foundation/wormhole-sub007/internal/listener"
	"github.com/wormhole-foundation/wormhole-sub007/internal/queue"
	"github.com/wormhole-foundation/wormhole-sub007/internal/redeemer"
)

// DefaultName is the token bridge backend.
const DefaultName = "default"

// Listener decides which observed VAAs are queued.
type Listener interface {
	Validate(raw []byte) (*listener.Accepted, error)
	EmitterFilters() ([]clients.EmitterFilter, error)
}

// WorkerInfo identifies one worker: a destination chain and one of its credentials.
type WorkerInfo struct {
	Index           int
	TargetChainID   vaaLib.ChainID
	TargetChainName string
	Credential      string
}

// RelayResult is the queue status a relay attempt maps to.
//
// With checkOnly, Completed means the VAA is redeemed on chain and Pending means the chain
// reports it is not. Error is always a failure to find out or to redeem.
type RelayResult struct {
	Status queue.Status
	Result string
}

// Relayer redeems queued VAAs on their destination chain.
type Relayer interface {
	TargetChain(vaaBytes []byte) (vaaLib.ChainID, error)
	Relay(ctx context.Context, info WorkerInfo, vaaBytes []byte, checkOnly bool) RelayResult
}

// Backend is a Listener and Relayer pair.
type Backend struct {
	Listener Listener
	Relayer  Relayer
}

// Deps are the shared components a Factory may use.
type Deps struct {
	Config    *config.Config
	Redeemers *redeemer.Registry
	Logger    *zap.Logger
}

// Factory builds a backend.
type Factory func(deps Deps) (*Backend, error)

// Registry resolves backends by name. Each name is built at most once.
type Registry struct {
	deps Deps

	mu        sync.Mutex
	factories map[string]Factory
	resolved  map[string]*Backend
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:      deps,
		factories: make(map[string]Factory),
		resolved:  make(map[string]*Backend),
	}
}

// DefaultRegistry returns a registry with the token bridge backend registered as DefaultName.
func DefaultRegistry(deps Deps) *Registry {
	r := NewRegistry(deps)
	r.Register(DefaultName, NewTokenBridge)
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Resolve returns the backend registered as name, building it on first use.
func (r *Registry) Resolve(name string) (*Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.resolved[name]; ok {
		return b, nil
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (registered: %v)", name, r.namesLocked())
	}
	b, err := f(r.deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend %q: %w", name, err)
	}
	r.resolved[name] = b
	return b, nil
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
