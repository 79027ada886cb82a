package redeemer

import (
	"errors"
	"fmt"
	"sync"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wormhole-foundation/wormhole-sub007/internal/chains"
	"github.com/wormhole-foundation/wormhole-sub007/internal/config"
)

var ErrUnsupportedFamily = errors.New("no redeemer for chain family")

// Factory builds a Redeemer for a chain and one of its credentials.
type Factory func(chain config.ChainConfigInfo, credential string, logger *zap.Logger) (Redeemer, error)

type instanceKey struct {
	chain      vaaLib.ChainID
	credential string
}

func (k instanceKey) String() string {
	return fmt.Sprintf("%d/%s", uint16(k.chain), k.credential)
}

// Registry maps chain families to redeemer factories and caches one instance per
// chain and credential. Factories run outside the lock, at most once per key at a time.
type Registry struct {
	logger *zap.Logger
	group  singleflight.Group

	mu        sync.Mutex
	factories map[chains.Family]Factory
	instances map[instanceKey]Redeemer
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:    logger,
		factories: make(map[chains.Family]Factory),
		instances: make(map[instanceKey]Redeemer),
	}
}

// DefaultRegistry returns a registry with the EVM, Solana and Aztec redeemers.
func DefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(chains.FamilyEVM, NewEVMRedeemer)
	r.Register(chains.FamilySolana, NewSolanaRedeemer)
	r.Register(chains.FamilyAztec, NewAztecRedeemer)
	return r
}

// Register sets the factory of a family, replacing any previous one.
func (r *Registry) Register(family chains.Family, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[family] = f
}

// Get returns the redeemer for chain and credential, building it on first use.
func (r *Registry) Get(chain config.ChainConfigInfo, credential string) (Redeemer, error) {
	key := instanceKey{chain: chain.ChainID, credential: credential}
	family := chain.ResolvedFamily()

	r.mu.Lock()
	inst, cached := r.instances[key]
	f, ok := r.factories[family]
	r.mu.Unlock()
	if cached {
		return inst, nil
	}
	if !ok {
		return nil, fmt.Errorf("%w %q (chain %d)", ErrUnsupportedFamily, family, chain.ChainID)
	}

	v, err, _ := r.group.Do(key.String(), func() (interface{}, error) {
		r.mu.Lock()
		inst, cached := r.instances[key]
		r.mu.Unlock()
		if cached {
			return inst, nil
		}

		inst, err := f(chain, credential, r.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redeemer for chain %d: %w", chain.ChainID, err)
		}
		r.mu.Lock()
		r.instances[key] = inst
		r.mu.Unlock()
		return inst, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Redeemer), nil
}

// Close releases every cached redeemer that holds a connection.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, inst := range r.instances {
		if c, ok := inst.(interface{ Close() }); ok {
			c.Close()
		}
		delete(r.instances, key)
	}
}
