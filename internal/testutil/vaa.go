// Package testutil builds signed-message fixtures for package tests.
package testutil

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/wormhole-foundation/wormhole-sub007/internal/message"
)

// Transfer returns a fee-carrying transfer from originChain to targetChain.
func Transfer(originChain, targetChain vaaLib.ChainID, origin vaaLib.Address, fee int64) *message.Transfer {
	var target vaaLib.Address
	target[31] = 0x42
	return &message.Transfer{
		PayloadType:   message.PayloadTypeTransfer,
		Amount:        big.NewInt(1_000_000),
		OriginAddress: origin,
		OriginChain:   originChain,
		TargetAddress: target,
		TargetChain:   targetChain,
		Fee:           big.NewInt(fee),
	}
}

// VAA wraps payload in an unsigned v1 envelope from the given emitter.
func VAA(t testing.TB, emitterChain vaaLib.ChainID, emitter vaaLib.Address, sequence uint64, payload []byte) []byte {
	t.Helper()
	v := &vaaLib.VAA{
		Version:          vaaLib.SupportedVAAVersion,
		GuardianSetIndex: 4,
		Timestamp:        time.Unix(1_700_000_000, 0),
		Nonce:            7,
		Sequence:         sequence,
		ConsistencyLevel: 1,
		EmitterChain:     emitterChain,
		EmitterAddress:   emitter,
		Payload:          payload,
	}
	raw, err := v.Marshal()
	require.NoError(t, err)
	return raw
}

// TransferVAA encodes tr and wraps it with VAA.
func TransferVAA(t testing.TB, emitterChain vaaLib.ChainID, emitter vaaLib.Address, sequence uint64, tr *message.Transfer) []byte {
	t.Helper()
	payload, err := tr.Encode()
	require.NoError(t, err)
	return VAA(t, emitterChain, emitter, sequence, payload)
}

// Emitter returns a deterministic emitter address ending in b.
func Emitter(b byte) vaaLib.Address {
	var a vaaLib.Address
	a[31] = b
	return a
}
