package chains

import (
	"fmt"
	"strings"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// ChainIDAztec is the Wormhole chain ID used for Aztec deployments.
const ChainIDAztec vaaLib.ChainID = 56

// Family groups chains that share an address encoding and a redemption flow.
type Family string

const (
	FamilyUnknown Family = ""
	FamilyEVM     Family = "evm"
	FamilySolana  Family = "solana"
	FamilyTerra   Family = "terra"
	FamilyAztec   Family = "aztec"
)

var evmChains = map[vaaLib.ChainID]struct{}{
	vaaLib.ChainIDEthereum:        {},
	vaaLib.ChainIDBSC:             {},
	vaaLib.ChainIDPolygon:         {},
	vaaLib.ChainIDAvalanche:       {},
	vaaLib.ChainIDOasis:           {},
	vaaLib.ChainIDAurora:          {},
	vaaLib.ChainIDFantom:          {},
	vaaLib.ChainIDKarura:          {},
	vaaLib.ChainIDAcala:           {},
	vaaLib.ChainIDKlaytn:          {},
	vaaLib.ChainIDCelo:            {},
	vaaLib.ChainIDMoonbeam:        {},
	vaaLib.ChainIDArbitrum:        {},
	vaaLib.ChainIDOptimism:        {},
	vaaLib.ChainIDGnosis:          {},
	vaaLib.ChainIDBase:            {},
	vaaLib.ChainIDScroll:          {},
	vaaLib.ChainIDMantle:          {},
	vaaLib.ChainIDBlast:           {},
	vaaLib.ChainIDLinea:           {},
	vaaLib.ChainIDSepolia:         {},
	vaaLib.ChainIDArbitrumSepolia: {},
	vaaLib.ChainIDBaseSepolia:     {},
	vaaLib.ChainIDOptimismSepolia: {},
	vaaLib.ChainIDHolesky:         {},
}

// FamilyOf returns the family a chain belongs to, or FamilyUnknown.
func FamilyOf(id vaaLib.ChainID) Family {
	switch id {
	case vaaLib.ChainIDSolana:
		return FamilySolana
	case vaaLib.ChainIDTerra, vaaLib.ChainIDTerra2:
		return FamilyTerra
	case ChainIDAztec:
		return FamilyAztec
	}
	if _, ok := evmChains[id]; ok {
		return FamilyEVM
	}
	return FamilyUnknown
}

// IsEVMChain reports whether the chain uses EVM addressing and transactions.
func IsEVMChain(id vaaLib.ChainID) bool {
	return FamilyOf(id) == FamilyEVM
}

// ParseFamily parses a configured family name. The empty string means "derive from chain ID".
func ParseFamily(s string) (Family, error) {
	switch f := Family(strings.ToLower(strings.TrimSpace(s))); f {
	case FamilyUnknown, FamilyEVM, FamilySolana, FamilyTerra, FamilyAztec:
		return f, nil
	default:
		return FamilyUnknown, fmt.Errorf("unknown chain family %q", s)
	}
}

// Resolve returns override when set, otherwise the family derived from the chain ID.
func Resolve(id vaaLib.ChainID, override Family) Family {
	if override != FamilyUnknown {
		return override
	}
	return FamilyOf(id)
}
