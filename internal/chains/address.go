package chains

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

const terraHRP = "terra"

// terraNativeMarker prefixes the 32-byte encoding of Terra native denoms (uluna, uusd...).
const terraNativeMarker = 0x01

// NativeToAddress encodes a human-readable address of the given chain into the 32-byte
// Wormhole representation used for emitters and token origins.
func NativeToAddress(chain vaaLib.ChainID, human string) (vaaLib.Address, error) {
	human = strings.TrimSpace(human)
	if human == "" {
		return vaaLib.Address{}, fmt.Errorf("empty address for chain %d", chain)
	}

	switch FamilyOf(chain) {
	case FamilyEVM:
		if !common.IsHexAddress(human) {
			return vaaLib.Address{}, fmt.Errorf("invalid EVM address %q", human)
		}
		return vaaLib.BytesToAddress(common.HexToAddress(human).Bytes())
	case FamilyAztec:
		return vaaLib.StringToAddress(human)
	case FamilySolana:
		key, err := solana.PublicKeyFromBase58(human)
		if err != nil {
			return vaaLib.Address{}, fmt.Errorf("invalid solana address %q: %w", human, err)
		}
		return vaaLib.Address(key), nil
	case FamilyTerra:
		if !strings.HasPrefix(human, terraHRP+"1") {
			return terraDenomToAddress(human)
		}
		_, data, err := bech32.Decode(human)
		if err != nil {
			return vaaLib.Address{}, fmt.Errorf("invalid terra address %q: %w", human, err)
		}
		raw, err := bech32.ConvertBits(data, 5, 8, false)
		if err != nil {
			return vaaLib.Address{}, fmt.Errorf("invalid terra address %q: %w", human, err)
		}
		return vaaLib.BytesToAddress(raw)
	default:
		return vaaLib.Address{}, fmt.Errorf("no address encoding for chain %d", chain)
	}
}

// AddressToNative converts a 32-byte Wormhole address back into the chain's human-readable form.
func AddressToNative(chain vaaLib.ChainID, addr vaaLib.Address) (string, error) {
	switch FamilyOf(chain) {
	case FamilyEVM:
		return common.BytesToAddress(addr[12:]).Hex(), nil
	case FamilyAztec:
		return "0x" + hex.EncodeToString(addr[:]), nil
	case FamilySolana:
		return solana.PublicKeyFromBytes(addr[:]).String(), nil
	case FamilyTerra:
		if addr[0] == terraNativeMarker {
			denom := bytes.TrimLeft(addr[1:], "\x00")
			if len(denom) == 0 {
				return "", fmt.Errorf("empty terra native denom")
			}
			return string(denom), nil
		}
		data, err := bech32.ConvertBits(addr[12:], 8, 5, true)
		if err != nil {
			return "", err
		}
		return bech32.Encode(terraHRP, data)
	default:
		return "", fmt.Errorf("no address encoding for chain %d", chain)
	}
}

func terraDenomToAddress(denom string) (vaaLib.Address, error) {
	var addr vaaLib.Address
	if len(denom) > 31 {
		return addr, fmt.Errorf("terra denom %q too long", denom)
	}
	addr[0] = terraNativeMarker
	copy(addr[32-len(denom):], denom)
	return addr, nil
}
