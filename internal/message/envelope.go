package message

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

const (
	headerLen        = 6
	signatureLen     = 66
	bodyHeaderLen    = 51
	emitterOffset    = 10
	sequenceOffset   = 42
	consistencyIndex = 50
)

// ParseVAA parses a v1 signed VAA. Signatures are not verified here,
// the destination contracts do that on redemption. v2 is the batch format and is rejected.
//
//	0: version
//	1-4: guardian set index
//	5: signature count
//	6+: signatures (66 bytes each: guardian index + signature)
//	body: timestamp(4) nonce(4) emitter chain(2) emitter address(32) sequence(8) consistency(1) payload
func ParseVAA(data []byte) (*vaaLib.VAA, error) {
	body, err := splitBody(data)
	if err != nil {
		return nil, err
	}

	signatureCount := int(data[5])
	signatures := make([]*vaaLib.Signature, signatureCount)
	for i := 0; i < signatureCount; i++ {
		sigStart := headerLen + i*signatureLen
		var sig [65]byte
		copy(sig[:], data[sigStart+1:sigStart+signatureLen])
		signatures[i] = &vaaLib.Signature{
			Index:     data[sigStart],
			Signature: sig,
		}
	}

	var emitterAddress vaaLib.Address
	copy(emitterAddress[:], body[emitterOffset:sequenceOffset])

	return &vaaLib.VAA{
		Version:          data[0],
		GuardianSetIndex: binary.BigEndian.Uint32(data[1:5]),
		Signatures:       signatures,
		Timestamp:        time.Unix(int64(binary.BigEndian.Uint32(body[0:4])), 0),
		Nonce:            binary.BigEndian.Uint32(body[4:8]),
		Sequence:         binary.BigEndian.Uint64(body[sequenceOffset:consistencyIndex]),
		ConsistencyLevel: body[consistencyIndex],
		EmitterChain:     vaaLib.ChainID(binary.BigEndian.Uint16(body[8:10])),
		EmitterAddress:   emitterAddress,
		Payload:          body[bodyHeaderLen:],
	}, nil
}

// Digest returns keccak256(keccak256(body)), the hash token bridges key completed transfers by.
func Digest(data []byte) (common.Hash, error) {
	body, err := splitBody(data)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(crypto.Keccak256(body)), nil
}

// BodyHash returns the single keccak256 of the body, used to derive posted-VAA accounts on Solana.
func BodyHash(data []byte) (common.Hash, error) {
	body, err := splitBody(data)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(body), nil
}

func splitBody(data []byte) ([]byte, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("VAA too short: %d bytes", len(data))
	}

	version := data[0]
	if version != vaaLib.SupportedVAAVersion {
		return nil, fmt.Errorf("unsupported VAA version: %d", version)
	}

	signaturesEnd := headerLen + int(data[5])*signatureLen
	if len(data) < signaturesEnd {
		return nil, fmt.Errorf("VAA too short for %d signatures", data[5])
	}

	body := data[signaturesEnd:]
	if len(body) < bodyHeaderLen {
		return nil, fmt.Errorf("VAA body too short: %d bytes", len(body))
	}
	return body, nil
}

// LogVAA logs the envelope fields of a VAA at debug level.
func LogVAA(logger *zap.Logger, v *vaaLib.VAA, rawBytes []byte) {
	logger.Debug("VAA details",
		zap.Uint8("version", v.Version),
		zap.Uint32("guardianSetIndex", v.GuardianSetIndex),
		zap.Int("signatureCount", len(v.Signatures)),
		zap.Time("timestamp", v.Timestamp),
		zap.Uint32("nonce", v.Nonce),
		zap.Uint64("sequence", v.Sequence),
		zap.Uint8("consistencyLevel", v.ConsistencyLevel),
		zap.Stringer("emitterChain", v.EmitterChain),
		zap.String("emitterAddress", hex.EncodeToString(v.EmitterAddress[:])),
		zap.Int("payloadLength", len(v.Payload)),
		zap.Int("rawBytesLength", len(rawBytes)),
	)
}
