package message

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

// PayloadTypeTransfer is the token bridge payload type the relayer handles.
const PayloadTypeTransfer uint8 = 1

const (
	transferHeaderLen = 101
	transferLen       = 133
)

var (
	ErrPayloadTooShort = errors.New("transfer payload too short")
	ErrAmountOverflow  = errors.New("value does not fit in 32 bytes")
)

// Transfer is a decoded token bridge transfer payload:
//
//	type(1) amount(32) originAddress(32) originChain(2) targetAddress(32) targetChain(2) fee(32)
type Transfer struct {
	PayloadType   uint8
	Amount        *big.Int
	OriginAddress vaaLib.Address
	OriginChain   vaaLib.ChainID
	TargetAddress vaaLib.Address
	TargetChain   vaaLib.ChainID
	// Fee is nil when the payload carries no fee field.
	Fee *big.Int
}

// ParseTransfer decodes a transfer payload including its leading type byte.
func ParseTransfer(payload []byte) (*Transfer, error) {
	if len(payload) < transferHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooShort, len(payload))
	}
	if len(payload) > transferHeaderLen && len(payload) < transferLen {
		return nil, fmt.Errorf("truncated fee field: %d bytes", len(payload))
	}

	t := &Transfer{
		PayloadType: payload[0],
		Amount:      new(big.Int).SetBytes(payload[1:33]),
		OriginChain: vaaLib.ChainID(binary.BigEndian.Uint16(payload[65:67])),
		TargetChain: vaaLib.ChainID(binary.BigEndian.Uint16(payload[99:101])),
	}
	copy(t.OriginAddress[:], payload[33:65])
	copy(t.TargetAddress[:], payload[67:99])

	if len(payload) >= transferLen {
		t.Fee = new(big.Int).SetBytes(payload[101:133])
	}
	return t, nil
}

// Encode returns the wire form of the transfer; the fee field is omitted when Fee is nil.
func (t *Transfer) Encode() ([]byte, error) {
	size := transferHeaderLen
	if t.Fee != nil {
		size = transferLen
	}
	buf := make([]byte, size)
	buf[0] = t.PayloadType
	if err := putUint256(buf[1:33], t.Amount); err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	copy(buf[33:65], t.OriginAddress[:])
	binary.BigEndian.PutUint16(buf[65:67], uint16(t.OriginChain))
	copy(buf[67:99], t.TargetAddress[:])
	binary.BigEndian.PutUint16(buf[99:101], uint16(t.TargetChain))
	if t.Fee != nil {
		if err := putUint256(buf[101:133], t.Fee); err != nil {
			return nil, fmt.Errorf("fee: %w", err)
		}
	}
	return buf, nil
}

// HasFee reports whether the transfer carries a strictly positive relay fee.
func (t *Transfer) HasFee() bool {
	return t.Fee != nil && t.Fee.Sign() > 0
}

func putUint256(dst []byte, v *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 || v.BitLen() > 256 {
		return ErrAmountOverflow
	}
	v.FillBytes(dst)
	return nil
}

// LogTransfer logs the decoded transfer at debug level.
func LogTransfer(logger *zap.Logger, t *Transfer) {
	fee := "none"
	if t.Fee != nil {
		fee = t.Fee.String()
	}
	logger.Debug("Transfer payload parsed",
		zap.Uint8("payloadType", t.PayloadType),
		zap.String("amount", t.Amount.String()),
		zap.Stringer("originChain", t.OriginChain),
		zap.String("originAddress", hex.EncodeToString(t.OriginAddress[:])),
		zap.Stringer("targetChain", t.TargetChain),
		zap.String("targetAddress", hex.EncodeToString(t.TargetAddress[:])),
		zap.String("fee", fee),
	)
}
