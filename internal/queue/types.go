package queue

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// Table selects one of the two queue partitions. The value doubles as the redis DB index.
type Table int

const (
	Incoming Table = 0
	Working  Table = 1
)

func (t Table) String() string {
	switch t {
	case Incoming:
		return "incoming"
	case Working:
		return "working"
	default:
		return fmt.Sprintf("table(%d)", int(t))
	}
}

// Status is the processing state of a queued VAA.
type Status int

const (
	Pending    Status = 0
	Completed  Status = 1
	Error      Status = 2
	FatalError Status = 3
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Error:
		return "error"
	case FatalError:
		return "fatal"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Key identifies a VAA by emitter chain, emitter address and sequence.
type Key struct {
	EmitterChain   vaaLib.ChainID
	EmitterAddress string
	Sequence       uint64
}

// KeyFor returns the queue key of a parsed VAA.
func KeyFor(v *vaaLib.VAA) Key {
	return Key{
		EmitterChain:   v.EmitterChain,
		EmitterAddress: hex.EncodeToString(v.EmitterAddress[:]),
		Sequence:       v.Sequence,
	}
}

// String returns the canonical store key "chain/emitter/sequence".
func (k Key) String() string {
	return fmt.Sprintf("%d/%s/%d", uint16(k.EmitterChain), k.EmitterAddress, k.Sequence)
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("malformed queue key %q", s)
	}
	chain, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return Key{}, fmt.Errorf("malformed chain in queue key %q: %w", s, err)
	}
	if _, err := hex.DecodeString(parts[1]); err != nil || len(parts[1]) != 64 {
		return Key{}, fmt.Errorf("malformed emitter in queue key %q", s)
	}
	seq, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("malformed sequence in queue key %q: %w", s, err)
	}
	return Key{
		EmitterChain:   vaaLib.ChainID(chain),
		EmitterAddress: parts[1],
		Sequence:       seq,
	}, nil
}

// Payload is the record stored under a Key.
type Payload struct {
	VAABytes  string    `json:"vaa_bytes"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Retries   int       `json:"retries"`
}

// NewPayload returns a fresh Pending payload for vaaBytes.
func NewPayload(vaaBytes []byte, now time.Time) Payload {
	return Payload{
		VAABytes:  hex.EncodeToString(vaaBytes),
		Status:    Pending,
		Timestamp: now,
	}
}

// VAA decodes the stored hex bytes.
func (p Payload) VAA() ([]byte, error) {
	return hex.DecodeString(p.VAABytes)
}

func (p Payload) encode() ([]byte, error) {
	return json.Marshal(p)
}

func decodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("corrupt queue payload: %w", err)
	}
	return p, nil
}

// Item is a key and its decoded payload as returned by scans.
type Item struct {
	Key     Key
	Payload Payload
}

// Depth is the number of entries in a table for one source/target chain pair.
type Depth struct {
	Table       Table
	SourceChain vaaLib.ChainID
	TargetChain vaaLib.ChainID
	Count       int
}
