package listener

import (
	"errors"
	"fmt"
	"strings"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-foundation/wormhole-sub007/internal/chains"
	"github.com/wormhole-foundation/wormhole-sub007/internal/clients"
	"github.com/wormhole-foundation/wormhole-sub007/internal/config"
	"github.com/wormhole-foundation/wormhole-sub007/internal/message"
	"github.com/wormhole-foundation/wormhole-sub007/internal/queue"
)

// ErrRejected is matched by every validation rejection.
var ErrRejected = errors.New("VAA rejected")

const (
	ReasonParse            = "parse failure"
	ReasonPayloadType      = "wrong payload type"
	ReasonPayloadParse     = "payload parsing failure"
	ReasonOriginConversion = "origin address conversion failure"
	ReasonTokenNotApproved = "not an approved token"
	ReasonNoRelayFee       = "no relay fee"
)

// RejectedError describes why a VAA is not relayed.
type RejectedError struct {
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrRejected, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrRejected, e.Reason)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

func (e *RejectedError) Unwrap() error { return e.Err }

func reject(reason string, err error) error {
	return &RejectedError{Reason: reason, Err: err}
}

// Accepted is a VAA that passed validation.
type Accepted struct {
	Raw      []byte
	VAA      *vaaLib.VAA
	Transfer *message.Transfer
	Key      queue.Key
}

// Validator decides which token bridge transfers are relayed.
type Validator struct {
	tokens  map[vaaLib.ChainID]map[string]struct{}
	filters []config.EmitterFilter
	logger  *zap.Logger
}

func NewValidator(tokens []config.SupportedToken, filters []config.EmitterFilter, logger *zap.Logger) *Validator {
	allow := make(map[vaaLib.ChainID]map[string]struct{})
	for _, t := range tokens {
		if allow[t.ChainID] == nil {
			allow[t.ChainID] = make(map[string]struct{})
		}
		allow[t.ChainID][strings.ToLower(t.Address)] = struct{}{}
	}
	return &Validator{
		tokens:  allow,
		filters: filters,
		logger:  logger.With(zap.String("component", "Validator")),
	}
}

// Validate parses raw and accepts it only if it is a transfer of an approved token that pays a relay fee.
func (v *Validator) Validate(raw []byte) (*Accepted, error) {
	parsed, err := message.ParseVAA(raw)
	if err != nil {
		return nil, reject(ReasonParse, err)
	}
	if len(parsed.Payload) == 0 || parsed.Payload[0] != message.PayloadTypeTransfer {
		return nil, reject(ReasonPayloadType, nil)
	}
	tr, err := message.ParseTransfer(parsed.Payload)
	if err != nil {
		return nil, reject(ReasonPayloadParse, err)
	}

	origin, err := chains.AddressToNative(tr.OriginChain, tr.OriginAddress)
	if err != nil {
		return nil, reject(ReasonOriginConversion, err)
	}
	if !v.approved(tr.OriginChain, origin) {
		v.logger.Debug("Token not approved",
			zap.Stringer("originChain", tr.OriginChain), zap.String("originAddress", origin))
		return nil, reject(ReasonTokenNotApproved, nil)
	}
	if !tr.HasFee() {
		return nil, reject(ReasonNoRelayFee, nil)
	}

	return &Accepted{
		Raw:      raw,
		VAA:      parsed,
		Transfer: tr,
		Key:      queue.KeyFor(parsed),
	}, nil
}

func (v *Validator) approved(chain vaaLib.ChainID, address string) bool {
	_, ok := v.tokens[chain][strings.ToLower(address)]
	return ok
}

// EmitterFilters converts the configured emitters into spy subscription filters.
func (v *Validator) EmitterFilters() ([]clients.EmitterFilter, error) {
	out := make([]clients.EmitterFilter, 0, len(v.filters))
	for _, f := range v.filters {
		addr, err := chains.NativeToAddress(f.ChainID, f.EmitterAddress)
		if err != nil {
			return nil, fmt.Errorf("invalid emitter address for chain %d: %w", f.ChainID, err)
		}
		out = append(out, clients.EmitterFilter{ChainID: f.ChainID, EmitterAddress: addr})
	}
	return out, nil
}
