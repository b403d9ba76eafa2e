package wire

import (
	"encoding/json"
	"fmt"

	"proofnet/internal/types"
)

// TxType is the leading byte of a ledger transaction.
type TxType byte

const (
	TxTypeSigningRequest    TxType = 0x01
	TxTypeAuthoritiesChange TxType = 0x02
)

// SigningRequestTx is emitted by on-chain logic to ask for a proof.
type SigningRequestTx struct {
	RequestID uint64        `json:"request_id"`
	ChainID   types.ChainID `json:"chain_id"`
	Payload   []byte        `json:"payload"`
}

// AuthoritiesChangeTx rotates the validator set.
type AuthoritiesChangeTx struct {
	Set types.ValidatorSet `json:"set"`
}

// EncodeTx prepends the type byte to the JSON body of v.
func EncodeTx(t TxType, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tx: %w", err)
	}
	return append([]byte{byte(t)}, payload...), nil
}

// DecodeTx splits a raw ledger transaction into its type and decoded body.
func DecodeTx(tx []byte) (TxType, any, error) {
	if len(tx) < 1 {
		return 0, nil, fmt.Errorf("%w: empty transaction", ErrMalformed)
	}
	t := TxType(tx[0])
	payload := tx[1:]
	switch t {
	case TxTypeSigningRequest:
		var req SigningRequestTx
		if err := json.Unmarshal(payload, &req); err != nil {
			return t, nil, fmt.Errorf("%w: signing request: %v", ErrMalformed, err)
		}
		if !req.ChainID.Valid() {
			return t, nil, fmt.Errorf("%w: unknown chain id %d", ErrMalformed, req.ChainID)
		}
		if len(req.Payload) == 0 {
			return t, nil, fmt.Errorf("%w: empty payload", ErrMalformed)
		}
		return t, &req, nil
	case TxTypeAuthoritiesChange:
		var change AuthoritiesChangeTx
		if err := json.Unmarshal(payload, &change); err != nil {
			return t, nil, fmt.Errorf("%w: authorities change: %v", ErrMalformed, err)
		}
		if err := change.Set.Validate(); err != nil {
			return t, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return t, &change, nil
	default:
		return t, nil, fmt.Errorf("%w: unknown transaction type %d", ErrMalformed, t)
	}
}
