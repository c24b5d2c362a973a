package auth

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "assetmech/core/errors"
)

var errNilState = errors.New("auth: state not configured")

type nonceState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// NonceTable records consumed nonces for one verifying contract.
type NonceTable struct {
	state nonceState
	scope common.Address
}

// NewNonceTable binds a nonce table to scope.
func NewNonceTable(state nonceState, scope common.Address) *NonceTable {
	return &NonceTable{state: state, scope: scope}
}

func (t *NonceTable) key(nonce [32]byte) []byte {
	k := make([]byte, 0, len("auth/nonce/")+20+32)
	k = append(k, "auth/nonce/"...)
	k = append(k, t.scope.Bytes()...)
	return append(k, nonce[:]...)
}

// Used reports whether nonce was consumed.
func (t *NonceTable) Used(nonce [32]byte) (bool, error) {
	if t == nil || t.state == nil {
		return false, errNilState
	}
	var used bool
	if _, err := t.state.KVGet(t.key(nonce), &used); err != nil {
		return false, err
	}
	return used, nil
}

// Consume marks nonce used, failing with NonceReused if it already was.
func (t *NonceTable) Consume(nonce [32]byte) error {
	used, err := t.Used(nonce)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: %x", coreerrors.ErrNonceReused, nonce)
	}
	return t.state.KVPut(t.key(nonce), true)
}
