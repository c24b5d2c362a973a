package auth

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "assetmech/core/errors"
	"assetmech/native/access"
)

// SignerPolicy decides whether a recovered signer may authorize operations.
type SignerPolicy interface {
	Authorized(signer common.Address) (bool, error)
}

// SignerPolicyFunc adapts a function to SignerPolicy.
type SignerPolicyFunc func(common.Address) (bool, error)

// Authorized implements SignerPolicy.
func (f SignerPolicyFunc) Authorized(signer common.Address) (bool, error) { return f(signer) }

// RoleView answers role membership queries.
type RoleView interface {
	Has(scope common.Address, role access.Role, account common.Address) (bool, error)
}

// RoleSigners accepts any signer holding role within scope.
func RoleSigners(roles RoleView, scope common.Address, role access.Role) SignerPolicy {
	return SignerPolicyFunc(func(signer common.Address) (bool, error) {
		return roles.Has(scope, role, signer)
	})
}

// FixedSigner accepts exactly one signer.
func FixedSigner(expected common.Address) SignerPolicy {
	return SignerPolicyFunc(func(signer common.Address) (bool, error) {
		return signer == expected, nil
	})
}

// Verifier runs the authorization checks for one verifying contract. It must
// be invoked inside the atomic frame of the operation it authorizes, so a
// failing operation releases the nonce again.
type Verifier struct {
	domain Domain
	nonces *NonceTable
	policy SignerPolicy
	nowFn  func() int64
}

// NewVerifier creates a verifier for domain.
func NewVerifier(domain Domain, nonces *NonceTable, policy SignerPolicy) *Verifier {
	return &Verifier{domain: domain, nonces: nonces, policy: policy, nowFn: func() int64 { return time.Now().Unix() }}
}

// SetNowFunc overrides the time source used for expiry checks.
func (v *Verifier) SetNowFunc(now func() int64) {
	if now == nil {
		v.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	v.nowFn = now
}

// Domain returns the signing domain.
func (v *Verifier) Domain() Domain { return v.domain }

// Nonces returns the nonce table backing the verifier.
func (v *Verifier) Nonces() *NonceTable { return v.nonces }

// Authorize checks expiry, then nonce freshness, then the signature, and
// finally consumes the nonce. It returns the recovered signer.
func (v *Verifier) Authorize(nonce [32]byte, expiresAt uint64, msg Message, signature []byte) (common.Address, error) {
	if expiresAt != 0 && uint64(v.nowFn()) > expiresAt {
		return common.Address{}, coreerrors.ErrOrderExpired
	}
	used, err := v.nonces.Used(nonce)
	if err != nil {
		return common.Address{}, err
	}
	if used {
		return common.Address{}, fmt.Errorf("%w: %x", coreerrors.ErrNonceReused, nonce)
	}
	signer, err := Recover(v.domain, msg, signature)
	if err != nil {
		return common.Address{}, err
	}
	ok, err := v.policy.Authorized(signer)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, fmt.Errorf("%w: signer %s not authorized", coreerrors.ErrInvalidSignature, signer.Hex())
	}
	if err := v.nonces.Consume(nonce); err != nil {
		return common.Address{}, err
	}
	return signer, nil
}

// AuthorizeOrder is Authorize for messages carrying an Order.
func (v *Verifier) AuthorizeOrder(order Order, msg Message, signature []byte) (common.Address, error) {
	return v.Authorize(order.Nonce, order.ExpiresAt, msg, signature)
}
