package auth

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	coreerrors "assetmech/core/errors"
	"assetmech/core/state"
	"assetmech/native/access"
	"assetmech/native/asset"
	"assetmech/storage"
)

var (
	verifying = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	account   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	token     = common.HexToAddress("0x00000000000000000000000000000000000000e2")
)

func mustKey(t testing.TB, seed byte) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ethcrypto.ToECDSA(bytes.Repeat([]byte{seed}, 32))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	return key
}

func testDomain() Domain {
	return Domain{Name: "Exchange", Version: "1.0.0", ChainID: big.NewInt(10000), VerifyingContract: verifying}
}

func purchaseMessage(order Order) Message {
	return Message{
		PrimaryType: "EIP712",
		Types: apitypes.Types{
			"EIP712": {
				{Name: "account", Type: "address"},
				{Name: "params", Type: "Params"},
				{Name: "item", Type: "Asset"},
				{Name: "price", Type: "Asset[]"},
			},
			"Params": ParamsType,
			"Asset":  AssetType,
		},
		Value: apitypes.TypedDataMessage{
			"account": account.Hex(),
			"params":  order.Value(),
			"item":    AssetValue(asset.NewNonFungible(token, 1)),
			"price":   AssetList([]asset.Asset{asset.NewNative(1000)}),
		},
	}
}

func newVerifier(t testing.TB, signer common.Address) (*Verifier, *state.Manager) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	v := NewVerifier(testDomain(), NewNonceTable(mgr, verifying), FixedSigner(signer))
	return v, mgr
}

func nonce(b byte) [32]byte {
	var n [32]byte
	n[31] = b
	return n
}

func TestAuthorizeHappyPathAndReplay(t *testing.T) {
	key := mustKey(t, 0x11)
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	v, _ := newVerifier(t, signer)
	order := Order{Nonce: nonce(1)}
	order.ExternalID.SetUint64(123)
	msg := purchaseMessage(order)
	sig, err := Sign(key, v.Domain(), msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := v.AuthorizeOrder(order, msg, sig)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if got != signer {
		t.Fatalf("recovered %s, want %s", got.Hex(), signer.Hex())
	}
	if _, err := v.AuthorizeOrder(order, msg, sig); !errors.Is(err, coreerrors.ErrNonceReused) {
		t.Fatalf("expected NonceReused, got %v", err)
	}
}

func TestAuthorizeCheckOrder(t *testing.T) {
	key := mustKey(t, 0x11)
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	v, _ := newVerifier(t, signer)
	v.SetNowFunc(func() int64 { return 1_000 })

	expired := Order{Nonce: nonce(2), ExpiresAt: 999}
	if _, err := v.AuthorizeOrder(expired, purchaseMessage(expired), []byte{0x01}); !errors.Is(err, coreerrors.ErrOrderExpired) {
		t.Fatalf("expiry must be checked before the signature, got %v", err)
	}

	if err := v.Nonces().Consume(nonce(3)); err != nil {
		t.Fatalf("consume: %v", err)
	}
	reused := Order{Nonce: nonce(3)}
	if _, err := v.AuthorizeOrder(reused, purchaseMessage(reused), []byte{0x01}); !errors.Is(err, coreerrors.ErrNonceReused) {
		t.Fatalf("nonce must be checked before the signature, got %v", err)
	}

	fresh := Order{Nonce: nonce(4)}
	if _, err := v.AuthorizeOrder(fresh, purchaseMessage(fresh), []byte{0x01}); !errors.Is(err, coreerrors.ErrInvalidSignature) {
		t.Fatalf("expected InvalidSignature, got %v", err)
	}
	if used, _ := v.Nonces().Used(nonce(4)); used {
		t.Fatalf("failed authorization must not consume the nonce")
	}
}

func TestAuthorizeRejectsTamperingAndStrangers(t *testing.T) {
	key := mustKey(t, 0x11)
	stranger := mustKey(t, 0x22)
	v, _ := newVerifier(t, ethcrypto.PubkeyToAddress(key.PublicKey))

	order := Order{Nonce: nonce(5)}
	msg := purchaseMessage(order)
	sig, err := Sign(key, v.Domain(), msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tampered := purchaseMessage(order)
	tampered.Value["price"] = AssetList([]asset.Asset{asset.NewNative(1)})
	if _, err := v.AuthorizeOrder(order, tampered, sig); !errors.Is(err, coreerrors.ErrInvalidSignature) {
		t.Fatalf("tampered price must fail, got %v", err)
	}

	otherSig, err := Sign(stranger, v.Domain(), msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.AuthorizeOrder(order, msg, otherSig); !errors.Is(err, coreerrors.ErrInvalidSignature) {
		t.Fatalf("unauthorized signer must fail, got %v", err)
	}

	otherDomain := testDomain()
	otherDomain.ChainID = big.NewInt(1)
	crossSig, err := Sign(key, otherDomain, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.AuthorizeOrder(order, msg, crossSig); !errors.Is(err, coreerrors.ErrInvalidSignature) {
		t.Fatalf("signatures from another domain must fail, got %v", err)
	}
}

func TestRoleSigners(t *testing.T) {
	key := mustKey(t, 0x33)
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	mgr := state.NewManager(storage.NewMemDB())
	roles := access.NewRegistry(mgr)
	v := NewVerifier(testDomain(), NewNonceTable(mgr, verifying), RoleSigners(roles, verifying, access.DefaultAdminRole))

	order := Order{Nonce: nonce(6)}
	msg := purchaseMessage(order)
	sig, err := Sign(key, v.Domain(), msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.AuthorizeOrder(order, msg, sig); !errors.Is(err, coreerrors.ErrInvalidSignature) {
		t.Fatalf("signer without role must fail, got %v", err)
	}
	if err := roles.Bootstrap(verifying, signer); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := v.AuthorizeOrder(order, msg, sig); err != nil {
		t.Fatalf("admin signer must pass: %v", err)
	}
}

func TestRecoverRejectsMalformedSignatures(t *testing.T) {
	msg := purchaseMessage(Order{})
	if _, err := Recover(testDomain(), msg, make([]byte, 64)); !errors.Is(err, coreerrors.ErrInvalidSignature) {
		t.Fatalf("short signatures must fail")
	}
	if _, err := Recover(testDomain(), msg, make([]byte, 65)); !errors.Is(err, coreerrors.ErrInvalidSignature) {
		t.Fatalf("zero signatures must fail")
	}
}

func TestOrderJSON(t *testing.T) {
	raw := []byte(`{"nonce":"0x0000000000000000000000000000000000000000000000000000000000000007","externalId":"123","expiresAt":"0","referrer":"0x0000000000000000000000000000000000000000"}`)
	var order Order
	if err := order.UnmarshalJSON(raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if order.Nonce != nonce(7) || order.ExternalID.Uint64() != 123 || order.ExpiresAt != 0 {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.HasReferrer(account) {
		t.Fatalf("zero referrer is not a referrer")
	}
	if err := order.UnmarshalJSON([]byte(`{"nonce":"0x01"}`)); err == nil {
		t.Fatalf("short nonces must be rejected")
	}
}

// P1: however many times an order is replayed, exactly one authorization
// succeeds.
func TestNonceUniquenessProperty(t *testing.T) {
	key := mustKey(t, 0x11)
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("a nonce authorizes at most once", prop.ForAll(
		func(seed uint8, attempts int) bool {
			v, _ := newVerifier(t, signer)
			order := Order{Nonce: nonce(seed)}
			msg := purchaseMessage(order)
			sig, err := Sign(key, v.Domain(), msg)
			if err != nil {
				return false
			}
			successes := 0
			for i := 0; i < attempts; i++ {
				_, err := v.AuthorizeOrder(order, msg, sig)
				switch {
				case err == nil:
					successes++
				case !errors.Is(err, coreerrors.ErrNonceReused):
					return false
				}
			}
			return successes == 1
		},
		gen.UInt8(),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

// P2: an order expiring at T authorizes at any time up to T and fails after.
func TestExpiryProperty(t *testing.T) {
	key := mustKey(t, 0x11)
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("expiry is inclusive", prop.ForAll(
		func(expiresAt uint32, now uint32) bool {
			v, _ := newVerifier(t, signer)
			v.SetNowFunc(func() int64 { return int64(now) })
			order := Order{Nonce: nonce(9), ExpiresAt: uint64(expiresAt)}
			msg := purchaseMessage(order)
			sig, err := Sign(key, v.Domain(), msg)
			if err != nil {
				return false
			}
			_, err = v.AuthorizeOrder(order, msg, sig)
			if now <= expiresAt {
				return err == nil
			}
			return errors.Is(err, coreerrors.ErrOrderExpired)
		},
		gen.UInt32Range(1, 1<<20),
		gen.UInt32Range(0, 1<<21),
	))

	properties.TestingRun(t)
}
