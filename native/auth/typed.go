package auth

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	coreerrors "assetmech/core/errors"
	"assetmech/native/asset"
)

// Domain separates signatures between deployments and chains.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Message is the structured payload being signed, excluding the domain.
type Message struct {
	PrimaryType string
	Types       apitypes.Types
	Value       apitypes.TypedDataMessage
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// ParamsType is the struct definition shared by every order-carrying message.
var ParamsType = []apitypes.Type{
	{Name: "nonce", Type: "bytes32"},
	{Name: "externalId", Type: "uint256"},
	{Name: "expiresAt", Type: "uint256"},
	{Name: "referrer", Type: "address"},
}

// AssetType is the struct definition of an asset leg.
var AssetType = []apitypes.Type{
	{Name: "tokenType", Type: "uint256"},
	{Name: "token", Type: "address"},
	{Name: "tokenId", Type: "uint256"},
	{Name: "amount", Type: "uint256"},
}

// AssetValue renders a for inclusion in a typed message.
func AssetValue(a asset.Asset) map[string]interface{} {
	return map[string]interface{}{
		"tokenType": big.NewInt(int64(a.Kind)),
		"token":     a.Token.Hex(),
		"tokenId":   a.Identifier.ToBig(),
		"amount":    a.Quantity.ToBig(),
	}
}

// AssetList renders a list of assets for an Asset[] field.
func AssetList(list []asset.Asset) []interface{} {
	out := make([]interface{}, len(list))
	for i, a := range list {
		out[i] = AssetValue(a)
	}
	return out
}

func (d Domain) typedData(msg Message) apitypes.TypedData {
	types := make(apitypes.Types, len(msg.Types)+1)
	for name, fields := range msg.Types {
		types[name] = fields
	}
	types["EIP712Domain"] = domainType
	chainID := d.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return apitypes.TypedData{
		Types:       types,
		PrimaryType: msg.PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: msg.Value,
	}
}

// Digest returns the EIP-712 hash of msg under d.
func (d Domain) Digest(msg Message) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(d.typedData(msg))
	if err != nil {
		return common.Hash{}, fmt.Errorf("auth: hash typed data: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// Sign produces a 65-byte [R || S || V] signature with V in {27, 28}.
func Sign(key *ecdsa.PrivateKey, d Domain, msg Message) ([]byte, error) {
	digest, err := d.Digest(msg)
	if err != nil {
		return nil, err
	}
	sig, err := ethcrypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// Recover returns the address that signed msg under d. Malformed and
// high-S signatures fail with InvalidSignature.
func Recover(d Domain, msg Message, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("%w: length %d", coreerrors.ErrInvalidSignature, len(signature))
	}
	sig := append([]byte(nil), signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !ethcrypto.ValidateSignatureValues(sig[64], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: malformed signature values", coreerrors.ErrInvalidSignature)
	}
	digest, err := d.Digest(msg)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", coreerrors.ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
