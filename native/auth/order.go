// Package auth verifies off-chain signed, replay protected authorizations.
package auth

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"assetmech/native/asset"
)

// Order is the replay-protected envelope attached to every signed request.
type Order struct {
	Nonce      [32]byte
	ExternalID uint256.Int
	// ExpiresAt is a unix timestamp; zero never expires.
	ExpiresAt uint64
	Referrer  common.Address
}

// Value renders the order as a Params struct value.
func (o Order) Value() map[string]interface{} {
	return map[string]interface{}{
		"nonce":      o.Nonce[:],
		"externalId": o.ExternalID.ToBig(),
		"expiresAt":  new(big.Int).SetUint64(o.ExpiresAt),
		"referrer":   o.Referrer.Hex(),
	}
}

type wireOrder struct {
	Nonce      string `json:"nonce"`
	ExternalID string `json:"externalId"`
	ExpiresAt  string `json:"expiresAt"`
	Referrer   string `json:"referrer"`
}

// MarshalJSON renders the order in its wire shape.
func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireOrder{
		Nonce:      "0x" + hex.EncodeToString(o.Nonce[:]),
		ExternalID: o.ExternalID.Dec(),
		ExpiresAt:  strconv.FormatUint(o.ExpiresAt, 10),
		Referrer:   o.Referrer.Hex(),
	})
}

// UnmarshalJSON parses the wire shape.
func (o *Order) UnmarshalJSON(data []byte) error {
	var w wireOrder
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	nonce, err := hex.DecodeString(strings.TrimPrefix(w.Nonce, "0x"))
	if err != nil || len(nonce) != 32 {
		return fmt.Errorf("auth: nonce must be 32 bytes")
	}
	copy(o.Nonce[:], nonce)
	externalID, err := asset.ParseQuantity(w.ExternalID)
	if err != nil {
		return fmt.Errorf("auth: externalId: %w", err)
	}
	o.ExternalID = *externalID
	expires, err := asset.ParseQuantity(w.ExpiresAt)
	if err != nil {
		return fmt.Errorf("auth: expiresAt: %w", err)
	}
	if !expires.IsUint64() {
		return fmt.Errorf("auth: expiresAt out of range")
	}
	o.ExpiresAt = expires.Uint64()
	if w.Referrer != "" {
		if !common.IsHexAddress(w.Referrer) {
			return fmt.Errorf("auth: bad referrer %q", w.Referrer)
		}
		o.Referrer = common.HexToAddress(w.Referrer)
	}
	return nil
}

// HasReferrer reports whether a referrer other than account is set.
func (o Order) HasReferrer(account common.Address) bool {
	return o.Referrer != (common.Address{}) && o.Referrer != account
}
