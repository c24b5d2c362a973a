package exchange

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"assetmech/native/asset"
	"assetmech/native/auth"
)

// PurchaseMessage is the signed payload of purchase and the grade operations:
// one item against a list of price legs.
func PurchaseMessage(account common.Address, order auth.Order, item asset.Asset, price []asset.Asset) auth.Message {
	return auth.Message{
		PrimaryType: "EIP712",
		Types: apitypes.Types{
			"EIP712": {
				{Name: "account", Type: "address"},
				{Name: "params", Type: "Params"},
				{Name: "item", Type: "Asset"},
				{Name: "price", Type: "Asset[]"},
			},
			"Params": auth.ParamsType,
			"Asset":  auth.AssetType,
		},
		Value: apitypes.TypedDataMessage{
			"account": account.Hex(),
			"params":  order.Value(),
			"item":    auth.AssetValue(item),
			"price":   auth.AssetList(price),
		},
	}
}

// ClaimMessage is the signed payload of claim: a list of items and no price.
func ClaimMessage(account common.Address, order auth.Order, items []asset.Asset) auth.Message {
	return auth.Message{
		PrimaryType: "EIP712",
		Types: apitypes.Types{
			"EIP712": {
				{Name: "account", Type: "address"},
				{Name: "params", Type: "Params"},
				{Name: "items", Type: "Asset[]"},
			},
			"Params": auth.ParamsType,
			"Asset":  auth.AssetType,
		},
		Value: apitypes.TypedDataMessage{
			"account": account.Hex(),
			"params":  order.Value(),
			"items":   auth.AssetList(items),
		},
	}
}
